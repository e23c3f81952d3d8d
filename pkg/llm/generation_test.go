package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseGeneration(t *testing.T) {
	tests := []struct {
		name        string
		content     string
		wantSQL     string
		wantExplain string
		wantErr     error
	}{
		{
			name:        "plain object",
			content:     `{"sql": " SELECT 1 ", "explanation": " one "}`,
			wantSQL:     "SELECT 1",
			wantExplain: "one",
		},
		{
			name:        "fenced block",
			content:     "Here you go:\n```json\n{\"sql\": \"SELECT name FROM vendor\", \"explanation\": \"names\"}\n```\nLet me know.",
			wantSQL:     "SELECT name FROM vendor",
			wantExplain: "names",
		},
		{
			name:    "reasoning block first",
			content: "<think>maybe {\"sql\": \"DROP TABLE x\"}</think>\n{\"sql\": \"SELECT 2\"}",
			wantSQL: "SELECT 2",
		},
		{
			name:    "braces inside strings",
			content: `{"sql": "SELECT '}' AS brace", "explanation": "{"}`,
			wantSQL: "SELECT '}' AS brace", wantExplain: "{",
		},
		{
			name:    "object without sql is skipped",
			content: `{"note": {"nested": true}} then {"sql": "SELECT 3"}`,
			wantSQL: "SELECT 3",
		},
		{
			name:    "trailing prose",
			content: `{"sql": "SELECT 4"} hope this helps}`,
			wantSQL: "SELECT 4",
		},
		{
			name:    "prose only",
			content: "I cannot answer that.",
			wantErr: ErrNoGeneration,
		},
		{
			name:    "object without sql",
			content: `{"answer": "SELECT 1"}`,
			wantErr: ErrNoGeneration,
		},
		{
			name:    "blank sql",
			content: `{"sql": "   ", "explanation": "nothing"}`,
			wantErr: ErrEmptySQL,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseGeneration(tt.content)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantSQL, got.SQL)
			assert.Equal(t, tt.wantExplain, got.Explanation)
		})
	}
}

func TestParseGeneration_RejectsNonStringFields(t *testing.T) {
	_, err := ParseGeneration(`{"sql": 42}`)
	assert.ErrorContains(t, err, "sql field")

	_, err = ParseGeneration(`{"sql": "SELECT 1", "explanation": ["a"]}`)
	assert.ErrorContains(t, err, "explanation field")
}
