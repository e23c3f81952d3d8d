package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Generation is the statement and explanation a model returns for one prompt.
type Generation struct {
	SQL         string `json:"sql"`
	Explanation string `json:"explanation"`
}

var (
	// ErrNoGeneration means no JSON object with a "sql" field was found.
	ErrNoGeneration = errors.New("no generation object in response")
	// ErrEmptySQL means the object was found but its "sql" field is blank.
	ErrEmptySQL = errors.New("empty sql")
)

var (
	// reasoningBlockPattern matches <think> blocks emitted by reasoning models.
	reasoningBlockPattern = regexp.MustCompile(`(?s)<think>.*?</think>`)
	fencedBlockPattern    = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*(.*?)```")
)

// ParseGeneration reads a Generation from model output. Reasoning blocks are
// dropped and fenced code blocks are searched before the surrounding text.
// The first JSON object carrying a "sql" key wins; "sql" and "explanation"
// must be strings and both are trimmed.
func ParseGeneration(content string) (*Generation, error) {
	cleaned := reasoningBlockPattern.ReplaceAllString(content, "")

	var candidates []string
	for _, m := range fencedBlockPattern.FindAllStringSubmatch(cleaned, -1) {
		candidates = append(candidates, m[1])
	}
	candidates = append(candidates, cleaned)

	for _, text := range candidates {
		fields, ok := firstObjectWithSQL(text)
		if !ok {
			continue
		}
		gen := &Generation{}
		if err := json.Unmarshal(fields["sql"], &gen.SQL); err != nil {
			return nil, fmt.Errorf("sql field: %w", err)
		}
		if raw, ok := fields["explanation"]; ok {
			if err := json.Unmarshal(raw, &gen.Explanation); err != nil {
				return nil, fmt.Errorf("explanation field: %w", err)
			}
		}
		gen.SQL = strings.TrimSpace(gen.SQL)
		gen.Explanation = strings.TrimSpace(gen.Explanation)
		if gen.SQL == "" {
			return nil, ErrEmptySQL
		}
		return gen, nil
	}
	return nil, ErrNoGeneration
}

// firstObjectWithSQL decodes JSON objects starting at each '{' in text, in
// order, and returns the fields of the first one that has a "sql" key.
// Trailing prose after an object is ignored.
func firstObjectWithSQL(text string) (map[string]json.RawMessage, bool) {
	for i := 0; i < len(text); i++ {
		if text[i] != '{' {
			continue
		}
		dec := json.NewDecoder(strings.NewReader(text[i:]))
		var fields map[string]json.RawMessage
		if err := dec.Decode(&fields); err != nil {
			continue
		}
		if _, ok := fields["sql"]; ok {
			return fields, true
		}
		// Skip past this object so nested braces are not decoded again.
		i += int(dec.InputOffset()) - 1
	}
	return nil, false
}
