// Package prompts renders the prompts sent to the SQL generation backend.
package prompts

import (
	"fmt"
	"strings"

	"github.com/ekaya-inc/ekaya-ask/pkg/models"
)

// TableContext is one schema table as shown to the generator.
type TableContext struct {
	Name           string
	IsView         bool
	Relevance      float64
	Columns        []ColumnContext
	OmittedColumns int
}

// ColumnContext provides column details for SQL generation.
type ColumnContext struct {
	Name         string
	DataType     string
	IsNullable   bool
	IsPrimaryKey bool
	Mapped       bool // referenced by an accepted ontology mapping
}

// AttemptContext is a prior failed attempt the generator must not repeat.
type AttemptContext struct {
	Index int
	SQL   string
	Kind  string
	Error string
}

// SQLGenerationInput is everything that may appear in a generation prompt.
// Slices are rendered in order; callers decide what fits.
type SQLGenerationInput struct {
	Dialect       string
	Question      string
	History       []models.ConversationTurn
	Mappings      []models.ColumnMapping
	Unresolved    []string
	Tables        []TableContext
	OmittedTables int
	Relationships []models.RelationshipHint
	Examples      []models.SimilarQuery
	Attempts      []AttemptContext
}

// BuildSQLGenerationPrompt renders the user prompt for one generate call.
func BuildSQLGenerationPrompt(in SQLGenerationInput) string {
	var prompt strings.Builder

	prompt.WriteString("# Question\n\n")
	prompt.WriteString(in.Question)
	prompt.WriteString("\n\n")

	if in.Dialect != "" {
		prompt.WriteString(fmt.Sprintf("Target dialect: %s\n\n", in.Dialect))
	}

	if len(in.History) > 0 {
		prompt.WriteString("## Conversation So Far\n\n")
		for _, turn := range in.History {
			prompt.WriteString(fmt.Sprintf("- %s: %s\n", turn.Role, turn.Content))
		}
		prompt.WriteString("\n")
	}

	if len(in.Mappings) > 0 {
		prompt.WriteString("## Ontology Mappings\n\n")
		prompt.WriteString("These columns were matched to terms in the question. Prefer them.\n")
		for _, m := range in.Mappings {
			prompt.WriteString(fmt.Sprintf("- %s.%s → %s.%s (confidence %.2f",
				m.Concept, m.Property, m.Table, m.Column, m.Confidence))
			if m.MatchedBy != "" {
				prompt.WriteString(fmt.Sprintf(", %s", m.MatchedBy))
			}
			prompt.WriteString(")\n")
		}
		prompt.WriteString("\n")
	}

	if len(in.Unresolved) > 0 {
		prompt.WriteString(fmt.Sprintf("Unmatched terms: %s\n\n", strings.Join(in.Unresolved, ", ")))
	}

	if len(in.Tables) > 0 {
		prompt.WriteString("## Schema\n\n")
		for _, table := range in.Tables {
			kind := "table"
			if table.IsView {
				kind = "view"
			}
			prompt.WriteString(fmt.Sprintf("### %s (%s)\n", table.Name, kind))
			for _, col := range table.Columns {
				flags := ""
				if col.IsPrimaryKey {
					flags += " [PK]"
				}
				if col.Mapped {
					flags += " [mapped]"
				}
				if col.IsNullable {
					flags += " (nullable)"
				}
				prompt.WriteString(fmt.Sprintf("- %s %s%s\n", col.Name, col.DataType, flags))
			}
			if table.OmittedColumns > 0 {
				prompt.WriteString(fmt.Sprintf("- … %d more columns\n", table.OmittedColumns))
			}
			prompt.WriteString("\n")
		}
		if in.OmittedTables > 0 {
			prompt.WriteString(fmt.Sprintf("(%d less relevant tables omitted)\n\n", in.OmittedTables))
		}
	}

	if len(in.Relationships) > 0 {
		prompt.WriteString("## Join Hints\n\n")
		for _, h := range in.Relationships {
			path := h.FromTable
			for _, v := range h.Via {
				path += " → " + v
			}
			path += " → " + h.ToTable
			if h.JoinColumn != "" {
				prompt.WriteString(fmt.Sprintf("- %s on %s\n", path, h.JoinColumn))
			} else {
				prompt.WriteString(fmt.Sprintf("- %s\n", path))
			}
		}
		prompt.WriteString("\n")
	}

	if len(in.Examples) > 0 {
		prompt.WriteString("## Similar Past Questions\n\n")
		for _, ex := range in.Examples {
			outcome := "worked"
			if !ex.Success {
				outcome = "failed"
			}
			prompt.WriteString(fmt.Sprintf("- Q: %s\n  SQL (%s): %s\n", ex.PastQuestion, outcome, ex.PastSQL))
		}
		prompt.WriteString("\n")
	}

	if len(in.Attempts) > 0 {
		prompt.WriteString("## Previous Failed Attempts\n\n")
		prompt.WriteString("Do not repeat any of these statements.\n")
		for _, a := range in.Attempts {
			sqlText := a.SQL
			if sqlText == "" {
				sqlText = "(none)"
			}
			prompt.WriteString(fmt.Sprintf("%d. SQL: %s\n   %s: %s\n", a.Index, sqlText, a.Kind, a.Error))
		}
		prompt.WriteString("\n")
	}

	prompt.WriteString("Return ONLY the JSON, no additional text.\n")

	return prompt.String()
}

// BuildSQLGenerationSystemMessage returns the system message for the generator.
func BuildSQLGenerationSystemMessage(dialect string) string {
	if dialect == "" {
		dialect = "ANSI SQL"
	}
	return fmt.Sprintf(`You translate questions about a relational database into a single read-only %s SELECT statement.
Use only tables and columns listed in the schema. Never modify data.
Respond in JSON: {"sql": "<one statement, no trailing semicolon>", "explanation": "<one or two sentences>"}`, dialect)
}
