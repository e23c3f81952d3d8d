package models

import (
	"time"

	"github.com/google/uuid"
)

// QueryHistoryEntry is a finished session recorded for similar-question retrieval.
type QueryHistoryEntry struct {
	ID         uuid.UUID `json:"id"`
	SessionID  uuid.UUID `json:"session_id"`
	SchemaName string    `json:"schema_name"`

	NaturalLanguage string `json:"natural_language"`
	SQL             string `json:"sql"`
	Success         bool   `json:"success"`

	RetryCount          int  `json:"retry_count"`
	RowCount            *int `json:"row_count,omitempty"`
	ExecutionDurationMs *int `json:"execution_duration_ms,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// QueryHistoryFilters narrows history listings.
type QueryHistoryFilters struct {
	SchemaName  string
	SuccessOnly bool
	Since       *time.Time
	Limit       int
}

// SimilarQuery is one advisory example returned by similarity retrieval.
type SimilarQuery struct {
	PastQuestion string  `json:"past_question"`
	PastSQL      string  `json:"past_sql"`
	Success      bool    `json:"success_flag"`
	Score        float64 `json:"score"`
}

// RelationshipHint is an advisory join path between two tables from graph insights.
type RelationshipHint struct {
	FromTable  string   `json:"from_table"`
	ToTable    string   `json:"to_table"`
	Via        []string `json:"via,omitempty"` // intermediate tables
	JoinColumn string   `json:"join_column,omitempty"`
	Depth      int      `json:"depth"`
	Source     string   `json:"source"` // "neo4j" or "foreign_key"
}
