package datasource

import (
	"context"
	"time"

	"github.com/ekaya-inc/ekaya-ask/pkg/models"
)

// SchemaProvider supplies table, view, and column metadata for a schema.
// Each implementation owns its connection and must be closed when done.
type SchemaProvider interface {
	// GetSnapshot reads the current metadata of the named schema.
	// The returned snapshot has Version 0; versions are assigned by the schema cache.
	GetSnapshot(ctx context.Context, schemaName string) (*models.SchemaSnapshot, error)

	// Close releases the database connection.
	Close() error
}

// MaxQueryLimit is the hard cap on rows returned by Query.
// This protects against unbounded queries that could crash the server.
const MaxQueryLimit = 1000

// QueryExecutor runs generated read-only statements.
// Each implementation owns its connection and must be closed when done.
type QueryExecutor interface {
	// Query runs a SELECT statement and returns bounded results.
	// The query is ALWAYS wrapped with a dialect-specific limit:
	//   - PostgreSQL: SELECT * FROM (query) AS _limited LIMIT n
	//   - SQL Server: SELECT TOP (n) * FROM (query) AS _limited
	//
	// The statement runs under the executor's statement timeout and is
	// aborted when ctx is cancelled.
	Query(ctx context.Context, sqlQuery string, limit int) (*QueryExecutionResult, error)

	// Dialect names the SQL dialect, used in generation prompts.
	Dialect() string

	// Close releases any resources held by the executor.
	Close() error
}

// ColumnInfo describes a result column with database-agnostic type information.
type ColumnInfo struct {
	Name string `json:"name"`
	Type string `json:"type"` // Database type name (e.g., "TEXT", "INT4", "VARCHAR")
}

// QueryExecutionResult holds the results from executing a query.
type QueryExecutionResult struct {
	Columns  []ColumnInfo     `json:"columns"`
	Rows     []map[string]any `json:"rows"`
	RowCount int              `json:"row_count"`
}

// ColumnNames returns the result column names in order.
func (r *QueryExecutionResult) ColumnNames() []string {
	names := make([]string, len(r.Columns))
	for i, c := range r.Columns {
		names[i] = c.Name
	}
	return names
}

// Options are adapter settings that do not come from the connection config.
type Options struct {
	// StatementTimeout bounds each executed statement. Zero means no bound
	// beyond the caller's context.
	StatementTimeout time.Duration
}

// EffectiveLimit clamps a requested row limit to (0, MaxQueryLimit].
//   - limit <= 0: uses MaxQueryLimit
//   - limit > MaxQueryLimit: capped to MaxQueryLimit
func EffectiveLimit(limit int) int {
	if limit <= 0 || limit > MaxQueryLimit {
		return MaxQueryLimit
	}
	return limit
}
