// Package repositories stores finished query sessions for similar-question retrieval.
package repositories

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ekaya-inc/ekaya-ask/pkg/models"
)

// DefaultListLimit applies when filters carry no limit.
const DefaultListLimit = 20

// MaxListLimit caps a single listing.
const MaxListLimit = 500

// QueryHistoryRepository provides data access for the query history.
type QueryHistoryRepository interface {
	Create(ctx context.Context, entry *models.QueryHistoryEntry) error
	List(ctx context.Context, filters models.QueryHistoryFilters) ([]*models.QueryHistoryEntry, error)
	DeleteOlderThan(ctx context.Context, schemaName string, cutoff time.Time) (int64, error)
}

// Querier is the subset of pgxpool.Pool the repository needs.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type queryHistoryRepository struct {
	db Querier
}

// NewQueryHistoryRepository creates a PostgreSQL-backed repository.
func NewQueryHistoryRepository(db Querier) QueryHistoryRepository {
	return &queryHistoryRepository{db: db}
}

var _ QueryHistoryRepository = (*queryHistoryRepository)(nil)

func (r *queryHistoryRepository) Create(ctx context.Context, entry *models.QueryHistoryEntry) error {
	prepareEntry(entry)

	query := `
		INSERT INTO query_history (
			id, session_id, schema_name,
			natural_language, sql, success,
			retry_count, row_count, execution_duration_ms,
			created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.db.Exec(ctx, query,
		entry.ID,
		entry.SessionID,
		entry.SchemaName,
		entry.NaturalLanguage,
		entry.SQL,
		entry.Success,
		entry.RetryCount,
		entry.RowCount,
		entry.ExecutionDurationMs,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create query history entry: %w", err)
	}

	return nil
}

func (r *queryHistoryRepository) List(ctx context.Context, filters models.QueryHistoryFilters) ([]*models.QueryHistoryEntry, error) {
	var conditions []string
	var args []any
	argIdx := 1

	if filters.SchemaName != "" {
		conditions = append(conditions, fmt.Sprintf("schema_name = $%d", argIdx))
		args = append(args, filters.SchemaName)
		argIdx++
	}

	if filters.SuccessOnly {
		conditions = append(conditions, "success")
	}

	if filters.Since != nil {
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", argIdx))
		args = append(args, *filters.Since)
		argIdx++
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	query := fmt.Sprintf(`
		SELECT id, session_id, schema_name,
		       natural_language, sql, success,
		       retry_count, row_count, execution_duration_ms,
		       created_at
		FROM query_history
		%s
		ORDER BY created_at DESC
		LIMIT $%d`, where, argIdx)
	args = append(args, listLimit(filters.Limit))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list query history entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.QueryHistoryEntry
	for rows.Next() {
		var entry models.QueryHistoryEntry
		err := rows.Scan(
			&entry.ID,
			&entry.SessionID,
			&entry.SchemaName,
			&entry.NaturalLanguage,
			&entry.SQL,
			&entry.Success,
			&entry.RetryCount,
			&entry.RowCount,
			&entry.ExecutionDurationMs,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan query history entry: %w", err)
		}
		entries = append(entries, &entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating query history entries: %w", err)
	}

	return entries, nil
}

func (r *queryHistoryRepository) DeleteOlderThan(ctx context.Context, schemaName string, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM query_history WHERE schema_name = $1 AND created_at < $2`,
		schemaName, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old query history: %w", err)
	}
	return tag.RowsAffected(), nil
}

// prepareEntry fills the ID and timestamp when the caller left them unset.
func prepareEntry(entry *models.QueryHistoryEntry) {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
}

func listLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}
