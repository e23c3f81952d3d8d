package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-ask/pkg/adapters/datasource"
)

// QueryExecutor runs generated statements inside read-only transactions.
type QueryExecutor struct {
	pool             *pgxpool.Pool
	ownedPool        bool
	statementTimeout time.Duration
	typeMap          *pgtype.Map
	logger           *zap.Logger
}

// NewQueryExecutor connects with its own pool.
func NewQueryExecutor(ctx context.Context, cfg *Config, opts datasource.Options, logger *zap.Logger) (*QueryExecutor, error) {
	pool, err := pgxpool.New(ctx, cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	e := NewQueryExecutorFromPool(pool, opts, logger)
	e.ownedPool = true
	return e, nil
}

// NewQueryExecutorFromPool reuses an existing pool; Close leaves it open.
func NewQueryExecutorFromPool(pool *pgxpool.Pool, opts datasource.Options, logger *zap.Logger) *QueryExecutor {
	return &QueryExecutor{
		pool:             pool,
		statementTimeout: opts.StatementTimeout,
		typeMap:          pgtype.NewMap(),
		logger:           logger.Named("postgres-executor"),
	}
}

// Dialect implements datasource.QueryExecutor.
func (e *QueryExecutor) Dialect() string {
	return "PostgreSQL"
}

// Close releases the pool if this executor created it.
func (e *QueryExecutor) Close() error {
	if e.ownedPool {
		e.pool.Close()
	}
	return nil
}

// WrapWithLimit bounds a statement with an outer LIMIT.
func WrapWithLimit(sqlQuery string, limit int) string {
	return fmt.Sprintf("SELECT * FROM (%s) AS _limited LIMIT %d", sqlQuery, datasource.EffectiveLimit(limit))
}

// Query runs a SELECT statement and returns bounded results.
// See datasource.QueryExecutor.Query for limit behavior.
//
// The statement runs in a READ ONLY transaction with SET LOCAL statement_timeout,
// and under a context deadline of the same length. Cancelling ctx makes pgx send a
// cancel request, so the server-side statement does not outlive the call.
func (e *QueryExecutor) Query(ctx context.Context, sqlQuery string, limit int) (*datasource.QueryExecutionResult, error) {
	if e.statementTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.statementTimeout)
		defer cancel()
	}

	tx, err := e.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("begin read-only transaction: %w", err)
	}
	defer func() {
		// Rollback must run even when ctx is already cancelled.
		if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			e.logger.Warn("Rollback failed", zap.Error(rbErr))
		}
	}()

	if e.statementTimeout > 0 {
		if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL statement_timeout = %d", e.statementTimeout.Milliseconds())); err != nil {
			return nil, fmt.Errorf("set statement timeout: %w", err)
		}
	}

	rows, err := tx.Query(ctx, WrapWithLimit(sqlQuery, limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fieldDescs := rows.FieldDescriptions()
	columns := make([]datasource.ColumnInfo, len(fieldDescs))
	for i, fd := range fieldDescs {
		columns[i] = datasource.ColumnInfo{
			Name: fd.Name,
			Type: e.typeName(fd.DataTypeOID),
		}
	}

	resultRows := make([]map[string]any, 0)
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("read row values: %w", err)
		}
		rowMap := make(map[string]any, len(columns))
		for i, col := range columns {
			rowMap[col.Name] = values[i]
		}
		resultRows = append(resultRows, rowMap)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &datasource.QueryExecutionResult{
		Columns:  columns,
		Rows:     resultRows,
		RowCount: len(resultRows),
	}, nil
}

func (e *QueryExecutor) typeName(oid uint32) string {
	if t, ok := e.typeMap.TypeForOID(oid); ok {
		return t.Name
	}
	return fmt.Sprintf("oid:%d", oid)
}

var _ datasource.QueryExecutor = (*QueryExecutor)(nil)
var _ datasource.SchemaProvider = (*SchemaProvider)(nil)
