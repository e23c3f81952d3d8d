package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-ask/pkg/adapters/datasource"
	sqlpolicy "github.com/ekaya-inc/ekaya-ask/pkg/sql"
)

// QueryExecutor provides SQL Server query execution.
type QueryExecutor struct {
	db               *sql.DB
	statementTimeout time.Duration
	logger           *zap.Logger
}

// NewQueryExecutor opens a SQL Server connection pool.
func NewQueryExecutor(cfg *Config, opts datasource.Options, logger *zap.Logger) (*QueryExecutor, error) {
	db, err := Open(cfg)
	if err != nil {
		return nil, err
	}
	return NewQueryExecutorFromDB(db, opts, logger), nil
}

// NewQueryExecutorFromDB wraps an existing *sql.DB. Close closes it.
func NewQueryExecutorFromDB(db *sql.DB, opts datasource.Options, logger *zap.Logger) *QueryExecutor {
	return &QueryExecutor{
		db:               db,
		statementTimeout: opts.StatementTimeout,
		logger:           logger.Named("mssql-executor"),
	}
}

// Dialect implements datasource.QueryExecutor.
func (e *QueryExecutor) Dialect() string {
	return "Microsoft SQL Server (T-SQL)"
}

// Close releases the connection pool.
func (e *QueryExecutor) Close() error {
	return e.db.Close()
}

// LimitWithTop bounds a statement using SQL Server's TOP clause.
//
// Plain statements are wrapped in a derived table. SQL Server rejects a
// derived table that contains a CTE or an ORDER BY without TOP, so for those
// TOP is injected into the main SELECT instead. Statements that already carry
// TOP or use OFFSET are left unchanged; Query still caps the rows it reads.
func LimitWithTop(sqlQuery string, limit int) string {
	n := datasource.EffectiveLimit(limit)
	start := sqlpolicy.MainStatementIndex(sqlQuery)
	if start < 0 {
		return sqlQuery
	}
	if !sqlpolicy.HasCTE(sqlQuery) && !sqlpolicy.HasTopLevelKeyword(sqlQuery, "ORDER") {
		return fmt.Sprintf("SELECT TOP (%d) * FROM (%s) AS _limited", n, sqlQuery)
	}
	if sqlpolicy.HasTopLevelKeyword(sqlQuery, "OFFSET") {
		return sqlQuery
	}
	return injectTop(sqlQuery, start, n)
}

// injectTop inserts TOP (n) after SELECT [DISTINCT | ALL] at offset start.
func injectTop(sqlQuery string, start, n int) string {
	rest := sqlQuery[start:]
	if !sqlpolicy.StartsWithKeyword(rest, "SELECT") {
		return sqlQuery
	}
	pos := start + len("SELECT")
	for _, modifier := range []string{"DISTINCT", "ALL"} {
		trimmed := strings.TrimLeft(sqlQuery[pos:], " \t\r\n")
		if sqlpolicy.StartsWithKeyword(trimmed, modifier) {
			pos = len(sqlQuery) - len(trimmed) + len(modifier)
			break
		}
	}
	if sqlpolicy.StartsWithKeyword(strings.TrimLeft(sqlQuery[pos:], " \t\r\n"), "TOP") {
		return sqlQuery
	}
	return fmt.Sprintf("%s TOP (%d)%s", sqlQuery[:pos], n, sqlQuery[pos:])
}

// Query runs a SELECT statement and returns bounded results.
// See datasource.QueryExecutor.Query for limit behavior.
//
// The statement timeout is applied as a context deadline; the driver sends an
// attention packet on cancellation so the server stops the statement.
func (e *QueryExecutor) Query(ctx context.Context, sqlQuery string, limit int) (*datasource.QueryExecutionResult, error) {
	if e.statementTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.statementTimeout)
		defer cancel()
	}

	rows, err := e.db.QueryContext(ctx, LimitWithTop(sqlQuery, limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columnNames, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("get columns: %w", err)
	}
	columnTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("get column types: %w", err)
	}

	columns := make([]datasource.ColumnInfo, len(columnNames))
	for i, colName := range columnNames {
		columns[i] = datasource.ColumnInfo{
			Name: colName,
			Type: mapSQLServerType(columnTypes[i].DatabaseTypeName()),
		}
	}

	maxRows := datasource.EffectiveLimit(limit)
	resultRows := make([]map[string]any, 0)
	for len(resultRows) < maxRows && rows.Next() {
		values := make([]any, len(columnNames))
		valuePtrs := make([]any, len(columnNames))
		for i := range values {
			valuePtrs[i] = &values[i]
		}
		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		rowMap := make(map[string]any, len(columnNames))
		for i, col := range columnNames {
			val := values[i]
			// Text columns may arrive as []byte.
			if b, ok := val.([]byte); ok && isStringType(columnTypes[i].DatabaseTypeName()) {
				val = string(b)
			}
			rowMap[col] = val
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

var _ datasource.QueryExecutor = (*QueryExecutor)(nil)
var _ datasource.SchemaProvider = (*SchemaProvider)(nil)
