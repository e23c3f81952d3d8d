package mssql

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-ask/pkg/adapters/datasource"
)

func newMockExecutor(t *testing.T, timeout time.Duration) (*QueryExecutor, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewQueryExecutorFromDB(db, datasource.Options{StatementTimeout: timeout}, zap.NewNop()), mock
}

func TestQueryExecutor_Query(t *testing.T) {
	executor, mock := newMockExecutor(t, time.Second)

	rows := sqlmock.NewRowsWithColumnDefinition(
		sqlmock.NewColumn("vendorgroup").OfType("NVARCHAR", ""),
		sqlmock.NewColumn("total").OfType("MONEY", 0.0),
	).
		AddRow([]byte("Acme"), 120.5).
		AddRow([]byte("Globex"), 99.0)
	mock.ExpectQuery("SELECT TOP (10) * FROM (SELECT vendorgroup, SUM(total_amount) AS total FROM purchase_order GROUP BY vendorgroup) AS _limited").
		WillReturnRows(rows)

	result, err := executor.Query(context.Background(),
		"SELECT vendorgroup, SUM(total_amount) AS total FROM purchase_order GROUP BY vendorgroup", 10)

	require.NoError(t, err)
	assert.Equal(t, 2, result.RowCount)
	assert.Equal(t, []string{"vendorgroup", "total"}, result.ColumnNames())
	assert.Equal(t, "VARCHAR", result.Columns[0].Type)
	assert.Equal(t, "MONEY", result.Columns[1].Type)
	assert.Equal(t, "Acme", result.Rows[0]["vendorgroup"])
	assert.Equal(t, 120.5, result.Rows[0]["total"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryExecutor_DatabaseErrorIsVerbatim(t *testing.T) {
	executor, mock := newMockExecutor(t, 0)
	dbErr := errors.New("mssql: Invalid column name 'vendor_name'.")
	mock.ExpectQuery("SELECT TOP (1000) * FROM (SELECT vendor_name FROM purchase_order) AS _limited").
		WillReturnError(dbErr)

	_, err := executor.Query(context.Background(), "SELECT vendor_name FROM purchase_order", 0)

	require.Error(t, err)
	assert.Equal(t, "mssql: Invalid column name 'vendor_name'.", err.Error())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryExecutor_StatementTimeout(t *testing.T) {
	executor, mock := newMockExecutor(t, 20*time.Millisecond)
	mock.ExpectQuery("SELECT TOP (1000) * FROM (SELECT 1) AS _limited").
		WillDelayFor(time.Second).
		WillReturnRows(sqlmock.NewRows([]string{"x"}).AddRow(1))

	start := time.Now()
	_, err := executor.Query(context.Background(), "SELECT 1", 0)

	require.Error(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestQueryExecutor_CancelledContext(t *testing.T) {
	executor, mock := newMockExecutor(t, 0)
	mock.ExpectQuery("SELECT TOP (1000) * FROM (SELECT 1) AS _limited").
		WillDelayFor(time.Second).
		WillReturnRows(sqlmock.NewRows([]string{"x"}).AddRow(1))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := executor.Query(ctx, "SELECT 1", 0)

	require.Error(t, err)
}

func TestLimitWithTop(t *testing.T) {
	tests := []struct {
		name     string
		sql      string
		limit    int
		expected string
	}{
		{name: "plain select", sql: "SELECT 1", limit: 5, expected: "SELECT TOP (5) * FROM (SELECT 1) AS _limited"},
		{name: "default limit", sql: "SELECT 1", limit: -1, expected: "SELECT TOP (1000) * FROM (SELECT 1) AS _limited"},
		{name: "nested order by stays wrapped", sql: "SELECT a FROM (SELECT TOP 5 a FROM t ORDER BY a) s", limit: 5,
			expected: "SELECT TOP (5) * FROM (SELECT a FROM (SELECT TOP 5 a FROM t ORDER BY a) s) AS _limited"},
		{name: "order by", sql: "SELECT vendorgroup FROM purchase_order ORDER BY vendorgroup", limit: 10,
			expected: "SELECT TOP (10) vendorgroup FROM purchase_order ORDER BY vendorgroup"},
		{name: "distinct with order by", sql: "select distinct vendorgroup from purchase_order order by 1", limit: 10,
			expected: "select distinct TOP (10) vendorgroup from purchase_order order by 1"},
		{name: "cte", sql: "WITH v AS (SELECT vendor_id FROM purchase_order) SELECT vendor_id FROM v", limit: 10,
			expected: "WITH v AS (SELECT vendor_id FROM purchase_order) SELECT TOP (10) vendor_id FROM v"},
		{name: "existing top", sql: "SELECT TOP 3 a FROM t ORDER BY a", limit: 10, expected: "SELECT TOP 3 a FROM t ORDER BY a"},
		{name: "offset fetch", sql: "SELECT a FROM t ORDER BY a OFFSET 5 ROWS FETCH NEXT 5 ROWS ONLY", limit: 10,
			expected: "SELECT a FROM t ORDER BY a OFFSET 5 ROWS FETCH NEXT 5 ROWS ONLY"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, LimitWithTop(tt.sql, tt.limit))
		})
	}
}

func TestQueryExecutor_OrderedCTEIsLimitedInPlace(t *testing.T) {
	executor, mock := newMockExecutor(t, 0)
	mock.ExpectQuery("WITH v AS (SELECT vendor_id FROM purchase_order) SELECT TOP (2) vendor_id FROM v ORDER BY vendor_id").
		WillReturnRows(sqlmock.NewRows([]string{"vendor_id"}).AddRow(1).AddRow(2))

	result, err := executor.Query(context.Background(),
		"WITH v AS (SELECT vendor_id FROM purchase_order) SELECT vendor_id FROM v ORDER BY vendor_id", 2)

	require.NoError(t, err)
	assert.Equal(t, 2, result.RowCount)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryExecutor_CapsRowsWhenStatementIsUnchanged(t *testing.T) {
	executor, mock := newMockExecutor(t, 0)
	mock.ExpectQuery("SELECT TOP 50 a FROM t ORDER BY a").
		WillReturnRows(sqlmock.NewRows([]string{"a"}).AddRow(1).AddRow(2).AddRow(3))

	result, err := executor.Query(context.Background(), "SELECT TOP 50 a FROM t ORDER BY a", 2)

	require.NoError(t, err)
	assert.Equal(t, 2, result.RowCount)
}
