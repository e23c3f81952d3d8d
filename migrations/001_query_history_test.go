//go:build integration

package migrations_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-ask/pkg/testhelpers"
)

func Test_001_QueryHistory(t *testing.T) {
	historyDB := testhelpers.GetHistoryDB(t)
	ctx := context.Background()

	rows, err := historyDB.DB.Query(ctx, `
		SELECT column_name, data_type, is_nullable
		FROM information_schema.columns
		WHERE table_name = 'query_history'
		ORDER BY ordinal_position`)
	require.NoError(t, err)
	defer rows.Close()

	columns := map[string][2]string{}
	for rows.Next() {
		var name, dataType, nullable string
		require.NoError(t, rows.Scan(&name, &dataType, &nullable))
		columns[name] = [2]string{dataType, nullable}
	}
	require.NoError(t, rows.Err())

	assert.Equal(t, [2]string{"uuid", "NO"}, columns["id"])
	assert.Equal(t, [2]string{"text", "NO"}, columns["natural_language"])
	assert.Equal(t, [2]string{"boolean", "NO"}, columns["success"])
	assert.Equal(t, [2]string{"integer", "YES"}, columns["row_count"])
	assert.Equal(t, [2]string{"timestamp with time zone", "NO"}, columns["created_at"])
}
