package base

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/500Foods/Philement-sub005/pkg/engine"
)

// TestRowsToResultTruncatesAtCap drives the result-size cap: when the
// encoded envelope would outgrow maxDataJSONBytes mid-stream, the rows
// already encoded come back as valid JSON with Success still true.
func TestRowsToResultTruncatesAtCap(t *testing.T) {
	sqlDB, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer sqlDB.Close()

	ctx := context.Background()
	_, err = sqlDB.ExecContext(ctx, "CREATE TABLE t (id INTEGER, pad TEXT)")
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		_, err = sqlDB.ExecContext(ctx, "INSERT INTO t VALUES (?, 'xxxxxxxxxxxxxxxxxxxx')", i)
		require.NoError(t, err)
	}

	// Room for roughly three encoded rows, nowhere near all ten.
	saved := maxDataJSONBytes
	maxDataJSONBytes = 120
	defer func() { maxDataJSONBytes = saved }()

	result := RunQuery(ctx, sqlDB, "SELECT id, pad FROM t ORDER BY id", nil)
	require.True(t, result.Success)
	assert.Equal(t, engine.ErrAllocationFailure, result.ErrorKind)
	assert.Greater(t, result.RowCount, 0)
	assert.Less(t, result.RowCount, 10)

	var rows []map[string]any
	require.NoError(t, json.Unmarshal(result.DataJSON, &rows))
	assert.Len(t, rows, result.RowCount)
	assert.LessOrEqual(t, len(result.DataJSON), 120)
}
