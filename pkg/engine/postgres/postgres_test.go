// SPDX-License-Identifier: Apache-2.0

package postgres_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/500Foods/Philement-sub005/internal/testutils"
	"github.com/500Foods/Philement-sub005/pkg/engine"
	"github.com/500Foods/Philement-sub005/pkg/engine/postgres"
)

func TestMain(m *testing.M) {
	testutils.SharedTestMain(m)
}

func TestConnectExecuteQueryAndTransaction(t *testing.T) {
	t.Parallel()

	testutils.WithConnectionToContainer(t, func(_ *sql.DB, connStr string) {
		ctx := context.Background()
		drv := postgres.New()

		cs := connStr
		h, err := drv.Connect(ctx, &engine.ConnectionConfig{EngineTag: engine.TagPostgreSQL, ConnectionString: &cs})
		require.NoError(t, err)
		defer drv.Disconnect(ctx, h)

		create := drv.ExecuteQuery(ctx, h, &engine.QueryRequest{SQLTemplate: "CREATE TABLE widgets (id INT, name TEXT)"})
		require.True(t, create.Success)

		params, err := json.Marshal(map[string]map[string]any{
			"INTEGER": {"id": 1},
			"STRING":  {"name": "sprocket"},
		})
		require.NoError(t, err)

		insert := drv.ExecuteQuery(ctx, h, &engine.QueryRequest{
			SQLTemplate:    "INSERT INTO widgets (id, name) VALUES (:id, :name)",
			ParametersJSON: params,
		})
		require.True(t, insert.Success)
		assert.Equal(t, int64(1), insert.AffectedRows)

		tx, err := drv.BeginTransaction(ctx, h, engine.ReadCommitted)
		require.NoError(t, err)
		require.NoError(t, drv.CommitTransaction(ctx, h, tx))
	})
}
