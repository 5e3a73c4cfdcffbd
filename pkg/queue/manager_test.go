package queue_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/500Foods/Philement-sub005/pkg/engine"
	"github.com/500Foods/Philement-sub005/pkg/engine/enginetest"
	"github.com/500Foods/Philement-sub005/pkg/queue"
)

func enginetestDriver() *enginetest.FakeDriver { return enginetest.New() }

func TestManagerRegisterAndSubmitDirectQuery(t *testing.T) {
	t.Parallel()

	m := queue.NewManager(queue.WithWorkersPerTier(1))
	defer m.Shutdown(context.Background())

	_, err := m.Register(context.Background(), "primary", enginetestDriver(), &engine.ConnectionConfig{EngineTag: engine.TagSQLite}, 0, nil, nil)
	require.NoError(t, err)

	result, err := m.Submit(context.Background(), "primary", queue.TierFast, &engine.QueryRequest{SQLTemplate: "SELECT 1"})
	require.NoError(t, err)
	assert.True(t, result.Success)
}

func TestManagerSubmitUsesPreparedStatementCache(t *testing.T) {
	t.Parallel()

	m := queue.NewManager(queue.WithWorkersPerTier(1))
	defer m.Shutdown(context.Background())

	_, err := m.Register(context.Background(), "primary", enginetestDriver(), &engine.ConnectionConfig{EngineTag: engine.TagSQLite}, 2, nil, nil)
	require.NoError(t, err)

	name := "find_widget"
	req := &engine.QueryRequest{SQLTemplate: "SELECT * FROM widgets WHERE id = :id", PreparedName: &name}

	result, err := m.Submit(context.Background(), "primary", queue.TierFast, req)
	require.NoError(t, err)
	assert.True(t, result.Success)
}

func TestManagerSubmitToUnknownDesignatorErrors(t *testing.T) {
	t.Parallel()

	m := queue.NewManager()
	defer m.Shutdown(context.Background())

	_, err := m.Submit(context.Background(), "missing", queue.TierFast, &engine.QueryRequest{})
	assert.Error(t, err)
}

func TestManagerUnregisterDisconnectsAndPurges(t *testing.T) {
	t.Parallel()

	m := queue.NewManager()
	defer m.Shutdown(context.Background())

	drv := enginetestDriver()
	_, err := m.Register(context.Background(), "primary", drv, &engine.ConnectionConfig{EngineTag: engine.TagSQLite}, 0, nil, nil)
	require.NoError(t, err)

	name := "find_widget"
	_, err = m.Submit(context.Background(), "primary", queue.TierFast, &engine.QueryRequest{SQLTemplate: "SELECT 1", PreparedName: &name})
	require.NoError(t, err)
	require.Len(t, drv.Prepared, 1)

	require.NoError(t, m.Unregister(context.Background(), "primary"))
	assert.Equal(t, 1, drv.Disconnects)
	assert.Empty(t, drv.Prepared)

	_, err = m.Submit(context.Background(), "primary", queue.TierFast, &engine.QueryRequest{})
	assert.Error(t, err)
}

func TestManagerStatsForReflectsAllTiers(t *testing.T) {
	t.Parallel()

	m := queue.NewManager()
	defer m.Shutdown(context.Background())

	_, err := m.Register(context.Background(), "primary", enginetestDriver(), &engine.ConnectionConfig{EngineTag: engine.TagSQLite}, 0, nil, nil)
	require.NoError(t, err)

	stats, err := m.StatsFor("primary")
	require.NoError(t, err)
	assert.Len(t, stats, len(queue.Tiers))
}

func TestManagerRunMigrationTest(t *testing.T) {
	t.Parallel()

	m := queue.NewManager()
	defer m.Shutdown(context.Background())

	drv := enginetestDriver()
	_, err := m.Register(context.Background(), "primary", drv, &engine.ConnectionConfig{EngineTag: engine.TagSQLite}, 0, nil, nil)
	require.NoError(t, err)

	// Disabled flag and unknown database are both no-op successes.
	require.NoError(t, m.RunMigrationTest(context.Background(), "primary", false))
	require.NoError(t, m.RunMigrationTest(context.Background(), "missing", true))
	assert.Empty(t, drv.Queries)

	require.NoError(t, m.RunMigrationTest(context.Background(), "primary", true))
	assert.Len(t, drv.Queries, 1)
}

func TestManagerSnapshotAggregatesFleetCounters(t *testing.T) {
	t.Parallel()

	m := queue.NewManager(queue.WithWorkersPerTier(1))
	defer m.Shutdown(context.Background())

	_, err := m.Register(context.Background(), "primary", enginetestDriver(), &engine.ConnectionConfig{EngineTag: engine.TagSQLite}, 0, nil, nil)
	require.NoError(t, err)

	_, err = m.Submit(context.Background(), "primary", queue.TierFast, &engine.QueryRequest{SQLTemplate: "SELECT 1"})
	require.NoError(t, err)

	assert.Equal(t, uint64(1), m.Snapshot().TotalQueries)
}
