package migrate_test

import (
	"context"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/500Foods/Philement-sub005/pkg/engine"
	"github.com/500Foods/Philement-sub005/pkg/engine/enginetest"
	"github.com/500Foods/Philement-sub005/pkg/engine/sqlite"
	"github.com/500Foods/Philement-sub005/pkg/migrate"
)

func TestDecideMatchesSpecifiedTruthTable(t *testing.T) {
	t.Parallel()

	cases := []struct {
		available, loaded, applied int
		want                       migrate.Action
	}{
		{1000, 0, 0, migrate.ActionLoad},
		{1000, 1000, 0, migrate.ActionApply},
		{1000, 1000, 1000, migrate.ActionNone},
		{5, 3, 3, migrate.ActionLoad},
		{5, 5, 4, migrate.ActionApply},
	}

	for _, c := range cases {
		got := migrate.Decide(c.available, c.loaded, c.applied)
		assert.Equal(t, c.want, got, "available=%d loaded=%d applied=%d", c.available, c.loaded, c.applied)
	}
}

// fakeSource is a restartable in-memory MigrationSource used to drive
// migrate.Run without a real catalog table.
type fakeSource struct {
	mu      sync.Mutex
	records map[int]migrate.Record
	loaded  map[int]bool
	applied map[int]bool
}

func newFakeSource(recs ...migrate.Record) *fakeSource {
	s := &fakeSource{records: make(map[int]migrate.Record), loaded: make(map[int]bool), applied: make(map[int]bool)}
	for _, r := range recs {
		s.records[r.ID] = r
	}
	return s
}

func (s *fakeSource) AvailableIDs(context.Context) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids, nil
}

func (s *fakeSource) Load(_ context.Context, id int) (migrate.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[id], nil
}

func (s *fakeSource) MarkLoaded(_ context.Context, id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loaded[id] = true
	return nil
}

func (s *fakeSource) MarkApplied(_ context.Context, id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applied[id] = true
	return nil
}

func TestRunDrivesLoadThenApplyToNone(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	drv := enginetest.New()
	h, err := drv.Connect(ctx, &engine.ConnectionConfig{EngineTag: engine.TagSQLite})
	require.NoError(t, err)

	src := newFakeSource(
		migrate.Record{ID: 1, UpSQL: "CREATE TABLE t(id int)"},
		migrate.Record{ID: 2, UpSQL: "ALTER TABLE t ADD COLUMN name text"},
	)

	final, err := migrate.Run(ctx, drv, h, src, migrate.Watermarks{}, nil)
	require.NoError(t, err)
	assert.Equal(t, migrate.Watermarks{Available: 2, Loaded: 2, Applied: 2}, final)
	assert.True(t, src.loaded[1])
	assert.True(t, src.loaded[2])
	assert.True(t, src.applied[1])
	assert.True(t, src.applied[2])
}

func TestRunIsIdempotentAfterCleanCompletion(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	drv := enginetest.New()
	h, _ := drv.Connect(ctx, &engine.ConnectionConfig{EngineTag: engine.TagSQLite})

	src := newFakeSource(migrate.Record{ID: 1, UpSQL: "CREATE TABLE t(id int)"})

	first, err := migrate.Run(ctx, drv, h, src, migrate.Watermarks{}, nil)
	require.NoError(t, err)

	queriesBefore := len(drv.Queries)
	second, err := migrate.Run(ctx, drv, h, src, first, nil)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, queriesBefore, len(drv.Queries))
}

func TestRunStopsOnApplyFailureLeavingEarlierMigrationsApplied(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dbPath := ":memory:"
	drv := sqlite.New()
	h, err := drv.Connect(ctx, &engine.ConnectionConfig{EngineTag: engine.TagSQLite, Database: &dbPath})
	require.NoError(t, err)

	src := newFakeSource(
		migrate.Record{ID: 1, UpSQL: "CREATE TABLE t(id int)"},
		migrate.Record{ID: 2, UpSQL: "THIS IS NOT VALID SQL"},
	)

	_, err = migrate.Run(ctx, drv, h, src, migrate.Watermarks{}, nil)
	require.Error(t, err)

	var applyErr *migrate.ApplyFailedError
	require.ErrorAs(t, err, &applyErr)
	assert.Equal(t, 2, applyErr.ID)

	assert.True(t, src.applied[1])
	assert.False(t, src.applied[2])
}

// brokenSource fails every catalog read, standing in for a database
// whose migration tables cannot be queried.
type brokenSource struct{ fakeSource }

func (s *brokenSource) AvailableIDs(context.Context) ([]int, error) {
	return nil, assertAnError{}
}

func TestValidateSwallowsFailureOnEmptyDatabase(t *testing.T) {
	t.Parallel()

	wm, err := migrate.Validate(context.Background(), &brokenSource{}, migrate.Watermarks{}, nil)
	require.NoError(t, err)
	assert.Equal(t, migrate.Watermarks{}, wm)
}

func TestValidateSurfacesFailureOnNonEmptyDatabase(t *testing.T) {
	t.Parallel()

	seen := migrate.Watermarks{Available: 2, Loaded: 2, Applied: 1}
	_, err := migrate.Validate(context.Background(), &brokenSource{}, seen, nil)
	assert.Error(t, err)
}

func TestApplyFailedErrorWrapsUnderlyingError(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	drv := enginetest.New()
	h, _ := drv.Connect(ctx, &engine.ConnectionConfig{EngineTag: engine.TagSQLite})

	drv.NextErr = assertAnError{}

	src := newFakeSource(migrate.Record{ID: 1, UpSQL: "CREATE TABLE t(id int)"})

	_, err := migrate.Run(ctx, drv, h, src, migrate.Watermarks{}, nil)
	require.Error(t, err)

	var applyErr *migrate.ApplyFailedError
	require.ErrorAs(t, err, &applyErr)
	assert.Equal(t, 1, applyErr.ID)
	assert.EqualError(t, applyErr.Unwrap(), "forced failure")
}

type assertAnError struct{}

func (assertAnError) Error() string { return "forced failure" }
