package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/500Foods/Philement-sub005/pkg/engine"
	"github.com/500Foods/Philement-sub005/pkg/engine/enginetest"
	"github.com/500Foods/Philement-sub005/pkg/queue"
)

func newConnectedFake(t *testing.T) (*enginetest.FakeDriver, *engine.DatabaseHandle) {
	t.Helper()
	drv := enginetest.New()
	h, err := drv.Connect(context.Background(), &engine.ConnectionConfig{EngineTag: engine.TagSQLite})
	require.NoError(t, err)
	return drv, h
}

func TestSubmitRunsJobOnTierAndReturnsResult(t *testing.T) {
	t.Parallel()

	lead := queue.NewLead(queue.WithWorkersPerTier(1))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	lead.Start(ctx)
	defer lead.Stop()

	drv, h := newConnectedFake(t)

	result, err := lead.Submit(context.Background(), queue.TierFast, drv, h, &engine.QueryRequest{SQLTemplate: "SELECT 1"})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Len(t, drv.Queries, 1)
}

func TestSubmitToUnknownTierErrors(t *testing.T) {
	t.Parallel()

	lead := queue.NewLead()
	lead.Start(context.Background())
	defer lead.Stop()

	drv, h := newConnectedFake(t)

	_, err := lead.Submit(context.Background(), queue.Tier("nonexistent"), drv, h, &engine.QueryRequest{})
	assert.Error(t, err)
}

func TestSubmitWithNilDriverReportsNoDriver(t *testing.T) {
	t.Parallel()

	lead := queue.NewLead(queue.WithWorkersPerTier(1))
	lead.Start(context.Background())
	defer lead.Stop()

	result, err := lead.Submit(context.Background(), queue.TierCache, nil, &engine.DatabaseHandle{}, &engine.QueryRequest{})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, engine.ErrNoDriver, result.ErrorKind)
}

func TestSubmitRespectsContextCancellation(t *testing.T) {
	t.Parallel()

	lead := queue.NewLead(queue.WithWorkersPerTier(1))
	// Not started: nothing drains the tier's job channel, so Submit
	// must give up once ctx is done rather than block forever.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	drv, h := newConnectedFake(t)
	_, err := lead.Submit(ctx, queue.TierCache, drv, h, &engine.QueryRequest{SQLTemplate: "SELECT 1"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStatsSnapshotTracksProcessedJobs(t *testing.T) {
	t.Parallel()

	lead := queue.NewLead(queue.WithWorkersPerTier(1))
	lead.Start(context.Background())
	defer lead.Stop()

	drv, h := newConnectedFake(t)

	_, err := lead.Submit(context.Background(), queue.TierSlow, drv, h, &engine.QueryRequest{SQLTemplate: "SELECT 1"})
	require.NoError(t, err)

	stats := lead.StatsSnapshot()
	require.Len(t, stats, len(queue.Tiers))

	var found bool
	for _, s := range stats {
		if s.Tier == queue.TierSlow {
			found = true
			assert.Equal(t, int64(1), s.Processed)
			assert.Equal(t, int64(0), s.Failed)
		}
	}
	assert.True(t, found)
}

func TestTrackAndUntrackHealthCheck(t *testing.T) {
	t.Parallel()

	lead := queue.NewLead(queue.WithHeartbeat(10 * time.Millisecond))
	drv, h := newConnectedFake(t)

	lead.Track(h, drv)
	lead.Untrack(h)

	ctx, cancel := context.WithCancel(context.Background())
	lead.Start(ctx)
	time.Sleep(30 * time.Millisecond)
	cancel()
	lead.Stop()

	// Untracked before Start, so the heartbeat loop never touches h;
	// a successful Stop with no panic/deadlock is the assertion here.
}

func TestSpawnChildQueueHonorsBound(t *testing.T) {
	t.Parallel()

	lead := queue.NewLead(queue.WithWorkersPerTier(1), queue.WithMaxChildQueues(2))
	lead.Start(context.Background())
	defer lead.Stop()

	assert.True(t, lead.SpawnChildQueue(queue.TierFast))
	assert.True(t, lead.SpawnChildQueue(queue.TierSlow))
	assert.Equal(t, 2, lead.ChildQueueCount())

	// At the bound: spawn refuses and the counter stays put.
	assert.False(t, lead.SpawnChildQueue(queue.TierFast))
	assert.Equal(t, 2, lead.ChildQueueCount())
}

func TestSpawnChildQueueRefusesBeforeStart(t *testing.T) {
	t.Parallel()

	lead := queue.NewLead()
	assert.False(t, lead.SpawnChildQueue(queue.TierCache))
	assert.Equal(t, 0, lead.ChildQueueCount())
}

func TestLaunchAdditionalQueuesSpawnsPerTierCounts(t *testing.T) {
	t.Parallel()

	lead := queue.NewLead(queue.WithWorkersPerTier(1), queue.WithMaxChildQueues(8))
	lead.Start(context.Background())
	defer lead.Stop()

	ok := lead.LaunchAdditionalQueues(map[queue.Tier]int{
		queue.TierCache: 1,
		queue.TierFast:  2,
		queue.TierSlow:  1,
	})
	assert.True(t, ok)
	assert.Equal(t, 4, lead.ChildQueueCount())
}

func TestSubmitAfterStopReportsShutdownInProgress(t *testing.T) {
	t.Parallel()

	lead := queue.NewLead(queue.WithWorkersPerTier(1))
	lead.Start(context.Background())
	lead.Stop()

	drv, h := newConnectedFake(t)
	result, err := lead.Submit(context.Background(), queue.TierFast, drv, h, &engine.QueryRequest{SQLTemplate: "SELECT 1"})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, engine.ErrShutdownInProgress, result.ErrorKind)
}

func TestHeartbeatAdvances(t *testing.T) {
	t.Parallel()

	lead := queue.NewLead(queue.WithWorkersPerTier(1), queue.WithHeartbeat(10*time.Millisecond))
	lead.Start(context.Background())
	defer lead.Stop()

	first := lead.LastHeartbeat()
	require.False(t, first.IsZero())

	require.Eventually(t, func() bool {
		return lead.LastHeartbeat().After(first)
	}, time.Second, 5*time.Millisecond)
}

func TestStopAbandonsStuckWorkersAfterGrace(t *testing.T) {
	t.Parallel()

	lead := queue.NewLead(
		queue.WithWorkersPerTier(1),
		queue.WithShutdownGrace(50*time.Millisecond),
		queue.WithLogger(nil),
	)
	lead.Start(context.Background())

	drv, h := newConnectedFake(t)
	drv.Delay = 500 * time.Millisecond
	lead.Track(h, drv)

	// Park a worker inside the blocking driver call, then stop. The
	// worker is never preempted; Stop gives up after the grace period
	// instead of hanging on it.
	go lead.Submit(context.Background(), queue.TierFast, drv, h, &engine.QueryRequest{SQLTemplate: "SELECT 1"})
	time.Sleep(20 * time.Millisecond)

	start := time.Now()
	lead.Stop()
	assert.Less(t, time.Since(start), drv.Delay)
}

func TestStopDrainsInFlightWorkers(t *testing.T) {
	t.Parallel()

	lead := queue.NewLead(queue.WithWorkersPerTier(2))
	lead.Start(context.Background())

	drv, h := newConnectedFake(t)

	for i := 0; i < 5; i++ {
		_, err := lead.Submit(context.Background(), queue.TierMedium, drv, h, &engine.QueryRequest{SQLTemplate: "SELECT 1"})
		require.NoError(t, err)
	}

	lead.Stop()

	stats := lead.StatsSnapshot()
	for _, s := range stats {
		if s.Tier == queue.TierMedium {
			assert.Equal(t, int64(5), s.Processed)
		}
	}
}
