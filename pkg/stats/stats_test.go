package stats_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/500Foods/Philement-sub005/pkg/stats"
)

func TestRecordTimeoutUpdatesSnapshot(t *testing.T) {
	t.Parallel()

	s := stats.New()
	s.RecordTimeout()
	s.RecordTimeout()
	s.RecordTimeout()

	assert.Equal(t, uint64(3), s.Snapshot().TotalTimeouts)
}

func TestConcurrentRecordTimeoutIsRaceFree(t *testing.T) {
	t.Parallel()

	s := stats.New()

	const goroutines = 8
	const perGoroutine = 1000

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				s.RecordTimeout()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, uint64(goroutines*perGoroutine), s.Snapshot().TotalTimeouts)
}

func TestObserveQueueDepthTracksPeakOnly(t *testing.T) {
	t.Parallel()

	s := stats.New()
	s.ObserveQueueDepth(3)
	s.ObserveQueueDepth(1)
	s.ObserveQueueDepth(7)
	s.ObserveQueueDepth(2)

	assert.Equal(t, 7, s.Snapshot().QueueDepthPeak)
}

func TestRecordQueryUpdatesSnapshot(t *testing.T) {
	t.Parallel()

	s := stats.New()
	s.RecordQuery()
	s.RecordQuery()

	assert.Equal(t, uint64(2), s.Snapshot().TotalQueries)
}

func TestRegistryExposesRegisteredCollectors(t *testing.T) {
	t.Parallel()

	s := stats.New()
	families, err := s.Registry().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	assert.NotEmpty(t, families)
}
