// SPDX-License-Identifier: Apache-2.0

// Package stats holds the fleet-level counters: total timeouts, total
// queries, and the peak observed queue depth, all mutated under a
// single stats lock. The same counters are exported to a private
// prometheus.Registry owned by the Stats block, so multiple fleets in
// one process never collide on the default registry.
package stats

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Snapshot is a value copy of the fleet counters at a point in time,
// safe to hand to a telemetry caller without further locking.
type Snapshot struct {
	TotalTimeouts  uint64
	TotalQueries   uint64
	QueueDepthPeak int
}

// Stats is the DatabaseQueueManager's counter block. The zero value is
// not usable; construct with New.
type Stats struct {
	mu sync.Mutex

	totalTimeouts  uint64
	totalQueries   uint64
	queueDepthPeak int

	registry     *prometheus.Registry
	timeoutsCtr  prometheus.Counter
	queriesCtr   prometheus.Counter
	queueDepthGg prometheus.Gauge
}

// New builds a Stats block with its own Prometheus registry so
// multiple fleets in the same process don't collide on metric names.
func New() *Stats {
	registry := prometheus.NewRegistry()

	s := &Stats{
		registry: registry,
		timeoutsCtr: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dbfleet_total_timeouts",
			Help: "Total QueryRequest timeouts observed across the fleet.",
		}),
		queriesCtr: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dbfleet_total_queries",
			Help: "Total QueryRequests executed across the fleet.",
		}),
		queueDepthGg: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dbfleet_queue_depth_peak",
			Help: "Highest observed tier queue depth across the fleet.",
		}),
	}

	registry.MustRegister(s.timeoutsCtr, s.queriesCtr, s.queueDepthGg)
	return s
}

// Registry exposes the private Prometheus registry for a metrics
// HTTP handler to serve.
func (s *Stats) Registry() *prometheus.Registry { return s.registry }

// RecordTimeout increments total_timeouts after a worker observes a
// request exceed its timeout budget.
func (s *Stats) RecordTimeout() {
	s.mu.Lock()
	s.totalTimeouts++
	s.mu.Unlock()
	s.timeoutsCtr.Inc()
}

// RecordQuery increments total_queries.
func (s *Stats) RecordQuery() {
	s.mu.Lock()
	s.totalQueries++
	s.mu.Unlock()
	s.queriesCtr.Inc()
}

// ObserveQueueDepth records depth as the new queue_depth_peak if it
// exceeds the current one.
func (s *Stats) ObserveQueueDepth(depth int) {
	s.mu.Lock()
	if depth > s.queueDepthPeak {
		s.queueDepthPeak = depth
		s.mu.Unlock()
		s.queueDepthGg.Set(float64(depth))
		return
	}
	s.mu.Unlock()
}

// Snapshot returns a value copy of the current counters.
func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		TotalTimeouts:  s.totalTimeouts,
		TotalQueries:   s.totalQueries,
		QueueDepthPeak: s.queueDepthPeak,
	}
}
