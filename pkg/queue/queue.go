// SPDX-License-Identifier: Apache-2.0

// Package queue implements the Lead + tiered worker fleet: a
// context-cancellable Start/Stop lifecycle, goroutine-per-worker
// pools draining an in-process channel of QueryRequest jobs across
// four fixed latency tiers, and atomic counters for observability.
package queue

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/500Foods/Philement-sub005/internal/logging"
	"github.com/500Foods/Philement-sub005/pkg/engine"
	"github.com/500Foods/Philement-sub005/pkg/stats"
)

// Tier is one of the four worker latency classes a job can be routed
// to.
type Tier string

const (
	TierCache  Tier = "cache"
	TierFast   Tier = "fast"
	TierMedium Tier = "medium"
	TierSlow   Tier = "slow"
)

// Tiers lists every tier, from cache to slow. Each tier is dispatched
// independently; the order carries no priority.
var Tiers = []Tier{TierCache, TierFast, TierMedium, TierSlow}

// DefaultWorkersPerTier is how many workers each tier starts with
// before any additional queues are spawned.
const DefaultWorkersPerTier = 2

// Job is a single unit of work routed to a tier's worker pool. A
// non-nil Stmt means the job runs against an already-prepared
// statement rather than executing Request directly.
type Job struct {
	ID      uuid.UUID
	Tier    Tier
	Driver  engine.Driver
	Handle  *engine.DatabaseHandle
	Stmt    *engine.PreparedStatement
	Request *engine.QueryRequest

	result chan *engine.QueryResult
}

// pool is a worker group draining a single tier's job channel.
type pool struct {
	tier    Tier
	jobs    chan *Job
	workers int
	stats   *stats.Stats
	log     *logging.Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc

	processed atomic.Int64
	failed    atomic.Int64
}

func newPool(tier Tier, workers, buffer int, s *stats.Stats) *pool {
	return &pool{tier: tier, jobs: make(chan *Job, buffer), workers: workers, stats: s}
}

func (p *pool) start(ctx context.Context) context.Context {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.run(ctx)
	}
	return ctx
}

// addWorker grows the pool by one goroutine draining the same tier
// channel. Only the Lead calls this, under its children lock.
func (p *pool) addWorker(ctx context.Context) {
	p.wg.Add(1)
	go p.run(ctx)
}

func (p *pool) run(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			p.process(ctx, job)
		}
	}
}

// process runs job, enforcing job.Request.TimeoutMS when set. A
// worker that observes driver blocking beyond that budget reports
// ErrTimeout, records it on the shared stats block, and resets the
// connection before the pool services its next job.
func (p *pool) process(ctx context.Context, job *Job) {
	if job.Driver == nil {
		job.result <- engine.FailureResult(engine.ErrNoDriver, "queue: job has no driver")
		p.failed.Add(1)
		return
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if job.Request.TimeoutMS > 0 {
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(job.Request.TimeoutMS)*time.Millisecond)
		defer cancel()
	}

	var result *engine.QueryResult
	if job.Stmt != nil {
		result = job.Driver.ExecutePrepared(runCtx, job.Handle, job.Stmt, job.Request)
	} else {
		result = job.Driver.ExecuteQuery(runCtx, job.Handle, job.Request)
	}

	if runCtx.Err() == context.DeadlineExceeded {
		result = engine.FailureResult(engine.ErrTimeout, "queue: request exceeded its timeout budget")
		p.failed.Add(1)
		if p.stats != nil {
			p.stats.RecordTimeout()
		}
		p.log.Error("request %s timed out after %dms; resetting connection %s", job.ID, job.Request.TimeoutMS, job.Handle.Designator)
		_ = job.Driver.ResetConnection(ctx, job.Handle)
		job.result <- result
		return
	}

	if !result.Success {
		p.failed.Add(1)
		p.log.Error("request %s failed: %s: %s", job.ID, result.ErrorKind, result.ErrorMessage)
	} else {
		p.processed.Add(1)
	}
	if p.stats != nil {
		p.stats.RecordQuery()
		p.stats.ObserveQueueDepth(len(p.jobs))
	}
	job.result <- result
}

// stop cancels the pool's context and waits for its workers up to
// grace. It reports whether every worker exited within that budget;
// a worker still inside a driver call is never preempted, only
// abandoned.
func (p *pool) stop(grace time.Duration) bool {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(grace):
		return false
	}
}

// Stats summarizes one tier's processed/failed counters.
type Stats struct {
	Tier      Tier
	Processed int64
	Failed    int64
	QueueLen  int
}

// Lead owns the four tier pools and a periodic health-check loop over
// every tracked DatabaseHandle. It is the fleet's coordinating
// goroutine: one Lead per database, spawning and bounding the worker
// queues beneath it.
type Lead struct {
	pools map[Tier]*pool
	stats *stats.Stats

	mu      sync.Mutex
	tracked map[*engine.DatabaseHandle]engine.Driver

	// children guards the spawned-worker bookkeeping: only the Lead
	// mutates childCount, readers (telemetry) take the same lock.
	children       sync.Mutex
	childCount     int
	maxChildQueues int
	poolCtx        map[Tier]context.Context

	hbMu          sync.Mutex
	lastHeartbeat time.Time

	heartbeat     time.Duration
	shutdownGrace time.Duration
	log           *logging.Logger
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	closed        atomic.Bool
}

// DefaultMaxChildQueues bounds how many additional worker queues a
// Lead may spawn beyond the per-tier defaults it starts with.
const DefaultMaxChildQueues = 16

// DefaultShutdownGrace is how long Stop waits for workers to finish
// their in-flight requests before abandoning them.
const DefaultShutdownGrace = 10 * time.Second

// Option configures a Lead at construction time.
type Option func(*Lead)

// WithWorkersPerTier overrides DefaultWorkersPerTier for every tier.
func WithWorkersPerTier(n int) Option {
	return func(l *Lead) {
		for tier, p := range l.pools {
			l.pools[tier] = newPool(tier, n, cap(p.jobs), l.stats)
		}
	}
}

// WithHeartbeat overrides the health-check polling interval.
func WithHeartbeat(d time.Duration) Option {
	return func(l *Lead) { l.heartbeat = d }
}

// WithMaxChildQueues overrides DefaultMaxChildQueues.
func WithMaxChildQueues(n int) Option {
	return func(l *Lead) { l.maxChildQueues = n }
}

// WithShutdownGrace overrides DefaultShutdownGrace.
func WithShutdownGrace(d time.Duration) Option {
	return func(l *Lead) { l.shutdownGrace = d }
}

// WithLogger replaces the Lead's default log sink. A nil logger
// silences the Lead entirely.
func WithLogger(log *logging.Logger) Option {
	return func(l *Lead) { l.log = log }
}

// WithStats attaches an existing stats.Stats block (e.g. one shared
// across every database in a DatabaseQueueManager) instead of the
// private one NewLead allocates by default.
func WithStats(s *stats.Stats) Option {
	return func(l *Lead) {
		l.stats = s
		for tier, p := range l.pools {
			l.pools[tier] = newPool(tier, p.workers, cap(p.jobs), s)
		}
	}
}

// NewLead builds a Lead with all four tiers ready to Start.
func NewLead(opts ...Option) *Lead {
	l := &Lead{
		pools:          make(map[Tier]*pool, len(Tiers)),
		tracked:        make(map[*engine.DatabaseHandle]engine.Driver),
		poolCtx:        make(map[Tier]context.Context, len(Tiers)),
		heartbeat:      30 * time.Second,
		shutdownGrace:  DefaultShutdownGrace,
		maxChildQueues: DefaultMaxChildQueues,
		log:            logging.New("queue"),
		stats:          stats.New(),
	}
	for _, tier := range Tiers {
		l.pools[tier] = newPool(tier, DefaultWorkersPerTier, 64, l.stats)
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// StatsBlock returns the Lead's underlying fleet-level counters.
func (l *Lead) StatsBlock() *stats.Stats { return l.stats }

// Start launches every tier's worker pool and the heartbeat loop.
func (l *Lead) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel

	l.children.Lock()
	for tier, p := range l.pools {
		p.log = l.log.With(string(tier))
		l.poolCtx[tier] = p.start(ctx)
	}
	l.children.Unlock()

	l.hbMu.Lock()
	l.lastHeartbeat = time.Now()
	l.hbMu.Unlock()

	l.wg.Add(1)
	go l.runHeartbeat(ctx)
}

// Stop cancels the heartbeat loop and drains every tier pool,
// waiting up to the shutdown grace period per tier. Workers that are
// still inside a driver call when the grace period lapses are
// abandoned: the remaining tracked connections are logged and dropped
// from the Lead's bookkeeping without further driver calls. After
// Stop returns, Submit reports ShutdownInProgress.
func (l *Lead) Stop() {
	l.closed.Store(true)
	if l.cancel != nil {
		l.cancel()
	}
	l.wg.Wait()

	drained := true
	for _, tier := range Tiers {
		if !l.pools[tier].stop(l.shutdownGrace) {
			drained = false
			l.log.Alert("tier %s workers did not exit within %s", tier, l.shutdownGrace)
		}
	}

	if !drained {
		l.mu.Lock()
		for h := range l.tracked {
			l.log.Error("abandoning connection %s at shutdown", h.Designator)
			delete(l.tracked, h)
		}
		l.mu.Unlock()
	}
}

// SpawnChildQueue adds one worker to tier's pool. It returns false —
// with the count unchanged — exactly when tier is not a known tier,
// when the Lead already runs maxChildQueues spawned workers, or when
// the Lead has not been started.
func (l *Lead) SpawnChildQueue(tier Tier) bool {
	l.children.Lock()
	defer l.children.Unlock()

	p, ok := l.pools[tier]
	if !ok {
		return false
	}
	ctx, started := l.poolCtx[tier]
	if !started || l.childCount >= l.maxChildQueues {
		return false
	}

	p.addWorker(ctx)
	l.childCount++
	return true
}

// ChildQueueCount reports how many additional workers have been
// spawned beyond the per-tier defaults.
func (l *Lead) ChildQueueCount() int {
	l.children.Lock()
	defer l.children.Unlock()
	return l.childCount
}

// LaunchAdditionalQueues spawns starts[tier] workers per tier, the
// Lead-startup step that consumes a connection's
// queues.{cache,fast,medium,slow}.start counts. It reports false as
// soon as a spawn is refused by the child-queue bound; workers
// spawned before the refusal keep running.
func (l *Lead) LaunchAdditionalQueues(starts map[Tier]int) bool {
	for _, tier := range Tiers {
		for i := 0; i < starts[tier]; i++ {
			if !l.SpawnChildQueue(tier) {
				return false
			}
		}
	}
	return true
}

// LastHeartbeat reports when the supervisory loop last ticked.
func (l *Lead) LastHeartbeat() time.Time {
	l.hbMu.Lock()
	defer l.hbMu.Unlock()
	return l.lastHeartbeat
}

// Track adds a handle to the set the heartbeat loop health-checks.
func (l *Lead) Track(h *engine.DatabaseHandle, drv engine.Driver) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tracked[h] = drv
}

// Untrack removes a handle from heartbeat monitoring, e.g. after
// disconnecting it.
func (l *Lead) Untrack(h *engine.DatabaseHandle) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.tracked, h)
}

func (l *Lead) runHeartbeat(ctx context.Context) {
	defer l.wg.Done()

	ticker := time.NewTicker(l.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.hbMu.Lock()
			l.lastHeartbeat = time.Now()
			l.hbMu.Unlock()
			l.checkAll(ctx)
		}
	}
}

func (l *Lead) checkAll(ctx context.Context) {
	l.mu.Lock()
	snapshot := make(map[*engine.DatabaseHandle]engine.Driver, len(l.tracked))
	for h, drv := range l.tracked {
		snapshot[h] = drv
	}
	l.mu.Unlock()

	for h, drv := range snapshot {
		h.ConnectionLock.Lock()
		err := drv.HealthCheck(ctx, h)
		if err != nil && h.ConsecutiveFailures >= 3 {
			h.Status = engine.StatusFailed
			_ = drv.ResetConnection(ctx, h)
		}
		h.ConnectionLock.Unlock()
	}
}

// Submit routes req to tier's worker pool and blocks until a worker
// produces a result or ctx is done. Round-robin distribution across a
// tier's workers falls out naturally from Go's channel scheduling:
// every idle worker in the pool competes to receive off the same
// channel, so jobs land on whichever worker is free rather than a
// fixed rotation.
func (l *Lead) Submit(ctx context.Context, tier Tier, drv engine.Driver, h *engine.DatabaseHandle, req *engine.QueryRequest) (*engine.QueryResult, error) {
	return l.dispatch(ctx, &Job{ID: uuid.New(), Tier: tier, Driver: drv, Handle: h, Request: req, result: make(chan *engine.QueryResult, 1)})
}

// submitPrepared behaves like Submit but runs req against an
// already-prepared stmt rather than re-parsing req.SQLTemplate.
func (l *Lead) submitPrepared(ctx context.Context, tier Tier, drv engine.Driver, h *engine.DatabaseHandle, stmt *engine.PreparedStatement, req *engine.QueryRequest) (*engine.QueryResult, error) {
	return l.dispatch(ctx, &Job{ID: uuid.New(), Tier: tier, Driver: drv, Handle: h, Stmt: stmt, Request: req, result: make(chan *engine.QueryResult, 1)})
}

func (l *Lead) dispatch(ctx context.Context, job *Job) (*engine.QueryResult, error) {
	if l.closed.Load() {
		return engine.FailureResult(engine.ErrShutdownInProgress, "queue: fleet is shutting down"), nil
	}

	p, ok := l.pools[job.Tier]
	if !ok {
		return nil, fmt.Errorf("queue: unknown tier %q", job.Tier)
	}

	select {
	case p.jobs <- job:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case result := <-job.result:
		return result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// StatsSnapshot returns a Stats value per tier for dashboards/tests.
func (l *Lead) StatsSnapshot() []Stats {
	out := make([]Stats, 0, len(l.pools))
	for _, tier := range Tiers {
		p := l.pools[tier]
		out = append(out, Stats{
			Tier:      tier,
			Processed: p.processed.Load(),
			Failed:    p.failed.Load(),
			QueueLen:  len(p.jobs),
		})
	}
	return out
}
