// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/500Foods/Philement-sub005/internal/logging"
	"github.com/500Foods/Philement-sub005/pkg/cache"
	"github.com/500Foods/Philement-sub005/pkg/engine"
	"github.com/500Foods/Philement-sub005/pkg/migrate"
	"github.com/500Foods/Philement-sub005/pkg/stats"
)

// database binds one configured database's Lead, its persistent
// DatabaseHandle and driver, and its prepared-statement cache. There
// is at most one Lead per database name.
type database struct {
	lead   *Lead
	driver engine.Driver
	handle *engine.DatabaseHandle
	cache  *cache.Cache
}

// Manager is the fleet root: one Lead per configured database, plus
// the aggregate stats block shared across all of them.
type Manager struct {
	opts  []Option
	stats *stats.Stats
	log   *logging.Logger

	mu  sync.RWMutex
	dbs map[string]*database
}

// NewManager builds an empty Manager. leadOpts are applied to every
// Lead created by Register, letting callers tune worker counts and
// heartbeat interval fleet-wide.
func NewManager(leadOpts ...Option) *Manager {
	return &Manager{opts: leadOpts, stats: stats.New(), log: logging.New("fleet"), dbs: make(map[string]*database)}
}

// SetLogger replaces the Manager's default log sink (and that of every
// Lead registered afterwards). A nil logger silences the fleet.
func (m *Manager) SetLogger(log *logging.Logger) { m.log = log }

// StatsBlock returns the fleet-wide counters shared by every Lead.
func (m *Manager) StatsBlock() *stats.Stats { return m.stats }

// Register runs the Lead startup sequence for one database: establish
// the persistent connection, validate and run migrations (if src is
// non-nil), start the tier pools, then spawn the per-tier starts
// counts from the connection's queues.{cache,fast,medium,slow}.start
// config (nil spawns none beyond the per-tier defaults). size <= 0
// uses the default prepared-statement cache size.
func (m *Manager) Register(ctx context.Context, name string, drv engine.Driver, cfg *engine.ConnectionConfig, size int, src migrate.Source, starts map[Tier]int) (migrate.Watermarks, error) {
	if drv == nil {
		return migrate.Watermarks{}, fmt.Errorf("queue: no driver for database %q", name)
	}

	m.log.Debug("establishing connection for %s", name)
	h, err := drv.Connect(ctx, cfg)
	if err != nil {
		m.log.Error("connect failed for %s: %v", name, err)
		return migrate.Watermarks{}, fmt.Errorf("queue: establishing connection for %q: %w", name, err)
	}

	c, err := cache.New(drv, h, size)
	if err != nil {
		_ = drv.Disconnect(ctx, h)
		return migrate.Watermarks{}, fmt.Errorf("queue: building statement cache for %q: %w", name, err)
	}

	var wm migrate.Watermarks
	if src != nil {
		wm, err = migrate.Run(ctx, drv, h, src, migrate.Watermarks{}, m.log.With(name))
		if err != nil {
			m.log.Error("migration failed for %s: %v", name, err)
			_ = drv.Disconnect(ctx, h)
			return wm, fmt.Errorf("queue: migrating %q: %w", name, err)
		}
	}

	opts := append(append([]Option{}, m.opts...), WithStats(m.stats), WithLogger(m.log.With(name)))
	lead := NewLead(opts...)
	lead.Track(h, drv)
	lead.Start(ctx)

	if len(starts) > 0 && !lead.LaunchAdditionalQueues(starts) {
		lead.Stop()
		_ = drv.Disconnect(ctx, h)
		return wm, fmt.Errorf("queue: spawning additional queues for %q: child queue bound reached", name)
	}

	m.mu.Lock()
	m.dbs[name] = &database{lead: lead, driver: drv, handle: h, cache: c}
	m.mu.Unlock()

	return wm, nil
}

// Unregister stops name's Lead, purges its statement cache, and
// disconnects its handle.
func (m *Manager) Unregister(ctx context.Context, name string) error {
	m.mu.Lock()
	d, ok := m.dbs[name]
	if ok {
		delete(m.dbs, name)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("queue: no database registered as %q", name)
	}

	d.lead.Stop()
	d.cache.Purge()
	return d.driver.Disconnect(ctx, d.handle)
}

// Submit routes req against name's database through tier's worker
// pool, using the registered prepared-statement cache when
// req.PreparedName is set.
func (m *Manager) Submit(ctx context.Context, name string, tier Tier, req *engine.QueryRequest) (*engine.QueryResult, error) {
	m.mu.RLock()
	d, ok := m.dbs[name]
	m.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("queue: no database registered as %q", name)
	}

	if req.PreparedName != nil {
		stmt, err := d.cache.GetOrPrepare(ctx, *req.PreparedName, req.SQLTemplate)
		if err != nil {
			return engine.FailureResult(engine.ErrPrepareFailed, err.Error()), nil
		}
		return d.lead.submitPrepared(ctx, tier, d.driver, d.handle, stmt, req)
	}

	return d.lead.Submit(ctx, tier, d.driver, d.handle, req)
}

// RunMigrationTest exercises name's persistent connection with a
// trivial transactional round trip (begin, probe, rollback). It is a
// no-op success when enabled is false or name does not match a
// registered database, so callers can invoke it unconditionally per
// connection config.
func (m *Manager) RunMigrationTest(ctx context.Context, name string, enabled bool) error {
	if !enabled {
		return nil
	}

	m.mu.RLock()
	d, ok := m.dbs[name]
	m.mu.RUnlock()
	if !ok {
		return nil
	}

	tx, err := d.driver.BeginTransaction(ctx, d.handle, engine.ReadCommitted)
	if err != nil {
		return fmt.Errorf("queue: migration test for %q: begin: %w", name, err)
	}

	result := d.driver.ExecuteInTransaction(ctx, d.handle, tx, &engine.QueryRequest{SQLTemplate: "SELECT 1"})
	if !result.Success {
		_ = d.driver.RollbackTransaction(ctx, d.handle, tx)
		return fmt.Errorf("queue: migration test for %q: %s", name, result.ErrorMessage)
	}

	return d.driver.RollbackTransaction(ctx, d.handle, tx)
}

// StatsFor returns the per-tier processed/failed/queue-depth snapshot
// for name's Lead.
func (m *Manager) StatsFor(name string) ([]Stats, error) {
	m.mu.RLock()
	d, ok := m.dbs[name]
	m.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("queue: no database registered as %q", name)
	}
	return d.lead.StatsSnapshot(), nil
}

// Snapshot returns the fleet-wide counters (total_timeouts,
// total_queries, queue_depth_peak).
func (m *Manager) Snapshot() stats.Snapshot { return m.stats.Snapshot() }

// Shutdown stops every registered database's Lead and disconnects its
// handle.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	names := make([]string, 0, len(m.dbs))
	for name := range m.dbs {
		names = append(names, name)
	}
	m.mu.Unlock()

	for _, name := range names {
		_ = m.Unregister(ctx, name)
	}
}
