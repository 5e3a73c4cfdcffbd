// SPDX-License-Identifier: Apache-2.0

// Package enginetest provides a no-op Driver double that records its
// calls, for exercising the cache/executor/queue layers without a
// real backend.
package enginetest

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/500Foods/Philement-sub005/pkg/engine"
)

// FakeDriver records every call it receives and returns canned
// results, so tests can assert on call order without a database.
type FakeDriver struct {
	mu sync.Mutex

	Connects    int
	Disconnects int
	Queries     []*engine.QueryRequest
	Prepared    map[string]*engine.PreparedStatement

	NextResult *engine.QueryResult
	NextErr    error

	// Delay makes ExecuteQuery block unconditionally before returning,
	// standing in for a native driver call that cannot be interrupted.
	Delay time.Duration
}

// New returns a FakeDriver ready for registration under a Tag.
func New() *FakeDriver {
	return &FakeDriver{Prepared: make(map[string]*engine.PreparedStatement)}
}

func (f *FakeDriver) Connect(_ context.Context, cfg *engine.ConnectionConfig) (*engine.DatabaseHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Connects++

	return &engine.DatabaseHandle{
		EngineTag:        cfg.EngineTag,
		ConnectionHandle: f,
		Designator:       "fake",
		Config:           cfg,
		Status:           engine.StatusConnected,
	}, nil
}

func (f *FakeDriver) Disconnect(_ context.Context, h *engine.DatabaseHandle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Disconnects++
	h.Status = engine.StatusDisconnected
	return nil
}

func (f *FakeDriver) HealthCheck(_ context.Context, h *engine.DatabaseHandle) error {
	h.ConsecutiveFailures = 0
	return nil
}

func (f *FakeDriver) ResetConnection(_ context.Context, h *engine.DatabaseHandle) error {
	h.Status = engine.StatusConnected
	h.ConsecutiveFailures = 0
	return nil
}

func (f *FakeDriver) ExecuteQuery(_ context.Context, _ *engine.DatabaseHandle, req *engine.QueryRequest) *engine.QueryResult {
	if f.Delay > 0 {
		time.Sleep(f.Delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.Queries = append(f.Queries, req)

	if f.NextErr != nil {
		return engine.FailureResult(engine.ErrExecuteFailed, f.NextErr.Error())
	}
	if f.NextResult != nil {
		return f.NextResult
	}
	return engine.EmptyResult()
}

func (f *FakeDriver) ExecutePrepared(ctx context.Context, h *engine.DatabaseHandle, _ *engine.PreparedStatement, req *engine.QueryRequest) *engine.QueryResult {
	return f.ExecuteQuery(ctx, h, req)
}

func (f *FakeDriver) ExecuteInTransaction(ctx context.Context, h *engine.DatabaseHandle, _ *engine.Transaction, req *engine.QueryRequest) *engine.QueryResult {
	return f.ExecuteQuery(ctx, h, req)
}

func (f *FakeDriver) BeginTransaction(_ context.Context, _ *engine.DatabaseHandle, level engine.IsolationLevel) (*engine.Transaction, error) {
	return &engine.Transaction{ID: uuid.NewString(), IsolationLevel: level, Active: true}, nil
}

func (f *FakeDriver) CommitTransaction(_ context.Context, _ *engine.DatabaseHandle, tx *engine.Transaction) error {
	tx.Active = false
	return nil
}

func (f *FakeDriver) RollbackTransaction(_ context.Context, _ *engine.DatabaseHandle, tx *engine.Transaction) error {
	tx.Active = false
	return nil
}

func (f *FakeDriver) PrepareStatement(_ context.Context, _ *engine.DatabaseHandle, name, sqlTemplate string) (*engine.PreparedStatement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	stmt := &engine.PreparedStatement{Name: name, SQLTemplate: sqlTemplate, EngineHandle: f}
	f.Prepared[name] = stmt
	return stmt, nil
}

func (f *FakeDriver) UnprepareStatement(_ context.Context, _ *engine.DatabaseHandle, stmt *engine.PreparedStatement) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.Prepared, stmt.Name)
	return nil
}

func (f *FakeDriver) GetConnectionString(h *engine.DatabaseHandle) string {
	if h.Config == nil || h.Config.ConnectionString == nil {
		return ""
	}
	return *h.Config.ConnectionString
}

func (f *FakeDriver) ValidateConnectionString(string) error { return nil }

func (f *FakeDriver) EscapeString(s string) string { return s }

var _ engine.Driver = (*FakeDriver)(nil)
