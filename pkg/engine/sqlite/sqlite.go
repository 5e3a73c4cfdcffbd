// SPDX-License-Identifier: Apache-2.0

// Package sqlite implements engine.Driver over mattn/go-sqlite3 for
// file-backed and :memory: databases.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/500Foods/Philement-sub005/pkg/engine"
	"github.com/500Foods/Philement-sub005/pkg/engine/base"
)

func init() {
	engine.Register(engine.TagSQLite, New())
}

// Driver implements engine.Driver for SQLite files and :memory: handles.
type Driver struct {
	mu    sync.Mutex
	conns map[*engine.DatabaseHandle]*sql.DB
}

// New returns a ready SQLite driver instance.
func New() *Driver {
	return &Driver{conns: make(map[*engine.DatabaseHandle]*sql.DB)}
}

func (d *Driver) db(h *engine.DatabaseHandle) *sql.DB {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[h]
}

// connectPath picks the database path to open: the configured
// database, then the raw connection string, then an in-memory
// database when neither is present.
func connectPath(cfg *engine.ConnectionConfig) string {
	if cfg.Database != nil && *cfg.Database != "" {
		return *cfg.Database
	}
	if cfg.ConnectionString != nil && *cfg.ConnectionString != "" {
		return *cfg.ConnectionString
	}
	return ":memory:"
}

func (d *Driver) Connect(ctx context.Context, cfg *engine.ConnectionConfig) (*engine.DatabaseHandle, error) {
	dsn := connectPath(cfg)

	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: connect: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("sqlite: connect: %w", err)
	}

	h := &engine.DatabaseHandle{
		EngineTag:  engine.TagSQLite,
		Designator: dsn,
		Config:     cfg,
		Status:     engine.StatusConnected,
	}

	d.mu.Lock()
	d.conns[h] = sqlDB
	d.mu.Unlock()

	return h, nil
}

func (d *Driver) Disconnect(_ context.Context, h *engine.DatabaseHandle) error {
	d.mu.Lock()
	sqlDB, ok := d.conns[h]
	delete(d.conns, h)
	d.mu.Unlock()

	h.Status = engine.StatusDisconnected
	if !ok {
		return nil
	}
	return sqlDB.Close()
}

func (d *Driver) HealthCheck(ctx context.Context, h *engine.DatabaseHandle) error {
	sqlDB := d.db(h)
	if sqlDB == nil {
		return fmt.Errorf("sqlite: health check: not connected")
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		h.ConsecutiveFailures++
		return err
	}
	h.ConsecutiveFailures = 0
	return nil
}

func (d *Driver) ResetConnection(ctx context.Context, h *engine.DatabaseHandle) error {
	if err := d.Disconnect(ctx, h); err != nil {
		return err
	}
	fresh, err := d.Connect(ctx, h.Config)
	if err != nil {
		h.Status = engine.StatusFailed
		return err
	}
	d.mu.Lock()
	d.conns[h] = d.conns[fresh]
	delete(d.conns, fresh)
	d.mu.Unlock()
	h.Status = engine.StatusConnected
	return nil
}

func (d *Driver) ExecuteQuery(ctx context.Context, h *engine.DatabaseHandle, req *engine.QueryRequest) *engine.QueryResult {
	sqlDB := d.db(h)
	if sqlDB == nil {
		return engine.FailureResult(engine.ErrConnectFailed, "sqlite: not connected")
	}

	stmt, args, errRes := base.BindTemplate(req.SQLTemplate, decodeEnvelope(req.ParametersJSON), base.PlaceholderQuestion)
	if errRes != nil {
		return errRes
	}

	return base.RunStatement(ctx, sqlDB, stmt, args)
}

func (d *Driver) ExecutePrepared(ctx context.Context, h *engine.DatabaseHandle, stmt *engine.PreparedStatement, req *engine.QueryRequest) *engine.QueryResult {
	if stmt == nil || stmt.EngineHandle == nil {
		return engine.EmptyResult()
	}

	preparedStmt, ok := stmt.EngineHandle.(*sql.Stmt)
	if !ok {
		return engine.FailureResult(engine.ErrPrepareFailed, "sqlite: prepared handle of wrong type")
	}

	args, errRes := base.BindValues(stmt.ParamNames, decodeEnvelope(req.ParametersJSON))
	if errRes != nil {
		return errRes
	}

	if isSelect(stmt.SQLTemplate) {
		rows, err := preparedStmt.QueryContext(ctx, args...)
		if err != nil {
			return engine.FailureResult(engine.ErrExecuteFailed, err.Error())
		}
		defer rows.Close()
		return base.RowsToResult(rows)
	}

	res, err := preparedStmt.ExecContext(ctx, args...)
	if err != nil {
		return engine.FailureResult(engine.ErrExecuteFailed, err.Error())
	}
	affected, _ := res.RowsAffected()
	return engine.ExecResult(affected)
}

func (d *Driver) ExecuteInTransaction(ctx context.Context, _ *engine.DatabaseHandle, tx *engine.Transaction, req *engine.QueryRequest) *engine.QueryResult {
	t, ok := tx.Native.(*sql.Tx)
	if !ok {
		return engine.FailureResult(engine.ErrInvalidArgument, "sqlite: transaction has no active handle")
	}

	stmt, args, errRes := base.BindTemplate(req.SQLTemplate, decodeEnvelope(req.ParametersJSON), base.PlaceholderQuestion)
	if errRes != nil {
		return errRes
	}

	return base.RunStatementTx(ctx, t, stmt, args)
}

func (d *Driver) BeginTransaction(ctx context.Context, h *engine.DatabaseHandle, level engine.IsolationLevel) (*engine.Transaction, error) {
	sqlDB := d.db(h)
	if sqlDB == nil {
		return nil, fmt.Errorf("sqlite: begin transaction: not connected")
	}
	// SQLite has no SET TRANSACTION ISOLATION LEVEL: read-uncommitted
	// is a pragma on the connection, and everything else runs under
	// its single-writer lock, so the level is otherwise recorded for
	// introspection only.
	if level == engine.ReadUncommitted {
		if _, err := sqlDB.ExecContext(ctx, "PRAGMA read_uncommitted=1"); err != nil {
			return nil, fmt.Errorf("sqlite: begin transaction: %w", err)
		}
	}
	tx, err := sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &engine.Transaction{ID: newTxID(), EngineTag: engine.TagSQLite, IsolationLevel: level, Active: true, Native: tx}, nil
}

func (d *Driver) CommitTransaction(_ context.Context, _ *engine.DatabaseHandle, tx *engine.Transaction) error {
	tx.Active = false
	t, ok := tx.Native.(*sql.Tx)
	if !ok {
		return fmt.Errorf("sqlite: commit: no active transaction handle")
	}
	return t.Commit()
}

func (d *Driver) RollbackTransaction(_ context.Context, _ *engine.DatabaseHandle, tx *engine.Transaction) error {
	tx.Active = false
	t, ok := tx.Native.(*sql.Tx)
	if !ok {
		return fmt.Errorf("sqlite: rollback: no active transaction handle")
	}
	return t.Rollback()
}

func (d *Driver) PrepareStatement(ctx context.Context, h *engine.DatabaseHandle, name, sqlTemplate string) (*engine.PreparedStatement, error) {
	sqlDB := d.db(h)
	if sqlDB == nil {
		return nil, fmt.Errorf("sqlite: prepare: not connected")
	}

	rewritten, names := base.RewriteTemplate(sqlTemplate, base.PlaceholderQuestion)

	stmt, err := sqlDB.PrepareContext(ctx, rewritten)
	if err != nil {
		return nil, fmt.Errorf("sqlite: prepare: %w", err)
	}

	return &engine.PreparedStatement{Name: name, SQLTemplate: sqlTemplate, ParamNames: names, EngineHandle: stmt}, nil
}

func (d *Driver) UnprepareStatement(_ context.Context, _ *engine.DatabaseHandle, stmt *engine.PreparedStatement) error {
	if stmt == nil || stmt.EngineHandle == nil {
		return nil
	}
	s, ok := stmt.EngineHandle.(*sql.Stmt)
	if !ok {
		return nil
	}
	return s.Close()
}

func (d *Driver) GetConnectionString(h *engine.DatabaseHandle) string {
	if h.Config == nil {
		return ""
	}
	return connectPath(h.Config)
}

func (d *Driver) ValidateConnectionString(s string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("sqlite: empty path")
	}
	return nil
}

func (d *Driver) EscapeString(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

func isSelect(sqlText string) bool {
	upper := strings.ToUpper(strings.TrimSpace(sqlText))
	return strings.HasPrefix(upper, "SELECT") || strings.HasPrefix(upper, "WITH") || strings.HasPrefix(upper, "PRAGMA")
}

func decodeEnvelope(raw []byte) base.Envelope {
	return base.DecodeEnvelope(raw)
}

var txSeq uint64
var txSeqMu sync.Mutex

func newTxID() string {
	txSeqMu.Lock()
	defer txSeqMu.Unlock()
	txSeq++
	return fmt.Sprintf("sqlite-tx-%d", txSeq)
}

var _ engine.Driver = (*Driver)(nil)
