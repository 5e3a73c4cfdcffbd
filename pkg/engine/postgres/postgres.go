// SPDX-License-Identifier: Apache-2.0

// Package postgres implements engine.Driver over lib/pq, wrapping
// every connection in the retryable pkg/db.RDB so that a lock_timeout
// error in ExecuteQuery surfaces as a transparent retry rather than a
// failed query. Transactions and prepared statements go through the
// underlying *sql.DB and are not retried.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"sync"

	_ "github.com/lib/pq"

	"github.com/500Foods/Philement-sub005/pkg/db"
	"github.com/500Foods/Philement-sub005/pkg/engine"
	"github.com/500Foods/Philement-sub005/pkg/engine/base"
	"github.com/500Foods/Philement-sub005/pkg/engine/connstr"
)

func init() {
	engine.Register(engine.TagPostgreSQL, New())
}

// Driver implements engine.Driver for PostgreSQL.
type Driver struct {
	mu    sync.Mutex
	conns map[*engine.DatabaseHandle]*db.RDB
}

// New returns a ready PostgreSQL driver instance.
func New() *Driver {
	return &Driver{conns: make(map[*engine.DatabaseHandle]*db.RDB)}
}

func (d *Driver) rdb(h *engine.DatabaseHandle) *db.RDB {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[h]
}

func buildURL(cfg *engine.ConnectionConfig) string {
	if cfg.ConnectionString != nil && *cfg.ConnectionString != "" {
		return *cfg.ConnectionString
	}

	host := "localhost"
	if cfg.Host != nil {
		host = *cfg.Host
	}
	port := 5432
	if cfg.Port != nil {
		port = *cfg.Port
	}
	database := "postgres"
	if cfg.Database != nil {
		database = *cfg.Database
	}

	userinfo := ""
	if cfg.Username != nil {
		userinfo = *cfg.Username
		if cfg.Password != nil {
			userinfo += ":" + *cfg.Password
		}
		userinfo += "@"
	}

	sslmode := "disable"
	if cfg.SSLEnabled {
		sslmode = "require"
	}

	return fmt.Sprintf("postgresql://%s%s:%d/%s?sslmode=%s", userinfo, host, port, database, sslmode)
}

func (d *Driver) Connect(ctx context.Context, cfg *engine.ConnectionConfig) (*engine.DatabaseHandle, error) {
	url := buildURL(cfg)

	sqlDB, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}

	h := &engine.DatabaseHandle{
		EngineTag:  engine.TagPostgreSQL,
		Designator: url,
		Config:     cfg,
		Status:     engine.StatusConnected,
	}

	d.mu.Lock()
	d.conns[h] = &db.RDB{DB: sqlDB}
	d.mu.Unlock()

	return h, nil
}

func (d *Driver) Disconnect(_ context.Context, h *engine.DatabaseHandle) error {
	d.mu.Lock()
	rdb, ok := d.conns[h]
	delete(d.conns, h)
	d.mu.Unlock()

	h.Status = engine.StatusDisconnected
	if !ok {
		return nil
	}
	return rdb.Close()
}

func (d *Driver) HealthCheck(ctx context.Context, h *engine.DatabaseHandle) error {
	rdb := d.rdb(h)
	if rdb == nil {
		return fmt.Errorf("postgres: health check: not connected")
	}
	if err := rdb.DB.PingContext(ctx); err != nil {
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
	rdb := d.rdb(h)
	if rdb == nil {
		return engine.FailureResult(engine.ErrConnectFailed, "postgres: not connected")
	}

	stmt, args, errRes := base.BindTemplate(req.SQLTemplate, base.DecodeEnvelope(req.ParametersJSON), base.PlaceholderDollar)
	if errRes != nil {
		return errRes
	}

	if isSelect(stmt) {
		rows, err := rdb.QueryContext(ctx, stmt, args...)
		if err != nil {
			return engine.FailureResult(engine.ErrExecuteFailed, err.Error())
		}
		defer rows.Close()
		return base.RowsToResult(rows)
	}

	res, err := rdb.ExecContext(ctx, stmt, args...)
	if err != nil {
		return engine.FailureResult(engine.ErrExecuteFailed, err.Error())
	}
	affected, _ := res.RowsAffected()
	return engine.ExecResult(affected)
}

func (d *Driver) ExecutePrepared(ctx context.Context, h *engine.DatabaseHandle, stmt *engine.PreparedStatement, req *engine.QueryRequest) *engine.QueryResult {
	if stmt == nil || stmt.EngineHandle == nil {
		return engine.EmptyResult()
	}

	preparedStmt, ok := stmt.EngineHandle.(*sql.Stmt)
	if !ok {
		return engine.FailureResult(engine.ErrPrepareFailed, "postgres: prepared handle of wrong type")
	}

	args, errRes := base.BindValues(stmt.ParamNames, base.DecodeEnvelope(req.ParametersJSON))
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
		return engine.FailureResult(engine.ErrInvalidArgument, "postgres: transaction has no active handle")
	}

	stmt, args, errRes := base.BindTemplate(req.SQLTemplate, base.DecodeEnvelope(req.ParametersJSON), base.PlaceholderDollar)
	if errRes != nil {
		return errRes
	}

	return base.RunStatementTx(ctx, t, stmt, args)
}

func isolationOpt(level engine.IsolationLevel) *sql.TxOptions {
	switch level {
	case engine.ReadUncommitted:
		return &sql.TxOptions{Isolation: sql.LevelReadUncommitted}
	case engine.ReadCommitted:
		return &sql.TxOptions{Isolation: sql.LevelReadCommitted}
	case engine.RepeatableRead:
		return &sql.TxOptions{Isolation: sql.LevelRepeatableRead}
	case engine.Serializable:
		return &sql.TxOptions{Isolation: sql.LevelSerializable}
	default:
		return nil
	}
}

func (d *Driver) BeginTransaction(ctx context.Context, h *engine.DatabaseHandle, level engine.IsolationLevel) (*engine.Transaction, error) {
	rdb := d.rdb(h)
	if rdb == nil {
		return nil, fmt.Errorf("postgres: begin transaction: not connected")
	}

	tx, err := rdb.DB.BeginTx(ctx, isolationOpt(level))
	if err != nil {
		return nil, err
	}

	return &engine.Transaction{ID: newTxID(), EngineTag: engine.TagPostgreSQL, IsolationLevel: level, Active: true, Native: tx}, nil
}

func (d *Driver) CommitTransaction(_ context.Context, _ *engine.DatabaseHandle, tx *engine.Transaction) error {
	tx.Active = false
	t, ok := tx.Native.(*sql.Tx)
	if !ok {
		return fmt.Errorf("postgres: commit: no active transaction handle")
	}
	return t.Commit()
}

func (d *Driver) RollbackTransaction(_ context.Context, _ *engine.DatabaseHandle, tx *engine.Transaction) error {
	tx.Active = false
	t, ok := tx.Native.(*sql.Tx)
	if !ok {
		return fmt.Errorf("postgres: rollback: no active transaction handle")
	}
	return t.Rollback()
}

func (d *Driver) PrepareStatement(ctx context.Context, h *engine.DatabaseHandle, name, sqlTemplate string) (*engine.PreparedStatement, error) {
	rdb := d.rdb(h)
	if rdb == nil {
		return nil, fmt.Errorf("postgres: prepare: not connected")
	}

	rewritten, names := base.RewriteTemplate(sqlTemplate, base.PlaceholderDollar)

	stmt, err := rdb.DB.PrepareContext(ctx, rewritten)
	if err != nil {
		return nil, fmt.Errorf("postgres: prepare: %w", err)
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
	return buildURL(h.Config)
}

func (d *Driver) ValidateConnectionString(s string) error {
	if !strings.HasPrefix(s, "postgres://") && !strings.HasPrefix(s, "postgresql://") {
		return fmt.Errorf("postgres: connection string must use postgres:// or postgresql://")
	}
	_, err := connstr.WithSearchPath(s, "")
	return err
}

func (d *Driver) EscapeString(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

func isSelect(sqlText string) bool {
	upper := strings.ToUpper(strings.TrimSpace(sqlText))
	return strings.HasPrefix(upper, "SELECT") || strings.HasPrefix(upper, "WITH")
}

var txSeq uint64
var txSeqMu sync.Mutex

func newTxID() string {
	txSeqMu.Lock()
	defer txSeqMu.Unlock()
	txSeq++
	return "postgres-tx-" + strconv.FormatUint(txSeq, 10)
}

var _ engine.Driver = (*Driver)(nil)
