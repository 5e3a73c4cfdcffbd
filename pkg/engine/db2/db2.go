// SPDX-License-Identifier: Apache-2.0

// Package db2 implements engine.Driver over ibmdb/go_ibm_db, using
// the ODBC-style DRIVER={...};KEY=VALUE connection grammar and the
// same database/sql shape as the other engine drivers.
package db2

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"sync"

	_ "github.com/ibmdb/go_ibm_db"

	"github.com/500Foods/Philement-sub005/pkg/engine"
	"github.com/500Foods/Philement-sub005/pkg/engine/base"
)

func init() {
	engine.Register(engine.TagDB2, New())
}

// Driver implements engine.Driver for IBM DB2 via its ODBC-style DSN.
type Driver struct {
	mu    sync.Mutex
	conns map[*engine.DatabaseHandle]*sql.DB
}

// New returns a ready DB2 driver instance.
func New() *Driver {
	return &Driver{conns: make(map[*engine.DatabaseHandle]*sql.DB)}
}

func (d *Driver) db(h *engine.DatabaseHandle) *sql.DB {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[h]
}

// dsn builds the "DRIVER={IBM DB2 ODBC DRIVER};..." key-value grammar
// go_ibm_db expects, mirroring the shape connstr.parseDB2 decodes.
func dsn(cfg *engine.ConnectionConfig) string {
	if cfg.ConnectionString != nil && *cfg.ConnectionString != "" {
		return *cfg.ConnectionString
	}

	var b strings.Builder
	b.WriteString("DRIVER={IBM DB2 ODBC DRIVER}")
	if cfg.Database != nil {
		fmt.Fprintf(&b, ";DATABASE=%s", *cfg.Database)
	}
	if cfg.Host != nil {
		fmt.Fprintf(&b, ";HOSTNAME=%s", *cfg.Host)
	}
	if cfg.Port != nil {
		fmt.Fprintf(&b, ";PORT=%d", *cfg.Port)
	}
	if cfg.Username != nil {
		fmt.Fprintf(&b, ";UID=%s", *cfg.Username)
	}
	if cfg.Password != nil {
		fmt.Fprintf(&b, ";PWD=%s", *cfg.Password)
	}
	b.WriteString(";PROTOCOL=TCPIP")

	return b.String()
}

func (d *Driver) Connect(ctx context.Context, cfg *engine.ConnectionConfig) (*engine.DatabaseHandle, error) {
	sqlDB, err := sql.Open("go_ibm_db", dsn(cfg))
	if err != nil {
		return nil, fmt.Errorf("db2: connect: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("db2: connect: %w", err)
	}

	h := &engine.DatabaseHandle{
		EngineTag:  engine.TagDB2,
		Designator: dsn(cfg),
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
		return fmt.Errorf("db2: health check: not connected")
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
		return engine.FailureResult(engine.ErrConnectFailed, "db2: not connected")
	}

	stmt, args, errRes := base.BindTemplate(req.SQLTemplate, base.DecodeEnvelope(req.ParametersJSON), base.PlaceholderQuestion)
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
		return engine.FailureResult(engine.ErrPrepareFailed, "db2: prepared handle of wrong type")
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
		return engine.FailureResult(engine.ErrInvalidArgument, "db2: transaction has no active handle")
	}

	stmt, args, errRes := base.BindTemplate(req.SQLTemplate, base.DecodeEnvelope(req.ParametersJSON), base.PlaceholderQuestion)
	if errRes != nil {
		return errRes
	}

	return base.RunStatementTx(ctx, t, stmt, args)
}

func (d *Driver) BeginTransaction(ctx context.Context, h *engine.DatabaseHandle, level engine.IsolationLevel) (*engine.Transaction, error) {
	sqlDB := d.db(h)
	if sqlDB == nil {
		return nil, fmt.Errorf("db2: begin transaction: not connected")
	}

	tx, err := sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}

	return &engine.Transaction{ID: newTxID(), EngineTag: engine.TagDB2, IsolationLevel: level, Active: true, Native: tx}, nil
}

func (d *Driver) CommitTransaction(_ context.Context, _ *engine.DatabaseHandle, tx *engine.Transaction) error {
	tx.Active = false
	t, ok := tx.Native.(*sql.Tx)
	if !ok {
		return fmt.Errorf("db2: commit: no active transaction handle")
	}
	return t.Commit()
}

func (d *Driver) RollbackTransaction(_ context.Context, _ *engine.DatabaseHandle, tx *engine.Transaction) error {
	tx.Active = false
	t, ok := tx.Native.(*sql.Tx)
	if !ok {
		return fmt.Errorf("db2: rollback: no active transaction handle")
	}
	return t.Rollback()
}

func (d *Driver) PrepareStatement(ctx context.Context, h *engine.DatabaseHandle, name, sqlTemplate string) (*engine.PreparedStatement, error) {
	sqlDB := d.db(h)
	if sqlDB == nil {
		return nil, fmt.Errorf("db2: prepare: not connected")
	}

	rewritten, names := base.RewriteTemplate(sqlTemplate, base.PlaceholderQuestion)

	stmt, err := sqlDB.PrepareContext(ctx, rewritten)
	if err != nil {
		return nil, fmt.Errorf("db2: prepare: %w", err)
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
	return dsn(h.Config)
}

func (d *Driver) ValidateConnectionString(s string) error {
	if !strings.Contains(strings.ToUpper(s), "DRIVER=") {
		return fmt.Errorf("db2: connection string must contain a DRIVER= clause")
	}
	return nil
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
	return "db2-tx-" + strconv.FormatUint(txSeq, 10)
}

var _ engine.Driver = (*Driver)(nil)
