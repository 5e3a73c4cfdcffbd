// SPDX-License-Identifier: Apache-2.0

package engine

import "context"

// Driver is the function table every engine implementation publishes.
// Every method accepts the DatabaseHandle it is associated with so
// multiple concurrent handles for the same engine may call in
// parallel.
type Driver interface {
	// Connect opens a DatabaseHandle for cfg. On failure it must free
	// any partially allocated state and return a nil handle.
	Connect(ctx context.Context, cfg *ConnectionConfig) (*DatabaseHandle, error)

	// Disconnect finalizes every cached prepared statement (if possible),
	// closes the underlying connection, and sets Status to Disconnected.
	// Must be idempotent when the handle is already disconnected.
	Disconnect(ctx context.Context, h *DatabaseHandle) error

	// HealthCheck issues a trivial read. Failure increments
	// h.ConsecutiveFailures; success resets it to zero.
	HealthCheck(ctx context.Context, h *DatabaseHandle) error

	// ResetConnection re-establishes the underlying driver connection
	// after a timeout or failure, without changing the handle's
	// identity.
	ResetConnection(ctx context.Context, h *DatabaseHandle) error

	// ExecuteQuery runs req against h and shapes the result.
	ExecuteQuery(ctx context.Context, h *DatabaseHandle, req *QueryRequest) *QueryResult

	// ExecutePrepared runs req using an already-cached prepared
	// statement. A nil stmt.EngineHandle returns an empty-result
	// success without calling the driver.
	ExecutePrepared(ctx context.Context, h *DatabaseHandle, stmt *PreparedStatement, req *QueryRequest) *QueryResult

	// ExecuteInTransaction runs req against tx rather than
	// autocommitting against h directly, the primitive the migration
	// orchestrator's begin/execute/commit APPLY step is built on. tx
	// must have been returned by this driver's BeginTransaction.
	ExecuteInTransaction(ctx context.Context, h *DatabaseHandle, tx *Transaction, req *QueryRequest) *QueryResult

	// BeginTransaction allocates an active Transaction on h.
	BeginTransaction(ctx context.Context, h *DatabaseHandle, level IsolationLevel) (*Transaction, error)

	// CommitTransaction commits tx. Active is set to false regardless
	// of the outcome.
	CommitTransaction(ctx context.Context, h *DatabaseHandle, tx *Transaction) error

	// RollbackTransaction rolls back tx. Active is set to false
	// regardless of the outcome.
	RollbackTransaction(ctx context.Context, h *DatabaseHandle, tx *Transaction) error

	// PrepareStatement compiles sqlTemplate under name and returns a
	// PreparedStatement suitable for caching.
	PrepareStatement(ctx context.Context, h *DatabaseHandle, name, sqlTemplate string) (*PreparedStatement, error)

	// UnprepareStatement finalizes a cached statement's driver handle.
	// Implementations must tolerate a nil EngineHandle.
	UnprepareStatement(ctx context.Context, h *DatabaseHandle, stmt *PreparedStatement) error

	// GetConnectionString returns the connection string this handle was
	// opened with, normalized by the driver (e.g. with defaults filled in).
	GetConnectionString(h *DatabaseHandle) string

	// ValidateConnectionString reports whether s is syntactically
	// acceptable to this engine, without connecting.
	ValidateConnectionString(s string) error

	// EscapeString escapes s for safe literal inclusion in SQL text
	// generated by this engine (used only outside parameter binding,
	// e.g. migration catalog bookkeeping).
	EscapeString(s string) string
}
