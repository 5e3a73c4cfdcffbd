// SPDX-License-Identifier: Apache-2.0

// Package migrate is the stateless migration orchestrator: it decides
// LOAD/APPLY/NONE from the (available, loaded, applied) watermark
// triple and drives that decision through a Lead's persistent
// connection, one transaction per applied migration.
package migrate

import (
	"context"
	"errors"
	"fmt"

	"github.com/500Foods/Philement-sub005/internal/logging"
	"github.com/500Foods/Philement-sub005/pkg/engine"
)

// Action is the orchestration decision computed from a watermark triple.
type Action string

const (
	ActionNone  Action = "NONE"
	ActionLoad  Action = "LOAD"
	ActionApply Action = "APPLY"
)

// Decide computes the orchestration action: for all
// 0 <= applied <= loaded <= available, Decide returns LOAD iff
// loaded<available, APPLY iff loaded=available && applied<loaded,
// and NONE iff applied=loaded=available.
func Decide(available, loaded, applied int) Action {
	switch {
	case loaded < available:
		return ActionLoad
	case applied < loaded:
		return ActionApply
	default:
		return ActionNone
	}
}

// Watermarks is the triple an orchestration round consumes and produces.
type Watermarks struct {
	Available int
	Loaded    int
	Applied   int
}

// Record is a single migration as exposed by a MigrationSource:
// an id, its forward SQL, and a checksum for drift detection.
type Record struct {
	ID       int
	UpSQL    string
	Checksum string
}

// Source is the ordered, restartable migration catalog the
// orchestrator consumes.
type Source interface {
	// AvailableIDs returns every migration id known to the source, in
	// ascending order.
	AvailableIDs(ctx context.Context) ([]int, error)

	// Load returns the record for id.
	Load(ctx context.Context, id int) (Record, error)

	// MarkLoaded records that id's catalog row has been written.
	MarkLoaded(ctx context.Context, id int) error

	// MarkApplied records that id's up_sql has committed.
	MarkApplied(ctx context.Context, id int) error
}

// ApplyFailedError reports that migration ID failed to apply; it is
// keyed to the failing id so callers can report exactly where the
// run stopped.
type ApplyFailedError struct {
	ID  int
	Err error
}

func (e *ApplyFailedError) Error() string {
	return fmt.Sprintf("migrate: apply failed for migration %d: %v", e.ID, e.Err)
}

func (e *ApplyFailedError) Unwrap() error { return e.Err }

// Validate reads the available watermark from src, leaving the
// loaded/applied marks as the caller observed them in the schema (or
// zero on an empty database — an empty database is not a validation
// error for orchestration purposes, it just means everything is
// pending). On an empty database a source failure is logged at debug
// and swallowed so the caller can still proceed to LOAD/APPLY; on a
// database with loaded or applied migrations the same failure is
// logged at alert and surfaced.
func Validate(ctx context.Context, src Source, wm Watermarks, log *logging.Logger) (Watermarks, error) {
	ids, err := src.AvailableIDs(ctx)
	if err != nil {
		if wm.Loaded == 0 && wm.Applied == 0 {
			log.Debug("migration validation failed on empty database: %v", err)
			return wm, nil
		}
		log.Alert("migration validation failed: %v", err)
		return wm, fmt.Errorf("migrate: listing available migrations: %w", err)
	}
	if len(ids) > 0 && ids[len(ids)-1] > wm.Available {
		wm.Available = ids[len(ids)-1]
	}
	log.Debug("migration watermarks: available=%d loaded=%d applied=%d", wm.Available, wm.Loaded, wm.Applied)
	return wm, nil
}

// Run drives the Lead's migration lifecycle to completion: it
// validates the watermarks against src, then repeatedly computes
// Decide on the current triple and executes LOAD or APPLY until it
// reaches NONE, returning the final watermarks. Idempotent: calling
// Run again after a clean completion returns the same watermarks with
// no further side effects.
func Run(ctx context.Context, drv engine.Driver, h *engine.DatabaseHandle, src Source, wm Watermarks, log *logging.Logger) (Watermarks, error) {
	wm, err := Validate(ctx, src, wm, log)
	if err != nil {
		return wm, err
	}

	for {
		action := Decide(wm.Available, wm.Loaded, wm.Applied)
		log.Debug("migration action: %s", action)

		switch action {
		case ActionLoad:
			next, err := load(ctx, drv, h, src, wm)
			if err != nil {
				log.Error("migration load failed: %v", err)
				return wm, err
			}
			wm = next
		case ActionApply:
			next, err := apply(ctx, drv, h, src, wm)
			if err != nil {
				log.Error("migration apply failed: %v", err)
				return wm, err
			}
			wm = next
		default:
			return wm, nil
		}
	}
}

// load writes catalog rows for every not-yet-loaded id in ascending
// order under a single transaction.
func load(ctx context.Context, drv engine.Driver, h *engine.DatabaseHandle, src Source, wm Watermarks) (Watermarks, error) {
	ids, err := src.AvailableIDs(ctx)
	if err != nil {
		return wm, fmt.Errorf("migrate: listing available migrations: %w", err)
	}

	tx, err := drv.BeginTransaction(ctx, h, engine.ReadCommitted)
	if err != nil {
		return wm, fmt.Errorf("migrate: begin load transaction: %w", err)
	}

	for _, id := range ids {
		if id <= wm.Loaded {
			continue
		}
		if err := src.MarkLoaded(ctx, id); err != nil {
			rollback(ctx, drv, h, tx)
			return wm, fmt.Errorf("migrate: marking migration %d loaded: %w", id, err)
		}
		wm.Loaded = id
	}

	if err := drv.CommitTransaction(ctx, h, tx); err != nil {
		return wm, fmt.Errorf("migrate: commit load transaction: %w", err)
	}

	if len(ids) > 0 {
		wm.Available = max(wm.Available, ids[len(ids)-1])
	}

	return wm, nil
}

// apply runs every pending migration's up_sql in its own transaction,
// in ascending id order, stopping on the first ApplyFailedError.
// Earlier migrations remain applied.
func apply(ctx context.Context, drv engine.Driver, h *engine.DatabaseHandle, src Source, wm Watermarks) (Watermarks, error) {
	ids, err := src.AvailableIDs(ctx)
	if err != nil {
		return wm, fmt.Errorf("migrate: listing available migrations: %w", err)
	}

	for _, id := range ids {
		if id <= wm.Applied || id > wm.Loaded {
			continue
		}

		rec, err := src.Load(ctx, id)
		if err != nil {
			return wm, fmt.Errorf("migrate: loading migration %d: %w", id, err)
		}

		if err := applyOne(ctx, drv, h, src, rec); err != nil {
			return wm, err
		}
		wm.Applied = id
	}

	return wm, nil
}

func applyOne(ctx context.Context, drv engine.Driver, h *engine.DatabaseHandle, src Source, rec Record) error {
	tx, err := drv.BeginTransaction(ctx, h, engine.ReadCommitted)
	if err != nil {
		return &ApplyFailedError{ID: rec.ID, Err: fmt.Errorf("begin: %w", err)}
	}

	result := drv.ExecuteInTransaction(ctx, h, tx, &engine.QueryRequest{SQLTemplate: rec.UpSQL})
	if !result.Success {
		rollback(ctx, drv, h, tx)
		return &ApplyFailedError{ID: rec.ID, Err: errors.New(result.ErrorMessage)}
	}

	if err := src.MarkApplied(ctx, rec.ID); err != nil {
		rollback(ctx, drv, h, tx)
		return &ApplyFailedError{ID: rec.ID, Err: fmt.Errorf("mark applied: %w", err)}
	}

	if err := drv.CommitTransaction(ctx, h, tx); err != nil {
		rollback(ctx, drv, h, tx)
		return &ApplyFailedError{ID: rec.ID, Err: fmt.Errorf("commit: %w", err)}
	}

	return nil
}

func rollback(ctx context.Context, drv engine.Driver, h *engine.DatabaseHandle, tx *engine.Transaction) {
	_ = drv.RollbackTransaction(ctx, h, tx)
}
