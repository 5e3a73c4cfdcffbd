// SPDX-License-Identifier: Apache-2.0

// Package db wraps a Postgres *sql.DB so that lock_timeout errors
// (SQLSTATE 55P03) retry with exponential backoff instead of
// surfacing a transient lock wait as a hard failure. The postgres
// engine driver routes its one-shot ExecuteQuery statements through
// this wrapper; its transactions and prepared statements use the
// embedded *sql.DB directly and are not retried.
package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/cloudflare/backoff"
	"github.com/lib/pq"
)

const (
	lockNotAvailableErrorCode pq.ErrorCode = "55P03"
	maxBackoffDuration                     = 1 * time.Minute
	backoffInterval                        = 1 * time.Second
)

// RDB is a retrying wrapper around a live *sql.DB.
type RDB struct {
	DB *sql.DB
}

// ExecContext runs a non-row-returning statement, retrying on
// lock_timeout.
func (db *RDB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var res sql.Result
	err := db.withRetry(ctx, func() error {
		var err error
		res, err = db.DB.ExecContext(ctx, query, args...)
		return err
	})
	return res, err
}

// QueryContext runs a row-returning statement, retrying on
// lock_timeout.
func (db *RDB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	var rows *sql.Rows
	err := db.withRetry(ctx, func() error {
		var err error
		rows, err = db.DB.QueryContext(ctx, query, args...)
		return err
	})
	return rows, err
}

// Close closes the underlying connection pool.
func (db *RDB) Close() error {
	return db.DB.Close()
}

// withRetry runs op until it succeeds or fails with something other
// than lock_timeout, sleeping an exponentially growing (jittered)
// interval between attempts. Context cancellation aborts the sleep.
func (db *RDB) withRetry(ctx context.Context, op func() error) error {
	b := backoff.New(maxBackoffDuration, backoffInterval)

	for {
		err := op()
		if err == nil || !isLockTimeout(err) {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.Duration()):
		}
	}
}

func isLockTimeout(err error) bool {
	pqErr := &pq.Error{}
	return errors.As(err, &pqErr) && pqErr.Code == lockNotAvailableErrorCode
}
