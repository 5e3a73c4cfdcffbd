package base

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/500Foods/Philement-sub005/pkg/engine"
)

// RunStatement executes sqlText with args against db and shapes the
// outcome into a QueryResult, dispatching to RunQuery or RunExec by
// sniffing the statement's leading keyword rather than requiring the
// caller to say which it is.
func RunStatement(ctx context.Context, db *sql.DB, sqlText string, args []any) *engine.QueryResult {
	if isSelect(sqlText) {
		return RunQuery(ctx, db, sqlText, args)
	}
	return RunExec(ctx, db, sqlText, args)
}

// RunStatementTx is RunStatement against an open transaction.
func RunStatementTx(ctx context.Context, tx *sql.Tx, sqlText string, args []any) *engine.QueryResult {
	if isSelect(sqlText) {
		rows, err := tx.QueryContext(ctx, sqlText, args...)
		if err != nil {
			return engine.FailureResult(engine.ErrExecuteFailed, err.Error())
		}
		defer rows.Close()
		return RowsToResult(rows)
	}

	res, err := tx.ExecContext(ctx, sqlText, args...)
	if err != nil {
		return engine.FailureResult(engine.ErrExecuteFailed, err.Error())
	}
	return execResult(res)
}

func isSelect(sqlText string) bool {
	trimmed := strings.TrimSpace(sqlText)
	upper := strings.ToUpper(trimmed)
	return strings.HasPrefix(upper, "SELECT") || strings.HasPrefix(upper, "WITH") || strings.HasPrefix(upper, "PRAGMA")
}

// RunQuery issues a row-returning statement and shapes the result.
func RunQuery(ctx context.Context, db *sql.DB, sqlText string, args []any) *engine.QueryResult {
	rows, err := db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return engine.FailureResult(engine.ErrExecuteFailed, err.Error())
	}
	defer rows.Close()
	return RowsToResult(rows)
}

// RunExec issues a non-row-returning statement (INSERT/UPDATE/DELETE/DDL).
func RunExec(ctx context.Context, db *sql.DB, sqlText string, args []any) *engine.QueryResult {
	res, err := db.ExecContext(ctx, sqlText, args...)
	if err != nil {
		return engine.FailureResult(engine.ErrExecuteFailed, err.Error())
	}
	return execResult(res)
}

func execResult(res sql.Result) *engine.QueryResult {
	affected, err := res.RowsAffected()
	if err != nil {
		// Some drivers (certain DDL paths) don't support RowsAffected;
		// treat as zero rather than failing a statement that already
		// succeeded.
		affected = 0
	}
	return engine.ExecResult(affected)
}

// maxDataJSONBytes caps how large an encoded result envelope may
// grow. A row that would push the buffer past the cap truncates the
// output at the last complete row; the result still reports Success
// with the rows that fit. Variable rather than constant so tests can
// exercise the truncation path without materializing gigabytes.
var maxDataJSONBytes = 256 << 20

// RowsToResult drains rows into a QueryResult whose DataJSON holds an
// array of objects, one per row, keyed by column name in driver
// result order. A column the driver reports with an empty name gets
// the fallback key col_<i>. Row objects are assembled into a growing
// byte buffer bounded by maxDataJSONBytes; on truncation the rows
// already encoded are returned with Success still true. A field that
// fails to encode on its own is substituted with null rather than
// dropping the row.
func RowsToResult(rows *sql.Rows) *engine.QueryResult {
	cols, err := rows.Columns()
	if err != nil {
		return engine.FailureResult(engine.ErrExecuteFailed, err.Error())
	}

	keys := make([][]byte, len(cols))
	for i, c := range cols {
		if c == "" {
			c = fmt.Sprintf("col_%d", i)
			cols[i] = c
		}
		k, err := json.Marshal(c)
		if err != nil {
			k = []byte(fmt.Sprintf("%q", fmt.Sprintf("col_%d", i)))
		}
		keys[i] = k
	}

	var buf bytes.Buffer
	buf.WriteByte('[')

	rowCount := 0
	truncated := false
	for rows.Next() {
		raw := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return engine.FailureResult(engine.ErrExecuteFailed, err.Error())
		}

		encoded := encodeRow(keys, raw)
		if buf.Len()+len(encoded)+2 > maxDataJSONBytes {
			truncated = true
			break
		}

		if rowCount > 0 {
			buf.WriteByte(',')
		}
		buf.Write(encoded)
		rowCount++
	}
	if !truncated {
		if err := rows.Err(); err != nil {
			return engine.FailureResult(engine.ErrExecuteFailed, err.Error())
		}
	}

	buf.WriteByte(']')

	result := &engine.QueryResult{
		Success:     true,
		RowCount:    rowCount,
		ColumnCount: len(cols),
		ColumnNames: cols,
		DataJSON:    buf.Bytes(),
	}
	if truncated {
		result.ErrorKind = engine.ErrAllocationFailure
		result.ErrorMessage = "result truncated at the last complete row"
	}
	return result
}

// encodeRow builds one {"name":value,...} object, preserving column
// order. A field whose value fails to marshal is written as null.
func encodeRow(keys [][]byte, raw []any) []byte {
	var row bytes.Buffer
	row.WriteByte('{')
	for i, v := range raw {
		if i > 0 {
			row.WriteByte(',')
		}
		row.Write(keys[i])
		row.WriteByte(':')

		if b, ok := v.([]byte); ok {
			v = string(b)
		}
		encoded, err := json.Marshal(v)
		if err != nil {
			row.WriteString("null")
			continue
		}
		row.Write(encoded)
	}
	row.WriteByte('}')
	return row.Bytes()
}
