package database

import (
	"context"
	"time"
)

// StatementContext derives the per-statement deadline. A non-positive
// timeout leaves ctx untouched.
func StatementContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}

// CancelOnClose ties a statement deadline to the lifetime of a result set.
func CancelOnClose(rows Rows, cancel context.CancelFunc) Rows {
	return &cancelRows{Rows: rows, cancel: cancel}
}

// CancelOnScan ties a statement deadline to the single Scan of a row.
func CancelOnScan(row Row, cancel context.CancelFunc) Row {
	return &cancelRow{row: row, cancel: cancel}
}

type cancelRows struct {
	Rows
	cancel context.CancelFunc
}

func (r *cancelRows) Close() {
	r.Rows.Close()
	r.cancel()
}

type cancelRow struct {
	row    Row
	cancel context.CancelFunc
}

func (r *cancelRow) Scan(dest ...any) error {
	defer r.cancel()
	return r.row.Scan(dest...)
}
