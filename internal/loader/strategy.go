package loader

import (
	"context"
	"strings"
	"time"

	"github.com/koustreak/csvingest/internal/database"
	"github.com/koustreak/csvingest/internal/errs"
)

// Strategy selects how a chunk is written.
type Strategy string

const (
	// StrategyBulk writes a chunk as one batched insert and falls back to
	// row-wise inserts within the same chunk on a non-transient failure.
	StrategyBulk Strategy = "bulk"
	// StrategyRow writes one row at a time, each under a savepoint.
	StrategyRow Strategy = "row"
	// StrategyAuto is bulk with fallback.
	StrategyAuto Strategy = "auto"
)

// ParseStrategy validates a chunk_method value.
func ParseStrategy(s string) (Strategy, error) {
	switch st := Strategy(strings.ToLower(strings.TrimSpace(s))); st {
	case StrategyBulk, StrategyRow, StrategyAuto:
		return st, nil
	case "":
		return StrategyAuto, nil
	}
	return "", errs.Newf(errs.ErrKindInvalidInput, "unknown chunk method %q (want bulk, row or auto)", s)
}

// rowSavepoint is reused for every row; it is released (or rolled back to)
// before the next row starts.
const rowSavepoint = "csvingest_row"

// written is what a successful write of one chunk produced.
type written struct {
	loaded   int64
	rejects  []ErrorRecord
	fellBack bool
}

// commitError is a failure of COMMIT itself. The server may have committed
// before the connection dropped, so the chunk must not be written again.
type commitError struct {
	err error
}

func (e *commitError) Error() string { return "commit failed: " + e.err.Error() }
func (e *commitError) Unwrap() error { return e.err }

// write stores p in its own transaction. A returned error means nothing
// from p was committed, except for a *commitError, whose outcome is unknown.
func (l *Loader) write(ctx context.Context, p *prepared) (written, error) {
	if len(p.rows) == 0 {
		return written{}, nil
	}
	if l.opts.Strategy == StrategyRow {
		return l.writeRows(ctx, p)
	}

	tx, err := l.db.Begin(ctx)
	if err != nil {
		return written{}, err
	}
	n, err := tx.CopyRows(ctx, l.table.Table, l.columns, p.rows)
	if err == nil {
		if err := tx.Commit(ctx); err != nil {
			return written{}, &commitError{err: err}
		}
		return written{loaded: n}, nil
	}
	_ = tx.Rollback(ctx)
	if errs.IsTransient(err) || ctx.Err() != nil {
		return written{}, err
	}

	l.log.With().Int("chunk", p.chunk.index).Err(err).Logger().
		Debug("bulk insert failed, retrying chunk row by row")
	w, err := l.writeRows(ctx, p)
	w.fellBack = true
	return w, err
}

// writeRows inserts p row by row. A row the backend refuses is rolled back
// to its savepoint and dead-lettered; the rest of the chunk commits.
func (l *Loader) writeRows(ctx context.Context, p *prepared) (written, error) {
	tx, err := l.db.Begin(ctx)
	if err != nil {
		return written{}, err
	}
	fail := func(err error) (written, error) {
		_ = tx.Rollback(ctx)
		return written{}, err
	}

	d := l.db.Dialect()
	var w written
	for i, row := range p.rows {
		if _, err := tx.Exec(ctx, d.Savepoint(rowSavepoint)); err != nil {
			return fail(err)
		}
		stmts, err := database.Insert(l.table.Table, d).Columns(l.columns...).Values(row).Build()
		if err != nil {
			return fail(err)
		}

		_, err = tx.Exec(ctx, stmts[0].SQL, stmts[0].Args...)
		if err != nil {
			if errs.IsTransient(err) || ctx.Err() != nil {
				return fail(err)
			}
			if _, rbErr := tx.Exec(ctx, d.RollbackTo(rowSavepoint)); rbErr != nil {
				return fail(rbErr)
			}
			w.rejects = append(w.rejects, p.chunk.record(p.origin[i], insertKind(err), err.Error(), l.now()))
			continue
		}

		if rel := d.Release(rowSavepoint); rel != "" {
			if _, err := tx.Exec(ctx, rel); err != nil {
				return fail(err)
			}
		}
		w.loaded++
	}

	if err := tx.Commit(ctx); err != nil {
		return written{}, &commitError{err: err}
	}
	return w, nil
}

func insertKind(err error) ErrorKind {
	if errs.IsConstraintViolation(err) {
		return KindConstraintViolation
	}
	return KindInsertFailed
}

// now is the timestamp stamped on error records.
func (l *Loader) now() time.Time {
	if l.clock != nil {
		return l.clock()
	}
	return time.Now().UTC()
}
