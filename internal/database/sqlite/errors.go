package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/koustreak/csvingest/internal/errs"
	"modernc.org/sqlite"
)

// Primary SQLite result codes. Extended codes carry the primary code in
// their low byte.
// Full list: https://www.sqlite.org/rescode.html
const (
	sqliteError      = 1
	sqlitePerm       = 3
	sqliteBusy       = 5
	sqliteLocked     = 6
	sqliteReadOnly   = 8
	sqliteInterrupt  = 9
	sqliteIOErr      = 10
	sqliteCantOpen   = 14
	sqliteConstraint = 19
	sqliteMismatch   = 20
	sqliteAuth       = 23
)

// mapError translates modernc.org/sqlite errors into *errs.Error.
// err must be non-nil.
func mapError(err error, msg string) *errs.Error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errs.Wrap(errs.ErrKindTimeout, msg, err)
	}

	if errors.Is(err, sql.ErrNoRows) {
		return errs.Wrap(errs.ErrKindNotFound, msg, err)
	}

	var sqlErr *sqlite.Error
	if errors.As(err, &sqlErr) {
		return errs.Wrap(classifyCode(sqlErr.Code(), sqlErr.Error()), fmt.Sprintf("%s: %s", msg, sqlErr.Error()), err)
	}

	if errors.Is(err, sql.ErrConnDone) {
		return errs.Wrap(errs.ErrKindConnectionFailed, msg, err)
	}

	return errs.Wrap(errs.ErrKindQueryFailed, msg, err)
}

func classifyCode(code int, text string) errs.ErrKind {
	switch code & 0xff {
	case sqliteConstraint:
		return errs.ErrKindConstraintViolation
	case sqliteBusy, sqliteLocked, sqliteInterrupt:
		return errs.ErrKindTimeout
	case sqliteIOErr, sqliteCantOpen:
		return errs.ErrKindConnectionFailed
	case sqlitePerm, sqliteAuth, sqliteReadOnly:
		return errs.ErrKindPermissionDenied
	case sqliteMismatch:
		return errs.ErrKindQueryFailed
	case sqliteError:
		lower := strings.ToLower(text)
		switch {
		case strings.Contains(lower, "already exists"):
			return errs.ErrKindConflict
		case strings.Contains(lower, "no such table"):
			return errs.ErrKindNotFound
		}
	}
	return errs.ErrKindQueryFailed
}
