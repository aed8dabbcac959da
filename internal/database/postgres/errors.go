package postgres

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/koustreak/csvingest/internal/errs"
)

// PostgreSQL SQLSTATE codes that do not follow their class's default kind.
// Full list: https://www.postgresql.org/docs/current/errcodes-appendix.html
const (
	pgErrInvalidCatalogName   = "3D000"
	pgErrDuplicateTable       = "42P07"
	pgErrDuplicateDatabase    = "42P04"
	pgErrInsufficientPrivs    = "42501"
	pgErrSerializationFailure = "40001"
	pgErrDeadlockDetected     = "40P01"
	pgErrLockNotAvailable     = "55P03"
	pgErrQueryCanceled        = "57014"
	pgErrAdminShutdown        = "57P01"
	pgErrCannotConnectNow     = "57P03"
)

// mapError translates pgx / pgconn native errors into *errs.Error.
// err must be non-nil.
func mapError(err error, msg string) *errs.Error {
	// Context cancellation / deadline exceeded
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errs.Wrap(errs.ErrKindTimeout, msg, err)
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return errs.Wrap(errs.ErrKindNotFound, msg, err)
	}

	// Postgres server-side error (SQLSTATE codes)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return errs.Wrap(classifySQLState(pgErr.Code), fmt.Sprintf("%s: %s", msg, pgErr.Message), err)
	}

	if pgconn.Timeout(err) {
		return errs.Wrap(errs.ErrKindTimeout, msg, err)
	}

	// Network, TLS and dial failures surface as these types.
	var connErr *pgconn.ConnectError
	var netErr net.Error
	if errors.As(err, &connErr) || errors.As(err, &netErr) ||
		errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || pgconn.SafeToRetry(err) {
		return errs.Wrap(errs.ErrKindConnectionFailed, msg, err)
	}

	// Encoding and protocol errors raised client-side.
	return errs.Wrap(errs.ErrKindQueryFailed, msg, err)
}

// mapErrorOrNil is mapError for call sites that may see a nil error.
func mapErrorOrNil(err error, msg string) error {
	if err == nil {
		return nil
	}
	return mapError(err, msg)
}

// classifySQLState maps a SQLSTATE onto an ErrKind, by exact code first
// and then by class.
func classifySQLState(code string) errs.ErrKind {
	switch code {
	case pgErrDuplicateTable, pgErrDuplicateDatabase:
		return errs.ErrKindConflict
	case pgErrInvalidCatalogName:
		return errs.ErrKindNotFound
	case pgErrInsufficientPrivs:
		return errs.ErrKindPermissionDenied
	case pgErrSerializationFailure, pgErrDeadlockDetected, pgErrLockNotAvailable, pgErrQueryCanceled:
		return errs.ErrKindTimeout
	case pgErrAdminShutdown, pgErrCannotConnectNow:
		return errs.ErrKindConnectionFailed
	}

	if len(code) < 2 {
		return errs.ErrKindQueryFailed
	}
	switch code[:2] {
	case "08": // connection exception
		return errs.ErrKindConnectionFailed
	case "23": // integrity constraint violation
		return errs.ErrKindConstraintViolation
	case "28": // invalid authorization specification
		return errs.ErrKindPermissionDenied
	case "53": // insufficient resources
		return errs.ErrKindConnectionFailed
	default:
		return errs.ErrKindQueryFailed
	}
}

// isMissingDatabase reports whether a connect attempt failed because the
// database named in the DSN does not exist.
func isMissingDatabase(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgErrInvalidCatalogName
}
