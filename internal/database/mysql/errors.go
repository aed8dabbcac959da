package mysql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"

	"github.com/go-sql-driver/mysql"
	"github.com/koustreak/csvingest/internal/errs"
)

// MySQL error numbers
// Full list: https://dev.mysql.com/doc/mysql-errors/8.0/en/server-error-reference.html
const (
	errDuplicateEntry     = 1062
	errNoReferencedRow    = 1452
	errRowIsReferenced    = 1451
	errNoReferencedRow2   = 1216
	errRowIsReferenced2   = 1217
	errBadNull            = 1048
	errCheckViolated      = 3819
	errTableExists        = 1050
	errDBCreateExists     = 1007
	errNoSuchTable        = 1146
	errUnknownDatabase    = 1049
	errAccessDenied       = 1045
	errDBAccessDenied     = 1044
	errTableAccessDenied  = 1142
	errLockWaitTimeout    = 1205
	errLockDeadlock       = 1213
	errTooManyConnections = 1040
	errServerShutdown     = 1053
	errConnCountError     = 1203
	errQueryInterrupted   = 1317
	errMaxExecTime        = 3024
)

// mapError translates go-sql-driver/mysql errors into *errs.Error.
// err must be non-nil.
func mapError(err error, msg string) *errs.Error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errs.Wrap(errs.ErrKindTimeout, msg, err)
	}

	if errors.Is(err, sql.ErrNoRows) {
		return errs.Wrap(errs.ErrKindNotFound, msg, err)
	}

	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return errs.Wrap(
			classifyMySQLCode(mysqlErr.Number),
			fmt.Sprintf("%s: %s", msg, mysqlErr.Message),
			err,
		)
	}

	var netErr net.Error
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysql.ErrInvalidConn) || errors.As(err, &netErr) {
		return errs.Wrap(errs.ErrKindConnectionFailed, msg, err)
	}

	return errs.Wrap(errs.ErrKindQueryFailed, msg, err)
}

// classifyMySQLCode maps MySQL error numbers to ErrKind.
func classifyMySQLCode(code uint16) errs.ErrKind {
	switch code {
	case errDuplicateEntry, errNoReferencedRow, errRowIsReferenced,
		errNoReferencedRow2, errRowIsReferenced2, errBadNull, errCheckViolated:
		return errs.ErrKindConstraintViolation
	case errTableExists, errDBCreateExists:
		return errs.ErrKindConflict
	case errNoSuchTable, errUnknownDatabase:
		return errs.ErrKindNotFound
	case errAccessDenied, errDBAccessDenied, errTableAccessDenied:
		return errs.ErrKindPermissionDenied
	case errLockWaitTimeout, errLockDeadlock, errQueryInterrupted, errMaxExecTime:
		return errs.ErrKindTimeout
	case errTooManyConnections, errServerShutdown, errConnCountError:
		return errs.ErrKindConnectionFailed
	default:
		return errs.ErrKindQueryFailed
	}
}
