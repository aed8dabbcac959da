package mysql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/koustreak/csvingest/internal/errs"
	"github.com/stretchr/testify/assert"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind errs.ErrKind
	}{
		{"deadline", context.DeadlineExceeded, errs.ErrKindTimeout},
		{"no rows", sql.ErrNoRows, errs.ErrKindNotFound},
		{"duplicate entry", &mysql.MySQLError{Number: 1062, Message: "Duplicate entry '2' for key 'PRIMARY'"}, errs.ErrKindConstraintViolation},
		{"fk violation", &mysql.MySQLError{Number: 1452}, errs.ErrKindConstraintViolation},
		{"table exists", &mysql.MySQLError{Number: 1050}, errs.ErrKindConflict},
		{"lock wait", &mysql.MySQLError{Number: 1205}, errs.ErrKindTimeout},
		{"access denied", &mysql.MySQLError{Number: 1045}, errs.ErrKindPermissionDenied},
		{"syntax", &mysql.MySQLError{Number: 1064}, errs.ErrKindQueryFailed},
		{"bad conn", driver.ErrBadConn, errs.ErrKindConnectionFailed},
		{"invalid conn", mysql.ErrInvalidConn, errs.ErrKindConnectionFailed},
		{"other", errors.New("sql: converting argument"), errs.ErrKindQueryFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mapError(tt.err, "op")
			assert.Equal(t, tt.kind, got.Kind)
		})
	}
}

func TestMapError_TransientKinds(t *testing.T) {
	assert.True(t, errs.IsTransient(mapError(&mysql.MySQLError{Number: 1213}, "op")))
	assert.True(t, errs.IsTransient(mapError(driver.ErrBadConn, "op")))
	assert.False(t, errs.IsTransient(mapError(&mysql.MySQLError{Number: 1062}, "op")))
}
