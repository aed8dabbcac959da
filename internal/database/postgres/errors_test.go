package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
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
		{"no rows", pgx.ErrNoRows, errs.ErrKindNotFound},
		{"unique violation", &pgconn.PgError{Code: "23505", Message: "duplicate key"}, errs.ErrKindConstraintViolation},
		{"not null violation", &pgconn.PgError{Code: "23502"}, errs.ErrKindConstraintViolation},
		{"connection failure", &pgconn.PgError{Code: "08006"}, errs.ErrKindConnectionFailed},
		{"duplicate table", &pgconn.PgError{Code: "42P07"}, errs.ErrKindConflict},
		{"deadlock", &pgconn.PgError{Code: "40P01"}, errs.ErrKindTimeout},
		{"auth", &pgconn.PgError{Code: "28P01"}, errs.ErrKindPermissionDenied},
		{"syntax", &pgconn.PgError{Code: "42601"}, errs.ErrKindQueryFailed},
		{"value too long", &pgconn.PgError{Code: "22001"}, errs.ErrKindQueryFailed},
		{"client side", errors.New("unable to encode"), errs.ErrKindQueryFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mapError(fmt.Errorf("wrapped: %w", tt.err), "op")
			assert.Equal(t, tt.kind, got.Kind)
			assert.ErrorIs(t, got, tt.err)
		})
	}
}

func TestMapErrorOrNil(t *testing.T) {
	assert.NoError(t, mapErrorOrNil(nil, "op"))
	assert.True(t, isMissingDatabase(&pgconn.PgError{Code: "3D000"}))
	assert.False(t, isMissingDatabase(errors.New("x")))
}
