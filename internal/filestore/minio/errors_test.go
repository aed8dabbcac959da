package minio

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/koustreak/csvingest/internal/errs"
	miniogo "github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind errs.ErrKind
	}{
		{"deadline", context.DeadlineExceeded, errs.ErrKindTimeout},
		{"no such key", miniogo.ErrorResponse{Code: "NoSuchKey", StatusCode: http.StatusNotFound}, errs.ErrKindNotFound},
		{"access denied", miniogo.ErrorResponse{Code: "AccessDenied", StatusCode: http.StatusForbidden}, errs.ErrKindPermissionDenied},
		{"bucket owned", miniogo.ErrorResponse{Code: "BucketAlreadyOwnedByYou", StatusCode: http.StatusConflict}, errs.ErrKindConflict},
		{"status only", miniogo.ErrorResponse{StatusCode: http.StatusServiceUnavailable}, errs.ErrKindTimeout},
		{"wrapped response", fmt.Errorf("upload: %w", miniogo.ErrorResponse{Code: "NoSuchBucket"}), errs.ErrKindNotFound},
		{"transport", errors.New("dial tcp: connection refused"), errs.ErrKindConnectionFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mapError(tt.err, "op")
			assert.Equal(t, tt.kind, got.Kind)
			assert.Equal(t, tt.err, got.Cause)
		})
	}

	assert.Nil(t, mapError(nil, "op"))
}
