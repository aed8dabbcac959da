package minio

import (
	"context"
	"errors"
	"net/http"

	"github.com/koustreak/csvingest/internal/errs"
	miniogo "github.com/minio/minio-go/v7"
)

// mapError translates a MinIO SDK error into a *errs.Error.
// It mirrors the mapError pattern used in the database drivers.
func mapError(err error, msg string) *errs.Error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errs.Wrap(errs.ErrKindTimeout, msg, err)
	}

	// S3-protocol failures arrive as a typed ErrorResponse
	var resp miniogo.ErrorResponse
	if errors.As(err, &resp) {
		return errs.Wrap(classifyResponse(resp), msg, err)
	}

	return errs.Wrap(errs.ErrKindConnectionFailed, msg, err)
}

func classifyResponse(resp miniogo.ErrorResponse) errs.ErrKind {
	switch resp.Code {
	case "NoSuchBucket", "NoSuchKey", "NoSuchUpload":
		return errs.ErrKindNotFound
	case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
		return errs.ErrKindPermissionDenied
	case "InvalidBucketName", "InvalidObjectName", "KeyTooLongError":
		return errs.ErrKindInvalidInput
	case "BucketAlreadyOwnedByYou", "BucketAlreadyExists":
		return errs.ErrKindConflict
	case "RequestTimeout", "SlowDown":
		return errs.ErrKindTimeout
	}

	switch resp.StatusCode {
	case http.StatusNotFound:
		return errs.ErrKindNotFound
	case http.StatusForbidden, http.StatusUnauthorized:
		return errs.ErrKindPermissionDenied
	case http.StatusBadRequest:
		return errs.ErrKindInvalidInput
	case http.StatusConflict:
		return errs.ErrKindConflict
	case http.StatusServiceUnavailable:
		return errs.ErrKindTimeout
	}
	return errs.ErrKindQueryFailed
}
