package analyzer

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"

	"github.com/koustreak/csvingest/internal/errs"
	"github.com/koustreak/csvingest/internal/filestore"
)

// Source is a re-openable byte stream. Every pass over the input (analysis,
// loading, source comparison) opens it afresh.
type Source interface {
	// Name identifies the input in logs, errors and dead-letter files.
	Name() string

	// Open returns a new reader positioned at the start of the input.
	Open(ctx context.Context) (io.ReadCloser, error)
}

// FileSource reads from the local filesystem.
type FileSource struct {
	Path string
}

func (s FileSource) Name() string { return s.Path }

func (s FileSource) Open(_ context.Context) (io.ReadCloser, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		switch {
		case errors.Is(err, fs.ErrNotExist):
			return nil, errs.Wrap(errs.ErrKindNotFound, "input file not found", err)
		case errors.Is(err, fs.ErrPermission):
			return nil, errs.Wrap(errs.ErrKindPermissionDenied, "input file not readable", err)
		}
		return nil, errs.Wrap(errs.ErrKindUnknown, "failed to open input file", err)
	}
	return f, nil
}

// ObjectSource reads an object from a filestore bucket.
type ObjectSource struct {
	Store  filestore.Store
	Bucket string
	Key    string
}

func (s ObjectSource) Name() string {
	return (&filestore.ObjectInfo{Bucket: s.Bucket, Key: s.Key}).URI()
}

func (s ObjectSource) Open(ctx context.Context) (io.ReadCloser, error) {
	return s.Store.GetObject(ctx, s.Bucket, s.Key)
}

// NewSource resolves location to a Source. "s3://bucket/key" locations
// need a store; anything else is treated as a local path.
func NewSource(location string, store filestore.Store) (Source, error) {
	if bucket, key, ok := filestore.ParseURI(location); ok {
		if store == nil {
			return nil, errs.Newf(errs.ErrKindInvalidInput, "object store is not configured for %s", location)
		}
		return ObjectSource{Store: store, Bucket: bucket, Key: key}, nil
	}
	if location == "" {
		return nil, errs.New(errs.ErrKindInvalidInput, "input location is empty")
	}
	return FileSource{Path: location}, nil
}
