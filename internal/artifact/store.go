// Package artifact persists run outputs: dead-letter files and validation
// reports. Outputs go to a local directory or to an object storage bucket.
package artifact

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/koustreak/csvingest/internal/errs"
	"github.com/koustreak/csvingest/internal/filestore"
)

// Store writes named artifacts and reports where they ended up.
type Store interface {
	Put(ctx context.Context, name string, data []byte, contentType string) (string, error)
	Location(name string) string
}

// NewStore resolves dest to a Store. "s3://bucket[/prefix]" needs an
// object store; anything else is a local directory.
func NewStore(dest string, objects filestore.Store) (Store, error) {
	if rest, ok := strings.CutPrefix(dest, "s3://"); ok {
		bucket, prefix, _ := strings.Cut(rest, "/")
		if bucket == "" {
			return nil, errs.Newf(errs.ErrKindInvalidInput, "artifact destination %q has no bucket", dest)
		}
		if objects == nil {
			return nil, errs.Newf(errs.ErrKindInvalidInput, "object store is not configured for %s", dest)
		}
		return &ObjectStore{Store: objects, Bucket: bucket, Prefix: strings.Trim(prefix, "/")}, nil
	}
	if dest == "" {
		dest = "."
	}
	return &DirStore{Dir: dest}, nil
}

// DirStore writes artifacts below a local directory, creating it on first use.
type DirStore struct {
	Dir string
}

func (s *DirStore) Location(name string) string {
	return filepath.Join(s.Dir, name)
}

// Put writes data under a temporary name and renames it into place, so a
// reader never sees a partial file.
func (s *DirStore) Put(_ context.Context, name string, data []byte, _ string) (string, error) {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return "", mapFSError(err, "failed to create artifact directory")
	}
	dst := s.Location(name)
	tmp, err := os.CreateTemp(s.Dir, "."+name+".*")
	if err != nil {
		return "", mapFSError(err, "failed to create artifact file")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", mapFSError(err, "failed to write artifact")
	}
	if err := tmp.Close(); err != nil {
		return "", mapFSError(err, "failed to write artifact")
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", mapFSError(err, "failed to move artifact into place")
	}
	return dst, nil
}

func mapFSError(err error, msg string) error {
	if errors.Is(err, fs.ErrPermission) {
		return errs.Wrap(errs.ErrKindPermissionDenied, msg, err)
	}
	return errs.Wrap(errs.ErrKindUnknown, msg, err)
}

// ObjectStore writes artifacts as objects under Prefix in Bucket. The
// bucket is created on first use.
type ObjectStore struct {
	Store  filestore.Store
	Bucket string
	Prefix string

	once      sync.Once
	bucketErr error
}

func (s *ObjectStore) key(name string) string {
	if s.Prefix == "" {
		return name
	}
	return path.Join(s.Prefix, name)
}

func (s *ObjectStore) Location(name string) string {
	return (&filestore.ObjectInfo{Bucket: s.Bucket, Key: s.key(name)}).URI()
}

func (s *ObjectStore) Put(ctx context.Context, name string, data []byte, contentType string) (string, error) {
	s.once.Do(func() {
		s.bucketErr = s.Store.EnsureBucket(ctx, s.Bucket)
	})
	if s.bucketErr != nil {
		return "", s.bucketErr
	}
	info, err := s.Store.PutObject(ctx, s.Bucket, s.key(name), bytes.NewReader(data), int64(len(data)), contentType)
	if err != nil {
		return "", err
	}
	return info.URI(), nil
}
