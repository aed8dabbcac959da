// Package filestore defines the interface for object storage backends.
//
// The pipeline reads source files from a bucket and writes dead-letter
// files and validation reports back to one. Callers depend only on this
// package, never on a specific provider package.
//
// Usage:
//
//	cfg := filestore.DefaultConfig("localhost:9000", "minioadmin", "minioadmin")
//	store, err := minio.New(ctx, cfg)
//	if err != nil { ... }
//	defer store.Close()
//
//	obj, err := store.GetObject(ctx, "landing", "users.csv")
package filestore

import (
	"context"
	"io"
)

// Store is the single interface all object storage providers implement.
type Store interface {
	// Ping verifies the storage backend is reachable.
	Ping(ctx context.Context) error

	// Close releases any held resources (connections, goroutines, etc.).
	Close() error

	// GetObject opens a streaming handle to the object at key inside bucket.
	// The caller MUST call Object.Close() after reading.
	GetObject(ctx context.Context, bucket, key string) (Object, error)

	// PutObject uploads size bytes from r to key inside bucket.
	// Pass size -1 when the length is unknown.
	PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, contentType string) (*ObjectInfo, error)

	// EnsureBucket creates bucket when it does not exist yet.
	EnsureBucket(ctx context.Context, bucket string) error
}
