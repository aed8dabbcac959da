package filestore

import (
	"fmt"
	"io"
	"strings"
	"time"
)

// ObjectInfo describes a single object stored in a bucket.
type ObjectInfo struct {
	// Bucket is the bucket holding the object.
	Bucket string

	// Key is the full object path within the bucket (e.g. "errors/users.csv").
	Key string

	// Size is the byte size of the object. -1 if unknown.
	Size int64

	// ContentType is the MIME type (e.g. "text/csv").
	ContentType string

	// ETag is the object's entity tag / hash, as returned by the backend.
	ETag string

	// LastModified is when the object was last written.
	LastModified time.Time
}

// URI renders the object as s3://bucket/key.
func (o *ObjectInfo) URI() string {
	return fmt.Sprintf("s3://%s/%s", o.Bucket, o.Key)
}

// Object is a streaming handle to an object's content.
// The caller MUST call Close() after reading to avoid resource leaks.
type Object interface {
	io.ReadCloser

	// Info returns the metadata for this object.
	Info() *ObjectInfo
}

// ParseURI splits "s3://bucket/key" into its parts. ok is false when uri
// does not use the s3 scheme or lacks a key.
func ParseURI(uri string) (bucket, key string, ok bool) {
	rest, found := strings.CutPrefix(uri, "s3://")
	if !found {
		return "", "", false
	}
	bucket, key, found = strings.Cut(rest, "/")
	if !found || bucket == "" || key == "" {
		return "", "", false
	}
	return bucket, key, true
}
