package artifact

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	gojson "github.com/goccy/go-json"
	"github.com/koustreak/csvingest/internal/errs"
	"github.com/koustreak/csvingest/internal/filestore"
	"github.com/koustreak/csvingest/internal/loader"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type bucketStore struct {
	buckets  map[string]int
	objects  map[string][]byte
	types    map[string]string
	failWith error
}

func newBucketStore() *bucketStore {
	return &bucketStore{buckets: map[string]int{}, objects: map[string][]byte{}, types: map[string]string{}}
}

func (b *bucketStore) Ping(context.Context) error { return nil }
func (b *bucketStore) Close() error               { return nil }

func (b *bucketStore) GetObject(context.Context, string, string) (filestore.Object, error) {
	return nil, errs.New(errs.ErrKindNotFound, "not used")
}

func (b *bucketStore) PutObject(_ context.Context, bucket, key string, r io.Reader, _ int64, contentType string) (*filestore.ObjectInfo, error) {
	if b.failWith != nil {
		return nil, b.failWith
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	b.objects[bucket+"/"+key] = data
	b.types[bucket+"/"+key] = contentType
	return &filestore.ObjectInfo{Bucket: bucket, Key: key, Size: int64(len(data))}, nil
}

func (b *bucketStore) EnsureBucket(_ context.Context, bucket string) error {
	b.buckets[bucket]++
	return nil
}

var at = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func rejects() []loader.ErrorRecord {
	return []loader.ErrorRecord{
		{ChunkIndex: 0, RowIndex: 1, RowNumber: 2, RawRow: []string{"bob", "x", "2.0"}, Kind: loader.KindCoercionFailed, Message: `column "age": "x" is not a valid integer`, At: at},
		{ChunkIndex: 0, RowIndex: 4, RowNumber: 5, RawRow: []string{"eve"}, Kind: loader.KindFieldCountMismatch, Message: "expected 3 fields, got 1", At: at},
		{ChunkIndex: 1, RowIndex: 0, RowNumber: 6, RawRow: []string{"fay", "1", "2", "3", "4"}, Kind: loader.KindFieldCountMismatch, Message: "expected 3 fields, got 5", At: at},
	}
}

func TestNewStore(t *testing.T) {
	objects := newBucketStore()

	s, err := NewStore("s3://artifacts/runs/", objects)
	require.NoError(t, err)
	require.IsType(t, &ObjectStore{}, s)
	assert.Equal(t, "s3://artifacts/runs/x.csv", s.Location("x.csv"))

	s, err = NewStore("s3://artifacts", objects)
	require.NoError(t, err)
	assert.Equal(t, "s3://artifacts/x.csv", s.Location("x.csv"))

	_, err = NewStore("s3://artifacts", nil)
	assert.True(t, errs.IsInvalidInput(err))
	_, err = NewStore("s3:///errors", objects)
	assert.True(t, errs.IsInvalidInput(err))

	s, err = NewStore("errors", nil)
	require.NoError(t, err)
	assert.Equal(t, &DirStore{Dir: "errors"}, s)
}

func TestDirStore_Put(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "errors")
	s := &DirStore{Dir: dir}

	loc, err := s.Put(context.Background(), "a.txt", []byte("hello"), "text/plain")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "a.txt"), loc)

	data, err := os.ReadFile(loc)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files are cleaned up")
}

func TestObjectStore_EnsuresBucketOnce(t *testing.T) {
	objects := newBucketStore()
	s := &ObjectStore{Store: objects, Bucket: "artifacts", Prefix: "runs"}

	for _, name := range []string{"a.csv", "b.csv"} {
		loc, err := s.Put(context.Background(), name, []byte("x"), "text/csv")
		require.NoError(t, err)
		assert.Equal(t, "s3://artifacts/runs/"+name, loc)
	}
	assert.Equal(t, 1, objects.buckets["artifacts"])
	assert.Equal(t, "text/csv", objects.types["artifacts/runs/a.csv"])

	objects.failWith = errs.New(errs.ErrKindPermissionDenied, "access denied")
	_, err := s.Put(context.Background(), "c.csv", []byte("x"), "text/csv")
	assert.True(t, errs.IsPermissionDenied(err))
}

func TestDeadLetters_CSV(t *testing.T) {
	dir := t.TempDir()
	d := NewDeadLetters(&DirStore{Dir: dir}, "people", []string{"name", "age", "score"}, FormatCSV)

	require.NoError(t, d.WriteRejects(context.Background(), "run-1", rejects()))
	assert.Equal(t, filepath.Join(dir, "people_errors_run-1.csv"), d.Location())

	f, err := os.Open(d.Location())
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4)

	assert.Equal(t, []string{"name", "age", "score", "extra_1", "extra_2",
		"run_id", "chunk_index", "row_index", "error_type", "error_message", "error_timestamp"}, records[0])
	assert.Equal(t, []string{"bob", "x", "2.0", "", "", "run-1", "0", "1", "CoercionFailed",
		`column "age": "x" is not a valid integer`, "2024-05-01T12:00:00Z"}, records[1])
	assert.Equal(t, []string{"eve", "", "", "", ""}, records[2][:5])
	assert.Equal(t, []string{"fay", "1", "2", "3", "4"}, records[3][:5])
}

func TestDeadLetters_JSONL(t *testing.T) {
	objects := newBucketStore()
	store := &ObjectStore{Store: objects, Bucket: "errors"}
	d := NewDeadLetters(store, "people", nil, FormatJSONL)

	require.NoError(t, d.WriteRejects(context.Background(), "run-2", rejects()))
	assert.Equal(t, "s3://errors/people_errors_run-2.jsonl", d.Location())

	sc := bufio.NewScanner(bytes.NewReader(objects.objects["errors/people_errors_run-2.jsonl"]))
	var lines []map[string]any
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, gojson.Unmarshal(sc.Bytes(), &m))
		lines = append(lines, m)
	}
	require.Len(t, lines, 3)
	assert.Equal(t, "run-2", lines[0]["run_id"])
	assert.Equal(t, "CoercionFailed", lines[0]["error_type"])
	assert.Equal(t, float64(1), lines[2]["chunk_index"])
	assert.Equal(t, []any{"fay", "1", "2", "3", "4"}, lines[2]["raw_row"])
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in   string
		want Format
		ok   bool
	}{
		{"", FormatCSV, true},
		{"CSV", FormatCSV, true},
		{"jsonl", FormatJSONL, true},
		{"ndjson", FormatJSONL, true},
		{"parquet", "", false},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if !tt.ok {
			assert.True(t, errs.IsInvalidInput(err), tt.in)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestNames(t *testing.T) {
	assert.Equal(t, "users_errors_abc.csv", FileName("users", "abc", FormatCSV))
	assert.Equal(t, "users_validation_abc.json", ReportName("users", "abc", "json"))
}
