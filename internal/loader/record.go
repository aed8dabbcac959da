package loader

import (
	"context"
	"sort"
	"time"
)

// ErrorKind is the stable reason a row was dead-lettered.
type ErrorKind string

const (
	KindFieldCountMismatch  ErrorKind = "FieldCountMismatch"
	KindNullViolation       ErrorKind = "NullViolation"
	KindValueTooLong        ErrorKind = "ValueTooLong"
	KindCoercionFailed      ErrorKind = "CoercionFailed"
	KindConstraintViolation ErrorKind = "ConstraintViolation"
	KindInsertFailed        ErrorKind = "InsertFailed"
)

// ErrorRecord is one rejected row. RawRow holds the original field values.
type ErrorRecord struct {
	ChunkIndex int       `json:"chunk_index"`
	RowIndex   int       `json:"row_index"`
	RowNumber  int64     `json:"row_number"`
	RawRow     []string  `json:"raw_row"`
	Kind       ErrorKind `json:"error_type"`
	Message    string    `json:"error_message"`
	At         time.Time `json:"error_timestamp"`
}

// DeadLetterSink persists rejected rows. The loader hands it every record of
// a run in chunk and row order, once, when the run finishes or aborts.
type DeadLetterSink interface {
	WriteRejects(ctx context.Context, runID string, recs []ErrorRecord) error
	Location() string
}

func sortRecords(recs []ErrorRecord) {
	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].ChunkIndex != recs[j].ChunkIndex {
			return recs[i].ChunkIndex < recs[j].ChunkIndex
		}
		return recs[i].RowIndex < recs[j].RowIndex
	})
}
