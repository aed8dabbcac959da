package loader

import (
	"io"
	"time"
)

// chunk is a contiguous run of data rows. first is the 0-based data row
// number of rows[0].
type chunk struct {
	index int
	first int64
	rows  [][]string
}

func (c *chunk) record(i int, kind ErrorKind, msg string, at time.Time) ErrorRecord {
	return ErrorRecord{
		ChunkIndex: c.index,
		RowIndex:   i,
		RowNumber:  c.first + int64(i) + 1,
		RawRow:     c.rows[i],
		Kind:       kind,
		Message:    msg,
		At:         at,
	}
}

// rowReader is the part of analyzer.Reader the chunker needs.
type rowReader interface {
	Read() ([]string, error)
}

// nextChunk reads up to size rows. It returns nil at end of input.
func nextChunk(r rowReader, index int, first int64, size int) (*chunk, error) {
	ch := &chunk{index: index, first: first, rows: make([][]string, 0, min(size, 1024))}
	for len(ch.rows) < size {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		ch.rows = append(ch.rows, rec)
	}
	if len(ch.rows) == 0 {
		return nil, nil
	}
	return ch, nil
}
