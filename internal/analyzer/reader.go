package analyzer

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"

	"golang.org/x/text/transform"
)

// Reader streams the data rows of a source using a detected profile.
// Preamble rows and the header row are consumed by Open.
type Reader struct {
	name   string
	closer io.Closer
	cr     *csv.Reader
	header []string
	rows   int64
}

// Open starts a full pass over src.
func Open(ctx context.Context, src Source, p *CsvProfile) (*Reader, error) {
	enc, _, err := LookupEncoding(p.Encoding)
	if err != nil {
		return nil, err
	}

	rc, err := src.Open(ctx)
	if err != nil {
		return nil, err
	}

	r := &Reader{
		name:   src.Name(),
		closer: rc,
		cr:     newCSVReader(transform.NewReader(rc, enc.NewDecoder()), p.DelimiterRune()),
	}

	for i := 0; i < p.SkipRows(); i++ {
		rec, err := r.cr.Read()
		if err != nil {
			rc.Close()
			if err == io.EOF {
				return nil, fmt.Errorf("read %s: input ended inside the first %d rows", r.name, p.SkipRows())
			}
			return nil, fmt.Errorf("read %s: %w", r.name, err)
		}
		if p.HasHeader && i == p.HeaderRowIndex {
			r.header = rec
		}
	}
	return r, nil
}

// Header returns the header row, or nil for headerless files.
func (r *Reader) Header() []string {
	return r.header
}

// Read returns the next data row. It returns io.EOF after the last row.
func (r *Reader) Read() ([]string, error) {
	rec, err := r.cr.Read()
	if err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		return nil, fmt.Errorf("read %s after %d rows: %w", r.name, r.rows, err)
	}
	r.rows++
	return rec, nil
}

// Rows is the number of data rows returned so far.
func (r *Reader) Rows() int64 {
	return r.rows
}

func (r *Reader) Close() error {
	return r.closer.Close()
}

// CountRows makes a full pass over src and returns its data row count.
func CountRows(ctx context.Context, src Source, p *CsvProfile) (int64, error) {
	r, err := Open(ctx, src, p)
	if err != nil {
		return 0, err
	}
	defer r.Close()

	for {
		if err := ctx.Err(); err != nil {
			return r.rows, err
		}
		if _, err := r.Read(); err != nil {
			if err == io.EOF {
				return r.rows, nil
			}
			return r.rows, err
		}
	}
}
