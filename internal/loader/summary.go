package loader

import (
	"sort"
	"sync"
	"time"
)

// Status is the outcome of a load run.
type Status string

const (
	StatusCompleted           Status = "completed"
	StatusCompletedWithErrors Status = "completed_with_errors"
	StatusFailed              Status = "failed"
)

// ChunkStat records how one committed chunk went.
type ChunkStat struct {
	Index    int   `json:"index" yaml:"index"`
	Rows     int   `json:"rows" yaml:"rows"`
	Loaded   int64 `json:"loaded" yaml:"loaded"`
	Rejected int   `json:"rejected" yaml:"rejected"`
	Attempts int   `json:"attempts" yaml:"attempts"`
	FellBack bool  `json:"fell_back,omitempty" yaml:"fell_back,omitempty"`
}

// LoadSummary reports a load run. For a complete run
// RowsLoaded + RowsRejected == RowsRead. An aborted run counts only the
// chunks that finished.
type LoadSummary struct {
	RunID           string              `json:"run_id" yaml:"run_id"`
	Table           string              `json:"table" yaml:"table"`
	RowsRead        int64               `json:"rows_read" yaml:"rows_read"`
	RowsLoaded      int64               `json:"rows_loaded" yaml:"rows_loaded"`
	RowsRejected    int64               `json:"rows_rejected" yaml:"rows_rejected"`
	ChunksProcessed int                 `json:"chunks_processed" yaml:"chunks_processed"`
	Elapsed         time.Duration       `json:"elapsed" yaml:"elapsed"`
	Complete        bool                `json:"complete" yaml:"complete"`
	Status          Status              `json:"status" yaml:"status"`
	SuccessRate     float64             `json:"success_rate" yaml:"success_rate"`
	ErrorCounts     map[ErrorKind]int64 `json:"error_counts,omitempty" yaml:"error_counts,omitempty"`
	DeadLetter      string              `json:"dead_letter,omitempty" yaml:"dead_letter,omitempty"`
	Chunks          []ChunkStat         `json:"chunks,omitempty" yaml:"chunks,omitempty"`
	Rejects         []ErrorRecord       `json:"-" yaml:"-"`
}

// aggregate collects chunk results from concurrent workers.
type aggregate struct {
	mu        sync.Mutex
	maxErrors int
	chunks    []ChunkStat
	rejects   []ErrorRecord
	read      int64
	loaded    int64
	rejected  int64
}

// merge adds a committed chunk. It reports false once the run's rejects
// exceed the error budget.
func (a *aggregate) merge(stat ChunkStat, rejects []ErrorRecord) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.chunks = append(a.chunks, stat)
	a.rejects = append(a.rejects, rejects...)
	a.read += int64(stat.Rows)
	a.loaded += stat.Loaded
	a.rejected += int64(len(rejects))
	return a.maxErrors < 0 || a.rejected <= int64(a.maxErrors)
}

func (a *aggregate) summary(complete bool, elapsed time.Duration) *LoadSummary {
	a.mu.Lock()
	defer a.mu.Unlock()

	chunks := append([]ChunkStat(nil), a.chunks...)
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].Index < chunks[j].Index })
	rejects := append([]ErrorRecord(nil), a.rejects...)
	sortRecords(rejects)

	s := &LoadSummary{
		RowsRead:        a.read,
		RowsLoaded:      a.loaded,
		RowsRejected:    a.rejected,
		ChunksProcessed: len(chunks),
		Elapsed:         elapsed,
		Complete:        complete,
		Chunks:          chunks,
		Rejects:         rejects,
	}
	if len(rejects) > 0 {
		s.ErrorCounts = make(map[ErrorKind]int64)
		for _, r := range rejects {
			s.ErrorCounts[r.Kind]++
		}
	}
	if s.RowsRead > 0 {
		s.SuccessRate = float64(s.RowsLoaded) / float64(s.RowsRead) * 100
	}
	switch {
	case !complete:
		s.Status = StatusFailed
	case s.RowsRejected > 0:
		s.Status = StatusCompletedWithErrors
	default:
		s.Status = StatusCompleted
	}
	return s
}
