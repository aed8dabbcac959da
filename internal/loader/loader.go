// Package loader streams a profiled CSV source into a provisioned table in
// fixed-size chunks. Each chunk commits in its own transaction; rows that
// fail local coercion or the insert itself are dead-lettered instead of
// failing the run, up to an error budget.
package loader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/koustreak/csvingest/internal/analyzer"
	"github.com/koustreak/csvingest/internal/database"
	"github.com/koustreak/csvingest/internal/errs"
	"github.com/koustreak/csvingest/internal/inference"
	"github.com/koustreak/csvingest/internal/logger"
	"github.com/koustreak/csvingest/internal/provision"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultChunkSize    = 5000
	DefaultMaxErrors    = 1000
	DefaultMaxRetries   = 3
	DefaultRetryBackoff = 5 * time.Second
)

// Options tunes a load run.
type Options struct {
	RunID     string
	ChunkSize int
	Strategy  Strategy
	// Workers bounds the number of chunks in flight. Each holds one pooled
	// connection for the life of its transaction.
	Workers int
	// MaxErrors is the number of rejected rows a run tolerates. Negative
	// means unlimited.
	MaxErrors    int
	MaxRetries   int
	RetryBackoff time.Duration
	// Mode decides what happens to a value that does not conform to its
	// column type: strict rejects the row, relaxed and auto store NULL in
	// columns whose inference tolerated mismatches.
	Mode inference.Mode
}

// DefaultOptions returns the documented defaults.
func DefaultOptions() Options {
	return Options{
		ChunkSize:    DefaultChunkSize,
		Strategy:     StrategyAuto,
		Workers:      1,
		MaxErrors:    DefaultMaxErrors,
		MaxRetries:   DefaultMaxRetries,
		RetryBackoff: DefaultRetryBackoff,
		Mode:         inference.ModeAuto,
	}
}

// Loader writes one source into one table.
type Loader struct {
	db      database.DB
	sink    DeadLetterSink
	log     *logger.Logger
	opts    Options
	table   *provision.TableHandle
	columns []string
	clock   func() time.Time
}

// New creates a Loader. sink may be nil, in which case rejects are only
// reported in the summary.
func New(db database.DB, sink DeadLetterSink, log *logger.Logger, opts Options) *Loader {
	if log == nil {
		log = logger.L()
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Strategy == "" {
		opts.Strategy = StrategyAuto
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	return &Loader{db: db, sink: sink, log: log, opts: opts}
}

// Load streams src into h. On a fatal error the returned summary still
// reports every chunk that committed, and the error carries the dead-letter
// location when rejects were persisted.
func (l *Loader) Load(ctx context.Context, src analyzer.Source, profile *analyzer.CsvProfile, h *provision.TableHandle) (*LoadSummary, error) {
	start := time.Now()
	l.table = h
	l.columns = h.InsertColumns()
	l.log = l.log.Stage("load", l.opts.RunID, h.Table)

	r, err := analyzer.Open(ctx, src, profile)
	if err != nil {
		return nil, errs.Load(errs.CodeChunkFailed, src.Name(), "cannot open input", err)
	}
	defer r.Close()

	l.log.InfoWith("load started", map[string]interface{}{
		"chunk_size": l.opts.ChunkSize,
		"strategy":   string(l.opts.Strategy),
		"workers":    l.opts.Workers,
	})

	co := newCoercer(h, profile.FieldCount, l.opts.Mode != inference.ModeStrict)
	run := &aggregate{maxErrors: l.opts.MaxErrors}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.opts.Workers)

	var readErr error
	var first int64
	for index := 0; gctx.Err() == nil; index++ {
		ch, err := nextChunk(r, index, first, l.opts.ChunkSize)
		if err != nil {
			readErr = err
			break
		}
		if ch == nil {
			break
		}
		first += int64(len(ch.rows))
		g.Go(func() error {
			return l.loadChunk(gctx, co, ch, run)
		})
	}
	runErr := g.Wait()
	if runErr == nil && readErr != nil {
		runErr = errs.Load(errs.CodeChunkFailed, src.Name(), "cannot read input", readErr)
	}
	if runErr == nil && ctx.Err() != nil {
		runErr = errs.Load(errs.CodeChunkFailed, src.Name(), "load cancelled", ctx.Err())
	}

	s := run.summary(runErr == nil, time.Since(start))
	s.RunID = l.opts.RunID
	s.Table = h.Table

	if err := l.persist(ctx, s); err != nil {
		if runErr == nil {
			runErr = errs.Load(errs.CodeChunkFailed, src.Name(), "cannot persist rejected rows", err)
			s.Complete = false
			s.Status = StatusFailed
		} else {
			l.log.ErrorWith("cannot persist rejected rows", err, nil)
		}
	}

	if runErr != nil {
		if se, ok := errs.AsStage(runErr); ok && se.DeadLetter == "" {
			se.DeadLetter = s.DeadLetter
		}
		l.log.ErrorWith("load aborted", runErr, map[string]interface{}{
			"rows_loaded":      s.RowsLoaded,
			"rows_rejected":    s.RowsRejected,
			"chunks_processed": s.ChunksProcessed,
		})
		return s, runErr
	}

	l.log.InfoWith("load finished", map[string]interface{}{
		"rows_read":     s.RowsRead,
		"rows_loaded":   s.RowsLoaded,
		"rows_rejected": s.RowsRejected,
		"chunks":        s.ChunksProcessed,
		"status":        string(s.Status),
		"elapsed":       s.Elapsed.String(),
	})
	return s, nil
}

// loadChunk coerces, writes and merges one chunk.
func (l *Loader) loadChunk(ctx context.Context, co *coercer, ch *chunk, run *aggregate) error {
	// Queued behind a failed chunk.
	if err := ctx.Err(); err != nil {
		return err
	}
	p := co.prepare(ch, l.now())
	res := l.writeWithRetry(ctx, p)

	input := fmt.Sprintf("%s chunk %d (rows %d-%d)", l.table.Table, ch.index, ch.first+1, ch.first+int64(len(ch.rows)))
	switch res.outcome {
	case outcomeTransient:
		code := errs.CodeChunkRetryExhausted
		if errs.IsConnectionFailed(res.err) {
			code = errs.CodeConnectionLost
		}
		return errs.Load(code, input, fmt.Sprintf("gave up after %d attempts", res.attempts), res.err)
	case outcomeFatal:
		var ce *commitError
		if errors.As(res.err, &ce) {
			return errs.Load(errs.CodeChunkFailed, input, "commit outcome unknown, chunk not retried", res.err)
		}
		return errs.Load(errs.CodeChunkFailed, input, "chunk rolled back", res.err)
	}

	rejects := append(p.rejects, res.written.rejects...)
	stat := ChunkStat{
		Index:    ch.index,
		Rows:     len(ch.rows),
		Loaded:   res.written.loaded,
		Rejected: len(rejects),
		Attempts: res.attempts,
		FellBack: res.written.fellBack,
	}
	l.log.With().Int("chunk", ch.index).Int64("loaded", stat.Loaded).Int("rejected", stat.Rejected).Logger().
		Debug("chunk committed")

	if !run.merge(stat, rejects) {
		return errs.Load(errs.CodeErrorBudgetExceeded, l.table.Table,
			fmt.Sprintf("more than %d rows rejected", l.opts.MaxErrors), nil)
	}
	return nil
}

// persist hands the run's rejects to the sink. It runs even after the run
// context is cancelled so an aborted run still leaves its dead letters.
func (l *Loader) persist(ctx context.Context, s *LoadSummary) error {
	if l.sink == nil || len(s.Rejects) == 0 {
		return nil
	}
	if err := l.sink.WriteRejects(context.WithoutCancel(ctx), l.opts.RunID, s.Rejects); err != nil {
		return err
	}
	s.DeadLetter = l.sink.Location()
	l.log.InfoWith("rejected rows written", map[string]interface{}{
		"rows":     len(s.Rejects),
		"location": s.DeadLetter,
	})
	return nil
}
