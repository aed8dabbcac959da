package loader

import (
	"context"
	"errors"
	"time"

	"github.com/koustreak/csvingest/internal/errs"
)

// outcome is the final state of a chunk after retries.
type outcome int

const (
	outcomeSuccess outcome = iota
	// outcomeTransient means every attempt failed with a transient error.
	outcomeTransient
	outcomeFatal
)

func (o outcome) String() string {
	switch o {
	case outcomeSuccess:
		return "success"
	case outcomeTransient:
		return "transient"
	default:
		return "fatal"
	}
}

type attemptResult struct {
	outcome  outcome
	attempts int
	written  written
	err      error
}

// writeWithRetry writes p, retrying the whole chunk after a transient
// failure up to MaxRetries times with a fixed backoff between attempts.
// A failed commit is never retried.
func (l *Loader) writeWithRetry(ctx context.Context, p *prepared) attemptResult {
	for attempt := 1; ; attempt++ {
		w, err := l.write(ctx, p)
		if err == nil {
			return attemptResult{outcome: outcomeSuccess, attempts: attempt, written: w}
		}
		var ce *commitError
		if ctx.Err() != nil || !errs.IsTransient(err) || errors.As(err, &ce) {
			return attemptResult{outcome: outcomeFatal, attempts: attempt, err: err}
		}
		if attempt > l.opts.MaxRetries {
			return attemptResult{outcome: outcomeTransient, attempts: attempt, err: err}
		}

		l.log.WarnWith("transient chunk failure, retrying", err, map[string]interface{}{
			"chunk":   p.chunk.index,
			"attempt": attempt,
			"backoff": l.opts.RetryBackoff.String(),
		})
		if err := sleep(ctx, l.opts.RetryBackoff); err != nil {
			return attemptResult{outcome: outcomeFatal, attempts: attempt, err: err}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
