package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/wegman-software/osmingest-go/internal/denorm"
	"github.com/wegman-software/osmingest-go/internal/spatial"
)

// Status is the terminal state of a run.
type Status int

const (
	StatusSucceeded Status = iota
	StatusFailed
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	}
	return "unknown"
}

// Result holds the counters and outcome of a run. Counters gathered before a
// fatal error are kept.
type Result struct {
	Status      Status
	Denormalize denorm.Summary
	Spatial     spatial.Summary
	// Err is the fatal error, nil on success.
	Err      error
	Duration time.Duration
}

// finish sets the status from err and the context.
func (r *Result) finish(ctx context.Context, err error, started time.Time) *Result {
	r.Duration = time.Since(started)
	r.Err = err
	switch {
	case err == nil:
		r.Status = StatusSucceeded
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil:
		r.Status = StatusCancelled
	default:
		r.Status = StatusFailed
	}
	return r
}
