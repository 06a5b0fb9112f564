package scheduler

import (
	"context"
	"time"
)

// Job represents a unit of work that can be executed by the worker pool.
type Job interface {
	// Execute runs the job. The context carries the per-job timeout.
	Execute(ctx context.Context) error

	// UserID returns the user ID associated with this job, for logging.
	UserID() string

	// Description returns a human-readable description of the job.
	Description() string
}

// JobResult is reported once per executed job when the pool has a results
// channel.
type JobResult struct {
	Description string
	UserID      string
	Err         error
	Duration    time.Duration
}
