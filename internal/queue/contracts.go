package queue

import (
	"context"
	"errors"
	"time"

	"github.com/mcosta/docingest-back/internal/domain"
)

// ErrJobNotFound is returned for unknown or already pruned jobs.
var ErrJobNotFound = errors.New("job not found")

type State string

const (
	StateWaiting   State = "waiting"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateDelayed   State = "delayed"
	StatePaused    State = "paused"
)

// Options control scheduling for a single enqueued job.
type Options struct {
	Priority int
	Delay    time.Duration
	Attempts int
	Backoff  time.Duration
}

// JobStatus is a point-in-time snapshot of one tracked job.
type JobStatus struct {
	ID          string                   `json:"id"`
	State       State                    `json:"state"`
	Progress    int                      `json:"progress"`
	Attempts    int                      `json:"attempts"`
	Result      *domain.ProcessingResult `json:"result,omitempty"`
	Error       string                   `json:"error,omitempty"`
	CreatedAt   time.Time                `json:"created_at"`
	ProcessedAt *time.Time               `json:"processed_at,omitempty"`
	FinishedAt  *time.Time               `json:"finished_at,omitempty"`
}

// Stats aggregates job counts per state for the queue as a whole.
type Stats struct {
	Waiting   int  `json:"waiting"`
	Active    int  `json:"active"`
	Completed int  `json:"completed"`
	Failed    int  `json:"failed"`
	Delayed   int  `json:"delayed"`
	Paused    bool `json:"paused"`
}

// Client abstracts the processing job queue. It governs dispatch to the
// worker fleet, including retry with backoff; processing-logic retries are
// the worker's concern and reach the queue only through Complete and Fail.
type Client interface {
	Enqueue(ctx context.Context, job domain.ProcessingJob, opts Options) (string, error)
	Status(ctx context.Context, jobID string) (*JobStatus, error)
	// Cancel drops a job. Cancelling a finished job is "cannot cancel",
	// reported as false, never as an error.
	Cancel(ctx context.Context, jobID string) (bool, error)
	// Retry re-queues a failed job.
	Retry(ctx context.Context, jobID string) (bool, error)
	Progress(ctx context.Context, jobID string, progress int) error
	Complete(ctx context.Context, jobID string, result *domain.ProcessingResult) error
	Fail(ctx context.Context, jobID string, message string) error
	Stats(ctx context.Context) (Stats, error)
}

// Transport hands dispatched jobs to the external worker fleet and feeds
// worker results back into the service.
type Transport interface {
	Forward(ctx context.Context, job domain.ProcessingJob) error
	ConsumeResults(ctx context.Context, handler func(context.Context, domain.CallbackPayload) error) error
}
