package queue

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/mcosta/docingest-back/internal/domain"
)

type localResult struct {
	payload domain.CallbackPayload
	attempt int
}

// LocalTransport is a fallback transport used when Redis is not configured.
// Forwarded jobs are handed to an in-process worker over a channel; worker
// results come back the same way.
type LocalTransport struct {
	jobs        chan domain.ProcessingJob
	results     chan localResult
	maxAttempts int
	logger      *log.Logger

	dlqMu sync.Mutex
	dlq   []domain.CallbackPayload
}

func NewLocalTransport(bufferSize, maxAttempts int, logger *log.Logger) *LocalTransport {
	if bufferSize <= 0 {
		bufferSize = 512
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &LocalTransport{
		jobs:        make(chan domain.ProcessingJob, bufferSize),
		results:     make(chan localResult, bufferSize),
		maxAttempts: maxAttempts,
		logger:      logger,
		dlq:         make([]domain.CallbackPayload, 0),
	}
}

func (t *LocalTransport) Forward(ctx context.Context, job domain.ProcessingJob) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case t.jobs <- job:
		return nil
	}
}

// Jobs exposes the forwarded job stream for the in-process worker.
func (t *LocalTransport) Jobs() <-chan domain.ProcessingJob {
	return t.jobs
}

// PublishResult delivers a worker result back to the service side.
func (t *LocalTransport) PublishResult(ctx context.Context, payload domain.CallbackPayload) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case t.results <- localResult{payload: payload}:
		return nil
	}
}

func (t *LocalTransport) ConsumeResults(
	ctx context.Context,
	handler func(context.Context, domain.CallbackPayload) error,
) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case result := <-t.results:
			err := handler(ctx, result.payload)
			if err == nil {
				continue
			}

			result.attempt++
			if result.attempt >= t.maxAttempts {
				t.dlqMu.Lock()
				t.dlq = append(t.dlq, result.payload)
				t.dlqMu.Unlock()
				if t.logger != nil {
					t.logger.Printf("local transport moved result to DLQ document_id=%s err=%v", result.payload.DocumentID, err)
				}
				continue
			}

			delay := time.Duration(result.attempt) * 500 * time.Millisecond
			go func(retryResult localResult) {
				timer := time.NewTimer(delay)
				defer timer.Stop()
				select {
				case <-ctx.Done():
					return
				case <-timer.C:
					t.results <- retryResult
				}
			}(result)
		}
	}
}

func (t *LocalTransport) DLQSize() int {
	t.dlqMu.Lock()
	defer t.dlqMu.Unlock()
	return len(t.dlq)
}
