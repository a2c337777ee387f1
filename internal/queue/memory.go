package queue

import (
	"container/heap"
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mcosta/docingest-back/internal/domain"
)

// Config bounds the in-memory queue client.
type Config struct {
	DefaultAttempts    int
	DefaultBackoff     time.Duration
	MaxBackoff         time.Duration
	CompletedHistory   int
	FailedHistory      int
	ForwardConcurrency int
}

func (c Config) withDefaults() Config {
	if c.DefaultAttempts <= 0 {
		c.DefaultAttempts = 3
	}
	if c.DefaultBackoff <= 0 {
		c.DefaultBackoff = 2 * time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 60 * time.Second
	}
	if c.CompletedHistory <= 0 {
		c.CompletedHistory = 50
	}
	if c.FailedHistory <= 0 {
		c.FailedHistory = 100
	}
	if c.ForwardConcurrency <= 0 {
		c.ForwardConcurrency = 4
	}
	return c
}

type memoryJob struct {
	id         string
	payload    domain.ProcessingJob
	opts       Options
	state      State
	attempt    int
	progress   int
	result     *domain.ProcessingResult
	errMessage string

	createdAt   time.Time
	processedAt *time.Time
	finishedAt  *time.Time

	readyAt time.Time
	seq     uint64
	removed bool
}

// DispatchFailureHandler is notified when a job's forward retries are
// exhausted and the job goes terminally failed without ever reaching a
// worker. No worker saw the job, so no result callback will arrive for it.
type DispatchFailureHandler func(ctx context.Context, job domain.ProcessingJob, message string)

// MemoryQueue is an in-process priority queue client. A single dispatch loop
// pops jobs by priority (FIFO within the same priority), forwards them to the
// worker transport with bounded concurrency, and schedules exponential
// backoff retries when forwarding fails. Jobs stay active after a successful
// forward until the worker's result arrives through Complete or Fail.
type MemoryQueue struct {
	transport Transport
	cfg       Config
	logger    *log.Logger

	mu                sync.Mutex
	jobs              map[string]*memoryJob
	ready             readyHeap
	delayed           delayedHeap
	completedOrder    []string
	failedOrder       []string
	paused            bool
	seq               uint64
	onDispatchFailure DispatchFailureHandler

	wake chan struct{}
	sem  chan struct{}
}

func NewMemoryQueue(transport Transport, cfg Config, logger *log.Logger) *MemoryQueue {
	cfg = cfg.withDefaults()
	return &MemoryQueue{
		transport:      transport,
		cfg:            cfg,
		logger:         logger,
		jobs:           make(map[string]*memoryJob),
		completedOrder: make([]string, 0, cfg.CompletedHistory),
		failedOrder:    make([]string, 0, cfg.FailedHistory),
		wake:           make(chan struct{}, 1),
		sem:            make(chan struct{}, cfg.ForwardConcurrency),
	}
}

// Start runs the dispatch loop until ctx is cancelled.
func (q *MemoryQueue) Start(ctx context.Context) {
	go q.loop(ctx)
}

// OnDispatchFailure registers the handler invoked when forward retries run
// out. Register before the first Enqueue.
func (q *MemoryQueue) OnDispatchFailure(handler DispatchFailureHandler) {
	q.mu.Lock()
	q.onDispatchFailure = handler
	q.mu.Unlock()
}

func (q *MemoryQueue) Enqueue(_ context.Context, job domain.ProcessingJob, opts Options) (string, error) {
	if opts.Attempts <= 0 {
		opts.Attempts = q.cfg.DefaultAttempts
	}
	if opts.Backoff <= 0 {
		opts.Backoff = q.cfg.DefaultBackoff
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.seq++
	now := time.Now().UTC()
	tracked := &memoryJob{
		id:        uuid.NewString(),
		payload:   job,
		opts:      opts,
		createdAt: now,
		seq:       q.seq,
	}
	q.jobs[tracked.id] = tracked

	if opts.Delay > 0 {
		tracked.state = StateDelayed
		tracked.readyAt = now.Add(opts.Delay)
		heap.Push(&q.delayed, tracked)
	} else {
		tracked.state = StateWaiting
		heap.Push(&q.ready, tracked)
	}

	q.signalLocked()
	return tracked.id, nil
}

func (q *MemoryQueue) Status(_ context.Context, jobID string) (*JobStatus, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}

	state := job.state
	if q.paused && state == StateWaiting {
		state = StatePaused
	}

	status := &JobStatus{
		ID:        job.id,
		State:     state,
		Progress:  job.progress,
		Attempts:  job.attempt,
		Error:     job.errMessage,
		CreatedAt: job.createdAt,
	}
	if job.result != nil {
		result := *job.result
		status.Result = &result
	}
	if job.processedAt != nil {
		processedAt := *job.processedAt
		status.ProcessedAt = &processedAt
	}
	if job.finishedAt != nil {
		finishedAt := *job.finishedAt
		status.FinishedAt = &finishedAt
	}
	return status, nil
}

func (q *MemoryQueue) Cancel(_ context.Context, jobID string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[jobID]
	if !ok {
		return false, nil
	}
	if job.state == StateCompleted || job.state == StateFailed {
		return false, nil
	}

	job.removed = true
	delete(q.jobs, jobID)
	if q.logger != nil {
		q.logger.Printf("queue job cancelled job_id=%s state=%s", jobID, job.state)
	}
	return true, nil
}

func (q *MemoryQueue) Retry(_ context.Context, jobID string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[jobID]
	if !ok || job.state != StateFailed {
		return false, nil
	}

	q.failedOrder = removeID(q.failedOrder, jobID)
	job.state = StateWaiting
	job.attempt = 0
	job.progress = 0
	job.errMessage = ""
	job.result = nil
	job.finishedAt = nil
	q.seq++
	job.seq = q.seq
	heap.Push(&q.ready, job)
	q.signalLocked()
	return true, nil
}

func (q *MemoryQueue) Progress(_ context.Context, jobID string, progress int) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[jobID]
	if !ok || job.state == StateCompleted || job.state == StateFailed {
		return nil
	}
	job.progress = progress
	return nil
}

// Complete records the worker's success for a job. Unknown ids are ignored so
// late results for cancelled work stay harmless.
func (q *MemoryQueue) Complete(_ context.Context, jobID string, result *domain.ProcessingResult) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[jobID]
	if !ok || job.state == StateCompleted || job.state == StateFailed {
		return nil
	}

	now := time.Now().UTC()
	job.state = StateCompleted
	job.progress = 100
	job.result = result
	job.errMessage = ""
	job.finishedAt = &now
	q.completedOrder = append(q.completedOrder, jobID)
	q.pruneLocked(&q.completedOrder, q.cfg.CompletedHistory)
	return nil
}

func (q *MemoryQueue) Fail(_ context.Context, jobID string, message string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[jobID]
	if !ok || job.state == StateCompleted || job.state == StateFailed {
		return nil
	}

	q.markFailedLocked(job, message)
	return nil
}

func (q *MemoryQueue) Stats(_ context.Context) (Stats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := Stats{Paused: q.paused}
	for _, job := range q.jobs {
		switch job.state {
		case StateWaiting:
			stats.Waiting++
		case StateActive:
			stats.Active++
		case StateCompleted:
			stats.Completed++
		case StateFailed:
			stats.Failed++
		case StateDelayed:
			stats.Delayed++
		}
	}
	return stats, nil
}

func (q *MemoryQueue) Pause() {
	q.mu.Lock()
	q.paused = true
	q.mu.Unlock()
}

func (q *MemoryQueue) Resume() {
	q.mu.Lock()
	q.paused = false
	q.signalLocked()
	q.mu.Unlock()
}

func (q *MemoryQueue) loop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		q.mu.Lock()
		now := time.Now().UTC()
		q.promoteDueLocked(now)

		var job *memoryJob
		if !q.paused {
			job = q.popReadyLocked()
		}

		wait := time.Duration(-1)
		if job == nil && !q.paused {
			if next, ok := q.nextDelayedLocked(); ok {
				wait = next.Sub(now)
				if wait < 0 {
					wait = 0
				}
			}
		}

		if job != nil {
			job.state = StateActive
			job.attempt++
			if job.processedAt == nil {
				processedAt := now
				job.processedAt = &processedAt
			}
		}
		q.mu.Unlock()

		if job != nil {
			select {
			case <-ctx.Done():
				return
			case q.sem <- struct{}{}:
			}
			go func(j *memoryJob) {
				defer func() { <-q.sem }()
				q.forward(ctx, j)
			}(job)
			continue
		}

		if wait < 0 {
			select {
			case <-ctx.Done():
				return
			case <-q.wake:
			}
			continue
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-q.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (q *MemoryQueue) forward(ctx context.Context, job *memoryJob) {
	err := q.transport.Forward(ctx, job.payload)

	q.mu.Lock()

	if job.removed || err == nil {
		// Either cancelled underneath us, or delivered; a delivered job
		// remains active until the worker's result arrives through Complete
		// or Fail.
		q.mu.Unlock()
		return
	}

	if job.attempt >= job.opts.Attempts {
		q.markFailedLocked(job, err.Error())
		handler := q.onDispatchFailure
		payload := job.payload
		attempts := job.attempt
		q.mu.Unlock()

		if q.logger != nil {
			q.logger.Printf("queue job failed after retries job_id=%s attempts=%d err=%v", job.id, attempts, err)
		}
		if handler != nil {
			handler(ctx, payload, err.Error())
		}
		return
	}

	delay := backoffDelay(job.opts.Backoff, job.attempt, q.cfg.MaxBackoff)
	attempt := job.attempt
	job.state = StateDelayed
	job.readyAt = time.Now().UTC().Add(delay)
	heap.Push(&q.delayed, job)
	q.signalLocked()
	q.mu.Unlock()

	if q.logger != nil {
		q.logger.Printf("queue job retry scheduled job_id=%s attempt=%d delay=%s err=%v", job.id, attempt, delay, err)
	}
}

// backoffDelay is exponential: base * 2^(attempt-1), capped.
func backoffDelay(base time.Duration, attempt int, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}

func (q *MemoryQueue) markFailedLocked(job *memoryJob, message string) {
	now := time.Now().UTC()
	job.state = StateFailed
	job.errMessage = message
	job.finishedAt = &now
	q.failedOrder = append(q.failedOrder, job.id)
	q.pruneLocked(&q.failedOrder, q.cfg.FailedHistory)
}

// pruneLocked bounds retained history to the most recent entries.
func (q *MemoryQueue) pruneLocked(order *[]string, limit int) {
	for len(*order) > limit {
		oldest := (*order)[0]
		*order = (*order)[1:]
		delete(q.jobs, oldest)
	}
}

func (q *MemoryQueue) promoteDueLocked(now time.Time) {
	for q.delayed.Len() > 0 {
		next := q.delayed[0]
		if next.removed {
			heap.Pop(&q.delayed)
			continue
		}
		if next.readyAt.After(now) {
			return
		}
		heap.Pop(&q.delayed)
		next.state = StateWaiting
		heap.Push(&q.ready, next)
	}
}

func (q *MemoryQueue) popReadyLocked() *memoryJob {
	for q.ready.Len() > 0 {
		job := heap.Pop(&q.ready).(*memoryJob)
		if job.removed {
			continue
		}
		return job
	}
	return nil
}

func (q *MemoryQueue) nextDelayedLocked() (time.Time, bool) {
	for q.delayed.Len() > 0 {
		if q.delayed[0].removed {
			heap.Pop(&q.delayed)
			continue
		}
		return q.delayed[0].readyAt, true
	}
	return time.Time{}, false
}

func (q *MemoryQueue) signalLocked() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func removeID(ids []string, id string) []string {
	for index, candidate := range ids {
		if candidate == id {
			return append(ids[:index], ids[index+1:]...)
		}
	}
	return ids
}

// readyHeap orders waiting jobs by priority (higher first), FIFO within the
// same priority.
type readyHeap []*memoryJob

func (h readyHeap) Len() int { return len(h) }

func (h readyHeap) Less(i, j int) bool {
	if h[i].opts.Priority != h[j].opts.Priority {
		return h[i].opts.Priority > h[j].opts.Priority
	}
	return h[i].seq < h[j].seq
}

func (h readyHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *readyHeap) Push(x any) { *h = append(*h, x.(*memoryJob)) }

func (h *readyHeap) Pop() any {
	old := *h
	last := len(old) - 1
	job := old[last]
	old[last] = nil
	*h = old[:last]
	return job
}

// delayedHeap orders jobs by the time they become ready.
type delayedHeap []*memoryJob

func (h delayedHeap) Len() int { return len(h) }

func (h delayedHeap) Less(i, j int) bool { return h[i].readyAt.Before(h[j].readyAt) }

func (h delayedHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *delayedHeap) Push(x any) { *h = append(*h, x.(*memoryJob)) }

func (h *delayedHeap) Pop() any {
	old := *h
	last := len(old) - 1
	job := old[last]
	old[last] = nil
	*h = old[:last]
	return job
}
