package queue

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/mcosta/docingest-back/internal/domain"
)

var (
	ErrTransportBackpressure = errors.New("transport backpressure: forward buffer is full")
	ErrBatchingClosed        = errors.New("batching transport is closed")
)

type BatchingConfig struct {
	MaxBatchSize       int
	FlushInterval      time.Duration
	FlushTimeout       time.Duration
	QueueCapacity      int
	MaxInFlightBatches int
}

type batchForwarder interface {
	ForwardBatch(ctx context.Context, jobs []domain.ProcessingJob) error
}

type forwardRequest struct {
	ctx    context.Context
	job    domain.ProcessingJob
	result chan error
}

// BatchingTransport groups close-in-time forwards into batched writes on the
// jobs stream and applies bounded buffering. Results consumption passes
// straight through to the base transport.
type BatchingTransport struct {
	base        Transport
	batchWriter batchForwarder

	in         chan forwardRequest
	semaphore  chan struct{}
	stop       chan struct{}
	done       chan struct{}
	closeOnce  sync.Once
	config     BatchingConfig
	parentDone <-chan struct{}
}

func NewBatchingTransport(
	parent context.Context,
	base Transport,
	cfg BatchingConfig,
) *BatchingTransport {
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 32
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 25 * time.Millisecond
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = 3 * time.Second
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 2048
	}
	if cfg.MaxInFlightBatches <= 0 {
		cfg.MaxInFlightBatches = 4
	}

	batcher := &BatchingTransport{
		base:        base,
		in:          make(chan forwardRequest, cfg.QueueCapacity),
		semaphore:   make(chan struct{}, cfg.MaxInFlightBatches),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
		config:      cfg,
		parentDone:  parent.Done(),
		batchWriter: nil,
	}
	if writer, ok := base.(batchForwarder); ok {
		batcher.batchWriter = writer
	}

	go batcher.run()
	return batcher
}

func (b *BatchingTransport) Forward(ctx context.Context, job domain.ProcessingJob) error {
	if ctx == nil {
		ctx = context.Background()
	}

	request := forwardRequest{
		ctx:    ctx,
		job:    job,
		result: make(chan error, 1),
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-b.done:
		return ErrBatchingClosed
	default:
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-b.done:
		return ErrBatchingClosed
	case b.in <- request:
	default:
		return ErrTransportBackpressure
	}

	select {
	case err := <-request.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *BatchingTransport) ConsumeResults(
	ctx context.Context,
	handler func(context.Context, domain.CallbackPayload) error,
) error {
	return b.base.ConsumeResults(ctx, handler)
}

func (b *BatchingTransport) Close() {
	b.closeOnce.Do(func() {
		close(b.stop)
		<-b.done
	})
}

func (b *BatchingTransport) run() {
	defer close(b.done)

	pending := make([]forwardRequest, 0, b.config.MaxBatchSize)
	timer := time.NewTimer(b.config.FlushInterval)
	stopTimer(timer)
	timerRunning := false

	flush := func(final bool) {
		if len(pending) == 0 {
			return
		}
		batch := append([]forwardRequest(nil), pending...)
		pending = pending[:0]
		b.flushBatch(batch, final)
	}

	for {
		var timerCh <-chan time.Time
		if timerRunning {
			timerCh = timer.C
		}

		select {
		case <-b.parentDone:
			stopTimer(timer)
			flush(true)
			return
		case <-b.stop:
			stopTimer(timer)
			flush(true)
			return
		case <-timerCh:
			timerRunning = false
			flush(false)
		case request := <-b.in:
			if request.ctx.Err() != nil {
				request.result <- request.ctx.Err()
				continue
			}
			pending = append(pending, request)
			if len(pending) == 1 {
				resetTimer(timer, b.config.FlushInterval)
				timerRunning = true
			}
			if len(pending) >= b.config.MaxBatchSize {
				stopTimer(timer)
				timerRunning = false
				flush(false)
			}
		}
	}
}

func (b *BatchingTransport) flushBatch(batch []forwardRequest, final bool) {
	active := make([]forwardRequest, 0, len(batch))
	for _, request := range batch {
		if err := request.ctx.Err(); err != nil {
			request.result <- err
			continue
		}
		active = append(active, request)
	}
	if len(active) == 0 {
		return
	}

	// Coalescing by user/document improves stream locality while preserving
	// deterministic order.
	sort.SliceStable(active, func(i, j int) bool {
		left := coalesceKey(active[i].job)
		right := coalesceKey(active[j].job)
		if left == right {
			return active[i].job.RequestedAt.Before(active[j].job.RequestedAt)
		}
		return left < right
	})

	jobs := make([]domain.ProcessingJob, 0, len(active))
	for _, request := range active {
		jobs = append(jobs, request.job)
	}

	flushCtx := context.Background()
	if !final {
		var cancel context.CancelFunc
		flushCtx, cancel = context.WithTimeout(context.Background(), b.config.FlushTimeout)
		defer cancel()
	}

	select {
	case b.semaphore <- struct{}{}:
	case <-flushCtx.Done():
		for _, request := range active {
			request.result <- flushCtx.Err()
		}
		return
	}
	defer func() { <-b.semaphore }()

	var forwardErr error
	if b.batchWriter != nil {
		forwardErr = b.batchWriter.ForwardBatch(flushCtx, jobs)
	} else {
		for _, job := range jobs {
			if err := b.base.Forward(flushCtx, job); err != nil {
				forwardErr = err
				break
			}
		}
	}

	for _, request := range active {
		request.result <- forwardErr
	}
}

func coalesceKey(job domain.ProcessingJob) string {
	return job.UserID + "|" + job.DocumentID
}

func stopTimer(timer *time.Timer) {
	if timer == nil {
		return
	}
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
}

func resetTimer(timer *time.Timer, value time.Duration) {
	if timer == nil {
		return
	}
	stopTimer(timer)
	timer.Reset(value)
}
