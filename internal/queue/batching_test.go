package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mcosta/docingest-back/internal/domain"
)

type recordingBatchTransport struct {
	mu      sync.Mutex
	batches [][]domain.ProcessingJob
}

func (t *recordingBatchTransport) Forward(ctx context.Context, job domain.ProcessingJob) error {
	return t.ForwardBatch(ctx, []domain.ProcessingJob{job})
}

func (t *recordingBatchTransport) ForwardBatch(_ context.Context, jobs []domain.ProcessingJob) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	copied := append([]domain.ProcessingJob(nil), jobs...)
	t.batches = append(t.batches, copied)
	return nil
}

func (t *recordingBatchTransport) ConsumeResults(ctx context.Context, _ func(context.Context, domain.CallbackPayload) error) error {
	<-ctx.Done()
	return ctx.Err()
}

func (t *recordingBatchTransport) batchCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.batches)
}

func (t *recordingBatchTransport) totalJobs() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	total := 0
	for _, batch := range t.batches {
		total += len(batch)
	}
	return total
}

type blockingBatchTransport struct {
	block chan struct{}
}

func (t *blockingBatchTransport) Forward(ctx context.Context, job domain.ProcessingJob) error {
	return t.ForwardBatch(ctx, []domain.ProcessingJob{job})
}

func (t *blockingBatchTransport) ForwardBatch(ctx context.Context, _ []domain.ProcessingJob) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.block:
		return nil
	}
}

func (t *blockingBatchTransport) ConsumeResults(ctx context.Context, _ func(context.Context, domain.CallbackPayload) error) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestBatchingTransportGroupsConcurrentForwards(t *testing.T) {
	base := &recordingBatchTransport{}
	batcher := NewBatchingTransport(context.Background(), base, BatchingConfig{
		MaxBatchSize:  8,
		FlushInterval: 20 * time.Millisecond,
	})
	defer batcher.Close()

	const total = 8
	var wg sync.WaitGroup
	errs := make(chan error, total)
	for i := 0; i < total; i++ {
		wg.Add(1)
		go func(index int) {
			defer wg.Done()
			errs <- batcher.Forward(context.Background(), testJob("batched-"+string(rune('a'+index))))
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("forward: %v", err)
		}
	}
	if got := base.totalJobs(); got != total {
		t.Fatalf("expected %d jobs forwarded, got %d", total, got)
	}
	if got := base.batchCount(); got >= total {
		t.Fatalf("expected coalesced batches, got %d batches for %d jobs", got, total)
	}
}

func TestBatchingTransportFlushesOnInterval(t *testing.T) {
	base := &recordingBatchTransport{}
	batcher := NewBatchingTransport(context.Background(), base, BatchingConfig{
		MaxBatchSize:  64,
		FlushInterval: 10 * time.Millisecond,
	})
	defer batcher.Close()

	if err := batcher.Forward(context.Background(), testJob("solo")); err != nil {
		t.Fatalf("forward: %v", err)
	}
	if got := base.totalJobs(); got != 1 {
		t.Fatalf("expected interval flush to forward the lone job, got %d", got)
	}
}

func TestBatchingTransportFallsBackToSingleForwards(t *testing.T) {
	base := newCaptureTransport(0)
	batcher := NewBatchingTransport(context.Background(), base, BatchingConfig{
		MaxBatchSize:  4,
		FlushInterval: 5 * time.Millisecond,
	})
	defer batcher.Close()

	if err := batcher.Forward(context.Background(), testJob("plain")); err != nil {
		t.Fatalf("forward: %v", err)
	}
	waitFor(t, time.Second, func() bool {
		return len(base.forwardedIDs()) == 1
	})
}

func TestBatchingTransportBackpressure(t *testing.T) {
	base := &blockingBatchTransport{block: make(chan struct{})}
	batcher := NewBatchingTransport(context.Background(), base, BatchingConfig{
		MaxBatchSize:       1,
		FlushInterval:      200 * time.Millisecond,
		FlushTimeout:       2 * time.Second,
		QueueCapacity:      1,
		MaxInFlightBatches: 1,
	})
	defer batcher.Close()

	// First forward occupies the single in-flight batch slot against the
	// blocked base.
	firstDone := make(chan error, 1)
	go func() {
		firstDone <- batcher.Forward(context.Background(), testJob("first"))
	}()

	// Allow the internal loop to start flushing and block on the base.
	time.Sleep(30 * time.Millisecond)

	// Second forward fills the one-slot buffer.
	secondDone := make(chan error, 1)
	go func() {
		secondDone <- batcher.Forward(context.Background(), testJob("second"))
	}()

	time.Sleep(10 * time.Millisecond)

	// A full buffer rejects instead of blocking the caller.
	if err := batcher.Forward(context.Background(), testJob("third")); err != ErrTransportBackpressure {
		t.Fatalf("expected backpressure error, got %v", err)
	}

	close(base.block)
	if err := <-firstDone; err != nil {
		t.Fatalf("first forward failed unexpectedly: %v", err)
	}
	if err := <-secondDone; err != nil {
		t.Fatalf("second forward failed unexpectedly: %v", err)
	}
}

func TestBatchingTransportClosedForwardFails(t *testing.T) {
	base := &recordingBatchTransport{}
	batcher := NewBatchingTransport(context.Background(), base, BatchingConfig{})
	batcher.Close()

	if err := batcher.Forward(context.Background(), testJob("late")); err != ErrBatchingClosed {
		t.Fatalf("expected ErrBatchingClosed, got %v", err)
	}
}
