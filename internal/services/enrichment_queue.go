package services

import (
	"context"
	"errors"
	"log"
	"sync"
)

// ErrQueueClosed is returned by Submit after Close
var ErrQueueClosed = errors.New("enrichment queue is closed")

// EnrichmentQueue is a bounded background queue keyed by record id. A record
// that is pending or running is never queued twice.
type EnrichmentQueue struct {
	tasks   chan string
	handler func(ctx context.Context, recordID string)

	mu       sync.Mutex
	inflight map[string]struct{}
	closed   bool

	pending sync.WaitGroup
	workers sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewEnrichmentQueue starts workers goroutines reading a queue of size capacity
func NewEnrichmentQueue(workers, capacity int, handler func(ctx context.Context, recordID string)) *EnrichmentQueue {
	if workers <= 0 {
		workers = 1
	}
	if capacity <= 0 {
		capacity = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &EnrichmentQueue{
		tasks:    make(chan string, capacity),
		handler:  handler,
		inflight: make(map[string]struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}

	for i := 0; i < workers; i++ {
		q.workers.Add(1)
		go q.work()
	}
	return q
}

func (q *EnrichmentQueue) work() {
	defer q.workers.Done()
	for recordID := range q.tasks {
		q.run(recordID)
	}
}

func (q *EnrichmentQueue) run(recordID string) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("❌ [ENRICH] Task for record %s panicked: %v", recordID, r)
		}
		q.mu.Lock()
		delete(q.inflight, recordID)
		q.mu.Unlock()
		q.pending.Done()
	}()
	q.handler(q.ctx, recordID)
}

// Submit queues recordID. queued is false when the record is already pending
// or running. A saturated queue returns ErrQueueFull.
func (q *EnrichmentQueue) Submit(recordID string) (queued bool, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false, ErrQueueClosed
	}
	if _, ok := q.inflight[recordID]; ok {
		return false, nil
	}

	q.pending.Add(1)
	select {
	case q.tasks <- recordID:
		q.inflight[recordID] = struct{}{}
		return true, nil
	default:
		q.pending.Done()
		return false, ErrQueueFull
	}
}

// Pending returns the number of queued or running tasks
func (q *EnrichmentQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.inflight)
}

// Wait blocks until every submitted task has finished or ctx ends
func (q *EnrichmentQueue) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		q.pending.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting work, lets queued tasks finish and stops the workers
func (q *EnrichmentQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.tasks)
	q.mu.Unlock()

	q.workers.Wait()
	q.cancel()
}
