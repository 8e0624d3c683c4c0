package inmemory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dvloznov/statement-categorizer/internal/jobs"
	"github.com/google/uuid"
)

// DefaultWorkers is the number of concurrent workers when none is configured.
const DefaultWorkers = 5

// ErrQueueClosed is returned when publishing to or starting a stopped queue.
var ErrQueueClosed = errors.New("queue is closed")

// Queue is an in-memory statement job queue backed by a buffered channel.
//
// Every accepted job reaches the handler exactly once, and the handler is
// what posts the caller's callback. Failures are recorded and never retried.
// On Stop, jobs still waiting in the buffer are handed to the handler with a
// cancelled context, so their callers receive a failure payload instead of
// silence.
type Queue struct {
	pending  chan *jobs.ProcessStatementJob
	stopping chan struct{}
	wg       sync.WaitGroup
	mu       sync.RWMutex
	store    jobs.JobStore
	workers  int
	closed   bool
}

// NewQueue creates a queue. bufferSize is how many accepted jobs may wait for
// a worker before PublishProcessStatement blocks; workers is the number of
// statements processed concurrently.
func NewQueue(bufferSize, workers int, store jobs.JobStore) *Queue {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Queue{
		pending:  make(chan *jobs.ProcessStatementJob, bufferSize),
		stopping: make(chan struct{}),
		store:    store,
		workers:  workers,
	}
}

// PublishProcessStatement accepts a statement job. It assigns the job ID and
// records the job as pending before enqueueing it.
func (q *Queue) PublishProcessStatement(ctx context.Context, job *jobs.ProcessStatementJob) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrQueueClosed
	}

	if job.JobID == "" {
		job.JobID = uuid.NewString()
	}
	if job.Status == "" {
		job.Status = jobs.JobStatusPending
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}

	if q.store != nil {
		if err := q.store.SaveJob(ctx, job); err != nil {
			return fmt.Errorf("PublishProcessStatement: saving job: %w", err)
		}
	}

	// Stop cannot close the queue while this read lock is held, so an
	// accepted job always lands in the buffer.
	select {
	case q.pending <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start launches the workers. Each runs handler for one job at a time.
func (q *Queue) Start(ctx context.Context, handler jobs.JobHandler) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, handler)
	}
	return nil
}

func (q *Queue) worker(ctx context.Context, handler jobs.JobHandler) {
	defer q.wg.Done()

	for {
		// Shutdown wins over picking up more buffered work.
		select {
		case <-q.stopping:
			q.drain(ctx, handler)
			return
		default:
		}

		select {
		case <-ctx.Done():
			q.drain(ctx, handler)
			return
		case <-q.stopping:
			q.drain(ctx, handler)
			return
		case job := <-q.pending:
			q.run(ctx, job, handler)
		}
	}
}

// drain hands every job left in the buffer to handler with a cancelled
// context. The handler still reports each one to its caller.
func (q *Queue) drain(ctx context.Context, handler jobs.JobHandler) {
	cancelled, cancel := context.WithCancel(ctx)
	cancel()

	for {
		select {
		case job := <-q.pending:
			q.run(cancelled, job, handler)
		default:
			return
		}
	}
}

// run executes one job and records its outcome.
func (q *Queue) run(ctx context.Context, job *jobs.ProcessStatementJob, handler jobs.JobHandler) {
	record := context.WithoutCancel(ctx)

	startedAt := time.Now()
	job.Status = jobs.JobStatusRunning
	job.StartedAt = &startedAt
	q.save(record, job)

	err := handler(ctx, job)

	completedAt := time.Now()
	job.CompletedAt = &completedAt
	if err != nil {
		job.Status = jobs.JobStatusFailed
		job.Error = err.Error()
	} else {
		job.Status = jobs.JobStatusCompleted
		job.Error = ""
	}
	q.save(record, job)
}

func (q *Queue) save(ctx context.Context, job *jobs.ProcessStatementJob) {
	if q.store != nil {
		_ = q.store.SaveJob(ctx, job)
	}
}

// Stop refuses new jobs, lets in-flight jobs finish and hands buffered jobs
// to the handler as cancelled. It returns once every worker has exited or
// ctx is done.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.stopping)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the queue without a deadline.
func (q *Queue) Close() error {
	return q.Stop(context.Background())
}

var (
	_ jobs.Publisher = (*Queue)(nil)
	_ jobs.Consumer  = (*Queue)(nil)
)
