// Package jobs runs statement processing in the background so uploads
// can return before the pipeline finishes.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
)

// JobType represents the type of job to be executed
type JobType string

const (
	// JobTypeProcessStatement runs parse, classify and compute for a statement
	JobTypeProcessStatement JobType = "process_statement"
)

// JobStatus represents the current status of a job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Finished and abandoned job records are dropped after this long
const (
	jobRetention       = 24 * time.Hour
	jobCleanupInterval = time.Hour
)

// ErrQueueClosed is returned when publishing to a stopped queue
var ErrQueueClosed = errors.New("queue is closed")

// ErrJobNotFound is returned by Get for unknown job ids
var ErrJobNotFound = errors.New("job not found")

// Job is one unit of background work
type Job struct {
	ID          string     `json:"job_id"`
	Type        JobType    `json:"type"`
	StatementID string     `json:"statement_id"`
	Status      JobStatus  `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// Handler processes a job. Failed jobs are not retried; statement
// processing records its own error state and is retried by the user.
type Handler func(ctx context.Context, job Job) error

// Queue is an in-memory job queue backed by a buffered channel and a
// fixed pool of workers. It is meant for single-instance deployments.
type Queue struct {
	jobChan   chan string
	closeChan chan struct{}
	wg        sync.WaitGroup
	workers   int
	log       zerolog.Logger

	// mu serializes read-modify-write of job records
	mu      sync.Mutex
	jobs    *cache.Cache
	closed  bool
	started bool
}

// NewQueue creates a queue. bufferSize bounds how many jobs may wait
// before Publish blocks.
func NewQueue(bufferSize, workers int, log zerolog.Logger) *Queue {
	if workers <= 0 {
		workers = 1
	}
	return &Queue{
		jobChan:   make(chan string, bufferSize),
		closeChan: make(chan struct{}),
		workers:   workers,
		log:       log.With().Str("component", "jobs").Logger(),
		jobs:      cache.New(jobRetention, jobCleanupInterval),
	}
}

// PublishProcessStatement enqueues processing of one statement
func (q *Queue) PublishProcessStatement(ctx context.Context, statementID string) (Job, error) {
	return q.publish(ctx, &Job{
		Type:        JobTypeProcessStatement,
		StatementID: statementID,
	})
}

func (q *Queue) publish(ctx context.Context, job *Job) (Job, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return Job{}, ErrQueueClosed
	}
	job.ID = uuid.NewString()
	job.Status = JobStatusPending
	job.CreatedAt = time.Now().UTC()
	snapshot := *job
	q.jobs.SetDefault(job.ID, snapshot)
	q.mu.Unlock()

	select {
	case q.jobChan <- job.ID:
		q.log.Debug().Str("job_id", job.ID).Str("statement_id", job.StatementID).Msg("job enqueued")
		return snapshot, nil
	case <-ctx.Done():
		q.forget(job.ID)
		return Job{}, ctx.Err()
	case <-q.closeChan:
		q.forget(job.ID)
		return Job{}, ErrQueueClosed
	}
}

func (q *Queue) forget(id string) {
	q.jobs.Delete(id)
}

// Get returns a snapshot of a job. Records expire jobRetention after
// their last state change.
func (q *Queue) Get(id string) (Job, error) {
	v, ok := q.jobs.Get(id)
	if !ok {
		return Job{}, ErrJobNotFound
	}
	return v.(Job), nil
}

// Start launches the workers. Jobs run on a context detached from ctx's
// cancellation; Stop is the way to shut workers down.
func (q *Queue) Start(ctx context.Context, handler Handler) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	if q.started {
		return fmt.Errorf("queue already started")
	}
	q.started = true

	runCtx := context.WithoutCancel(ctx)
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(runCtx, handler)
	}

	q.log.Info().Int("workers", q.workers).Msg("job workers started")
	return nil
}

func (q *Queue) worker(ctx context.Context, handler Handler) {
	defer q.wg.Done()

	for {
		select {
		case <-q.closeChan:
			return
		case id := <-q.jobChan:
			q.process(ctx, id, handler)
		}
	}
}

func (q *Queue) process(ctx context.Context, id string, handler Handler) {
	q.mu.Lock()
	v, ok := q.jobs.Get(id)
	if !ok {
		q.mu.Unlock()
		return
	}
	job := v.(Job)
	started := time.Now().UTC()
	job.Status = JobStatusRunning
	job.StartedAt = &started
	q.jobs.SetDefault(id, job)
	q.mu.Unlock()

	err := q.run(ctx, job, handler)

	completed := time.Now().UTC()
	job.CompletedAt = &completed
	if err != nil {
		job.Status = JobStatusFailed
		job.Error = err.Error()
	} else {
		job.Status = JobStatusCompleted
	}
	q.mu.Lock()
	q.jobs.SetDefault(id, job)
	q.mu.Unlock()

	log := q.log.With().Str("job_id", id).Str("statement_id", job.StatementID).Dur("duration", completed.Sub(started)).Logger()
	if err != nil {
		log.Warn().Err(err).Msg("job failed")
		return
	}
	log.Info().Msg("job completed")
}

func (q *Queue) run(ctx context.Context, job Job, handler Handler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			q.log.Error().Str("job_id", job.ID).Bytes("stack", debug.Stack()).Msg("panic in job handler")
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return handler(ctx, job)
}

// Stop stops accepting jobs and waits for in-flight jobs to finish.
// Jobs still waiting in the buffer are dropped; their statements stay
// in uploaded and can be processed again.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.closeChan)
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
