// Package queue runs the durable job queue: a pool of workers claiming
// persisted jobs from the store and dispatching them to the orchestrator
// engine. Scheduling a pipeline stage means enqueuing a job; the queue
// survives process restarts, so a crash between approval and execution
// cannot silently lose a task.
package queue

import (
	"context"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/taskpilot/taskpilot/internal/taskstore"
)

// Runner is the slice of the orchestrator engine the queue dispatches to.
type Runner interface {
	Execute(ctx context.Context, taskID string) error
	ContinueAfterApproval(ctx context.Context, taskID string) error
	Replan(ctx context.Context, taskID, feedback string) error
}

// Pool claims jobs from the store and runs them on the engine.
type Pool struct {
	store   *taskstore.Store
	engine  Runner
	workers int

	pollInterval time.Duration
	wake         chan struct{}
}

// NewPool creates a worker pool. workers must be at least 1.
func NewPool(store *taskstore.Store, engine Runner, workers int) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{
		store:        store,
		engine:       engine,
		workers:      workers,
		pollInterval: 2 * time.Second,
		wake:         make(chan struct{}, 1),
	}
}

// Enqueue persists a job and wakes a worker. Safe to call from any
// goroutine; the enqueue is durable even if no worker is running yet.
func (p *Pool) Enqueue(kind, taskID, payload string) (int64, error) {
	id, err := p.store.EnqueueJob(kind, taskID, payload)
	if err != nil {
		return 0, err
	}
	select {
	case p.wake <- struct{}{}:
	default:
	}
	return id, nil
}

// Run recovers orphaned jobs from a previous process, then blocks running
// the worker pool until ctx is cancelled.
func (p *Pool) Run(ctx context.Context) error {
	recovered, err := p.store.RecoverJobs()
	if err != nil {
		return fmt.Errorf("recovering jobs: %w", err)
	}
	if recovered > 0 {
		log.Printf("queue: requeued %d interrupted job(s)", recovered)
	}

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.workers; i++ {
		g.Go(func() error {
			return p.worker(ctx)
		})
	}
	return g.Wait()
}

// worker claims and runs jobs until the context ends. An empty queue is
// polled; an Enqueue wakes the pool early.
func (p *Pool) worker(ctx context.Context) error {
	for {
		job, err := p.store.ClaimJob()
		if err != nil {
			log.Printf("queue: claiming job: %v", err)
		}
		if job != nil {
			p.runJob(ctx, job)
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.wake:
		case <-time.After(p.pollInterval):
		}
	}
}

func (p *Pool) runJob(ctx context.Context, job *taskstore.Job) {
	log.Printf("queue: job %d (%s) for task %s", job.ID, job.Kind, job.TaskID)

	var err error
	switch job.Kind {
	case taskstore.JobExecute:
		err = p.engine.Execute(ctx, job.TaskID)
	case taskstore.JobContinue:
		err = p.engine.ContinueAfterApproval(ctx, job.TaskID)
	case taskstore.JobReplan:
		err = p.engine.Replan(ctx, job.TaskID, job.Payload)
	default:
		err = fmt.Errorf("unknown job kind %q", job.Kind)
	}

	if err != nil {
		log.Printf("queue: job %d failed: %v", job.ID, err)
	}
	if ferr := p.store.FinishJob(job.ID, err); ferr != nil {
		log.Printf("queue: finishing job %d: %v", job.ID, ferr)
	}
}
