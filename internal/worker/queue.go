// ABOUTME: Single-concurrency FIFO queue for query turns.
// ABOUTME: One job runs at a time; the next starts as soon as it resolves.

package worker

import (
	"context"
	"sync"
)

// Job is one queued query.
type Job struct {
	RequestID string
	Prompt    string
}

// RunFunc executes a job to completion.
type RunFunc func(ctx context.Context, job Job)

// Queue runs jobs in submission order, never two at once.
type Queue struct {
	run RunFunc

	mu         sync.Mutex
	items      []queued
	processing bool
	idle       *sync.Cond
}

type queued struct {
	ctx     context.Context
	job     Job
	resolve func()
}

// NewQueue creates a queue that executes jobs with run.
func NewQueue(run RunFunc) *Queue {
	q := &Queue{run: run}
	q.idle = sync.NewCond(&q.mu)
	return q
}

// Enqueue appends job. resolve, when set, is called after the job ran.
func (q *Queue) Enqueue(ctx context.Context, job Job, resolve func()) {
	q.mu.Lock()
	q.items = append(q.items, queued{ctx: ctx, job: job, resolve: resolve})
	start := !q.processing
	if start {
		q.processing = true
	}
	q.mu.Unlock()

	if start {
		go q.processNext()
	}
}

// processNext drains the queue, then clears the processing flag.
func (q *Queue) processNext() {
	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			q.processing = false
			q.idle.Broadcast()
			q.mu.Unlock()
			return
		}
		item := q.items[0]
		q.items[0] = queued{}
		q.items = q.items[1:]
		q.mu.Unlock()

		q.run(item.ctx, item.job)
		if item.resolve != nil {
			item.resolve()
		}
	}
}

// Len returns the number of jobs waiting, excluding the running one.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Busy reports whether a job is running or waiting.
func (q *Queue) Busy() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.processing
}

// Wait blocks until the queue is empty and no job runs.
func (q *Queue) Wait() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.processing {
		q.idle.Wait()
	}
}
