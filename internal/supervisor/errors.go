// ABOUTME: Sentinel errors returned by the supervisor to its callers.
// ABOUTME: Worker exit, request and spawn timeouts, worker-reported failures.

package supervisor

import "errors"

var (
	// ErrWorkerExited settles requests whose worker process ended.
	ErrWorkerExited = errors.New("Worker exited")

	// ErrRequestTimeout settles requests that outlived the request timeout.
	ErrRequestTimeout = errors.New("request timed out")

	// ErrSpawnTimeout is returned when the worker never reported ready.
	ErrSpawnTimeout = errors.New("worker did not become ready")

	// ErrWorkerError wraps an error event sent by the worker.
	ErrWorkerError = errors.New("worker error")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("supervisor closed")
)
