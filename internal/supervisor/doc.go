// Package supervisor owns the worker subprocess and multiplexes callers
// onto it.
//
// The worker is spawned lazily by the first call that needs it. Concurrent
// callers share one in-flight spawn. Each request gets an id of the form
// req-<counter>-<unixmilli> and a pending entry that is settled by the
// worker's done or error event, by the request timeout, or by the worker
// exiting, whichever comes first. Late events for a settled request are
// dropped.
//
// A spawn that fails or does not report ready within the ready timeout is
// not retried; the next call spawns from scratch.
package supervisor
