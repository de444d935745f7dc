// Package worker is the agent worker process: a FIFO queue that runs one
// query at a time and the stdin/stdout loop speaking the ipc protocol.
//
// Prompts go through the queue. Reset and ping are answered by the read
// loop directly, so they never wait behind a running query.
package worker
