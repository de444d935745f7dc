// Package ipc implements the line-delimited JSON protocol spoken between the
// supervisor and its worker process over the worker's stdin and stdout.
//
// # Framing
//
// Every message is one JSON object terminated by a single newline. Writers
// must never split an object across lines, and concurrent writers share one
// Encoder so lines never interleave.
//
// # Inbound (supervisor to worker)
//
//	{"type":"prompt","prompt":"...","requestId":"req-1-1700000000000"}
//	{"type":"reset","userId":"alice","requestId":"req-2-1700000000000"}
//	{"type":"ping"}
//
// # Outbound (worker to supervisor)
//
//	{"type":"ready"}
//	{"type":"session","sessionId":"...","requestId":"..."}
//	{"type":"text","text":"...","requestId":"..."}
//	{"type":"done","requestId":"...","response":"...","expression":"happy","inputTokens":1,"outputTokens":2}
//	{"type":"error","requestId":"...","message":"..."}
//	{"type":"reset_done","requestId":"..."}
//	{"type":"pong"}
//	{"type":"log","level":"info","message":"...","data":{...}}
//
// Messages are correlated by requestId. ping/pong and log carry none.
package ipc
