// ABOUTME: Per-request context shared by the tools of one turn.
// ABOUTME: Holds the captured response and the respond-once guard.

package tools

import "sync"

// Response is what the respond tool captures.
type Response struct {
	Expression Expression
	Message    string
}

// Turn is the request being served. A fresh Turn is created for every query.
type Turn struct {
	RequestID string
	UserID    string

	mu        sync.Mutex
	response  Response
	responded bool
	onRespond func(Response)
}

// NewTurn creates a turn whose response defaults to a neutral, empty
// message. onRespond, when set, is called once with the first response.
func NewTurn(requestID, userID string, onRespond func(Response)) *Turn {
	return &Turn{
		RequestID: requestID,
		UserID:    userID,
		response:  Response{Expression: Neutral},
		onRespond: onRespond,
	}
}

// Respond records r unless the turn already has a response. It reports
// whether r was recorded.
func (t *Turn) Respond(r Response) bool {
	t.mu.Lock()
	if t.responded {
		t.mu.Unlock()
		return false
	}
	t.responded = true
	t.response = r
	cb := t.onRespond
	t.mu.Unlock()

	if cb != nil {
		cb(r)
	}
	return true
}

// Response returns the captured response.
func (t *Turn) Response() Response {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.response
}

// HasResponded reports whether respond has been honoured.
func (t *Turn) HasResponded() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.responded
}
