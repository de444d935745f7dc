// ABOUTME: Runtime interface and the langchaingo-backed tool-calling loop.
// ABOUTME: Keeps resumable per-session transcripts in memory.

package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tmc/langchaingo/llms"
)

// DefaultMaxTurns caps model round-trips per query.
const DefaultMaxTurns = 10

// Tool is a callable the model may invoke. It matches langchaingo's
// tools.Tool plus the definition sent to the model.
type Tool interface {
	Name() string
	Description() string
	Call(ctx context.Context, input string) (string, error)
	Definition() llms.Tool
}

// QueryRequest describes one turn.
type QueryRequest struct {
	SystemPrompt    string
	Prompt          string
	MaxTurns        int
	MaxTokens       int
	Tools           []Tool
	ResumeSessionID string
}

// Runtime executes turns.
type Runtime interface {
	Query(ctx context.Context, req *QueryRequest) (<-chan *Event, error)
}

// ErrEmptyPrompt is returned for a request without prompt text.
var ErrEmptyPrompt = errors.New("prompt is empty")

// transcript is one session's history, grouped by turn so trimming never
// splits a tool call from its result.
type transcript struct {
	turns    [][]llms.MessageContent
	lastUsed time.Time
}

func (t *transcript) messages() []llms.MessageContent {
	var out []llms.MessageContent
	for _, turn := range t.turns {
		out = append(out, turn...)
	}
	return out
}

// LLMRuntime implements Runtime on an llms.Model.
type LLMRuntime struct {
	model      llms.Model
	logger     *slog.Logger
	maxHistory int
	sessionTTL time.Duration
	now        func() time.Time

	mu       sync.Mutex
	sessions map[string]*transcript
}

// Option configures an LLMRuntime.
type Option func(*LLMRuntime)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(r *LLMRuntime) { r.logger = l } }

// WithMaxHistory bounds how many past turns a session replays.
func WithMaxHistory(n int) Option { return func(r *LLMRuntime) { r.maxHistory = n } }

// WithSessionTTL drops transcripts unused for longer than d.
func WithSessionTTL(d time.Duration) Option { return func(r *LLMRuntime) { r.sessionTTL = d } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(r *LLMRuntime) { r.now = now } }

// NewLLMRuntime creates a runtime on model.
func NewLLMRuntime(model llms.Model, opts ...Option) *LLMRuntime {
	r := &LLMRuntime{
		model:      model,
		logger:     slog.Default(),
		maxHistory: 20,
		sessionTTL: time.Hour,
		now:        time.Now,
		sessions:   make(map[string]*transcript),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "runtime")
	return r
}

// Sessions returns the number of live transcripts.
func (r *LLMRuntime) Sessions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Forget drops a session's transcript.
func (r *LLMRuntime) Forget(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sessionID)
}

// resume returns the session to continue, creating one for an empty,
// unknown or expired id. The returned history is a copy.
func (r *LLMRuntime) resume(id string) (string, []llms.MessageContent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	for sid, t := range r.sessions {
		if now.Sub(t.lastUsed) > r.sessionTTL {
			delete(r.sessions, sid)
		}
	}

	if t, ok := r.sessions[id]; ok && id != "" {
		t.lastUsed = now
		return id, t.messages(), true
	}
	return uuid.New().String(), nil, false
}

// commit appends a finished turn to the session.
func (r *LLMRuntime) commit(id string, turn []llms.MessageContent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.sessions[id]
	if !ok {
		t = &transcript{}
		r.sessions[id] = t
	}
	t.turns = append(t.turns, turn)
	if r.maxHistory > 0 && len(t.turns) > r.maxHistory {
		t.turns = t.turns[len(t.turns)-r.maxHistory:]
	}
	t.lastUsed = r.now()
}

// Query implements Runtime.
func (r *LLMRuntime) Query(ctx context.Context, req *QueryRequest) (<-chan *Event, error) {
	if req.Prompt == "" {
		return nil, ErrEmptyPrompt
	}
	events := make(chan *Event, 16)
	go r.run(ctx, req, events)
	return events, nil
}

func (r *LLMRuntime) run(ctx context.Context, req *QueryRequest, events chan<- *Event) {
	defer close(events)

	send := func(ev *Event) {
		select {
		case events <- ev:
		case <-ctx.Done():
		}
	}

	sessionID, history, resumed := r.resume(req.ResumeSessionID)
	if req.ResumeSessionID != "" && !resumed {
		r.logger.Info("resume id unknown, starting new session", "requested", req.ResumeSessionID, "session_id", sessionID)
	}
	send(&Event{Type: EventSessionInit, SessionID: sessionID})

	maxTurns := req.MaxTurns
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}

	toolsByName := make(map[string]Tool, len(req.Tools))
	defs := make([]llms.Tool, 0, len(req.Tools))
	for _, t := range req.Tools {
		toolsByName[t.Name()] = t
		defs = append(defs, t.Definition())
	}

	var opts []llms.CallOption
	if len(defs) > 0 {
		opts = append(opts, llms.WithTools(defs))
	}
	if req.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(req.MaxTokens))
	}

	turn := []llms.MessageContent{llms.TextParts(llms.ChatMessageTypeHuman, req.Prompt)}
	var (
		usage     Usage
		rounds    int
		exhausted bool
	)

	for {
		if rounds >= maxTurns {
			exhausted = true
			r.logger.Warn("turn budget exhausted", "session_id", sessionID, "rounds", rounds)
			break
		}
		rounds++

		messages := make([]llms.MessageContent, 0, len(history)+len(turn)+1)
		if req.SystemPrompt != "" {
			messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, req.SystemPrompt))
		}
		messages = append(messages, history...)
		messages = append(messages, turn...)

		resp, err := r.model.GenerateContent(ctx, messages, opts...)
		if err != nil {
			send(&Event{Type: EventError, Error: fmt.Sprintf("model call failed: %v", err)})
			return
		}
		if len(resp.Choices) == 0 {
			send(&Event{Type: EventError, Error: "model returned no choices"})
			return
		}
		choice := resp.Choices[0]
		usage.Add(UsageFrom(choice.GenerationInfo))

		if choice.Content != "" {
			send(&Event{Type: EventText, Text: choice.Content})
		}

		calls := dedupeCalls(choice.ToolCalls)
		if ai, ok := assistantMessage(choice.Content, calls); ok {
			turn = append(turn, ai)
		}
		if len(calls) == 0 {
			break
		}

		for _, tc := range calls {
			name, input := tc.FunctionCall.Name, tc.FunctionCall.Arguments
			r.logger.Info("[AGENT TOOL CALL]", "session_id", sessionID, "tool", name, "input", input)
			send(&Event{Type: EventToolUse, ToolUse: &ToolUseEvent{ID: tc.ID, Name: name, InputJSON: input}})

			output, isError := r.callTool(ctx, toolsByName, name, input)
			send(&Event{Type: EventToolResult, ToolResult: &ToolResultEvent{ID: tc.ID, Name: name, Output: output, IsError: isError}})

			turn = append(turn, llms.MessageContent{
				Role: llms.ChatMessageTypeTool,
				Parts: []llms.ContentPart{llms.ToolCallResponse{
					ToolCallID: tc.ID,
					Name:       name,
					Content:    output,
				}},
			})
		}

		if err := ctx.Err(); err != nil {
			send(&Event{Type: EventError, Error: fmt.Sprintf("turn cancelled: %v", err)})
			return
		}
	}

	r.commit(sessionID, turn)
	send(&Event{Type: EventResult, Result: &ResultEvent{
		SessionID: sessionID,
		Usage:     usage,
		Rounds:    rounds,
		Exhausted: exhausted,
	}})
}

func (r *LLMRuntime) callTool(ctx context.Context, tools map[string]Tool, name, input string) (string, bool) {
	t, ok := tools[name]
	if !ok {
		return "Error: unknown tool " + name, true
	}
	if input == "" {
		input = "{}"
	}
	out, err := t.Call(ctx, input)
	if err != nil {
		return "Error: " + err.Error(), true
	}
	return out, false
}

// dedupeCalls drops repeated tool call ids; some models emit the same call
// twice in one reply.
func dedupeCalls(calls []llms.ToolCall) []llms.ToolCall {
	seen := make(map[string]bool, len(calls))
	out := calls[:0:0]
	for _, tc := range calls {
		if tc.FunctionCall == nil {
			continue
		}
		if tc.ID != "" && seen[tc.ID] {
			continue
		}
		seen[tc.ID] = true
		out = append(out, tc)
	}
	return out
}

// assistantMessage rebuilds the model reply for the transcript. Empty text
// parts are omitted since providers reject them.
func assistantMessage(content string, calls []llms.ToolCall) (llms.MessageContent, bool) {
	var parts []llms.ContentPart
	if content != "" {
		parts = append(parts, llms.TextContent{Text: content})
	}
	for _, tc := range calls {
		parts = append(parts, llms.ToolCall{
			ID:   tc.ID,
			Type: "function",
			FunctionCall: &llms.FunctionCall{
				Name:      tc.FunctionCall.Name,
				Arguments: tc.FunctionCall.Arguments,
			},
		})
	}
	if len(parts) == 0 {
		return llms.MessageContent{}, false
	}
	return llms.MessageContent{Role: llms.ChatMessageTypeAI, Parts: parts}, true
}

var _ Runtime = (*LLMRuntime)(nil)
