// ABOUTME: Runner drives one agent turn from prompt to done/error event.
// ABOUTME: Errors evict the user's session so the next turn starts fresh.

package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/micktaiwan/eko/internal/agent"
	"github.com/micktaiwan/eko/internal/ipc"
	"github.com/micktaiwan/eko/internal/metrics"
	"github.com/micktaiwan/eko/internal/session"
	"github.com/micktaiwan/eko/internal/tools"
	"github.com/micktaiwan/eko/internal/vector"
)

// DefaultLiveLimit bounds the live-context search.
const DefaultLiveLimit = 10

// Emitter receives the events of a turn.
type Emitter interface {
	Emit(msg *ipc.Message) error
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(msg *ipc.Message) error

// Emit implements Emitter.
func (f EmitterFunc) Emit(msg *ipc.Message) error { return f(msg) }

// Searcher finds live-context messages.
type Searcher interface {
	Search(ctx context.Context, collection string, q vector.Query) ([]vector.Point, error)
}

// Config tunes a Runner.
type Config struct {
	SystemPrompt   string // replaces the default persona when set
	MaxTurns       int
	MaxTokens      int
	LiveCollection string
	LiveLimit      int
	Allow          []tools.Name // nil allows every tool
}

// Runner executes turns. It is not safe for concurrent Run calls; the
// worker queue serializes them.
type Runner struct {
	runtime  agent.Runtime
	registry *tools.Registry
	sessions *session.Store
	live     Searcher
	emit     Emitter
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
}

// NewRunner wires a Runner. live may be nil to skip live context.
func NewRunner(rt agent.Runtime, registry *tools.Registry, sessions *session.Store, live Searcher, emit Emitter, cfg Config, logger *slog.Logger) *Runner {
	if cfg.LiveLimit <= 0 {
		cfg.LiveLimit = DefaultLiveLimit
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = agent.DefaultMaxTurns
	}
	if cfg.Allow == nil {
		cfg.Allow = tools.AllNames
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		runtime:  rt,
		registry: registry,
		sessions: sessions,
		live:     live,
		emit:     emit,
		cfg:      cfg,
		logger:   logger.With("component", "query"),
		now:      time.Now,
	}
}

// Outcome summarizes a finished turn.
type Outcome struct {
	SessionID string
	Response  tools.Response
	Usage     agent.Usage
}

// Run executes the turn for requestID. The returned error has already been
// emitted as an error event.
func (r *Runner) Run(ctx context.Context, requestID, rawPrompt string) (*Outcome, error) {
	start := time.Now()
	out, err := r.run(ctx, requestID, rawPrompt)
	metrics.QueryDuration.Observe(time.Since(start).Seconds())
	metrics.QueriesTotal.WithLabelValues(metrics.Status(err)).Inc()
	return out, err
}

func (r *Runner) run(ctx context.Context, requestID, rawPrompt string) (*Outcome, error) {
	p := ParsePrompt(rawPrompt)
	log := r.logger.With("request_id", requestID, "user_id", p.From)
	log.Info("query started", "message_len", len(p.Message))

	fail := func(err error) (*Outcome, error) {
		log.Error("query failed", "error", err)
		if r.sessions.Reset(p.From) {
			log.Info("session evicted after error")
		}
		r.send(ipc.Error(requestID, err.Error()))
		return nil, err
	}

	// The slot is replaced wholesale for every turn.
	turn := tools.NewTurn(requestID, p.From, nil)
	delivered := false

	var resume string
	if sess, ok := r.sessions.Get(p.From); ok {
		resume = sess.SessionID
	}

	system := Compose(r.cfg.SystemPrompt, p, r.now(), r.liveContext(ctx, log, p.Message))

	bound := r.registry.Bind(turn, r.cfg.Allow)
	bt := make([]agent.Tool, len(bound))
	for i, b := range bound {
		bt[i] = b
	}

	events, err := r.runtime.Query(ctx, &agent.QueryRequest{
		SystemPrompt:    system,
		Prompt:          p.Message,
		MaxTurns:        r.cfg.MaxTurns,
		MaxTokens:       r.cfg.MaxTokens,
		Tools:           bt,
		ResumeSessionID: resume,
	})
	if err != nil {
		return fail(fmt.Errorf("start query: %w", err))
	}

	var sessionID string
	for ev := range events {
		switch ev.Type {
		case agent.EventSessionInit:
			sessionID = ev.SessionID
			r.sessions.Touch(p.From, sessionID)
			r.send(ipc.Session(requestID, sessionID))
			log.Debug("session", "session_id", sessionID, "resumed", sessionID == resume)

		case agent.EventText:
			log.Debug("assistant text", "text", truncate(ev.Text, 300))

		case agent.EventToolUse:
			log.Info("tool call", "tool", ev.ToolUse.Name, "input", truncate(ev.ToolUse.InputJSON, 500))

		case agent.EventToolResult:
			log.Debug("tool result", "tool", ev.ToolResult.Name, "is_error", ev.ToolResult.IsError,
				"output", truncate(ev.ToolResult.Output, 300))
			// Forward the first response as soon as it is recorded.
			if !delivered && ev.ToolResult.Name == string(tools.Respond) && turn.HasResponded() {
				delivered = true
				r.send(ipc.Text(requestID, strings.TrimSpace(turn.Response().Message)))
			}

		case agent.EventError:
			return fail(errors.New(ev.Error))

		case agent.EventResult:
			res := ev.Result
			if res.SessionID != "" {
				sessionID = res.SessionID
			}
			r.sessions.Touch(p.From, sessionID)

			resp := turn.Response()
			if !turn.HasResponded() {
				log.Warn("turn ended without respond", "rounds", res.Rounds, "exhausted", res.Exhausted)
			}
			message := strings.TrimSpace(resp.Message)
			r.send(ipc.Done(requestID, message, string(resp.Expression), res.Usage.InputTokens, res.Usage.OutputTokens))
			log.Info("query done", "rounds", res.Rounds, "input_tokens", res.Usage.InputTokens,
				"output_tokens", res.Usage.OutputTokens)
			return &Outcome{
				SessionID: sessionID,
				Response:  tools.Response{Expression: resp.Expression, Message: message},
				Usage:     res.Usage,
			}, nil
		}
	}

	if err := ctx.Err(); err != nil {
		return fail(fmt.Errorf("query cancelled: %w", err))
	}
	return fail(errors.New("runtime stream ended without a result"))
}

// liveContext searches recent public messages related to message. A failed
// search only costs the context block.
func (r *Runner) liveContext(ctx context.Context, log *slog.Logger, message string) []vector.Point {
	if r.live == nil || r.cfg.LiveCollection == "" || strings.TrimSpace(message) == "" {
		return nil
	}
	points, err := r.live.Search(ctx, r.cfg.LiveCollection, vector.Query{Text: message, Limit: r.cfg.LiveLimit})
	if err != nil {
		log.Warn("live context search failed", "error", err)
		return nil
	}
	return points
}

func (r *Runner) send(msg *ipc.Message) {
	if err := r.emit.Emit(msg); err != nil {
		r.logger.Error("emit failed", "type", msg.Type, "error", err)
	}
}

// truncate keeps at most n runes of s.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
