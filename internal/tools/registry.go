// ABOUTME: Immutable dispatch table of agent tools keyed by Name.
// ABOUTME: Decodes and validates arguments, runs handlers, counts outcomes.

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	lctools "github.com/tmc/langchaingo/tools"

	"github.com/micktaiwan/eko/internal/metrics"
	"github.com/micktaiwan/eko/internal/store"
	"github.com/micktaiwan/eko/internal/vector"
)

// VectorStore is the subset of the vector client the tools use.
type VectorStore interface {
	Search(ctx context.Context, collection string, q vector.Query) ([]vector.Point, error)
	Upsert(ctx context.Context, collection string, payload vector.Payload) (vector.UpsertResult, error)
	Delete(ctx context.Context, collection, id string) error
	Scroll(ctx context.Context, collection string, limit int) ([]vector.Point, error)
}

// NoteStore is the read side of the notes store.
type NoteStore interface {
	SearchNotes(ctx context.Context, query string, limit int) ([]*store.Note, error)
	GetNote(ctx context.Context, id string) (*store.Note, error)
}

// Collections names the vector collections the memory tools write to.
type Collections struct {
	Facts string
	Self  string
	Goals string
}

// Deps are the collaborators handlers call into.
type Deps struct {
	Vectors     VectorStore
	Notes       NoteStore
	Collections Collections
	Logger      *slog.Logger
	Now         func() time.Time
}

// args is implemented by every argument struct.
type args interface {
	validate() error
}

// argsPtr constrains P to *A implementing args.
type argsPtr[A any] interface {
	*A
	args
}

// call is a validated invocation ready to run.
type call func(ctx context.Context, turn *Turn) (string, error)

// Tool is one registry entry.
type Tool struct {
	Name        Name
	Description string
	Schema      json.RawMessage
	decode      func(input json.RawMessage) (call, error)
}

// define builds a Tool whose input decodes into A and is validated before h
// runs.
func define[A any, P argsPtr[A]](name Name, description, schema string, h func(ctx context.Context, turn *Turn, in *A) (string, error)) *Tool {
	return &Tool{
		Name:        name,
		Description: description,
		Schema:      json.RawMessage(schema),
		decode: func(input json.RawMessage) (call, error) {
			var in A
			raw := strings.TrimSpace(string(input))
			if raw == "" {
				raw = "{}"
			}
			if err := json.Unmarshal([]byte(raw), &in); err != nil {
				return nil, &ValidationError{Tool: name, Reason: fmt.Sprintf("arguments must be a JSON object matching the schema: %v", err)}
			}
			if err := P(&in).validate(); err != nil {
				var ve *ValidationError
				if errors.As(err, &ve) {
					ve.Tool = name
				}
				return nil, err
			}
			return func(ctx context.Context, turn *Turn) (string, error) {
				return h(ctx, turn, &in)
			}, nil
		},
	}
}

// Registry is read-only after NewRegistry returns.
type Registry struct {
	tools  map[Name]*Tool
	order  []Name
	logger *slog.Logger
}

// NewRegistry registers every tool against deps.
func NewRegistry(deps Deps) *Registry {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	logger := deps.Logger.With("component", "tools")

	h := &handlers{deps: deps, logger: logger}
	r := &Registry{tools: make(map[Name]*Tool), logger: logger}
	for _, t := range h.all() {
		if _, dup := r.tools[t.Name]; dup {
			panic(fmt.Sprintf("tools: duplicate registration of %s", t.Name))
		}
		r.tools[t.Name] = t
		r.order = append(r.order, t.Name)
	}

	logger.Info("=== TOOLS REGISTERED ===", "count", len(r.order))
	return r
}

// Get returns the tool named n.
func (r *Registry) Get(n Name) (*Tool, bool) {
	t, ok := r.tools[n]
	return t, ok
}

// Names lists the registered tools in registration order.
func (r *Registry) Names() []Name {
	return append([]Name(nil), r.order...)
}

// selected returns the tools in allow, in registration order. A nil allow
// selects every tool.
func (r *Registry) selected(allow []Name) []*Tool {
	var out []*Tool
	for _, n := range r.order {
		if allow != nil && !slices.Contains(allow, n) {
			continue
		}
		out = append(out, r.tools[n])
	}
	return out
}

// Definitions returns model-facing definitions of the allowed tools.
func (r *Registry) Definitions(allow []Name) []llms.Tool {
	sel := r.selected(allow)
	defs := make([]llms.Tool, 0, len(sel))
	for _, t := range sel {
		defs = append(defs, t.Definition())
	}
	return defs
}

// Definition returns the llms.Tool definition of t.
func (t *Tool) Definition() llms.Tool {
	var params any = map[string]any{"type": "object"}
	var schema map[string]any
	if err := json.Unmarshal(t.Schema, &schema); err == nil {
		params = schema
	}
	return llms.Tool{
		Type: "function",
		Function: &llms.FunctionDefinition{
			Name:        string(t.Name),
			Description: t.Description,
			Parameters:  params,
		},
	}
}

// Invoke validates input and runs the named tool for turn.
func (r *Registry) Invoke(ctx context.Context, turn *Turn, name Name, input json.RawMessage) (string, error) {
	t, ok := r.tools[name]
	if !ok {
		metrics.ToolCallsTotal.WithLabelValues(string(name), "unknown").Inc()
		return "", fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}

	run, err := t.decode(input)
	if err != nil {
		metrics.ToolCallsTotal.WithLabelValues(string(name), "invalid").Inc()
		r.logger.Warn("rejected tool arguments",
			"tool", name,
			"request_id", turn.RequestID,
			"error", err,
		)
		return "", err
	}

	start := time.Now()
	out, err := run(ctx, turn)
	metrics.ToolCallsTotal.WithLabelValues(string(name), metrics.Status(err)).Inc()
	if err != nil {
		r.logger.Warn("tool failed",
			"tool", name,
			"request_id", turn.RequestID,
			"duration", time.Since(start),
			"error", err,
		)
		return "", err
	}
	r.logger.Debug("tool completed",
		"tool", name,
		"request_id", turn.RequestID,
		"duration", time.Since(start),
	)
	return out, nil
}

// Bound is a tool attached to one turn. It satisfies langchaingo's
// tools.Tool.
type Bound struct {
	registry *Registry
	tool     *Tool
	turn     *Turn
}

var _ lctools.Tool = (*Bound)(nil)

// Bind attaches the allowed tools to turn. A nil allow binds every tool.
func (r *Registry) Bind(turn *Turn, allow []Name) []*Bound {
	sel := r.selected(allow)
	out := make([]*Bound, 0, len(sel))
	for _, t := range sel {
		out = append(out, &Bound{registry: r, tool: t, turn: turn})
	}
	return out
}

// Name implements tools.Tool.
func (b *Bound) Name() string { return string(b.tool.Name) }

// Description implements tools.Tool.
func (b *Bound) Description() string { return b.tool.Description }

// Definition returns the model-facing definition.
func (b *Bound) Definition() llms.Tool { return b.tool.Definition() }

// Call implements tools.Tool. input is the JSON argument object.
func (b *Bound) Call(ctx context.Context, input string) (string, error) {
	return b.registry.Invoke(ctx, b.turn, b.tool.Name, json.RawMessage(input))
}
