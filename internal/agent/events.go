// ABOUTME: Event types streamed by a Runtime during one turn.
// ABOUTME: Exactly one terminal Result or Error event ends each stream.

package agent

// EventType indicates the kind of event.
type EventType int

const (
	EventSessionInit EventType = iota
	EventText
	EventToolUse
	EventToolResult
	EventResult
	EventError
)

func (t EventType) String() string {
	switch t {
	case EventSessionInit:
		return "session_init"
	case EventText:
		return "text"
	case EventToolUse:
		return "tool_use"
	case EventToolResult:
		return "tool_result"
	case EventResult:
		return "result"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one item of a turn's stream.
type Event struct {
	Type       EventType
	SessionID  string           // EventSessionInit
	Text       string           // EventText
	ToolUse    *ToolUseEvent    // EventToolUse
	ToolResult *ToolResultEvent // EventToolResult
	Result     *ResultEvent     // EventResult
	Error      string           // EventError
}

// Terminal reports whether e ends the stream.
func (e *Event) Terminal() bool {
	return e.Type == EventResult || e.Type == EventError
}

// ToolUseEvent represents a tool invocation by the model.
type ToolUseEvent struct {
	ID        string
	Name      string
	InputJSON string
}

// ToolResultEvent represents the result of a tool invocation.
type ToolResultEvent struct {
	ID      string
	Name    string
	Output  string
	IsError bool
}

// Usage is token consumption summed over a turn.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Add accumulates u2 into u.
func (u *Usage) Add(u2 Usage) {
	u.InputTokens += u2.InputTokens
	u.OutputTokens += u2.OutputTokens
}

// ResultEvent closes a successful turn.
type ResultEvent struct {
	SessionID string
	Usage     Usage
	Rounds    int
	// Exhausted is set when the turn budget ran out while the model still
	// wanted to call tools.
	Exhausted bool
}
