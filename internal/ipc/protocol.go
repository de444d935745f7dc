// ABOUTME: Message types of the supervisor/worker protocol.
// ABOUTME: Per-type wire shapes so done always carries response and token counts.

package ipc

import (
	"encoding/json"
)

// Type identifies a protocol message.
type Type string

// Inbound types.
const (
	TypePrompt Type = "prompt"
	TypeReset  Type = "reset"
	TypePing   Type = "ping"
)

// Outbound types.
const (
	TypeReady     Type = "ready"
	TypeSession   Type = "session"
	TypeText      Type = "text"
	TypeDone      Type = "done"
	TypeError     Type = "error"
	TypeResetDone Type = "reset_done"
	TypePong      Type = "pong"
	TypeLog       Type = "log"
)

// Message is the union of every protocol message. Only the fields relevant
// to Type are meaningful; MarshalJSON writes exactly those.
type Message struct {
	Type         Type           `json:"type"`
	RequestID    string         `json:"requestId,omitempty"`
	Prompt       string         `json:"prompt,omitempty"`
	UserID       string         `json:"userId,omitempty"`
	SessionID    string         `json:"sessionId,omitempty"`
	Text         string         `json:"text,omitempty"`
	Response     string         `json:"response,omitempty"`
	Expression   string         `json:"expression,omitempty"`
	InputTokens  int            `json:"inputTokens,omitempty"`
	OutputTokens int            `json:"outputTokens,omitempty"`
	Message      string         `json:"message,omitempty"`
	Level        string         `json:"level,omitempty"`
	Data         map[string]any `json:"data,omitempty"`
}

// Prompt builds an inbound prompt message.
func Prompt(requestID, prompt string) *Message {
	return &Message{Type: TypePrompt, RequestID: requestID, Prompt: prompt}
}

// Reset builds an inbound reset message. An empty userID resets every session.
func Reset(requestID, userID string) *Message {
	return &Message{Type: TypeReset, RequestID: requestID, UserID: userID}
}

// Ping builds an inbound liveness probe.
func Ping() *Message { return &Message{Type: TypePing} }

// Ready builds the startup announcement.
func Ready() *Message { return &Message{Type: TypeReady} }

// Pong answers a ping.
func Pong() *Message { return &Message{Type: TypePong} }

// Session reports the runtime session bound to a request.
func Session(requestID, sessionID string) *Message {
	return &Message{Type: TypeSession, RequestID: requestID, SessionID: sessionID}
}

// Text streams partial output for a request.
func Text(requestID, text string) *Message {
	return &Message{Type: TypeText, RequestID: requestID, Text: text}
}

// Done completes a request.
func Done(requestID, response, expression string, inputTokens, outputTokens int) *Message {
	return &Message{
		Type:         TypeDone,
		RequestID:    requestID,
		Response:     response,
		Expression:   expression,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
	}
}

// Error fails a request.
func Error(requestID, message string) *Message {
	return &Message{Type: TypeError, RequestID: requestID, Message: message}
}

// ResetDone acknowledges a reset.
func ResetDone(requestID string) *Message {
	return &Message{Type: TypeResetDone, RequestID: requestID}
}

// Log carries a worker log record to the supervisor.
func Log(level, message string, data map[string]any) *Message {
	return &Message{Type: TypeLog, Level: level, Message: message, Data: data}
}

type doneWire struct {
	Type         Type   `json:"type"`
	RequestID    string `json:"requestId"`
	Response     string `json:"response"`
	Expression   string `json:"expression"`
	InputTokens  int    `json:"inputTokens"`
	OutputTokens int    `json:"outputTokens"`
}

type textWire struct {
	Type      Type   `json:"type"`
	Text      string `json:"text"`
	RequestID string `json:"requestId"`
}

type errorWire struct {
	Type      Type   `json:"type"`
	RequestID string `json:"requestId"`
	Message   string `json:"message"`
}

type logWire struct {
	Type    Type           `json:"type"`
	Level   string         `json:"level"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

// message is an alias without methods so the default encoding can be reused.
type message Message

// MarshalJSON writes the shape defined for m.Type. Fields that the protocol
// requires are always present even when zero.
func (m *Message) MarshalJSON() ([]byte, error) {
	switch m.Type {
	case TypeDone:
		return json.Marshal(doneWire{
			Type:         m.Type,
			RequestID:    m.RequestID,
			Response:     m.Response,
			Expression:   m.Expression,
			InputTokens:  m.InputTokens,
			OutputTokens: m.OutputTokens,
		})
	case TypeText:
		return json.Marshal(textWire{Type: m.Type, Text: m.Text, RequestID: m.RequestID})
	case TypeError:
		return json.Marshal(errorWire{Type: m.Type, RequestID: m.RequestID, Message: m.Message})
	case TypeLog:
		return json.Marshal(logWire{Type: m.Type, Level: m.Level, Message: m.Message, Data: m.Data})
	case TypePing, TypePong, TypeReady:
		return json.Marshal(struct {
			Type Type `json:"type"`
		}{m.Type})
	default:
		return json.Marshal((*message)(m))
	}
}
