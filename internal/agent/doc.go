// Package agent runs one conversational turn against an LLM with tools.
//
// # Overview
//
// A Runtime accepts a QueryRequest (system prompt, user prompt, turn budget,
// bound tools and an optional resume session id) and streams Events until
// the turn ends:
//
//	events, err := rt.Query(ctx, &agent.QueryRequest{...})
//	for ev := range events {
//	    switch ev.Type {
//	    case agent.EventSessionInit: // ev.SessionID
//	    case agent.EventToolUse:     // ev.ToolUse
//	    case agent.EventResult:      // ev.Usage, terminal
//	    case agent.EventError:       // ev.Error, terminal
//	    }
//	}
//
// Exactly one terminal event (EventResult or EventError) is sent, then the
// channel is closed.
//
// # LLMRuntime
//
// LLMRuntime drives any langchaingo llms.Model. Each round sends the
// transcript and the tool definitions; tool calls in the reply are executed
// in order and their results appended. The loop ends when the model replies
// without tool calls or the turn budget is spent. Spending the budget is a
// degraded completion, not an error.
//
// Sessions are in-memory transcripts keyed by session id. Resuming an
// unknown or expired id silently starts a new session. A turn that fails
// leaves its session untouched.
//
// # Single-shot completions
//
// Complete runs one model call with no tools, for callers that only need a
// JSON decision. ExtractJSON recovers the object from replies wrapped in
// markdown fences or prose.
package agent
