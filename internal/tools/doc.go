// Package tools defines the fixed set of tools the agent may call during a
// turn.
//
// # Registry
//
// NewRegistry builds an immutable dispatch table keyed by Name. Each entry
// couples a JSON schema, a typed argument struct with its own validation and
// a handler. Arguments are decoded and validated before the handler runs, so
// handlers only ever see well-formed input.
//
// # Binding
//
// A Turn carries the request being served: its ids, the response captured by
// the respond tool and the at-most-once guard. Registry.Bind attaches the
// allow-listed tools to one Turn and returns them as langchaingo tools.Tool
// values with their llms.Tool definitions.
//
// # Errors
//
// Handler and validation failures are returned as errors from Call; the
// agent loop turns them into "Error: ..." tool results so the model can
// react. A second respond call is not an error: it returns an explicit
// "already responded" result and leaves the first response untouched.
//
// # Tools
//
//   - search_memories, get_recent_memories, store_memory, delete_memory
//   - search_self, store_self, delete_self
//   - search_goals, store_goal, delete_goal
//   - search_notes, get_note
//   - respond
package tools
