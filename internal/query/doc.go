// Package query executes one conversational turn for a user.
//
// A Runner parses the caller's prompt, gathers live context from recent
// public messages, composes the system prompt and drives an agent.Runtime
// with the tool registry bound to the turn. The chosen response is captured
// by the respond tool; everything the caller sees goes through an Emitter.
//
// Turn outcomes:
//
//	session  - the runtime started or resumed a session
//	text     - respond was called (partial output, before completion)
//	done     - the runtime finished; carries message, expression and usage
//	error    - the turn failed; the user's session is evicted
//
// A turn in which the model never calls respond still completes, with a
// neutral expression and an empty message.
package query
