// ABOUTME: Validation and lookup errors raised before a handler runs.
// ABOUTME: Both are returned to the model as tool results

package tools

import (
	"errors"
	"fmt"
)

// ErrUnknownTool is returned for a name outside the registry or allow-list.
var ErrUnknownTool = errors.New("unknown tool")

// ValidationError reports malformed tool arguments.
type ValidationError struct {
	Tool   Name
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid arguments for %s: %s", e.Tool, e.Reason)
	}
	return fmt.Sprintf("invalid arguments for %s: %s %s", e.Tool, e.Field, e.Reason)
}

func invalid(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}
