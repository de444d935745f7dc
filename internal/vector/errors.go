// ABOUTME: Error types for embedding and vector store calls.
// ABOUTME: UpstreamError carries the service, HTTP status and response body.

package vector

import (
	"errors"
	"fmt"
)

// Services reported in UpstreamError.
const (
	ServiceEmbedding = "embedding"
	ServiceVector    = "vector"
)

// ErrEmptyContent is returned when asked to embed or store blank text.
var ErrEmptyContent = errors.New("content is empty")

// UpstreamError reports a failed call to an external service. StatusCode is
// zero for transport failures.
type UpstreamError struct {
	Service    string
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *UpstreamError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("%s %s: status %d: %s", e.Service, e.Op, e.StatusCode, e.Body)
	case e.Err != nil:
		return fmt.Sprintf("%s %s: %v", e.Service, e.Op, e.Err)
	default:
		return fmt.Sprintf("%s %s failed", e.Service, e.Op)
	}
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// IsUpstream reports whether err is (or wraps) an UpstreamError.
func IsUpstream(err error) bool {
	var ue *UpstreamError
	return errors.As(err, &ue)
}
