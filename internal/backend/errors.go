package backend

import (
	"errors"
	"fmt"
)

// The client classifies every transcription outcome into exactly one of:
// success, NetworkError (transport/timeout), ErrInvalidResponse (body not
// parseable into the wire contract), or ServerError (the backend reported a
// failure). The orchestrator surfaces these once; there is no retry layer.

// NetworkError wraps transport-level failures, including client timeouts
// and connection refusals while the backend is starting or gone.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("backend unreachable: %v", e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ErrInvalidResponse marks a reply that is not valid JSON or carries neither
// a transcription nor an error field.
var ErrInvalidResponse = errors.New("backend returned an unparseable response")

// ServerError carries the backend's own error message, e.g. a bad audio file
// or a model load failure inside the server process.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("backend error: %s", e.Message)
}
