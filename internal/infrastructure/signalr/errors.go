package signalr

import (
	"errors"
	"fmt"
)

var (
	ErrMissingConnectionToken = errors.New("negotiate response has no ConnectionToken")
	ErrNotConnected           = errors.New("signalr session is not connected")
	ErrNoHubAccessToken       = errors.New("hub access token is not set")
)

// NegotiationError is returned when the negotiate handshake fails.
type NegotiationError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *NegotiationError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("negotiate failed: status=%d: %v", e.StatusCode, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("negotiate failed: status=%d body=%q", e.StatusCode, e.Body)
	default:
		return fmt.Sprintf("negotiate failed: %v", e.Err)
	}
}

func (e *NegotiationError) Unwrap() error { return e.Err }

// ConnectionError is returned when a session could not be opened. Op is the
// step that failed: negotiate, dial or subscribe.
type ConnectionError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *ConnectionError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("signalr %s failed: status=%d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("signalr %s failed: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

func IsNegotiationError(err error) bool {
	var ne *NegotiationError
	return errors.As(err, &ne)
}
