package server

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrAlreadyBound      = errors.New("connection already subscribed")
	ErrNotSubscribed     = errors.New("not subscribed to a room")
	ErrInvalidMessage    = errors.New("message content cannot be empty")
	ErrRoomMismatch      = errors.New("room does not match subscription")
	ErrMalformedEvent    = errors.New("malformed event")
	ErrUnknownEvent      = errors.New("unknown event")
	ErrUnknownConnection = errors.New("unknown connection")
	ErrRateLimited       = errors.New("rate limit exceeded")
	ErrShuttingDown      = errors.New("server is shutting down")
)

// ProtocolError reports an inbound event that is not valid in the
// connection's current state or could not be decoded.
type ProtocolError struct {
	Event string
	Err   error
}

func (e *ProtocolError) Error() string {
	if e.Event == "" {
		return fmt.Sprintf("protocol error: %s", e.Err)
	}

	return fmt.Sprintf("protocol error: %s: %s", e.Event, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// TransportError wraps an I/O failure on a connection. It always ends the
// connection's session.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %s", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func malformed(event string, err error) *ProtocolError {
	return &ProtocolError{Event: event, Err: fmt.Errorf("%w: %v", ErrMalformedEvent, err)}
}

// errorCode maps a rejection to the code carried by the error event.
func errorCode(err error) int {
	switch {
	case errors.Is(err, ErrAlreadyBound):
		return http.StatusConflict
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrShuttingDown):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadRequest
	}
}

// reason returns the message of the sentinel behind err, so clients see a
// stable string rather than the wrapping chain.
func reason(err error) string {
	for _, sentinel := range []error{
		ErrAlreadyBound,
		ErrNotSubscribed,
		ErrInvalidMessage,
		ErrRoomMismatch,
		ErrMalformedEvent,
		ErrUnknownEvent,
		ErrRateLimited,
		ErrShuttingDown,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}

	return "internal error"
}
