package runtime

import (
	"errors"
	"fmt"
)

var (
	// ErrUnavailable wraps transport failures and 5xx answers from the control API.
	ErrUnavailable = errors.New("runtime control API unavailable")

	// ErrProtocolViolation is returned when a reply is neither a success nor a structured error.
	ErrProtocolViolation = errors.New("runtime control API protocol violation")

	// ErrConfigRejected is wrapped by RejectedError.
	ErrConfigRejected = errors.New("runtime rejected configuration")

	// ErrInvalidURL is returned for control URLs that cannot be parsed.
	ErrInvalidURL = errors.New("invalid runtime control URL")
)

// RejectedError carries the runtime's structured error reply.
type RejectedError struct {
	Message string
	Detail  string
	Status  int
}

func (e *RejectedError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s (%s)", ErrConfigRejected, e.Message, e.Detail)
	}
	return fmt.Sprintf("%s: %s", ErrConfigRejected, e.Message)
}

func (e *RejectedError) Unwrap() error { return ErrConfigRejected }
