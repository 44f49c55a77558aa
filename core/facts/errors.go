package facts

import "errors"

var (
	// ErrNotFound is returned when a looked-up fact does not exist.
	ErrNotFound = errors.New("fact not found")

	// ErrInvalidUnit is returned when a unit cannot be stored.
	ErrInvalidUnit = errors.New("invalid unit")

	// ErrFallbackTooDeep is returned when an action's fallback chain exceeds MaxFallbackDepth.
	ErrFallbackTooDeep = errors.New("action fallback chain too deep")

	// ErrInvalidFallback is returned when an action's fallback is not an object.
	ErrInvalidFallback = errors.New("action fallback must be an object")
)
