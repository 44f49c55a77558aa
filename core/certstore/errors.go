package certstore

import "errors"

var (
	// ErrNotFound is returned when no bundle is stored under the name.
	// Callers treat it as the trigger for first-time issuance.
	ErrNotFound = errors.New("certificate not found")

	// ErrEmptyChain is returned when the store reports a bundle without certificates.
	ErrEmptyChain = errors.New("certificate chain is empty")

	// ErrEmptyBundle is returned when uploading an empty bundle.
	ErrEmptyBundle = errors.New("certificate bundle is empty")
)
