package unitfile

import "errors"

// Errors returned while loading unit files. Unit validation errors come from
// the facts package and are wrapped with the unit's position.
var (
	ErrUnsupportedFormat = errors.New("unsupported unit file format")
	ErrParse             = errors.New("failed to parse unit file")
	ErrInvalidHosts      = errors.New("match hosts must be a list of domains")
)
