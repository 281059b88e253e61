package registry

import "errors"

var (
	// ErrDuplicateEndpoint is returned when adding an endpoint whose
	// identifier is already present in the pool.
	ErrDuplicateEndpoint = errors.New("duplicate endpoint")

	// ErrUnknownEndpoint is returned when looking up an identifier
	// that is not in the pool.
	ErrUnknownEndpoint = errors.New("unknown endpoint")
)
