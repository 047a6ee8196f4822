package access

import "errors"

var (
	ErrNotFound     = errors.New("access: not found")
	ErrInvalidInput = errors.New("access: invalid input")
	// ErrUnknownKind is a configuration error: the resolver was asked about a
	// resource kind that was never registered. Surfaced at construction time
	// where possible; at decision time it always denies.
	ErrUnknownKind = errors.New("access: unknown resource kind")
)
