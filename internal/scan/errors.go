package scan

import "errors"

// Scan-related errors.
var (
	// ErrInvalidMaxTTL indicates max TTL is zero
	ErrInvalidMaxTTL = errors.New("max TTL must be between 1 and 255")

	// ErrInvalidFirstTTL indicates first TTL is invalid
	ErrInvalidFirstTTL = errors.New("first TTL must be between 1 and max TTL")

	// ErrInvalidRate indicates a negative rate
	ErrInvalidRate = errors.New("rate must not be negative")

	// ErrTargetResolution indicates the target could not be resolved
	ErrTargetResolution = errors.New("could not resolve target")

	// ErrNoTargets indicates an empty target list
	ErrNoTargets = errors.New("no targets to probe")
)
