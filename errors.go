package piiscrub

import "errors"

var (
	// ErrInvalidConfig is returned for invalid configuration values.
	ErrInvalidConfig = errors.New("piiscrub: invalid configuration")

	// ErrMissingClient is returned when LLM detection is enabled but no
	// client is configured or constructible.
	ErrMissingClient = errors.New("piiscrub: no LLM client configured")
)
