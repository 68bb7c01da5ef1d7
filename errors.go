package paragraf

import "errors"

var (
	// ErrInvalidConfig is returned for invalid configuration values.
	ErrInvalidConfig = errors.New("paragraf: invalid configuration")

	// ErrUnknownBackend is returned when Config.Backend names neither
	// "sqlite" nor "postgres".
	ErrUnknownBackend = errors.New("paragraf: unknown backend")

	// ErrNoEmbedder is returned when an operation needs an embedding
	// client but no API key was configured.
	ErrNoEmbedder = errors.New("paragraf: no embedding client configured")
)
