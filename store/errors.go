package store

import "errors"

var (
	// ErrDocumentNotFound is returned when no document matches an id.
	ErrDocumentNotFound = errors.New("store: document not found")

	// ErrSectionNotFound is returned when the document exists but the
	// requested section does not. Distinct from ErrDocumentNotFound so
	// the query engine can name the document in its answer.
	ErrSectionNotFound = errors.New("store: section not found")

	// ErrInvalidInput is returned for empty ids, empty queries, and
	// malformed arguments.
	ErrInvalidInput = errors.New("store: invalid input")

	// ErrBackendUnavailable is returned when an operation needs a
	// capability this backend does not provide (trigram matching,
	// persisted structures).
	ErrBackendUnavailable = errors.New("store: capability not available on this backend")
)
