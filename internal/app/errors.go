package app

import "errors"

// Sentinel errors mapped to HTTP statuses by the server layer.
var (
	// ErrNotFound covers both missing documents and documents owned by
	// someone else. Callers cannot distinguish the two.
	ErrNotFound = errors.New("document not found")

	// ErrDocumentProcessing is returned when a document has no chunks yet.
	ErrDocumentProcessing = errors.New("document is still being processed, please try again in a moment")

	// ErrStorageUnavailable is returned when object storage is not reachable.
	ErrStorageUnavailable = errors.New("object storage unavailable")

	// ErrAIUnavailable is returned when no text generator is configured.
	ErrAIUnavailable = errors.New("ai generator not configured")
)
