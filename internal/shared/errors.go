package shared

import "errors"

// Root sentinels shared across domains. Packages wrap these in their own
// prefixed sentinels so callers can match either the domain error or the
// cross-cutting cause with errors.Is.
var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrStorageUnavailable indicates the durable store rejected or lost a write.
	ErrStorageUnavailable = errors.New("storage unavailable")
)
