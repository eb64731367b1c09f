package persist

import "errors"

// Errors returned by stores.
var (
	// ErrNotFound indicates no blob exists under the requested key.
	ErrNotFound = errors.New("persist: blob not found")
)
