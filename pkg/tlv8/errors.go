package tlv8

import "errors"

// Errors returned by the codec.
var (
	// ErrTruncated indicates the stream ended inside a fragment.
	ErrTruncated = errors.New("tlv8: truncated stream")
)
