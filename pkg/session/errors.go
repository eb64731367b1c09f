package session

import "errors"

// Errors returned by the secure transport.
var (
	// ErrDecrypt indicates a frame failed tag verification. The
	// connection must be closed; the counters cannot resynchronize.
	ErrDecrypt = errors.New("session: frame decryption failed")

	// ErrFrameTooLarge indicates a length prefix above the 1024-byte
	// frame limit.
	ErrFrameTooLarge = errors.New("session: frame exceeds maximum size")
)
