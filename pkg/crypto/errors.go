package crypto

import "errors"

// Errors returned by the primitive wrappers.
var (
	// ErrAuthentication indicates an AEAD tag or proof mismatch.
	ErrAuthentication = errors.New("crypto: authentication failed")

	// ErrInvalidPublicKey indicates a peer public value that the
	// underlying primitive rejected.
	ErrInvalidPublicKey = errors.New("crypto: invalid public key")
)
