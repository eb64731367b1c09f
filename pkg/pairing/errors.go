package pairing

import "errors"

// Errors returned by pairing state management.
var (
	// ErrTableFull indicates the controller table reached capacity.
	ErrTableFull = errors.New("pairing: controller table full")

	// ErrInvalidPairingID indicates a malformed controller pairing
	// identifier.
	ErrInvalidPairingID = errors.New("pairing: invalid pairing identifier")

	// ErrInvalidKey indicates a long-term public key of the wrong
	// length.
	ErrInvalidKey = errors.New("pairing: invalid long-term public key")

	// ErrInvalidSetupCode indicates a setup code that is not 8 decimal
	// digits or is on the trivial-code blacklist.
	ErrInvalidSetupCode = errors.New("pairing: invalid setup code")

	// ErrCorruptIdentity indicates persisted pairing state that failed
	// structural validation.
	ErrCorruptIdentity = errors.New("pairing: corrupt persisted state")
)
