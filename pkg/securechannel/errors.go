package securechannel

import "errors"

// Errors returned by the pairing state machines. These indicate
// malformed requests the protocol cannot answer; callers close the
// connection (or return 400 pre-verify).
var (
	// ErrNoIdentity indicates the Manager was created without an
	// identity or controller table.
	ErrNoIdentity = errors.New("securechannel: missing identity or controller table")

	// ErrMissingState indicates a pairing message without a usable
	// State item.
	ErrMissingState = errors.New("securechannel: missing state")
)
