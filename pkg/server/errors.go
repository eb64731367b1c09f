package server

import "errors"

// Errors returned by server lifecycle.
var (
	// ErrMissingConfig indicates a required Config field was nil.
	ErrMissingConfig = errors.New("server: missing database, secure channel or store")

	// ErrInvalidDatabase indicates the attribute database failed boot
	// validation; the message lists every violation.
	ErrInvalidDatabase = errors.New("server: invalid attribute database")

	// ErrAlreadyStarted indicates Start was called twice.
	ErrAlreadyStarted = errors.New("server: already started")

	// ErrClosed indicates use after Stop.
	ErrClosed = errors.New("server: closed")
)
