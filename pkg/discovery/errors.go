package discovery

import "errors"

// Errors returned by the advertiser.
var (
	// ErrInvalidTXT indicates a TXT record missing required fields.
	ErrInvalidTXT = errors.New("discovery: invalid TXT record")

	// ErrAlreadyStarted indicates Start was called twice.
	ErrAlreadyStarted = errors.New("discovery: already advertising")

	// ErrClosed indicates use after Stop.
	ErrClosed = errors.New("discovery: advertiser closed")
)
