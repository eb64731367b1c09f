package datamodel

import "errors"

// Errors returned by database construction.
var (
	// ErrUnknownCharacteristicType indicates a type absent from the
	// catalog; custom types need AddCustomCharacteristic.
	ErrUnknownCharacteristicType = errors.New("datamodel: unknown characteristic type")

	// ErrFormatMismatch indicates a value whose format differs from
	// the characteristic's declared format.
	ErrFormatMismatch = errors.New("datamodel: value format mismatch")
)
