package profile

import "errors"

var (
	// ErrMalformedMessage is returned by Decode when the input is too short for a field.
	ErrMalformedMessage = errors.New("malformed profile message")
	// ErrLocalStoreUnavailable is logged when the local slot cannot be read.
	ErrLocalStoreUnavailable = errors.New("local profile store unavailable")
	// ErrWriteFailed is logged when the local slot cannot be written.
	ErrWriteFailed = errors.New("local profile write failed")
)
