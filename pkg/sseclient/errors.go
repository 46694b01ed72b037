package sseclient

import "errors"

// Package-level error definitions for the reconnecting client.
//
// These cover invalid input only. Transient network failures are never
// surfaced as errors; they are absorbed into the reconnect loop and reported
// through the observation callbacks.
var (
	ErrInvalidEndpoint  = errors.New("invalid endpoint URL")
	ErrEmptyTopic       = errors.New("topic must not be empty")
	ErrAlreadyConnected = errors.New("client already connected")
	ErrNotSuspended     = errors.New("client not suspended")
)
