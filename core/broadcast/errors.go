package broadcast

import "errors"

// Package-level error definitions for broadcaster operations.
var (
	ErrBroadcasterClosed = errors.New("broadcaster closed")
	ErrCapacityExceeded  = errors.New("topic connection limit reached")
	ErrEmptyTopic        = errors.New("topic must not be empty")
	ErrEmptyEventType    = errors.New("event type must not be empty")
	ErrNilSink           = errors.New("sink must not be nil")
	ErrInvalidPayload    = errors.New("payload is not serializable")
)
