package stream

import "errors"

// ErrStreamClosed is returned by sink operations after the transport
// connection has been torn down.
var ErrStreamClosed = errors.New("stream closed")
