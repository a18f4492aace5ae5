package engine

import "errors"

var (
	// ErrNoResponse indicates the per-request deadline passed before the
	// expected acknowledge or response frame arrived.
	ErrNoResponse = errors.New("tds: no response")

	// ErrTransport indicates a socket failure. It is terminal for the connection.
	ErrTransport = errors.New("tds: transport error")

	// ErrConnClosed indicates the engine is not open.
	ErrConnClosed = errors.New("tds: connection closed")

	// ErrNotTestMode is returned by the inject methods of an engine talking to a real socket.
	ErrNotTestMode = errors.New("tds: engine is not in test mode")

	// ErrQueueTimeout indicates a request could not be queued within the send timeout.
	ErrQueueTimeout = errors.New("tds: request queue timeout")
)
