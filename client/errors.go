package client

import "errors"

var (
	// ErrStateConfirmationTimeout indicates a SET that was acknowledged but whose
	// effect was not observed on the event channel before the confirm timeout.
	ErrStateConfirmationTimeout = errors.New("tds: state confirmation timeout")

	// ErrNotConnected is returned by operations issued before Connect or after Disconnect.
	ErrNotConnected = errors.New("tds: client not connected")

	// ErrAlreadyConnected is returned by Connect on a connected client.
	ErrAlreadyConnected = errors.New("tds: client already connected")
)
