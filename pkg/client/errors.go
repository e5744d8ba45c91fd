package client

import "errors"

var (
	// ErrNotConnected is returned when writing without a live connection.
	ErrNotConnected = errors.New("client: not connected")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("client: session closed")
	// ErrHandshake is returned when the server does not greet the client.
	ErrHandshake = errors.New("client: unexpected handshake frame")
)
