package consts

import "errors"

var (
	// ErrNotConnected is returned by session operations when no POP3
	// connection has been established.
	ErrNotConnected = errors.New("no pop3 server connection")

	ErrMalformedMessage = errors.New("malformed message")
)
