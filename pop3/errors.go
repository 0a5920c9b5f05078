package pop3

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument is returned when a command cannot be encoded, for
	// instance because an argument contains CR or LF. No I/O happens.
	ErrInvalidArgument = errors.New("pop3: invalid command argument")
	// ErrBadState is returned in strict mode when a command is issued in a
	// session state that does not allow it.
	ErrBadState = errors.New("pop3: command not allowed in current state")
	// ErrClosed is returned by every method once the client has been closed
	// or has sent QUIT.
	ErrClosed = errors.New("pop3: client closed")
	// ErrConnBroken is returned once an exchange failed in a way that left
	// the stream at an unknown framing position.
	ErrConnBroken = errors.New("pop3: connection broken")
	// ErrResponseTooLarge is returned when a response exceeds
	// Options.MaxResponseSize.
	ErrResponseTooLarge = errors.New("pop3: response too large")
)

// Error is a POP3 error caused by a "-ERR" status response. The connection
// stays correctly framed and can be used for the next command.
type Error struct {
	Text string // Server supplied text, trimmed
}

var _ error = (*Error)(nil)

func (err *Error) Error() string {
	text := err.Text
	if text == "" {
		text = "<unknown>"
	}
	return "pop3: -ERR " + text
}

// ParseError reports a response that does not match the grammar expected for
// the issued command.
type ParseError struct {
	Op     string // Grammar production being parsed, e.g. "STAT"
	Reason string
}

var _ error = (*ParseError)(nil)

func (err *ParseError) Error() string {
	return fmt.Sprintf("pop3: malformed %s response: %s", err.Op, err.Reason)
}

// IsFatal reports whether err leaves the connection unusable. Server "-ERR"
// replies, encoding errors and strict-mode state errors are not fatal; every
// other error means the caller has to reconnect.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var protoErr *Error
	switch {
	case errors.As(err, &protoErr):
		return false
	case errors.Is(err, ErrInvalidArgument), errors.Is(err, ErrBadState):
		return false
	}
	return true
}
