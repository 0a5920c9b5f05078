// Package pop3 implements a POP3 (RFC 1939) client.
//
// The package is split in three layers that can be used on their own:
//   - Encoder builds request lines for USER, PASS, STAT, LIST, RETR and QUIT
//   - the Parse* functions turn complete server responses into typed values
//   - Client owns a connection and runs one exchange at a time
//
// # Connecting
//
//	c, err := pop3.DialTLS(ctx, "mail.example.org", nil)
//	if err != nil {
//		return err
//	}
//	defer c.Close()
//
//	if _, err := c.User(ctx, "alice"); err != nil {
//		return err
//	}
//	if _, err := c.Pass(ctx, "secret"); err != nil {
//		return err
//	}
//	stat, err := c.Stat(ctx)
//
// # Session States
//
//	none → authorization → user-sent → transaction → logout
//
// By default commands are sent whatever the state and the server decides.
// With Options.StrictState the client refuses out-of-order commands with
// ErrBadState before anything is written.
//
// # Errors
//
// A "-ERR" reply is returned as *Error and leaves the connection usable.
// Transport failures, malformed responses, context cancellation and
// oversized responses break the connection; IsFatal reports whether the
// caller has to reconnect. The client never retries on its own.
package pop3
