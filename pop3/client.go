package pop3

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"

	"github.com/migadu/popclient/helpers"
	"github.com/migadu/popclient/logger"
)

// ConnState describes the POP3 session state of a client.
type ConnState int

const (
	ConnStateNone ConnState = iota
	ConnStateAuthorization
	ConnStateUserSent
	ConnStateTransaction
	ConnStateLogout
)

func (state ConnState) String() string {
	switch state {
	case ConnStateNone:
		return "none"
	case ConnStateAuthorization:
		return "authorization"
	case ConnStateUserSent:
		return "user-sent"
	case ConnStateTransaction:
		return "transaction"
	case ConnStateLogout:
		return "logout"
	}
	return fmt.Sprintf("ConnState(%d)", int(state))
}

// allows reports whether the verb may be sent in this state.
func (state ConnState) allows(verb Verb) bool {
	switch verb {
	case VerbUser:
		return state == ConnStateAuthorization
	case VerbPass:
		return state == ConnStateUserSent
	case VerbStat, VerbList, VerbRetr:
		return state == ConnStateTransaction
	case VerbQuit:
		return state == ConnStateAuthorization || state == ConnStateUserSent || state == ConnStateTransaction
	}
	return false
}

// Client is a POP3 client bound to one connection.
//
// Exchanges are serialized: a method call blocks until the previous one has
// completed. Once a method fails with an error for which IsFatal reports true,
// the connection is closed and every later call fails with ErrConnBroken.
type Client struct {
	conn    net.Conn
	options Options
	br      *bufio.Reader
	bw      *bufio.Writer
	maxSize int64
	tls     bool

	mutex    sync.Mutex
	enc      *Encoder
	state    ConnState
	greeting string
	broken   error
	closed   bool
}

// NewClient creates a client on top of an established connection and reads
// the server greeting. The connection is closed if the greeting cannot be
// read or is negative.
func NewClient(ctx context.Context, conn net.Conn, options *Options) (*Client, error) {
	if options == nil {
		options = &Options{}
	}

	rw := options.wrapReadWriter(conn)
	_, isTLS := conn.(*tls.Conn)
	c := &Client{
		conn:    conn,
		options: *options,
		br:      bufio.NewReader(rw),
		bw:      bufio.NewWriter(rw),
		maxSize: options.maxResponseSize(),
		tls:     isTLS,
		enc:     NewEncoder(),
	}

	if err := c.readGreeting(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	logger.Debug("POP3: connected", "remote", conn.RemoteAddr().String(), "tls", isTLS, "greeting", c.greeting)
	return c, nil
}

func (c *Client) readGreeting(ctx context.Context) error {
	stop := c.watch(ctx)
	defer stop()

	b, err := c.readLine(ctx)
	if err != nil {
		return err
	}
	text, err := ParseStatus(b)
	if err != nil {
		return fmt.Errorf("pop3: server rejected connection: %w", err)
	}
	c.greeting = text
	c.state = ConnStateAuthorization
	return nil
}

// Greeting returns the text of the server greeting.
func (c *Client) Greeting() string {
	return c.greeting
}

// State returns the current session state.
func (c *Client) State() ConnState {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.state
}

// TLS reports whether the connection is encrypted.
func (c *Client) TLS() bool {
	return c.tls
}

// User sends USER and returns the server text.
func (c *Client) User(ctx context.Context, name string) (string, error) {
	var text string
	err := c.do(ctx, UserCommand(name), func(b []byte) (err error) {
		text, err = ParseStatus(b)
		return err
	})
	return text, err
}

// Pass sends PASS and returns the server text. A positive reply moves the
// session to the transaction state.
func (c *Client) Pass(ctx context.Context, secret string) (string, error) {
	var text string
	err := c.do(ctx, PassCommand(secret), func(b []byte) (err error) {
		text, err = ParseStatus(b)
		return err
	})
	return text, err
}

// Stat returns the number of messages and the size of the maildrop.
func (c *Client) Stat(ctx context.Context) (*MaildropStat, error) {
	var stat *MaildropStat
	err := c.do(ctx, StatCommand(), func(b []byte) (err error) {
		stat, err = ParseStat(b)
		return err
	})
	return stat, err
}

// List returns the scan listing of every message in the maildrop.
func (c *Client) List(ctx context.Context) (*ListResult, error) {
	var list *ListResult
	err := c.do(ctx, ListCommand(), func(b []byte) (err error) {
		list, err = ParseList(b)
		return err
	})
	return list, err
}

// ListMessage returns the scan listing of a single message.
func (c *Client) ListMessage(ctx context.Context, id uint64) (*ListResult, error) {
	var list *ListResult
	err := c.do(ctx, ListMessageCommand(id), func(b []byte) (err error) {
		list, err = ParseListMessage(b)
		return err
	})
	return list, err
}

// Retr downloads a message.
func (c *Client) Retr(ctx context.Context, id uint64) (*RetrievedMessage, error) {
	var msg *RetrievedMessage
	err := c.do(ctx, RetrCommand(id), func(b []byte) (err error) {
		msg, err = ParseRetr(b)
		return err
	})
	return msg, err
}

// Quit sends QUIT and closes the connection, whatever the reply. The client
// cannot be used afterwards.
func (c *Client) Quit(ctx context.Context) (string, error) {
	var text string
	err := c.do(ctx, QuitCommand(), func(b []byte) (err error) {
		text, err = ParseStatus(b)
		return err
	})

	c.mutex.Lock()
	c.state = ConnStateLogout
	c.shutdown()
	c.mutex.Unlock()
	return text, err
}

// Close closes the connection without sending QUIT.
func (c *Client) Close() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.closed {
		return nil
	}
	return c.shutdown()
}

// do runs a single exchange: encode, write, read and parse.
func (c *Client) do(ctx context.Context, cmd Command, parse func([]byte) error) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.broken != nil {
		return fmt.Errorf("%w: %w", ErrConnBroken, c.broken)
	}
	if c.closed {
		return ErrClosed
	}
	if c.options.StrictState && !c.state.allows(cmd.Verb) {
		return fmt.Errorf("%w: %s in state %s", ErrBadState, cmd.Verb, c.state)
	}

	req, err := c.enc.Encode(cmd)
	if err != nil {
		return err
	}
	logger.Debug("POP3: C: " + helpers.MaskSensitive(string(bytes.TrimSuffix(req, crlf)), string(cmd.Verb), string(VerbPass)))

	resp, err := c.roundTrip(ctx, req, cmd.multiline())
	if err != nil {
		c.fail(err)
		return err
	}
	logger.Debug("POP3: S: "+firstLine(resp), "bytes", len(resp))

	err = parse(resp)
	if IsFatal(err) {
		c.fail(err)
		return err
	}
	c.transition(cmd.Verb, err)
	return err
}

func (c *Client) roundTrip(ctx context.Context, req []byte, multiline bool) ([]byte, error) {
	stop := c.watch(ctx)
	defer stop()

	if err := c.writeRequest(ctx, req); err != nil {
		return nil, err
	}
	if multiline {
		return c.readMultiline(ctx)
	}
	return c.readLine(ctx)
}

// transition updates the session state after a correctly framed reply.
func (c *Client) transition(verb Verb, err error) {
	switch verb {
	case VerbUser:
		if err == nil {
			c.state = ConnStateUserSent
		} else {
			c.state = ConnStateAuthorization
		}
	case VerbPass:
		if err == nil {
			c.state = ConnStateTransaction
		} else {
			c.state = ConnStateAuthorization
		}
	}
}

// fail records the first fatal error and drops the connection.
func (c *Client) fail(err error) {
	if c.broken == nil {
		c.broken = err
	}
	logger.Debug("POP3: connection broken", "error", err)
	c.shutdown()
}

func (c *Client) shutdown() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

func firstLine(b []byte) string {
	if i := bytes.Index(b, crlf); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
