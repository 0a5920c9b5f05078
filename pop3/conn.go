package pop3

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"
)

const (
	// DefaultPort is used by Dial when the address carries no port.
	DefaultPort = "110"
	// DefaultTLSPort is used by DialTLS when the address carries no port.
	DefaultTLSPort = "995"
	// DefaultMaxResponseSize caps a single response when
	// Options.MaxResponseSize is zero.
	DefaultMaxResponseSize = 64 << 20
)

var dialer = &net.Dialer{
	Timeout: 30 * time.Second,
}

// aLongTimeAgo is a deadline in the past, used to abort blocked I/O.
var aLongTimeAgo = time.Unix(1, 0)

var dotLine = []byte(".\r\n")

// Options contains options for Client.
type Options struct {
	// TLS configuration for DialTLS. ServerName defaults to the host part
	// of the dialed address.
	TLSConfig *tls.Config
	// Raw I/O in both directions is copied to this writer. Note that PASS
	// arguments are written as is.
	DebugWriter io.Writer
	// Upper bound for a single response in bytes. Zero selects
	// DefaultMaxResponseSize, a negative value disables the limit.
	MaxResponseSize int64
	// Reject commands the current session state does not allow with
	// ErrBadState instead of sending them.
	StrictState bool
}

func (options *Options) wrapReadWriter(rw io.ReadWriter) io.ReadWriter {
	if options.DebugWriter == nil {
		return rw
	}
	return struct {
		io.Reader
		io.Writer
	}{
		Reader: io.TeeReader(rw, options.DebugWriter),
		Writer: io.MultiWriter(rw, options.DebugWriter),
	}
}

func (options *Options) tlsConfig() *tls.Config {
	if options != nil && options.TLSConfig != nil {
		return options.TLSConfig.Clone()
	}
	return new(tls.Config)
}

func (options *Options) maxResponseSize() int64 {
	if options.MaxResponseSize == 0 {
		return DefaultMaxResponseSize
	}
	return options.MaxResponseSize
}

// Dial connects to a POP3 server over plain TCP and reads its greeting.
// The address is "host" or "host:port"; the port defaults to 110.
func Dial(ctx context.Context, address string, options *Options) (*Client, error) {
	hostport, _, err := resolveAddress(address, DefaultPort)
	if err != nil {
		return nil, err
	}
	conn, err := dialer.DialContext(ctx, "tcp", hostport)
	if err != nil {
		return nil, fmt.Errorf("pop3: failed to connect to %s: %w", hostport, err)
	}
	return NewClient(ctx, conn, options)
}

// DialTLS connects to a POP3 server over implicit TLS and reads its
// greeting. The port defaults to 995.
func DialTLS(ctx context.Context, address string, options *Options) (*Client, error) {
	hostport, host, err := resolveAddress(address, DefaultTLSPort)
	if err != nil {
		return nil, err
	}
	conn, err := dialer.DialContext(ctx, "tcp", hostport)
	if err != nil {
		return nil, fmt.Errorf("pop3: failed to connect to %s: %w", hostport, err)
	}

	tlsConfig := options.tlsConfig()
	if tlsConfig.ServerName == "" {
		tlsConfig.ServerName = host
	}
	tlsConn := tls.Client(conn, tlsConfig)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("pop3: TLS handshake with %s failed: %w", hostport, err)
	}
	return NewClient(ctx, tlsConn, options)
}

// resolveAddress adds the default port to address when it has none. Bare
// and bracketed IPv6 literals are accepted.
func resolveAddress(address, defaultPort string) (hostport, host string, err error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return "", "", errors.New("pop3: empty server address")
	}
	if h, port, err := net.SplitHostPort(address); err == nil {
		if h == "" {
			return "", "", fmt.Errorf("pop3: missing host in address %q", address)
		}
		if port == "" {
			port = defaultPort
		}
		return net.JoinHostPort(h, port), h, nil
	}
	host = strings.TrimSuffix(strings.TrimPrefix(address, "["), "]")
	if host == "" {
		return "", "", fmt.Errorf("pop3: missing host in address %q", address)
	}
	return net.JoinHostPort(host, defaultPort), host, nil
}

// watch applies the deadline of ctx to the connection and aborts blocked
// I/O when ctx is cancelled. The returned function must be called once the
// exchange is over.
func (c *Client) watch(ctx context.Context) (stop func()) {
	deadline, _ := ctx.Deadline()
	c.conn.SetDeadline(deadline)
	if ctx.Done() == nil {
		return func() {}
	}

	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		select {
		case <-ctx.Done():
			c.conn.SetDeadline(aLongTimeAgo)
		case <-done:
		}
	}()
	return func() {
		close(done)
		<-finished
	}
}

// ioError wraps a transport failure. When ctx is done the context error is
// reported instead of the deadline error it caused.
func ioError(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("pop3: %s: %w", op, ctxErr)
	}
	// The connection deadline can fire just before the context timer does.
	if deadline, ok := ctx.Deadline(); ok && errors.Is(err, os.ErrDeadlineExceeded) && !time.Now().Before(deadline) {
		return fmt.Errorf("pop3: %s: %w", op, context.DeadlineExceeded)
	}
	return fmt.Errorf("pop3: %s: %w", op, err)
}

// writeRequest writes the full request and flushes it.
func (c *Client) writeRequest(ctx context.Context, req []byte) error {
	if _, err := c.bw.Write(req); err != nil {
		return ioError(ctx, "write failed", err)
	}
	if err := c.bw.Flush(); err != nil {
		return ioError(ctx, "write failed", err)
	}
	return nil
}

// appendLine reads up to and including the next CRLF and appends it to buf.
// A bare LF does not end the line. At end of stream whatever was read is
// returned along with io.EOF.
func (c *Client) appendLine(buf []byte) ([]byte, error) {
	start := len(buf)
	for {
		chunk, err := c.br.ReadSlice('\n')
		buf = append(buf, chunk...)
		if c.maxSize > 0 && int64(len(buf)) > c.maxSize {
			return buf, ErrResponseTooLarge
		}
		switch {
		case err == nil:
			if bytes.HasSuffix(buf[start:], crlf) {
				return buf, nil
			}
		case errors.Is(err, bufio.ErrBufferFull):
		default:
			return buf, err
		}
	}
}

// readLine reads a single-line response, or the status line of a
// multi-line one.
func (c *Client) readLine(ctx context.Context) ([]byte, error) {
	buf, err := c.appendLine(nil)
	switch {
	case err == nil:
		return buf, nil
	case errors.Is(err, io.EOF):
		if len(buf) == 0 {
			return nil, fmt.Errorf("pop3: connection closed by server: %w", io.EOF)
		}
		return buf, nil
	case errors.Is(err, ErrResponseTooLarge):
		return nil, err
	}
	return nil, ioError(ctx, "read failed", err)
}

// readMultiline reads a status line and, if it is positive, the block
// that follows it up to and including the terminating dot line.
func (c *Client) readMultiline(ctx context.Context) ([]byte, error) {
	buf, err := c.readLine(ctx)
	if err != nil {
		return nil, err
	}
	if !bytes.HasPrefix(buf, okPrefix) {
		return buf, nil
	}
	for {
		start := len(buf)
		buf, err = c.appendLine(buf)
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			// Truncated block, the grammar reports it.
			return buf, nil
		case errors.Is(err, ErrResponseTooLarge):
			return nil, err
		default:
			return nil, ioError(ctx, "read failed", err)
		}
		if bytes.Equal(buf[start:], dotLine) {
			return buf, nil
		}
	}
}
