// Package pop3test provides an in-memory POP3 server for tests.
package pop3test

import (
	"bufio"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/migadu/popclient/pop3"
)

// Options configures a Server.
type Options struct {
	// Raw greeting line, CRLF included. Defaults to a positive greeting.
	Greeting string
	Username string
	Password string
	// Message bodies in maildrop order. Message numbers start at 1.
	Messages []string
	// Canned raw replies keyed by the upper-cased request line without
	// CRLF, e.g. "STAT" or "RETR 1". An empty value closes the connection
	// instead of replying.
	Overrides map[string]string
	// Split every reply into writes of at most this many bytes. Zero
	// writes each reply at once.
	ChunkSize int
}

// Server is a POP3 server listening on a loopback address.
type Server struct {
	listener net.Listener
	options  Options
	tls      bool

	wg       sync.WaitGroup
	mu       sync.Mutex
	conns    map[net.Conn]struct{}
	accepted int
	commands []string
}

// NewServer starts a plain-text server on 127.0.0.1.
func NewServer(options Options) *Server {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		panic(fmt.Sprintf("pop3test: failed to listen: %v", err))
	}
	return start(ln, options, false)
}

// NewTLSServer starts an implicit TLS server on 127.0.0.1. Clients should
// use ClientTLSConfig to trust its certificate.
func NewTLSServer(options Options) *Server {
	cert, err := tls.X509KeyPair([]byte(certPEM), []byte(keyPEM))
	if err != nil {
		panic(fmt.Sprintf("pop3test: failed to load certificate: %v", err))
	}
	ln, err := tls.Listen("tcp", "127.0.0.1:0", &tls.Config{Certificates: []tls.Certificate{cert}})
	if err != nil {
		panic(fmt.Sprintf("pop3test: failed to listen: %v", err))
	}
	return start(ln, options, true)
}

func start(ln net.Listener, options Options, isTLS bool) *Server {
	s := &Server{
		listener: ln,
		options:  options,
		tls:      isTLS,
		conns:    make(map[net.Conn]struct{}),
	}
	s.wg.Add(1)
	go s.acceptLoop()
	return s
}

// NewUnstarted returns a server without a listener, for use with Serve.
func NewUnstarted(options Options) *Server {
	return &Server{options: options, conns: make(map[net.Conn]struct{})}
}

// Addr returns the listening address as host:port.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// ClientTLSConfig returns a client configuration that trusts the server
// certificate. The certificate is valid for 127.0.0.1, ::1 and example.com.
func (s *Server) ClientTLSConfig() *tls.Config {
	pool := x509.NewCertPool()
	pool.AppendCertsFromPEM([]byte(certPEM))
	return &tls.Config{RootCAs: pool}
}

// Commands returns the request lines received so far, in order.
func (s *Server) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

// Connections returns the number of sessions served so far.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted
}

// Close stops the listener, drops open connections and waits for their
// handlers to return.
func (s *Server) Close() {
	if s.listener != nil {
		s.listener.Close()
	}
	s.mu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.Serve(conn)
		}()
	}
}

// Serve runs a session on conn until the client quits or the connection
// fails. It closes conn before returning.
func (s *Server) Serve(conn net.Conn) {
	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.accepted++
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	sess := &session{
		server:  s,
		reader:  bufio.NewReader(conn),
		writer:  bufio.NewWriter(&chunkWriter{w: conn, n: s.options.ChunkSize}),
		deleted: make(map[int]bool),
	}
	sess.run()
}

type session struct {
	server        *Server
	reader        *bufio.Reader
	writer        *bufio.Writer
	user          string
	authenticated bool
	deleted       map[int]bool
}

func (sess *session) reply(s string) bool {
	sess.writer.WriteString(s)
	return sess.writer.Flush() == nil
}

func (sess *session) run() {
	greeting := sess.server.options.Greeting
	if greeting == "" {
		greeting = "+OK POP3 server ready\r\n"
	}
	if !sess.reply(greeting) || !strings.HasPrefix(greeting, "+OK") {
		return
	}

	for {
		line, err := sess.reader.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		sess.server.record(line)

		if canned, ok := sess.server.options.Overrides[strings.ToUpper(line)]; ok {
			if canned == "" || !sess.reply(canned) {
				return
			}
			continue
		}

		parts := strings.Split(line, " ")
		cmd := strings.ToUpper(parts[0])
		args := parts[1:]

		var resp string
		quit := false
		switch cmd {
		case "USER":
			resp = sess.handleUser(args)
		case "PASS":
			resp = sess.handlePass(args)
		case "STAT":
			resp = sess.handleStat()
		case "LIST":
			resp = sess.handleList(args)
		case "RETR":
			resp = sess.handleRetr(args)
		case "DELE":
			resp = sess.handleDele(args)
		case "NOOP":
			resp = sess.transaction("+OK\r\n")
		case "RSET":
			resp = sess.transaction("+OK\r\n")
			if sess.authenticated {
				sess.deleted = make(map[int]bool)
			}
		case "QUIT":
			resp = "+OK POP3 server signing off\r\n"
			quit = true
		default:
			resp = fmt.Sprintf("-ERR Unknown command: %s\r\n", cmd)
		}
		if !sess.reply(resp) || quit {
			return
		}
	}
}

func (sess *session) transaction(ok string) string {
	if !sess.authenticated {
		return "-ERR Not authenticated\r\n"
	}
	return ok
}

func (sess *session) handleUser(args []string) string {
	if sess.authenticated {
		return "-ERR Already authenticated\r\n"
	}
	if len(args) != 1 || args[0] == "" {
		return "-ERR Missing username\r\n"
	}
	sess.user = args[0]
	return "+OK User accepted\r\n"
}

func (sess *session) handlePass(args []string) string {
	if sess.authenticated {
		return "-ERR Already authenticated\r\n"
	}
	if sess.user == "" {
		return "-ERR USER required first\r\n"
	}
	opts := sess.server.options
	if sess.user != opts.Username || strings.Join(args, " ") != opts.Password {
		sess.user = ""
		return "-ERR Authentication failed\r\n"
	}
	sess.authenticated = true
	return "+OK Password accepted\r\n"
}

func (sess *session) handleStat() string {
	if !sess.authenticated {
		return "-ERR Not authenticated\r\n"
	}
	count, size := 0, 0
	for i, msg := range sess.server.options.Messages {
		if !sess.deleted[i] {
			count++
			size += len(msg)
		}
	}
	return fmt.Sprintf("+OK %d %d\r\n", count, size)
}

func (sess *session) handleList(args []string) string {
	if !sess.authenticated {
		return "-ERR Not authenticated\r\n"
	}
	messages := sess.server.options.Messages
	if len(args) > 0 {
		i, ok := sess.lookup(args[0])
		if !ok {
			return "-ERR No such message\r\n"
		}
		return fmt.Sprintf("+OK %d %d\r\n", i+1, len(messages[i]))
	}

	var b strings.Builder
	count, size := 0, 0
	for i, msg := range messages {
		if !sess.deleted[i] {
			count++
			size += len(msg)
		}
	}
	fmt.Fprintf(&b, "+OK %d messages (%d octets)\r\n", count, size)
	for i, msg := range messages {
		if !sess.deleted[i] {
			fmt.Fprintf(&b, "%d %d\r\n", i+1, len(msg))
		}
	}
	b.WriteString(".\r\n")
	return b.String()
}

func (sess *session) handleRetr(args []string) string {
	if !sess.authenticated {
		return "-ERR Not authenticated\r\n"
	}
	if len(args) != 1 {
		return "-ERR Missing message number\r\n"
	}
	i, ok := sess.lookup(args[0])
	if !ok {
		return "-ERR No such message\r\n"
	}
	body := sess.server.options.Messages[i]

	var b strings.Builder
	fmt.Fprintf(&b, "+OK %d octets\r\n", len(body))
	b.Write(pop3.DotStuff([]byte(body)))
	if !strings.HasSuffix(body, "\r\n") {
		b.WriteString("\r\n")
	}
	b.WriteString(".\r\n")
	return b.String()
}

func (sess *session) handleDele(args []string) string {
	if !sess.authenticated {
		return "-ERR Not authenticated\r\n"
	}
	if len(args) != 1 {
		return "-ERR Missing message number\r\n"
	}
	i, ok := sess.lookup(args[0])
	if !ok {
		return "-ERR No such message\r\n"
	}
	sess.deleted[i] = true
	return fmt.Sprintf("+OK Message %d deleted\r\n", i+1)
}

// lookup resolves a message number to an index, skipping deleted messages.
func (sess *session) lookup(arg string) (int, bool) {
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 || n > len(sess.server.options.Messages) {
		return 0, false
	}
	if sess.deleted[n-1] {
		return 0, false
	}
	return n - 1, true
}

func (s *Server) record(line string) {
	s.mu.Lock()
	s.commands = append(s.commands, line)
	s.mu.Unlock()
}

// chunkWriter splits writes into pieces of at most n bytes.
type chunkWriter struct {
	w io.Writer
	n int
}

func (cw *chunkWriter) Write(p []byte) (int, error) {
	if cw.n <= 0 {
		return cw.w.Write(p)
	}
	written := 0
	for len(p) > 0 {
		chunk := p
		if len(chunk) > cw.n {
			chunk = chunk[:cw.n]
		}
		n, err := cw.w.Write(chunk)
		written += n
		if err != nil {
			return written, err
		}
		p = p[n:]
	}
	return written, nil
}
