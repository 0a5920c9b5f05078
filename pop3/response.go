package pop3

import (
	"bytes"
	"fmt"
	"strconv"
)

var (
	crlf      = []byte("\r\n")
	okPrefix  = []byte("+OK")
	errPrefix = []byte("-ERR")
)

// StatusLine is a parsed single-line reply.
type StatusLine struct {
	OK   bool
	Text string // Trailing text, without the prefix and CRLF
}

// Err returns a *Error for a negative status and nil otherwise.
func (s StatusLine) Err() error {
	if s.OK {
		return nil
	}
	return &Error{Text: s.Text}
}

// MaildropStat is the reply to STAT.
type MaildropStat struct {
	Count  uint64 // Number of messages in the maildrop
	Octets uint64 // Total size of the maildrop
	Text   string
}

// ScanListing is one message number and size pair reported by LIST.
type ScanListing struct {
	ID   uint64 `json:"id"`
	Size uint64 `json:"size"`
}

// ListResult is the reply to LIST. Single is set when the request named a
// message, in which case Listings holds exactly one entry.
type ListResult struct {
	Listings []ScanListing
	Text     string
	Single   bool
}

// RetrievedMessage is the reply to RETR. Body holds the message exactly as
// the server stored it: byte-stuffing removed, line endings untouched and the
// terminating dot line excluded.
type RetrievedMessage struct {
	Body []byte
	Text string
}

// ParseStatusLine parses a single status line. A "-ERR" reply is not an
// error here; see StatusLine.Err.
func ParseStatusLine(b []byte) (StatusLine, error) {
	p := parser{op: "status", buf: b}
	ok, rest, err := p.status()
	if err != nil {
		return StatusLine{}, err
	}
	return StatusLine{OK: ok, Text: trimText(rest)}, nil
}

// ParseStatus parses a single status line and returns its text, or a *Error
// for a negative reply.
func ParseStatus(b []byte) (string, error) {
	status, err := ParseStatusLine(b)
	if err != nil {
		return "", err
	}
	if err := status.Err(); err != nil {
		return "", err
	}
	return status.Text, nil
}

// ParseStat parses a STAT reply: "+OK" SP count SP octets [SP text].
func ParseStat(b []byte) (*MaildropStat, error) {
	p := parser{op: "STAT", buf: b}
	ok, rest, err := p.status()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &Error{Text: trimText(rest)}
	}
	if len(rest) == 0 || rest[0] != ' ' {
		return nil, p.errorf("expected SP after status, got %s", quote(rest))
	}
	count, octets, trailer, err := p.numberPair(rest[1:])
	if err != nil {
		return nil, err
	}
	return &MaildropStat{Count: count, Octets: octets, Text: trimText(trailer)}, nil
}

// ParseListMessage parses the single-line reply to "LIST id".
func ParseListMessage(b []byte) (*ListResult, error) {
	p := parser{op: "LIST", buf: b}
	ok, rest, err := p.status()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &Error{Text: trimText(rest)}
	}
	id, size, trailer, err := p.numberPair(bytes.Trim(rest, " \t"))
	if err != nil {
		return nil, err
	}
	return &ListResult{
		Listings: []ScanListing{{ID: id, Size: size}},
		Text:     trimText(trailer),
		Single:   true,
	}, nil
}

// ParseList parses the multi-line reply to a bare LIST. Anything after the
// size on a scan listing line is discarded.
func ParseList(b []byte) (*ListResult, error) {
	p := parser{op: "LIST", buf: b}
	ok, rest, err := p.status()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &Error{Text: trimText(rest)}
	}
	result := &ListResult{Listings: []ScanListing{}, Text: trimText(rest)}
	for {
		line, done, err := p.blockLine()
		if err != nil {
			return nil, err
		}
		if done {
			return result, nil
		}
		id, size, err := p.scanListing(line[:len(line)-2])
		if err != nil {
			return nil, err
		}
		result.Listings = append(result.Listings, ScanListing{ID: id, Size: size})
	}
}

// ParseRetr parses the reply to RETR and reconstructs the message octets.
func ParseRetr(b []byte) (*RetrievedMessage, error) {
	p := parser{op: "RETR", buf: b}
	ok, rest, err := p.status()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &Error{Text: trimText(rest)}
	}
	msg := &RetrievedMessage{Body: make([]byte, 0, len(p.buf)), Text: trimText(rest)}
	for {
		line, done, err := p.blockLine()
		if err != nil {
			return nil, err
		}
		if done {
			return msg, nil
		}
		msg.Body = append(msg.Body, line...)
	}
}

// DotStuff escapes body for transmission inside a multi-line block: every
// line that starts with "." gets one more leading ".". Only CRLF starts a new
// line.
func DotStuff(body []byte) []byte {
	n := bytes.Count(body, []byte("\r\n."))
	if len(body) > 0 && body[0] == '.' {
		n++
	}
	if n == 0 {
		return body
	}
	out := make([]byte, 0, len(body)+n)
	for i, c := range body {
		if c == '.' && (i == 0 || (i >= 2 && body[i-2] == '\r' && body[i-1] == '\n')) {
			out = append(out, '.')
		}
		out = append(out, c)
	}
	return out
}

// parser is a cursor over a complete response.
type parser struct {
	op  string
	buf []byte
}

func (p *parser) errorf(format string, args ...any) error {
	return &ParseError{Op: p.op, Reason: fmt.Sprintf(format, args...)}
}

// line consumes the next CRLF-terminated line and returns it without CRLF.
func (p *parser) line() ([]byte, error) {
	i := bytes.Index(p.buf, crlf)
	if i < 0 {
		if len(p.buf) == 0 {
			return nil, p.errorf("unexpected end of response")
		}
		return nil, p.errorf("line %s not terminated by CRLF", quote(p.buf))
	}
	line := p.buf[:i]
	p.buf = p.buf[i+len(crlf):]
	return line, nil
}

// status consumes a status line. rest is everything between the prefix and
// CRLF, untrimmed.
func (p *parser) status() (ok bool, rest []byte, err error) {
	line, err := p.line()
	if err != nil {
		return false, nil, err
	}
	switch {
	case bytes.HasPrefix(line, okPrefix):
		return true, line[len(okPrefix):], nil
	case bytes.HasPrefix(line, errPrefix):
		return false, line[len(errPrefix):], nil
	}
	return false, nil, p.errorf("unrecognized status line %s", quote(line))
}

// blockLine consumes one line of a multi-line block. The returned line keeps
// its CRLF and has byte-stuffing undone. done is set for the terminator.
func (p *parser) blockLine() (line []byte, done bool, err error) {
	i := bytes.Index(p.buf, crlf)
	if i < 0 {
		return nil, false, p.errorf("multi-line block not terminated")
	}
	line = p.buf[:i+len(crlf)]
	p.buf = p.buf[i+len(crlf):]
	if line[0] == '.' {
		if len(line) == 1+len(crlf) {
			return nil, true, nil
		}
		line = line[1:]
	}
	return line, false, nil
}

// numberPair parses digits SP digits, optionally followed by SP and a
// trailer.
func (p *parser) numberPair(b []byte) (first, second uint64, trailer []byte, err error) {
	first, b, err = p.number(b)
	if err != nil {
		return 0, 0, nil, err
	}
	if len(b) == 0 || b[0] != ' ' {
		return 0, 0, nil, p.errorf("expected SP after %d, got %s", first, quote(b))
	}
	second, b, err = p.number(b[1:])
	if err != nil {
		return 0, 0, nil, err
	}
	switch {
	case len(b) == 0:
		return first, second, nil, nil
	case b[0] == ' ':
		return first, second, b[1:], nil
	}
	return 0, 0, nil, p.errorf("unexpected %s after %d", quote(b), second)
}

// scanListing parses a LIST block line: digits SP digits, with whatever
// follows the size ignored.
func (p *parser) scanListing(b []byte) (id, size uint64, err error) {
	id, b, err = p.number(b)
	if err != nil {
		return 0, 0, err
	}
	if len(b) == 0 || b[0] != ' ' {
		return 0, 0, p.errorf("expected SP after %d, got %s", id, quote(b))
	}
	size, _, err = p.number(b[1:])
	if err != nil {
		return 0, 0, err
	}
	return id, size, nil
}

func (p *parser) number(b []byte) (uint64, []byte, error) {
	n := 0
	for n < len(b) && b[n] >= '0' && b[n] <= '9' {
		n++
	}
	if n == 0 {
		return 0, b, p.errorf("expected number, got %s", quote(b))
	}
	v, err := strconv.ParseUint(string(b[:n]), 10, 64)
	if err != nil {
		return 0, b, p.errorf("number %s out of range", b[:n])
	}
	return v, b[n:], nil
}

func trimText(b []byte) string {
	return string(bytes.Trim(b, " \t"))
}

// quote renders untrusted response bytes for error messages.
func quote(b []byte) string {
	const maxQuoted = 64
	if len(b) > maxQuoted {
		return strconv.Quote(string(b[:maxQuoted])) + "..."
	}
	return strconv.Quote(string(b))
}
