package pop3

import (
	"fmt"
	"strconv"
	"strings"
)

// Verb is a POP3 command keyword.
type Verb string

const (
	VerbUser Verb = "USER"
	VerbPass Verb = "PASS"
	VerbStat Verb = "STAT"
	VerbList Verb = "LIST"
	VerbRetr Verb = "RETR"
	VerbQuit Verb = "QUIT"
)

// ParseVerb returns the verb matching s, case-insensitively.
func ParseVerb(s string) (Verb, error) {
	verb := Verb(strings.ToUpper(s))
	if _, ok := verbArity[verb]; !ok {
		return "", fmt.Errorf("%w: unknown command %q", ErrInvalidArgument, s)
	}
	return verb, nil
}

// verbArity holds the minimum and maximum number of arguments of each verb.
var verbArity = map[Verb][2]int{
	VerbUser: {1, 1},
	VerbPass: {1, 1},
	VerbStat: {0, 0},
	VerbList: {0, 1},
	VerbRetr: {1, 1},
	VerbQuit: {0, 0},
}

// Command is one outbound POP3 request.
type Command struct {
	Verb Verb
	Args []string
}

func UserCommand(name string) Command { return Command{Verb: VerbUser, Args: []string{name}} }

func PassCommand(secret string) Command { return Command{Verb: VerbPass, Args: []string{secret}} }

func StatCommand() Command { return Command{Verb: VerbStat} }

// ListCommand asks for the scan listing of the whole maildrop.
func ListCommand() Command { return Command{Verb: VerbList} }

// ListMessageCommand asks for the scan listing of a single message.
func ListMessageCommand(id uint64) Command {
	return Command{Verb: VerbList, Args: []string{formatID(id)}}
}

func RetrCommand(id uint64) Command { return Command{Verb: VerbRetr, Args: []string{formatID(id)}} }

func QuitCommand() Command { return Command{Verb: VerbQuit} }

func formatID(id uint64) string {
	return strconv.FormatUint(id, 10)
}

// Validate checks the argument count and contents of cmd.
func (cmd Command) Validate() error {
	arity, ok := verbArity[cmd.Verb]
	if !ok {
		return fmt.Errorf("%w: unknown command %q", ErrInvalidArgument, string(cmd.Verb))
	}
	if n := len(cmd.Args); n < arity[0] || n > arity[1] {
		return fmt.Errorf("%w: %s takes %d to %d arguments, got %d", ErrInvalidArgument, cmd.Verb, arity[0], arity[1], n)
	}
	for _, arg := range cmd.Args {
		if strings.ContainsAny(arg, "\r\n") {
			return fmt.Errorf("%w: %s argument contains CR or LF", ErrInvalidArgument, cmd.Verb)
		}
	}
	switch cmd.Verb {
	case VerbList, VerbRetr:
		for _, arg := range cmd.Args {
			id, err := strconv.ParseUint(arg, 10, 64)
			if err != nil || id == 0 {
				return fmt.Errorf("%w: %s needs a positive message number, got %q", ErrInvalidArgument, cmd.Verb, arg)
			}
		}
	}
	return nil
}

// multiline reports whether the server answers cmd with a dot-terminated
// block after a positive status line.
func (cmd Command) multiline() bool {
	switch cmd.Verb {
	case VerbRetr:
		return true
	case VerbList:
		return len(cmd.Args) == 0
	}
	return false
}

// defaultCommandSize fits "USER " or "PASS " with a 20 byte argument, and
// every numeric command.
const defaultCommandSize = 27

// Encoder builds request lines into a reusable buffer. The buffer is
// truncated before every build, so the returned slice is only valid until
// the next call.
type Encoder struct {
	buf []byte
}

// NewEncoder returns an encoder with a buffer sized for ordinary requests.
func NewEncoder() *Encoder {
	return &Encoder{buf: make([]byte, 0, defaultCommandSize)}
}

// Encode writes the wire form of cmd, CRLF included.
func (e *Encoder) Encode(cmd Command) ([]byte, error) {
	e.buf = e.buf[:0]
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	e.buf = append(e.buf, string(cmd.Verb)...)
	for _, arg := range cmd.Args {
		e.buf = append(e.buf, ' ')
		e.buf = append(e.buf, arg...)
	}
	e.buf = append(e.buf, '\r', '\n')
	return e.buf, nil
}

// Bytes returns the last encoded request.
func (e *Encoder) Bytes() []byte {
	return e.buf
}

func (e *Encoder) User(name string) ([]byte, error) { return e.Encode(UserCommand(name)) }

func (e *Encoder) Pass(secret string) ([]byte, error) { return e.Encode(PassCommand(secret)) }

func (e *Encoder) Stat() ([]byte, error) { return e.Encode(StatCommand()) }

func (e *Encoder) List() ([]byte, error) { return e.Encode(ListCommand()) }

func (e *Encoder) ListMessage(id uint64) ([]byte, error) { return e.Encode(ListMessageCommand(id)) }

func (e *Encoder) Retr(id uint64) ([]byte, error) { return e.Encode(RetrCommand(id)) }

func (e *Encoder) Quit() ([]byte, error) { return e.Encode(QuitCommand()) }

// EncodeCommand builds the request string for cmd without any network
// activity. It backs the offline request builder.
func EncodeCommand(cmd Command) (string, error) {
	b, err := NewEncoder().Encode(cmd)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
