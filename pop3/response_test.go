package pop3

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatusLine(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		ok      bool
		text    string
		wantErr bool
	}{
		{name: "bare ok", input: "+OK\r\n", ok: true},
		{name: "bare err", input: "-ERR\r\n"},
		{name: "ok with text", input: "+OK some other message\r\n", ok: true, text: "some other message"},
		{name: "err with text", input: "-ERR some other message\r\n", text: "some other message"},
		{name: "no space after prefix", input: "+OKready\r\n", ok: true, text: "ready"},
		{name: "surrounding blanks trimmed", input: "+OK \t hello \t\r\n", ok: true, text: "hello"},
		{name: "trailing data ignored", input: "+OK\r\nrest", ok: true},
		{name: "missing CRLF", input: "+OK", wantErr: true},
		{name: "bare LF", input: "+OK\n", wantErr: true},
		{name: "unknown prefix", input: "some random message\r\n", wantErr: true},
		{name: "lower case prefix", input: "+ok\r\n", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, err := ParseStatusLine([]byte(tt.input))
			if tt.wantErr {
				var parseErr *ParseError
				require.ErrorAs(t, err, &parseErr)
				assert.True(t, IsFatal(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.ok, status.OK)
			assert.Equal(t, tt.text, status.Text)
		})
	}
}

func TestParseStatus(t *testing.T) {
	text, err := ParseStatus([]byte("+OK welcome\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "welcome", text)

	_, err = ParseStatus([]byte("-ERR invalid password\r\n"))
	var protoErr *Error
	require.ErrorAs(t, err, &protoErr)
	assert.Equal(t, "invalid password", protoErr.Text)
	assert.Equal(t, "pop3: -ERR invalid password", err.Error())
	assert.False(t, IsFatal(err))
}

func TestParseStat(t *testing.T) {
	stat, err := ParseStat([]byte("+OK 123 456\r\nrest"))
	require.NoError(t, err)
	assert.Equal(t, &MaildropStat{Count: 123, Octets: 456}, stat)

	stat, err = ParseStat([]byte("+OK 123 456 additional\r\n"))
	require.NoError(t, err)
	assert.Equal(t, &MaildropStat{Count: 123, Octets: 456, Text: "additional"}, stat)

	stat, err = ParseStat([]byte("+OK 0 0\r\n"))
	require.NoError(t, err)
	assert.Equal(t, uint64(0), stat.Count)

	_, err = ParseStat([]byte("-ERR maildrop locked\r\n"))
	var protoErr *Error
	require.ErrorAs(t, err, &protoErr)
	assert.Equal(t, "maildrop locked", protoErr.Text)
}

func TestParseStatMalformed(t *testing.T) {
	inputs := []string{
		"+OK\r\n",
		"+OK \r\n",
		"+OK  \r\n",
		"+OK 123\r\n",
		"+OK 123 \r\n",
		"+OK  123 456\r\n",
		"+OK 123  456\r\n",
		"+OK123 456\r\n",
		"+OK 12a 456\r\n",
		"+OK 123 456x\r\n",
		"+OK 123 456",
		"+OK 99999999999999999999 1\r\n",
	}
	for _, input := range inputs {
		t.Run(input, func(t *testing.T) {
			_, err := ParseStat([]byte(input))
			var parseErr *ParseError
			require.ErrorAs(t, err, &parseErr)
			assert.Equal(t, "STAT", parseErr.Op)
		})
	}
}

func TestParseListMessage(t *testing.T) {
	list, err := ParseListMessage([]byte("+OK 123 456\r\nrest"))
	require.NoError(t, err)
	assert.True(t, list.Single)
	assert.Equal(t, []ScanListing{{ID: 123, Size: 456}}, list.Listings)
	assert.Empty(t, list.Text)

	list, err = ParseListMessage([]byte("+OK  1 150 additional message \r\n"))
	require.NoError(t, err)
	assert.Equal(t, []ScanListing{{ID: 1, Size: 150}}, list.Listings)
	assert.Equal(t, "additional message", list.Text)

	for _, input := range []string{"+OK\r\n", "+OK \r\n", "+OK 123\r\n", "+OK 123 \r\n", "+OK 123  456\r\n"} {
		_, err := ParseListMessage([]byte(input))
		var parseErr *ParseError
		assert.ErrorAs(t, err, &parseErr, input)
	}

	_, err = ParseListMessage([]byte("-ERR no such message\r\n"))
	var protoErr *Error
	require.ErrorAs(t, err, &protoErr)
	assert.Equal(t, "no such message", protoErr.Text)
}

func TestParseList(t *testing.T) {
	list, err := ParseList([]byte("+OK additional message\r\n.\r\nrest"))
	require.NoError(t, err)
	assert.False(t, list.Single)
	assert.Empty(t, list.Listings)
	assert.NotNil(t, list.Listings)
	assert.Equal(t, "additional message", list.Text)

	list, err = ParseList([]byte("+OK 2 messages\r\n1 150\r\n3 170 trailer\r\n.\r\n"))
	require.NoError(t, err)
	assert.Equal(t, []ScanListing{{ID: 1, Size: 150}, {ID: 3, Size: 170}}, list.Listings)
	assert.Equal(t, "2 messages", list.Text)

	// Server order is kept and duplicates are not removed.
	list, err = ParseList([]byte("+OK\r\n5 10\r\n2 20\r\n5 10\r\n.\r\n"))
	require.NoError(t, err)
	assert.Equal(t, []ScanListing{{5, 10}, {2, 20}, {5, 10}}, list.Listings)

	// Whatever follows the size is dropped, whatever the separator.
	list, err = ParseList([]byte("+OK\r\n12 34\textra\r\n7 8x\r\n.\r\n"))
	require.NoError(t, err)
	assert.Equal(t, []ScanListing{{12, 34}, {7, 8}}, list.Listings)
}

func TestParseListMalformed(t *testing.T) {
	inputs := []string{
		"+OK\r\n",
		"+OK additional message",
		"+OK additional message\r\nrandom message",
		"+OK\r\nrandom message\r\n.\r\n",
		"+OK\r\n1\r\n.\r\n",
		"+OK\r\n1 2\r\n",
		"+OK\r\n 1 2\r\n.\r\n",
	}
	for _, input := range inputs {
		t.Run(input, func(t *testing.T) {
			_, err := ParseList([]byte(input))
			var parseErr *ParseError
			require.ErrorAs(t, err, &parseErr)
		})
	}

	_, err := ParseList([]byte("-ERR not now\r\n"))
	var protoErr *Error
	assert.ErrorAs(t, err, &protoErr)
}

func TestParseRetr(t *testing.T) {
	tests := []struct {
		name  string
		input string
		body  string
		text  string
	}{
		{
			name:  "destuffing",
			input: "+OK\r\nHello\r\n..\r\nWorld\r\n.\r\n",
			body:  "Hello\r\n.\r\nWorld\r\n",
		},
		{
			name:  "empty body",
			input: "+OK 0 octets\r\n.\r\n",
			body:  "",
			text:  "0 octets",
		},
		{
			name:  "only one dot removed",
			input: "+OK\r\n...leading\r\n.x\r\n.\r\n",
			body:  "..leading\r\nx\r\n",
		},
		{
			name:  "bare LF kept inside line",
			input: "+OK\r\nline one\nstill one\r\n.\r\n",
			body:  "line one\nstill one\r\n",
		},
		{
			name:  "dot not at line start",
			input: "+OK\r\nSubject: a.b\r\n\r\nbody .\r\n.\r\n",
			body:  "Subject: a.b\r\n\r\nbody .\r\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := ParseRetr([]byte(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.body, string(msg.Body))
			assert.Equal(t, tt.text, msg.Text)
		})
	}
}

func TestParseRetrErrors(t *testing.T) {
	_, err := ParseRetr([]byte("-ERR no such message\r\n"))
	var protoErr *Error
	require.ErrorAs(t, err, &protoErr)
	assert.Equal(t, "no such message", protoErr.Text)

	_, err = ParseRetr([]byte("+OK\r\nHello\r\n"))
	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, "RETR", parseErr.Op)
}

func TestDotStuffRoundTrip(t *testing.T) {
	bodies := []string{
		"",
		"Line 1\r\nLine 2\r\n",
		".Line 1\r\nLine 2\r\n.Line 3\r\n",
		"Line 1\r\n.\r\nLine 2\r\n",
		"..Already stuffed\r\n.Another\r\n",
		"Content-Type: text/html\r\n\r\n<html>\r\n.\r\n</html>\r\n",
	}
	for _, body := range bodies {
		wire := "+OK\r\n" + string(DotStuff([]byte(body))) + ".\r\n"
		msg, err := ParseRetr([]byte(wire))
		require.NoError(t, err, body)
		assert.Equal(t, body, string(msg.Body))
	}
}
