package email

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/migadu/popclient/consts"
	"github.com/migadu/popclient/helpers"
)

func crlf(lines ...string) []byte {
	return []byte(strings.Join(lines, "\r\n") + "\r\n")
}

func TestParseSimple(t *testing.T) {
	raw := crlf(
		"From: Alice <alice@example.org>",
		"To: bob@example.org",
		"Subject: =?UTF-8?Q?Caf=C3=A9?= menu",
		"Date: Mon, 02 Jan 2006 15:04:05 +0000",
		"",
		"Hello Bob.",
	)

	e, err := Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, "Café menu", e.Subject)
	assert.Equal(t, "Alice <alice@example.org>", e.From)
	assert.Equal(t, "bob@example.org", e.To)
	assert.Equal(t, "Mon, 02 Jan 2006 15:04:05 +0000", e.Date)
	assert.Equal(t, string(raw), e.Raw)
	assert.Equal(t, helpers.HashContent(raw), e.ContentHash)

	require.Len(t, e.Parts, 1)
	assert.Equal(t, PartText, e.Parts[0].Type)
	assert.Equal(t, "text/plain", e.Parts[0].ContentType)
	assert.Equal(t, "Hello Bob.\r\n", e.Parts[0].Text)
	assert.Equal(t, "Hello Bob.\r\n", e.PlainText())
}

func TestParseMultipart(t *testing.T) {
	raw := crlf(
		"Subject: report",
		"MIME-Version: 1.0",
		`Content-Type: multipart/mixed; boundary="outer"`,
		"",
		"--outer",
		`Content-Type: multipart/alternative; boundary="inner"`,
		"",
		"--inner",
		"Content-Type: text/plain; charset=iso-8859-1",
		"Content-Transfer-Encoding: quoted-printable",
		"",
		"caf=E9",
		"--inner",
		"Content-Type: text/html; charset=utf-8",
		"",
		"<p>caf&eacute;</p>",
		"--inner--",
		"--outer",
		"Content-Type: application/octet-stream",
		`Content-Disposition: attachment; filename="data.bin"`,
		"Content-Transfer-Encoding: base64",
		"",
		"AAEC",
		"--outer--",
	)

	e, err := Parse(raw)
	require.NoError(t, err)
	require.Len(t, e.Parts, 3)

	assert.Equal(t, PartText, e.Parts[0].Type)
	assert.Equal(t, "café", e.Parts[0].Text)

	assert.Equal(t, PartHTML, e.Parts[1].Type)
	assert.Equal(t, "text/html", e.Parts[1].ContentType)
	assert.Contains(t, e.Parts[1].Text, "<p>")

	assert.Equal(t, PartBinary, e.Parts[2].Type)
	assert.Equal(t, "data.bin", e.Parts[2].Filename)
	assert.Equal(t, []byte{0, 1, 2}, e.Parts[2].Data)

	assert.Equal(t, "café", e.PlainText())
	require.Len(t, e.Attachments(), 1)
	assert.Equal(t, "application/octet-stream", e.Attachments()[0].ContentType)
}

func TestPlainTextFromHTML(t *testing.T) {
	raw := crlf(
		"Subject: html only",
		"Content-Type: text/html",
		"",
		"<html><body><p>Hello <b>there</b></p></body></html>",
	)

	e, err := Parse(raw)
	require.NoError(t, err)
	require.Len(t, e.Parts, 1)
	assert.Equal(t, PartHTML, e.Parts[0].Type)

	text := e.PlainText()
	assert.Contains(t, text, "Hello there")
	assert.NotContains(t, text, "<b>")
}

func TestPlainTextEmpty(t *testing.T) {
	e := &Email{Parts: []Part{{Type: PartBinary, Data: []byte{1}}}}
	assert.Equal(t, "", e.PlainText())
}

func TestParseUnknownCharset(t *testing.T) {
	raw := crlf(
		"Subject: odd",
		"Content-Type: text/plain; charset=x-unknown-charset",
		"",
		"plain ascii",
	)

	e, err := Parse(raw)
	require.NoError(t, err)
	require.Len(t, e.Parts, 1)
	assert.Equal(t, "plain ascii\r\n", e.Parts[0].Text)
}

func TestParseRawHeaderFallback(t *testing.T) {
	raw := crlf(
		"Subject: =?x-unknown?Q?abc?=",
		"",
		"body",
	)

	e, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "=?x-unknown?Q?abc?=", e.Subject)
}

func TestParseInvalidUTF8Raw(t *testing.T) {
	raw := []byte("Subject: x\r\n\r\n\xff\xfe\r\n")

	e, err := Parse(raw)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(e.Raw, "\r\n"))
	assert.NotContains(t, e.Raw, "\xff")
	assert.Equal(t, helpers.HashContent(raw), e.ContentHash)
}

func TestParseMalformed(t *testing.T) {
	_, err := Parse([]byte("this is not a header\r\n\r\nbody\r\n"))
	require.Error(t, err)
	assert.ErrorIs(t, err, consts.ErrMalformedMessage)
}

func TestParseKeepsUnparsableDate(t *testing.T) {
	e, err := Parse(crlf("Subject: hi", "Date: sometime last tuesday", "", "body"))
	require.NoError(t, err)
	assert.Equal(t, "sometime last tuesday", e.Date)

	e, err = Parse(crlf("Subject: no date", "", "body"))
	require.NoError(t, err)
	assert.Empty(t, e.Date)
}
