// Package email decodes messages retrieved over POP3 into headers and
// ordered leaf parts.
package email

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/k3a/html2text"

	"github.com/migadu/popclient/consts"
	"github.com/migadu/popclient/helpers"
	"github.com/migadu/popclient/logger"
)

// PartType classifies a leaf MIME part.
type PartType string

const (
	PartHTML   PartType = "html"
	PartText   PartType = "text"
	PartBinary PartType = "binary"
)

// Part is a single leaf of the MIME tree. Text and HTML parts carry the
// decoded body in Text, everything else carries transfer-decoded bytes in
// Data.
type Part struct {
	Type        PartType `json:"type"`
	ContentType string   `json:"content_type"`
	Filename    string   `json:"filename,omitempty"`
	Text        string   `json:"text,omitempty"`
	Data        []byte   `json:"data,omitempty"`
}

// Email is a decoded message. Subject, From, To and Date hold the header
// text as received, RFC 2047 decoded but not otherwise validated.
type Email struct {
	Subject     string `json:"subject"`
	From        string `json:"from"`
	To          string `json:"to"`
	Date        string `json:"date"`
	Raw         string `json:"raw"`
	ContentHash string `json:"content_hash"`
	Parts       []Part `json:"parts"`
}

// Parse decodes raw, the body of a RETR response. Unknown charsets and
// transfer encodings are tolerated: the affected parts keep their undecoded
// bytes.
func Parse(raw []byte) (*Email, error) {
	entity, err := message.Read(bytes.NewReader(raw))
	if err != nil && !tolerable(err) {
		return nil, fmt.Errorf("%w: %v", consts.ErrMalformedMessage, err)
	}
	if err != nil {
		logger.Debug("Email: decoding fallback", "error", err)
	}

	h := mail.Header{Header: entity.Header}
	e := &Email{
		Subject:     headerText(h, "Subject"),
		From:        headerText(h, "From"),
		To:          headerText(h, "To"),
		Date:        headerText(h, "Date"),
		Raw:         strings.ToValidUTF8(string(raw), "�"),
		ContentHash: helpers.HashContent(raw),
	}
	if err := collectParts(entity, &e.Parts); err != nil {
		return nil, fmt.Errorf("%w: %v", consts.ErrMalformedMessage, err)
	}
	return e, nil
}

// PlainText returns the first text part, or the first HTML part converted to
// plain text. It returns "" when the message has neither.
func (e *Email) PlainText() string {
	var html *Part
	for i := range e.Parts {
		switch e.Parts[i].Type {
		case PartText:
			return e.Parts[i].Text
		case PartHTML:
			if html == nil {
				html = &e.Parts[i]
			}
		}
	}
	if html != nil {
		return html2text.HTML2Text(html.Text)
	}
	return ""
}

// Attachments returns the binary parts.
func (e *Email) Attachments() []Part {
	var out []Part
	for _, p := range e.Parts {
		if p.Type == PartBinary {
			out = append(out, p)
		}
	}
	return out
}

func tolerable(err error) bool {
	return message.IsUnknownCharset(err) || message.IsUnknownEncoding(err)
}

// headerText decodes RFC 2047 words, falling back to the raw field value.
func headerText(h mail.Header, key string) string {
	if v, err := h.Text(key); err == nil {
		return v
	}
	return h.Get(key)
}

// collectParts appends the leaves of entity to parts in document order.
func collectParts(entity *message.Entity, parts *[]Part) error {
	if mr := entity.MultipartReader(); mr != nil {
		for {
			p, err := mr.NextPart()
			if err == io.EOF {
				return nil
			}
			if err != nil && !tolerable(err) {
				return fmt.Errorf("error reading multipart: %v", err)
			}
			if err := collectParts(p, parts); err != nil {
				return err
			}
		}
	}

	mediaType, _, err := entity.Header.ContentType()
	if err != nil || mediaType == "" {
		mediaType = "text/plain"
	}
	body, err := io.ReadAll(entity.Body)
	if err != nil {
		return fmt.Errorf("error reading entity body: %v", err)
	}

	part := Part{ContentType: mediaType}
	switch mediaType {
	case "text/plain":
		part.Type = PartText
		part.Text = strings.ToValidUTF8(string(body), "�")
	case "text/html":
		part.Type = PartHTML
		part.Text = strings.ToValidUTF8(string(body), "�")
	default:
		part.Type = PartBinary
		part.Data = body
	}
	ah := mail.AttachmentHeader{Header: entity.Header}
	if name, err := ah.Filename(); err == nil {
		part.Filename = name
	}
	*parts = append(*parts, part)
	return nil
}
