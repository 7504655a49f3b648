package sarpush

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/textproto"
	"time"
)

// MailData is a complete RFC 5322 message.
type MailData struct {
	headers [][2]string
	body    []byte
	rcpt    []string
}

// Header gets the header value by name; the name is case-insensitive.
func (m MailData) Header(key string) (string, bool) {
	key = textproto.CanonicalMIMEHeaderKey(key)
	for _, h := range m.headers {
		if h[0] == key {
			return h[1], true
		}
	}
	return "", false
}

// SetHeader sets a header, replacing any existing value but keeping the
// original position.
func (m *MailData) SetHeader(key, value string) {
	key = textproto.CanonicalMIMEHeaderKey(key)
	for i := range m.headers {
		if m.headers[i][0] == key {
			m.headers[i][1] = value
			return
		}
	}
	m.headers = append(m.headers, [2]string{key, value})
}

// Headers returns all headers in the order they're written.
func (m MailData) Headers() [][2]string {
	return append([][2]string(nil), m.headers...)
}

// Body returns the message body, without headers.
func (m MailData) Body() []byte { return m.body }

// Recipients gets the addresses of all To, Cc, and Bcc recipients, for use
// with RCPT TO.
func (m MailData) Recipients() []string { return append([]string(nil), m.rcpt...) }

// Bytes returns the complete message.
func (m MailData) Bytes() []byte {
	buf := new(bytes.Buffer)
	m.WriteTo(buf)
	return buf.Bytes()
}

// WriteTo writes the headers, a blank line, and the body to w.
//
// Header values that aren't printable ASCII are Q-encoded.
func (m MailData) WriteTo(w io.Writer) (int64, error) {
	buf := new(bytes.Buffer)
	for _, h := range m.headers {
		buf.WriteString(h[0])
		buf.WriteString(": ")
		buf.WriteString(mime.QEncoding.Encode("utf-8", h[1]))
		buf.WriteString("\r\n")
	}
	buf.WriteString("\r\n")
	buf.Write(m.body)

	n, err := w.Write(buf.Bytes())
	return int64(n), err
}

// MailBuilder creates a MailData.
type MailBuilder struct {
	data            MailData
	from            *Mailbox
	to, cc, bcc     []Mailbox
	parts           []MIMEBody
	pubKey, privKey []byte
	sign            bool
}

// NewMailBuilder creates a new empty builder.
func NewMailBuilder() *MailBuilder { return &MailBuilder{} }

// From sets the From header.
func (b *MailBuilder) From(m Mailbox) *MailBuilder {
	b.from = &m
	b.data.SetHeader("From", m.String())
	return b
}

// To adds recipients to the To header.
func (b *MailBuilder) To(m ...Mailbox) *MailBuilder { b.to = append(b.to, m...); return b }

// Cc adds recipients to the Cc header.
func (b *MailBuilder) Cc(m ...Mailbox) *MailBuilder { b.cc = append(b.cc, m...); return b }

// Bcc adds recipients to the Bcc header.
//
// The Bcc header is written to the message; use a separate message for every
// Bcc recipient to keep them hidden from each other.
func (b *MailBuilder) Bcc(m ...Mailbox) *MailBuilder { b.bcc = append(b.bcc, m...); return b }

// Subject sets the Subject header.
func (b *MailBuilder) Subject(s string) *MailBuilder {
	b.data.SetHeader("Subject", s)
	return b
}

// MessageID sets the Message-Id header to <id>.
func (b *MailBuilder) MessageID(id string) *MailBuilder {
	b.data.SetHeader("Message-Id", "<"+id+">")
	return b
}

// Header sets an arbitrary header. Setting the same header again overwrites
// the previous value.
func (b *MailBuilder) Header(key, value string) *MailBuilder {
	b.data.SetHeader(key, value)
	return b
}

// Body adds a MIME part.
func (b *MailBuilder) Body(parts ...MIMEBody) *MailBuilder {
	b.parts = append(b.parts, parts...)
	return b
}

// Sign the message with an OpenPGP detached signature (RFC 3156).
//
// The keys are armored; see SignKeys and SignCreateKeys.
func (b *MailBuilder) Sign(pubKey, privKey []byte) *MailBuilder {
	b.sign, b.pubKey, b.privKey = true, pubKey, privKey
	return b
}

// Build the message.
//
// This adds the To, Cc, Bcc, Date, MIME-Version and Content-Type headers. A
// Date header set with Header is kept.
func (b *MailBuilder) Build() (MailData, error) {
	if b.from == nil {
		return MailData{}, errors.New("sarpush.MailBuilder.Build: missing From address")
	}
	if len(b.to)+len(b.cc)+len(b.bcc) == 0 {
		return MailData{}, errors.New("sarpush.MailBuilder.Build: need at least one recipient")
	}
	if len(b.parts) == 0 {
		return MailData{}, errors.New("sarpush.MailBuilder.Build: need at least one body part")
	}
	for i, p := range b.parts {
		if p.Error() != nil {
			return MailData{}, fmt.Errorf("sarpush.MailBuilder.Build: part %d: %w", i+1, p.Error())
		}
	}

	data := MailData{headers: b.data.Headers()}
	for _, list := range [][]Mailbox{b.to, b.cc, b.bcc} {
		for _, m := range list {
			data.rcpt = append(data.rcpt, m.Address)
		}
	}
	if len(b.to) > 0 {
		data.SetHeader("To", mailboxList(b.to))
	}
	if len(b.cc) > 0 {
		data.SetHeader("Cc", mailboxList(b.cc))
	}
	if len(b.bcc) > 0 {
		data.SetHeader("Bcc", mailboxList(b.bcc))
	}
	if _, ok := data.Header("Date"); !ok {
		data.SetHeader("Date", now().Format(time.RFC1123Z))
	}
	data.SetHeader("MIME-Version", "1.0")

	boundary := newBoundary()
	mixed, err := multipartBody(boundary, b.parts)
	if err != nil {
		return MailData{}, fmt.Errorf("sarpush.MailBuilder.Build: %w", err)
	}
	ct := mime.FormatMediaType("multipart/mixed", map[string]string{"boundary": boundary})

	if !b.sign {
		data.SetHeader("Content-Type", ct)
		data.body = mixed
		return data, nil
	}

	// The signed content is the complete multipart/mixed entity, including its
	// Content-Type header.
	signed := append([]byte("Content-Type: "+ct+"\r\n\r\n"), mixed...)
	sig, err := signMessage(signed, b.pubKey, b.privKey)
	if err != nil {
		return MailData{}, fmt.Errorf("sarpush.MailBuilder.Build: %w", err)
	}
	sigPart := NewMIMEBody("application/pgp-signature").Data(sig).
		SetHeader("Content-Disposition", `attachment; filename="signature.asc"`)

	outer := "signed-" + boundary
	body := new(bytes.Buffer)
	body.WriteString("--" + outer + "\r\n")
	body.Write(signed)
	body.WriteString("\r\n")
	rest, err := multipartBody(outer, []MIMEBody{sigPart})
	if err != nil {
		return MailData{}, fmt.Errorf("sarpush.MailBuilder.Build: %w", err)
	}
	body.Write(rest)

	data.SetHeader("Content-Type", mime.FormatMediaType("multipart/signed", map[string]string{
		"boundary": outer,
		"micalg":   "pgp-sha256",
		"protocol": "application/pgp-signature",
	}))
	data.body = body.Bytes()
	return data, nil
}

// multipartBody writes a delimiter line before every part and the closing
// delimiter at the end.
func multipartBody(boundary string, parts []MIMEBody) ([]byte, error) {
	buf := new(bytes.Buffer)
	for i, p := range parts {
		buf.WriteString("--" + boundary + "\r\n")
		if _, err := p.WriteTo(buf); err != nil {
			return nil, fmt.Errorf("part %d: %w", i+1, err)
		}
	}
	buf.WriteString("--" + boundary + "--\r\n")
	return buf.Bytes(), nil
}
