package sarpush

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/quotedprintable"
	"net/http"
	"net/url"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/transform"
)

// Encoding is a Content-Transfer-Encoding.
type Encoding int

// Transfer encodings from RFC 2045. Only quoted-printable and base64 change
// the body; the others are written as-is.
const (
	Encoding7Bit Encoding = iota
	Encoding8Bit
	EncodingBinary
	EncodingQuotedPrintable
	EncodingBase64
	EncodingIETFToken
	EncodingXToken
)

func (e Encoding) String() string {
	switch e {
	case Encoding7Bit:
		return "7bit"
	case Encoding8Bit:
		return "8bit"
	case EncodingBinary:
		return "binary"
	case EncodingQuotedPrintable:
		return "quoted-printable"
	case EncodingBase64:
		return "base64"
	case EncodingIETFToken:
		return "ietf-token"
	case EncodingXToken:
		return "x-token"
	}
	return fmt.Sprintf("Encoding(%d)", int(e))
}

// ContentType is a parsed media type.
type ContentType struct {
	Type    string
	Subtype string
	Params  map[string]string
}

// ParseContentType parses a media type such as "text/html; charset=utf-8".
// An empty string is text/plain.
func ParseContentType(s string) (ContentType, error) {
	if strings.TrimSpace(s) == "" {
		return ContentType{Type: "text", Subtype: "plain"}, nil
	}

	mt, params, err := mime.ParseMediaType(s)
	if err != nil {
		return ContentType{}, fmt.Errorf("sarpush.ParseContentType: %w", err)
	}
	typ, sub, ok := strings.Cut(mt, "/")
	if !ok || typ == "" || sub == "" {
		return ContentType{}, fmt.Errorf("sarpush.ParseContentType: invalid media type %q", s)
	}
	if len(params) == 0 {
		params = nil
	}
	return ContentType{Type: typ, Subtype: sub, Params: params}, nil
}

// MediaType returns "type/subtype", without parameters.
func (c ContentType) MediaType() string { return c.Type + "/" + c.Subtype }

func (c ContentType) String() string {
	return mime.FormatMediaType(c.MediaType(), c.Params)
}

func (c ContentType) isText() bool { return c.Type == "text" }

// MIMEBody is a single part of a multipart message.
//
// The methods return a modified copy, so a MIMEBody can be created in a single
// expression:
//
//	sarpush.NewMIMEBody("text/plain").Text("Hello").SetEncoding(sarpush.EncodingQuotedPrintable)
type MIMEBody struct {
	ContentType ContentType
	Encoding    Encoding

	header [][2]string // Extra part headers.
	body   []byte
	err    error
}

// NewMIMEBody creates a new empty part with 7bit encoding.
//
// Errors parsing contentType are reported by MailBuilder.Build.
func NewMIMEBody(contentType string) MIMEBody {
	ct, err := ParseContentType(contentType)
	return MIMEBody{ContentType: ct, err: err}
}

// Text sets the body to s.
func (b MIMEBody) Text(s string) MIMEBody { b.body = []byte(s); return b }

// Data sets the body to a copy of p.
func (b MIMEBody) Data(p []byte) MIMEBody {
	b.body = append([]byte(nil), p...)
	return b
}

// SetEncoding sets the Content-Transfer-Encoding.
func (b MIMEBody) SetEncoding(e Encoding) MIMEBody { b.Encoding = e; return b }

// SetHeader adds a part header after Content-Type and
// Content-Transfer-Encoding.
func (b MIMEBody) SetHeader(key, value string) MIMEBody {
	b.header = append(append([][2]string(nil), b.header...), [2]string{key, value})
	return b
}

// Error returns any error from creating this part.
func (b MIMEBody) Error() error { return b.err }

// TextBody creates a text/plain part with quoted-printable encoding.
func TextBody(s string) MIMEBody {
	return MIMEBody{
		ContentType: ContentType{Type: "text", Subtype: "plain", Params: map[string]string{"charset": "utf-8"}},
		Encoding:    EncodingQuotedPrintable,
		body:        []byte(s),
	}
}

var htmlPolicy = bluemonday.UGCPolicy()

// HTMLBody creates a text/html part with quoted-printable encoding.
//
// The HTML is sanitized to remove scripts, event handlers, and the like, as
// it's typically built from user input.
func HTMLBody(html string) MIMEBody {
	return MIMEBody{
		ContentType: ContentType{Type: "text", Subtype: "html", Params: map[string]string{"charset": "utf-8"}},
		Encoding:    EncodingQuotedPrintable,
		body:        htmlPolicy.SanitizeBytes([]byte(html)),
	}
}

// Attachment creates a base64 encoded attachment.
//
// The content type will be guessed from the filename or content if ct is "".
func Attachment(ct, filename string, data []byte) MIMEBody {
	ct, filename = guessAttachment(ct, filename, data)
	b := NewMIMEBody(ct).Data(data).SetEncoding(EncodingBase64)
	if b.err != nil {
		return b
	}

	if isASCII(filename) {
		f := strings.ReplaceAll(filename, `"`, `\"`)
		b = b.SetHeader("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, f))
	} else {
		b = b.SetHeader("Content-Disposition", fmt.Sprintf("attachment; filename*=utf-8''%s",
			url.PathEscape(filename)))
	}
	return b
}

func guessAttachment(ct, fn string, body []byte) (string, string) {
	switch {
	case fn == "" && ct == "":
		return "application/octet-stream", "data"
	case ct == "" && fn != "":
		if i := strings.LastIndexByte(fn, '.'); i > -1 {
			ct = mime.TypeByExtension(fn[i:])
		}
		if ct == "" {
			ct = http.DetectContentType(body)
		}
	case fn == "" && ct != "":
		fn = "attachment"
		if exts, _ := mime.ExtensionsByType(ct); len(exts) > 0 {
			fn += exts[0]
		}
	}
	return ct, fn
}

// Encode the part as it appears in a multipart body.
func (b MIMEBody) Encode() ([]byte, error) {
	buf := new(bytes.Buffer)
	_, err := b.WriteTo(buf)
	return buf.Bytes(), err
}

// WriteTo writes the part headers, a blank line, the encoded body, and two
// CRLFs.
func (b MIMEBody) WriteTo(w io.Writer) (int64, error) {
	if b.err != nil {
		return 0, b.err
	}

	body := b.body
	if b.ContentType.isText() && b.Encoding != EncodingBinary && b.Encoding != EncodingBase64 {
		var err error
		body, _, err = transform.Bytes(&crlfTransformer{}, body)
		if err != nil {
			return 0, fmt.Errorf("sarpush.MIMEBody.WriteTo: %w", err)
		}
	}

	buf := new(bytes.Buffer)
	fmt.Fprintf(buf, "Content-Type: %s\r\n", b.ContentType)
	fmt.Fprintf(buf, "Content-Transfer-Encoding: %s\r\n", b.Encoding)
	for _, h := range b.header {
		fmt.Fprintf(buf, "%s: %s\r\n", h[0], h[1])
	}
	buf.WriteString("\r\n")

	switch b.Encoding {
	case EncodingQuotedPrintable:
		qp := quotedprintable.NewWriter(buf)
		qp.Write(body)
		qp.Close()
	case EncodingBase64:
		wrappedBase64{buf}.Write(body)
	default:
		buf.Write(body)
	}
	buf.WriteString("\r\n\r\n")

	n, err := w.Write(buf.Bytes())
	return int64(n), err
}

// Write base64 wrapped at 76 columns to w.
type wrappedBase64 struct{ w io.Writer }

func (b wrappedBase64) Write(p []byte) (n int, err error) {
	buf := make([]byte, 78)
	copy(buf[76:], "\r\n")

	l := len(p)
	for len(p) >= 57 {
		base64.StdEncoding.Encode(buf, p[:57])
		if _, err := b.w.Write(buf); err != nil {
			return l - len(p), err
		}
		p = p[57:]
	}

	if len(p) > 0 {
		base64.StdEncoding.Encode(buf, p)
		if _, err := b.w.Write(append(buf[:base64.StdEncoding.EncodedLen(len(p))], "\r\n"...)); err != nil {
			return l - len(p), err
		}
	}
	return l, nil
}
