package smtp

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"
)

// replyBufferSize is the maximum length of a reply line including the code and
// CRLF, from RFC 5321 section 4.5.3.1.5.
const replyBufferSize = 512

// Reply is a single, possibly multi-line, server reply.
type Reply struct {
	Code      int
	TextLines []string
}

// Expect returns a *ReplyError if the reply code isn't code.
func (r Reply) Expect(code int) error {
	if r.Code != code {
		return &ReplyError{Reply: r, Expected: code}
	}
	return nil
}

// String formats the reply as it appeared on the wire, without the final CRLF.
func (r Reply) String() string {
	var b strings.Builder
	for i, l := range r.TextLines {
		sep := "-"
		if i == len(r.TextLines)-1 {
			sep = " "
		}
		if i > 0 {
			b.WriteString("\r\n")
		}
		fmt.Fprintf(&b, "%03d%s%s", r.Code, sep, l)
	}
	return b.String()
}

type parseState int

const (
	stateStart parseState = iota
	stateNewLine
	stateCode
	stateLine
	stateCR
	stateEndOfLine
	stateEnd
)

// ReadReply reads one complete reply from r.
//
// The reply is read one byte at a time, so r should be buffered.
func ReadReply(r io.Reader) (Reply, error) {
	p := replyParser{r: r, buf: newBuffer(replyBufferSize)}
	return p.parse()
}

type replyParser struct {
	r     io.Reader
	buf   *buffer
	state parseState
	reply Reply
	final bool // Current line is the last one.
	line  int  // Start of the current line's text in buf.
	code  bool // Reply code is recorded.
}

func (p *replyParser) parse() (Reply, error) {
	for {
		var err error
		switch p.state {
		case stateStart:
			p.state = stateNewLine
		case stateNewLine:
			err = p.readCode()
		case stateCode:
			err = p.readSeparator()
		case stateLine, stateCR:
			err = p.readText()
		case stateEndOfLine:
			err = p.endLine()
		case stateEnd:
			return p.reply, nil
		}
		if err != nil {
			return Reply{}, err
		}
	}
}

// read n bytes in to the start of the window and advance it.
func (p *replyParser) read(n int) ([]byte, error) {
	if p.buf.len() < n {
		return nil, &ParseError{Kind: ParseLineTooLong, Bytes: p.buf.raw()[p.line:p.buf.start]}
	}
	b := p.buf.bytes()[:n]
	if _, err := io.ReadFull(p.r, b); err != nil {
		return nil, &IOError{Op: "read", Err: err}
	}
	p.buf.shrinkHead(n)
	return b, nil
}

func (p *replyParser) readCode() error {
	b, err := p.read(3)
	if err != nil {
		return err
	}
	if !utf8.Valid(b) {
		return &ParseError{Kind: ParseInvalidUTF8, Bytes: append([]byte(nil), b...)}
	}
	code, err := strconv.ParseUint(string(b), 10, 16)
	if err != nil {
		return &ParseError{Kind: ParseInvalidCode, Bytes: append([]byte(nil), b...), Err: err}
	}

	if !p.code {
		p.reply.Code, p.code = int(code), true
	}
	p.state = stateCode
	return nil
}

func (p *replyParser) readSeparator() error {
	b, err := p.read(1)
	if err != nil {
		return err
	}
	p.line = p.buf.start
	switch b[0] {
	case ' ':
		p.final, p.state = true, stateLine
	case '-':
		p.final, p.state = false, stateLine
	case '\r':
		p.final, p.state = true, stateCR
	default:
		return &ParseError{Kind: ParseUnexpectedChar, Bytes: []byte{b[0]}}
	}
	return nil
}

func (p *replyParser) readText() error {
	b, err := p.read(1)
	if err != nil {
		return err
	}
	switch {
	case b[0] == '\r':
		p.state = stateCR
	case b[0] == '\n' && p.state == stateCR:
		p.state = stateEndOfLine
	default:
		p.state = stateLine
	}
	return nil
}

func (p *replyParser) endLine() error {
	// Line text excludes the CRLF; a line ending right after the code starts at
	// the CR itself.
	start := p.line
	if start > p.buf.start-2 {
		start = p.buf.start - 2
	}
	text := p.buf.raw()[start : p.buf.start-2]
	if !utf8.Valid(text) {
		return &ParseError{Kind: ParseInvalidUTF8, Bytes: append([]byte(nil), text...)}
	}
	p.reply.TextLines = append(p.reply.TextLines, string(text))

	if p.final {
		p.state = stateEnd
		return nil
	}
	p.buf.reset()
	p.state = stateNewLine
	return nil
}
