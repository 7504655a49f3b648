package smtp

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// EnhancedCode is a RFC 3463 enhanced status code, as in "5.1.1".
type EnhancedCode [3]int

func (c EnhancedCode) String() string {
	return fmt.Sprintf("%d.%d.%d", c[0], c[1], c[2])
}

// ParseErrorKind describes what was wrong with a reply.
type ParseErrorKind int

// Kinds of reply parse errors.
const (
	ParseInvalidCode ParseErrorKind = iota + 1 // Status code isn't a number.
	ParseInvalidUTF8                           // Status code or text isn't valid UTF-8.
	ParseUnexpectedChar                        // Separator after the code isn't ' ', '-', or CR.
	ParseLineTooLong                           // Line doesn't fit in the reply buffer.
)

func (k ParseErrorKind) String() string {
	switch k {
	case ParseInvalidCode:
		return "invalid status code"
	case ParseInvalidUTF8:
		return "invalid UTF-8"
	case ParseUnexpectedChar:
		return "unexpected character"
	case ParseLineTooLong:
		return "line too long"
	}
	return "ParseErrorKind(" + strconv.Itoa(int(k)) + ")"
}

// ParseError is returned when the server sent a malformed reply.
type ParseError struct {
	Kind  ParseErrorKind
	Bytes []byte // The offending input.
	Err   error  // Underlying error from strconv or utf8, if any.
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("smtp: parsing reply: %s %q", e.Kind, e.Bytes)
}

func (e *ParseError) Unwrap() error { return e.Err }

// IOError is returned when reading from or writing to the connection failed;
// this includes timeouts.
type IOError struct {
	Op  string // "read" or "write"
	Err error
}

func (e *IOError) Error() string { return "smtp: " + e.Op + ": " + e.Err.Error() }
func (e *IOError) Unwrap() error { return e.Err }

// Timeout reports if the I/O operation timed out.
func (e *IOError) Timeout() bool {
	var nErr net.Error
	return errors.As(e.Err, &nErr) && nErr.Timeout()
}

// ReplyError is returned when the server replied with a status code other than
// the one required by the protocol step.
type ReplyError struct {
	Reply    Reply
	Expected int
}

func (e *ReplyError) Error() string {
	return fmt.Sprintf("smtp: unexpected reply %d (expected %d): %s",
		e.Reply.Code, e.Expected, strings.Join(e.Reply.TextLines, "\n"))
}

// Temporary reports if this is a 4xx reply; the same command may succeed
// later.
func (e *ReplyError) Temporary() bool { return e.Reply.Code/100 == 4 }

// EnhancedCode returns the RFC 3463 status code from the first reply line, if
// the server sent one.
func (e *ReplyError) EnhancedCode() (EnhancedCode, bool) {
	if len(e.Reply.TextLines) == 0 {
		return EnhancedCode{}, false
	}
	first, _, _ := strings.Cut(e.Reply.TextLines[0], " ")
	code, err := parseEnhancedCode(first)
	return code, err == nil
}

// HandshakeError is returned when the greeting or EHLO exchange failed. The
// wrapped error is usually a *ReplyError.
type HandshakeError struct {
	Err error
}

func (e *HandshakeError) Error() string { return "smtp: handshake: " + e.Err.Error() }
func (e *HandshakeError) Unwrap() error { return e.Err }

// ExtensionNotSupportedError is returned when activating an extension the
// server didn't advertise in its EHLO reply.
type ExtensionNotSupportedError struct {
	Name string
}

func (e *ExtensionNotSupportedError) Error() string {
	return "smtp: server doesn't support " + e.Name
}

// ConnectError is returned when the connection could not be set up: address
// resolution, dialing, or the TLS handshake failed.
type ConnectError struct {
	Addr string
	Err  error
}

func (e *ConnectError) Error() string { return "smtp: connect " + e.Addr + ": " + e.Err.Error() }
func (e *ConnectError) Unwrap() error { return e.Err }

func parseEnhancedCode(s string) (EnhancedCode, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return EnhancedCode{}, fmt.Errorf("wrong amount of enhanced code parts")
	}

	code := EnhancedCode{}
	for i, part := range parts {
		num, err := strconv.Atoi(part)
		if err != nil {
			return code, err
		}
		code[i] = num
	}
	return code, nil
}

// validateLine checks to see if a line has CR or LF as per RFC 5321.
func validateLine(line string) error {
	if strings.ContainsAny(line, "\n\r") {
		return errors.New("smtp: a line must not contain CR or LF")
	}
	return nil
}
