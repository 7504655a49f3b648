package smtp

import (
	"bytes"
	"io"
)

var (
	crlf       = []byte("\r\n")
	dotLine    = []byte(".\r\n")
	terminator = []byte("\r\n.\r\n")
)

// Command is a single SMTP request.
type Command interface {
	// Verb is the command verb, or "" for DATA content.
	Verb() string

	// WriteTo writes the command in wire format.
	WriteTo(w io.Writer) (int64, error)
}

type command struct {
	verb   string
	params string
}

func (c command) Verb() string { return c.verb }

func (c command) WriteTo(w io.Writer) (int64, error) {
	line := c.verb
	if c.params != "" {
		line += " " + c.params
	}
	n, err := io.WriteString(w, line+"\r\n")
	return int64(n), err
}

func (c command) String() string {
	if c.params == "" {
		return c.verb
	}
	return c.verb + " " + c.params
}

// Ehlo creates an EHLO command.
func Ehlo(domain string) Command { return command{"EHLO", domain} }

// Helo creates a HELO command.
func Helo(domain string) Command { return command{"HELO", domain} }

// Mail creates a MAIL FROM command.
func Mail(from string) Command { return command{"MAIL", "FROM:<" + from + ">"} }

// Rcpt creates a RCPT TO command.
func Rcpt(to string) Command { return command{"RCPT", "TO:<" + to + ">"} }

// Data creates the DATA command that precedes the message content.
func Data() Command { return command{"DATA", ""} }

// Rset creates a RSET command.
func Rset() Command { return command{"RSET", ""} }

// Noop creates a NOOP command.
func Noop() Command { return command{"NOOP", ""} }

// Quit creates a QUIT command.
func Quit() Command { return command{"QUIT", ""} }

// Vrfy creates a VRFY command.
func Vrfy(addr string) Command { return command{"VRFY", addr} }

// Auth creates an AUTH command; the initial response is sent as-is and should
// already be base64 encoded.
func Auth(mech, initialResponse string) Command { return command{"AUTH", trimJoin(mech, initialResponse)} }

func trimJoin(a, b string) string {
	if b == "" {
		return a
	}
	return a + " " + b
}

// DataContent creates the message content sent after DATA was accepted.
//
// The message should use CRLF line endings. Any line consisting of just a
// single dot is escaped as "..", and the "\r\n.\r\n" terminator is always
// appended.
func DataContent(msg []byte) Command { return dataContent(msg) }

type dataContent []byte

func (dataContent) Verb() string { return "" }

func (d dataContent) WriteTo(w io.Writer) (int64, error) {
	var total int64
	write := func(b []byte) error {
		n, err := w.Write(b)
		total += int64(n)
		return err
	}

	rest := []byte(d)
	for len(rest) > 0 {
		var line []byte
		if i := bytes.Index(rest, crlf); i >= 0 {
			line, rest = rest[:i+2], rest[i+2:]
		} else {
			line, rest = rest, nil
		}

		if bytes.Equal(line, dotLine) {
			if err := write([]byte{'.'}); err != nil {
				return total, err
			}
		}
		if err := write(line); err != nil {
			return total, err
		}
	}
	return total, write(terminator)
}
