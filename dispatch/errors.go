package dispatch

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/SardineFish/sar-push-service/smtp"
)

// ErrorKind is the stage a delivery failed at.
type ErrorKind int

// Error kinds.
const (
	ErrConnect        ErrorKind = iota + 1 // Connecting or handshake.
	ErrAuth                                // AUTH rejected.
	ErrSend                                // Building or sending the message.
	ErrMissingProfile                      // Sender profile doesn't exist.
	ErrStore                               // Store failure.
)

// Error is a failed delivery.
type Error struct {
	Kind ErrorKind
	Err  error
}

func newError(kind ErrorKind, err error) *Error {
	return &Error{Kind: kind, Err: errors.WithStack(err)}
}

// Error returns the summary, which is stored as State.Summary.
func (e *Error) Error() string {
	switch e.Kind {
	case ErrConnect:
		return "Cannot connect to SMTP Server"
	case ErrAuth:
		return "SMTP Authorization failed"
	case ErrSend:
		var rErr *smtp.ReplyError
		if errors.As(e.Err, &rErr) {
			return fmt.Sprintf("Unexpected SMTP reply: %d: %s",
				rErr.Reply.Code, strings.Join(rErr.Reply.TextLines, "\r\n"))
		}
		return "Internal SMTP error"
	case ErrMissingProfile:
		return "Missing service profile"
	case ErrStore:
		return "Internal db error"
	}
	return fmt.Sprintf("dispatch error %d", int(e.Kind))
}

func (e *Error) Unwrap() error { return e.Err }

// Detail is the underlying error with its stack trace.
func (e *Error) Detail() string {
	if e.Err == nil {
		return ""
	}
	return fmt.Sprintf("%+v", e.Err)
}

// errorState converts a delivery error to a State.
func errorState(err error) State {
	var dErr *Error
	if !errors.As(err, &dErr) {
		dErr = &Error{Kind: ErrSend, Err: err}
	}
	return State{Status: StatusError, Summary: dErr.Error(), Detail: dErr.Detail()}
}
