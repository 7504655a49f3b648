package dispatch

import (
	"context"
	"crypto/tls"
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	sarpush "github.com/SardineFish/sar-push-service"
	"github.com/SardineFish/sar-push-service/smtp"
)

// Sender delivers a notification using the given profile.
//
// Errors should be an *Error, so the correct summary is stored.
type Sender interface {
	Send(ctx context.Context, p Profile, n Notification) error
}

// BuildMail creates the message for a notification.
//
// Text bodies are sent as UTF-8 with quoted-printable encoding.
func BuildMail(p Profile, n Notification) (sarpush.MailData, error) {
	to, err := sarpush.ParseMailbox(n.Mail.To)
	if err != nil {
		return sarpush.MailData{}, errors.Wrap(err, "dispatch.BuildMail")
	}

	body := sarpush.NewMIMEBody(n.Mail.ContentType).Text(n.Mail.Body)
	if body.ContentType.Type == "text" {
		params := map[string]string{"charset": "utf-8"}
		for k, v := range body.ContentType.Params {
			params[k] = v
		}
		body.ContentType.Params = params
		body = body.SetEncoding(sarpush.EncodingQuotedPrintable)
	}

	mail, err := sarpush.NewMailBuilder().
		From(sarpush.Mailbox{Name: p.Name, Address: p.EmailAddress}).
		To(to).
		MessageID(n.MessageID).
		Subject(n.Mail.Subject).
		Body(body).
		Build()
	return mail, errors.Wrap(err, "dispatch.BuildMail")
}

// SMTPSender sends notifications with the SMTP server from the profile.
type SMTPSender struct {
	Timeout   time.Duration      // Connect and per-command timeout.
	LocalName string             // EHLO domain; "localhost" if empty.
	TLSConfig *tls.Config        // For profiles with TLS set.
	Log       logrus.FieldLogger // SMTP transcript at debug level.
}

var _ Sender = SMTPSender{}

func (s SMTPSender) Send(ctx context.Context, p Profile, n Notification) error {
	mail, err := BuildMail(p, n)
	if err != nil {
		return newError(ErrSend, err)
	}

	opts := []smtp.Option{smtp.WithTimeout(s.Timeout)}
	if s.LocalName != "" {
		opts = append(opts, smtp.WithLocalName(s.LocalName))
	}
	if s.TLSConfig != nil {
		opts = append(opts, smtp.WithTLSConfig(s.TLSConfig))
	}
	if s.Log != nil {
		opts = append(opts, smtp.WithLogger(s.Log))
	}

	var c *smtp.Client
	if p.TLS {
		c, err = smtp.DialTLSContext(ctx, p.SMTPAddress, opts...)
	} else {
		c, err = smtp.DialContext(ctx, p.SMTPAddress, opts...)
	}
	if err != nil {
		return newError(ErrConnect, err)
	}
	defer c.Close()

	if p.Username != "" {
		if err := c.Auth(p.Username, p.Password); err != nil {
			return newError(ErrAuth, err)
		}
	}
	if err := c.Send(p.EmailAddress, mail.Recipients(), mail.Bytes()); err != nil {
		return newError(ErrSend, err)
	}

	// The message was accepted; a failed QUIT doesn't change that.
	if err := c.Quit(); err != nil && s.Log != nil {
		s.Log.WithError(err).Debug("QUIT failed")
	}
	return nil
}

// WriterSender writes the message to an io.Writer instead of sending it.
type WriterSender struct {
	mu sync.Mutex
	w  io.Writer
}

var _ Sender = (*WriterSender)(nil)

// NewWriterSender creates a new WriterSender.
func NewWriterSender(w io.Writer) *WriterSender { return &WriterSender{w: w} }

func (s *WriterSender) Send(_ context.Context, p Profile, n Notification) error {
	mail, err := BuildMail(p, n)
	if err != nil {
		return newError(ErrSend, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := mail.WriteTo(s.w); err != nil {
		return newError(ErrSend, err)
	}
	return nil
}
