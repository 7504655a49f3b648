package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	sarpush "github.com/SardineFish/sar-push-service"
	"github.com/SardineFish/sar-push-service/smtp"
)

type sendFlags struct {
	smtp        string
	tls         bool
	user        string
	password    string
	from        string
	to          []string
	cc          []string
	bcc         []string
	subject     string
	contentType string
	body        string
	attach      []string
	signPub     string
	signPriv    string
	timeout     time.Duration
	stdout      bool
	localName   string // From dispatch.helo_domain.
}

func newSendCmd() *cobra.Command {
	var f sendFlags
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a single email",
		Long: `Send a single email through an SMTP server.

The body is read from --body, or from stdin if it's not given. Implicit TLS is
used for port 465 unless --tls is set explicitly.`,
		Example: `  sarpushd send --smtp smtp.example.com:465 --user me --password secret \
      --from 'Me <me@example.com>' --to you@example.com --subject Hello < body.txt`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			f.localName = cfg.Dispatch.HeloDomain
			var tlsOpt *bool
			if cmd.Flags().Changed("tls") {
				tlsOpt = &f.tls
			}
			return runSend(cmd.Context(), f, tlsOpt, cmd.InOrStdin(), cmd.OutOrStdout(), log)
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.smtp, "smtp", "", "SMTP server as host[:port]")
	fl.BoolVar(&f.tls, "tls", false, "Connect with implicit TLS")
	fl.StringVar(&f.user, "user", "", "Username for AUTH PLAIN; don't authenticate if empty")
	fl.StringVar(&f.password, "password", "", "Password for AUTH PLAIN")
	fl.StringVar(&f.from, "from", "", "From: address")
	fl.StringArrayVar(&f.to, "to", nil, "To: address; can be given more than once")
	fl.StringArrayVar(&f.cc, "cc", nil, "Cc: address; can be given more than once")
	fl.StringArrayVar(&f.bcc, "bcc", nil, "Bcc: address; can be given more than once")
	fl.StringVar(&f.subject, "subject", "", "Subject: header")
	fl.StringVar(&f.contentType, "content-type", "text/plain", "Content type of the body")
	fl.StringVar(&f.body, "body", "", "Read the body from this file instead of stdin")
	fl.StringArrayVar(&f.attach, "attach", nil, "Attach a file; can be given more than once")
	fl.StringVar(&f.signPub, "sign-pub", "", "Armored PGP public key to sign with")
	fl.StringVar(&f.signPriv, "sign-priv", "", "Armored PGP private key to sign with")
	fl.DurationVar(&f.timeout, "send-timeout", time.Minute, "Timeout for connecting and every command")
	fl.BoolVar(&f.stdout, "stdout", false, "Write the message to stdout instead of sending it")
	return cmd
}

func parseMailboxes(list []string) ([]sarpush.Mailbox, error) {
	var boxes []sarpush.Mailbox
	for _, s := range list {
		m, err := sarpush.ParseMailbox(s)
		if err != nil {
			return nil, err
		}
		boxes = append(boxes, m)
	}
	return boxes, nil
}

// buildMessage creates the message from the flags and body.
func buildMessage(f sendFlags, body []byte) (sarpush.MailData, error) {
	from, err := sarpush.ParseMailbox(f.from)
	if err != nil {
		return sarpush.MailData{}, fmt.Errorf("--from: %w", err)
	}
	to, err := parseMailboxes(f.to)
	if err != nil {
		return sarpush.MailData{}, fmt.Errorf("--to: %w", err)
	}
	cc, err := parseMailboxes(f.cc)
	if err != nil {
		return sarpush.MailData{}, fmt.Errorf("--cc: %w", err)
	}
	bcc, err := parseMailboxes(f.bcc)
	if err != nil {
		return sarpush.MailData{}, fmt.Errorf("--bcc: %w", err)
	}

	var part sarpush.MIMEBody
	switch f.contentType {
	case "", "text/plain":
		part = sarpush.TextBody(string(body))
	case "text/html":
		part = sarpush.HTMLBody(string(body))
	default:
		part = sarpush.NewMIMEBody(f.contentType).Data(body).SetEncoding(sarpush.EncodingBase64)
	}
	parts := []sarpush.MIMEBody{part}
	for _, a := range f.attach {
		data, err := os.ReadFile(a)
		if err != nil {
			return sarpush.MailData{}, fmt.Errorf("--attach: %w", err)
		}
		parts = append(parts, sarpush.Attachment("", filepath.Base(a), data))
	}

	b := sarpush.NewMailBuilder().From(from).To(to...).Cc(cc...).Bcc(bcc...).
		Subject(f.subject).Body(parts...)
	if f.signPub != "" || f.signPriv != "" {
		pub, priv, err := sarpush.SignKeys(f.signPub, f.signPriv)
		if err != nil {
			return sarpush.MailData{}, err
		}
		b = b.Sign(pub, priv)
	}
	return b.Build()
}

func runSend(ctx context.Context, f sendFlags, tlsOpt *bool, stdin io.Reader, stdout io.Writer, log logrus.FieldLogger) error {
	if f.smtp == "" && !f.stdout {
		return errors.New("--smtp is required")
	}

	var (
		body []byte
		err  error
	)
	if f.body != "" {
		body, err = os.ReadFile(f.body)
	} else {
		body, err = io.ReadAll(stdin)
	}
	if err != nil {
		return fmt.Errorf("reading body: %w", err)
	}

	msg, err := buildMessage(f, body)
	if err != nil {
		return err
	}
	if f.stdout {
		_, err := msg.WriteTo(stdout)
		return err
	}

	opts := []smtp.Option{smtp.WithTimeout(f.timeout), smtp.WithLogger(log)}
	if f.localName != "" {
		opts = append(opts, smtp.WithLocalName(f.localName))
	}
	if f.user != "" {
		opts = append(opts, smtp.WithAuth(f.user, f.password))
	}
	if tlsOpt != nil {
		opts = append(opts, smtp.WithImplicitTLS(*tlsOpt))
	}

	from, _ := sarpush.ParseMailbox(f.from)
	err = smtp.Send(ctx, f.smtp, from.Address, msg.Recipients(), msg.Bytes(), opts...)
	if err != nil {
		return err
	}
	log.WithField("to", msg.Recipients()).Info("sent")
	return nil
}
