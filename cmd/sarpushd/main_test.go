package main

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SardineFish/sar-push-service/config"
	"github.com/SardineFish/sar-push-service/dispatch"
)

func TestBuildMessage(t *testing.T) {
	dir := t.TempDir()
	att := filepath.Join(dir, "report.csv")
	require.NoError(t, os.WriteFile(att, []byte("a,b\n1,2\n"), 0o600))

	msg, err := buildMessage(sendFlags{
		from:        "Me <me@example.com>",
		to:          []string{"you@example.com", "Other <other@example.com>"},
		bcc:         []string{"hidden@example.com"},
		subject:     "Report",
		contentType: "text/plain",
		attach:      []string{att},
	}, []byte("See attached.\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"you@example.com", "other@example.com", "hidden@example.com"}, msg.Recipients())

	mr, err := mail.CreateReader(bytes.NewReader(msg.Bytes()))
	require.NoError(t, err)
	subj, err := mr.Header.Subject()
	require.NoError(t, err)
	assert.Equal(t, "Report", subj)

	var parts []string
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		body, err := io.ReadAll(p.Body)
		require.NoError(t, err)
		switch h := p.Header.(type) {
		case *mail.InlineHeader:
			parts = append(parts, "inline: "+strings.TrimRight(string(body), "\r\n"))
		case *mail.AttachmentHeader:
			fn, _ := h.Filename()
			parts = append(parts, "attachment: "+fn+": "+string(body))
		}
	}
	assert.Equal(t, []string{"inline: See attached.", "attachment: report.csv: a,b\n1,2\n"}, parts)
}

func TestBuildMessageErrors(t *testing.T) {
	tests := []struct {
		flags sendFlags
		want  string
	}{
		{sendFlags{from: "nope", to: []string{"you@example.com"}}, "--from"},
		{sendFlags{from: "me@example.com", to: []string{"@@"}}, "--to"},
		{sendFlags{from: "me@example.com"}, "need at least one recipient"},
		{sendFlags{from: "me@example.com", to: []string{"you@example.com"}, attach: []string{"/nonexistent"}}, "--attach"},
		{sendFlags{from: "me@example.com", to: []string{"you@example.com"}, signPub: "/nonexistent"}, "sarpush.SignKeys"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			_, err := buildMessage(tt.flags, []byte("x"))
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestBuildMessageSigned(t *testing.T) {
	dir := t.TempDir()
	pub, priv := filepath.Join(dir, "sign.pub"), filepath.Join(dir, "sign.priv")
	require.NoError(t, writeKeys(pub, priv))

	st, err := os.Stat(priv)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), st.Mode().Perm())

	msg, err := buildMessage(sendFlags{
		from:        "me@example.com",
		to:          []string{"you@example.com"},
		contentType: "text/html",
		signPub:     pub,
		signPriv:    priv,
	}, []byte("<p>Hello</p>"))
	require.NoError(t, err)

	ct, ok := msg.Header("Content-Type")
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(ct, "multipart/signed;"), ct)
	assert.Contains(t, string(msg.Body()), "-----BEGIN PGP SIGNATURE-----")
}

func TestRunSendStdout(t *testing.T) {
	log, _ := test.NewNullLogger()
	var out bytes.Buffer
	err := runSend(context.Background(), sendFlags{
		from:    "me@example.com",
		to:      []string{"you@example.com"},
		subject: "Hi",
		stdout:  true,
	}, nil, strings.NewReader("Hello"), &out, log)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Subject: Hi\r\n")
	assert.Contains(t, out.String(), "\r\nHello\r\n")

	err = runSend(context.Background(), sendFlags{from: "me@example.com"}, nil, strings.NewReader(""), &out, log)
	assert.EqualError(t, err, "--smtp is required")
}

// acceptOne runs a minimal SMTP server for one connection and records the
// commands.
func acceptOne(t *testing.T) (string, <-chan []string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	cmds := make(chan []string, 1)
	go func() {
		var seen []string
		defer func() { cmds <- seen }()
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()

		send := func(s string) { c.Write([]byte(s + "\r\n")) }
		send("220 ready")
		s := bufio.NewScanner(c)
		data := false
		for s.Scan() {
			line := s.Text()
			if data {
				if line == "." {
					data = false
					send("250 ok")
				}
				continue
			}
			seen = append(seen, line)
			switch {
			case strings.HasPrefix(line, "EHLO "):
				send("250-hi")
				send("250 AUTH PLAIN")
			case strings.HasPrefix(line, "AUTH "):
				send("235 ok")
			case line == "DATA":
				data = true
				send("354 go")
			case line == "QUIT":
				send("221 bye")
				return
			default:
				send("250 ok")
			}
		}
	}()
	return ln.Addr().String(), cmds
}

func TestRunSend(t *testing.T) {
	addr, cmds := acceptOne(t)
	log, hook := test.NewNullLogger()
	notls := false

	err := runSend(context.Background(), sendFlags{
		smtp:      addr,
		user:      "user",
		password:  "pass",
		from:      "Me <me@example.com>",
		to:        []string{"you@example.com"},
		subject:   "Hi",
		timeout:   5 * time.Second,
		localName: "mail.example.com",
	}, &notls, strings.NewReader("Hello"), io.Discard, log)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"EHLO mail.example.com",
		"AUTH PLAIN AHVzZXIAcGFzcw==",
		"MAIL FROM:<me@example.com>",
		"RCPT TO:<you@example.com>",
		"DATA",
		"QUIT",
	}, <-cmds)
	assert.Equal(t, "sent", hook.LastEntry().Message)
}

func TestSendCmd(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs([]string{"send", "--stdout", "--from", "me@example.com", "--to", "a@example.com",
		"--to", "b@example.com", "--subject", "Hello"})
	cmd.SetIn(strings.NewReader("Body text"))
	cmd.SetOut(&out)
	require.NoError(t, cmd.Execute())

	assert.Contains(t, out.String(), "To: <a@example.com>, <b@example.com>\r\n")
	assert.Contains(t, out.String(), "Body text")
}

func TestAddProfiles(t *testing.T) {
	ctx := context.Background()
	log, _ := test.NewNullLogger()
	store := dispatch.NewMemoryStore()
	require.NoError(t, store.AddProfile(ctx, dispatch.Profile{ID: "p1", EmailAddress: "old@example.com"}))

	err := addProfiles(ctx, store, []config.Profile{
		{ID: "p1", SMTPAddress: "localhost:25", EmailAddress: "new@example.com"},
		{ID: "p2", SMTPAddress: "localhost:465", TLS: true, EmailAddress: "p2@example.com", Name: "P2"},
	}, log)
	require.NoError(t, err)

	p1, err := store.Profile(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "old@example.com", p1.EmailAddress, "existing profile was replaced")

	p2, err := store.Profile(ctx, "p2")
	require.NoError(t, err)
	assert.Equal(t, dispatch.Profile{ID: "p2", SMTPAddress: "localhost:465", TLS: true,
		EmailAddress: "p2@example.com", Name: "P2"}, p2)
}

func TestNewSender(t *testing.T) {
	log, _ := test.NewNullLogger()
	assert.IsType(t, &dispatch.WriterSender{}, newSender(config.Dispatch{DryRun: true}, log))

	s, ok := newSender(config.Dispatch{Timeout: time.Second, HeloDomain: "example.com"}, log).(dispatch.SMTPSender)
	require.True(t, ok)
	assert.Equal(t, time.Second, s.Timeout)
	assert.Equal(t, "example.com", s.LocalName)
}

func TestServe(t *testing.T) {
	log := logrus.New()
	log.SetOutput(io.Discard)
	cfg := config.Defaults
	cfg.Profiles = []config.Profile{{ID: "p1", SMTPAddress: "localhost", EmailAddress: "me@example.com"}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, serve(ctx, cfg, log))
}
