// Copyright 2010 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package smtp implements a SMTP client as defined in RFC 5321.
//
// The connection is either plain TCP or implicit TLS (RFC 8314); STARTTLS is
// not supported. The only extension implemented is AUTH (RFC 4954) with the
// PLAIN mechanism, but others can be added with RegisterExtension.
package smtp

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// A Client represents a client connection to an SMTP server.
//
// A Client is only returned after the server greeted us and accepted EHLO. It
// is not safe for concurrent use.
type Client struct {
	conn      net.Conn
	r         *bufio.Reader
	w         *bufio.Writer
	ext       Extensions // Extensions from the last EHLO.
	localName string     // The name to use in EHLO.
	log       logrus.FieldLogger

	authenticated bool
	transactions  int // Number of started mail transactions.
}

type (
	// Option configures a Client.
	Option  func(*options)
	options struct {
		timeout     time.Duration
		localName   string
		tlsConfig   *tls.Config
		log         logrus.FieldLogger
		implicitTLS *bool
		username    string
		password    string
	}
)

// WithTimeout sets the timeout for connecting, and for every individual read
// and write on the connection. The default of 0 means no timeout.
func WithTimeout(d time.Duration) Option { return func(o *options) { o.timeout = d } }

// WithLocalName sets the domain sent with EHLO; the default is "localhost".
func WithLocalName(name string) Option { return func(o *options) { o.localName = name } }

// WithTLSConfig sets the TLS configuration for DialTLS.
func WithTLSConfig(cfg *tls.Config) Option { return func(o *options) { o.tlsConfig = cfg } }

// WithLogger logs all commands and replies at debug level. AUTH parameters are
// masked.
func WithLogger(l logrus.FieldLogger) Option { return func(o *options) { o.log = l } }

// WithAuth authenticates with PLAIN in Send.
func WithAuth(username, password string) Option {
	return func(o *options) { o.username, o.password = username, password }
}

// WithImplicitTLS forces Send to use (or not use) implicit TLS, instead of
// deciding based on the port.
func WithImplicitTLS(enable bool) Option { return func(o *options) { o.implicitTLS = &enable } }

func newOptions(opts []Option) options {
	o := options{localName: "localhost"}
	for _, f := range opts {
		f(&o)
	}
	if o.log == nil {
		l := logrus.New()
		l.SetLevel(logrus.WarnLevel)
		o.log = l
	}
	return o
}

// Dial connects to the SMTP server at addr over plain TCP and performs the
// handshake.
//
// The addr can include a port (e.g. "mail.example.com:2525") and will default
// to 25 if omitted.
func Dial(addr string, opts ...Option) (*Client, error) {
	return DialContext(context.Background(), addr, opts...)
}

// DialContext is like Dial, but with a context for connecting.
func DialContext(ctx context.Context, addr string, opts ...Option) (*Client, error) {
	o := newOptions(opts)
	conn, err := dial(ctx, addr, false, o)
	if err != nil {
		return nil, err
	}
	return newClient(conn, o)
}

// DialTLS connects to the SMTP server at addr with implicit TLS and performs
// the handshake.
//
// The addr can include a port and will default to 465 if omitted.
func DialTLS(addr string, opts ...Option) (*Client, error) {
	return DialTLSContext(context.Background(), addr, opts...)
}

// DialTLSContext is like DialTLS, but with a context for connecting.
func DialTLSContext(ctx context.Context, addr string, opts ...Option) (*Client, error) {
	o := newOptions(opts)
	conn, err := dial(ctx, addr, true, o)
	if err != nil {
		return nil, err
	}
	return newClient(conn, o)
}

// NewClient performs the handshake on an existing connection.
//
// The server must greet with 220 and accept EHLO with 250; if it doesn't the
// connection is closed and a *HandshakeError is returned.
func NewClient(conn net.Conn, opts ...Option) (*Client, error) {
	return newClient(conn, newOptions(opts))
}

func newClient(conn net.Conn, o options) (*Client, error) {
	if err := validateLine(o.localName); err != nil {
		conn.Close()
		return nil, err
	}

	dc := deadlineConn{Conn: conn, timeout: o.timeout}
	c := &Client{
		conn:      conn,
		r:         bufio.NewReader(dc),
		w:         bufio.NewWriter(dc),
		localName: o.localName,
		log:       o.log,
	}

	err := c.handshake()
	if err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) handshake() error {
	greet, err := c.readReply()
	if err != nil {
		return &HandshakeError{Err: err}
	}
	if err := greet.Expect(220); err != nil {
		return &HandshakeError{Err: err}
	}
	if err := c.ehlo(); err != nil {
		return &HandshakeError{Err: err}
	}
	return nil
}

// ehlo sends EHLO and replaces the extension map with what the server
// advertised.
func (c *Client) ehlo() error {
	r, err := c.cmd(Ehlo(c.localName))
	if err != nil {
		return err
	}
	if err := r.Expect(250); err != nil {
		return err
	}
	c.ext = parseExtensions(r)
	return nil
}

// Close closes the connection without sending QUIT.
func (c *Client) Close() error {
	return c.conn.Close()
}

// TLSConnectionState returns the client's TLS connection state. The return
// values are their zero values if the connection isn't TLS.
func (c *Client) TLSConnectionState() (state tls.ConnectionState, ok bool) {
	tc, ok := c.conn.(*tls.Conn)
	if !ok {
		return
	}
	return tc.ConnectionState(), true
}

// Authenticated reports if AUTH succeeded on this connection.
func (c *Client) Authenticated() bool { return c.authenticated }

// Send runs a mail transaction: MAIL FROM, RCPT TO for every address in to,
// DATA, and the message content.
//
// The msg should be a CRLF terminated RFC 5322 message, as created by
// sarpush.MailBuilder. Every transaction after the first on this connection
// starts with RSET.
//
// Any unexpected reply aborts the transaction and is returned as *ReplyError.
func (c *Client) Send(from string, to []string, msg []byte) error {
	if len(to) == 0 {
		return errors.New("smtp.Client.Send: no recipients")
	}
	if err := validateLine(from); err != nil {
		return err
	}
	for _, t := range to {
		if err := validateLine(t); err != nil {
			return err
		}
	}

	if c.transactions > 0 {
		if err := c.Reset(); err != nil {
			return err
		}
	}
	c.transactions++

	if err := c.expect(Mail(from), 250); err != nil {
		return err
	}
	for _, t := range to {
		if err := c.expect(Rcpt(t), 250); err != nil {
			return err
		}
	}
	if err := c.expect(Data(), 354); err != nil {
		return err
	}
	return c.expect(DataContent(msg), 250)
}

// Verify checks the validity of an email address on the server.
//
// If Verify returns nil, the address is valid. A non-nil return does not
// necessarily indicate an invalid address; many servers will not verify
// addresses for security reasons.
func (c *Client) Verify(addr string) error {
	if err := validateLine(addr); err != nil {
		return err
	}
	return c.expect(Vrfy(addr), 250)
}

// Reset sends the RSET command to the server, aborting the current mail
// transaction.
func (c *Client) Reset() error {
	return c.expect(Rset(), 250)
}

// Noop sends the NOOP command to the server. It does nothing but check that the
// connection to the server is okay.
func (c *Client) Noop() error {
	return c.expect(Noop(), 250)
}

// Quit sends the QUIT command and closes the connection to the server.
//
// If Quit fails the connection is not closed, Close should be used in this
// case.
func (c *Client) Quit() error {
	if err := c.expect(Quit(), 221); err != nil {
		return err
	}
	return c.conn.Close()
}

// Cmd sends an arbitrary command and returns the reply, whatever the code.
func (c *Client) Cmd(cmd Command) (Reply, error) {
	return c.cmd(cmd)
}

func (c *Client) expect(cmd Command, code int) error {
	r, err := c.cmd(cmd)
	if err != nil {
		return err
	}
	return r.Expect(code)
}

func (c *Client) cmd(cmd Command) (Reply, error) {
	c.logCommand(cmd)
	if _, err := cmd.WriteTo(c.w); err != nil {
		return Reply{}, &IOError{Op: "write", Err: err}
	}
	if err := c.w.Flush(); err != nil {
		return Reply{}, &IOError{Op: "write", Err: err}
	}
	return c.readReply()
}

func (c *Client) readReply() (Reply, error) {
	r, err := ReadReply(c.r)
	if err != nil {
		return Reply{}, err
	}
	for _, l := range strings.Split(r.String(), "\r\n") {
		c.log.Debugf("S: %s", l)
	}
	return r, nil
}

func (c *Client) logCommand(cmd Command) {
	switch cmd.Verb() {
	case "":
		c.log.Debugf("C: <message content>")
	case "AUTH":
		c.log.Debugf("C: AUTH ***")
	default:
		c.log.Debugf("C: %s", cmd)
	}
}

// Send is a high-level API to send an email: it connects to addr, optionally
// authenticates, sends msg, and quits.
//
// The addr can include a port (e.g. "mail.example.com:465") and will default to
// 25 if omitted. Implicit TLS is used for port 465 unless WithImplicitTLS is
// given.
//
// Note: sending "Bcc" messages is accomplished by including the email address
// in the to parameter but not including it in the msg headers.
func Send(ctx context.Context, addr string, from string, to []string, msg []byte, opts ...Option) error {
	o := newOptions(opts)

	useTLS := false
	if o.implicitTLS != nil {
		useTLS = *o.implicitTLS
	} else if _, port, err := net.SplitHostPort(addr); err == nil && port == PortSMTPS {
		useTLS = true
	}

	conn, err := dial(ctx, addr, useTLS, o)
	if err != nil {
		return err
	}
	c, err := newClient(conn, o)
	if err != nil {
		return err
	}
	defer c.Close()

	if o.username != "" {
		if err := c.Auth(o.username, o.password); err != nil {
			return fmt.Errorf("smtp.Send: %w", err)
		}
	}
	if err := c.Send(from, to, msg); err != nil {
		return fmt.Errorf("smtp.Send: %w", err)
	}
	return c.Quit()
}
