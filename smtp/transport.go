package smtp

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"strings"
	"time"

	"golang.org/x/net/idna"
)

// Default ports for plain SMTP and implicit TLS (SMTPS).
const (
	PortSMTP  = "25"
	PortSMTPS = "465"
)

// splitAddr splits "host[:port]" and converts an internationalized host to
// its ASCII form. The port is set to defPort if addr has none.
func splitAddr(addr, defPort string) (host, port string, err error) {
	host, port, err = net.SplitHostPort(addr)
	if err != nil {
		var aErr *net.AddrError
		if !errors.As(err, &aErr) || !strings.Contains(aErr.Err, "missing port") {
			return "", "", err
		}
		host, port = strings.TrimSuffix(strings.TrimPrefix(addr, "["), "]"), defPort
	}
	if host == "" {
		return "", "", &net.AddrError{Err: "missing host", Addr: addr}
	}
	if port == "" {
		port = defPort
	}

	if net.ParseIP(host) == nil {
		host, err = idna.Lookup.ToASCII(host)
		if err != nil {
			return "", "", err
		}
	}
	return host, port, nil
}

// deadlineConn sets a new deadline before every read and write.
type deadlineConn struct {
	net.Conn
	timeout time.Duration
}

func (c deadlineConn) Read(p []byte) (int, error) {
	if c.timeout > 0 {
		if err := c.Conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Read(p)
}

func (c deadlineConn) Write(p []byte) (int, error) {
	if c.timeout > 0 {
		if err := c.Conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Write(p)
}

func dial(ctx context.Context, addr string, implicitTLS bool, opt options) (net.Conn, error) {
	defPort := PortSMTP
	if implicitTLS {
		defPort = PortSMTPS
	}
	host, port, err := splitAddr(addr, defPort)
	if err != nil {
		return nil, &ConnectError{Addr: addr, Err: err}
	}
	hostport := net.JoinHostPort(host, port)

	d := &net.Dialer{Timeout: opt.timeout}
	if !implicitTLS {
		conn, err := d.DialContext(ctx, "tcp", hostport)
		if err != nil {
			return nil, &ConnectError{Addr: hostport, Err: err}
		}
		return conn, nil
	}

	cfg := opt.tlsConfig
	if cfg == nil {
		cfg = &tls.Config{}
	}
	if cfg.ServerName == "" {
		cfg = cfg.Clone() // Copy to avoid modifying the argument.
		cfg.ServerName = host
	}
	td := &tls.Dialer{NetDialer: d, Config: cfg}
	conn, err := td.DialContext(ctx, "tcp", hostport)
	if err != nil {
		return nil, &ConnectError{Addr: hostport, Err: err}
	}
	return conn, nil
}
