package smtp

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/emersion/go-sasl"
)

// Mechanism is a SASL authentication mechanism.
type Mechanism int

// Known mechanisms.
const (
	MechanismPlain Mechanism = iota + 1
	MechanismLogin
)

func (m Mechanism) String() string {
	switch m {
	case MechanismPlain:
		return sasl.Plain
	case MechanismLogin:
		return sasl.Login
	}
	return fmt.Sprintf("Mechanism(%d)", int(m))
}

func parseMechanism(s string) (Mechanism, bool) {
	switch strings.ToUpper(s) {
	case sasl.Plain:
		return MechanismPlain, true
	case sasl.Login:
		return MechanismLogin, true
	}
	return 0, false
}

// ErrMechanismNotImplemented is returned when authenticating with a
// mechanism that is recognized but can't be used.
var ErrMechanismNotImplemented = errors.New("smtp: authentication mechanism not implemented")

// AuthExtension is the AUTH extension from RFC 4954.
type AuthExtension struct {
	c     *Client
	mechs []Mechanism
}

var _ Extension = (*AuthExtension)(nil)

// Unknown mechanisms are ignored.
func newAuthExtension(c *Client, params []string) Extension {
	a := &AuthExtension{c: c}
	for _, p := range params {
		if m, ok := parseMechanism(p); ok {
			a.mechs = append(a.mechs, m)
		}
	}
	return a
}

func (a *AuthExtension) Name() string { return "AUTH" }

// Mechanisms returns the advertised mechanisms this package knows about.
func (a *AuthExtension) Mechanisms() []Mechanism { return a.mechs }

// Supports reports if the server advertised m.
func (a *AuthExtension) Supports(m Mechanism) bool {
	for _, mm := range a.mechs {
		if mm == m {
			return true
		}
	}
	return false
}

// Plain authenticates with the PLAIN mechanism from RFC 4616. The authorization
// identity may be empty to act as the user.
//
// The server must reply with 235; any other reply is returned as *ReplyError.
func (a *AuthExtension) Plain(authzid, authcid, password string) error {
	_, ir, err := sasl.NewPlainClient(authzid, authcid, password).Start()
	if err != nil {
		return fmt.Errorf("smtp.AuthExtension.Plain: %w", err)
	}

	r, err := a.c.cmd(Auth(sasl.Plain, base64.StdEncoding.EncodeToString(ir)))
	if err != nil {
		return err
	}
	if err := r.Expect(235); err != nil {
		return err
	}
	a.c.authenticated = true
	return nil
}

// Authenticate with mechanism m.
func (a *AuthExtension) Authenticate(m Mechanism, authzid, authcid, password string) error {
	switch m {
	case MechanismPlain:
		return a.Plain(authzid, authcid, password)
	case MechanismLogin:
		return fmt.Errorf("smtp.AuthExtension.Authenticate: %s: %w", m, ErrMechanismNotImplemented)
	}
	return fmt.Errorf("smtp.AuthExtension.Authenticate: unknown mechanism %s", m)
}

// Auth authenticates with PLAIN, using the username as authentication identity.
//
// It returns *ExtensionNotSupportedError if the server doesn't support AUTH.
func (c *Client) Auth(username, password string) error {
	ext, err := c.Extension("AUTH")
	if err != nil {
		return err
	}
	return ext.(*AuthExtension).Plain("", username, password)
}
