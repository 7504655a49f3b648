package sarpush

import (
	"fmt"
	"mime"
	"net/mail"
	"strings"
)

// Mailbox is an email address with an optional display name.
type Mailbox struct {
	Name    string
	Address string
}

// ParseMailbox parses a single RFC 5322 address, such as
// "Martin <martin@example.com>" or "martin@example.com".
func ParseMailbox(s string) (Mailbox, error) {
	a, err := mail.ParseAddress(s)
	if err != nil {
		return Mailbox{}, fmt.Errorf("sarpush.ParseMailbox: %w", err)
	}
	return Mailbox{Name: a.Name, Address: a.Address}, nil
}

// String formats the mailbox as `"name" <address>`, or `<address>` if there is
// no name. Non-ASCII names are Q-encoded.
func (m Mailbox) String() string {
	if m.Name == "" {
		return "<" + m.Address + ">"
	}

	name := m.Name
	if !isASCII(name) {
		name = mime.QEncoding.Encode("utf-8", name)
	} else {
		name = `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(name) + `"`
	}
	return name + " <" + m.Address + ">"
}

func mailboxList(list []Mailbox) string {
	s := make([]string, len(list))
	for i := range list {
		s[i] = list[i].String()
	}
	return strings.Join(s, ", ")
}
