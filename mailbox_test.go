package sarpush

import (
	"testing"

	"zgo.at/ztest"
)

func TestMailboxString(t *testing.T) {
	tests := []struct {
		in   Mailbox
		want string
	}{
		{Mailbox{Address: "a@example.com"}, "<a@example.com>"},
		{Mailbox{Name: "Martin", Address: "a@example.com"}, `"Martin" <a@example.com>`},
		{Mailbox{Name: `a "b" \c`, Address: "a@example.com"}, `"a \"b\" \\c" <a@example.com>`},
		{Mailbox{Name: "Ünïcode", Address: "a@example.com"}, "=?utf-8?q?=C3=9Cn=C3=AFcode?= <a@example.com>"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if have := tt.in.String(); have != tt.want {
				t.Errorf("\nhave: %s\nwant: %s", have, tt.want)
			}
		})
	}

	if have, want := mailboxList([]Mailbox{{Address: "a@a"}, {Name: "b", Address: "b@b"}}), `<a@a>, "b" <b@b>`; have != want {
		t.Errorf("\nhave: %s\nwant: %s", have, want)
	}
}

func TestParseMailbox(t *testing.T) {
	tests := []struct {
		in      string
		want    Mailbox
		wantErr string
	}{
		{"a@example.com", Mailbox{Address: "a@example.com"}, ""},
		{"<a@example.com>", Mailbox{Address: "a@example.com"}, ""},
		{"Martin <a@example.com>", Mailbox{Name: "Martin", Address: "a@example.com"}, ""},
		{`"Sär Push" <a@example.com>`, Mailbox{Name: "Sär Push", Address: "a@example.com"}, ""},
		{"=?utf-8?q?=C3=9Cn=C3=AFcode?= <a@example.com>", Mailbox{Name: "Ünïcode", Address: "a@example.com"}, ""},
		{"nope", Mailbox{}, "sarpush.ParseMailbox: mail: missing '@' or angle-addr"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			have, err := ParseMailbox(tt.in)
			if !ztest.ErrorContains(err, tt.wantErr) {
				t.Fatalf("wrong error\nhave: %v\nwant: %s", err, tt.wantErr)
			}
			if have != tt.want {
				t.Errorf("\nhave: %#v\nwant: %#v", have, tt.want)
			}
		})
	}
}
