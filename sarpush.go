// Package sarpush builds RFC 5322 email messages with a multipart MIME body.
//
// The output of MailBuilder.Build is a CRLF terminated message that can be
// handed to smtp.Client.Send as-is:
//
//	mail, err := sarpush.NewMailBuilder().
//	    From(sarpush.Mailbox{Name: "Notifications", Address: "noreply@example.com"}).
//	    To(sarpush.Mailbox{Address: "user@example.com"}).
//	    Subject("Your build failed").
//	    Body(sarpush.TextBody("Build #42 failed.")).
//	    Build()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = client.Send("noreply@example.com", mail.Recipients(), mail.Bytes())
package sarpush

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Allow swapping out in tests.
var (
	now          = func() time.Time { return time.Now() }
	testBoundary = ""
)

func newBoundary() string {
	if testBoundary != "" {
		return testBoundary
	}
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func isASCII(s string) bool {
	for _, c := range s {
		if c > 0x7f {
			return false
		}
	}
	return true
}
