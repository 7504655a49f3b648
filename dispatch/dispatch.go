// Package dispatch stores email notifications and delivers them over SMTP in
// the background.
//
// Notifications are created with NewNotification, saved with Service.Enqueue
// (or the AMQP Consumer), and sent by a pool of workers using the sender
// Profile the notification refers to. The result of every attempt is written
// back to the Store as the notification's State.
package dispatch

import (
	"time"

	"github.com/google/uuid"
)

// Profile is an SMTP account used to send notifications.
type Profile struct {
	ID           string `json:"id"`
	SMTPAddress  string `json:"smtp_address"` // host[:port]
	TLS          bool   `json:"tls"`          // Use implicit TLS.
	Username     string `json:"username"`     // AUTH PLAIN is skipped if empty.
	Password     string `json:"password"`
	EmailAddress string `json:"email_address"`
	Name         string `json:"name"`
}

// MailContent is the message to send.
type MailContent struct {
	To          string `json:"to"`
	Subject     string `json:"subject"`
	ContentType string `json:"content_type"`
	Body        string `json:"body"`
}

// Status of a notification.
type Status string

// Notification statuses.
const (
	StatusPending Status = "pending"
	StatusSending Status = "sending"
	StatusSent    Status = "sent"
	StatusError   Status = "error"
)

// State is the delivery state of a notification.
//
// For StatusError the Summary is a short description that's safe to show to
// users, and Detail contains the full error with stack trace.
type State struct {
	Status  Status `json:"status"`
	Summary string `json:"summary,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

// Notification is a single email to deliver.
type Notification struct {
	ID            string      `json:"id"`
	MessageID     string      `json:"message_id"`
	State         State       `json:"state"`
	SenderProfile string      `json:"sender_profile"`
	Mail          MailContent `json:"mail"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

var now = func() time.Time { return time.Now().UTC() }

// NewNotification creates a new pending notification sent from the profile.
//
// The Message-ID is "<random uuid>.<sender address>".
func NewNotification(p Profile, mail MailContent) Notification {
	t := now()
	return Notification{
		ID:            uuid.NewString(),
		MessageID:     uuid.NewString() + "." + p.EmailAddress,
		State:         State{Status: StatusPending},
		SenderProfile: p.ID,
		Mail:          mail,
		CreatedAt:     t,
		UpdatedAt:     t,
	}
}
