package dispatch

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SardineFish/sar-push-service/smtp"
)

func TestNewNotification(t *testing.T) {
	t.Cleanup(func() { now = func() time.Time { return time.Now().UTC() } })
	fixed := time.Date(2020, 6, 1, 12, 0, 0, 0, time.UTC)
	now = func() time.Time { return fixed }

	p := Profile{ID: "p1", EmailAddress: "noreply@example.com"}
	m := MailContent{To: "user@example.com", Subject: "Hi", ContentType: "text/plain", Body: "Hello"}
	n := NewNotification(p, m)

	assert.NotEmpty(t, n.ID)
	assert.Equal(t, "p1", n.SenderProfile)
	assert.Equal(t, m, n.Mail)
	assert.Equal(t, State{Status: StatusPending}, n.State)
	assert.Equal(t, fixed, n.CreatedAt)
	assert.Equal(t, fixed, n.UpdatedAt)

	id, addr, ok := strings.Cut(n.MessageID, ".")
	require.True(t, ok, n.MessageID)
	assert.Len(t, id, 36)
	assert.Equal(t, "example.com", addr[strings.Index(addr, "@")+1:])
	assert.True(t, strings.HasSuffix(n.MessageID, ".noreply@example.com"))

	assert.NotEqual(t, n.MessageID, NewNotification(p, m).MessageID)
}

func TestErrorSummary(t *testing.T) {
	replyErr := &smtp.ReplyError{
		Reply:    smtp.Reply{Code: 550, TextLines: []string{"5.1.1 No such user", "try again"}},
		Expected: 250,
	}

	tests := []struct {
		err  *Error
		want string
	}{
		{newError(ErrConnect, errors.New("x")), "Cannot connect to SMTP Server"},
		{newError(ErrAuth, replyErr), "SMTP Authorization failed"},
		{newError(ErrSend, replyErr), "Unexpected SMTP reply: 550: 5.1.1 No such user\r\ntry again"},
		{newError(ErrSend, fmt.Errorf("wrapped: %w", replyErr)), "Unexpected SMTP reply: 550: 5.1.1 No such user\r\ntry again"},
		{newError(ErrSend, errors.New("x")), "Internal SMTP error"},
		{newError(ErrMissingProfile, ErrNoRecord), "Missing service profile"},
		{newError(ErrStore, errors.New("x")), "Internal db error"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestErrorState(t *testing.T) {
	s := errorState(newError(ErrMissingProfile, ErrNoRecord))
	assert.Equal(t, StatusError, s.Status)
	assert.Equal(t, "Missing service profile", s.Summary)
	assert.Contains(t, s.Detail, "dispatch: no record")
	assert.Contains(t, s.Detail, "dispatch_test.go", "no stack trace in detail")

	s = errorState(fmt.Errorf("wrapped: %w", newError(ErrAuth, errors.New("535"))))
	assert.Equal(t, "SMTP Authorization failed", s.Summary)

	s = errorState(errors.New("plain error"))
	assert.Equal(t, "Internal SMTP error", s.Summary)
	assert.Contains(t, s.Detail, "plain error")

	var dErr *Error
	require.True(t, errors.As(fmt.Errorf("x: %w", newError(ErrStore, ErrNoRecord)), &dErr))
	assert.True(t, errors.Is(dErr, ErrNoRecord))
}
