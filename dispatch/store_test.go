package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.Profile(ctx, "p1")
	assert.ErrorIs(t, err, ErrNoRecord)

	p := Profile{ID: "p1", SMTPAddress: "mail.example.com", EmailAddress: "me@example.com"}
	require.NoError(t, s.AddProfile(ctx, p))
	assert.Error(t, s.AddProfile(ctx, p))
	have, err := s.Profile(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, p, have)

	_, err = s.ClaimPending(ctx)
	assert.ErrorIs(t, err, ErrNoRecord)

	n1 := NewNotification(p, MailContent{To: "a@example.com"})
	n2 := NewNotification(p, MailContent{To: "b@example.com"})
	n2.CreatedAt = n1.CreatedAt.Add(time.Second)
	require.NoError(t, s.AddNotification(ctx, n1))
	require.NoError(t, s.AddNotification(ctx, n2))
	assert.Error(t, s.AddNotification(ctx, n1))

	list, err := s.Notifications(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, n1.ID, list[0].ID)
	assert.Equal(t, n2.ID, list[1].ID)

	c, err := s.ClaimPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, n1.ID, c.ID)
	assert.Equal(t, StatusSending, c.State.Status)

	c.State = State{Status: StatusSent}
	require.NoError(t, s.UpdateNotification(ctx, c))
	have1, err := s.Notification(ctx, n1.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSent, have1.State.Status)

	c, err = s.ClaimPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, n2.ID, c.ID)

	_, err = s.ClaimPending(ctx)
	assert.ErrorIs(t, err, ErrNoRecord)

	_, err = s.Notification(ctx, "nope")
	assert.ErrorIs(t, err, ErrNoRecord)
	assert.ErrorIs(t, s.UpdateNotification(ctx, Notification{ID: "nope"}), ErrNoRecord)
}

func TestMemoryStoreClaimConcurrent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	p := Profile{ID: "p1"}
	for i := 0; i < 50; i++ {
		require.NoError(t, s.AddNotification(ctx, NewNotification(p, MailContent{})))
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		claimed = make(map[string]int)
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				n, err := s.ClaimPending(ctx)
				if err != nil {
					return
				}
				mu.Lock()
				claimed[n.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, claimed, 50)
	for id, c := range claimed {
		assert.Equal(t, 1, c, id)
	}
}
