package dispatch

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// ErrNoRecord is returned when a profile or notification doesn't exist.
var ErrNoRecord = errors.New("dispatch: no record")

// Store persists profiles and notifications.
type Store interface {
	AddProfile(ctx context.Context, p Profile) error
	Profile(ctx context.Context, id string) (Profile, error)

	AddNotification(ctx context.Context, n Notification) error
	Notification(ctx context.Context, id string) (Notification, error)

	// Notifications lists all notifications, oldest first.
	Notifications(ctx context.Context) ([]Notification, error)

	// ClaimPending atomically takes the oldest pending notification and sets
	// it to StatusSending. It returns ErrNoRecord if there's nothing pending.
	ClaimPending(ctx context.Context) (Notification, error)

	UpdateNotification(ctx context.Context, n Notification) error
}

// MemoryStore is a Store that keeps everything in memory.
type MemoryStore struct {
	mu       sync.Mutex
	profiles map[string]Profile
	notify   map[string]Notification
	order    []string // Notification IDs in insertion order.
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a new empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		profiles: make(map[string]Profile),
		notify:   make(map[string]Notification),
	}
}

func (s *MemoryStore) AddProfile(_ context.Context, p Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[p.ID]; ok {
		return errors.Errorf("dispatch.MemoryStore.AddProfile: duplicate ID %q", p.ID)
	}
	s.profiles[p.ID] = p
	return nil
}

func (s *MemoryStore) Profile(_ context.Context, id string) (Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[id]
	if !ok {
		return Profile{}, ErrNoRecord
	}
	return p, nil
}

func (s *MemoryStore) AddNotification(_ context.Context, n Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.notify[n.ID]; ok {
		return errors.Errorf("dispatch.MemoryStore.AddNotification: duplicate ID %q", n.ID)
	}
	s.notify[n.ID] = n
	s.order = append(s.order, n.ID)
	return nil
}

func (s *MemoryStore) Notification(_ context.Context, id string) (Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notify[id]
	if !ok {
		return Notification{}, ErrNoRecord
	}
	return n, nil
}

func (s *MemoryStore) Notifications(context.Context) ([]Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := make([]Notification, 0, len(s.order))
	for _, id := range s.order {
		list = append(list, s.notify[id])
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
	return list, nil
}

func (s *MemoryStore) ClaimPending(context.Context) (Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.order {
		n := s.notify[id]
		if n.State.Status != StatusPending {
			continue
		}
		n.State = State{Status: StatusSending}
		n.UpdatedAt = now()
		s.notify[id] = n
		return n, nil
	}
	return Notification{}, ErrNoRecord
}

func (s *MemoryStore) UpdateNotification(_ context.Context, n Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.notify[n.ID]; !ok {
		return ErrNoRecord
	}
	n.UpdatedAt = now()
	s.notify[n.ID] = n
	return nil
}
