package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Service delivers pending notifications with a pool of workers.
type Service struct {
	store   Store
	sender  Sender
	log     logrus.FieldLogger
	workers int
	timeout time.Duration
	poll    time.Duration

	signal chan struct{}
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// Option configures a Service.
type Option func(*Service)

// WithWorkers sets the number of concurrent workers; the default is 1.
func WithWorkers(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithLogger sets the logger; the default is the logrus standard logger.
func WithLogger(l logrus.FieldLogger) Option { return func(s *Service) { s.log = l } }

// WithSendTimeout limits the time for delivering a single notification.
func WithSendTimeout(d time.Duration) Option { return func(s *Service) { s.timeout = d } }

// WithPollInterval also checks the store for pending notifications every d,
// for notifications added by other processes.
func WithPollInterval(d time.Duration) Option { return func(s *Service) { s.poll = d } }

// New creates a new Service; call Start to start the workers.
func New(store Store, sender Sender, opts ...Option) *Service {
	s := &Service{
		store:   store,
		sender:  sender,
		log:     logrus.StandardLogger(),
		workers: 1,
	}
	for _, o := range opts {
		o(s)
	}
	s.signal = make(chan struct{}, s.workers)
	return s
}

// Start the workers. Notifications that are already pending are sent right
// away.
func (s *Service) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go func(i int) {
			defer s.wg.Done()
			s.worker(ctx, s.log.WithField("worker", i))
		}(i)
	}
	s.Notify()
}

// Stop the workers and wait for them to finish.
func (s *Service) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// Enqueue stores a new notification and wakes up a worker to send it.
func (s *Service) Enqueue(ctx context.Context, n Notification) error {
	if _, err := s.store.Profile(ctx, n.SenderProfile); err != nil {
		if errors.Is(err, ErrNoRecord) {
			return newError(ErrMissingProfile, err)
		}
		return newError(ErrStore, err)
	}
	if err := s.store.AddNotification(ctx, n); err != nil {
		return newError(ErrStore, err)
	}
	s.Notify()
	return nil
}

// Notify wakes up a worker to check for pending notifications. It never
// blocks.
func (s *Service) Notify() {
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *Service) worker(ctx context.Context, l logrus.FieldLogger) {
	var tick <-chan time.Time
	if s.poll > 0 {
		t := time.NewTicker(s.poll)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.signal:
		case <-tick:
		}
		for ctx.Err() == nil && s.sendNext(ctx, l) {
		}
	}
}

// sendNext sends the oldest pending notification and stores the result. It
// reports if there was anything to send.
func (s *Service) sendNext(ctx context.Context, l logrus.FieldLogger) bool {
	n, err := s.store.ClaimPending(ctx)
	if errors.Is(err, ErrNoRecord) {
		return false
	}
	if err != nil {
		l.WithError(err).Error("claiming pending notification")
		return false
	}
	l = l.WithFields(logrus.Fields{"id": n.ID, "to": n.Mail.To})

	err = s.send(ctx, n)
	if err != nil {
		l.WithError(err).Warn("failed to send an email notification")
		n.State = errorState(err)
	} else {
		l.Info("sent email notification")
		n.State = State{Status: StatusSent}
	}

	// Store the result even if we're stopping.
	if err := s.store.UpdateNotification(context.WithoutCancel(ctx), n); err != nil {
		l.WithError(err).Error("updating notification")
	}
	return true
}

func (s *Service) send(ctx context.Context, n Notification) error {
	p, err := s.store.Profile(ctx, n.SenderProfile)
	if err != nil {
		if errors.Is(err, ErrNoRecord) {
			return newError(ErrMissingProfile, err)
		}
		return newError(ErrStore, err)
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	return s.sender.Send(ctx, p, n)
}
