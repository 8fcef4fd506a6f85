package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/semmidev/dbguardian/internal/domain"
)

const (
	minReconnectInterval = 2 * time.Second
	maxReconnectInterval = time.Minute
)

var errSubscriptionClosed = errors.New("subscription closed")

type Logger interface {
	Infof(template string, args ...interface{})
	Warnf(template string, args ...interface{})
}

// Notifier opens dedicated LISTEN connections. It is separate from the
// pooled Store connection because a listening session cannot be shared.
type Notifier struct {
	dsn    string
	logger Logger
}

func NewNotifier(dsn string, logger Logger) *Notifier {
	return &Notifier{dsn: dsn, logger: logger}
}

func (n *Notifier) Subscribe(ctx context.Context, channel string) (domain.Subscription, error) {
	l := pq.NewListener(n.dsn, minReconnectInterval, maxReconnectInterval, n.event)

	listened := make(chan error, 1)
	go func() {
		listened <- l.Listen(channel)
	}()

	select {
	case err := <-listened:
		if err != nil {
			l.Close()
			return nil, fmt.Errorf("listen on %s: %w", channel, err)
		}
	case <-ctx.Done():
		l.Close()
		return nil, ctx.Err()
	}

	// Listen succeeds on a dead connection and waits for the reconnect, so
	// confirm there is a session before reporting the subscription.
	if err := l.Ping(); err != nil {
		l.Close()
		return nil, fmt.Errorf("listen on %s: %w", channel, err)
	}

	sub := &subscription{
		listener: l,
		out:      make(chan *domain.Notification, 16),
		done:     make(chan struct{}),
	}
	go sub.forward()

	return sub, nil
}

func (n *Notifier) event(ev pq.ListenerEventType, err error) {
	if n.logger == nil {
		return
	}
	switch ev {
	case pq.ListenerEventConnected:
		n.logger.Infof("Listening for schedule changes")
	case pq.ListenerEventDisconnected:
		n.logger.Warnf("Notification connection lost: %v", err)
	case pq.ListenerEventReconnected:
		n.logger.Infof("Notification connection re-established")
	case pq.ListenerEventConnectionAttemptFailed:
		n.logger.Warnf("Notification reconnect failed: %v", err)
	}
}

type subscription struct {
	listener *pq.Listener
	out      chan *domain.Notification
	done     chan struct{}
	once     sync.Once
}

// forward relays notifications until the listener closes. pq delivers nil
// after a reconnect, which is passed through as the resync marker.
func (s *subscription) forward() {
	defer close(s.out)
	for n := range s.listener.Notify {
		var msg *domain.Notification
		if n != nil {
			msg = &domain.Notification{Channel: n.Channel, Payload: n.Extra}
		}
		select {
		case s.out <- msg:
		case <-s.done:
			return
		}
	}
}

func (s *subscription) Notifications() <-chan *domain.Notification {
	return s.out
}

// Ping round-trips an empty query on the listen connection. pq offers no
// deadline for it, so ctx is honoured by abandoning the call; Close releases
// it.
func (s *subscription) Ping(ctx context.Context) error {
	result := make(chan error, 1)
	go func() {
		result <- s.listener.Ping()
	}()

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return errSubscriptionClosed
	}
}

func (s *subscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.listener.Close()
	})
	return err
}
