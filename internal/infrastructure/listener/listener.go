package listener

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/semmidev/dbguardian/internal/domain"
	"github.com/semmidev/dbguardian/internal/infrastructure/metrics"
)

const (
	DefaultReconnectDelay = 5 * time.Second
	DefaultKeepalive      = 60 * time.Second
)

var errChannelClosed = errors.New("notification channel closed")

type Logger interface {
	Debugf(template string, args ...interface{})
	Infof(template string, args ...interface{})
	Warnf(template string, args ...interface{})
	Errorf(template string, args ...interface{})
}

type Refresher interface {
	Refresh(ctx context.Context) bool
}

// RefresherFunc adapts a plain function to Refresher.
type RefresherFunc func(ctx context.Context) bool

func (f RefresherFunc) Refresh(ctx context.Context) bool { return f(ctx) }

type Options struct {
	Channel        string
	ReconnectDelay time.Duration
	Keepalive      time.Duration
	// PingTimeout bounds each keepalive ping. Zero means Keepalive.
	PingTimeout time.Duration
}

// Listener keeps a subscription to the schedule change channel open and asks
// the dispatcher to rebuild its triggers whenever a change arrives.
type Listener struct {
	source    domain.NotificationSource
	refresher Refresher
	logger    Logger
	opts      Options

	mu      sync.Mutex
	running bool
	done    chan struct{}

	subscribed atomic.Bool
}

func New(source domain.NotificationSource, refresher Refresher, logger Logger, opts Options) *Listener {
	if opts.Channel == "" {
		opts.Channel = domain.ScheduleChannel
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.Keepalive <= 0 {
		opts.Keepalive = DefaultKeepalive
	}
	if opts.PingTimeout <= 0 {
		opts.PingTimeout = opts.Keepalive
	}

	return &Listener{
		source:    source,
		refresher: refresher,
		logger:    logger,
		opts:      opts,
	}
}

// Start launches the listen loop in the background. It returns false when a
// loop is already running.
func (l *Listener) Start(ctx context.Context) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running {
		l.logger.Debugf("Schedule listener already running")
		return false
	}

	l.running = true
	l.done = make(chan struct{})
	go l.run(ctx, l.done)

	l.logger.Infof("Schedule listener started on channel %q", l.opts.Channel)
	return true
}

// Running reports whether the listen loop is alive.
func (l *Listener) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// Subscribed reports whether a subscription is currently open.
func (l *Listener) Subscribed() bool {
	return l.subscribed.Load()
}

// Wait blocks until the loop started by Start has exited.
func (l *Listener) Wait() {
	l.mu.Lock()
	done := l.done
	l.mu.Unlock()

	if done != nil {
		<-done
	}
}

func (l *Listener) run(ctx context.Context, done chan struct{}) {
	defer func() {
		l.mu.Lock()
		l.running = false
		l.mu.Unlock()
		close(done)
	}()

	first := true
	for {
		if !first {
			metrics.ListenerReconnects.Inc()
		}

		err := l.listen(ctx, !first)
		if ctx.Err() != nil {
			l.logger.Infof("Schedule listener stopped")
			return
		}

		first = false
		l.logger.Errorf("Database listener error: %v, reconnecting in %s", err, l.opts.ReconnectDelay)

		select {
		case <-ctx.Done():
			l.logger.Infof("Schedule listener stopped")
			return
		case <-time.After(l.opts.ReconnectDelay):
		}
	}
}

// listen holds one subscription until it fails or ctx ends. After an outage
// it resyncs once subscribed, since events may have been missed.
func (l *Listener) listen(ctx context.Context, resync bool) error {
	sub, err := l.source.Subscribe(ctx, l.opts.Channel)
	if err != nil {
		return err
	}
	l.subscribed.Store(true)
	defer func() {
		l.subscribed.Store(false)
		if err := sub.Close(); err != nil {
			l.logger.Warnf("Failed to close subscription: %v", err)
		}
	}()

	l.logger.Infof("Listening for schedule changes...")
	if resync {
		metrics.ChangeEvents.WithLabelValues("resync").Inc()
		l.refresh(ctx)
	}

	keepalive := time.NewTicker(l.opts.Keepalive)
	defer keepalive.Stop()

	notifications := sub.Notifications()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case n, ok := <-notifications:
			if !ok {
				return errChannelClosed
			}
			l.handle(ctx, n)

		case <-keepalive.C:
			if err := l.ping(ctx, sub); err != nil {
				return err
			}
		}
	}
}

// ping gives up after PingTimeout even if the subscription ignores ctx. A
// ping still in flight is released when the caller closes sub.
func (l *Listener) ping(ctx context.Context, sub domain.Subscription) error {
	ctx, cancel := context.WithTimeout(ctx, l.opts.PingTimeout)
	defer cancel()

	result := make(chan error, 1)
	go func() {
		result <- sub.Ping(ctx)
	}()

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return fmt.Errorf("keepalive ping: %w", ctx.Err())
	}
}

func (l *Listener) handle(ctx context.Context, n *domain.Notification) {
	if n == nil {
		// Reconnected underneath us; anything may have been missed.
		l.logger.Infof("Listener connection re-established, refreshing schedules")
		metrics.ChangeEvents.WithLabelValues("resync").Inc()
		l.refresh(ctx)
		return
	}

	l.logger.Infof("Received notification: %s", n.Payload)

	ev, err := domain.ParseChangeEvent(n.Payload)
	if err != nil {
		l.logger.Errorf("Failed to parse notification payload: %v", err)
		metrics.ChangeEvents.WithLabelValues("malformed").Inc()
		return
	}

	metrics.ChangeEvents.WithLabelValues(string(ev.Action)).Inc()
	l.logger.Infof("[%s] Schedule %s: ID %d", ev.DatabaseName, ev.Action, ev.ScheduleID)
	l.refresh(ctx)
}

func (l *Listener) refresh(ctx context.Context) {
	if !l.refresher.Refresh(ctx) {
		l.logger.Errorf("Failed to refresh scheduler on notification")
	}
}
