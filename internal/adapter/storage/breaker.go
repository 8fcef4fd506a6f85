package storage

import (
	"context"
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/semmidev/dbguardian/internal/domain"
	"github.com/semmidev/dbguardian/internal/infrastructure/metrics"
)

type Logger interface {
	Infof(template string, args ...interface{})
	Warnf(template string, args ...interface{})
}

// BreakerStore guards an object store with a circuit breaker. Once the store
// has failed threshold times in a row calls are rejected immediately until
// openTimeout passes, so an outage costs one fast error instead of a network
// timeout per call.
type BreakerStore struct {
	inner domain.ObjectStore
	cb    *gobreaker.CircuitBreaker[any]
}

func NewBreaker(name string, inner domain.ObjectStore, threshold uint32, openTimeout time.Duration, logger Logger) *BreakerStore {
	if threshold == 0 {
		threshold = 3
	}

	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		// A missing object is an answer, not an outage.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, domain.ErrObjectNotFound) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warnf("Circuit breaker %s: %s -> %s", name, from, to)
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateValue(to))
		},
	})

	return &BreakerStore{inner: inner, cb: cb}
}

func stateValue(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func (b *BreakerStore) State() gobreaker.State {
	return b.cb.State()
}

func (b *BreakerStore) Put(ctx context.Context, key string, localPath string) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, b.inner.Put(ctx, key, localPath)
	})
	return err
}

func (b *BreakerStore) Stat(ctx context.Context, key string) (domain.ObjectInfo, error) {
	res, err := b.cb.Execute(func() (any, error) {
		return b.inner.Stat(ctx, key)
	})
	if err != nil {
		return domain.ObjectInfo{}, err
	}
	return res.(domain.ObjectInfo), nil
}

func (b *BreakerStore) List(ctx context.Context, prefix string) ([]domain.ObjectInfo, error) {
	res, err := b.cb.Execute(func() (any, error) {
		return b.inner.List(ctx, prefix)
	})
	if err != nil {
		return nil, err
	}
	objects, _ := res.([]domain.ObjectInfo)
	return objects, nil
}

func (b *BreakerStore) Remove(ctx context.Context, key string) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, b.inner.Remove(ctx, key)
	})
	return err
}

func (b *BreakerStore) Location(key string) string {
	return b.inner.Location(key)
}
