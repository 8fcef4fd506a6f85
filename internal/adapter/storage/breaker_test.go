package storage

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/semmidev/dbguardian/internal/domain"
)

type flakyStore struct {
	calls atomic.Int32
	err   error
}

func (f *flakyStore) Put(ctx context.Context, key, localPath string) error {
	f.calls.Add(1)
	return f.err
}

func (f *flakyStore) Stat(ctx context.Context, key string) (domain.ObjectInfo, error) {
	f.calls.Add(1)
	if f.err != nil {
		return domain.ObjectInfo{}, f.err
	}
	return domain.ObjectInfo{Key: key, Size: 42}, nil
}

func (f *flakyStore) List(ctx context.Context, prefix string) ([]domain.ObjectInfo, error) {
	f.calls.Add(1)
	return nil, f.err
}

func (f *flakyStore) Remove(ctx context.Context, key string) error {
	f.calls.Add(1)
	return f.err
}

func (f *flakyStore) Location(key string) string { return "s3://" + key }

func TestBreakerStore(t *testing.T) {
	log := zap.NewNop().Sugar()

	Convey("Given a breaker over a store that is down", t, func() {
		inner := &flakyStore{err: errors.New("dial tcp minio:9000: connection refused")}
		b := NewBreaker("test-down", inner, 3, time.Hour, log)
		ctx := context.Background()

		Convey("It should open after three consecutive failures", func() {
			for i := 0; i < 3; i++ {
				So(b.Put(ctx, "shop/a.dump", "/tmp/a.dump"), ShouldNotBeNil)
			}
			So(b.State(), ShouldEqual, gobreaker.StateOpen)

			err := b.Put(ctx, "shop/a.dump", "/tmp/a.dump")
			So(errors.Is(err, gobreaker.ErrOpenState), ShouldBeTrue)
			So(inner.calls.Load(), ShouldEqual, int32(3))
		})
	})

	Convey("Given a breaker over a healthy store", t, func() {
		inner := &flakyStore{}
		b := NewBreaker("test-up", inner, 3, time.Hour, log)
		ctx := context.Background()

		Convey("Results should pass through", func() {
			info, err := b.Stat(ctx, "shop/a.dump")
			So(err, ShouldBeNil)
			So(info.Size, ShouldEqual, int64(42))
			So(b.Location("shop/a.dump"), ShouldEqual, "s3://shop/a.dump")
		})

		Convey("Missing objects should not count as failures", func() {
			inner.err = fmt.Errorf("shop/a.dump: %w", domain.ErrObjectNotFound)
			for i := 0; i < 5; i++ {
				_, err := b.Stat(ctx, "shop/a.dump")
				So(errors.Is(err, domain.ErrObjectNotFound), ShouldBeTrue)
			}
			So(b.State(), ShouldEqual, gobreaker.StateClosed)
		})
	})
}
