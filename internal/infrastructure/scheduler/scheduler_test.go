package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	"go.uber.org/zap"

	"github.com/semmidev/dbguardian/internal/domain"
)

type fakeLister struct {
	mu        sync.Mutex
	schedules []domain.Schedule
	err       error
	calls     int
}

func (f *fakeLister) ListEnabledSchedules(ctx context.Context) ([]domain.Schedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([]domain.Schedule, 0, len(f.schedules))
	for _, s := range f.schedules {
		if s.Enabled {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeLister) set(schedules ...domain.Schedule) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.schedules = schedules
	f.err = nil
}

func (f *fakeLister) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// slowLister takes its snapshot immediately but holds the first call until
// release is closed, like a query whose reply is delayed on the wire.
type slowLister struct {
	*fakeLister
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (s *slowLister) ListEnabledSchedules(ctx context.Context) ([]domain.Schedule, error) {
	out, err := s.fakeLister.ListEnabledSchedules(ctx)
	first := false
	s.once.Do(func() { first = true })
	if first {
		close(s.entered)
		<-s.release
	}
	return out, err
}

func intervalSchedule(id int64, db string, minutes int) domain.Schedule {
	s := domain.Schedule{ID: id, DatabaseName: db, Kind: domain.ScheduleInterval, Enabled: true}
	if minutes > 0 {
		s.IntervalMinutes = &minutes
	}
	return s
}

func cronSchedule(id int64, db, expr string) domain.Schedule {
	return domain.Schedule{ID: id, DatabaseName: db, Kind: domain.ScheduleCron, CronExpression: &expr, Enabled: true}
}

func ids(m map[int64]TriggerEntry) []int64 {
	out := make([]int64, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	return out
}

func TestDispatcherRefresh(t *testing.T) {
	log := zap.NewNop().Sugar()

	Convey("Given a dispatcher over a schedule store", t, func() {
		store := &fakeLister{}
		noop := func(context.Context, TriggerEntry, time.Time) {}
		d := New(store, noop, log, time.UTC)

		disabled := intervalSchedule(9, "archive", 30)
		disabled.Enabled = false
		store.set(
			intervalSchedule(1, "shop", 15),
			cronSchedule(2, "crm", "0 3 * * *"),
			intervalSchedule(7, "billing", 0),
			disabled,
		)

		Convey("When refreshed", func() {
			So(d.Refresh(context.Background()), ShouldBeTrue)
			active := d.ActiveTriggers()

			Convey("Exactly the enabled schedules should have triggers", func() {
				So(ids(active), ShouldHaveLength, 3)
				So(active, ShouldContainKey, int64(1))
				So(active, ShouldContainKey, int64(2))
				So(active, ShouldContainKey, int64(7))
				So(active, ShouldNotContainKey, int64(9))
			})

			Convey("Rules should follow the schedule kind", func() {
				So(active[1].Rule.Spec(), ShouldEqual, "@every 15m0s")
				So(active[2].Rule.Spec(), ShouldEqual, "0 3 * * *")
				So(active[2].DatabaseName, ShouldEqual, "crm")
			})

			Convey("An interval schedule without a length should default to 60 minutes", func() {
				So(active[7].Rule.Spec(), ShouldEqual, "@every 1h0m0s")
			})

			Convey("A second refresh should change nothing", func() {
				before := make(map[int64]engineEntry)
				for id, e := range d.entries {
					before[id] = e
				}

				So(d.Refresh(context.Background()), ShouldBeTrue)
				So(d.ActiveTriggers(), ShouldResemble, active)
				So(d.entries, ShouldResemble, before)
			})

			Convey("Deleting a schedule should drop its trigger on the next refresh", func() {
				store.set(intervalSchedule(1, "shop", 15), cronSchedule(2, "crm", "0 3 * * *"))

				So(d.Refresh(context.Background()), ShouldBeTrue)
				So(d.ActiveTriggers(), ShouldNotContainKey, int64(7))
				So(d.entries, ShouldNotContainKey, int64(7))
				So(d.cron.Entries(), ShouldHaveLength, 2)
			})

			Convey("Changing a rule should replace only that engine entry", func() {
				kept := d.entries[1].id
				replaced := d.entries[2].id
				store.set(
					intervalSchedule(1, "shop", 15),
					cronSchedule(2, "crm", "30 4 * * *"),
					intervalSchedule(7, "billing", 0),
				)

				So(d.Refresh(context.Background()), ShouldBeTrue)
				So(d.entries[1].id, ShouldEqual, kept)
				So(d.entries[2].id, ShouldNotEqual, replaced)
				So(d.ActiveTriggers()[2].Rule.Spec(), ShouldEqual, "30 4 * * *")
			})

			Convey("A failed read should keep the previous mapping", func() {
				store.fail(errors.New("connection refused"))

				So(d.Refresh(context.Background()), ShouldBeFalse)
				So(d.ActiveTriggers(), ShouldResemble, active)
			})
		})

		Convey("When one schedule has a malformed cron expression", func() {
			store.set(
				intervalSchedule(1, "shop", 15),
				cronSchedule(2, "crm", "x 3 * * *"),
				cronSchedule(3, "hr", ""),
			)

			Convey("Only the valid schedules should be active", func() {
				So(d.Refresh(context.Background()), ShouldBeTrue)
				active := d.ActiveTriggers()
				So(ids(active), ShouldResemble, []int64{1})
			})
		})

		Convey("When refreshed concurrently", func() {
			var wg sync.WaitGroup
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					d.Refresh(context.Background())
				}()
			}
			wg.Wait()

			Convey("The engine should hold one entry per schedule", func() {
				So(d.ActiveTriggers(), ShouldHaveLength, 3)
				So(d.cron.Entries(), ShouldHaveLength, 3)
			})
		})
	})
}

func TestDispatcherOverlappingRefresh(t *testing.T) {
	log := zap.NewNop().Sugar()

	Convey("Given a refresh whose read is delayed", t, func() {
		store := &slowLister{
			fakeLister: &fakeLister{},
			entered:    make(chan struct{}),
			release:    make(chan struct{}),
		}
		store.set(intervalSchedule(7, "shop", 15))
		d := New(store, func(context.Context, TriggerEntry, time.Time) {}, log, time.UTC)

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.Refresh(context.Background())
		}()
		<-store.entered

		Convey("A refresh started after the schedule is deleted should win", func() {
			store.set()

			wg.Add(1)
			go func() {
				defer wg.Done()
				d.Refresh(context.Background())
			}()

			time.Sleep(20 * time.Millisecond)
			close(store.release)
			wg.Wait()

			So(d.ActiveTriggers(), ShouldNotContainKey, int64(7))
			So(d.ActiveTriggers(), ShouldBeEmpty)
			So(d.cron.Entries(), ShouldBeEmpty)
		})
	})
}

func TestDispatcherDispatch(t *testing.T) {
	log := zap.NewNop().Sugar()

	Convey("Given a refreshed dispatcher", t, func() {
		store := &fakeLister{}
		store.set(intervalSchedule(4, "shop", 10))

		var mu sync.Mutex
		var fired []TriggerEntry
		fire := func(_ context.Context, entry TriggerEntry, _ time.Time) {
			mu.Lock()
			defer mu.Unlock()
			fired = append(fired, entry)
		}

		d := New(store, fire, log, nil)
		So(d.Refresh(context.Background()), ShouldBeTrue)

		Convey("Dispatching a known schedule should hand it to the pool", func() {
			d.dispatch(4)

			mu.Lock()
			defer mu.Unlock()
			So(fired, ShouldHaveLength, 1)
			So(fired[0].ScheduleID, ShouldEqual, int64(4))
			So(fired[0].DatabaseName, ShouldEqual, "shop")
		})

		Convey("Dispatching a schedule that is gone should do nothing", func() {
			d.dispatch(99)

			mu.Lock()
			defer mu.Unlock()
			So(fired, ShouldBeEmpty)
		})

		Convey("NextRun should follow the rule", func() {
			at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
			next, ok := d.NextRun(4, at)
			So(ok, ShouldBeTrue)
			So(next, ShouldEqual, at.Add(10*time.Minute))

			_, ok = d.NextRun(99, at)
			So(ok, ShouldBeFalse)
		})
	})
}

func TestDispatcherJobs(t *testing.T) {
	Convey("Given a maintenance job on a one second interval", t, func() {
		d := New(&fakeLister{}, func(context.Context, TriggerEntry, time.Time) {}, zap.NewNop().Sugar(), time.UTC)

		var runs atomic.Int32
		d.AddJob(IntervalRule{Every: time.Second}, func(ctx context.Context) error {
			runs.Add(1)
			return nil
		})

		Convey("It should run once started", func() {
			d.Start(context.Background())
			time.Sleep(2500 * time.Millisecond)
			d.Stop()

			So(runs.Load(), ShouldBeGreaterThanOrEqualTo, int32(1))
		})
	})
}
