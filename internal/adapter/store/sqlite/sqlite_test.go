package sqlite

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/semmidev/dbguardian/internal/domain"
)

func openStore(t *testing.T) *Store {
	s, err := Open(filepath.Join(t.TempDir(), "data", "dbguardian.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

type warnings struct {
	mu    sync.Mutex
	lines []string
}

func (w *warnings) Warnf(template string, args ...interface{}) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lines = append(w.lines, fmt.Sprintf(template, args...))
}

func nextEvent(sub domain.Subscription) (domain.ChangeEvent, bool) {
	select {
	case n, ok := <-sub.Notifications():
		if !ok || n == nil {
			return domain.ChangeEvent{}, false
		}
		ev, err := domain.ParseChangeEvent(n.Payload)
		return ev, err == nil
	case <-time.After(2 * time.Second):
		return domain.ChangeEvent{}, false
	}
}

func TestScheduleRepository(t *testing.T) {
	Convey("Given a migrated sqlite store", t, func() {
		ctx := context.Background()
		store := openStore(t)

		minutes := 15
		shop := &domain.Schedule{DatabaseName: "shop", Kind: domain.ScheduleInterval, IntervalMinutes: &minutes, Enabled: true}
		So(store.CreateSchedule(ctx, shop), ShouldBeNil)

		expr := "0 3 * * *"
		crm := &domain.Schedule{DatabaseName: "crm", Kind: domain.ScheduleCron, CronExpression: &expr, Enabled: false}
		So(store.CreateSchedule(ctx, crm), ShouldBeNil)

		Convey("Created schedules should get ids", func() {
			So(shop.ID, ShouldBeGreaterThan, 0)
			So(crm.ID, ShouldNotEqual, shop.ID)
		})

		Convey("Only enabled schedules should be listed", func() {
			schedules, err := store.ListEnabledSchedules(ctx)
			So(err, ShouldBeNil)
			So(schedules, ShouldHaveLength, 1)
			So(schedules[0].DatabaseName, ShouldEqual, "shop")
			So(*schedules[0].IntervalMinutes, ShouldEqual, 15)
		})

		Convey("A stored schedule should read back", func() {
			got, err := store.GetSchedule(ctx, crm.ID)
			So(err, ShouldBeNil)
			So(got.Kind, ShouldEqual, domain.ScheduleCron)
			So(*got.CronExpression, ShouldEqual, expr)
			So(got.Enabled, ShouldBeFalse)
		})

		Convey("Updating should change the listed set", func() {
			crm.Enabled = true
			So(store.UpdateSchedule(ctx, crm), ShouldBeNil)

			schedules, err := store.ListEnabledSchedules(ctx)
			So(err, ShouldBeNil)
			So(schedules, ShouldHaveLength, 2)
		})

		Convey("Marking a run should keep next_run when none is given", func() {
			now := time.Now().UTC().Truncate(time.Second)
			next := now.Add(15 * time.Minute)
			So(store.MarkScheduleRun(ctx, shop.ID, now, &next), ShouldBeNil)
			So(store.MarkScheduleRun(ctx, shop.ID, now.Add(time.Minute), nil), ShouldBeNil)

			got, err := store.GetSchedule(ctx, shop.ID)
			So(err, ShouldBeNil)
			So(got.LastRun.Equal(now.Add(time.Minute)), ShouldBeTrue)
			So(got.NextRun.Equal(next), ShouldBeTrue)
		})

		Convey("Missing schedules should be ErrScheduleNotFound", func() {
			_, err := store.GetSchedule(ctx, 999)
			So(errors.Is(err, domain.ErrScheduleNotFound), ShouldBeTrue)
			So(errors.Is(store.DeleteSchedule(ctx, 999), domain.ErrScheduleNotFound), ShouldBeTrue)
			So(errors.Is(store.UpdateSchedule(ctx, &domain.Schedule{ID: 999, Kind: domain.ScheduleInterval}), domain.ErrScheduleNotFound), ShouldBeTrue)
			So(errors.Is(store.MarkScheduleRun(ctx, 999, time.Now(), nil), domain.ErrScheduleNotFound), ShouldBeTrue)
		})
	})
}

func TestScheduleNotifications(t *testing.T) {
	Convey("Given a subscription on the schedule channel", t, func() {
		ctx := context.Background()
		store := openStore(t)

		sub, err := store.Subscribe(ctx, domain.ScheduleChannel)
		So(err, ShouldBeNil)
		defer sub.Close()
		So(sub.Ping(ctx), ShouldBeNil)

		minutes := 30
		sched := &domain.Schedule{DatabaseName: "shop", Kind: domain.ScheduleInterval, IntervalMinutes: &minutes, Enabled: true}

		Convey("Each committed change should be announced in order", func() {
			So(store.CreateSchedule(ctx, sched), ShouldBeNil)
			ev, ok := nextEvent(sub)
			So(ok, ShouldBeTrue)
			So(ev.Action, ShouldEqual, domain.ActionInserted)
			So(ev.ScheduleID, ShouldEqual, sched.ID)

			sched.Enabled = false
			So(store.UpdateSchedule(ctx, sched), ShouldBeNil)
			ev, ok = nextEvent(sub)
			So(ok, ShouldBeTrue)
			So(ev.Action, ShouldEqual, domain.ActionUpdated)
			So(ev.Enabled, ShouldBeFalse)
			So(*ev.OldEnabled, ShouldBeTrue)

			So(store.DeleteSchedule(ctx, sched.ID), ShouldBeNil)
			ev, ok = nextEvent(sub)
			So(ok, ShouldBeTrue)
			So(ev.Action, ShouldEqual, domain.ActionDeleted)
			So(ev.DatabaseName, ShouldEqual, "shop")
		})

		Convey("Writes should succeed when the change event cannot be delivered", func() {
			warned := &warnings{}
			store.logger = warned
			So(store.pubsub.Close(), ShouldBeNil)

			So(store.CreateSchedule(ctx, sched), ShouldBeNil)
			So(sched.ID, ShouldBeGreaterThan, 0)

			sched.Enabled = false
			So(store.UpdateSchedule(ctx, sched), ShouldBeNil)
			got, err := store.GetSchedule(ctx, sched.ID)
			So(err, ShouldBeNil)
			So(got.Enabled, ShouldBeFalse)

			So(store.DeleteSchedule(ctx, sched.ID), ShouldBeNil)
			_, err = store.GetSchedule(ctx, sched.ID)
			So(errors.Is(err, domain.ErrScheduleNotFound), ShouldBeTrue)

			warned.mu.Lock()
			defer warned.mu.Unlock()
			So(warned.lines, ShouldHaveLength, 3)
			So(warned.lines[0], ShouldContainSubstring, "not published")
		})

		Convey("Closing the store should fail the keepalive", func() {
			So(store.Close(), ShouldBeNil)
			So(errors.Is(sub.Ping(ctx), ErrClosed), ShouldBeTrue)
		})
	})
}

func TestBackupRepository(t *testing.T) {
	Convey("Given stored backup records", t, func() {
		ctx := context.Background()
		store := openStore(t)

		size := int64(42)
		primary := &domain.BackupRecord{
			DatabaseName:    "shop",
			BackupName:      "backup_shop_20260101_030000.dump.gz.enc",
			StorageKind:     domain.StoragePrimary,
			StorageLocation: "s3://shop/backup_shop_20260101_030000.dump.gz.enc",
			SizeBytes:       &size,
		}
		fallback := &domain.BackupRecord{
			DatabaseName:    "crm",
			BackupName:      "backup_crm_20260101_030000.dump",
			StorageKind:     domain.StorageFallback,
			StorageLocation: "/var/backups/backup_crm_20260101_030000.dump",
		}
		So(store.CreateBackupRecord(ctx, primary), ShouldBeNil)
		So(store.CreateBackupRecord(ctx, fallback), ShouldBeNil)

		Convey("Records should be filled on insert", func() {
			So(primary.ID, ShouldBeGreaterThan, 0)
			So(primary.CreatedAt, ShouldNotBeNil)
			So(primary.Status, ShouldEqual, domain.StatusCompleted)
		})

		Convey("Listing by database should derive the key", func() {
			records, err := store.ListBackupRecords(ctx, "shop")
			So(err, ShouldBeNil)
			So(records, ShouldHaveLength, 1)
			So(records[0].Key, ShouldEqual, "shop/backup_shop_20260101_030000.dump.gz.enc")
			So(records[0].Encrypted, ShouldBeTrue)
			So(*records[0].SizeBytes, ShouldEqual, int64(42))
		})

		Convey("Listing everything should include the fallback record", func() {
			records, err := store.ListBackupRecords(ctx, "")
			So(err, ShouldBeNil)
			So(records, ShouldHaveLength, 2)
		})

		Convey("Deleting by location should report the rows removed", func() {
			n, err := store.DeleteBackupRecordsByLocation(ctx, fallback.StorageLocation, "s3://nowhere")
			So(err, ShouldBeNil)
			So(n, ShouldEqual, int64(1))

			records, _ := store.ListBackupRecords(ctx, "")
			So(records, ShouldHaveLength, 1)
		})
	})
}
