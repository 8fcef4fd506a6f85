package scheduler

import (
	"errors"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestParseCron(t *testing.T) {
	Convey("Given the cron grammar", t, func() {
		Convey("When parsing a daily expression", func() {
			rule, err := ParseCron("0 3 * * *")

			Convey("It should restrict minute and hour only", func() {
				So(err, ShouldBeNil)
				So(rule.Minute, ShouldEqual, 0)
				So(rule.Hour, ShouldEqual, 3)
				So(rule.DayOfMonth, ShouldEqual, Any)
				So(rule.Month, ShouldEqual, Any)
				So(rule.DayOfWeek, ShouldEqual, Any)
				So(rule.Spec(), ShouldEqual, "0 3 * * *")
			})
		})

		Convey("When parsing extra whitespace", func() {
			rule, err := ParseCron("  15   *  1 *   *  ")

			Convey("It should normalize the spec", func() {
				So(err, ShouldBeNil)
				So(rule.Spec(), ShouldEqual, "15 * 1 * *")
			})
		})

		Convey("When a field is not a number", func() {
			_, err := ParseCron("x 3 * * *")

			Convey("It should fail naming the expression", func() {
				So(err, ShouldNotBeNil)
				So(errors.Is(err, ErrInvalidCron), ShouldBeTrue)
				So(err.Error(), ShouldContainSubstring, `"x 3 * * *"`)
			})
		})

		Convey("When ranges or steps are used", func() {
			for _, expr := range []string{"*/5 * * * *", "0 1-3 * * *", "0,30 * * * *", "-1 * * * *", "+1 * * * *"} {
				_, err := ParseCron(expr)
				So(err, ShouldNotBeNil)
				So(err.Error(), ShouldContainSubstring, expr)
			}
		})

		Convey("When the field count is wrong", func() {
			_, four := ParseCron("0 3 * *")
			_, six := ParseCron("0 0 3 * * *")

			Convey("It should fail", func() {
				So(four, ShouldNotBeNil)
				So(four.Error(), ShouldContainSubstring, "expected 5 fields")
				So(six, ShouldNotBeNil)
			})
		})

		Convey("When a value is out of range", func() {
			_, minute := ParseCron("60 * * * *")
			_, month := ParseCron("0 0 1 13 *")
			_, day := ParseCron("0 0 0 * *")
			_, weekday := ParseCron("0 0 * * 7")

			Convey("It should fail", func() {
				So(minute, ShouldNotBeNil)
				So(month, ShouldNotBeNil)
				So(day, ShouldNotBeNil)
				So(weekday, ShouldNotBeNil)
			})
		})
	})
}

func TestCronRuleNext(t *testing.T) {
	Convey("Given parsed cron rules", t, func() {
		base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC) // Thursday

		Convey("A daily rule should fire the next day when the hour passed", func() {
			rule, _ := ParseCron("0 3 * * *")
			So(rule.Next(base), ShouldEqual, time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC))
		})

		Convey("A daily rule should fire later the same day when the hour is ahead", func() {
			rule, _ := ParseCron("30 22 * * *")
			So(rule.Next(base), ShouldEqual, time.Date(2026, 1, 1, 22, 30, 0, 0, time.UTC))
		})

		Convey("Next should be strictly after the given time", func() {
			rule, _ := ParseCron("0 10 * * *")
			So(rule.Next(base), ShouldEqual, time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC))
		})

		Convey("A wildcard rule should fire on the next minute", func() {
			rule, _ := ParseCron("* * * * *")
			So(rule.Next(base.Add(15*time.Second)), ShouldEqual, base.Add(time.Minute))
		})

		Convey("A weekday rule should skip to the matching day", func() {
			rule, _ := ParseCron("30 8 * * 1")
			sunday := time.Date(2026, 10, 11, 12, 0, 0, 0, time.UTC)
			So(rule.Next(sunday), ShouldEqual, time.Date(2026, 10, 12, 8, 30, 0, 0, time.UTC))
		})

		Convey("A monthly rule should roll over the year", func() {
			rule, _ := ParseCron("0 0 1 1 *")
			So(rule.Next(base), ShouldEqual, time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC))
		})

		Convey("Both day fields restricted should require both to match", func() {
			// First Monday the 1st after 2026-01-01 is June 1st.
			rule, _ := ParseCron("0 0 1 * 1")
			So(rule.Next(base), ShouldEqual, time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC))
		})

		Convey("An impossible date should never fire", func() {
			rule, _ := ParseCron("0 0 31 2 *")
			So(rule.Next(base).IsZero(), ShouldBeTrue)
		})
	})

	Convey("Given an interval rule", t, func() {
		rule := IntervalRule{Every: 90 * time.Minute}
		now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

		So(rule.Next(now), ShouldEqual, now.Add(90*time.Minute))
		So(rule.Spec(), ShouldEqual, "@every 1h30m0s")
	})
}
