package models

import (
	"testing"
	"time"
)

func TestNextDue(t *testing.T) {
	start := time.Now().Add(-30 * time.Minute)

	t.Run("onetime keeps its due date", func(t *testing.T) {
		task := ScheduledTask{TaskType: ScheduledTaskTypeOneTime, Due: start}
		if got := task.NextDue(); !got.Equal(start) {
			t.Errorf("NextDue() = %v; want %v", got, start)
		}
	})

	t.Run("recurring advances past now", func(t *testing.T) {
		interval := "FREQ=DAILY"
		task := ScheduledTask{
			TaskType:          ScheduledTaskTypeRecurring,
			Due:               start,
			RecurringInterval: &interval,
		}
		got := task.NextDue()
		if !got.After(time.Now().Add(-time.Second)) {
			t.Errorf("NextDue() = %v; want a time in the future", got)
		}
	})

	t.Run("recurring with bad rule falls back to due", func(t *testing.T) {
		interval := "not-an-rrule"
		task := ScheduledTask{
			TaskType:          ScheduledTaskTypeRecurring,
			Due:               start,
			RecurringInterval: &interval,
		}
		if got := task.NextDue(); !got.Equal(start) {
			t.Errorf("NextDue() = %v; want fallback %v", got, start)
		}
	})
}
