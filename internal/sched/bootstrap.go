package sched

import (
	"context"
	"fmt"
	"log"
	"time"

	"trip-reminders/internal/store"
)

// Polling starts a little ahead of the reminder moment so a few fetches land
// before the threshold is crossed.
const lookahead = 5 * time.Minute

// ScheduleAll re-arms a poll for every persisted active alert. Run at
// startup: in-process timers do not survive a restart, the records do.
// Records whose start time is older than cleanupAge are deleted first.
func ScheduleAll(ctx context.Context, st store.Lister, s Scheduler, cleanupAge time.Duration, now time.Time) error {
	if cleaner, ok := st.(store.Cleaner); ok && cleanupAge > 0 {
		n, err := cleaner.DeleteOlderThan(ctx, now.Add(-cleanupAge))
		if err != nil {
			return fmt.Errorf("cleanup old alerts: %w", err)
		}
		if n > 0 {
			log.Printf("removed %d old alerts", n)
		}
	}

	alerts, err := st.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list active alerts: %w", err)
	}
	for _, a := range alerts {
		if err := s.ScheduleAt(a.ID, TriggerTime(a.StartTime, a.ReminderOffset, now)); err != nil {
			log.Printf("schedule alert %d: %v", a.ID, err)
			continue
		}
	}
	log.Printf("scheduled %d alerts", len(alerts))
	return nil
}

// TriggerTime is when polling should begin for an alert: lookahead ahead of
// the reminder moment, never in the past.
func TriggerTime(startTime time.Time, reminderOffset time.Duration, now time.Time) time.Time {
	at := startTime.Add(-(reminderOffset + lookahead))
	if at.Before(now) {
		return now
	}
	return at
}
