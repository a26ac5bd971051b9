package sched

import (
	"context"
	"sync"
	"testing"
	"time"

	"trip-reminders/internal/store"
)

type pollRecorder struct {
	mu    sync.Mutex
	ids   []int64
	fired chan int64
}

func newPollRecorder() *pollRecorder {
	return &pollRecorder{fired: make(chan int64, 16)}
}

func (r *pollRecorder) poll(_ context.Context, alertIDs []int64) {
	r.mu.Lock()
	r.ids = append(r.ids, alertIDs...)
	r.mu.Unlock()
	for _, id := range alertIDs {
		r.fired <- id
	}
}

func (r *pollRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ids)
}

func waitFor(t *testing.T, ch chan int64, want int64) {
	t.Helper()
	select {
	case got := <-ch:
		if got != want {
			t.Fatalf("poll fired for alert %d, want %d", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for poll of alert %d", want)
	}
}

func TestScheduleAtFires(t *testing.T) {
	rec := newPollRecorder()
	s := NewTimerScheduler(context.Background(), rec.poll, nil)
	defer s.Stop()

	if err := s.ScheduleAt(1, time.Now().Add(20*time.Millisecond)); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	waitFor(t, rec.fired, 1)

	if s.Pending() != 0 {
		t.Errorf("pending after fire = %d, want 0", s.Pending())
	}
}

func TestScheduleAtPastTimeFiresImmediately(t *testing.T) {
	rec := newPollRecorder()
	s := NewTimerScheduler(context.Background(), rec.poll, nil)
	defer s.Stop()

	if err := s.ScheduleAt(1, time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	waitFor(t, rec.fired, 1)
}

func TestReplacementWins(t *testing.T) {
	rec := newPollRecorder()
	s := NewTimerScheduler(context.Background(), rec.poll, nil)
	defer s.Stop()

	// First registration far in the future, replaced before it can fire.
	if err := s.ScheduleAt(1, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if err := s.ScheduleAt(1, time.Now().Add(20*time.Millisecond)); err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	waitFor(t, rec.fired, 1)

	// Give a cancelled first timer a chance to misfire.
	time.Sleep(50 * time.Millisecond)
	if got := rec.count(); got != 1 {
		t.Errorf("polls fired = %d, want 1", got)
	}
}

func TestStopCancelsPending(t *testing.T) {
	rec := newPollRecorder()
	s := NewTimerScheduler(context.Background(), rec.poll, nil)

	if err := s.ScheduleAt(1, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	s.Stop()

	if got := rec.count(); got != 0 {
		t.Errorf("polls fired after stop = %d, want 0", got)
	}
	if err := s.ScheduleAt(2, time.Now()); err == nil {
		t.Errorf("schedule after stop should fail")
	}
}

func TestScheduleAllRearmsAndCleans(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	now := time.Now()

	// One alert due right now, one long dead.
	dueID, _ := m.InsertIfAbsent(ctx, "T1", "S1", now.Add(time.Minute), time.Minute)
	m.InsertIfAbsent(ctx, "DEAD", "S2", now.Add(-48*time.Hour), 0)

	rec := newPollRecorder()
	s := NewTimerScheduler(ctx, rec.poll, nil)
	defer s.Stop()

	if err := ScheduleAll(ctx, m, s, 24*time.Hour, now); err != nil {
		t.Fatalf("schedule all: %v", err)
	}
	waitFor(t, rec.fired, dueID)

	if m.Count() != 1 {
		t.Errorf("records after cleanup = %d, want 1", m.Count())
	}
}

func TestTriggerTime(t *testing.T) {
	now := time.Date(2026, 5, 11, 8, 0, 0, 0, time.UTC)
	tests := []struct {
		name     string
		start    time.Time
		reminder time.Duration
		want     time.Time
	}{
		{
			name:     "future trip",
			start:    now.Add(time.Hour),
			reminder: 10 * time.Minute,
			want:     now.Add(45 * time.Minute), // start - reminder - 5m lookahead
		},
		{
			name:     "imminent trip clamps to now",
			start:    now.Add(2 * time.Minute),
			reminder: 10 * time.Minute,
			want:     now,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TriggerTime(tt.start, tt.reminder, now); !got.Equal(tt.want) {
				t.Errorf("TriggerTime = %v, want %v", got, tt.want)
			}
		})
	}
}
