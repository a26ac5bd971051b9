package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"trip-reminders/internal/alert"
)

func TestInsertIfAbsentReturnsExisting(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	start := time.Now().Add(10 * time.Minute)

	id1, err := m.InsertIfAbsent(ctx, "1_12345", "1_STOP", start, 2*time.Minute)
	if err != nil {
		t.Fatalf("first insert: %v", err)
	}
	id2, err := m.InsertIfAbsent(ctx, "1_12345", "1_STOP", start, 2*time.Minute)
	if err != nil {
		t.Fatalf("second insert: %v", err)
	}
	if id1 != id2 {
		t.Errorf("ids differ: %d vs %d", id1, id2)
	}
	if m.Count() != 1 {
		t.Errorf("record count = %d, want 1", m.Count())
	}
}

func TestInsertIfAbsentConcurrentCreators(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	start := time.Now().Add(10 * time.Minute)

	const creators = 16
	ids := make([]int64, creators)
	var wg sync.WaitGroup
	for i := 0; i < creators; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := m.InsertIfAbsent(ctx, "1_12345", "1_STOP", start, 2*time.Minute)
			if err != nil {
				t.Errorf("insert %d: %v", i, err)
				return
			}
			ids[i] = id
		}(i)
	}
	wg.Wait()

	if m.Count() != 1 {
		t.Errorf("record count = %d, want 1", m.Count())
	}
	for i := 1; i < creators; i++ {
		if ids[i] != ids[0] {
			t.Errorf("creator %d got id %d, creator 0 got %d", i, ids[i], ids[0])
		}
	}
}

func TestInsertIfAbsentIgnoresCancelled(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	start := time.Now().Add(10 * time.Minute)

	id1, _ := m.InsertIfAbsent(ctx, "T1", "S1", start, 0)
	if err := m.SetState(ctx, id1, alert.StateCancelled); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	id2, err := m.InsertIfAbsent(ctx, "T1", "S1", start, 0)
	if err != nil {
		t.Fatalf("insert after cancel: %v", err)
	}
	if id1 == id2 {
		t.Errorf("cancelled record must not be reused, got same id %d", id1)
	}
}

func TestNewAlertIsScheduled(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	id, _ := m.InsertIfAbsent(ctx, "T1", "S1", time.Now(), time.Minute)
	a, err := m.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if a.State != alert.StateScheduled {
		t.Errorf("state = %v, want scheduled", a.State)
	}
	if a.ReminderOffset != time.Minute {
		t.Errorf("reminder offset = %v, want 1m", a.ReminderOffset)
	}
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	m := NewMemory()
	_, err := m.Get(context.Background(), 7)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestSetStateDoesNotResurrectCancelled(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	id, _ := m.InsertIfAbsent(ctx, "T1", "S1", time.Now(), 0)
	if err := m.SetState(ctx, id, alert.StateCancelled); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := m.SetState(ctx, id, alert.StatePolling); err != nil {
		t.Fatalf("setstate: %v", err)
	}
	a, _ := m.Get(ctx, id)
	if a.State != alert.StateCancelled {
		t.Errorf("state = %v, want cancelled", a.State)
	}
}

func TestListActiveExcludesCancelled(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	id1, _ := m.InsertIfAbsent(ctx, "T1", "S1", time.Now(), 0)
	m.InsertIfAbsent(ctx, "T2", "S2", time.Now(), 0)
	m.SetState(ctx, id1, alert.StateCancelled)

	active, err := m.ListActive(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("active = %d, want 1", len(active))
	}
	if active[0].TripID != "T2" {
		t.Errorf("active trip = %s, want T2", active[0].TripID)
	}
}

func TestDeleteOlderThan(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Now()

	m.InsertIfAbsent(ctx, "OLD", "S1", now.Add(-25*time.Hour), 0)
	m.InsertIfAbsent(ctx, "NEW", "S2", now.Add(10*time.Minute), 0)

	n, err := m.DeleteOlderThan(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted = %d, want 1", n)
	}
	if m.Count() != 1 {
		t.Errorf("remaining = %d, want 1", m.Count())
	}
}

func TestRouteShortNameFallsBackToTripID(t *testing.T) {
	m := NewMemory()
	m.SetRouteName("T1", "44")

	if got := m.RouteShortName(context.Background(), "T1"); got != "44" {
		t.Errorf("known trip = %q, want 44", got)
	}
	if got := m.RouteShortName(context.Background(), "T9"); got != "T9" {
		t.Errorf("unknown trip = %q, want trip id fallback", got)
	}
}
