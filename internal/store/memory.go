package store

import (
	"context"
	"sync"
	"time"

	"trip-reminders/internal/alert"
)

// Memory is an in-process Store. It backs tests and single-node deployments
// without Postgres; the poll engine only sees the Store interface.
type Memory struct {
	mu     sync.Mutex
	nextID int64
	alerts map[int64]alert.TripAlert
	routes map[string]string // tripID -> route short name
}

func NewMemory() *Memory {
	return &Memory{
		nextID: 1,
		alerts: make(map[int64]alert.TripAlert),
		routes: make(map[string]string),
	}
}

func (m *Memory) InsertIfAbsent(_ context.Context, tripID, stopID string, startTime time.Time, reminderOffset time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, a := range m.alerts {
		if a.TripID == tripID && a.StopID == stopID && a.State != alert.StateCancelled {
			return id, nil
		}
	}
	id := m.nextID
	m.nextID++
	m.alerts[id] = alert.TripAlert{
		ID:             id,
		TripID:         tripID,
		StopID:         stopID,
		StartTime:      startTime,
		ReminderOffset: reminderOffset,
		State:          alert.StateScheduled,
	}
	return id, nil
}

func (m *Memory) Get(_ context.Context, id int64) (alert.TripAlert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alerts[id]
	if !ok {
		return alert.TripAlert{}, ErrNotFound
	}
	return a, nil
}

func (m *Memory) SetState(_ context.Context, id int64, state alert.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alerts[id]
	if !ok || a.State == alert.StateCancelled {
		return nil
	}
	a.State = state
	m.alerts[id] = a
	return nil
}

func (m *Memory) ListActive(_ context.Context) ([]alert.TripAlert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []alert.TripAlert
	for _, a := range m.alerts {
		if a.State != alert.StateCancelled {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *Memory) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, a := range m.alerts {
		if a.StartTime.Before(cutoff) {
			delete(m.alerts, id)
			n++
		}
	}
	return n, nil
}

// SetRouteName seeds the tripID -> route short name lookup.
func (m *Memory) SetRouteName(tripID, shortName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routes[tripID] = shortName
}

// RouteShortName returns the display name for the trip's route, or the trip
// id itself when unknown.
func (m *Memory) RouteShortName(_ context.Context, tripID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if name, ok := m.routes[tripID]; ok && name != "" {
		return name
	}
	return tripID
}

// Count reports how many records exist, cancelled included.
func (m *Memory) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.alerts)
}
