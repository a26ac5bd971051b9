package sched

import (
	"context"
	"log"
	"sync"
	"time"

	"trip-reminders/internal/metrics"
)

// PollFunc runs one poll batch for the given due alert ids.
type PollFunc func(ctx context.Context, alertIDs []int64)

// Scheduler guarantees a future poll invocation for an alert id at a target
// wall-clock time. Durability across restarts comes from ScheduleAll, which
// re-arms every persisted active alert at startup.
type Scheduler interface {
	ScheduleAt(alertID int64, at time.Time) error
}

type registration struct {
	cancel context.CancelFunc
}

// TimerScheduler arms an in-process timer per alert id. A second ScheduleAt
// for the same id replaces the pending timer, so the rearm issued by every
// poll keeps exactly one timer alive per active alert.
type TimerScheduler struct {
	parent  context.Context
	poll    PollFunc
	metrics *metrics.Collector

	mu      sync.Mutex
	pending map[int64]*registration
	wg      sync.WaitGroup
	stopped bool
}

func NewTimerScheduler(parent context.Context, poll PollFunc, m *metrics.Collector) *TimerScheduler {
	return &TimerScheduler{
		parent:  parent,
		poll:    poll,
		metrics: m,
		pending: make(map[int64]*registration),
	}
}

func (s *TimerScheduler) ScheduleAt(alertID int64, at time.Time) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return context.Canceled
	}
	if old, ok := s.pending[alertID]; ok {
		old.cancel()
	}
	ctx, cancel := context.WithCancel(s.parent)
	reg := &registration{cancel: cancel}
	s.pending[alertID] = reg
	s.wg.Add(1)
	if s.metrics != nil {
		s.metrics.PendingPolls.Set(float64(len(s.pending)))
	}
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		d := time.Until(at)
		if d < 0 {
			d = 0
		}
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		s.mu.Lock()
		// Only the current registration runs the poll: a replacement armed
		// while this timer fired wins, and this firing is a harmless no-op.
		if s.pending[alertID] != reg {
			s.mu.Unlock()
			return
		}
		delete(s.pending, alertID)
		if s.metrics != nil {
			s.metrics.PendingPolls.Set(float64(len(s.pending)))
		}
		s.mu.Unlock()

		s.poll(s.parent, []int64{alertID})
	}()
	return nil
}

// Pending reports the number of armed timers.
func (s *TimerScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Stop cancels all pending timers and waits for in-flight polls to finish.
func (s *TimerScheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	for id, reg := range s.pending {
		reg.cancel()
		delete(s.pending, id)
	}
	if s.metrics != nil {
		s.metrics.PendingPolls.Set(0)
	}
	s.mu.Unlock()
	s.wg.Wait()
	log.Printf("scheduler stopped")
}
