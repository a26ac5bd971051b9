package alert

import "time"

// State of a trip alert. An alert is created SCHEDULED, moves to POLLING on
// its first poll, and ends CANCELLED. CANCELLED is terminal.
type State int

const (
	StateScheduled State = 0
	StatePolling   State = 1
	StateCancelled State = 2
)

func (s State) String() string {
	switch s {
	case StateScheduled:
		return "scheduled"
	case StatePolling:
		return "polling"
	case StateCancelled:
		return "cancelled"
	}
	return "unknown"
}

// TripAlert is one user-created reminder: notify ReminderOffset before the
// watched trip arrives at the watched stop. Everything except State is
// immutable after creation.
type TripAlert struct {
	ID             int64
	TripID         string
	StopID         string
	StartTime      time.Time // scheduled service start of the trip at the stop
	ReminderOffset time.Duration
	State          State
}
