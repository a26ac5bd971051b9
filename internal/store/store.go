package store

import (
	"context"
	"errors"
	"time"

	"trip-reminders/internal/alert"
)

// ErrNotFound indicates the alert id has no record. Callers treat it as an
// implicit cancellation and skip silently.
var ErrNotFound = errors.New("alert not found")

// Store persists TripAlert records. Implementations must serialize per-record
// updates: a SetState to a non-cancelled state never resurrects a record that
// is already CANCELLED.
type Store interface {
	// InsertIfAbsent returns the id of an existing non-cancelled alert for
	// (tripID, stopID), or inserts a new SCHEDULED record and returns its id.
	InsertIfAbsent(ctx context.Context, tripID, stopID string, startTime time.Time, reminderOffset time.Duration) (int64, error)
	Get(ctx context.Context, id int64) (alert.TripAlert, error)
	// SetState transitions the record. A no-op (not an error) when the record
	// is already CANCELLED or missing.
	SetState(ctx context.Context, id int64, state alert.State) error
}

// Lister enumerates persisted alerts for the startup re-arm pass.
type Lister interface {
	ListActive(ctx context.Context) ([]alert.TripAlert, error)
}

// Cleaner removes long-dead records. Administrative; never called from the
// poll path.
type Cleaner interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
