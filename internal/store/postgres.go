package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"trip-reminders/internal/alert"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

func Ping(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return db.PingContext(ctx)
}

// Postgres stores trip alerts in a trip_alerts table alongside the GTFS
// import schema, so route names can be resolved from the trips/routes tables
// of the same database.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// EnsureSchema creates the trip_alerts table and the partial unique index
// that makes insert-if-absent safe against concurrent creators.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	q := `
CREATE TABLE IF NOT EXISTS trip_alerts (
    id          BIGSERIAL PRIMARY KEY,
    trip_id     TEXT NOT NULL,
    stop_id     TEXT NOT NULL,
    start_time  TIMESTAMPTZ NOT NULL,
    reminder_ms BIGINT NOT NULL DEFAULT 0,
    state       SMALLINT NOT NULL DEFAULT 0,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
)`
	if _, err := p.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("create trip_alerts: %w", err)
	}
	idx := fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS trip_alerts_active_trip_stop
ON trip_alerts (trip_id, stop_id) WHERE state <> %d`, int(alert.StateCancelled))
	if _, err := p.db.ExecContext(ctx, idx); err != nil {
		return fmt.Errorf("create trip_alerts index: %w", err)
	}
	return nil
}

func (p *Postgres) InsertIfAbsent(ctx context.Context, tripID, stopID string, startTime time.Time, reminderOffset time.Duration) (int64, error) {
	var id int64
	sel := `SELECT id FROM trip_alerts WHERE trip_id = $1 AND stop_id = $2 AND state <> $3 LIMIT 1`
	err := p.db.QueryRowContext(ctx, sel, tripID, stopID, int(alert.StateCancelled)).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("query trip_alerts: %w", err)
	}
	// The partial unique index on active (trip_id, stop_id) pairs turns a
	// concurrent duplicate creation into a conflict instead of a second row.
	ins := fmt.Sprintf(`INSERT INTO trip_alerts (trip_id, stop_id, start_time, reminder_ms, state)
            VALUES ($1, $2, $3, $4, $5)
            ON CONFLICT (trip_id, stop_id) WHERE state <> %d DO NOTHING
            RETURNING id`, int(alert.StateCancelled))
	err = p.db.QueryRowContext(ctx, ins, tripID, stopID, startTime, reminderOffset.Milliseconds(), int(alert.StateScheduled)).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("insert trip_alerts: %w", err)
	}
	// Lost the race; the winner's record exists now.
	if err := p.db.QueryRowContext(ctx, sel, tripID, stopID, int(alert.StateCancelled)).Scan(&id); err != nil {
		return 0, fmt.Errorf("query trip_alerts: %w", err)
	}
	return id, nil
}

func (p *Postgres) Get(ctx context.Context, id int64) (alert.TripAlert, error) {
	q := `SELECT id, trip_id, stop_id, start_time, reminder_ms, state FROM trip_alerts WHERE id = $1`
	var a alert.TripAlert
	var reminderMS int64
	var state int
	err := p.db.QueryRowContext(ctx, q, id).Scan(&a.ID, &a.TripID, &a.StopID, &a.StartTime, &reminderMS, &state)
	if errors.Is(err, sql.ErrNoRows) {
		return alert.TripAlert{}, ErrNotFound
	}
	if err != nil {
		return alert.TripAlert{}, fmt.Errorf("query trip_alerts: %w", err)
	}
	a.ReminderOffset = time.Duration(reminderMS) * time.Millisecond
	a.State = alert.State(state)
	return a, nil
}

// SetState runs a conditional update so a CANCELLED record can never be
// resurrected by a concurrent poll.
func (p *Postgres) SetState(ctx context.Context, id int64, state alert.State) error {
	q := `UPDATE trip_alerts SET state = $2 WHERE id = $1 AND state <> $3`
	if _, err := p.db.ExecContext(ctx, q, id, int(state), int(alert.StateCancelled)); err != nil {
		return fmt.Errorf("update trip_alerts: %w", err)
	}
	return nil
}

func (p *Postgres) ListActive(ctx context.Context) ([]alert.TripAlert, error) {
	q := `SELECT id, trip_id, stop_id, start_time, reminder_ms, state
          FROM trip_alerts WHERE state <> $1 ORDER BY id`
	rows, err := p.db.QueryContext(ctx, q, int(alert.StateCancelled))
	if err != nil {
		return nil, fmt.Errorf("query trip_alerts: %w", err)
	}
	defer rows.Close()

	var out []alert.TripAlert
	for rows.Next() {
		var a alert.TripAlert
		var reminderMS int64
		var state int
		if err := rows.Scan(&a.ID, &a.TripID, &a.StopID, &a.StartTime, &reminderMS, &state); err != nil {
			return nil, err
		}
		a.ReminderOffset = time.Duration(reminderMS) * time.Millisecond
		a.State = alert.State(state)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (p *Postgres) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := p.db.ExecContext(ctx, `DELETE FROM trip_alerts WHERE start_time < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete trip_alerts: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// RouteShortName resolves a trip id to its route's short name via the GTFS
// trips and routes tables. Falls back to the trip id when the lookup fails,
// so notification text is always printable.
func (p *Postgres) RouteShortName(ctx context.Context, tripID string) string {
	q := `SELECT COALESCE(NULLIF(r.route_short_name, ''), r.route_id)
          FROM trips t JOIN routes r ON r.route_id = t.route_id
          WHERE t.trip_id = $1`
	var name sql.NullString
	if err := p.db.QueryRowContext(ctx, q, tripID).Scan(&name); err != nil || !name.Valid {
		return tripID
	}
	return name.String
}
