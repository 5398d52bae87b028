package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/septivank/appliance-telemetry/internal/db"
)

// Order is the direction of a time-ordered read
type Order int

const (
	Ascending Order = iota
	Descending
)

// ParseOrder maps "asc"/"desc" to an Order. Empty input means ascending.
func ParseOrder(s string) (Order, bool) {
	switch s {
	case "", "asc", "ASC":
		return Ascending, true
	case "desc", "DESC":
		return Descending, true
	}
	return Ascending, false
}

func (o Order) sql() string {
	if o == Descending {
		return "DESC"
	}
	return "ASC"
}

// Repository handles database operations on the two sample relations.
// Each call runs as a single statement on a pooled connection that is
// released before the call returns.
type Repository struct {
	pool          *pgxpool.Pool
	timeout       time.Duration
	streamTimeout time.Duration
}

// NewRepository creates a new repository. timeout bounds every single-row
// operation; streamTimeout bounds a whole StreamPeriodic scan, callbacks
// included. A non-positive streamTimeout falls back to timeout.
func NewRepository(pool *pgxpool.Pool, timeout, streamTimeout time.Duration) *Repository {
	if streamTimeout <= 0 {
		streamTimeout = timeout
	}
	return &Repository{pool: pool, timeout: timeout, streamTimeout: streamTimeout}
}

func (r *Repository) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return boundedContext(ctx, r.timeout)
}

func (r *Repository) withStreamTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return boundedContext(ctx, r.streamTimeout)
}

func boundedContext(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// UpsertHistorical stores a historical sample unless one with the same
// appliance and timestamp exists. The first stored value wins; inserted is
// false for a duplicate.
func (r *Repository) UpsertHistorical(ctx context.Context, s *db.HistoricalSample) (bool, error) {
	query := `
		INSERT INTO appliance_historical_samples (
			appliance_name, local_time, today_runtime, month_runtime, today_energy, month_energy
		)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (appliance_name, local_time) DO NOTHING
	`

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	tag, err := r.pool.Exec(ctx, query,
		s.ApplianceName,
		s.ObservedAt,
		s.TodayRuntime,
		s.MonthRuntime,
		s.TodayEnergy,
		s.MonthEnergy,
	)
	if err != nil {
		return false, wrapErr("upsert historical sample", err)
	}

	return tag.RowsAffected() == 1, nil
}

// UpsertPeriodic stores a periodic sample with the same first-write-wins
// policy as UpsertHistorical.
func (r *Repository) UpsertPeriodic(ctx context.Context, s *db.PeriodicSample) (bool, error) {
	query := `
		INSERT INTO appliance_periodic_samples (
			appliance_name, local_time, current_power, distance_ultrasonic,
			distance_bluetooth, distance_ultrawideband, user_presence_detected
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (appliance_name, local_time) DO NOTHING
	`

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	tag, err := r.pool.Exec(ctx, query,
		s.ApplianceName,
		s.ObservedAt,
		s.CurrentPower,
		s.DistanceUltrasonic,
		s.DistanceBluetooth,
		s.DistanceUltrawideband,
		s.UserPresenceDetected,
	)
	if err != nil {
		return false, wrapErr("upsert periodic sample", err)
	}

	return tag.RowsAffected() == 1, nil
}

// LatestHistorical returns the sample with the greatest local_time for the
// appliance. Equal timestamps cannot occur under the unique key, but id is
// used as a tie-break so the result never depends on scan order.
func (r *Repository) LatestHistorical(ctx context.Context, applianceName string) (*db.HistoricalSample, error) {
	query := `
		SELECT appliance_name, local_time, today_runtime, month_runtime, today_energy, month_energy
		FROM appliance_historical_samples
		WHERE appliance_name = $1
		ORDER BY local_time DESC, id DESC
		LIMIT 1
	`

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var s db.HistoricalSample
	err := r.pool.QueryRow(ctx, query, applianceName).Scan(
		&s.ApplianceName,
		&s.ObservedAt,
		&s.TodayRuntime,
		&s.MonthRuntime,
		&s.TodayEnergy,
		&s.MonthEnergy,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrapErr("latest historical sample", err)
	}

	return &s, nil
}

// StreamPeriodic calls fn for every periodic sample of the appliance in
// time order without materializing the result set. Returning an error from
// fn stops the scan and is returned unchanged.
func (r *Repository) StreamPeriodic(ctx context.Context, applianceName string, order Order, fn func(*db.PeriodicSample) error) error {
	query := `
		SELECT appliance_name, local_time, current_power, distance_ultrasonic,
			distance_bluetooth, distance_ultrawideband, user_presence_detected
		FROM appliance_periodic_samples
		WHERE appliance_name = $1
		ORDER BY local_time ` + order.sql() + `, id ` + order.sql()

	ctx, cancel := r.withStreamTimeout(ctx)
	defer cancel()

	rows, err := r.pool.Query(ctx, query, applianceName)
	if err != nil {
		return wrapErr("query periodic samples", err)
	}
	defer rows.Close()

	var s db.PeriodicSample
	for rows.Next() {
		if err := rows.Scan(
			&s.ApplianceName,
			&s.ObservedAt,
			&s.CurrentPower,
			&s.DistanceUltrasonic,
			&s.DistanceBluetooth,
			&s.DistanceUltrawideband,
			&s.UserPresenceDetected,
		); err != nil {
			return wrapErr("scan periodic sample", err)
		}
		if err := fn(&s); err != nil {
			return err
		}
	}

	if err := rows.Err(); err != nil {
		return wrapErr("iterate periodic samples", err)
	}

	return nil
}

// AllPeriodic collects StreamPeriodic into a slice.
func (r *Repository) AllPeriodic(ctx context.Context, applianceName string, order Order) ([]db.PeriodicSample, error) {
	samples := make([]db.PeriodicSample, 0, 64)
	err := r.StreamPeriodic(ctx, applianceName, order, func(s *db.PeriodicSample) error {
		samples = append(samples, *s)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return samples, nil
}

// DistinctApplianceNames lists every appliance with at least one periodic
// sample, sorted by name.
func (r *Repository) DistinctApplianceNames(ctx context.Context) ([]string, error) {
	query := `
		SELECT DISTINCT appliance_name
		FROM appliance_periodic_samples
		ORDER BY appliance_name
	`

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, wrapErr("query appliance names", err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, wrapErr("scan appliance name", err)
		}
		names = append(names, name)
	}

	if err := rows.Err(); err != nil {
		return nil, wrapErr("iterate appliance names", err)
	}

	return names, nil
}

// DistinctDates lists the calendar dates with periodic samples for the
// appliance, newest first.
func (r *Repository) DistinctDates(ctx context.Context, applianceName string) ([]time.Time, error) {
	query := `
		SELECT DISTINCT local_time::date AS day
		FROM appliance_periodic_samples
		WHERE appliance_name = $1
		ORDER BY day DESC
	`

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	rows, err := r.pool.Query(ctx, query, applianceName)
	if err != nil {
		return nil, wrapErr("query available dates", err)
	}
	defer rows.Close()

	dates := []time.Time{}
	for rows.Next() {
		var day time.Time
		if err := rows.Scan(&day); err != nil {
			return nil, wrapErr("scan available date", err)
		}
		dates = append(dates, day)
	}

	if err := rows.Err(); err != nil {
		return nil, wrapErr("iterate available dates", err)
	}

	return dates, nil
}

// Ping checks that the database is reachable.
func (r *Repository) Ping(ctx context.Context) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	return wrapErr("ping", r.pool.Ping(ctx))
}
