package history

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Sample is one recorded occupancy snapshot.
type Sample struct {
	ID              string    `json:"id"`
	TakenAt         time.Time `json:"taken_at"`
	Occupancy       int       `json:"occupancy"`
	Source          string    `json:"source"`
	LiveState       string    `json:"live_state"`
	PresentToday    int       `json:"present_today"`
	TotalRegistered int       `json:"total_registered"`
	CreatedAt       time.Time `json:"created_at"`
}

// Day summarises one calendar day of samples.
type Day struct {
	Date          time.Time `json:"date"`
	PeakOccupancy int       `json:"peak_occupancy"`
	PeakPresent   int       `json:"peak_present_today"`
	Samples       int       `json:"samples"`
}

// Repository persists occupancy history in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// EnsureSchema creates the history table if it does not exist yet.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS occupancy_samples (
			id               UUID PRIMARY KEY,
			taken_at         TIMESTAMPTZ NOT NULL,
			occupancy        INTEGER NOT NULL,
			source           TEXT NOT NULL,
			live_state       TEXT NOT NULL DEFAULT '',
			present_today    INTEGER NOT NULL DEFAULT 0,
			total_registered INTEGER NOT NULL DEFAULT 0,
			created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_occupancy_samples_taken_at ON occupancy_samples (taken_at);
	`)
	return err
}

// InsertSample writes a sample. Re-inserting the same ID is a no-op, so a
// redelivered queue message does not duplicate history.
func (r *Repository) InsertSample(ctx context.Context, s Sample) (Sample, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.TakenAt.IsZero() {
		s.TakenAt = time.Now().UTC()
	}
	if s.Source == "" {
		return Sample{}, errors.New("sample source required")
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO occupancy_samples (id, taken_at, occupancy, source, live_state, present_today, total_registered)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (id) DO UPDATE SET id = EXCLUDED.id
		RETURNING created_at
	`, s.ID, s.TakenAt, s.Occupancy, s.Source, s.LiveState, s.PresentToday, s.TotalRegistered)
	if err := row.Scan(&s.CreatedAt); err != nil {
		return Sample{}, err
	}
	return s, nil
}

// ListSamples returns samples newest first. Zero from/to leave that bound open.
func (r *Repository) ListSamples(ctx context.Context, from, to time.Time, limit int) ([]Sample, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	query := `SELECT id, taken_at, occupancy, source, live_state, present_today, total_registered, created_at FROM occupancy_samples`
	args := []any{}
	clauses := []string{}
	if !from.IsZero() {
		args = append(args, from)
		clauses = append(clauses, "taken_at >= $"+strconv.Itoa(len(args)))
	}
	if !to.IsZero() {
		args = append(args, to)
		clauses = append(clauses, "taken_at < $"+strconv.Itoa(len(args)))
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	args = append(args, limit)
	query += " ORDER BY taken_at DESC LIMIT $" + strconv.Itoa(len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []Sample{}
	for rows.Next() {
		var s Sample
		if err := rows.Scan(&s.ID, &s.TakenAt, &s.Occupancy, &s.Source, &s.LiveState, &s.PresentToday, &s.TotalRegistered, &s.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// Weekly returns per-day peaks for the seven days ending on now's date,
// oldest first. Days without samples are included with zero values.
func (r *Repository) Weekly(ctx context.Context, now time.Time) ([]Day, error) {
	// Postgres does not know the name "Local"
	if now.Location() == time.Local {
		now = now.UTC()
	}
	end := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).AddDate(0, 0, 1)
	start := end.AddDate(0, 0, -7)

	rows, err := r.db.QueryContext(ctx, `
		SELECT date_trunc('day', taken_at AT TIME ZONE $3) AS day,
		       MAX(occupancy), MAX(present_today), COUNT(*)
		FROM occupancy_samples
		WHERE taken_at >= $1 AND taken_at < $2
		GROUP BY day
		ORDER BY day
	`, start, end, now.Location().String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	found := map[string]Day{}
	for rows.Next() {
		var d Day
		if err := rows.Scan(&d.Date, &d.PeakOccupancy, &d.PeakPresent, &d.Samples); err != nil {
			return nil, err
		}
		found[d.Date.Format(time.DateOnly)] = d
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return fillWeek(start, found), nil
}

func fillWeek(start time.Time, found map[string]Day) []Day {
	days := make([]Day, 0, 7)
	for i := 0; i < 7; i++ {
		date := start.AddDate(0, 0, i)
		d := found[date.Format(time.DateOnly)]
		d.Date = date
		days = append(days, d)
	}
	return days
}
