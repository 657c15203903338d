package calllog

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Outcome classifies how a call ended
type Outcome string

const (
	OutcomeAnswered  Outcome = "answered"
	OutcomeDeclined  Outcome = "declined"
	OutcomeMissed    Outcome = "missed"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeFailed    Outcome = "failed"
)

// Record is one call history entry
type Record struct {
	ID              uuid.UUID  `json:"id"`
	CallID          string     `json:"call_id"`
	CallerID        string     `json:"caller_id"`
	CalleeID        string     `json:"callee_id"`
	CallType        string     `json:"call_type"`
	Outcome         Outcome    `json:"outcome"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	DurationSeconds int        `json:"duration_seconds"`
	CreatedAt       time.Time  `json:"created_at"`
}

// Repository handles call history database operations
type Repository struct {
	db *DB
}

// NewRepository creates a new call history repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// Record inserts a finished call with its outcome
func (r *Repository) Record(ctx context.Context, rec *Record) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO call_history
			(id, call_id, caller_id, callee_id, call_type, outcome, started_at, ended_at, duration_seconds, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.db.Pool.Exec(ctx, query,
		rec.ID, rec.CallID, rec.CallerID, rec.CalleeID, rec.CallType, rec.Outcome,
		rec.StartedAt, rec.EndedAt, rec.DurationSeconds, rec.CreatedAt,
	)
	return err
}

// Get retrieves a record by ID
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*Record, error) {
	query := `
		SELECT id, call_id, caller_id, callee_id, call_type, outcome,
		       started_at, ended_at, duration_seconds, created_at
		FROM call_history
		WHERE id = $1
	`

	var rec Record
	var startedAt, endedAt sql.NullTime

	err := r.db.Pool.QueryRow(ctx, query, id).Scan(
		&rec.ID, &rec.CallID, &rec.CallerID, &rec.CalleeID, &rec.CallType, &rec.Outcome,
		&startedAt, &endedAt, &rec.DurationSeconds, &rec.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if startedAt.Valid {
		rec.StartedAt = &startedAt.Time
	}
	if endedAt.Valid {
		rec.EndedAt = &endedAt.Time
	}
	return &rec, nil
}

// History retrieves recent calls where the user was either party
func (r *Repository) History(ctx context.Context, userID string, limit, offset int) ([]Record, error) {
	query := `
		SELECT id, call_id, caller_id, callee_id, call_type, outcome,
		       started_at, ended_at, duration_seconds, created_at
		FROM call_history
		WHERE caller_id = $1 OR callee_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Pool.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var startedAt, endedAt sql.NullTime

		if err := rows.Scan(
			&rec.ID, &rec.CallID, &rec.CallerID, &rec.CalleeID, &rec.CallType, &rec.Outcome,
			&startedAt, &endedAt, &rec.DurationSeconds, &rec.CreatedAt,
		); err != nil {
			return nil, err
		}

		if startedAt.Valid {
			rec.StartedAt = &startedAt.Time
		}
		if endedAt.Valid {
			rec.EndedAt = &endedAt.Time
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

// MissedCount returns how many calls the user missed since the given time
func (r *Repository) MissedCount(ctx context.Context, userID string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM call_history
		WHERE callee_id = $1 AND outcome = 'missed' AND created_at > $2
	`

	var count int
	err := r.db.Pool.QueryRow(ctx, query, userID, since).Scan(&count)
	return count, err
}
