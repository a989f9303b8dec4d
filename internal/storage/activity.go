package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"courtbot/internal/models"
)

// ActivityRepository is the persistent activity log. It implements
// events.Emitter.
type ActivityRepository struct {
	db      *DB
	log     *zap.Logger
	timeout time.Duration
}

func NewActivityRepository(db *DB, log *zap.Logger) *ActivityRepository {
	if log == nil {
		log = zap.NewNop()
	}
	return &ActivityRepository{db: db, log: log.Named("storage"), timeout: 5 * time.Second}
}

// Emit stores e. Failures are logged, never returned to the emitter.
func (r *ActivityRepository) Emit(e models.ActivityEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := r.Insert(ctx, e); err != nil {
		r.log.Warn("activity not stored", zap.Error(err))
	}
}

// Insert stores e.
func (r *ActivityRepository) Insert(ctx context.Context, e models.ActivityEvent) error {
	detail := ""
	if len(e.Detail) > 0 {
		b, err := json.Marshal(e.Detail)
		if err != nil {
			return fmt.Errorf("encoding activity detail: %w", err)
		}
		detail = string(b)
	}
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO activity_log (category, message, success, detail, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, e.Category, e.Message, e.Success, detail, ts.UTC())
	if err != nil {
		return fmt.Errorf("inserting activity: %w", err)
	}
	return nil
}

// Recent returns the newest events first.
func (r *ActivityRepository) Recent(ctx context.Context, limit int) ([]models.ActivityEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT category, message, success, detail, created_at
		FROM activity_log
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying activity: %w", err)
	}
	defer rows.Close()

	var out []models.ActivityEvent
	for rows.Next() {
		var (
			e      models.ActivityEvent
			detail string
		)
		if err := rows.Scan(&e.Category, &e.Message, &e.Success, &detail, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scanning activity: %w", err)
		}
		if detail != "" {
			if err := json.Unmarshal([]byte(detail), &e.Detail); err != nil {
				return nil, fmt.Errorf("decoding activity detail: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
