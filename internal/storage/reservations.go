package storage

import (
	"context"
	"fmt"
	"strconv"

	"courtbot/internal/models"
)

// ReservationRepository records one row per booking attempt.
type ReservationRepository struct {
	db *DB
}

func NewReservationRepository(db *DB) *ReservationRepository {
	return &ReservationRepository{db: db}
}

// StoreBooking records r. Attempts are immutable; storing the same attempt
// twice is an error.
func (r *ReservationRepository) StoreBooking(ctx context.Context, b models.BookingResult) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO reservations (
			attempt_id, facility_id, facility_name, court_id, court_name,
			use_date, start_time, end_time, user_count, event_label,
			outcome, confirmation_number, failure_step, failure_reason, committed,
			started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		b.AttemptID, b.Facility.FacilityID, b.Facility.FacilityName, b.Facility.CourtID, b.Facility.CourtName,
		b.Slot.Date.YMD(), int(b.Slot.Start), int(b.Slot.End), b.UserCount, b.EventLabel,
		string(b.Outcome), b.ConfirmationNumber, b.FailureStep, b.FailureReason, b.Committed,
		b.StartedAt.UTC(), b.FinishedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("inserting reservation %s: %w", b.AttemptID, err)
	}
	return nil
}

// List returns the newest attempts first.
func (r *ReservationRepository) List(ctx context.Context, limit int) ([]models.BookingResult, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT attempt_id, facility_id, facility_name, court_id, court_name,
			   use_date, start_time, end_time, user_count, event_label,
			   outcome, confirmation_number, failure_step, failure_reason, committed,
			   started_at, finished_at
		FROM reservations
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying reservations: %w", err)
	}
	defer rows.Close()

	var out []models.BookingResult
	for rows.Next() {
		var (
			b          models.BookingResult
			date       int
			start, end int
			outcome    string
		)
		if err := rows.Scan(
			&b.AttemptID, &b.Facility.FacilityID, &b.Facility.FacilityName, &b.Facility.CourtID, &b.Facility.CourtName,
			&date, &start, &end, &b.UserCount, &b.EventLabel,
			&outcome, &b.ConfirmationNumber, &b.FailureStep, &b.FailureReason, &b.Committed,
			&b.StartedAt, &b.FinishedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning reservation: %w", err)
		}
		if b.Slot.Date, err = models.ParseYMD(strconv.Itoa(date)); err != nil {
			return nil, err
		}
		b.Slot.FacilityRef = b.Facility
		b.Slot.Start, b.Slot.End = models.Clock(start), models.Clock(end)
		b.Outcome = models.BookingOutcome(outcome)
		out = append(out, b)
	}
	return out, rows.Err()
}
