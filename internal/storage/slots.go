package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"courtbot/internal/models"
)

// SlotRepository stores the latest known state of every slot.
type SlotRepository struct {
	db  *DB
	now func() time.Time
}

func NewSlotRepository(db *DB) *SlotRepository {
	return &SlotRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// StoreSlots upserts slots by natural key. An unknown status never
// overwrites a known one.
func (r *SlotRepository) StoreSlots(ctx context.Context, slots []models.Slot) error {
	if len(slots) == 0 {
		return nil
	}
	now := r.now()
	return r.db.InTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO slots (
				facility_id, court_id, use_date, start_time, end_time,
				facility_name, court_name, status, cell_id, purpose_code, purpose_class_code,
				first_seen_at, last_seen_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (facility_id, court_id, use_date, start_time) DO UPDATE SET
				end_time = excluded.end_time,
				facility_name = CASE WHEN excluded.facility_name = '' THEN slots.facility_name ELSE excluded.facility_name END,
				court_name = CASE WHEN excluded.court_name = '' THEN slots.court_name ELSE excluded.court_name END,
				status = CASE WHEN excluded.status = 'unknown' THEN slots.status ELSE excluded.status END,
				cell_id = CASE WHEN excluded.cell_id = '' THEN slots.cell_id ELSE excluded.cell_id END,
				purpose_code = excluded.purpose_code,
				purpose_class_code = excluded.purpose_class_code,
				last_seen_at = excluded.last_seen_at
		`)
		if err != nil {
			return fmt.Errorf("preparing slot upsert: %w", err)
		}
		defer stmt.Close()

		for _, s := range slots {
			if _, err := stmt.ExecContext(ctx,
				s.FacilityID, s.CourtID, s.Date.YMD(), int(s.Start), int(s.End),
				s.FacilityName, s.CourtName, string(s.Status), s.CellID, s.PurposeCode, s.PurposeClassCode,
				now, now,
			); err != nil {
				return fmt.Errorf("upserting slot %s: %w", s.Key(), err)
			}
		}
		return nil
	})
}

// SlotFilter narrows List. Zero fields do not filter.
type SlotFilter struct {
	From       models.Date
	To         models.Date
	FacilityID string
	Status     models.SlotStatus
	Limit      int
}

// List returns stored slots ordered by date, start, facility and court.
func (r *SlotRepository) List(ctx context.Context, f SlotFilter) ([]models.Slot, error) {
	var (
		where []string
		args  []any
	)
	if f.From != (models.Date{}) {
		where = append(where, "use_date >= ?")
		args = append(args, f.From.YMD())
	}
	if f.To != (models.Date{}) {
		where = append(where, "use_date <= ?")
		args = append(args, f.To.YMD())
	}
	if f.FacilityID != "" {
		where = append(where, "facility_id = ?")
		args = append(args, f.FacilityID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}

	query := `
		SELECT facility_id, court_id, use_date, start_time, end_time,
			   facility_name, court_name, status, cell_id, purpose_code, purpose_class_code
		FROM slots`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY use_date, start_time, facility_id, court_id"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying slots: %w", err)
	}
	defer rows.Close()

	var slots []models.Slot
	for rows.Next() {
		var (
			s          models.Slot
			date       int
			start, end int
			status     string
		)
		if err := rows.Scan(
			&s.FacilityID, &s.CourtID, &date, &start, &end,
			&s.FacilityName, &s.CourtName, &status, &s.CellID, &s.PurposeCode, &s.PurposeClassCode,
		); err != nil {
			return nil, fmt.Errorf("scanning slot: %w", err)
		}
		if s.Date, err = models.ParseYMD(strconv.Itoa(date)); err != nil {
			return nil, err
		}
		s.Start, s.End, s.Status = models.Clock(start), models.Clock(end), models.SlotStatus(status)
		slots = append(slots, s)
	}
	return slots, rows.Err()
}
