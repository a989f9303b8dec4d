package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"courtbot/internal/api/middleware"
	"courtbot/internal/booking"
	"courtbot/internal/models"
)

// ReservationLister reads recorded booking results.
type ReservationLister interface {
	List(ctx context.Context, limit int) ([]models.BookingResult, error)
}

// ListReservations returns the newest booking results first.
func ListReservations(reservations ReservationLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := queryInt(r, "limit", 50)
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrBadRequest, "Invalid limit")
			return
		}
		list, err := reservations.List(r.Context(), limit)
		if err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to query reservations")
			return
		}
		if list == nil {
			list = []models.BookingResult{}
		}
		writeJSON(w, http.StatusOK, list)
	}
}

// BookRequest is the body of POST /api/book.
type BookRequest struct {
	FacilityID     string `json:"facility_id"`
	CourtID        string `json:"court_id"`
	Date           string `json:"date"`
	Start          string `json:"start"`
	End            string `json:"end"`
	UserCount      int    `json:"user_count"`
	EventLabel     string `json:"event_label"`
	DismissPayment bool   `json:"dismiss_payment"`
}

// Book runs one booking attempt and returns its result: 201 when the
// portal confirmed the reservation, 409 otherwise.
func Book(engine Engine, defaults booking.Request) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BookRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrBadRequest, "Invalid request body")
			return
		}

		var problems []string
		f, ok := engine.Facility(req.FacilityID)
		if !ok {
			problems = append(problems, "unknown facility_id")
		}
		if req.CourtID == "" {
			problems = append(problems, "court_id is required")
		}
		date, err := parseDate(req.Date)
		if err != nil {
			problems = append(problems, "invalid date")
		}
		start, err := parseClock(req.Start)
		if err != nil {
			problems = append(problems, "invalid start")
		}
		var end models.Clock
		if req.End != "" {
			if end, err = parseClock(req.End); err != nil {
				problems = append(problems, "invalid end")
			}
		}
		if req.UserCount < 0 {
			problems = append(problems, "user_count must be positive")
		}
		if len(problems) > 0 {
			middleware.WriteErrorWithDetails(w, http.StatusBadRequest, middleware.ErrValidation, "Invalid booking request", problems)
			return
		}

		ref := models.FacilityRef{FacilityID: f.ID, FacilityName: f.Name, CourtID: req.CourtID}
		if c, ok := f.Court(req.CourtID); ok {
			ref = f.Ref(c)
		}
		breq := booking.Request{
			Slot:           models.Slot{FacilityRef: ref, Date: date, Start: start, End: end, Status: models.StatusAvailable},
			UserCount:      defaults.UserCount,
			EventLabel:     defaults.EventLabel,
			DismissPayment: defaults.DismissPayment || req.DismissPayment,
		}
		if req.UserCount > 0 {
			breq.UserCount = req.UserCount
		}
		if req.EventLabel != "" {
			breq.EventLabel = req.EventLabel
		}

		result := engine.Book(r.Context(), breq)
		status := http.StatusCreated
		if !result.Succeeded() {
			status = http.StatusConflict
		}
		writeJSON(w, status, result)
	}
}
