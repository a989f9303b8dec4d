package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"courtbot/internal/api/middleware"
	"courtbot/internal/calendar"
	"courtbot/internal/models"
)

// ScanRequest is the body of POST /api/scan. Every field is optional.
type ScanRequest struct {
	FacilityIDs []string `json:"facility_ids"`
	From        string   `json:"from"`
	Days        int      `json:"days"`
}

// ScanResponse lists the per-facility outcome of a scan.
type ScanResponse struct {
	Range   models.DateRange    `json:"range"`
	Reports []models.ScanReport `json:"reports"`
}

// TriggerScan runs a fast-path scan and returns its reports. The slots also
// reach the storage and the WebSocket clients through the engine's sinks.
func TriggerScan(engine Engine, defaultDays int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ScanRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrBadRequest, "Invalid request body")
			return
		}

		from := calendar.Today()
		if req.From != "" {
			d, err := parseDate(req.From)
			if err != nil {
				middleware.WriteError(w, http.StatusBadRequest, middleware.ErrValidation, "Invalid from date: "+req.From)
				return
			}
			from = d
		}
		days := req.Days
		if days <= 0 {
			days = defaultDays
		}
		if days <= 0 || days > 92 {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrValidation, "days must be between 1 and 92")
			return
		}

		var facilities []models.Facility
		for _, id := range req.FacilityIDs {
			f, ok := engine.Facility(id)
			if !ok {
				middleware.WriteError(w, http.StatusNotFound, middleware.ErrNotFound, "Unknown facility: "+id)
				return
			}
			facilities = append(facilities, f)
		}

		rng := models.DateRange{From: from, To: from.AddDays(days - 1)}
		reports := engine.Scan(r.Context(), facilities, rng)
		writeJSON(w, http.StatusOK, ScanResponse{Range: rng, Reports: reports})
	}
}
