// Package handlers provides HTTP request handlers for the API endpoints.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"courtbot/internal/booking"
	"courtbot/internal/models"
	"courtbot/internal/monitor"
)

// Engine is the part of the engine the API drives.
type Engine interface {
	Scan(ctx context.Context, facilities []models.Facility, r models.DateRange) []models.ScanReport
	Book(ctx context.Context, req booking.Request) models.BookingResult
	Facility(id string) (models.Facility, bool)
	Facilities() []models.Facility
}

// MonitorStatus reports on the scheduled checks.
type MonitorStatus interface {
	Last() (monitor.Check, bool)
	NextRun() (time.Time, bool)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// parseDate accepts 2006-01-02 and the portal's 20060102.
func parseDate(s string) (models.Date, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return models.DateOf(t), nil
	}
	return models.ParseYMD(s)
}

// parseClock accepts 11:00 and 1100.
func parseClock(s string) (models.Clock, error) {
	return models.ParseClock(strings.ReplaceAll(s, ":", ""))
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}
