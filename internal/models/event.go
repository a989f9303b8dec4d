package models

import "time"

// Activity categories emitted by the engine.
const (
	CategoryLogin       = "login"
	CategoryScan        = "scan"
	CategorySearch      = "search"
	CategoryNavigation  = "navigation"
	CategoryReservation = "reservation"
	CategorySystem      = "system"
)

// ActivityEvent is one structured log/activity record handed to observers.
type ActivityEvent struct {
	Category  string         `json:"category"`
	Message   string         `json:"message"`
	Success   bool           `json:"success"`
	Timestamp time.Time      `json:"timestamp"`
	Detail    map[string]any `json:"detail,omitempty"`
}

// ScanReport is the per-facility outcome of a scan. Complete is false when
// the scan covered less than the requested window; Err is set when the
// facility could not be scanned at all.
type ScanReport struct {
	Facility  Facility  `json:"facility"`
	Slots     []Slot    `json:"slots"`
	Complete  bool      `json:"complete"`
	Err       error     `json:"-"`
	Error     string    `json:"error,omitempty"`
	ScannedAt time.Time `json:"scanned_at"`
}
