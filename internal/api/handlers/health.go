package handlers

import (
	"context"
	"net/http"
	"time"

	"courtbot/internal/events"
	"courtbot/internal/models"
	ws "courtbot/internal/websocket"
)

// Pinger checks the database connection.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status      string `json:"status"`
	DBConnected bool   `json:"db_connected"`
}

// HealthCheck returns a handler that performs a health check.
func HealthCheck(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dbConnected := db != nil && db.PingContext(r.Context()) == nil

		response := HealthResponse{Status: "healthy", DBConnected: dbConnected}
		status := http.StatusOK
		if !dbConnected {
			response.Status = "degraded"
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, response)
	}
}

// CheckSummary condenses the last monitoring check.
type CheckSummary struct {
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Facilities int       `json:"facilities"`
	Failed     []string  `json:"failed,omitempty"`
	Available  int       `json:"available"`
	New        int       `json:"new"`
	Bookings   int       `json:"bookings"`
}

// StatusResponse represents the system status response.
type StatusResponse struct {
	Facilities       int                    `json:"facilities"`
	WebSocketClients int                    `json:"websocket_clients"`
	LastScan         *models.ActivityEvent  `json:"last_scan,omitempty"`
	LastReservation  *models.ActivityEvent  `json:"last_reservation,omitempty"`
	LastCheck        *CheckSummary          `json:"last_check,omitempty"`
	NextCheckAt      *time.Time             `json:"next_check_at,omitempty"`
	Recent           []models.ActivityEvent `json:"recent"`
}

// Status returns a handler that reports what the engine did recently.
func Status(engine Engine, recent *events.Recent, mon MonitorStatus, hub *ws.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := StatusResponse{Recent: []models.ActivityEvent{}}
		if engine != nil {
			response.Facilities = len(engine.Facilities())
		}
		if hub != nil {
			response.WebSocketClients = hub.ClientCount()
		}
		if recent != nil {
			response.Recent = recent.Events()
			if ev, ok := recent.Last(models.CategoryScan); ok {
				response.LastScan = &ev
			}
			if ev, ok := recent.Last(models.CategoryReservation); ok {
				response.LastReservation = &ev
			}
		}
		if mon != nil {
			if c, ok := mon.Last(); ok {
				summary := &CheckSummary{
					StartedAt:  c.StartedAt,
					FinishedAt: c.FinishedAt,
					Facilities: len(c.Reports),
					Available:  c.Available,
					New:        len(c.New),
					Bookings:   len(c.Bookings),
				}
				for _, rep := range c.Reports {
					if rep.Err != nil {
						summary.Failed = append(summary.Failed, rep.Facility.ID)
					}
				}
				response.LastCheck = summary
			}
			if next, ok := mon.NextRun(); ok {
				response.NextCheckAt = &next
			}
		}
		writeJSON(w, http.StatusOK, response)
	}
}
