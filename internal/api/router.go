// Package api provides HTTP routing for the REST API and the WebSocket push
// channel.
package api

import (
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"courtbot/internal/api/handlers"
	"courtbot/internal/api/middleware"
	"courtbot/internal/booking"
	"courtbot/internal/events"
	"courtbot/internal/websocket"
)

// Deps are the services behind the routes. Nil storage or hub disables the
// routes that need them.
type Deps struct {
	Engine       handlers.Engine
	DB           handlers.Pinger
	Slots        handlers.SlotLister
	Reservations handlers.ReservationLister
	Canceller    handlers.Canceller
	Activity     handlers.ActivityLister
	Recent       *events.Recent
	Monitor      handlers.MonitorStatus
	Hub          *websocket.Hub
	// Booking fills the fields a booking request leaves empty.
	Booking  booking.Request
	ScanDays int
	Log      *zap.Logger
}

// NewRouter creates and configures the HTTP router with all API routes.
func NewRouter(d Deps) *mux.Router {
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	r := mux.NewRouter()

	r.Use(middleware.Logging(log))
	r.Use(middleware.ErrorRecovery(log))

	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/health", handlers.HealthCheck(d.DB)).Methods("GET")
	api.HandleFunc("/status", handlers.Status(d.Engine, d.Recent, d.Monitor, d.Hub)).Methods("GET")
	api.HandleFunc("/facilities", handlers.ListFacilities(d.Engine)).Methods("GET")

	if d.Slots != nil {
		api.HandleFunc("/slots", handlers.ListSlots(d.Slots)).Methods("GET")
	}
	if d.Reservations != nil {
		api.HandleFunc("/reservations", handlers.ListReservations(d.Reservations)).Methods("GET")
	}
	if d.Activity != nil {
		api.HandleFunc("/activity", handlers.ListActivity(d.Activity)).Methods("GET")
	}

	api.HandleFunc("/scan", handlers.TriggerScan(d.Engine, d.ScanDays)).Methods("POST")
	api.HandleFunc("/book", handlers.Book(d.Engine, d.Booking)).Methods("POST")
	if d.Canceller != nil {
		api.HandleFunc("/reservations/{number}/cancel", handlers.CancelReservation(d.Canceller, log)).Methods("POST")
	}

	if d.Hub != nil {
		api.HandleFunc("/ws", handlers.WebSocketUpgrade(d.Hub, log)).Methods("GET")
	}
	return r
}
