package handlers

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"courtbot/internal/api/middleware"
	"courtbot/internal/cancel"
	"courtbot/internal/portal"
)

// Canceller cancels reservations on the portal.
type Canceller interface {
	Cancel(ctx context.Context, number string) (cancel.Cancellation, error)
}

// CancelReservation cancels the reservation whose number is in the path.
func CancelReservation(c Canceller, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		number := mux.Vars(r)["number"]
		if len(number) != 10 || !portal.ReservationNumberPattern.MatchString(number) {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrValidation, "Invalid reservation number: "+number)
			return
		}
		done, err := c.Cancel(r.Context(), number)
		if err != nil {
			middleware.WriteEngineError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, done)
	}
}
