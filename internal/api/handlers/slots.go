package handlers

import (
	"context"
	"net/http"

	"courtbot/internal/api/middleware"
	"courtbot/internal/models"
	"courtbot/internal/storage"
)

// SlotLister reads stored slots.
type SlotLister interface {
	List(ctx context.Context, f storage.SlotFilter) ([]models.Slot, error)
}

// ListSlots returns stored slots filtered by the from, to, facility, status
// and limit query parameters.
func ListSlots(slots SlotLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		filter := storage.SlotFilter{
			FacilityID: q.Get("facility"),
			Status:     models.SlotStatus(q.Get("status")),
		}
		var err error
		if v := q.Get("from"); v != "" {
			if filter.From, err = parseDate(v); err != nil {
				middleware.WriteError(w, http.StatusBadRequest, middleware.ErrBadRequest, "Invalid from date: "+v)
				return
			}
		}
		if v := q.Get("to"); v != "" {
			if filter.To, err = parseDate(v); err != nil {
				middleware.WriteError(w, http.StatusBadRequest, middleware.ErrBadRequest, "Invalid to date: "+v)
				return
			}
		}
		switch filter.Status {
		case "", models.StatusAvailable, models.StatusTaken, models.StatusUnknown:
		default:
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrBadRequest, "Invalid status: "+string(filter.Status))
			return
		}
		if filter.Limit, err = queryInt(r, "limit", 500); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrBadRequest, "Invalid limit")
			return
		}

		list, err := slots.List(r.Context(), filter)
		if err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to query slots")
			return
		}
		if list == nil {
			list = []models.Slot{}
		}
		writeJSON(w, http.StatusOK, list)
	}
}

// ListFacilities returns the configured facilities in priority order.
func ListFacilities(engine Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		facilities := engine.Facilities()
		if facilities == nil {
			facilities = []models.Facility{}
		}
		writeJSON(w, http.StatusOK, facilities)
	}
}
