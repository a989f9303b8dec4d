package handlers

import (
	"context"
	"net/http"

	"courtbot/internal/api/middleware"
	"courtbot/internal/models"
)

// ActivityLister reads the persisted activity log.
type ActivityLister interface {
	Recent(ctx context.Context, limit int) ([]models.ActivityEvent, error)
}

// ListActivity returns the newest activity log entries first.
func ListActivity(activity ActivityLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := queryInt(r, "limit", 100)
		if err != nil || limit <= 0 {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrBadRequest, "Invalid limit")
			return
		}
		list, err := activity.Recent(r.Context(), limit)
		if err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to query activity")
			return
		}
		if list == nil {
			list = []models.ActivityEvent{}
		}
		writeJSON(w, http.StatusOK, list)
	}
}
