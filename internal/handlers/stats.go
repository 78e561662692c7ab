package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/questlog/questlog/internal/middleware"
	"github.com/questlog/questlog/internal/models"
	"github.com/questlog/questlog/internal/store"
)

// StatsHandler handles progression stats requests
type StatsHandler struct {
	store *store.Store
}

// NewStatsHandler creates a new stats handler
func NewStatsHandler(store *store.Store) *StatsHandler {
	return &StatsHandler{store: store}
}

// RegisterRoutes registers stats routes on the given router
func (h *StatsHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("", h.GetStats).Methods("GET")
}

// StatsResponse wraps progression stats with the derived level progress
type StatsResponse struct {
	*models.ProgressionStats
	LevelProgress float64 `json:"level_progress"`
}

// GetStats recomputes and returns the user's progression stats
func (h *StatsHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r)
	if user == nil {
		respondJSONError(w, http.StatusUnauthorized, "Unauthorized", "User not found in context")
		return
	}

	ctx := r.Context()
	stats, err := h.store.Stats(ctx, user.ID)
	if err != nil {
		respondJSONError(w, http.StatusInternalServerError, "Internal Server Error", "Failed to compute stats")
		return
	}

	respondJSON(w, http.StatusOK, StatsResponse{
		ProgressionStats: stats,
		LevelProgress:    stats.LevelProgress(),
	})
}
