package handlers

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/questlog/questlog/internal/middleware"
	"github.com/questlog/questlog/internal/models"
	"github.com/questlog/questlog/internal/store"
)

// NotificationHandler handles notification queue requests
type NotificationHandler struct {
	store *store.Store
}

// NewNotificationHandler creates a new notification handler
func NewNotificationHandler(store *store.Store) *NotificationHandler {
	return &NotificationHandler{store: store}
}

// RegisterRoutes registers notification routes on the given router
// The router should already have the /notifications prefix
func (h *NotificationHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("", h.ListNotifications).Methods("GET")
	r.HandleFunc("/{id}", h.DismissNotification).Methods("DELETE")
}

// ListNotificationsResponse represents the active notification queue
type ListNotificationsResponse struct {
	Notifications []models.Notification `json:"notifications"`
}

// ListNotifications returns the user's live (non-expired) notifications,
// newest first
func (h *NotificationHandler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r)
	if user == nil {
		respondJSONError(w, http.StatusUnauthorized, "Unauthorized", "User not found in context")
		return
	}

	active := h.store.Notifications(user.ID).Active()
	if active == nil {
		active = []models.Notification{}
	}

	respondJSON(w, http.StatusOK, ListNotificationsResponse{Notifications: active})
}

// DismissNotification removes one notification before it expires. Dismissing
// an unknown id is a no-op.
func (h *NotificationHandler) DismissNotification(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r)
	if user == nil {
		respondJSONError(w, http.StatusUnauthorized, "Unauthorized", "User not found in context")
		return
	}

	vars := mux.Vars(r)
	id, err := uuid.Parse(vars["id"])
	if err != nil {
		respondJSONError(w, http.StatusBadRequest, "Bad Request", "Invalid notification ID")
		return
	}

	h.store.Notifications(user.ID).Remove(id)
	w.WriteHeader(http.StatusNoContent)
}
