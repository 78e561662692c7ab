package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/questlog/questlog/internal/database"
	"github.com/questlog/questlog/internal/middleware"
	"github.com/questlog/questlog/internal/models"
	"github.com/questlog/questlog/internal/store"
	"github.com/questlog/questlog/internal/validation"
)

// TaskHandler handles task-related requests
type TaskHandler struct {
	store *store.Store
}

// NewTaskHandler creates a new task handler
func NewTaskHandler(store *store.Store) *TaskHandler {
	return &TaskHandler{store: store}
}

// RegisterRoutes registers task routes on the given router
// The router should already have the /tasks prefix (e.g., from apiRouter.PathPrefix("/tasks"))
func (h *TaskHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("", h.ListTasks).Methods("GET")
	r.HandleFunc("", h.CreateTask).Methods("POST")
	r.HandleFunc("/sync", h.SyncTasks).Methods("POST")
	r.HandleFunc("/{id}", h.GetTask).Methods("GET")
	r.HandleFunc("/{id}", h.UpdateTask).Methods("PATCH")
	r.HandleFunc("/{id}", h.DeleteTask).Methods("DELETE")
	r.HandleFunc("/{id}/complete", h.CompleteTask).Methods("POST")
	r.HandleFunc("/{id}/favorite", h.FavoriteTask).Methods("POST")
}

const (
	// MaxTitleLength is the maximum length for a task title
	MaxTitleLength = 500
	// MaxDescriptionLength is the maximum length for a task description
	MaxDescriptionLength = 10000
	// MaxTags is the maximum number of tags per task
	MaxTags = 20
	// MaxPageSize is the largest page the list endpoint will return
	MaxPageSize = 500
)

// CreateTaskRequest represents a create task request
type CreateTaskRequest struct {
	Title       string     `json:"title" validate:"required,min=1,max=500"`
	Description string     `json:"description" validate:"max=10000"`
	Priority    string     `json:"priority" validate:"omitempty,priority"`
	Category    string     `json:"category" validate:"max=100"`
	DueDate     *time.Time `json:"due_date"`
	XPReward    int        `json:"xp_reward" validate:"omitempty,gt=0"`
	Tags        []string   `json:"tags" validate:"max=20,dive,max=50"`
	Repeat      string     `json:"repeat" validate:"omitempty,repeat_rule"`
	RepeatUntil *time.Time `json:"repeat_until"`
}

// UpdateTaskRequest represents a partial task update. Omitted fields are
// left unchanged; clear_repeat_until removes an existing recurrence end
// date, which omitting repeat_until cannot express.
type UpdateTaskRequest struct {
	Title            *string            `json:"title,omitempty"`
	Description      *string            `json:"description,omitempty"`
	Priority         *models.Priority   `json:"priority,omitempty"`
	Category         *string            `json:"category,omitempty"`
	DueDate          *time.Time         `json:"due_date,omitempty"`
	XPReward         *int               `json:"xp_reward,omitempty"`
	Tags             *[]string          `json:"tags,omitempty"`
	Repeat           *models.RepeatRule `json:"repeat,omitempty"`
	RepeatUntil      *time.Time         `json:"repeat_until,omitempty"`
	ClearRepeatUntil bool               `json:"clear_repeat_until,omitempty"`
}

// ListTasksResponse represents the response for listing tasks
type ListTasksResponse struct {
	Tasks []models.Task `json:"tasks"`
	Total int           `json:"total"`
}

// SyncTasksResponse represents the response for a sync request
type SyncTasksResponse struct {
	Tasks   []models.Task            `json:"tasks"`
	Stats   *models.ProgressionStats `json:"stats"`
	Spawned int                      `json:"spawned"`
}

// ListTasks lists tasks for the authenticated user
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r)
	if user == nil {
		respondJSONError(w, http.StatusUnauthorized, "Unauthorized", "User not found in context")
		return
	}

	ctx := r.Context()

	// Parse and validate query parameters
	var filter database.TaskFilter

	if c := r.URL.Query().Get("completed"); c != "" {
		parsed, err := strconv.ParseBool(c)
		if err != nil {
			respondJSONError(w, http.StatusBadRequest, "Bad Request", "Invalid completed filter")
			return
		}
		filter.Completed = &parsed
	}

	if p := r.URL.Query().Get("priority"); p != "" {
		if err := validation.ValidatePriority(p); err != nil {
			respondJSONError(w, http.StatusBadRequest, "Bad Request", err.Error())
			return
		}
		pEnum := models.Priority(p)
		filter.Priority = &pEnum
	}

	if c := r.URL.Query().Get("category"); c != "" {
		filter.Category = &c
	}

	if f := r.URL.Query().Get("favorite"); f != "" {
		parsed, err := strconv.ParseBool(f)
		if err != nil {
			respondJSONError(w, http.StatusBadRequest, "Bad Request", "Invalid favorite filter")
			return
		}
		filter.Favorite = &parsed
	}

	if d := r.URL.Query().Get("due_on"); d != "" {
		parsed, err := time.Parse("2006-01-02", d)
		if err != nil {
			respondJSONError(w, http.StatusBadRequest, "Bad Request", "Invalid due_on date (expected YYYY-MM-DD)")
			return
		}
		filter.DueOn = &parsed
	}

	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 || parsed > MaxPageSize {
			respondJSONError(w, http.StatusBadRequest, "Bad Request", fmt.Sprintf("Invalid limit (expected 1-%d)", MaxPageSize))
			return
		}
		filter.Limit = parsed
	}

	if o := r.URL.Query().Get("offset"); o != "" {
		parsed, err := strconv.Atoi(o)
		if err != nil || parsed < 0 {
			respondJSONError(w, http.StatusBadRequest, "Bad Request", "Invalid offset")
			return
		}
		filter.Offset = parsed
	}

	tasks, err := h.store.List(ctx, user.ID, filter)
	if err != nil {
		respondJSONError(w, http.StatusInternalServerError, "Internal Server Error", "Failed to retrieve tasks")
		return
	}
	if tasks == nil {
		tasks = []models.Task{}
	}

	respondJSON(w, http.StatusOK, ListTasksResponse{Tasks: tasks, Total: len(tasks)})
}

// CreateTask creates a new task
func (h *TaskHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r)
	if user == nil {
		respondJSONError(w, http.StatusUnauthorized, "Unauthorized", "User not found in context")
		return
	}

	var req CreateTaskRequest
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(&req); err != nil {
		// Check if error is due to request size limit
		if maxBytesErr, ok := err.(*http.MaxBytesError); ok {
			respondJSONError(w, http.StatusRequestEntityTooLarge, "Request Entity Too Large", fmt.Sprintf("Request body exceeds maximum size of %d bytes", maxBytesErr.Limit))
			return
		}
		respondJSONError(w, http.StatusBadRequest, "Bad Request", "Invalid request body")
		return
	}

	// Validate request
	if err := validation.Validate.Struct(req); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			for _, fieldError := range validationErrors {
				respondJSONError(w, http.StatusBadRequest, "Bad Request", fmt.Sprintf("Validation failed: %s", fieldError.Error()))
				return
			}
		}
		respondJSONError(w, http.StatusBadRequest, "Bad Request", "Validation failed")
		return
	}

	// Sanitize text input
	req.Title = validation.SanitizeText(req.Title)
	if req.Title == "" {
		respondJSONError(w, http.StatusBadRequest, "Bad Request", "Title is required and cannot be empty after sanitization")
		return
	}
	if len(req.Title) > MaxTitleLength {
		respondJSONError(w, http.StatusBadRequest, "Bad Request", fmt.Sprintf("Title exceeds maximum length of %d characters", MaxTitleLength))
		return
	}
	req.Description = validation.SanitizeText(req.Description)

	ctx := r.Context()
	task := &models.Task{
		ID:          uuid.New(),
		UserID:      user.ID,
		Title:       req.Title,
		Description: req.Description,
		Priority:    models.PriorityMedium, // Default to 'medium'
		Category:    req.Category,
		DueDate:     time.Now(),
		XPReward:    models.DefaultXPReward,
		Tags:        req.Tags,
		Repeat:      models.RepeatNone,
		RepeatUntil: req.RepeatUntil,
	}
	if req.Priority != "" {
		task.Priority = models.Priority(req.Priority)
	}
	if req.DueDate != nil {
		task.DueDate = *req.DueDate
	}
	if req.XPReward > 0 {
		task.XPReward = req.XPReward
	}
	if req.Repeat != "" {
		task.Repeat = models.RepeatRule(req.Repeat)
	}

	if err := h.store.Create(ctx, task); err != nil {
		respondJSONError(w, http.StatusInternalServerError, "Internal Server Error", "Failed to create task")
		return
	}

	respondJSON(w, http.StatusCreated, task)
}

// GetTask retrieves a task by ID
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r)
	if user == nil {
		respondJSONError(w, http.StatusUnauthorized, "Unauthorized", "User not found in context")
		return
	}

	vars := mux.Vars(r)
	id, err := uuid.Parse(vars["id"])
	if err != nil {
		respondJSONError(w, http.StatusBadRequest, "Bad Request", "Invalid task ID")
		return
	}

	ctx := r.Context()
	task, err := h.store.Get(ctx, user.ID, id)
	if err != nil {
		respondJSONError(w, http.StatusInternalServerError, "Internal Server Error", "Failed to retrieve task")
		return
	}
	if task == nil {
		respondJSONError(w, http.StatusNotFound, "Not Found", "Task not found")
		return
	}

	respondJSON(w, http.StatusOK, task)
}

// UpdateTask applies a partial update to an existing task
func (h *TaskHandler) UpdateTask(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r)
	if user == nil {
		respondJSONError(w, http.StatusUnauthorized, "Unauthorized", "User not found in context")
		return
	}

	vars := mux.Vars(r)
	id, err := uuid.Parse(vars["id"])
	if err != nil {
		respondJSONError(w, http.StatusBadRequest, "Bad Request", "Invalid task ID")
		return
	}

	var req UpdateTaskRequest
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(&req); err != nil {
		if maxBytesErr, ok := err.(*http.MaxBytesError); ok {
			respondJSONError(w, http.StatusRequestEntityTooLarge, "Request Entity Too Large", fmt.Sprintf("Request body exceeds maximum size of %d bytes", maxBytesErr.Limit))
			return
		}
		respondJSONError(w, http.StatusBadRequest, "Bad Request", "Invalid request body")
		return
	}

	if req.ClearRepeatUntil && req.RepeatUntil != nil {
		respondJSONError(w, http.StatusBadRequest, "Bad Request", "clear_repeat_until cannot be combined with repeat_until")
		return
	}

	// Validate fields if provided
	updates := store.TaskUpdate{
		Description:      req.Description,
		Category:         req.Category,
		DueDate:          req.DueDate,
		Tags:             req.Tags,
		RepeatUntil:      req.RepeatUntil,
		ClearRepeatUntil: req.ClearRepeatUntil,
	}

	if req.Title != nil {
		sanitized := validation.SanitizeText(*req.Title)
		if sanitized == "" {
			respondJSONError(w, http.StatusBadRequest, "Bad Request", "Title cannot be empty after sanitization")
			return
		}
		if len(sanitized) > MaxTitleLength {
			respondJSONError(w, http.StatusBadRequest, "Bad Request", fmt.Sprintf("Title exceeds maximum length of %d characters", MaxTitleLength))
			return
		}
		updates.Title = &sanitized
	}
	if req.Description != nil {
		sanitized := validation.SanitizeText(*req.Description)
		updates.Description = &sanitized
	}
	if req.Priority != nil {
		if err := validation.ValidatePriority(string(*req.Priority)); err != nil {
			respondJSONError(w, http.StatusBadRequest, "Bad Request", err.Error())
			return
		}
		updates.Priority = req.Priority
	}
	if req.XPReward != nil {
		if *req.XPReward <= 0 {
			respondJSONError(w, http.StatusBadRequest, "Bad Request", "xp_reward must be positive")
			return
		}
		updates.XPReward = req.XPReward
	}
	if req.Tags != nil && len(*req.Tags) > MaxTags {
		respondJSONError(w, http.StatusBadRequest, "Bad Request", fmt.Sprintf("At most %d tags are allowed", MaxTags))
		return
	}
	if req.Repeat != nil {
		if err := validation.ValidateRepeatRule(string(*req.Repeat)); err != nil {
			respondJSONError(w, http.StatusBadRequest, "Bad Request", err.Error())
			return
		}
		updates.Repeat = req.Repeat
	}

	ctx := r.Context()
	task, err := h.store.Update(ctx, user.ID, id, updates)
	if err != nil {
		respondJSONError(w, http.StatusInternalServerError, "Internal Server Error", "Failed to update task")
		return
	}
	if task == nil {
		respondJSONError(w, http.StatusNotFound, "Not Found", "Task not found")
		return
	}

	respondJSON(w, http.StatusOK, task)
}

// DeleteTask deletes a task
func (h *TaskHandler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r)
	if user == nil {
		respondJSONError(w, http.StatusUnauthorized, "Unauthorized", "User not found in context")
		return
	}

	vars := mux.Vars(r)
	id, err := uuid.Parse(vars["id"])
	if err != nil {
		respondJSONError(w, http.StatusBadRequest, "Bad Request", "Invalid task ID")
		return
	}

	ctx := r.Context()
	if err := h.store.Delete(ctx, user.ID, id); err != nil {
		respondJSONError(w, http.StatusInternalServerError, "Internal Server Error", "Failed to delete task")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// CompleteTask toggles a task's completion state
func (h *TaskHandler) CompleteTask(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r)
	if user == nil {
		respondJSONError(w, http.StatusUnauthorized, "Unauthorized", "User not found in context")
		return
	}

	vars := mux.Vars(r)
	id, err := uuid.Parse(vars["id"])
	if err != nil {
		respondJSONError(w, http.StatusBadRequest, "Bad Request", "Invalid task ID")
		return
	}

	ctx := r.Context()
	task, err := h.store.ToggleComplete(ctx, user.ID, id)
	if err != nil {
		respondJSONError(w, http.StatusInternalServerError, "Internal Server Error", "Failed to update task")
		return
	}
	if task == nil {
		respondJSONError(w, http.StatusNotFound, "Not Found", "Task not found")
		return
	}

	respondJSON(w, http.StatusOK, task)
}

// FavoriteTask toggles a task's favorite flag
func (h *TaskHandler) FavoriteTask(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r)
	if user == nil {
		respondJSONError(w, http.StatusUnauthorized, "Unauthorized", "User not found in context")
		return
	}

	vars := mux.Vars(r)
	id, err := uuid.Parse(vars["id"])
	if err != nil {
		respondJSONError(w, http.StatusBadRequest, "Bad Request", "Invalid task ID")
		return
	}

	ctx := r.Context()
	task, err := h.store.ToggleFavorite(ctx, user.ID, id)
	if err != nil {
		respondJSONError(w, http.StatusInternalServerError, "Internal Server Error", "Failed to update task")
		return
	}
	if task == nil {
		respondJSONError(w, http.StatusNotFound, "Not Found", "Task not found")
		return
	}

	respondJSON(w, http.StatusOK, task)
}

// SyncTasks reloads the task collection, recomputes stats, and runs the
// daily recurrence pass if it has not run yet today
func (h *TaskHandler) SyncTasks(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r)
	if user == nil {
		respondJSONError(w, http.StatusUnauthorized, "Unauthorized", "User not found in context")
		return
	}

	ctx := r.Context()
	result, err := h.store.Sync(ctx, user.ID)
	if err != nil {
		respondJSONError(w, http.StatusInternalServerError, "Internal Server Error", "Failed to sync tasks")
		return
	}
	if result.Tasks == nil {
		result.Tasks = []models.Task{}
	}

	respondJSON(w, http.StatusOK, SyncTasksResponse{
		Tasks:   result.Tasks,
		Stats:   result.Stats,
		Spawned: result.Spawned,
	})
}
