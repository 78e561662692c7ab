package handlers

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/questlog/questlog/internal/database"
	"github.com/questlog/questlog/internal/middleware"
	"github.com/questlog/questlog/internal/models"
	"github.com/questlog/questlog/internal/notify"
	"github.com/questlog/questlog/internal/store"
	"go.uber.org/zap"
)

type fakeTaskRepo struct {
	tasks map[uuid.UUID]models.Task
}

func newFakeTaskRepo() *fakeTaskRepo {
	return &fakeTaskRepo{tasks: make(map[uuid.UUID]models.Task)}
}

func (f *fakeTaskRepo) Create(ctx context.Context, task *models.Task) error {
	task.CreatedAt = time.Now()
	task.UpdatedAt = task.CreatedAt
	f.tasks[task.ID] = *task
	return nil
}

func (f *fakeTaskRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	t, ok := f.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task not found: %w", sql.ErrNoRows)
	}
	return &t, nil
}

func (f *fakeTaskRepo) GetByUserID(ctx context.Context, userID uuid.UUID, filter database.TaskFilter) ([]models.Task, error) {
	var out []models.Task
	for _, t := range f.tasks {
		if t.UserID != userID {
			continue
		}
		if filter.Completed != nil && t.Completed != *filter.Completed {
			continue
		}
		if filter.Priority != nil && t.Priority != *filter.Priority {
			continue
		}
		out = append(out, t)
	}
	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(out) {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (f *fakeTaskRepo) Update(ctx context.Context, task *models.Task) error {
	if _, ok := f.tasks[task.ID]; !ok {
		return errors.New("task not found")
	}
	task.UpdatedAt = time.Now()
	f.tasks[task.ID] = *task
	return nil
}

func (f *fakeTaskRepo) Delete(ctx context.Context, id uuid.UUID) error {
	delete(f.tasks, id)
	return nil
}

func (f *fakeTaskRepo) CompletedRecurring(ctx context.Context, userID uuid.UUID) ([]models.Task, error) {
	var out []models.Task
	for _, t := range f.tasks {
		if t.UserID == userID && t.Completed && t.IsRecurring() {
			out = append(out, t)
		}
	}
	return out, nil
}

type fakeProfileRepo struct {
	stats map[uuid.UUID]models.ProgressionStats
}

func newFakeProfileRepo() *fakeProfileRepo {
	return &fakeProfileRepo{stats: make(map[uuid.UUID]models.ProgressionStats)}
}

func (f *fakeProfileRepo) Get(ctx context.Context, userID uuid.UUID) (*models.ProgressionStats, error) {
	s, ok := f.stats[userID]
	if !ok {
		return &models.ProgressionStats{CurrentLevel: 1}, nil
	}
	return &s, nil
}

func (f *fakeProfileRepo) Upsert(ctx context.Context, userID uuid.UUID, stats *models.ProgressionStats) error {
	f.stats[userID] = *stats
	return nil
}

type handlerFixture struct {
	repo   *fakeTaskRepo
	store  *store.Store
	router *mux.Router
	user   *models.User
}

func newTaskFixture(t *testing.T) *handlerFixture {
	t.Helper()

	repo := newFakeTaskRepo()
	s := store.New(repo, newFakeProfileRepo(), notify.NewHub(time.Minute), nil, zap.NewNop())

	r := mux.NewRouter()
	NewTaskHandler(s).RegisterRoutes(r.PathPrefix("/api/v1/tasks").Subrouter())

	return &handlerFixture{
		repo:   repo,
		store:  s,
		router: r,
		user:   &models.User{ID: uuid.New(), Email: "player@example.com"},
	}
}

func (f *handlerFixture) do(method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req = req.WithContext(middleware.SetUserInContext(req.Context(), f.user))

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()

	var envelope struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("failed to decode response envelope: %v", err)
	}
	if !envelope.Success {
		t.Fatalf("response not successful: %s", rec.Body.String())
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		t.Fatalf("failed to decode response data: %v", err)
	}
}

func TestCreateTask(t *testing.T) {
	t.Parallel()

	f := newTaskFixture(t)
	rec := f.do("POST", "/api/v1/tasks", map[string]any{
		"title":     "slay the inbox",
		"priority":  "high",
		"xp_reward": 30,
		"tags":      []string{"work"},
	})

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201 (%s)", rec.Code, rec.Body.String())
	}

	var task models.Task
	decodeData(t, rec, &task)
	if task.ID == uuid.Nil {
		t.Error("task id not assigned")
	}
	if task.Priority != models.PriorityHigh || task.XPReward != 30 {
		t.Errorf("task = %+v, want high priority and 30 xp", task)
	}
	if task.Repeat != models.RepeatNone {
		t.Errorf("repeat defaulted to %q, want none", task.Repeat)
	}
	if task.UserID != f.user.ID {
		t.Error("task not owned by the authenticated user")
	}
}

func TestCreateTask_DefaultsApplied(t *testing.T) {
	t.Parallel()

	f := newTaskFixture(t)
	rec := f.do("POST", "/api/v1/tasks", map[string]any{"title": "read a chapter"})

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", rec.Code)
	}

	var task models.Task
	decodeData(t, rec, &task)
	if task.Priority != models.PriorityMedium {
		t.Errorf("priority = %q, want medium default", task.Priority)
	}
	if task.XPReward != models.DefaultXPReward {
		t.Errorf("xp_reward = %d, want default %d", task.XPReward, models.DefaultXPReward)
	}
}

func TestCreateTask_ValidationFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body map[string]any
	}{
		{"empty title", map[string]any{"title": ""}},
		{"whitespace title", map[string]any{"title": "   "}},
		{"bad priority", map[string]any{"title": "x", "priority": "urgent"}},
		{"bad repeat", map[string]any{"title": "x", "repeat": "fortnightly"}},
		{"negative xp", map[string]any{"title": "x", "xp_reward": -5}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newTaskFixture(t)
			rec := f.do("POST", "/api/v1/tasks", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400 (%s)", rec.Code, rec.Body.String())
			}
			if len(f.repo.tasks) != 0 {
				t.Error("invalid request must not persist a task")
			}
		})
	}
}

func TestCreateTask_Unauthorized(t *testing.T) {
	t.Parallel()

	f := newTaskFixture(t)
	body, _ := json.Marshal(map[string]any{"title": "x"})
	req := httptest.NewRequest("POST", "/api/v1/tasks", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestGetTask_NotFoundAndForeign(t *testing.T) {
	t.Parallel()

	f := newTaskFixture(t)

	rec := f.do("GET", "/api/v1/tasks/"+uuid.NewString(), nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown id: status = %d, want 404", rec.Code)
	}

	// A task owned by someone else must be indistinguishable from a missing one
	foreign := models.Task{ID: uuid.New(), UserID: uuid.New(), Title: "not yours"}
	f.repo.tasks[foreign.ID] = foreign
	rec = f.do("GET", "/api/v1/tasks/"+foreign.ID.String(), nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("foreign task: status = %d, want 404", rec.Code)
	}
}

func TestListTasks_RejectsBadFilters(t *testing.T) {
	t.Parallel()

	f := newTaskFixture(t)

	for _, query := range []string{"?priority=urgent", "?completed=maybe", "?due_on=tomorrow", "?limit=0", "?limit=9999", "?offset=-1"} {
		rec := f.do("GET", "/api/v1/tasks"+query, nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("query %q: status = %d, want 400", query, rec.Code)
		}
	}
}

func TestListTasks_Pagination(t *testing.T) {
	t.Parallel()

	f := newTaskFixture(t)
	for i := 0; i < 4; i++ {
		f.do("POST", "/api/v1/tasks", CreateTaskRequest{Title: fmt.Sprintf("task %d", i)})
	}

	rec := f.do("GET", "/api/v1/tasks?limit=2", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp ListTasksResponse
	decodeData(t, rec, &resp)
	if len(resp.Tasks) != 2 {
		t.Errorf("limit=2 returned %d tasks", len(resp.Tasks))
	}

	rec = f.do("GET", "/api/v1/tasks?limit=2&offset=3", nil)
	decodeData(t, rec, &resp)
	if len(resp.Tasks) != 1 {
		t.Errorf("limit=2 offset=3 returned %d tasks, want 1", len(resp.Tasks))
	}
}

func TestCompleteTask_TogglesAndAwardsXP(t *testing.T) {
	t.Parallel()

	f := newTaskFixture(t)
	created := f.do("POST", "/api/v1/tasks", map[string]any{"title": "work out", "xp_reward": 25})
	var task models.Task
	decodeData(t, created, &task)

	rec := f.do("POST", "/api/v1/tasks/"+task.ID.String()+"/complete", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var done models.Task
	decodeData(t, rec, &done)
	if !done.Completed || done.CompletedAt == nil {
		t.Error("completion must set the flag and completed_at")
	}

	rec = f.do("POST", "/api/v1/tasks/"+task.ID.String()+"/complete", nil)
	var undone models.Task
	decodeData(t, rec, &undone)
	if undone.Completed || undone.CompletedAt != nil {
		t.Error("second toggle must revert the completion")
	}
}

func TestUpdateTask_PartialEdit(t *testing.T) {
	t.Parallel()

	f := newTaskFixture(t)
	created := f.do("POST", "/api/v1/tasks", map[string]any{"title": "draft report", "xp_reward": 20})
	var task models.Task
	decodeData(t, created, &task)

	rec := f.do("PATCH", "/api/v1/tasks/"+task.ID.String(), map[string]any{"title": "final report", "priority": "high"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (%s)", rec.Code, rec.Body.String())
	}

	var updated models.Task
	decodeData(t, rec, &updated)
	if updated.Title != "final report" || updated.Priority != models.PriorityHigh {
		t.Errorf("updated = %+v, want new title and priority", updated)
	}
	if updated.XPReward != 20 {
		t.Errorf("xp_reward changed to %d on an untouched field", updated.XPReward)
	}
}

func TestUpdateTask_ClearRepeatUntil(t *testing.T) {
	t.Parallel()

	f := newTaskFixture(t)
	until := time.Now().AddDate(0, 1, 0).Format(time.RFC3339)
	created := f.do("POST", "/api/v1/tasks", map[string]any{"title": "water plants", "repeat": "weekly", "repeat_until": until})
	var task models.Task
	decodeData(t, created, &task)
	if task.RepeatUntil == nil {
		t.Fatal("repeat_until not set on create")
	}

	rec := f.do("PATCH", "/api/v1/tasks/"+task.ID.String(), map[string]any{"clear_repeat_until": true})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (%s)", rec.Code, rec.Body.String())
	}
	var updated models.Task
	decodeData(t, rec, &updated)
	if updated.RepeatUntil != nil {
		t.Errorf("repeat_until = %v after clearing, want null", updated.RepeatUntil)
	}
	if updated.Repeat != models.RepeatWeekly {
		t.Errorf("repeat = %q, clearing the end date must not touch the rule", updated.Repeat)
	}

	// Setting and clearing in the same request is ambiguous
	rec = f.do("PATCH", "/api/v1/tasks/"+task.ID.String(), map[string]any{"repeat_until": until, "clear_repeat_until": true})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("combined set+clear: status = %d, want 400", rec.Code)
	}
}

func TestDeleteTask(t *testing.T) {
	t.Parallel()

	f := newTaskFixture(t)
	created := f.do("POST", "/api/v1/tasks", map[string]any{"title": "old chore"})
	var task models.Task
	decodeData(t, created, &task)

	rec := f.do("DELETE", "/api/v1/tasks/"+task.ID.String(), nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if _, ok := f.repo.tasks[task.ID]; ok {
		t.Error("task still present after delete")
	}
}

func TestSyncTasks_ReturnsCollectionAndStats(t *testing.T) {
	t.Parallel()

	f := newTaskFixture(t)
	created := f.do("POST", "/api/v1/tasks", map[string]any{"title": "stretch", "xp_reward": 10})
	var task models.Task
	decodeData(t, created, &task)
	f.do("POST", "/api/v1/tasks/"+task.ID.String()+"/complete", nil)

	rec := f.do("POST", "/api/v1/tasks/sync", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp SyncTasksResponse
	decodeData(t, rec, &resp)
	if len(resp.Tasks) != 1 {
		t.Errorf("tasks = %d, want 1", len(resp.Tasks))
	}
	if resp.Stats == nil || resp.Stats.TotalXP != 10 {
		t.Errorf("stats = %+v, want 10 total XP", resp.Stats)
	}
}
