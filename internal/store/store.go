package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/questlog/questlog/internal/database"
	"github.com/questlog/questlog/internal/models"
	"github.com/questlog/questlog/internal/notify"
	"github.com/questlog/questlog/internal/progression"
	"github.com/questlog/questlog/internal/recurrence"
	"go.uber.org/zap"
)

// SweepGuard enforces the at-most-once-per-day rule for recurrence
// materialization. TryAcquire returns true when the caller holds the
// marker for (user, day) and may run the sweep. Release hands the marker
// back when the pass could not run, so a later attempt on the same day
// still gets its turn.
type SweepGuard interface {
	TryAcquire(ctx context.Context, userID uuid.UUID, day time.Time) (bool, error)
	Release(ctx context.Context, userID uuid.UUID, day time.Time) error
}

// CompletionEvent is raised when a task transitions to completed. The
// presentation layer subscribes to it for celebratory effects; cmd/server
// also forwards it to the job queue so the worker can record activity.
type CompletionEvent struct {
	Task      models.Task
	XPEarned  int
	NewLevel  int
	LeveledUp bool
}

// Store mediates between the HTTP surface, the progression calculator, the
// recurrence processor, the notification hub, and the persistent task
// collection. It holds no task state of its own: the authoritative
// collection lives in Postgres and stats are recomputed from it after
// every mutation.
type Store struct {
	tasks    database.TaskRepositoryInterface
	profiles database.ProfileRepositoryInterface
	hub      *notify.Hub
	guard    SweepGuard
	log      *zap.Logger
	now      func() time.Time

	mu        sync.Mutex
	observers []func(CompletionEvent)
}

// New creates a task store
func New(tasks database.TaskRepositoryInterface, profiles database.ProfileRepositoryInterface, hub *notify.Hub, guard SweepGuard, log *zap.Logger) *Store {
	return &Store{
		tasks:    tasks,
		profiles: profiles,
		hub:      hub,
		guard:    guard,
		log:      log,
		now:      time.Now,
	}
}

// OnCompletion registers an observer for completion events. Observers run
// synchronously after the completing write has been persisted.
func (s *Store) OnCompletion(fn func(CompletionEvent)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

// TaskUpdate carries a partial edit; nil fields are left unchanged.
// ClearRepeatUntil removes an existing recurrence end date, which a nil
// RepeatUntil alone cannot express.
type TaskUpdate struct {
	Title            *string
	Description      *string
	Priority         *models.Priority
	Category         *string
	DueDate          *time.Time
	XPReward         *int
	Tags             *[]string
	Repeat           *models.RepeatRule
	RepeatUntil      *time.Time
	ClearRepeatUntil bool
}

// List returns the user's tasks, most recent first.
func (s *Store) List(ctx context.Context, userID uuid.UUID, filter database.TaskFilter) ([]models.Task, error) {
	return s.tasks.GetByUserID(ctx, userID, filter)
}

// Get returns one task, or nil when it does not exist or belongs to
// someone else. Only a missing row is a silent no-op; a repository
// failure is logged, surfaced as an info notification, and returned.
func (s *Store) Get(ctx context.Context, userID, id uuid.UUID) (*models.Task, error) {
	task, err := s.tasks.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		s.log.Error("task_load_failed", zap.String("task_id", id.String()), zap.Error(err))
		s.hub.ForUser(userID).Push("Failed to load task", models.NotificationInfo)
		return nil, fmt.Errorf("get task: %w", err)
	}
	if task.UserID != userID {
		return nil, nil
	}
	return task, nil
}

// Create persists a new task, recomputes stats, and notifies the user.
// A failed write surfaces as an info notification and an error; no local
// state is left behind.
func (s *Store) Create(ctx context.Context, task *models.Task) error {
	if task.ID == uuid.Nil {
		task.ID = uuid.New()
	}
	if task.Repeat == "" {
		task.Repeat = models.RepeatNone
	}

	if err := s.tasks.Create(ctx, task); err != nil {
		s.hub.ForUser(task.UserID).Push("Failed to create task", models.NotificationInfo)
		return fmt.Errorf("create task: %w", err)
	}

	if _, err := s.recomputeStats(ctx, task.UserID); err != nil {
		s.log.Warn("stats_recompute_failed", zap.String("user_id", task.UserID.String()), zap.Error(err))
	}
	s.hub.ForUser(task.UserID).Push("Task created successfully!", models.NotificationSuccess)
	return nil
}

// Update applies a partial edit. A stale id is a no-op: the returned task
// is nil and no error or notification is raised.
func (s *Store) Update(ctx context.Context, userID, id uuid.UUID, updates TaskUpdate) (*models.Task, error) {
	task, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, nil
	}

	if updates.Title != nil {
		task.Title = *updates.Title
	}
	if updates.Description != nil {
		task.Description = *updates.Description
	}
	if updates.Priority != nil {
		task.Priority = *updates.Priority
	}
	if updates.Category != nil {
		task.Category = *updates.Category
	}
	if updates.DueDate != nil {
		task.DueDate = *updates.DueDate
	}
	if updates.XPReward != nil {
		task.XPReward = *updates.XPReward
	}
	if updates.Tags != nil {
		task.Tags = *updates.Tags
	}
	if updates.Repeat != nil {
		task.Repeat = *updates.Repeat
	}
	if updates.ClearRepeatUntil {
		task.RepeatUntil = nil
	} else if updates.RepeatUntil != nil {
		task.RepeatUntil = updates.RepeatUntil
	}

	if err := s.tasks.Update(ctx, task); err != nil {
		s.hub.ForUser(userID).Push("Failed to update task", models.NotificationInfo)
		return nil, fmt.Errorf("update task: %w", err)
	}

	if _, err := s.recomputeStats(ctx, userID); err != nil {
		s.log.Warn("stats_recompute_failed", zap.String("user_id", userID.String()), zap.Error(err))
	}
	return task, nil
}

// Delete removes a task and recomputes stats. A stale id is a no-op.
func (s *Store) Delete(ctx context.Context, userID, id uuid.UUID) error {
	task, err := s.Get(ctx, userID, id)
	if err != nil {
		return err
	}
	if task == nil {
		return nil
	}

	if err := s.tasks.Delete(ctx, id); err != nil {
		s.hub.ForUser(userID).Push("Failed to delete task", models.NotificationInfo)
		return fmt.Errorf("delete task: %w", err)
	}

	if _, err := s.recomputeStats(ctx, userID); err != nil {
		s.log.Warn("stats_recompute_failed", zap.String("user_id", userID.String()), zap.Error(err))
	}
	s.hub.ForUser(userID).Push("Task deleted", models.NotificationInfo)
	return nil
}

// ToggleComplete flips the two-state completion machine. false->true sets
// completed_at to now, awards XP, and may raise a level-up notification
// and the completion signal; true->false clears completed_at and takes the
// XP back. Both directions recompute stats.
func (s *Store) ToggleComplete(ctx context.Context, userID, id uuid.UUID) (*models.Task, error) {
	task, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, nil
	}

	priorStats, err := s.profiles.Get(ctx, userID)
	if err != nil {
		priorStats = &models.ProgressionStats{CurrentLevel: 1}
	}

	if task.Completed {
		task.Completed = false
		task.CompletedAt = nil
	} else {
		now := s.now()
		task.Completed = true
		task.CompletedAt = &now
	}

	if err := s.tasks.Update(ctx, task); err != nil {
		s.hub.ForUser(userID).Push("Failed to update task", models.NotificationInfo)
		return nil, fmt.Errorf("toggle complete: %w", err)
	}

	stats, err := s.recomputeStats(ctx, userID)
	if err != nil {
		s.log.Warn("stats_recompute_failed", zap.String("user_id", userID.String()), zap.Error(err))
		stats = priorStats
	}

	if task.Completed {
		queue := s.hub.ForUser(userID)
		queue.Push(fmt.Sprintf("+%d XP earned!", task.XPReward), models.NotificationSuccess)

		leveledUp := stats.CurrentLevel > priorStats.CurrentLevel
		if leveledUp {
			queue.Push(fmt.Sprintf("Level up! You're now level %d!", stats.CurrentLevel), models.NotificationAchievement)
		}

		s.fireCompletion(CompletionEvent{
			Task:      *task,
			XPEarned:  task.XPReward,
			NewLevel:  stats.CurrentLevel,
			LeveledUp: leveledUp,
		})
	}

	return task, nil
}

// ToggleFavorite flips the favorite flag. No stats impact.
func (s *Store) ToggleFavorite(ctx context.Context, userID, id uuid.UUID) (*models.Task, error) {
	task, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, nil
	}

	task.Favorite = !task.Favorite
	if err := s.tasks.Update(ctx, task); err != nil {
		return nil, fmt.Errorf("toggle favorite: %w", err)
	}
	return task, nil
}

// Stats recomputes the user's progression from the task collection and
// refreshes the cached profile row.
func (s *Store) Stats(ctx context.Context, userID uuid.UUID) (*models.ProgressionStats, error) {
	return s.recomputeStats(ctx, userID)
}

// SyncResult is what a sync hands back to the caller.
type SyncResult struct {
	Tasks   []models.Task
	Stats   *models.ProgressionStats
	Spawned int
}

// Sync reloads the task collection, recomputes stats, and runs the
// recurrence pass. The sweep guard keeps the recurrence pass to once per
// user per day, shared with the scheduled sweep, so a manual sync and the
// nightly job never double-materialize successors.
func (s *Store) Sync(ctx context.Context, userID uuid.UUID) (*SyncResult, error) {
	spawned := 0
	if s.guard != nil {
		day := s.now()
		acquired, err := s.guard.TryAcquire(ctx, userID, day)
		if err != nil {
			s.log.Warn("sweep_guard_unavailable", zap.String("user_id", userID.String()), zap.Error(err))
		} else if acquired {
			n, err := s.MaterializeRecurring(ctx, userID)
			if err != nil {
				s.log.Warn("recurrence_pass_failed", zap.String("user_id", userID.String()), zap.Error(err))
				// Hand the marker back so a later sync or the scheduled
				// sweep can retry today
				if relErr := s.guard.Release(ctx, userID, day); relErr != nil {
					s.log.Warn("sweep_guard_release_failed", zap.String("user_id", userID.String()), zap.Error(relErr))
				}
			}
			spawned = n
		}
	}

	tasks, err := s.tasks.GetByUserID(ctx, userID, database.TaskFilter{})
	if err != nil {
		s.hub.ForUser(userID).Push("Failed to load tasks", models.NotificationInfo)
		return nil, fmt.Errorf("sync tasks: %w", err)
	}

	stats := progression.Compute(tasks, s.now())
	if err := s.profiles.Upsert(ctx, userID, &stats); err != nil {
		s.log.Warn("profile_upsert_failed", zap.String("user_id", userID.String()), zap.Error(err))
	}

	return &SyncResult{Tasks: tasks, Stats: &stats, Spawned: spawned}, nil
}

// MaterializeRecurring runs the recurrence processor over the user's
// completed recurring tasks and persists each successor. The caller must
// hold the daily sweep guard. Returns how many successors were created.
func (s *Store) MaterializeRecurring(ctx context.Context, userID uuid.UUID) (int, error) {
	candidates, err := s.tasks.CompletedRecurring(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("load recurring tasks: %w", err)
	}

	spawned := 0
	for i := range candidates {
		next, ok := recurrence.Next(candidates[i], s.now())
		if !ok {
			continue
		}
		if err := s.tasks.Create(ctx, &next); err != nil {
			s.log.Error("successor_create_failed",
				zap.String("user_id", userID.String()),
				zap.String("task_id", candidates[i].ID.String()),
				zap.Error(err),
			)
			continue
		}
		spawned++
		s.hub.ForUser(userID).Push(fmt.Sprintf("Recurring task scheduled: %s", next.Title), models.NotificationSuccess)
	}

	if spawned > 0 {
		if _, err := s.recomputeStats(ctx, userID); err != nil {
			s.log.Warn("stats_recompute_failed", zap.String("user_id", userID.String()), zap.Error(err))
		}
	}
	return spawned, nil
}

// Notifications returns the user's live notification queue.
func (s *Store) Notifications(userID uuid.UUID) *notify.Queue {
	return s.hub.ForUser(userID)
}

func (s *Store) recomputeStats(ctx context.Context, userID uuid.UUID) (*models.ProgressionStats, error) {
	tasks, err := s.tasks.GetByUserID(ctx, userID, database.TaskFilter{})
	if err != nil {
		return nil, fmt.Errorf("load tasks for stats: %w", err)
	}

	stats := progression.Compute(tasks, s.now())
	if err := s.profiles.Upsert(ctx, userID, &stats); err != nil {
		return nil, fmt.Errorf("persist stats: %w", err)
	}
	return &stats, nil
}

func (s *Store) fireCompletion(event CompletionEvent) {
	s.mu.Lock()
	observers := make([]func(CompletionEvent), len(s.observers))
	copy(observers, s.observers)
	s.mu.Unlock()

	for _, fn := range observers {
		fn(event)
	}
}
