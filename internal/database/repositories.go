package database

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/questlog/questlog/internal/models"
)

// TaskRepositoryInterface defines the task repository operations the store
// and workers depend on. Tests substitute mock implementations.
type TaskRepositoryInterface interface {
	Create(ctx context.Context, task *models.Task) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Task, error)
	GetByUserID(ctx context.Context, userID uuid.UUID, filter TaskFilter) ([]models.Task, error)
	Update(ctx context.Context, task *models.Task) error
	Delete(ctx context.Context, id uuid.UUID) error
	CompletedRecurring(ctx context.Context, userID uuid.UUID) ([]models.Task, error)
}

// ProfileRepositoryInterface defines the stats cache operations
type ProfileRepositoryInterface interface {
	Get(ctx context.Context, userID uuid.UUID) (*models.ProgressionStats, error)
	Upsert(ctx context.Context, userID uuid.UUID, stats *models.ProgressionStats) error
}

// UserActivityRepositoryInterface defines the activity tracking operations
type UserActivityRepositoryInterface interface {
	Touch(ctx context.Context, userID uuid.UUID) error
	RecordCompletion(ctx context.Context, userID uuid.UUID) error
	GetEligibleUsersForSweep(ctx context.Context, window time.Duration) ([]uuid.UUID, error)
}

// Ensure concrete types implement the interfaces
var (
	_ TaskRepositoryInterface         = (*TaskRepository)(nil)
	_ ProfileRepositoryInterface      = (*ProfileRepository)(nil)
	_ UserActivityRepositoryInterface = (*UserActivityRepository)(nil)
)
