package workers

import (
	"context"
	"fmt"

	"github.com/questlog/questlog/internal/database"
	"github.com/questlog/questlog/internal/queue"
	"go.uber.org/zap"
)

// ActivityRecorder processes completion event jobs by stamping the user's
// activity row. The activity row keeps the user eligible for scheduled
// recurrence sweeps.
type ActivityRecorder struct {
	activityRepo database.UserActivityRepositoryInterface
	log          *zap.Logger
}

// NewActivityRecorder creates a new activity recorder
func NewActivityRecorder(activityRepo database.UserActivityRepositoryInterface, log *zap.Logger) *ActivityRecorder {
	return &ActivityRecorder{activityRepo: activityRepo, log: log}
}

// ProcessCompletionJob records one completion against the user's activity row
func (r *ActivityRecorder) ProcessCompletionJob(ctx context.Context, job *queue.Job) error {
	if err := r.activityRepo.RecordCompletion(ctx, job.UserID); err != nil {
		return fmt.Errorf("record completion for user %s: %w", job.UserID, err)
	}

	r.log.Debug("completion_recorded", zap.String("user_id", job.UserID.String()))
	return nil
}
