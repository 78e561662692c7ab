package workers

import (
	"context"
	"fmt"

	"github.com/questlog/questlog/internal/queue"
	"github.com/questlog/questlog/internal/store"
	"go.uber.org/zap"
)

// RecurrenceSweeper processes recurrence sweep jobs. The dispatcher acquires
// the daily sweep marker before enqueueing, so the sweeper materializes
// unconditionally.
type RecurrenceSweeper struct {
	store *store.Store
	log   *zap.Logger
}

// NewRecurrenceSweeper creates a new recurrence sweeper
func NewRecurrenceSweeper(store *store.Store, log *zap.Logger) *RecurrenceSweeper {
	return &RecurrenceSweeper{store: store, log: log}
}

// ProcessSweepJob materializes successors for the job's user
func (s *RecurrenceSweeper) ProcessSweepJob(ctx context.Context, job *queue.Job) error {
	spawned, err := s.store.MaterializeRecurring(ctx, job.UserID)
	if err != nil {
		return fmt.Errorf("recurrence sweep for user %s: %w", job.UserID, err)
	}

	if spawned > 0 {
		s.log.Info("recurrence_sweep_completed",
			zap.String("user_id", job.UserID.String()),
			zap.Int("spawned", spawned),
		)
	}
	return nil
}
