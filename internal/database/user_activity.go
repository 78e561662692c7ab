package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/questlog/questlog/internal/models"
)

// UserActivityRepository tracks when users were last seen and how many
// completions they have recorded. Sweep eligibility is derived from it.
type UserActivityRepository struct {
	db *DB
}

// NewUserActivityRepository creates a new user activity repository
func NewUserActivityRepository(db *DB) *UserActivityRepository {
	return &UserActivityRepository{db: db}
}

// GetByUserID retrieves user activity by user ID
func (r *UserActivityRepository) GetByUserID(ctx context.Context, userID uuid.UUID) (*models.UserActivity, error) {
	activity := &models.UserActivity{}

	query := `
		SELECT user_id, last_seen_at, sweep_paused, completions, created_at, updated_at
		FROM user_activity
		WHERE user_id = $1
	`

	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&activity.UserID,
		&activity.LastSeenAt,
		&activity.SweepPaused,
		&activity.Completions,
		&activity.CreatedAt,
		&activity.UpdatedAt,
	)

	if err != nil {
		return nil, fmt.Errorf("failed to get user activity: %w", err)
	}

	return activity, nil
}

// Touch updates the last seen timestamp, inserting the row on first contact
func (r *UserActivityRepository) Touch(ctx context.Context, userID uuid.UUID) error {
	query := `
		INSERT INTO user_activity (user_id, last_seen_at, sweep_paused, completions, created_at, updated_at)
		VALUES ($1, $2, false, 0, $2, $2)
		ON CONFLICT (user_id) DO UPDATE
		SET last_seen_at = EXCLUDED.last_seen_at,
		    updated_at = EXCLUDED.updated_at
	`

	if _, err := r.db.ExecContext(ctx, query, userID, time.Now()); err != nil {
		return fmt.Errorf("failed to touch user activity: %w", err)
	}
	return nil
}

// RecordCompletion bumps the completion counter for a user
func (r *UserActivityRepository) RecordCompletion(ctx context.Context, userID uuid.UUID) error {
	query := `
		INSERT INTO user_activity (user_id, last_seen_at, sweep_paused, completions, created_at, updated_at)
		VALUES ($1, $2, false, 1, $2, $2)
		ON CONFLICT (user_id) DO UPDATE
		SET completions = user_activity.completions + 1,
		    last_seen_at = EXCLUDED.last_seen_at,
		    updated_at = EXCLUDED.updated_at
	`

	if _, err := r.db.ExecContext(ctx, query, userID, time.Now()); err != nil {
		return fmt.Errorf("failed to record completion: %w", err)
	}
	return nil
}

// SetSweepPaused pauses or resumes scheduled recurrence sweeps for a user
func (r *UserActivityRepository) SetSweepPaused(ctx context.Context, userID uuid.UUID, paused bool) error {
	query := `
		UPDATE user_activity
		SET sweep_paused = $1, updated_at = $2
		WHERE user_id = $3
	`

	if _, err := r.db.ExecContext(ctx, query, paused, time.Now(), userID); err != nil {
		return fmt.Errorf("failed to set sweep paused: %w", err)
	}
	return nil
}

// GetEligibleUsersForSweep returns users whose recurring tasks should be
// swept: not paused and seen within the activity window.
func (r *UserActivityRepository) GetEligibleUsersForSweep(ctx context.Context, window time.Duration) ([]uuid.UUID, error) {
	query := `
		SELECT user_id
		FROM user_activity
		WHERE sweep_paused = false AND last_seen_at >= $1
	`

	rows, err := r.db.QueryContext(ctx, query, time.Now().Add(-window))
	if err != nil {
		return nil, fmt.Errorf("failed to query eligible users: %w", err)
	}
	defer rows.Close()

	var userIDs []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		userIDs = append(userIDs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating eligible users: %w", err)
	}

	return userIDs, nil
}
