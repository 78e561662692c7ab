package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/questlog/questlog/internal/models"
)

// ProfileRepository handles the per-user progression stats row. The row is
// a cache of stats derived from the task collection; it is rewritten after
// every task mutation and reconciled on load.
type ProfileRepository struct {
	db *DB
}

// NewProfileRepository creates a new profile repository
func NewProfileRepository(db *DB) *ProfileRepository {
	return &ProfileRepository{db: db}
}

// Get retrieves the cached stats row for a user. A user with no row yet
// gets zero stats, not an error.
func (r *ProfileRepository) Get(ctx context.Context, userID uuid.UUID) (*models.ProgressionStats, error) {
	stats := &models.ProgressionStats{}
	var lastCompletion sql.NullTime

	query := `
		SELECT total_xp, current_level, current_streak, longest_streak, tasks_completed, last_completion_date
		FROM profiles
		WHERE user_id = $1
	`

	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&stats.TotalXP,
		&stats.CurrentLevel,
		&stats.CurrentStreak,
		&stats.LongestStreak,
		&stats.TasksCompleted,
		&lastCompletion,
	)

	if err == sql.ErrNoRows {
		return &models.ProgressionStats{CurrentLevel: 1}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}

	if lastCompletion.Valid {
		stats.LastCompletionDate = &lastCompletion.Time
	}
	return stats, nil
}

// Upsert writes the recomputed stats for a user
func (r *ProfileRepository) Upsert(ctx context.Context, userID uuid.UUID, stats *models.ProgressionStats) error {
	query := `
		INSERT INTO profiles (user_id, total_xp, current_level, current_streak, longest_streak,
			tasks_completed, last_completion_date, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		ON CONFLICT (user_id) DO UPDATE
		SET total_xp = EXCLUDED.total_xp,
		    current_level = EXCLUDED.current_level,
		    current_streak = EXCLUDED.current_streak,
		    longest_streak = EXCLUDED.longest_streak,
		    tasks_completed = EXCLUDED.tasks_completed,
		    last_completion_date = EXCLUDED.last_completion_date,
		    updated_at = EXCLUDED.updated_at
	`

	var lastCompletion sql.NullTime
	if stats.LastCompletionDate != nil {
		lastCompletion = sql.NullTime{Time: *stats.LastCompletionDate, Valid: true}
	}

	_, err := r.db.ExecContext(ctx, query,
		userID,
		stats.TotalXP,
		stats.CurrentLevel,
		stats.CurrentStreak,
		stats.LongestStreak,
		stats.TasksCompleted,
		lastCompletion,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert profile: %w", err)
	}

	return nil
}
