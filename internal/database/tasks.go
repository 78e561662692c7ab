package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/questlog/questlog/internal/models"
)

const taskColumns = `id, user_id, title, description, completed, priority, category, due_date,
	xp_reward, favorite, tags, repeat, repeat_until, created_at, updated_at, completed_at`

// TaskRepository handles task database operations
type TaskRepository struct {
	db *DB
}

// NewTaskRepository creates a new task repository
func NewTaskRepository(db *DB) *TaskRepository {
	return &TaskRepository{db: db}
}

// TaskFilter narrows task listings. Nil fields are ignored.
type TaskFilter struct {
	Completed *bool
	Category  *string
	Priority  *models.Priority
	Favorite  *bool
	DueOn     *time.Time
	Limit     int
	Offset    int
}

// Create inserts a new task
func (r *TaskRepository) Create(ctx context.Context, task *models.Task) error {
	query := `
		INSERT INTO tasks (id, user_id, title, description, completed, priority, category, due_date,
			xp_reward, favorite, tags, repeat, repeat_until, created_at, updated_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING created_at, updated_at
	`

	now := time.Now()
	err := r.db.QueryRowContext(ctx, query,
		task.ID,
		task.UserID,
		task.Title,
		task.Description,
		task.Completed,
		task.Priority,
		task.Category,
		task.DueDate,
		task.XPReward,
		task.Favorite,
		pq.Array(task.Tags),
		task.Repeat,
		nullTime(task.RepeatUntil),
		now,
		now,
		nullTime(task.CompletedAt),
	).Scan(&task.CreatedAt, &task.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}

	return nil
}

// GetByID retrieves a task by ID
func (r *TaskRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`

	task, err := scanTask(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("task not found: %w", err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}

	return task, nil
}

// GetByUserID retrieves all tasks for a user, most recent first,
// optionally narrowed by filter
func (r *TaskRepository) GetByUserID(ctx context.Context, userID uuid.UUID, filter TaskFilter) ([]models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE user_id = $1`
	args := []any{userID}
	argIndex := 2

	if filter.Completed != nil {
		query += fmt.Sprintf(" AND completed = $%d", argIndex)
		args = append(args, *filter.Completed)
		argIndex++
	}
	if filter.Category != nil {
		query += fmt.Sprintf(" AND category = $%d", argIndex)
		args = append(args, *filter.Category)
		argIndex++
	}
	if filter.Priority != nil {
		query += fmt.Sprintf(" AND priority = $%d", argIndex)
		args = append(args, string(*filter.Priority))
		argIndex++
	}
	if filter.Favorite != nil {
		query += fmt.Sprintf(" AND favorite = $%d", argIndex)
		args = append(args, *filter.Favorite)
		argIndex++
	}
	if filter.DueOn != nil {
		query += fmt.Sprintf(" AND due_date::date = $%d::date", argIndex)
		args = append(args, *filter.DueOn)
		argIndex++
	}

	query += " ORDER BY created_at DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIndex)
		args = append(args, filter.Limit)
		argIndex++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIndex)
		args = append(args, filter.Offset)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	return collectTasks(rows)
}

// Update rewrites all mutable fields of an existing task
func (r *TaskRepository) Update(ctx context.Context, task *models.Task) error {
	query := `
		UPDATE tasks
		SET title = $2, description = $3, completed = $4, priority = $5, category = $6,
			due_date = $7, xp_reward = $8, favorite = $9, tags = $10, repeat = $11,
			repeat_until = $12, updated_at = $13, completed_at = $14
		WHERE id = $1
		RETURNING updated_at
	`

	now := time.Now()
	err := r.db.QueryRowContext(ctx, query,
		task.ID,
		task.Title,
		task.Description,
		task.Completed,
		task.Priority,
		task.Category,
		task.DueDate,
		task.XPReward,
		task.Favorite,
		pq.Array(task.Tags),
		task.Repeat,
		nullTime(task.RepeatUntil),
		now,
		nullTime(task.CompletedAt),
	).Scan(&task.UpdatedAt)

	if err == sql.ErrNoRows {
		return fmt.Errorf("task not found: %w", err)
	}
	if err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}

	return nil
}

// Delete deletes a task by ID
func (r *TaskRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("task not found: %w", sql.ErrNoRows)
	}

	return nil
}

// ListDueOn returns unfinished tasks across all users whose due date falls
// on the given calendar date. Used by the minutely due-task check.
func (r *TaskRepository) ListDueOn(ctx context.Context, date time.Time) ([]models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks
		WHERE completed = false AND due_date::date = $1::date
		ORDER BY user_id, created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, date)
	if err != nil {
		return nil, fmt.Errorf("failed to query due tasks: %w", err)
	}
	defer rows.Close()

	return collectTasks(rows)
}

// CompletedRecurring returns a user's completed tasks that carry a
// recurrence rule, the candidates for successor materialization.
func (r *TaskRepository) CompletedRecurring(ctx context.Context, userID uuid.UUID) ([]models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks
		WHERE user_id = $1 AND completed = true AND repeat <> 'none' AND repeat <> ''
		ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query recurring tasks: %w", err)
	}
	defer rows.Close()

	return collectTasks(rows)
}

// scannable is satisfied by both *sql.Row and *sql.Rows
type scannable interface {
	Scan(dest ...any) error
}

func scanTask(row scannable) (*models.Task, error) {
	task := &models.Task{}
	var tags pq.StringArray
	var repeatUntil, completedAt sql.NullTime

	err := row.Scan(
		&task.ID,
		&task.UserID,
		&task.Title,
		&task.Description,
		&task.Completed,
		&task.Priority,
		&task.Category,
		&task.DueDate,
		&task.XPReward,
		&task.Favorite,
		&tags,
		&task.Repeat,
		&repeatUntil,
		&task.CreatedAt,
		&task.UpdatedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	task.Tags = []string(tags)
	if repeatUntil.Valid {
		task.RepeatUntil = &repeatUntil.Time
	}
	if completedAt.Valid {
		task.CompletedAt = &completedAt.Time
	}
	return task, nil
}

func collectTasks(rows *sql.Rows) ([]models.Task, error) {
	var tasks []models.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, *task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}
	return tasks, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
