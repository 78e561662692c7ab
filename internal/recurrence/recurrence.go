package recurrence

import (
	"time"

	"github.com/google/uuid"
	"github.com/questlog/questlog/internal/models"
)

// NextDue returns the successor due date for a recurrence rule. The offset
// is applied to the current due date of the completed task, not to today,
// so a late completion can yield a successor that is already overdue. That
// matches the product behavior and must not be silently corrected.
func NextDue(due time.Time, rule models.RepeatRule) time.Time {
	switch rule {
	case models.RepeatDaily:
		return due.AddDate(0, 0, 1)
	case models.RepeatWeekly:
		return due.AddDate(0, 0, 7)
	case models.RepeatMonthly:
		return due.AddDate(0, 1, 0)
	default:
		return due
	}
}

// Next decides whether the given completed recurring task should spawn a
// successor as of now, and returns the successor when it should.
//
// The successor copies the task's descriptive fields and recurrence rule,
// gets a fresh identity, and starts uncompleted. The input task is never
// mutated. Callers are responsible for running this at most once per day
// per user so duplicate successors are not materialized.
func Next(task models.Task, now time.Time) (models.Task, bool) {
	if !task.Completed || task.CompletedAt == nil || !task.IsRecurring() {
		return models.Task{}, false
	}

	loc := now.Location()
	today := dateOnly(now, loc)

	// Recurrence ends once repeat_until has passed.
	if task.RepeatUntil != nil && dateOnly(*task.RepeatUntil, loc).Before(today) {
		return models.Task{}, false
	}

	completed := dateOnly(*task.CompletedAt, loc)
	due := false
	switch task.Repeat {
	case models.RepeatDaily:
		due = completed.Before(today)
	case models.RepeatWeekly:
		due = today.Sub(completed) >= 7*24*time.Hour
	case models.RepeatMonthly:
		due = today.Month() != completed.Month() || today.Year() != completed.Year()
	}
	if !due {
		return models.Task{}, false
	}

	next := models.Task{
		ID:          uuid.New(),
		UserID:      task.UserID,
		Title:       task.Title,
		Description: task.Description,
		Completed:   false,
		Priority:    task.Priority,
		Category:    task.Category,
		DueDate:     NextDue(task.DueDate, task.Repeat),
		XPReward:    task.XPReward,
		Favorite:    task.Favorite,
		Tags:        append([]string(nil), task.Tags...),
		Repeat:      task.Repeat,
		RepeatUntil: task.RepeatUntil,
	}
	return next, true
}

func dateOnly(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
