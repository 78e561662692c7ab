package recurrence

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/questlog/questlog/internal/models"
)

func recurringTask(rule models.RepeatRule, due, completedAt time.Time) models.Task {
	return models.Task{
		ID:          uuid.New(),
		UserID:      uuid.New(),
		Title:       "water the plants",
		Description: "all of them",
		Completed:   true,
		Priority:    models.PriorityMedium,
		Category:    "home",
		DueDate:     due,
		XPReward:    25,
		Tags:        []string{"chores"},
		Repeat:      rule,
		CompletedAt: &completedAt,
	}
}

func TestNextDue(t *testing.T) {
	t.Parallel()

	due := time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		rule models.RepeatRule
		want time.Time
	}{
		{name: "daily adds one day", rule: models.RepeatDaily, want: due.AddDate(0, 0, 1)},
		{name: "weekly adds seven days", rule: models.RepeatWeekly, want: due.AddDate(0, 0, 7)},
		{name: "monthly adds one month", rule: models.RepeatMonthly, want: time.Date(2025, 4, 15, 0, 0, 0, 0, time.UTC)},
		{name: "none leaves due date unchanged", rule: models.RepeatNone, want: due},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := NextDue(due, tt.rule); !got.Equal(tt.want) {
				t.Errorf("NextDue = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNext_DailySpawnsSuccessor(t *testing.T) {
	t.Parallel()

	due := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	completed := due.Add(9 * time.Hour)
	task := recurringTask(models.RepeatDaily, due, completed)

	now := due.AddDate(0, 0, 1).Add(8 * time.Hour)
	next, ok := Next(task, now)
	if !ok {
		t.Fatal("expected a successor")
	}

	if next.ID == task.ID {
		t.Error("successor must get a fresh identity")
	}
	if next.Completed || next.CompletedAt != nil {
		t.Error("successor must start uncompleted")
	}
	if want := due.AddDate(0, 0, 1); !next.DueDate.Equal(want) {
		t.Errorf("successor due = %v, want %v", next.DueDate, want)
	}
	if next.Title != task.Title || next.Category != task.Category ||
		next.Priority != task.Priority || next.XPReward != task.XPReward {
		t.Error("successor must copy descriptive fields")
	}
	if len(next.Tags) != 1 || next.Tags[0] != "chores" {
		t.Errorf("successor tags = %v, want [chores]", next.Tags)
	}
	if next.Repeat != models.RepeatDaily {
		t.Errorf("successor repeat = %q, want daily", next.Repeat)
	}

	// The original task is untouched.
	if !task.Completed || task.CompletedAt == nil {
		t.Error("original task was mutated")
	}
}

func TestNext_TriggerConditions(t *testing.T) {
	t.Parallel()

	base := time.Date(2025, 5, 10, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		rule      models.RepeatRule
		completed time.Time
		now       time.Time
		want      bool
	}{
		{
			name:      "daily not yet due same day",
			rule:      models.RepeatDaily,
			completed: base,
			now:       base.Add(23 * time.Hour),
			want:      false,
		},
		{
			name:      "daily due next day",
			rule:      models.RepeatDaily,
			completed: base,
			now:       base.AddDate(0, 0, 1),
			want:      true,
		},
		{
			name:      "weekly not due after three days",
			rule:      models.RepeatWeekly,
			completed: base,
			now:       base.AddDate(0, 0, 3),
			want:      false,
		},
		{
			name:      "weekly due after seven days",
			rule:      models.RepeatWeekly,
			completed: base,
			now:       base.AddDate(0, 0, 7),
			want:      true,
		},
		{
			name:      "monthly not due same month",
			rule:      models.RepeatMonthly,
			completed: base,
			now:       base.AddDate(0, 0, 10),
			want:      false,
		},
		{
			name:      "monthly due in next month",
			rule:      models.RepeatMonthly,
			completed: base,
			now:       base.AddDate(0, 1, -5),
			want:      true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			task := recurringTask(tt.rule, base, tt.completed)
			if _, ok := Next(task, tt.now); ok != tt.want {
				t.Errorf("Next spawned = %v, want %v", ok, tt.want)
			}
		})
	}
}

func TestNext_Ineligible(t *testing.T) {
	t.Parallel()

	base := time.Date(2025, 5, 10, 0, 0, 0, 0, time.UTC)
	now := base.AddDate(0, 0, 2)

	t.Run("repeat none is never processed", func(t *testing.T) {
		t.Parallel()
		task := recurringTask(models.RepeatNone, base, base)
		if _, ok := Next(task, now); ok {
			t.Error("non-recurring task spawned a successor")
		}
	})

	t.Run("uncompleted task is never processed", func(t *testing.T) {
		t.Parallel()
		task := recurringTask(models.RepeatDaily, base, base)
		task.Completed = false
		task.CompletedAt = nil
		if _, ok := Next(task, now); ok {
			t.Error("uncompleted task spawned a successor")
		}
	})

	t.Run("repeat_until in the past stops recurrence", func(t *testing.T) {
		t.Parallel()
		task := recurringTask(models.RepeatDaily, base, base)
		until := now.AddDate(0, 0, -1)
		task.RepeatUntil = &until
		if _, ok := Next(task, now); ok {
			t.Error("expired recurrence spawned a successor")
		}
	})

	t.Run("repeat_until today still recurs", func(t *testing.T) {
		t.Parallel()
		task := recurringTask(models.RepeatDaily, base, base)
		until := now
		task.RepeatUntil = &until
		if _, ok := Next(task, now); !ok {
			t.Error("recurrence ending today should still spawn")
		}
	})
}

func TestNext_LateCompletionKeepsDueDateAnchor(t *testing.T) {
	t.Parallel()

	// Completed three days late: the successor is anchored on the original
	// due date and may itself already be overdue.
	due := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	completed := due.AddDate(0, 0, 3)
	task := recurringTask(models.RepeatDaily, due, completed)

	next, ok := Next(task, completed.AddDate(0, 0, 1))
	if !ok {
		t.Fatal("expected a successor")
	}
	if want := due.AddDate(0, 0, 1); !next.DueDate.Equal(want) {
		t.Errorf("successor due = %v, want %v (anchored on original due date)", next.DueDate, want)
	}
}
