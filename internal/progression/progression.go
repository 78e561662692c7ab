package progression

import (
	"sort"
	"time"

	"github.com/questlog/questlog/internal/models"
)

// Level returns the level for a given XP total. Levels are fixed 1000-point
// bands: level 1 starts at 0 XP.
func Level(totalXP int) int {
	if totalXP < 0 {
		totalXP = 0
	}
	return totalXP/models.XPPerLevel + 1
}

// TotalXP sums xp_reward over the completed tasks only.
func TotalXP(tasks []models.Task) int {
	total := 0
	for _, t := range tasks {
		if t.Completed {
			total += t.XPReward
		}
	}
	return total
}

// Compute derives the full progression stats from a task collection.
// It is pure and order-independent with respect to task ordering; now
// anchors the "today" used by the streak calculation.
func Compute(tasks []models.Task, now time.Time) models.ProgressionStats {
	stats := models.ProgressionStats{}

	var latest *time.Time
	for i := range tasks {
		t := &tasks[i]
		if !t.Completed || t.CompletedAt == nil {
			continue
		}
		stats.TotalXP += t.XPReward
		stats.TasksCompleted++
		if latest == nil || t.CompletedAt.After(*latest) {
			latest = t.CompletedAt
		}
	}

	stats.CurrentLevel = Level(stats.TotalXP)
	stats.CurrentStreak, stats.LongestStreak = Streaks(tasks, now)
	if latest != nil {
		ts := *latest
		stats.LastCompletionDate = &ts
	}
	return stats
}

// Streaks returns the current and longest completion streaks.
//
// Streaks are counted over distinct calendar days (in now's location) with
// at least one completion; completing several tasks on one day counts that
// day once. The current streak anchors at today, or at yesterday when
// nothing has been completed yet today, and walks backwards until the first
// day without a completion. The longest streak is the maximum run of
// consecutive distinct days, including the current run.
func Streaks(tasks []models.Task, now time.Time) (current, longest int) {
	days := make(map[time.Time]bool)
	for i := range tasks {
		t := &tasks[i]
		if !t.Completed || t.CompletedAt == nil {
			continue
		}
		days[dateOnly(*t.CompletedAt, now.Location())] = true
	}
	if len(days) == 0 {
		return 0, 0
	}

	today := dateOnly(now, now.Location())
	check := today
	if !days[check] {
		check = check.AddDate(0, 0, -1)
	}
	for days[check] {
		current++
		check = check.AddDate(0, 0, -1)
	}

	sorted := make([]time.Time, 0, len(days))
	for d := range days {
		sorted = append(sorted, d)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })

	run := 1
	longest = 1
	for i := 1; i < len(sorted); i++ {
		if sorted[i].Equal(sorted[i-1].AddDate(0, 0, 1)) {
			run++
		} else {
			run = 1
		}
		if run > longest {
			longest = run
		}
	}
	if current > longest {
		longest = current
	}
	return current, longest
}

// dateOnly truncates a timestamp to its calendar date in loc. The result is
// normalized to UTC midnight so map keys compare by date alone.
func dateOnly(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
