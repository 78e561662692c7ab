package models

import "time"

// XPPerLevel is the size of one level band: every 1000 XP is one level,
// with level 1 starting at 0 XP.
const XPPerLevel = 1000

// ProgressionStats holds the derived progression state for one user.
// It is fully recomputable from the user's task collection; the profiles
// row is only a cache of this value.
type ProgressionStats struct {
	TotalXP            int        `json:"total_xp"`
	CurrentLevel       int        `json:"current_level"`
	CurrentStreak      int        `json:"current_streak"`
	LongestStreak      int        `json:"longest_streak"`
	TasksCompleted     int        `json:"tasks_completed"`
	LastCompletionDate *time.Time `json:"last_completion_date,omitempty"`
}

// LevelProgress returns the fraction of the current level band already
// earned, in [0, 1). Used by the presentation layer for progress bars.
func (s ProgressionStats) LevelProgress() float64 {
	return float64(s.TotalXP%XPPerLevel) / float64(XPPerLevel)
}
