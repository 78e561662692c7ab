package models

import (
	"time"

	"github.com/google/uuid"
)

// Priority represents how urgent a task is
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// RepeatRule governs automatic successor generation after a task is completed
type RepeatRule string

const (
	RepeatNone    RepeatRule = "none"
	RepeatDaily   RepeatRule = "daily"
	RepeatWeekly  RepeatRule = "weekly"
	RepeatMonthly RepeatRule = "monthly"
)

// DefaultXPReward is applied when a task is created without an explicit reward
const DefaultXPReward = 10

// Task represents a user-owned unit of work
type Task struct {
	ID          uuid.UUID  `json:"id"`
	UserID      uuid.UUID  `json:"user_id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Completed   bool       `json:"completed"`
	Priority    Priority   `json:"priority"`
	Category    string     `json:"category"`
	DueDate     time.Time  `json:"due_date"`
	XPReward    int        `json:"xp_reward"`
	Favorite    bool       `json:"favorite"`
	Tags        []string   `json:"tags,omitempty"`
	Repeat      RepeatRule `json:"repeat"`
	RepeatUntil *time.Time `json:"repeat_until,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// IsRecurring reports whether the task carries a recurrence rule.
func (t *Task) IsRecurring() bool {
	return t.Repeat != "" && t.Repeat != RepeatNone
}
