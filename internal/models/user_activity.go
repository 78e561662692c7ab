package models

import (
	"time"

	"github.com/google/uuid"
)

// UserActivity tracks when a user last touched the API and whether the
// recurrence sweep is paused for them. Only recently active users receive
// scheduled recurrence sweeps.
type UserActivity struct {
	UserID       uuid.UUID `json:"user_id"`
	LastSeenAt   time.Time `json:"last_seen_at"`
	SweepPaused  bool      `json:"sweep_paused"`
	Completions  int       `json:"completions"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
