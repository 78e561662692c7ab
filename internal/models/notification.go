package models

import (
	"time"

	"github.com/google/uuid"
)

// NotificationKind classifies an ephemeral user-facing message
type NotificationKind string

const (
	NotificationSuccess     NotificationKind = "success"
	NotificationAchievement NotificationKind = "achievement"
	NotificationInfo        NotificationKind = "info"
)

// Notification is an ephemeral queue-only message shown to the user.
// Notifications are never persisted; they live in the in-memory queue
// until they expire or are dismissed.
type Notification struct {
	ID        uuid.UUID        `json:"id"`
	Message   string           `json:"message"`
	Kind      NotificationKind `json:"kind"`
	CreatedAt time.Time        `json:"created_at"`
}
