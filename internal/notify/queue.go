package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/questlog/questlog/internal/models"
)

const (
	// MaxQueued caps how many notifications a queue retains; the oldest
	// entries are evicted first when the cap is exceeded.
	MaxQueued = 5
	// DefaultTTL is how long a notification stays visible unless it is
	// dismissed earlier.
	DefaultTTL = 5 * time.Second
)

// Queue is a bounded in-memory list of ephemeral user-facing messages.
// Newest entries sit at the head. Entries expire after the TTL but are
// only pruned lazily, so reads never race a timer.
type Queue struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries []models.Notification
	now     func() time.Time
}

// NewQueue creates a queue with the given TTL; ttl <= 0 uses DefaultTTL.
func NewQueue(ttl time.Duration) *Queue {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Queue{ttl: ttl, now: time.Now}
}

// Push inserts a notification at the head and evicts beyond capacity.
func (q *Queue) Push(message string, kind models.NotificationKind) models.Notification {
	n := models.Notification{
		ID:        uuid.New(),
		Message:   message,
		Kind:      kind,
		CreatedAt: q.now(),
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.pruneLocked()
	q.entries = append([]models.Notification{n}, q.entries...)
	if len(q.entries) > MaxQueued {
		q.entries = q.entries[:MaxQueued]
	}
	return n
}

// Active returns the live notifications, newest first.
func (q *Queue) Active() []models.Notification {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pruneLocked()
	out := make([]models.Notification, len(q.entries))
	copy(out, q.entries)
	return out
}

// Remove dismisses a notification before it expires. Unknown ids are a
// no-op.
func (q *Queue) Remove(id uuid.UUID) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, n := range q.entries {
		if n.ID == id {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return
		}
	}
}

// Clear drops all notifications.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = nil
}

func (q *Queue) pruneLocked() {
	cutoff := q.now().Add(-q.ttl)
	live := q.entries[:0]
	for _, n := range q.entries {
		if n.CreatedAt.After(cutoff) {
			live = append(live, n)
		}
	}
	q.entries = live
}
