package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Hub hands out one notification queue per user. Queues are created on
// first use and live for the lifetime of the process; the messages inside
// them expire on their own.
type Hub struct {
	mu     sync.Mutex
	ttl    time.Duration
	queues map[uuid.UUID]*Queue
}

// NewHub creates a hub whose queues use the given TTL.
func NewHub(ttl time.Duration) *Hub {
	return &Hub{ttl: ttl, queues: make(map[uuid.UUID]*Queue)}
}

// ForUser returns the queue for a user, creating it if needed.
func (h *Hub) ForUser(userID uuid.UUID) *Queue {
	h.mu.Lock()
	defer h.mu.Unlock()
	q, ok := h.queues[userID]
	if !ok {
		q = NewQueue(h.ttl)
		h.queues[userID] = q
	}
	return q
}
