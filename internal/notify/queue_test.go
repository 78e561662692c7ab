package notify

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/questlog/questlog/internal/models"
)

func TestQueue_CapsAtFiveNewestFirst(t *testing.T) {
	t.Parallel()

	q := NewQueue(time.Minute)
	for i := 0; i < 20; i++ {
		q.Push(fmt.Sprintf("message %d", i), models.NotificationInfo)
	}

	active := q.Active()
	if len(active) != MaxQueued {
		t.Fatalf("queue holds %d entries, want %d", len(active), MaxQueued)
	}
	if active[0].Message != "message 19" {
		t.Errorf("head = %q, want newest message", active[0].Message)
	}
	if active[MaxQueued-1].Message != "message 15" {
		t.Errorf("tail = %q, want oldest surviving message", active[MaxQueued-1].Message)
	}
}

func TestQueue_Expiry(t *testing.T) {
	t.Parallel()

	q := NewQueue(5 * time.Second)
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	q.now = func() time.Time { return clock }

	q.Push("stale", models.NotificationSuccess)
	clock = clock.Add(3 * time.Second)
	q.Push("fresh", models.NotificationInfo)

	clock = clock.Add(3 * time.Second) // stale is now 6s old, fresh 3s
	active := q.Active()
	if len(active) != 1 {
		t.Fatalf("active = %d entries, want 1", len(active))
	}
	if active[0].Message != "fresh" {
		t.Errorf("surviving message = %q, want fresh", active[0].Message)
	}
}

func TestQueue_RemoveDismissesEarly(t *testing.T) {
	t.Parallel()

	q := NewQueue(time.Minute)
	n := q.Push("dismiss me", models.NotificationAchievement)
	q.Push("keep me", models.NotificationInfo)

	q.Remove(n.ID)
	q.Remove(uuid.New()) // unknown id is a no-op

	active := q.Active()
	if len(active) != 1 || active[0].Message != "keep me" {
		t.Errorf("active = %v, want only the kept message", active)
	}
}

func TestHub_SeparatesUsers(t *testing.T) {
	t.Parallel()

	hub := NewHub(time.Minute)
	alice := uuid.New()
	bob := uuid.New()

	hub.ForUser(alice).Push("for alice", models.NotificationInfo)

	if got := hub.ForUser(bob).Active(); len(got) != 0 {
		t.Errorf("bob sees %d notifications, want 0", len(got))
	}
	if got := hub.ForUser(alice).Active(); len(got) != 1 {
		t.Errorf("alice sees %d notifications, want 1", len(got))
	}
	if hub.ForUser(alice) != hub.ForUser(alice) {
		t.Error("hub must return a stable queue per user")
	}
}
