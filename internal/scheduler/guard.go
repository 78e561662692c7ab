package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultSweepGuardTTL keeps the daily sweep marker alive long enough to
	// cover the whole day plus clock skew
	DefaultSweepGuardTTL = 36 * time.Hour
	// DefaultDueMarkerTTL keeps a due-task notification marker for two days
	DefaultDueMarkerTTL = 48 * time.Hour
)

// RedisSweepGuard enforces the once-per-user-per-day recurrence sweep rule
// across server restarts and across the manual sync path and the scheduled
// job. The marker is a SETNX key scoped to (user, calendar day).
type RedisSweepGuard struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisSweepGuard creates a sweep guard backed by the given Redis client
func NewRedisSweepGuard(client *redis.Client, ttl time.Duration) *RedisSweepGuard {
	if ttl <= 0 {
		ttl = DefaultSweepGuardTTL
	}
	return &RedisSweepGuard{client: client, ttl: ttl}
}

// TryAcquire returns true when the caller now holds the sweep marker for
// (user, day) and may materialize recurring successors.
func (g *RedisSweepGuard) TryAcquire(ctx context.Context, userID uuid.UUID, day time.Time) (bool, error) {
	acquired, err := g.client.SetNX(ctx, sweepKey(userID, day), "1", g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire sweep marker: %w", err)
	}
	return acquired, nil
}

// Release deletes the sweep marker for (user, day). Called when a sweep
// could not run after the marker was taken, so the day is not burnt.
func (g *RedisSweepGuard) Release(ctx context.Context, userID uuid.UUID, day time.Time) error {
	if err := g.client.Del(ctx, sweepKey(userID, day)).Err(); err != nil {
		return fmt.Errorf("release sweep marker: %w", err)
	}
	return nil
}

func sweepKey(userID uuid.UUID, day time.Time) string {
	return fmt.Sprintf("questlog:sweep:%s:%s", userID, day.Format("2006-01-02"))
}

// DueMarker deduplicates due-task notifications so the minutely check
// notifies at most once per task per day.
type DueMarker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewDueMarker creates a due-notification dedup marker
func NewDueMarker(client *redis.Client, ttl time.Duration) *DueMarker {
	if ttl <= 0 {
		ttl = DefaultDueMarkerTTL
	}
	return &DueMarker{client: client, ttl: ttl}
}

// TryMark returns true the first time it is called for (task, day); later
// calls on the same day return false.
func (m *DueMarker) TryMark(ctx context.Context, taskID uuid.UUID, day time.Time) (bool, error) {
	marked, err := m.client.SetNX(ctx, dueKey(taskID, day), "1", m.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("mark due notification: %w", err)
	}
	return marked, nil
}

func dueKey(taskID uuid.UUID, day time.Time) string {
	return fmt.Sprintf("questlog:due:%s:%s", taskID, day.Format("2006-01-02"))
}

// NewRedisClient parses a Redis URL and verifies connectivity
func NewRedisClient(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return client, nil
}
