package scheduler

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestScheduler_ScheduleIntervalRejectsNonPositive(t *testing.T) {
	t.Parallel()

	s := New(time.UTC)
	if _, err := s.ScheduleInterval(0, func() {}); err == nil {
		t.Error("expected error for zero interval")
	}
	if _, err := s.ScheduleInterval(-time.Minute, func() {}); err == nil {
		t.Error("expected error for negative interval")
	}
	if _, err := s.ScheduleInterval(time.Minute, func() {}); err != nil {
		t.Errorf("valid interval rejected: %v", err)
	}
}

func TestScheduler_ScheduleDailyValidatesTime(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		hour    int
		minute  int
		wantErr bool
	}{
		{"midnight", 0, 0, false},
		{"end of day", 23, 59, false},
		{"hour too large", 24, 0, true},
		{"negative hour", -1, 0, true},
		{"minute too large", 3, 60, true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := New(time.UTC)
			_, err := s.ScheduleDaily(tt.hour, tt.minute, func() {})
			if (err != nil) != tt.wantErr {
				t.Errorf("ScheduleDaily(%d, %d) error = %v, wantErr %v", tt.hour, tt.minute, err, tt.wantErr)
			}
		})
	}
}

func TestSweepKeyIsScopedToUserAndDay(t *testing.T) {
	t.Parallel()

	userID := uuid.New()
	day := time.Date(2025, 3, 14, 16, 45, 0, 0, time.UTC)

	key := sweepKey(userID, day)
	want := "questlog:sweep:" + userID.String() + ":2025-03-14"
	if key != want {
		t.Errorf("sweepKey = %q, want %q", key, want)
	}

	// Same day, different time of day: same marker
	if sweepKey(userID, day.Add(5*time.Hour)) != key {
		t.Error("marker must not vary within a day")
	}
	// Next day: new marker
	if sweepKey(userID, day.AddDate(0, 0, 1)) == key {
		t.Error("marker must roll over at the day boundary")
	}
}

func TestDueKeyIsScopedToTaskAndDay(t *testing.T) {
	t.Parallel()

	taskID := uuid.New()
	day := time.Date(2025, 3, 14, 8, 0, 0, 0, time.UTC)

	key := dueKey(taskID, day)
	want := "questlog:due:" + taskID.String() + ":2025-03-14"
	if key != want {
		t.Errorf("dueKey = %q, want %q", key, want)
	}
}
