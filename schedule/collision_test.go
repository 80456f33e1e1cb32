package schedule

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/nihanth-yadalam/IAP---backend/internal/models"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	if err := db.AutoMigrate(&models.User{}, &models.Slot{}, &models.Task{}, &models.SyncState{}); err != nil {
		t.Fatalf("migrating: %v", err)
	}
	return db
}

// monday is a fixed Monday so day-of-week assertions are stable.
var monday = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

func at(day time.Time, hour, min int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), hour, min, 0, 0, time.UTC)
}

func seedFixtures(t *testing.T, db *gorm.DB) uint {
	t.Helper()
	user := &models.User{Email: uuid.NewString() + "@example.com"}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("seeding user: %v", err)
	}

	// A task 10:00–11:00 on Monday.
	taskStart := at(monday, 10, 0)
	taskEnd := at(monday, 11, 0)
	if err := db.Create(&models.Task{
		UserID:           user.ID,
		Title:            "Essay draft",
		ScheduledStartAt: &taskStart,
		ScheduledEndAt:   &taskEnd,
	}).Error; err != nil {
		t.Fatalf("seeding task: %v", err)
	}

	// A recurring Monday fixed slot 09:00–09:30.
	day := time.Monday
	slotStart := models.ClockTime(9 * 60)
	slotEnd := models.ClockTime(9*60 + 30)
	if err := db.Create(&models.Slot{
		UserID:    user.ID,
		Title:     "Standup",
		DayOfWeek: &day,
		StartTime: &slotStart,
		EndTime:   &slotEnd,
	}).Error; err != nil {
		t.Fatalf("seeding slot: %v", err)
	}
	return user.ID
}

func TestCheckCollision(t *testing.T) {
	db := testDB(t)
	userID := seedFixtures(t, db)
	checker := NewCollisionChecker(db)
	ctx := context.Background()

	tests := []struct {
		name     string
		start    time.Time
		end      time.Time
		conflict string // expected Kind, "" for free
	}{
		{"overlaps task", at(monday, 10, 30), at(monday, 11, 30), "task"},
		{"overlaps fixed slot same weekday", at(monday, 9, 15), at(monday, 9, 45), "fixed_slot"},
		{"adjacent to task is free", at(monday, 11, 0), at(monday, 12, 0), ""},
		{"adjacent to fixed slot is free", at(monday, 9, 30), at(monday, 10, 0), ""},
		{"inside task", at(monday, 10, 15), at(monday, 10, 45), "task"},
		{"same clock range on another weekday is free", at(monday.AddDate(0, 0, 1), 9, 15), at(monday.AddDate(0, 0, 1), 9, 45), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conflict, err := checker.Check(ctx, userID, Candidate{Start: tt.start, End: tt.end})
			if err != nil {
				t.Fatalf("check: %v", err)
			}
			if tt.conflict == "" {
				if conflict != nil {
					t.Fatalf("unexpected conflict: %+v", conflict)
				}
				return
			}
			if conflict == nil {
				t.Fatalf("expected %s conflict, got none", tt.conflict)
			}
			if conflict.Kind != tt.conflict {
				t.Fatalf("conflict kind = %q, want %q", conflict.Kind, tt.conflict)
			}
		})
	}
}

func TestCheckExcludesTaskBeingUpdated(t *testing.T) {
	db := testDB(t)
	userID := seedFixtures(t, db)
	checker := NewCollisionChecker(db)

	var task models.Task
	if err := db.First(&task, "user_id = ?", userID).Error; err != nil {
		t.Fatalf("loading task: %v", err)
	}

	conflict, err := checker.Check(context.Background(), userID, Candidate{
		Start:         at(monday, 10, 0),
		End:           at(monday, 11, 0),
		ExcludeTaskID: task.ID,
	})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if conflict != nil {
		t.Fatalf("task collided with itself: %+v", conflict)
	}
}

func TestCheckIgnoresOtherUsers(t *testing.T) {
	db := testDB(t)
	seedFixtures(t, db)

	other := &models.User{Email: "other@example.com"}
	if err := db.Create(other).Error; err != nil {
		t.Fatalf("seeding user: %v", err)
	}

	conflict, err := NewCollisionChecker(db).Check(context.Background(), other.ID, Candidate{
		Start: at(monday, 10, 0),
		End:   at(monday, 11, 0),
	})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if conflict != nil {
		t.Fatalf("collided with another user's schedule: %+v", conflict)
	}
}

func TestCheckRejectsInvertedInterval(t *testing.T) {
	db := testDB(t)
	userID := seedFixtures(t, db)

	_, err := NewCollisionChecker(db).Check(context.Background(), userID, Candidate{
		Start: at(monday, 11, 0),
		End:   at(monday, 10, 0),
	})
	if err == nil {
		t.Fatalf("inverted interval accepted")
	}
}

func TestOverlaps(t *testing.T) {
	base := at(monday, 10, 0)
	hour := time.Hour
	tests := []struct {
		name                       string
		aStart, aEnd, bStart, bEnd time.Time
		want                       bool
	}{
		{"identical", base, base.Add(hour), base, base.Add(hour), true},
		{"partial", base, base.Add(hour), base.Add(30 * time.Minute), base.Add(90 * time.Minute), true},
		{"contained", base, base.Add(hour), base.Add(10 * time.Minute), base.Add(20 * time.Minute), true},
		{"adjacent after", base, base.Add(hour), base.Add(hour), base.Add(2 * hour), false},
		{"adjacent before", base, base.Add(hour), base.Add(-hour), base, false},
		{"disjoint", base, base.Add(hour), base.Add(3 * hour), base.Add(4 * hour), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Overlaps(tt.aStart, tt.aEnd, tt.bStart, tt.bEnd); got != tt.want {
				t.Fatalf("Overlaps = %v, want %v", got, tt.want)
			}
		})
	}
}
