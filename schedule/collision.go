// Package schedule holds the interval-overlap checks consumed by the task
// and slot CRUD surfaces before committing a schedule change. The checks are
// pure reads: no side effects, deterministic for a given database state.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/nihanth-yadalam/IAP---backend/internal/models"
)

// Overlaps is the open-interval overlap test: touching endpoints do not
// collide, so back-to-back blocks are allowed.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && aEnd.After(bStart)
}

func overlapsClock(aStart, aEnd, bStart, bEnd models.ClockTime) bool {
	return aStart < bEnd && aEnd > bStart
}

// Candidate is a proposed time interval for a user's task or slot.
type Candidate struct {
	Start time.Time
	End   time.Time

	// ExcludeTaskID skips the task being updated so it cannot collide with
	// itself. Zero means nothing is excluded.
	ExcludeTaskID uint
}

// Conflict names what the candidate collided with.
type Conflict struct {
	Kind  string `json:"kind"` // "task" or "fixed_slot"
	ID    uint   `json:"id"`
	Title string `json:"title"`
}

func (c *Conflict) Error() string {
	return fmt.Sprintf("conflicts with %s %d (%s)", c.Kind, c.ID, c.Title)
}

// CollisionChecker answers whether a candidate interval is free.
type CollisionChecker struct {
	db *gorm.DB
}

func NewCollisionChecker(db *gorm.DB) *CollisionChecker {
	return &CollisionChecker{db: db}
}

// Check returns the first conflict found, or nil if the interval is free.
// A candidate collides with a scheduled task when the absolute intervals
// overlap, and with a recurring fixed slot when the day of week matches and
// the wall-clock ranges overlap.
func (c *CollisionChecker) Check(ctx context.Context, userID uint, cand Candidate) (*Conflict, error) {
	if !cand.End.After(cand.Start) {
		return nil, fmt.Errorf("candidate interval must end after it starts")
	}

	var task models.Task
	q := c.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Where("scheduled_start_at IS NOT NULL AND scheduled_end_at IS NOT NULL").
		Where("scheduled_start_at < ? AND scheduled_end_at > ?", cand.End, cand.Start)
	if cand.ExcludeTaskID != 0 {
		q = q.Where("id <> ?", cand.ExcludeTaskID)
	}
	err := q.First(&task).Error
	if err == nil {
		return &Conflict{Kind: "task", ID: task.ID, Title: task.Title}, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("checking task collisions: %w", err)
	}

	day := cand.Start.Weekday()
	candStart := clockOf(cand.Start)
	candEnd := clockOf(cand.End)

	var slots []models.Slot
	err = c.db.WithContext(ctx).
		Where("user_id = ? AND is_deleted = ?", userID, false).
		Where("day_of_week = ?", day).
		Find(&slots).Error
	if err != nil {
		return nil, fmt.Errorf("checking fixed slot collisions: %w", err)
	}
	for i := range slots {
		slot := &slots[i]
		if slot.StartTime == nil || slot.EndTime == nil {
			continue
		}
		if overlapsClock(candStart, candEnd, *slot.StartTime, *slot.EndTime) {
			return &Conflict{Kind: "fixed_slot", ID: slot.ID, Title: slot.Title}, nil
		}
	}
	return nil, nil
}

func clockOf(t time.Time) models.ClockTime {
	return models.ClockTime(t.Hour()*60 + t.Minute())
}
