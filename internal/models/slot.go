package models

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Origin records which side wrote a slot last. It is the input to conflict
// arbitration during sync: a pull never clobbers an unpushed local write.
type Origin string

const (
	OriginLocal  Origin = "LOCAL"
	OriginRemote Origin = "REMOTE"
)

// ClockTime is a wall-clock time of day in minutes since midnight, used by
// the recurring slot form.
type ClockTime int

func ParseClock(s string) (ClockTime, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid clock time %q: %w", s, err)
	}
	return ClockTime(t.Hour()*60 + t.Minute()), nil
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

// Slot is a schedulable time block owned by one user. It carries two temporal
// forms: a recurring weekly block (day of week + wall-clock range) and an
// absolute range. The absolute form is authoritative for calendar sync.
type Slot struct {
	ID     uint   `gorm:"primaryKey" json:"id"`
	UserID uint   `gorm:"index;not null" json:"user_id"`
	Title  string `gorm:"not null" json:"title"`

	StartAt *time.Time `json:"start_at"`
	EndAt   *time.Time `json:"end_at"`

	DayOfWeek *time.Weekday `json:"day_of_week"`
	StartTime *ClockTime    `json:"start_time"`
	EndTime   *ClockTime    `json:"end_time"`

	GoogleEventID  *string    `gorm:"uniqueIndex" json:"google_event_id"`
	IsRemoteLinked bool       `gorm:"default:false" json:"is_remote_linked"`
	Origin         *Origin    `gorm:"type:varchar(10)" json:"origin"`
	LastModifiedAt *time.Time `json:"last_modified_at"`
	IsDeleted      bool       `gorm:"default:false" json:"is_deleted"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AbsoluteTime is the timestamp form of a slot's schedule.
type AbsoluteTime struct {
	Start time.Time
	End   time.Time
}

// RecurringTime is the weekly wall-clock form of a slot's schedule.
type RecurringTime struct {
	Day   time.Weekday
	Start ClockTime
	End   ClockTime
}

// TimeSpec is a slot's schedule as a tagged union: at least one of the two
// forms is always present.
type TimeSpec struct {
	Absolute  *AbsoluteTime
	Recurring *RecurringTime
}

var ErrNoTimeSpec = errors.New("slot has neither an absolute nor a recurring time")

// TimeSpec returns the populated temporal forms of the slot, rejecting the
// empty state so callers never have to branch on four nullable columns.
func (s *Slot) TimeSpec() (TimeSpec, error) {
	var spec TimeSpec
	if s.StartAt != nil && s.EndAt != nil {
		spec.Absolute = &AbsoluteTime{Start: *s.StartAt, End: *s.EndAt}
	}
	if s.DayOfWeek != nil && s.StartTime != nil && s.EndTime != nil {
		spec.Recurring = &RecurringTime{Day: *s.DayOfWeek, Start: *s.StartTime, End: *s.EndTime}
	}
	if spec.Absolute == nil && spec.Recurring == nil {
		return TimeSpec{}, ErrNoTimeSpec
	}
	return spec, nil
}

// BeforeSave rejects slots in the illegal neither-form state and incomplete
// half-populated forms.
func (s *Slot) BeforeSave(tx *gorm.DB) error {
	if (s.StartAt == nil) != (s.EndAt == nil) {
		return errors.New("absolute slot time requires both start_at and end_at")
	}
	recurringFields := 0
	for _, set := range []bool{s.DayOfWeek != nil, s.StartTime != nil, s.EndTime != nil} {
		if set {
			recurringFields++
		}
	}
	if recurringFields != 0 && recurringFields != 3 {
		return errors.New("recurring slot time requires day_of_week, start_time and end_time")
	}
	if _, err := s.TimeSpec(); err != nil {
		return err
	}
	return nil
}

// Touch stamps the slot with the given writer attribution.
func (s *Slot) Touch(origin Origin, now time.Time) {
	s.Origin = &origin
	s.LastModifiedAt = &now
}
