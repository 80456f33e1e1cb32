package models

import "time"

type Priority string

const (
	PriorityHigh   Priority = "High"
	PriorityMedium Priority = "Medium"
	PriorityLow    Priority = "Low"
)

type TaskStatus string

const (
	TaskPending    TaskStatus = "Pending"
	TaskInProgress TaskStatus = "In_Progress"
	TaskCompleted  TaskStatus = "Completed"
)

type TaskCategory string

const (
	CategoryAssignment TaskCategory = "Assignment"
	CategoryExam       TaskCategory = "Exam"
	CategoryProject    TaskCategory = "Project"
	CategoryStudy      TaskCategory = "Study"
)

// Task is a scheduled unit of work. The task CRUD surface lives elsewhere;
// the sync service only reads tasks for collision checks, so the model here
// carries just what those checks and the schema need.
type Task struct {
	ID          uint    `gorm:"primaryKey" json:"id"`
	UserID      uint    `gorm:"index;not null" json:"user_id"`
	Title       string  `gorm:"not null" json:"title"`
	Description *string `json:"description"`

	Priority Priority     `gorm:"type:varchar(10);default:Medium" json:"priority"`
	Category TaskCategory `gorm:"type:varchar(20);default:Study" json:"category"`
	Status   TaskStatus   `gorm:"type:varchar(20);default:Pending" json:"status"`

	Deadline         *time.Time `json:"deadline"`
	ScheduledStartAt *time.Time `json:"scheduled_start_at"`
	ScheduledEndAt   *time.Time `json:"scheduled_end_at"`

	CreatedAt time.Time `json:"created_at"`
}
