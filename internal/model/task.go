package model

import "time"

type TaskStatus string

const (
	TaskActive  TaskStatus = "ACTIVE"
	TaskDone    TaskStatus = "DONE"
	TaskDeleted TaskStatus = "DELETED"
)

// SourceType records how the task text reached the bot.
type SourceType string

const (
	SourceText    SourceType = "TEXT"
	SourceForward SourceType = "FORWARD"
)

// Task represents a single item in the planner.
// DoneAt is set only when Status is TaskDone.
type Task struct {
	ID             uint   `gorm:"primaryKey"`
	UserID         uint   `gorm:"index"`
	Title          string `gorm:"not null"`
	Notes          string
	DueAt          *time.Time `gorm:"index"`
	Status         TaskStatus `gorm:"type:varchar(16);index;not null"`
	DoneAt         *time.Time
	CardMessageID  *int
	SourceType     SourceType `gorm:"type:varchar(16);not null"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
	RecurrenceRule *RecurrenceRule `gorm:"foreignKey:TaskID"`
}

func (t Task) IsActive() bool { return t.Status == TaskActive }

// IsOverdue reports whether an active task was due before startOfToday.
func (t Task) IsOverdue(startOfToday time.Time) bool {
	return t.IsActive() && t.DueAt != nil && t.DueAt.Before(startOfToday)
}

// Repeats reports whether the task carries an active recurrence rule.
func (t Task) Repeats() bool {
	return t.RecurrenceRule != nil && t.RecurrenceRule.Active
}
