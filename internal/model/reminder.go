package model

import "time"

type ReminderState string

const (
	ReminderScheduled ReminderState = "SCHEDULED"
	ReminderSent      ReminderState = "SENT"
	ReminderCancelled ReminderState = "CANCELLED"
)

// Reminder is a one-shot notification for a task due date.
// A task has at most one reminder in ReminderScheduled state.
type Reminder struct {
	ID        uint          `gorm:"primaryKey"`
	TaskID    uint          `gorm:"index;not null"`
	FireAt    time.Time     `gorm:"index;not null"`
	State     ReminderState `gorm:"type:varchar(16);index;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DueReminder is a reminder ready to fire with its task and owner.
// Task is nil when the referenced task no longer exists.
type DueReminder struct {
	Reminder Reminder
	Task     *Task
	User     *User
}
