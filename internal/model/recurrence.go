package model

import (
	"time"

	"home-tasks/internal/datetime"
)

// RecurrenceRule makes a task spawn a successor when completed.
// Rules are deactivated, never deleted, and each task owns its own copy.
type RecurrenceRule struct {
	ID        uint          `gorm:"primaryKey"`
	TaskID    uint          `gorm:"uniqueIndex;not null"`
	EveryN    int           `gorm:"not null"`
	Unit      datetime.Unit `gorm:"type:varchar(8);not null"`
	Active    bool          `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
