// Package recurrence computes the successor of a completed recurring task.
package recurrence

import (
	"errors"
	"fmt"
	"time"

	"home-tasks/internal/datetime"
	"home-tasks/internal/model"
)

var ErrInactiveRule = errors.New("recurrence rule is not active")

// Successor is the next generation of a recurring task. IDs are left zero
// and foreign keys are filled in when the rows are persisted.
type Successor struct {
	Task     model.Task
	Rule     model.RecurrenceRule
	Reminder model.Reminder
}

// Validate checks the interval of a rule.
func Validate(everyN int, unit datetime.Unit) error {
	if everyN <= 0 {
		return fmt.Errorf("interval must be positive, got %d", everyN)
	}
	if !unit.Valid() {
		return fmt.Errorf("invalid interval unit %q", unit)
	}
	return nil
}

// NextDue is the completion instant shifted by the rule interval on the
// user's local calendar.
func NextDue(completedAt time.Time, rule model.RecurrenceRule, loc *time.Location) time.Time {
	return datetime.AddCalendarInterval(completedAt, rule.EveryN, rule.Unit, loc)
}

// Expand builds the successor of task completed at completedAt.
func Expand(task model.Task, rule model.RecurrenceRule, completedAt time.Time, loc *time.Location) (Successor, error) {
	if !rule.Active {
		return Successor{}, ErrInactiveRule
	}
	if err := Validate(rule.EveryN, rule.Unit); err != nil {
		return Successor{}, err
	}

	due := NextDue(completedAt, rule, loc)
	return Successor{
		Task: model.Task{
			UserID:     task.UserID,
			Title:      task.Title,
			Notes:      task.Notes,
			DueAt:      &due,
			Status:     model.TaskActive,
			SourceType: task.SourceType,
		},
		Rule: model.RecurrenceRule{
			EveryN: rule.EveryN,
			Unit:   rule.Unit,
			Active: true,
		},
		Reminder: model.Reminder{
			FireAt: due,
			State:  model.ReminderScheduled,
		},
	}, nil
}
