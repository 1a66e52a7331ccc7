package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"home-tasks/internal/model"
)

// ReminderRepository stores due-date reminders and their state transitions.
type ReminderRepository struct {
	db *gorm.DB
}

func NewReminderRepository(db *gorm.DB) *ReminderRepository {
	return &ReminderRepository{db: db}
}

// Create schedules a reminder for the task.
func (r *ReminderRepository) Create(ctx context.Context, taskID uint, fireAt time.Time) (*model.Reminder, error) {
	return createReminder(r.db.WithContext(ctx), taskID, fireAt)
}

// CancelForTask cancels every scheduled reminder of the task.
func (r *ReminderRepository) CancelForTask(ctx context.Context, taskID uint) error {
	return cancelReminders(r.db.WithContext(ctx), taskID)
}

// Reschedule cancels the pending reminder and schedules a new one atomically.
func (r *ReminderRepository) Reschedule(ctx context.Context, taskID uint, fireAt time.Time) (*model.Reminder, error) {
	var created *model.Reminder
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := cancelReminders(tx, taskID); err != nil {
			return err
		}
		rem, err := createReminder(tx, taskID, fireAt)
		if err != nil {
			return err
		}
		created = rem
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// ListDue returns scheduled reminders with fireAt <= now, oldest first,
// joined with their task and the task owner.
func (r *ReminderRepository) ListDue(ctx context.Context, now time.Time) ([]model.DueReminder, error) {
	db := r.db.WithContext(ctx)

	var reminders []model.Reminder
	if err := db.Where("state = ? AND fire_at <= ?", model.ReminderScheduled, utc(now)).
		Order("fire_at, id").
		Find(&reminders).Error; err != nil {
		return nil, fmt.Errorf("list due reminders: %w", err)
	}
	if len(reminders) == 0 {
		return nil, nil
	}

	taskIDs := make([]uint, 0, len(reminders))
	for _, rem := range reminders {
		taskIDs = append(taskIDs, rem.TaskID)
	}
	var tasks []model.Task
	if err := db.Where("id IN ?", taskIDs).Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("load reminder tasks: %w", err)
	}
	tasksByID := make(map[uint]*model.Task, len(tasks))
	userIDs := make([]uint, 0, len(tasks))
	for i := range tasks {
		tasksByID[tasks[i].ID] = &tasks[i]
		userIDs = append(userIDs, tasks[i].UserID)
	}

	usersByID := map[uint]*model.User{}
	if len(userIDs) > 0 {
		var users []model.User
		if err := db.Where("id IN ?", userIDs).Find(&users).Error; err != nil {
			return nil, fmt.Errorf("load reminder users: %w", err)
		}
		for i := range users {
			usersByID[users[i].ID] = &users[i]
		}
	}

	due := make([]model.DueReminder, 0, len(reminders))
	for _, rem := range reminders {
		item := model.DueReminder{Reminder: rem}
		if task, ok := tasksByID[rem.TaskID]; ok {
			item.Task = task
			item.User = usersByID[task.UserID]
		}
		due = append(due, item)
	}
	return due, nil
}

// MarkSent moves a scheduled reminder to SENT. Reminders already in a
// terminal state are left untouched.
func (r *ReminderRepository) MarkSent(ctx context.Context, id uint) error {
	if err := r.db.WithContext(ctx).Model(&model.Reminder{}).
		Where("id = ? AND state = ?", id, model.ReminderScheduled).
		Update("state", model.ReminderSent).Error; err != nil {
		return fmt.Errorf("mark reminder sent: %w", err)
	}
	return nil
}

// ListForTask returns every reminder of the task, newest first.
func (r *ReminderRepository) ListForTask(ctx context.Context, taskID uint) ([]model.Reminder, error) {
	var reminders []model.Reminder
	if err := r.db.WithContext(ctx).Where("task_id = ?", taskID).
		Order("id DESC").
		Find(&reminders).Error; err != nil {
		return nil, fmt.Errorf("list reminders: %w", err)
	}
	return reminders, nil
}

// PruneFinished deletes SENT and CANCELLED reminders last touched before cutoff.
func (r *ReminderRepository) PruneFinished(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("state IN ? AND updated_at < ?", []model.ReminderState{model.ReminderSent, model.ReminderCancelled}, utc(cutoff)).
		Delete(&model.Reminder{})
	if res.Error != nil {
		return 0, fmt.Errorf("prune reminders: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func createReminder(db *gorm.DB, taskID uint, fireAt time.Time) (*model.Reminder, error) {
	rem := model.Reminder{TaskID: taskID, FireAt: utc(fireAt), State: model.ReminderScheduled}
	if err := db.Create(&rem).Error; err != nil {
		return nil, fmt.Errorf("create reminder: %w", err)
	}
	return &rem, nil
}

func cancelReminders(db *gorm.DB, taskID uint) error {
	if err := db.Model(&model.Reminder{}).
		Where("task_id = ? AND state = ?", taskID, model.ReminderScheduled).
		Update("state", model.ReminderCancelled).Error; err != nil {
		return fmt.Errorf("cancel reminders: %w", err)
	}
	return nil
}
