package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"home-tasks/internal/model"
	"home-tasks/internal/recurrence"
)

// ErrTaskNotActive is returned when a transition requires an ACTIVE task.
var ErrTaskNotActive = errors.New("task is not active")

// SpawnFunc builds the successor of a recurring task being completed.
type SpawnFunc func(task model.Task, rule model.RecurrenceRule) (recurrence.Successor, error)

// CompleteResult is the outcome of a completion. Successor is nil for
// one-off tasks.
type CompleteResult struct {
	Task      *model.Task
	Successor *model.Task
}

// TaskRepository handles CRUD for tasks.
type TaskRepository struct {
	db *gorm.DB
}

func NewTaskRepository(db *gorm.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

// Create stores the task together with its reminder when it has a due date.
func (r *TaskRepository) Create(ctx context.Context, task *model.Task) error {
	if task.Status == "" {
		task.Status = model.TaskActive
	}
	if task.SourceType == "" {
		task.SourceType = model.SourceText
	}
	task.DueAt = utcPtr(task.DueAt)

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(task).Error; err != nil {
			return fmt.Errorf("create task: %w", err)
		}
		if task.DueAt != nil && task.IsActive() {
			if _, err := createReminder(tx, task.ID, *task.DueAt); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *TaskRepository) FindByID(ctx context.Context, taskID uint) (*model.Task, error) {
	var task model.Task
	if err := r.db.WithContext(ctx).Preload("RecurrenceRule").First(&task, taskID).Error; err != nil {
		return nil, notFound(err)
	}
	return &task, nil
}

// FindForUser loads a task only if it belongs to userID.
func (r *TaskRepository) FindForUser(ctx context.Context, userID, taskID uint) (*model.Task, error) {
	var task model.Task
	if err := r.db.WithContext(ctx).Preload("RecurrenceRule").
		Where("user_id = ? AND id = ?", userID, taskID).
		First(&task).Error; err != nil {
		return nil, notFound(err)
	}
	return &task, nil
}

func (r *TaskRepository) UpdateTitle(ctx context.Context, userID, taskID uint, title string) error {
	res := r.db.WithContext(ctx).Model(&model.Task{}).
		Where("user_id = ? AND id = ? AND status = ?", userID, taskID, model.TaskActive).
		Update("title", title)
	if res.Error != nil {
		return fmt.Errorf("update task title: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrTaskNotActive
	}
	return nil
}

// SetCardMessageID remembers the last chat message showing the task card.
func (r *TaskRepository) SetCardMessageID(ctx context.Context, taskID uint, messageID int) error {
	if err := r.db.WithContext(ctx).Model(&model.Task{}).
		Where("id = ?", taskID).
		Update("card_message_id", messageID).Error; err != nil {
		return fmt.Errorf("set card message: %w", err)
	}
	return nil
}

// SetDueAt changes the due date and replaces the pending reminder in one
// transaction, so a task never has two scheduled reminders.
func (r *TaskRepository) SetDueAt(ctx context.Context, userID, taskID uint, dueAt time.Time) (*model.Task, error) {
	dueAt = dueAt.UTC()
	var task model.Task
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ? AND id = ?", userID, taskID).First(&task).Error; err != nil {
			return notFound(err)
		}
		if !task.IsActive() {
			return ErrTaskNotActive
		}
		if err := tx.Model(&task).Update("due_at", dueAt).Error; err != nil {
			return fmt.Errorf("set due date: %w", err)
		}
		if err := cancelReminders(tx, task.ID); err != nil {
			return err
		}
		_, err := createReminder(tx, task.ID, dueAt)
		return err
	})
	if err != nil {
		return nil, err
	}
	return r.FindByID(ctx, task.ID)
}

// SoftDelete marks the task DELETED and cancels its pending reminder.
func (r *TaskRepository) SoftDelete(ctx context.Context, userID, taskID uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Task{}).
			Where("user_id = ? AND id = ? AND status <> ?", userID, taskID, model.TaskDeleted).
			Updates(map[string]interface{}{"status": model.TaskDeleted, "done_at": nil})
		if res.Error != nil {
			return fmt.Errorf("delete task: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return cancelReminders(tx, taskID)
	})
}

// Complete marks an ACTIVE task DONE. When the task has an active
// recurrence rule and spawn is set, the successor task, its rule copy and
// its reminder are written in the same transaction, before the parent row
// changes state. A task already completed yields ErrTaskNotActive.
func (r *TaskRepository) Complete(ctx context.Context, userID, taskID uint, doneAt time.Time, spawn SpawnFunc) (*CompleteResult, error) {
	doneAt = doneAt.UTC()
	var result CompleteResult

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var task model.Task
		if err := tx.Preload("RecurrenceRule").
			Where("user_id = ? AND id = ?", userID, taskID).
			First(&task).Error; err != nil {
			return notFound(err)
		}
		if !task.IsActive() {
			return ErrTaskNotActive
		}
		if err := cancelReminders(tx, task.ID); err != nil {
			return err
		}

		if task.Repeats() && spawn != nil {
			next, err := spawn(task, *task.RecurrenceRule)
			if err != nil {
				return fmt.Errorf("expand recurrence: %w", err)
			}
			successor, err := persistSuccessor(tx, next)
			if err != nil {
				return err
			}
			result.Successor = successor
		}

		res := tx.Model(&model.Task{}).
			Where("id = ? AND status = ?", task.ID, model.TaskActive).
			Updates(map[string]interface{}{"status": model.TaskDone, "done_at": doneAt})
		if res.Error != nil {
			return fmt.Errorf("complete task: %w", res.Error)
		}
		if res.RowsAffected != 1 {
			return ErrTaskNotActive
		}
		task.Status = model.TaskDone
		task.DoneAt = &doneAt
		result.Task = &task
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func persistSuccessor(tx *gorm.DB, next recurrence.Successor) (*model.Task, error) {
	task := next.Task
	task.ID = 0
	task.RecurrenceRule = nil
	task.DueAt = utcPtr(task.DueAt)
	if err := tx.Omit(clause.Associations).Create(&task).Error; err != nil {
		return nil, fmt.Errorf("create successor: %w", err)
	}

	rule := next.Rule
	rule.ID = 0
	rule.TaskID = task.ID
	if err := tx.Create(&rule).Error; err != nil {
		return nil, fmt.Errorf("copy recurrence rule: %w", err)
	}

	if _, err := createReminder(tx, task.ID, next.Reminder.FireAt); err != nil {
		return nil, err
	}
	task.RecurrenceRule = &rule
	return &task, nil
}

// ListActive returns every ACTIVE task of the user, dated tasks first.
func (r *TaskRepository) ListActive(ctx context.Context, userID uint) ([]model.Task, error) {
	return r.listActive(ctx, userID, nil)
}

// ListActiveDueBetween returns ACTIVE tasks with from <= dueAt <= to.
func (r *TaskRepository) ListActiveDueBetween(ctx context.Context, userID uint, from, to time.Time) ([]model.Task, error) {
	return r.listActive(ctx, userID, func(db *gorm.DB) *gorm.DB {
		return db.Where("due_at >= ? AND due_at <= ?", utc(from), utc(to))
	})
}

// ListActiveDueBefore returns ACTIVE tasks with dueAt < before.
func (r *TaskRepository) ListActiveDueBefore(ctx context.Context, userID uint, before time.Time) ([]model.Task, error) {
	return r.listActive(ctx, userID, func(db *gorm.DB) *gorm.DB {
		return db.Where("due_at < ?", utc(before))
	})
}

// ListInbox returns ACTIVE tasks without a due date, newest first.
func (r *TaskRepository) ListInbox(ctx context.Context, userID uint) ([]model.Task, error) {
	return r.listActive(ctx, userID, func(db *gorm.DB) *gorm.DB {
		return db.Where("due_at IS NULL")
	})
}

func (r *TaskRepository) listActive(ctx context.Context, userID uint, scope func(*gorm.DB) *gorm.DB) ([]model.Task, error) {
	var tasks []model.Task
	q := r.db.WithContext(ctx).Preload("RecurrenceRule").
		Where("user_id = ? AND status = ?", userID, model.TaskActive)
	if scope != nil {
		q = q.Scopes(scope)
	}
	if err := q.Order("due_at NULLS LAST, created_at DESC").Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}
