package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"home-tasks/internal/datetime"
	"home-tasks/internal/model"
)

// RecurrenceRuleRepository stores per-task recurrence rules.
type RecurrenceRuleRepository struct {
	db *gorm.DB
}

func NewRecurrenceRuleRepository(db *gorm.DB) *RecurrenceRuleRepository {
	return &RecurrenceRuleRepository{db: db}
}

func (r *RecurrenceRuleRepository) Get(ctx context.Context, taskID uint) (*model.RecurrenceRule, error) {
	var rule model.RecurrenceRule
	if err := r.db.WithContext(ctx).Where("task_id = ?", taskID).First(&rule).Error; err != nil {
		return nil, notFound(err)
	}
	return &rule, nil
}

// Set creates or replaces the task's rule and activates it.
func (r *RecurrenceRuleRepository) Set(ctx context.Context, taskID uint, everyN int, unit datetime.Unit) (*model.RecurrenceRule, error) {
	rule := model.RecurrenceRule{TaskID: taskID, EveryN: everyN, Unit: unit, Active: true}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "task_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"every_n", "unit", "active", "updated_at"}),
	}).Create(&rule).Error
	if err != nil {
		return nil, fmt.Errorf("set recurrence rule: %w", err)
	}
	return r.Get(ctx, taskID)
}

// Deactivate turns the rule off; the row is kept.
func (r *RecurrenceRuleRepository) Deactivate(ctx context.Context, taskID uint) error {
	if err := r.db.WithContext(ctx).Model(&model.RecurrenceRule{}).
		Where("task_id = ?", taskID).
		Update("active", false).Error; err != nil {
		return fmt.Errorf("deactivate recurrence rule: %w", err)
	}
	return nil
}
