package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"home-tasks/internal/gate"
	"home-tasks/internal/model"
)

// GateRepository is a durable gate.Store kept in the gate_markers table.
type GateRepository struct {
	db *gorm.DB
}

func NewGateRepository(db *gorm.DB) *GateRepository {
	return &GateRepository{db: db}
}

func (r *GateRepository) Get(ctx context.Context, key gate.Key) (string, bool, error) {
	var marker model.GateMarker
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND class = ?", key.UserID, string(key.Class)).
		First(&marker).Error
	switch {
	case err == nil:
		return marker.DateKey, true, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return "", false, nil
	default:
		return "", false, fmt.Errorf("get gate marker: %w", err)
	}
}

func (r *GateRepository) Set(ctx context.Context, key gate.Key, dateKey string) error {
	marker := model.GateMarker{UserID: key.UserID, Class: string(key.Class), DateKey: dateKey}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "class"}},
		DoUpdates: clause.AssignmentColumns([]string{"date_key", "updated_at"}),
	}).Create(&marker).Error
	if err != nil {
		return fmt.Errorf("set gate marker: %w", err)
	}
	return nil
}

var _ gate.Store = (*GateRepository)(nil)
