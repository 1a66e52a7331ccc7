package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"home-tasks/internal/model"
)

// SettingsUpdate carries changed settings; nil fields are left as they are.
type SettingsUpdate struct {
	Timezone   *string
	QuietFrom  *string
	QuietTo    *string
	DigestTime *string
}

func (u SettingsUpdate) columns() map[string]interface{} {
	updates := map[string]interface{}{}
	if u.Timezone != nil {
		updates["timezone"] = *u.Timezone
	}
	if u.QuietFrom != nil {
		updates["quiet_from"] = *u.QuietFrom
	}
	if u.QuietTo != nil {
		updates["quiet_to"] = *u.QuietTo
	}
	if u.DigestTime != nil {
		updates["digest_time"] = *u.DigestTime
	}
	return updates
}

// UserRepository handles CRUD for users.
type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

// UpsertFromTelegram finds or creates a user based on TelegramID and updates
// basic profile info. The settings of profile are applied only on creation.
func (r *UserRepository) UpsertFromTelegram(ctx context.Context, profile model.User) (*model.User, error) {
	var user model.User
	db := r.db.WithContext(ctx)
	err := db.Where("telegram_id = ?", profile.TelegramID).First(&user).Error
	switch {
	case err == nil:
		updates := map[string]interface{}{
			"first_name": profile.FirstName,
			"last_name":  profile.LastName,
			"username":   profile.Username,
		}
		if err := db.Model(&user).Updates(updates).Error; err != nil {
			return nil, fmt.Errorf("update user: %w", err)
		}
		return &user, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		user = profile
		user.ID = 0
		if err := db.Create(&user).Error; err != nil {
			return nil, fmt.Errorf("create user: %w", err)
		}
		return &user, nil
	default:
		return nil, fmt.Errorf("find user: %w", err)
	}
}

func (r *UserRepository) FindByTelegramID(ctx context.Context, telegramID int64) (*model.User, error) {
	var user model.User
	if err := r.db.WithContext(ctx).Where("telegram_id = ?", telegramID).First(&user).Error; err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

func (r *UserRepository) Get(ctx context.Context, id uint) (*model.User, error) {
	var user model.User
	if err := r.db.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

func (r *UserRepository) ListAll(ctx context.Context) ([]model.User, error) {
	var users []model.User
	if err := r.db.WithContext(ctx).Order("id").Find(&users).Error; err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// UpdateSettings writes the non-nil fields of update. Values must already be validated.
func (r *UserRepository) UpdateSettings(ctx context.Context, id uint, update SettingsUpdate) (*model.User, error) {
	cols := update.columns()
	if len(cols) > 0 {
		res := r.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", id).Updates(cols)
		if res.Error != nil {
			return nil, fmt.Errorf("update settings: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil, ErrNotFound
		}
	}
	return r.Get(ctx, id)
}
