package service

import (
	"context"
	"strings"

	"home-tasks/internal/datetime"
	"home-tasks/internal/model"
	"home-tasks/internal/repository"
)

// UserDefaults are applied to newly registered users.
type UserDefaults struct {
	Timezone   string
	QuietFrom  string
	QuietTo    string
	DigestTime string
}

// UserService manages users and their notification settings.
type UserService struct {
	userRepo *repository.UserRepository
	defaults UserDefaults
}

func NewUserService(userRepo *repository.UserRepository, defaults UserDefaults) *UserService {
	return &UserService{userRepo: userRepo, defaults: defaults}
}

// Ensure returns the user for telegramID, creating it with defaults.
func (s *UserService) Ensure(ctx context.Context, telegramID int64, firstName, lastName, username string) (*model.User, error) {
	return s.userRepo.UpsertFromTelegram(ctx, model.User{
		TelegramID: telegramID,
		FirstName:  firstName,
		LastName:   lastName,
		Username:   username,
		Timezone:   s.defaults.Timezone,
		QuietFrom:  s.defaults.QuietFrom,
		QuietTo:    s.defaults.QuietTo,
		DigestTime: s.defaults.DigestTime,
	})
}

func (s *UserService) Get(ctx context.Context, id uint) (*model.User, error) {
	return s.userRepo.Get(ctx, id)
}

func (s *UserService) ListAll(ctx context.Context) ([]model.User, error) {
	return s.userRepo.ListAll(ctx)
}

// UpdateSettings validates and stores the given settings. Clock values are
// normalised to HH:MM.
func (s *UserService) UpdateSettings(ctx context.Context, userID uint, update repository.SettingsUpdate) (*model.User, error) {
	if update.Timezone != nil {
		tz := strings.TrimSpace(*update.Timezone)
		if _, err := datetime.LoadLocation(tz); err != nil || tz == "" {
			return nil, ErrInvalidTimezone
		}
		update.Timezone = &tz
	}
	for _, field := range []**string{&update.QuietFrom, &update.QuietTo, &update.DigestTime} {
		if *field == nil {
			continue
		}
		c, err := datetime.ParseClock(**field)
		if err != nil {
			return nil, err
		}
		norm := c.String()
		*field = &norm
	}
	return s.userRepo.UpdateSettings(ctx, userID, update)
}

func (s *UserService) SetTimezone(ctx context.Context, userID uint, tz string) (*model.User, error) {
	return s.UpdateSettings(ctx, userID, repository.SettingsUpdate{Timezone: &tz})
}

func (s *UserService) SetQuietHours(ctx context.Context, userID uint, from, to string) (*model.User, error) {
	return s.UpdateSettings(ctx, userID, repository.SettingsUpdate{QuietFrom: &from, QuietTo: &to})
}

func (s *UserService) SetDigestTime(ctx context.Context, userID uint, at string) (*model.User, error) {
	return s.UpdateSettings(ctx, userID, repository.SettingsUpdate{DigestTime: &at})
}
