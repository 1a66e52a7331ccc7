package model

import (
	"time"

	"home-tasks/internal/datetime"
)

// User stores Telegram user metadata and notification settings.
type User struct {
	ID         uint  `gorm:"primaryKey"`
	TelegramID int64 `gorm:"uniqueIndex"`
	FirstName  string
	LastName   string
	Username   string
	Timezone   string `gorm:"not null"`
	QuietFrom  string `gorm:"type:varchar(5);not null"`
	QuietTo    string `gorm:"type:varchar(5);not null"`
	DigestTime string `gorm:"type:varchar(5);not null"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Settings is the parsed form of the user's notification settings.
type Settings struct {
	Location  *time.Location
	QuietFrom datetime.Clock
	QuietTo   datetime.Clock
	Digest    datetime.Clock
}

// Settings parses the stored timezone and clock values.
func (u User) Settings() (Settings, error) {
	loc, err := datetime.LoadLocation(u.Timezone)
	if err != nil {
		return Settings{}, err
	}
	from, err := datetime.ParseClock(u.QuietFrom)
	if err != nil {
		return Settings{}, err
	}
	to, err := datetime.ParseClock(u.QuietTo)
	if err != nil {
		return Settings{}, err
	}
	digest, err := datetime.ParseClock(u.DigestTime)
	if err != nil {
		return Settings{}, err
	}
	return Settings{Location: loc, QuietFrom: from, QuietTo: to, Digest: digest}, nil
}

// InQuietHours reports whether t falls inside the quiet window.
func (s Settings) InQuietHours(t time.Time) bool {
	return datetime.IsWithinLocalWindow(t, s.Location, s.QuietFrom, s.QuietTo)
}
