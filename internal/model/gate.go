package model

import "time"

// GateMarker records the local date a daily notification class last fired for a user.
type GateMarker struct {
	UserID    uint   `gorm:"primaryKey;autoIncrement:false"`
	Class     string `gorm:"primaryKey;type:varchar(32)"`
	DateKey   string `gorm:"type:varchar(10);not null"`
	UpdatedAt time.Time
}
