package model

import "time"

// NotificationSetting holds the delivery channels chosen by a user.
type NotificationSetting struct {
	ID             uint    `gorm:"primaryKey"`
	UserID         uint    `gorm:"uniqueIndex;not null"`
	Email          *string `gorm:"size:320"`
	EmailEnabled   bool    `gorm:"not null"`
	WebPushEnabled bool    `gorm:"not null"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// PushSubscription is one browser/device registered for web push.
type PushSubscription struct {
	ID        uint   `gorm:"primaryKey"`
	UserID    uint   `gorm:"index;not null"`
	Endpoint  string `gorm:"uniqueIndex;not null"`
	P256dh    string `gorm:"not null"`
	Auth      string `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
