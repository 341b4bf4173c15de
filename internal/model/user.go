package model

import "time"

// User is the owner of tasks and notification preferences. TelegramID links
// the account to the chat surface and stays nil for web-only users.
type User struct {
	ID         uint   `gorm:"primaryKey"`
	TelegramID *int64 `gorm:"uniqueIndex"`
	Email      string
	FirstName  string
	LastName   string
	Username   string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
