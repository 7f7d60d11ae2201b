package models

import "time"

const (
	SubscriptionInactive = "inactive"
	SubscriptionActive   = "active"
)

type User struct {
	ID           uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	Email        string `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	Username     string `gorm:"type:varchar(32);uniqueIndex;not null" json:"username"`
	PasswordHash string `gorm:"type:varchar(255);not null" json:"-"`

	// Gamified points balance; image generation and goal rewards move it.
	Points int64 `gorm:"not null;default:0" json:"points"`

	SubscriptionStatus string `gorm:"type:varchar(16);not null;default:'inactive'" json:"subscription_status"`

	// Free-text persona description appended to prompts.
	PersonaDescription string `gorm:"type:text" json:"persona_description"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (User) TableName() string { return "users" }

func (u *User) IsPremium() bool { return u.SubscriptionStatus == SubscriptionActive }
