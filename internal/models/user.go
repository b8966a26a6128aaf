package models

import "time"

// User holds the upstream credential of an automation owner.
type User struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Username string `gorm:"type:text;not null;uniqueIndex"` // Unique login name.

	GitHubAccessToken string `gorm:"column:github_access_token;type:text"` // Sealed provider token.

	TokenInvalid    bool       `gorm:"not null;default:false"` // Set when the provider rejected the token.
	LastAuthCheckAt *time.Time // Last credential check time.
	LastAuthError   string     `gorm:"type:text"` // Last credential error message.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
