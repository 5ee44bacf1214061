package model

import (
	"time"

	"gorm.io/gorm"
)

type User struct {
	ID                string  `gorm:"primaryKey;size:26"`
	Username          string  `gorm:"uniqueIndex;size:32;not null"`
	Email             string  `gorm:"uniqueIndex;size:254;not null"`
	PasswordHash      string  `gorm:"size:255;not null"`
	DisplayName       *string `gorm:"size:64"`
	Bio               *string `gorm:"type:text"`
	ProfilePictureURL *string `gorm:"size:512"`
	EmailVerified     bool    `gorm:"not null;default:false"`
	LastLoginAt       *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
	DeletedAt         gorm.DeletedAt `gorm:"index"`
}

// UserProfile 对外暴露的用户信息，不含密码
type UserProfile struct {
	ID                string    `json:"id"`
	Username          string    `json:"username"`
	Email             string    `json:"email"`
	DisplayName       *string   `json:"displayName,omitempty"`
	Bio               *string   `json:"bio,omitempty"`
	ProfilePictureURL *string   `json:"profilePictureUrl,omitempty"`
	EmailVerified     bool      `json:"emailVerified"`
	CreatedAt         time.Time `json:"createdAt"`
}

func (u *User) Profile() UserProfile {
	return UserProfile{
		ID:                u.ID,
		Username:          u.Username,
		Email:             u.Email,
		DisplayName:       u.DisplayName,
		Bio:               u.Bio,
		ProfilePictureURL: u.ProfilePictureURL,
		EmailVerified:     u.EmailVerified,
		CreatedAt:         u.CreatedAt,
	}
}
