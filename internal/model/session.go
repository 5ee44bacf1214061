package model

import "time"

// RefreshToken 一条刷新令牌记录；只保存令牌的 SHA-256 摘要
type RefreshToken struct {
	ID         string    `gorm:"primaryKey;size:26"`
	UserID     string    `gorm:"size:26;not null;index"`
	TokenHash  string    `gorm:"size:64;not null;uniqueIndex"`
	ExpiresAt  time.Time `gorm:"not null;index"`
	Revoked    bool      `gorm:"not null;default:false"`
	RevokedAt  *time.Time
	ReplacedBy *string `gorm:"size:64"`
	CreatedAt  time.Time
}

func (RefreshToken) TableName() string {
	return "refresh_tokens"
}

// IsExpiredAt reports whether the token is past its expiry at t.
func (t *RefreshToken) IsExpiredAt(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// WasRotated reports whether the token was revoked by a rotation, as opposed
// to a logout or a revoke-all.
func (t *RefreshToken) WasRotated() bool {
	return t.Revoked && t.ReplacedBy != nil
}

// Session is the result of a successful login or refresh.
type Session struct {
	AccessToken           string      `json:"accessToken"`
	RefreshToken          string      `json:"refreshToken"`
	AccessTokenExpiresAt  time.Time   `json:"accessTokenExpiresAt"`
	RefreshTokenExpiresAt time.Time   `json:"refreshTokenExpiresAt"`
	User                  UserProfile `json:"user"`
}
