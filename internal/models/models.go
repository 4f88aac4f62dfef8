package models

import (
	"time"

	"github.com/gofrs/uuid"
)

type User struct {
	ID           uuid.UUID `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// RefreshToken is a persisted refresh token row. The raw token is never
// stored, only its digest.
type RefreshToken struct {
	TokenHash string
	UserID    uuid.UUID
	Used      bool
	UsedAt    *time.Time
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Expired reports whether the token is past its expiry at now.
func (t RefreshToken) Expired(now time.Time) bool {
	return t.ExpiresAt.Before(now)
}

type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}
