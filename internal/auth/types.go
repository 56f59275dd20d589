package auth

import (
	"time"

	"github.com/google/uuid"
)

// User is an account able to log in. UserName is unique.
type User struct {
	ID           uuid.UUID `json:"id"`
	UserName     string    `json:"userName"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	Email        string    `json:"email"`
	FullName     string    `json:"fullName"`
	CreatedAt    time.Time `json:"createdAt"`
}

// RefreshToken is the persisted half of a refresh token. Only the sha256 of
// the secret is stored; the client holds "<ID>.<secret>".
type RefreshToken struct {
	ID        string
	UserID    uuid.UUID
	TokenHash string
	CreatedAt time.Time
	ExpiresAt time.Time
	Used      bool
	UsedAt    *time.Time
}

// TokenPair is what login and refresh hand back to the client.
type TokenPair struct {
	AccessToken      string    `json:"accessToken"`
	RefreshToken     string    `json:"refreshToken"`
	AccessExpiresAt  time.Time `json:"accessExpiresAt"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
}
