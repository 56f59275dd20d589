package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// UserStore persists accounts.
type UserStore interface {
	// CreateUser fails with ErrUserExists when the user name is taken.
	CreateUser(ctx context.Context, u *User) error
	FindUser(ctx context.Context, id uuid.UUID) (*User, error)
	FindUserByName(ctx context.Context, userName string) (*User, error)
}

// RefreshTokenStore manages the refresh token lifecycle.
type RefreshTokenStore interface {
	CreateRefreshToken(ctx context.Context, tok *RefreshToken) error
	FindRefreshToken(ctx context.Context, id string) (*RefreshToken, error)

	// RotateRefreshToken flips usedID from unused to used and inserts next in
	// a single transaction. When the flip matches no unused row the whole
	// call fails with ErrAlreadyUsed and next is not stored.
	RotateRefreshToken(ctx context.Context, usedID string, usedAt time.Time, next *RefreshToken) error

	DeleteRefreshToken(ctx context.Context, id string) error
	DeleteRefreshTokensByUser(ctx context.Context, userID uuid.UUID) (int64, error)
}
