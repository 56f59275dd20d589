package auth

import "errors"

var (
	ErrNotFound           = errors.New("auth: not found")
	ErrUserExists         = errors.New("auth: user name already taken")
	ErrInvalidInput       = errors.New("auth: invalid input")
	ErrInvalidCredentials = errors.New("auth: invalid credentials")

	// Token validation and redemption outcomes.
	ErrExpired      = errors.New("auth: token expired")
	ErrBadSignature = errors.New("auth: bad token signature")
	ErrInvalidToken = errors.New("auth: invalid token")
	ErrAlreadyUsed  = errors.New("auth: refresh token already used")

	errMissingSecret = errors.New("auth: signing secret is not configured")
)
