package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"pagehall.org/internal/audit"
	"pagehall.org/internal/ids"
	"pagehall.org/internal/obs"
)

const (
	defaultIssuer     = "pagehall"
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 14 * 24 * time.Hour
)

// ReusePolicy decides what happens to a user's sessions when an already
// redeemed refresh token is presented again.
type ReusePolicy int

const (
	// RevokeAll deletes every outstanding refresh token of the owner.
	RevokeAll ReusePolicy = iota
	// RevokePresented deletes only the replayed token.
	RevokePresented
)

// ParseReusePolicy accepts "revoke_all" and "revoke_presented".
func ParseReusePolicy(s string) (ReusePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "revoke_all":
		return RevokeAll, nil
	case "revoke_presented":
		return RevokePresented, nil
	}
	return 0, fmt.Errorf("%w: unknown refresh reuse policy %q", ErrInvalidInput, s)
}

func (p ReusePolicy) String() string {
	if p == RevokePresented {
		return "revoke_presented"
	}
	return "revoke_all"
}

// Service issues, validates and rotates credentials.
type Service struct {
	users  UserStore
	tokens RefreshTokenStore
	now    func() time.Time
	log    *zap.Logger

	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	reuse      ReusePolicy
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithIssuer overrides the token issuer claim.
func WithIssuer(issuer string) ServiceOption {
	return func(s *Service) error {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			s.issuer = issuer
		}
		return nil
	}
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.accessTTL = ttl
		}
		return nil
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
		return nil
	}
}

// WithReusePolicy selects the reaction to refresh token replay.
func WithReusePolicy(p ReusePolicy) ServiceOption {
	return func(s *Service) error {
		s.reuse = p
		return nil
	}
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// WithLogger sets the logger; the shared obs logger is used otherwise.
func WithLogger(l *zap.Logger) ServiceOption {
	return func(s *Service) error {
		if l != nil {
			s.log = l
		}
		return nil
	}
}

// NewService constructs Service. The HMAC secret is mandatory.
func NewService(users UserStore, tokens RefreshTokenStore, secret string, opts ...ServiceOption) (*Service, error) {
	if users == nil || tokens == nil {
		return nil, errors.New("auth: user and refresh token stores are required")
	}
	if strings.TrimSpace(secret) == "" {
		return nil, errMissingSecret
	}
	svc := &Service{
		users:      users,
		tokens:     tokens,
		now:        time.Now,
		log:        obs.Logger(),
		secret:     []byte(secret),
		issuer:     defaultIssuer,
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
		reuse:      RevokeAll,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// RegisterInput carries the fields of a self-service sign-up.
type RegisterInput struct {
	UserName string
	Password string
	Email    string
	FullName string
}

// Register creates a Member account.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*User, error) {
	name := strings.TrimSpace(in.UserName)
	if name == "" {
		return nil, fmt.Errorf("%w: userName is required", ErrInvalidInput)
	}
	if strings.TrimSpace(in.FullName) == "" {
		return nil, fmt.Errorf("%w: fullName is required", ErrInvalidInput)
	}
	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	user := &User{
		ID:           ids.NewEntity(),
		UserName:     name,
		PasswordHash: hash,
		Role:         RoleMember,
		Email:        strings.TrimSpace(in.Email),
		FullName:     strings.TrimSpace(in.FullName),
		CreatedAt:    s.now().UTC(),
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// Login verifies credentials and issues a fresh token pair. Unknown users
// and wrong passwords are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, userName, password string) (TokenPair, *User, error) {
	userName = strings.TrimSpace(userName)
	if userName == "" || password == "" {
		return TokenPair{}, nil, ErrInvalidCredentials
	}
	user, err := s.users.FindUserByName(ctx, userName)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return TokenPair{}, nil, ErrInvalidCredentials
		}
		return TokenPair{}, nil, err
	}
	if !VerifyPassword(user.PasswordHash, password) {
		return TokenPair{}, nil, ErrInvalidCredentials
	}
	pair, err := s.Issue(ctx, user)
	if err != nil {
		return TokenPair{}, nil, err
	}
	obs.TokensIssued("login")
	return pair, user, nil
}

// Issue mints an access token carrying the role's permission claims and a
// new unused refresh token.
func (s *Service) Issue(ctx context.Context, user *User) (TokenPair, error) {
	if user == nil {
		return TokenPair{}, fmt.Errorf("%w: user is required", ErrInvalidInput)
	}
	now := s.now()
	access, accessExp, err := s.signAccessToken(user, now)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, rec, err := s.newRefreshToken(user, now)
	if err != nil {
		return TokenPair{}, err
	}
	if err := s.tokens.CreateRefreshToken(ctx, rec); err != nil {
		return TokenPair{}, fmt.Errorf("store refresh token: %w", err)
	}
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: rec.ExpiresAt,
	}, nil
}

// Refresh redeems a refresh token exactly once. The redeemed token is
// marked used and its successor stored in one transaction; concurrent
// redemptions of the same token yield one winner and ErrAlreadyUsed for
// the rest.
func (s *Service) Refresh(ctx context.Context, raw string) (TokenPair, error) {
	tokenID, secret, err := splitRefreshToken(raw)
	if err != nil {
		obs.RefreshFailed("not_found")
		return TokenPair{}, ErrNotFound
	}
	rec, err := s.tokens.FindRefreshToken(ctx, tokenID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			obs.RefreshFailed("not_found")
			return TokenPair{}, ErrNotFound
		}
		return TokenPair{}, err
	}
	if !secureCompareHash(rec.TokenHash, secret) {
		obs.RefreshFailed("not_found")
		return TokenPair{}, ErrNotFound
	}
	if rec.Used {
		s.handleReuse(ctx, rec)
		return TokenPair{}, ErrAlreadyUsed
	}
	now := s.now()
	if !now.Before(rec.ExpiresAt) {
		obs.RefreshFailed("expired")
		return TokenPair{}, ErrExpired
	}

	user, err := s.users.FindUser(ctx, rec.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			obs.RefreshFailed("not_found")
			return TokenPair{}, ErrNotFound
		}
		return TokenPair{}, err
	}

	refresh, next, err := s.newRefreshToken(user, now)
	if err != nil {
		return TokenPair{}, err
	}
	if err := s.tokens.RotateRefreshToken(ctx, rec.ID, now, next); err != nil {
		if errors.Is(err, ErrAlreadyUsed) {
			s.handleReuse(ctx, rec)
			return TokenPair{}, ErrAlreadyUsed
		}
		return TokenPair{}, fmt.Errorf("rotate refresh token: %w", err)
	}

	access, accessExp, err := s.signAccessToken(user, now)
	if err != nil {
		return TokenPair{}, err
	}
	obs.TokensIssued("refresh")
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: next.ExpiresAt,
	}, nil
}

// Revoke deletes every refresh token owned by the user.
func (s *Service) Revoke(ctx context.Context, userID string) error {
	id, ok := ids.ParseEntity(userID)
	if !ok {
		return fmt.Errorf("%w: malformed user id", ErrInvalidInput)
	}
	_, err := s.tokens.DeleteRefreshTokensByUser(ctx, id)
	return err
}

// ReusePolicy reports the configured replay reaction.
func (s *Service) ReusePolicy() ReusePolicy { return s.reuse }

// handleReuse reacts to a replayed refresh token, which signals that the
// token may have been stolen.
func (s *Service) handleReuse(ctx context.Context, rec *RefreshToken) {
	obs.RefreshFailed("already_used")
	var (
		revoked int64
		err     error
	)
	switch s.reuse {
	case RevokePresented:
		err = s.tokens.DeleteRefreshToken(ctx, rec.ID)
		if err == nil {
			revoked = 1
		}
	default:
		revoked, err = s.tokens.DeleteRefreshTokensByUser(ctx, rec.UserID)
	}
	if err != nil {
		s.log.Error("refresh reuse revocation failed",
			zap.String("user_id", rec.UserID.String()),
			zap.String("token_id", rec.ID),
			zap.Error(err))
	}
	_ = audit.LogEvent(ctx, "auth.refresh.reuse_detected", map[string]any{
		"user_id":  rec.UserID.String(),
		"token_id": rec.ID,
		"policy":   s.reuse.String(),
		"revoked":  revoked,
	})
}

func (s *Service) newRefreshToken(user *User, now time.Time) (string, *RefreshToken, error) {
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", nil, err
	}
	secret := base64.RawURLEncoding.EncodeToString(secretBytes)
	rec := &RefreshToken{
		ID:        ids.NewAt(now),
		UserID:    user.ID,
		TokenHash: hashSecret(secret),
		CreatedAt: now.UTC(),
		ExpiresAt: now.Add(s.refreshTTL).UTC(),
	}
	return rec.ID + "." + secret, rec, nil
}

func splitRefreshToken(raw string) (id, secret string, err error) {
	parts := strings.Split(strings.TrimSpace(raw), ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", errors.New("invalid refresh token format")
	}
	return parts[0], parts[1], nil
}

func hashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

func secureCompareHash(expectedHash, secret string) bool {
	actual := hashSecret(secret)
	if len(expectedHash) != len(actual) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expectedHash), []byte(actual)) == 1
}
