package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"pagehall.org/internal/auth"
)

var _ auth.RefreshTokenStore = (*Store)(nil)

func (s *Store) CreateRefreshToken(ctx context.Context, tok *auth.RefreshToken) error {
	return insertRefreshToken(ctx, s.db, tok)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertRefreshToken(ctx context.Context, db execer, tok *auth.RefreshToken) error {
	_, err := db.ExecContext(ctx, `
		insert into refresh_tokens (id, user_id, token_hash, created_at, expires_at, used)
		values ($1, $2, $3, $4, $5, false)
	`, tok.ID, tok.UserID, tok.TokenHash, tok.CreatedAt, tok.ExpiresAt)
	return err
}

func (s *Store) FindRefreshToken(ctx context.Context, id string) (*auth.RefreshToken, error) {
	var (
		tok    auth.RefreshToken
		usedAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		select id, user_id, token_hash, created_at, expires_at, used, used_at
		from refresh_tokens
		where id = $1
	`, id).Scan(&tok.ID, &tok.UserID, &tok.TokenHash, &tok.CreatedAt, &tok.ExpiresAt, &tok.Used, &usedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	tok.UsedAt = timePtr(usedAt)
	return &tok, nil
}

// RotateRefreshToken flips the presented token with a conditional update
// and stores its successor in the same transaction. Under concurrent
// redemption only one update matches the unused row.
func (s *Store) RotateRefreshToken(ctx context.Context, usedID string, usedAt time.Time, next *auth.RefreshToken) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		update refresh_tokens
		set used = true, used_at = $2
		where id = $1 and used = false
	`, usedID, usedAt)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return auth.ErrAlreadyUsed
	}
	if err := insertRefreshToken(ctx, tx, next); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) DeleteRefreshToken(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `delete from refresh_tokens where id = $1`, id)
	return err
}

func (s *Store) DeleteRefreshTokensByUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	res, err := s.db.ExecContext(ctx, `delete from refresh_tokens where user_id = $1`, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
