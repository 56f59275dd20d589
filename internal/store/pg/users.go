package pg

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"pagehall.org/internal/auth"
)

var _ auth.UserStore = (*Store)(nil)

const userColumns = `id, user_name, password_hash, role, email, full_name, created_at`

func (s *Store) CreateUser(ctx context.Context, u *auth.User) error {
	_, err := s.db.ExecContext(ctx, `
		insert into users (`+userColumns+`)
		values ($1, $2, $3, $4, $5, $6, $7)
	`, u.ID, u.UserName, u.PasswordHash, int(u.Role), u.Email, u.FullName, u.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return auth.ErrUserExists
		}
		return err
	}
	return nil
}

func (s *Store) FindUser(ctx context.Context, id uuid.UUID) (*auth.User, error) {
	row := s.db.QueryRowContext(ctx, `select `+userColumns+` from users where id = $1`, id)
	return scanUser(row)
}

func (s *Store) FindUserByName(ctx context.Context, userName string) (*auth.User, error) {
	row := s.db.QueryRowContext(ctx, `select `+userColumns+` from users where lower(user_name) = lower($1)`, userName)
	return scanUser(row)
}

func scanUser(row *sql.Row) (*auth.User, error) {
	var (
		u    auth.User
		role int
	)
	err := row.Scan(&u.ID, &u.UserName, &u.PasswordHash, &role, &u.Email, &u.FullName, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.Role = auth.Role(role)
	return &u, nil
}
