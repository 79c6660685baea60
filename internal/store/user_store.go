package store

import (
	"context"
	"time"

	users "github.com/AdamBeresnev/pinpoint/internal/user"
	"github.com/jmoiron/sqlx"
)

type UserStore struct {
	db *sqlx.DB
}

const (
	getUserQuery           = "SELECT * FROM users WHERE username = ?"
	getUserByProviderQuery = `
        SELECT * FROM users
        WHERE provider = ?
        AND provider_id = ?
    `
	createUserQuery = `
		INSERT INTO users (username, display_name, email, is_admin, provider, provider_id, avatar_url)
		VALUES (:username, :display_name, :email, :is_admin, :provider, :provider_id, :avatar_url)
	`
	updateUserNameAndAvatarQuery = `
		UPDATE users SET
		display_name = :display_name,
		avatar_url = :avatar_url
		WHERE username = :username
	`
)

func NewUserStore(db *sqlx.DB) *UserStore {
	return &UserStore{db: db}
}

func (s *UserStore) GetUserByProvider(ctx context.Context, provider string, providerID string) (*users.User, error) {
	var user users.User
	err := s.db.GetContext(ctx, &user, getUserByProviderQuery, provider, providerID)
	if err != nil {
		return nil, err
	}

	return &user, nil
}

func (s *UserStore) GetUser(ctx context.Context, username string) (*users.User, error) {
	var user users.User
	err := s.db.GetContext(ctx, &user, getUserQuery, username)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *UserStore) CreateUser(ctx context.Context, user *users.User) error {
	_, err := s.db.NamedExecContext(ctx, createUserQuery, user)
	return err
}

func (s *UserStore) UpdateUserNameAndAvatar(ctx context.Context, user *users.User) error {
	_, err := s.db.NamedExecContext(ctx, updateUserNameAndAvatarQuery, user)
	return err
}

// AddTotalPoints accumulates lifetime points used by the leaderboard.
func (s *UserStore) AddTotalPoints(ctx context.Context, tx *sqlx.Tx, username string, points int) error {
	_, err := tx.ExecContext(ctx, "UPDATE users SET total_points = total_points + ? WHERE username = ?", points, username)
	return err
}

func (s *UserStore) TouchLastSeen(ctx context.Context, username string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, "UPDATE users SET last_seen_at = ? WHERE username = ?", at, username)
	return err
}

// GetDisplayNames resolves usernames to display names in one query.
func (s *UserStore) GetDisplayNames(ctx context.Context, usernames []string) (map[string]string, error) {
	query, args, err := sqlx.In("SELECT username, display_name FROM users WHERE username IN (?)", usernames)
	if err != nil {
		return nil, err
	}

	var rows []struct {
		Username    string `db:"username"`
		DisplayName string `db:"display_name"`
	}
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, err
	}

	names := make(map[string]string, len(rows))
	for _, row := range rows {
		names[row.Username] = row.DisplayName
	}
	return names, nil
}

// TopByPoints backs the leaderboard read when redis is unavailable.
func (s *UserStore) TopByPoints(ctx context.Context, limit int) ([]users.User, error) {
	var result []users.User
	err := s.db.SelectContext(ctx, &result,
		"SELECT * FROM users WHERE username != 'guest' ORDER BY total_points DESC LIMIT ?", limit)
	return result, err
}

// ListOpponents returns everyone but the given user, strongest first.
func (s *UserStore) ListOpponents(ctx context.Context, exclude string, limit int) ([]users.User, error) {
	var result []users.User
	err := s.db.SelectContext(ctx, &result,
		"SELECT * FROM users WHERE username != ? AND username != 'guest' ORDER BY total_points DESC LIMIT ?",
		exclude, limit)
	return result, err
}
