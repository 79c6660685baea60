package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/AdamBeresnev/pinpoint/internal/bracket"
	"github.com/jmoiron/sqlx"
)

type ChallengeStore struct {
	db *sqlx.DB
}

func NewChallengeStore(db *sqlx.DB) *ChallengeStore {
	return &ChallengeStore{db: db}
}

func (s *ChallengeStore) CreateChallenge(ctx context.Context, tx *sqlx.Tx, c *bracket.Challenge) error {
	_, err := tx.NamedExecContext(ctx, `INSERT INTO challenges (id, challenger, challengee, status, last_activity_at)
		VALUES (:id, :challenger, :challengee, :status, :last_activity_at)`, c)
	return err
}

func (s *ChallengeStore) GetChallenge(ctx context.Context, id string) (*bracket.Challenge, error) {
	var c bracket.Challenge
	err := s.db.GetContext(ctx, &c, "SELECT * FROM challenges WHERE id = ?", id)
	return &c, err
}

func (s *ChallengeStore) GetChallengeTx(ctx context.Context, tx *sqlx.Tx, id string) (*bracket.Challenge, error) {
	var c bracket.Challenge
	err := tx.GetContext(ctx, &c, "SELECT * FROM challenges WHERE id = ?", id)
	return &c, err
}

func (s *ChallengeStore) GetChallengesForUser(ctx context.Context, username string) ([]bracket.Challenge, error) {
	var challenges []bracket.Challenge
	err := s.db.SelectContext(ctx, &challenges,
		"SELECT * FROM challenges WHERE challenger = ? OR challengee = ? ORDER BY created_at DESC",
		username, username)
	return challenges, err
}

func (s *ChallengeStore) GetChallengesForUserTx(ctx context.Context, tx *sqlx.Tx, username string) ([]bracket.Challenge, error) {
	var challenges []bracket.Challenge
	err := tx.SelectContext(ctx, &challenges,
		"SELECT * FROM challenges WHERE challenger = ? OR challengee = ? ORDER BY created_at DESC",
		username, username)
	return challenges, err
}

// GetActiveChallengeBetween finds a pending/accepted/in-progress challenge
// between the pair in either direction.
func (s *ChallengeStore) GetActiveChallengeBetween(ctx context.Context, tx *sqlx.Tx, a, b string) (*bracket.Challenge, error) {
	var c bracket.Challenge
	err := tx.GetContext(ctx, &c, `SELECT * FROM challenges
		WHERE ((challenger = ? AND challengee = ?) OR (challenger = ? AND challengee = ?))
		AND status IN (?, ?, ?) LIMIT 1`,
		a, b, b, a,
		bracket.ChallengePending, bracket.ChallengeAccepted, bracket.ChallengeInProgress)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *ChallengeStore) UpdateChallenge(ctx context.Context, tx *sqlx.Tx, c *bracket.Challenge) error {
	_, err := tx.NamedExecContext(ctx, `UPDATE challenges SET
		status = :status,
		challenger_points = :challenger_points,
		challengee_points = :challengee_points,
		challenger_finished = :challenger_finished,
		challengee_finished = :challengee_finished,
		winner = :winner,
		forfeited_by = :forfeited_by,
		started_at = :started_at,
		completed_at = :completed_at,
		last_activity_at = :last_activity_at
		WHERE id = :id`, c)
	return err
}
