package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/AdamBeresnev/pinpoint/internal/bracket"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// RoundStore persists rounds for both tournament matches and challenges;
// exactly one of the owner columns is set per row.
type RoundStore struct {
	db *sqlx.DB
}

func NewRoundStore(db *sqlx.DB) *RoundStore {
	return &RoundStore{db: db}
}

const insertRoundQuery = `INSERT INTO rounds (id, match_id, challenge_id, round_number, picture_id, player_username, guess_lat, guess_lng, distance_meters, points, elapsed_seconds, started_at, submitted_at)
	VALUES (:id, :match_id, :challenge_id, :round_number, :picture_id, :player_username, :guess_lat, :guess_lng, :distance_meters, :points, :elapsed_seconds, :started_at, :submitted_at)`

func (s *RoundStore) CreateRound(ctx context.Context, tx *sqlx.Tx, round *bracket.Round) error {
	_, err := tx.NamedExecContext(ctx, insertRoundQuery, round)
	return err
}

func (s *RoundStore) CreateRounds(ctx context.Context, tx *sqlx.Tx, rounds []bracket.Round) error {
	if len(rounds) == 0 {
		return nil
	}
	_, err := tx.NamedExecContext(ctx, insertRoundQuery, rounds)
	return err
}

// UpdateRound writes a started round's submission fields. The caller must
// have checked submitted_at was null; the WHERE clause re-checks so a
// concurrent duplicate loses.
func (s *RoundStore) UpdateRound(ctx context.Context, tx *sqlx.Tx, round *bracket.Round) error {
	res, err := tx.NamedExecContext(ctx, `UPDATE rounds SET
		guess_lat = :guess_lat,
		guess_lng = :guess_lng,
		distance_meters = :distance_meters,
		points = :points,
		elapsed_seconds = :elapsed_seconds,
		submitted_at = :submitted_at
		WHERE id = :id AND submitted_at IS NULL`, round)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return bracket.ErrConflict
	}
	return nil
}

func (s *RoundStore) whereOwner(matchID, challengeID *uuid.UUID) (string, any) {
	if matchID != nil {
		return "match_id = ?", *matchID
	}
	return "challenge_id = ?", *challengeID
}

// GetTemplateRoundTx fetches the no-player round recording the target for
// a round number.
func (s *RoundStore) GetTemplateRoundTx(ctx context.Context, tx *sqlx.Tx, matchID, challengeID *uuid.UUID, roundNumber int) (*bracket.Round, error) {
	clause, owner := s.whereOwner(matchID, challengeID)
	var round bracket.Round
	err := tx.GetContext(ctx, &round,
		"SELECT * FROM rounds WHERE "+clause+" AND round_number = ? AND player_username IS NULL", owner, roundNumber)
	return &round, err
}

func (s *RoundStore) GetTemplateRounds(ctx context.Context, matchID, challengeID *uuid.UUID) ([]bracket.Round, error) {
	clause, owner := s.whereOwner(matchID, challengeID)
	var rounds []bracket.Round
	err := s.db.SelectContext(ctx, &rounds,
		"SELECT * FROM rounds WHERE "+clause+" AND player_username IS NULL ORDER BY round_number ASC", owner)
	return rounds, err
}

func (s *RoundStore) GetTemplateRoundsTx(ctx context.Context, tx *sqlx.Tx, matchID, challengeID *uuid.UUID) ([]bracket.Round, error) {
	clause, owner := s.whereOwner(matchID, challengeID)
	var rounds []bracket.Round
	err := tx.SelectContext(ctx, &rounds,
		"SELECT * FROM rounds WHERE "+clause+" AND player_username IS NULL ORDER BY round_number ASC", owner)
	return rounds, err
}

// GetPlayerRoundTx returns the player's record for one round, or nil when
// the player has not started it.
func (s *RoundStore) GetPlayerRoundTx(ctx context.Context, tx *sqlx.Tx, matchID, challengeID *uuid.UUID, roundNumber int, username string) (*bracket.Round, error) {
	clause, owner := s.whereOwner(matchID, challengeID)
	var round bracket.Round
	err := tx.GetContext(ctx, &round,
		"SELECT * FROM rounds WHERE "+clause+" AND round_number = ? AND player_username = ?", owner, roundNumber, username)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &round, nil
}

func (s *RoundStore) GetPlayerRoundsTx(ctx context.Context, tx *sqlx.Tx, matchID, challengeID *uuid.UUID, username string) ([]bracket.Round, error) {
	clause, owner := s.whereOwner(matchID, challengeID)
	var rounds []bracket.Round
	err := tx.SelectContext(ctx, &rounds,
		"SELECT * FROM rounds WHERE "+clause+" AND player_username = ? ORDER BY round_number ASC", owner, username)
	return rounds, err
}

func (s *RoundStore) GetPlayerRounds(ctx context.Context, matchID, challengeID *uuid.UUID, username string) ([]bracket.Round, error) {
	clause, owner := s.whereOwner(matchID, challengeID)
	var rounds []bracket.Round
	err := s.db.SelectContext(ctx, &rounds,
		"SELECT * FROM rounds WHERE "+clause+" AND player_username = ? ORDER BY round_number ASC", owner, username)
	return rounds, err
}

func (s *RoundStore) CountSubmittedTx(ctx context.Context, tx *sqlx.Tx, matchID, challengeID *uuid.UUID, username string) (int, error) {
	clause, owner := s.whereOwner(matchID, challengeID)
	var count int
	err := tx.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM rounds WHERE "+clause+" AND player_username = ? AND submitted_at IS NOT NULL", owner, username)
	return count, err
}

// PlayerTotals aggregates a player's submitted rounds for winner
// resolution: points, elapsed time and distance.
type PlayerTotals struct {
	Points   int     `db:"points"`
	Seconds  float64 `db:"seconds"`
	Distance float64 `db:"distance"`
}

func (s *RoundStore) GetPlayerTotalsTx(ctx context.Context, tx *sqlx.Tx, matchID, challengeID *uuid.UUID, username string) (PlayerTotals, error) {
	clause, owner := s.whereOwner(matchID, challengeID)
	var totals PlayerTotals
	err := tx.GetContext(ctx, &totals, `SELECT
		IFNULL(SUM(points), 0) AS points,
		IFNULL(SUM(elapsed_seconds), 0) AS seconds,
		IFNULL(SUM(distance_meters), 0) AS distance
		FROM rounds WHERE `+clause+" AND player_username = ? AND submitted_at IS NOT NULL", owner, username)
	return totals, err
}

func (s *RoundStore) GetAllRoundsTx(ctx context.Context, tx *sqlx.Tx, matchID, challengeID *uuid.UUID) ([]bracket.Round, error) {
	clause, owner := s.whereOwner(matchID, challengeID)
	var rounds []bracket.Round
	err := tx.SelectContext(ctx, &rounds,
		"SELECT * FROM rounds WHERE "+clause+" ORDER BY round_number ASC, player_username ASC", owner)
	return rounds, err
}

func (s *RoundStore) GetAllRounds(ctx context.Context, matchID, challengeID *uuid.UUID) ([]bracket.Round, error) {
	clause, owner := s.whereOwner(matchID, challengeID)
	var rounds []bracket.Round
	err := s.db.SelectContext(ctx, &rounds,
		"SELECT * FROM rounds WHERE "+clause+" ORDER BY round_number ASC, player_username ASC", owner)
	return rounds, err
}
