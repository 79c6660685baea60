package store

import (
	"context"

	"github.com/AdamBeresnev/pinpoint/internal/bracket"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type TournamentStore struct {
	db *sqlx.DB
}

func NewTournamentStore(db *sqlx.DB) *TournamentStore {
	return &TournamentStore{db: db}
}

func (s *TournamentStore) CreateTournament(ctx context.Context, tx *sqlx.Tx, tournament *bracket.Tournament) error {
	_, err := tx.NamedExecContext(ctx, `INSERT INTO tournaments (id, name, created_by, status, max_participants, time_limit_seconds, rounds_per_match)
        VALUES (:id, :name, :created_by, :status, :max_participants, :time_limit_seconds, :rounds_per_match)`, tournament)
	return err
}

func (s *TournamentStore) GetTournament(ctx context.Context, id string) (*bracket.Tournament, error) {
	var tournament bracket.Tournament
	err := s.db.GetContext(ctx, &tournament, "SELECT * FROM tournaments WHERE id = ?", id)
	return &tournament, err
}

func (s *TournamentStore) GetTournamentTx(ctx context.Context, tx *sqlx.Tx, id string) (*bracket.Tournament, error) {
	var tournament bracket.Tournament
	err := tx.GetContext(ctx, &tournament, "SELECT * FROM tournaments WHERE id = ?", id)
	return &tournament, err
}

func (s *TournamentStore) ListTournaments(ctx context.Context) ([]bracket.Tournament, error) {
	var tournaments []bracket.Tournament
	err := s.db.SelectContext(ctx, &tournaments, "SELECT * FROM tournaments ORDER BY created_at DESC")
	return tournaments, err
}

func (s *TournamentStore) UpdateTournamentStatusTx(ctx context.Context, tx *sqlx.Tx, id string, status bracket.TournamentStatus) error {
	_, err := tx.ExecContext(ctx, "UPDATE tournaments SET status = ? WHERE id = ?", status, id)
	return err
}

func (s *TournamentStore) StartTournamentTx(ctx context.Context, tx *sqlx.Tx, id string) error {
	_, err := tx.ExecContext(ctx,
		"UPDATE tournaments SET status = ?, started_at = CURRENT_TIMESTAMP WHERE id = ?",
		bracket.TournamentInProgress, id)
	return err
}

func (s *TournamentStore) CompleteTournamentTx(ctx context.Context, tx *sqlx.Tx, id string, winner string) error {
	_, err := tx.ExecContext(ctx,
		"UPDATE tournaments SET status = ?, winner = ?, completed_at = CURRENT_TIMESTAMP WHERE id = ?",
		bracket.TournamentCompleted, winner, id)
	return err
}

// Participants

func (s *TournamentStore) AddParticipant(ctx context.Context, tx *sqlx.Tx, p *bracket.Participant) error {
	_, err := tx.NamedExecContext(ctx, `INSERT INTO tournament_participants (tournament_id, username)
		VALUES (:tournament_id, :username)`, p)
	return err
}

func (s *TournamentStore) RemoveParticipant(ctx context.Context, tx *sqlx.Tx, tournamentID, username string) error {
	_, err := tx.ExecContext(ctx,
		"DELETE FROM tournament_participants WHERE tournament_id = ? AND username = ?", tournamentID, username)
	return err
}

func (s *TournamentStore) GetParticipants(ctx context.Context, tournamentID string) ([]bracket.Participant, error) {
	var participants []bracket.Participant
	err := s.db.SelectContext(ctx, &participants,
		"SELECT * FROM tournament_participants WHERE tournament_id = ? ORDER BY joined_at ASC", tournamentID)
	return participants, err
}

func (s *TournamentStore) GetParticipantsTx(ctx context.Context, tx *sqlx.Tx, tournamentID string) ([]bracket.Participant, error) {
	var participants []bracket.Participant
	err := tx.SelectContext(ctx, &participants,
		"SELECT * FROM tournament_participants WHERE tournament_id = ? ORDER BY joined_at ASC", tournamentID)
	return participants, err
}

func (s *TournamentStore) SetParticipantSeedTx(ctx context.Context, tx *sqlx.Tx, tournamentID string, username string, seed int) error {
	_, err := tx.ExecContext(ctx,
		"UPDATE tournament_participants SET seed = ? WHERE tournament_id = ? AND username = ?",
		seed, tournamentID, username)
	return err
}

func (s *TournamentStore) IncrementLossCountTx(ctx context.Context, tx *sqlx.Tx, tournamentID uuid.UUID, username string) error {
	_, err := tx.ExecContext(ctx,
		"UPDATE tournament_participants SET loss_count = loss_count + 1 WHERE tournament_id = ? AND username = ?",
		tournamentID, username)
	return err
}

func (s *TournamentStore) EliminateParticipantTx(ctx context.Context, tx *sqlx.Tx, tournamentID uuid.UUID, username string) error {
	_, err := tx.ExecContext(ctx,
		"UPDATE tournament_participants SET eliminated = 1, loss_count = loss_count + 1 WHERE tournament_id = ? AND username = ?",
		tournamentID, username)
	return err
}

// Matches

func (s *TournamentStore) CreateMatches(ctx context.Context, tx *sqlx.Tx, matches []bracket.Match) error {
	if len(matches) == 0 {
		return nil
	}
	_, err := tx.NamedExecContext(ctx, `INSERT INTO matches (id, tournament_id, bracket_side, round_number, match_order, player_1, player_2, status, winner, is_bye, winner_next_match_id, loser_next_match_id, completed_at)
		VALUES (:id, :tournament_id, :bracket_side, :round_number, :match_order, :player_1, :player_2, :status, :winner, :is_bye, :winner_next_match_id, :loser_next_match_id, :completed_at)`, matches)
	return err
}

func (s *TournamentStore) GetMatch(ctx context.Context, id string) (*bracket.Match, error) {
	var match bracket.Match
	err := s.db.GetContext(ctx, &match, "SELECT * FROM matches WHERE id = ?", id)
	return &match, err
}

func (s *TournamentStore) GetMatchTx(ctx context.Context, tx *sqlx.Tx, id string) (*bracket.Match, error) {
	var match bracket.Match
	err := tx.GetContext(ctx, &match, "SELECT * FROM matches WHERE id = ?", id)
	return &match, err
}

func (s *TournamentStore) GetMatches(ctx context.Context, tournamentID string) ([]bracket.Match, error) {
	var matches []bracket.Match
	err := s.db.SelectContext(ctx, &matches,
		"SELECT * FROM matches WHERE tournament_id = ? ORDER BY bracket_side ASC, round_number ASC, match_order ASC",
		tournamentID)
	return matches, err
}

func (s *TournamentStore) UpdateMatch(ctx context.Context, tx *sqlx.Tx, match *bracket.Match) error {
	_, err := tx.NamedExecContext(ctx, `UPDATE matches SET
		player_1 = :player_1,
		player_2 = :player_2,
		score_1 = :score_1,
		score_2 = :score_2,
		status = :status,
		winner = :winner,
		is_bye = :is_bye,
		started_at = :started_at,
		completed_at = :completed_at
		WHERE id = :id`, match)
	return err
}

// GetFeederMatchesTx returns every match whose winner- or loser-edge
// points at the given match.
func (s *TournamentStore) GetFeederMatchesTx(ctx context.Context, tx *sqlx.Tx, matchID uuid.UUID) ([]bracket.Match, error) {
	var matches []bracket.Match
	err := tx.SelectContext(ctx, &matches,
		"SELECT * FROM matches WHERE winner_next_match_id = ? OR loser_next_match_id = ?", matchID, matchID)
	return matches, err
}

// MaxRoundTx returns the highest round number on one side of the bracket.
func (s *TournamentStore) MaxRoundTx(ctx context.Context, tx *sqlx.Tx, tournamentID uuid.UUID, side bracket.BracketSide) (int, error) {
	var max int
	err := tx.GetContext(ctx, &max,
		"SELECT IFNULL(MAX(round_number), 0) FROM matches WHERE tournament_id = ? AND bracket_side = ?",
		tournamentID, side)
	return max, err
}
