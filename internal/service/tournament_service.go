package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/AdamBeresnev/pinpoint/internal/bracket"
	"github.com/AdamBeresnev/pinpoint/internal/store"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/jonboulle/clockwork"
	"github.com/mattn/go-sqlite3"
)

type TournamentService struct {
	db       *sqlx.DB
	store    *store.TournamentStore
	brackets *BracketService
	clock    clockwork.Clock
	notifier Notifier
}

func NewTournamentService(db *sqlx.DB, st *store.TournamentStore, brackets *BracketService, clock clockwork.Clock, notifier Notifier) *TournamentService {
	if notifier == nil {
		notifier = NoopNotifier{}
	}
	return &TournamentService{db: db, store: st, brackets: brackets, clock: clock, notifier: notifier}
}

type CreateTournamentParams struct {
	Name             string `json:"name"`
	MaxParticipants  *int   `json:"maxParticipants"`
	TimeLimitSeconds int    `json:"timeLimitSeconds"`
	RoundsPerMatch   int    `json:"roundsPerMatch"`
}

func (s *TournamentService) CreateTournament(ctx context.Context, createdBy string, params CreateTournamentParams) (*bracket.Tournament, error) {
	params.Name = strings.TrimSpace(params.Name)
	if params.Name == "" {
		return nil, fmt.Errorf("tournament name is required: %w", bracket.ErrValidation)
	}
	if params.MaxParticipants != nil && *params.MaxParticipants < 2 {
		return nil, fmt.Errorf("max participants must be at least 2: %w", bracket.ErrValidation)
	}
	if params.TimeLimitSeconds <= 0 {
		params.TimeLimitSeconds = bracket.DefaultTimeLimitSeconds
	}
	if params.RoundsPerMatch <= 0 {
		params.RoundsPerMatch = bracket.DefaultRoundsPerMatch
	}

	tournament := &bracket.Tournament{
		ID:               uuid.New(),
		Name:             params.Name,
		CreatedBy:        createdBy,
		Status:           bracket.TournamentOpen,
		MaxParticipants:  params.MaxParticipants,
		TimeLimitSeconds: params.TimeLimitSeconds,
		RoundsPerMatch:   params.RoundsPerMatch,
		CreatedAt:        s.clock.Now(),
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.store.CreateTournament(ctx, tx, tournament); err != nil {
		return nil, fmt.Errorf("failed to create tournament: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return tournament, nil
}

func (s *TournamentService) ListTournaments(ctx context.Context) ([]bracket.Tournament, error) {
	return s.store.ListTournaments(ctx)
}

type TournamentDetail struct {
	bracket.Tournament
	Participants []bracket.Participant `json:"participants"`
}

func (s *TournamentService) GetTournament(ctx context.Context, id string) (*TournamentDetail, error) {
	tournament, err := s.store.GetTournament(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get tournament: %w", err)
	}
	participants, err := s.store.GetParticipants(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get participants: %w", err)
	}
	return &TournamentDetail{Tournament: *tournament, Participants: participants}, nil
}

// JoinTournament registers a user. Only open tournaments accept joins;
// joining twice or joining a full tournament is a conflict.
func (s *TournamentService) JoinTournament(ctx context.Context, tournamentID, username string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	tournament, err := s.store.GetTournamentTx(ctx, tx, tournamentID)
	if err != nil {
		return fmt.Errorf("failed to get tournament: %w", err)
	}
	if tournament.Status != bracket.TournamentOpen {
		return fmt.Errorf("tournament is not open for registration: %w", bracket.ErrInvalidState)
	}

	participants, err := s.store.GetParticipantsTx(ctx, tx, tournamentID)
	if err != nil {
		return fmt.Errorf("failed to get participants: %w", err)
	}
	if tournament.MaxParticipants != nil && len(participants) >= *tournament.MaxParticipants {
		return fmt.Errorf("tournament is full: %w", bracket.ErrConflict)
	}

	err = s.store.AddParticipant(ctx, tx, &bracket.Participant{
		TournamentID: tournament.ID,
		Username:     username,
	})
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
			return fmt.Errorf("already joined: %w", bracket.ErrConflict)
		}
		return fmt.Errorf("failed to add participant: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.notifier.Notify(tournamentRoom(tournament.ID), "participant_joined", map[string]any{
		"tournamentId": tournament.ID,
		"username":     username,
	})
	return nil
}

func (s *TournamentService) LeaveTournament(ctx context.Context, tournamentID, username string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	tournament, err := s.store.GetTournamentTx(ctx, tx, tournamentID)
	if err != nil {
		return fmt.Errorf("failed to get tournament: %w", err)
	}
	if tournament.Status != bracket.TournamentOpen {
		return fmt.Errorf("cannot leave after the bracket is built: %w", bracket.ErrInvalidState)
	}

	if err := s.store.RemoveParticipant(ctx, tx, tournamentID, username); err != nil {
		return fmt.Errorf("failed to remove participant: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.notifier.Notify(tournamentRoom(tournament.ID), "participant_left", map[string]any{
		"tournamentId": tournament.ID,
		"username":     username,
	})
	return nil
}

// StartTournament builds the bracket and flips the tournament to
// in-progress in a single transaction, so clients never observe a half
// built bracket. Only the creator or an admin may start.
func (s *TournamentService) StartTournament(ctx context.Context, tournamentID, startedBy string, isAdmin bool) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	tournament, err := s.store.GetTournamentTx(ctx, tx, tournamentID)
	if err != nil {
		return fmt.Errorf("failed to get tournament: %w", err)
	}
	if tournament.CreatedBy != startedBy && !isAdmin {
		return fmt.Errorf("only the creator can start the tournament: %w", bracket.ErrUnauthorized)
	}
	if tournament.Status != bracket.TournamentOpen {
		return fmt.Errorf("tournament already started: %w", bracket.ErrInvalidState)
	}

	participants, err := s.store.GetParticipantsTx(ctx, tx, tournamentID)
	if err != nil {
		return fmt.Errorf("failed to get participants: %w", err)
	}
	if len(participants) < 2 {
		return fmt.Errorf("need at least 2 participants to start: %w", bracket.ErrInvalidState)
	}

	usernames := make([]string, len(participants))
	for i, p := range participants {
		usernames[i] = p.Username
	}

	if _, err := s.brackets.BuildBracket(ctx, tx, tournament.ID, usernames); err != nil {
		return err
	}
	if err := s.store.StartTournamentTx(ctx, tx, tournamentID); err != nil {
		return fmt.Errorf("failed to start tournament: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.notifier.Notify(tournamentRoom(tournament.ID), "tournament_started", map[string]any{
		"tournamentId": tournament.ID,
	})
	return nil
}

func (s *TournamentService) CancelTournament(ctx context.Context, tournamentID, cancelledBy string, isAdmin bool) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	tournament, err := s.store.GetTournamentTx(ctx, tx, tournamentID)
	if err != nil {
		return fmt.Errorf("failed to get tournament: %w", err)
	}
	if tournament.CreatedBy != cancelledBy && !isAdmin {
		return fmt.Errorf("only the creator can cancel the tournament: %w", bracket.ErrUnauthorized)
	}
	if tournament.Status != bracket.TournamentOpen {
		return fmt.Errorf("only open tournaments can be cancelled: %w", bracket.ErrInvalidState)
	}

	if err := s.store.UpdateTournamentStatusTx(ctx, tx, tournamentID, bracket.TournamentCancelled); err != nil {
		return fmt.Errorf("failed to cancel tournament: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.notifier.Notify(tournamentRoom(tournament.ID), "tournament_cancelled", map[string]any{
		"tournamentId": tournament.ID,
	})
	return nil
}

// NextMatchFor returns the first playable match the user appears in, or
// nil when they have nothing to play right now.
func (s *TournamentService) NextMatchFor(ctx context.Context, tournamentID, username string) (*bracket.Match, error) {
	matches, err := s.store.GetMatches(ctx, tournamentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get matches: %w", err)
	}
	for i := range matches {
		m := &matches[i]
		if m.Status != bracket.MatchReady && m.Status != bracket.MatchInProgress {
			continue
		}
		if m.HasPlayer(username) {
			return m, nil
		}
	}
	return nil, nil
}
