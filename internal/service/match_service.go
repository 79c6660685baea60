package service

import (
	"context"
	"fmt"

	"github.com/AdamBeresnev/pinpoint/internal/bracket"
	"github.com/AdamBeresnev/pinpoint/internal/geo"
	"github.com/AdamBeresnev/pinpoint/internal/store"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/jonboulle/clockwork"
)

// MatchService runs the playable side of a tournament match: round
// generation, timers, guess scoring and match completion feeding back
// into the bracket.
type MatchService struct {
	db          *sqlx.DB
	tournaments *store.TournamentStore
	rounds      *store.RoundStore
	play        *roundPlay
	brackets    *BracketService
	clock       clockwork.Clock
	notifier    Notifier
}

func NewMatchService(db *sqlx.DB, tournaments *store.TournamentStore, rounds *store.RoundStore, pictures *store.PictureStore, brackets *BracketService, clock clockwork.Clock, notifier Notifier) *MatchService {
	if notifier == nil {
		notifier = NoopNotifier{}
	}
	return &MatchService{
		db:          db,
		tournaments: tournaments,
		rounds:      rounds,
		play:        &roundPlay{rounds: rounds, pictures: pictures, clock: clock},
		brackets:    brackets,
		clock:       clock,
		notifier:    notifier,
	}
}

// matchContext loads a match plus its tournament and checks the requester
// plays in it.
func (s *MatchService) matchContext(ctx context.Context, tx *sqlx.Tx, matchID, username string) (*bracket.Match, *bracket.Tournament, error) {
	match, err := s.tournaments.GetMatchTx(ctx, tx, matchID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get match: %w", err)
	}
	if !match.HasPlayer(username) {
		return nil, nil, fmt.Errorf("not a player in this match: %w", bracket.ErrUnauthorized)
	}
	tournament, err := s.tournaments.GetTournamentTx(ctx, tx, match.TournamentID.String())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get tournament: %w", err)
	}
	return match, tournament, nil
}

func (s *MatchService) owner(match *bracket.Match, tournament *bracket.Tournament) roundOwner {
	return roundOwner{
		matchID:          &match.ID,
		timeLimitSeconds: tournament.TimeLimitSeconds,
		totalRounds:      tournament.RoundsPerMatch,
	}
}

// difficultyMix picks the round difficulty mix for a match from how deep
// it sits in its side of the bracket. The grand final is all hard.
func (s *MatchService) difficultyMix(ctx context.Context, tx *sqlx.Tx, match *bracket.Match) (geo.Mix, error) {
	if match.BracketSide == bracket.GrandFinal {
		return geo.GrandFinalMix, nil
	}
	total, err := s.tournaments.MaxRoundTx(ctx, tx, match.TournamentID, match.BracketSide)
	if err != nil {
		return geo.Mix{}, fmt.Errorf("failed to get round count: %w", err)
	}
	return geo.PacingMix(match.RoundNumber, total), nil
}

// MatchRound is one round as shown to a player before the reveal: the
// target image but never its coordinates.
type MatchRound struct {
	RoundNumber int          `json:"roundNumber"`
	ImageURL    string       `json:"imageUrl"`
	Mine        *RoundResult `json:"mine,omitempty"`
	Started     bool         `json:"started"`
}

// GetMatchRounds returns the match's rounds for a player, generating them
// on first access so pictures are drawn only for matches that actually
// get played.
func (s *MatchService) GetMatchRounds(ctx context.Context, matchID, username string) ([]MatchRound, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	match, tournament, err := s.matchContext(ctx, tx, matchID, username)
	if err != nil {
		return nil, err
	}
	if match.Status == bracket.MatchPending {
		return nil, fmt.Errorf("match is waiting on an opponent: %w", bracket.ErrInvalidState)
	}

	owner := s.owner(match, tournament)
	templates, err := s.rounds.GetTemplateRoundsTx(ctx, tx, owner.matchID, owner.challengeID)
	if err != nil {
		return nil, fmt.Errorf("failed to get rounds: %w", err)
	}
	if len(templates) == 0 {
		mix, err := s.difficultyMix(ctx, tx, match)
		if err != nil {
			return nil, err
		}
		if err := s.play.generateTemplates(ctx, tx, owner, mix); err != nil {
			return nil, err
		}
		templates, err = s.rounds.GetTemplateRoundsTx(ctx, tx, owner.matchID, owner.challengeID)
		if err != nil {
			return nil, fmt.Errorf("failed to get rounds: %w", err)
		}
	}

	view, err := s.roundsView(ctx, tx, owner, templates, username)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return view, nil
}

func (s *MatchService) roundsView(ctx context.Context, tx *sqlx.Tx, owner roundOwner, templates []bracket.Round, username string) ([]MatchRound, error) {
	mine := map[int]*bracket.Round{}
	playerRounds, err := s.rounds.GetPlayerRoundsTx(ctx, tx, owner.matchID, owner.challengeID, username)
	if err != nil {
		return nil, fmt.Errorf("failed to get player rounds: %w", err)
	}
	for i := range playerRounds {
		mine[playerRounds[i].RoundNumber] = &playerRounds[i]
	}

	pictures := map[uuid.UUID]string{}
	for _, t := range templates {
		if _, ok := pictures[t.PictureID]; ok {
			continue
		}
		p, err := s.play.pictures.GetPictureTx(ctx, tx, t.PictureID.String())
		if err != nil {
			return nil, fmt.Errorf("failed to get picture: %w", err)
		}
		pictures[t.PictureID] = p.ImageURL
	}

	view := make([]MatchRound, len(templates))
	for i, t := range templates {
		mr := MatchRound{RoundNumber: t.RoundNumber, ImageURL: pictures[t.PictureID]}
		if r, ok := mine[t.RoundNumber]; ok {
			mr.Started = true
			if r.Submitted() {
				mr.Mine = &RoundResult{
					RoundNumber:    r.RoundNumber,
					DistanceMeters: *r.DistanceMeters,
					Points:         *r.Points,
					ElapsedSeconds: *r.ElapsedSeconds,
				}
			}
		}
		view[i] = mr
	}
	return view, nil
}

// StartRound starts (or reports) the player's timer for one round of the
// match.
func (s *MatchService) StartRound(ctx context.Context, matchID string, roundNumber int, username string) (*RoundStart, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	match, tournament, err := s.matchContext(ctx, tx, matchID, username)
	if err != nil {
		return nil, err
	}
	if match.Status == bracket.MatchCompleted {
		return nil, fmt.Errorf("match already completed: %w", bracket.ErrConflict)
	}
	if match.Status == bracket.MatchPending {
		return nil, fmt.Errorf("match is waiting on an opponent: %w", bracket.ErrInvalidState)
	}

	start, err := s.play.startRound(ctx, tx, s.owner(match, tournament), roundNumber, username)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return start, nil
}

type SubmitGuessParams struct {
	GuessLat       float64  `json:"guessLat"`
	GuessLng       float64  `json:"guessLng"`
	ElapsedSeconds *float64 `json:"elapsedSeconds"`
}

// SubmitRound scores a guess. When the submission is the last one of the
// match, both players' totals are compared and the winner advances
// through the bracket in the same transaction.
func (s *MatchService) SubmitRound(ctx context.Context, matchID string, roundNumber int, username string, params SubmitGuessParams) (*RoundResult, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	match, tournament, err := s.matchContext(ctx, tx, matchID, username)
	if err != nil {
		return nil, err
	}
	if match.Status == bracket.MatchCompleted {
		return nil, fmt.Errorf("match already completed: %w", bracket.ErrConflict)
	}
	if match.Status == bracket.MatchPending {
		return nil, fmt.Errorf("match is waiting on an opponent: %w", bracket.ErrInvalidState)
	}

	owner := s.owner(match, tournament)
	result, err := s.play.submitRound(ctx, tx, owner, roundNumber, username, params.GuessLat, params.GuessLng, params.ElapsedSeconds)
	if err != nil {
		return nil, err
	}

	// The first submission moves the match to in-progress.
	if match.Status == bracket.MatchReady {
		now := s.clock.Now()
		match.Status = bracket.MatchInProgress
		match.StartedAt = &now
		if err := s.tournaments.UpdateMatch(ctx, tx, match); err != nil {
			return nil, fmt.Errorf("failed to update match: %w", err)
		}
	}

	if err := s.maybeCompleteMatch(ctx, tx, match, owner); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.notifier.Notify(matchRoom(match.ID), "round_submitted", map[string]any{
		"matchId":     match.ID,
		"roundNumber": roundNumber,
		"player":      username,
	})
	return result, nil
}

// maybeCompleteMatch finishes the match once both players have submitted
// every round: totals decide the winner (points, then time, then
// distance, then username) and the bracket advances.
func (s *MatchService) maybeCompleteMatch(ctx context.Context, tx *sqlx.Tx, match *bracket.Match, owner roundOwner) error {
	if match.Player1 == nil || match.Player2 == nil {
		return nil
	}
	p1, p2 := *match.Player1, *match.Player2

	c1, err := s.rounds.CountSubmittedTx(ctx, tx, owner.matchID, owner.challengeID, p1)
	if err != nil {
		return fmt.Errorf("failed to count rounds: %w", err)
	}
	c2, err := s.rounds.CountSubmittedTx(ctx, tx, owner.matchID, owner.challengeID, p2)
	if err != nil {
		return fmt.Errorf("failed to count rounds: %w", err)
	}
	if c1 < owner.totalRounds || c2 < owner.totalRounds {
		return nil
	}

	t1, err := s.rounds.GetPlayerTotalsTx(ctx, tx, owner.matchID, owner.challengeID, p1)
	if err != nil {
		return fmt.Errorf("failed to total rounds: %w", err)
	}
	t2, err := s.rounds.GetPlayerTotalsTx(ctx, tx, owner.matchID, owner.challengeID, p2)
	if err != nil {
		return fmt.Errorf("failed to total rounds: %w", err)
	}

	match.Score1 = &t1.Points
	match.Score2 = &t2.Points
	if err := s.tournaments.UpdateMatch(ctx, tx, match); err != nil {
		return fmt.Errorf("failed to record scores: %w", err)
	}

	winner := resolveRunWinner(p1, p2, t1, t2)
	return s.brackets.AdvanceMatch(ctx, tx, match.ID, winner)
}

// MatchStatus is the cheap polling payload for a live match.
type MatchStatus struct {
	Status            bracket.MatchStatus `json:"status"`
	Winner            *string             `json:"winner"`
	Score1            *int                `json:"player1Score"`
	Score2            *int                `json:"player2Score"`
	MySubmitted       int                 `json:"mySubmitted"`
	OpponentSubmitted int                 `json:"opponentSubmitted"`
	TotalRounds       int                 `json:"totalRounds"`
}

func (s *MatchService) GetMatchStatus(ctx context.Context, matchID, username string) (*MatchStatus, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	match, tournament, err := s.matchContext(ctx, tx, matchID, username)
	if err != nil {
		return nil, err
	}
	owner := s.owner(match, tournament)

	status := &MatchStatus{
		Status:      match.Status,
		Winner:      match.Winner,
		Score1:      match.Score1,
		Score2:      match.Score2,
		TotalRounds: tournament.RoundsPerMatch,
	}
	status.MySubmitted, err = s.rounds.CountSubmittedTx(ctx, tx, owner.matchID, owner.challengeID, username)
	if err != nil {
		return nil, fmt.Errorf("failed to count rounds: %w", err)
	}
	if opponent := match.Opponent(username); opponent != nil {
		status.OpponentSubmitted, err = s.rounds.CountSubmittedTx(ctx, tx, owner.matchID, owner.challengeID, *opponent)
		if err != nil {
			return nil, fmt.Errorf("failed to count rounds: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return status, nil
}

// GetMatchResults reveals the full round breakdown. Target locations stay
// hidden until the match has completed.
func (s *MatchService) GetMatchResults(ctx context.Context, matchID, username string) ([]RoundReveal, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	match, _, err := s.matchContext(ctx, tx, matchID, username)
	if err != nil {
		return nil, err
	}
	if match.Status != bracket.MatchCompleted {
		return nil, fmt.Errorf("results are revealed when the match completes: %w", bracket.ErrInvalidState)
	}

	reveals, err := s.play.revealRounds(ctx, tx, &match.ID, nil)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return reveals, nil
}

// AdminSetWinner force-completes a match with the given winner, for
// stalled brackets.
func (s *MatchService) AdminSetWinner(ctx context.Context, matchID, winner string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	match, err := s.tournaments.GetMatchTx(ctx, tx, matchID)
	if err != nil {
		return fmt.Errorf("failed to get match: %w", err)
	}
	if err := s.brackets.AdvanceMatch(ctx, tx, match.ID, winner); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
