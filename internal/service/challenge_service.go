package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/AdamBeresnev/pinpoint/internal/bracket"
	"github.com/AdamBeresnev/pinpoint/internal/store"
	users "github.com/AdamBeresnev/pinpoint/internal/user"
	"github.com/AdamBeresnev/pinpoint/internal/utils"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/jonboulle/clockwork"
)

// challengeExpiry is how long an accepted or running challenge may sit
// with no activity before it lapses with no winner.
const challengeExpiry = 24 * time.Hour

// Leaderboard receives lifetime points as games complete. The redis
// presence layer implements it; nil wires a no-op.
type Leaderboard interface {
	AddPoints(ctx context.Context, username string, points int) error
	Online(ctx context.Context, usernames []string) (map[string]bool, error)
}

type noopLeaderboard struct{}

func (noopLeaderboard) AddPoints(context.Context, string, int) error { return nil }
func (noopLeaderboard) Online(_ context.Context, usernames []string) (map[string]bool, error) {
	return map[string]bool{}, nil
}

// ChallengeService runs ad hoc 1v1 games: invitations, the shared round
// lifecycle, forfeits and lazy expiry of abandoned games.
type ChallengeService struct {
	db          *sqlx.DB
	challenges  *store.ChallengeStore
	rounds      *store.RoundStore
	userStore   *store.UserStore
	play        *roundPlay
	leaderboard Leaderboard
	clock       clockwork.Clock
	notifier    Notifier
}

func NewChallengeService(db *sqlx.DB, challenges *store.ChallengeStore, rounds *store.RoundStore, pictures *store.PictureStore, userStore *store.UserStore, leaderboard Leaderboard, clock clockwork.Clock, notifier Notifier) *ChallengeService {
	if notifier == nil {
		notifier = NoopNotifier{}
	}
	if leaderboard == nil {
		leaderboard = noopLeaderboard{}
	}
	return &ChallengeService{
		db:          db,
		challenges:  challenges,
		rounds:      rounds,
		userStore:   userStore,
		play:        &roundPlay{rounds: rounds, pictures: pictures, clock: clock},
		leaderboard: leaderboard,
		clock:       clock,
		notifier:    notifier,
	}
}

func (s *ChallengeService) owner(c *bracket.Challenge) roundOwner {
	return roundOwner{
		challengeID:      &c.ID,
		timeLimitSeconds: bracket.DefaultTimeLimitSeconds,
		totalRounds:      bracket.DefaultRoundsPerMatch,
	}
}

// CreateChallenge invites an opponent and draws the round targets up
// front, so both players guess the same pictures. One active challenge
// per pair at a time.
func (s *ChallengeService) CreateChallenge(ctx context.Context, challenger, challengee string) (*bracket.Challenge, error) {
	if challenger == challengee {
		return nil, fmt.Errorf("cannot challenge yourself: %w", bracket.ErrValidation)
	}
	if _, err := s.userStore.GetUser(ctx, challengee); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("no such opponent: %w", bracket.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get opponent: %w", err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	active, err := s.challenges.GetActiveChallengeBetween(ctx, tx, challenger, challengee)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing challenges: %w", err)
	}
	if active != nil {
		return nil, fmt.Errorf("an active challenge with this opponent already exists: %w", bracket.ErrConflict)
	}

	now := s.clock.Now()
	challenge := &bracket.Challenge{
		ID:             uuid.New(),
		Challenger:     challenger,
		Challengee:     challengee,
		Status:         bracket.ChallengePending,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	if err := s.challenges.CreateChallenge(ctx, tx, challenge); err != nil {
		return nil, fmt.Errorf("failed to create challenge: %w", err)
	}
	if err := s.play.generateAnyTierTemplates(ctx, tx, s.owner(challenge)); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.notifier.Notify("user:"+challengee, "challenge_received", map[string]any{
		"challengeId": challenge.ID,
		"challenger":  challenger,
	})
	return challenge, nil
}

// transition is the shared skeleton of the accept/decline/cancel/forfeit
// state changes.
func (s *ChallengeService) transition(ctx context.Context, challengeID, username string, apply func(*bracket.Challenge) error) (*bracket.Challenge, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	challenge, err := s.challenges.GetChallengeTx(ctx, tx, challengeID)
	if err != nil {
		return nil, fmt.Errorf("failed to get challenge: %w", err)
	}
	if !challenge.HasPlayer(username) {
		return nil, fmt.Errorf("not a player in this challenge: %w", bracket.ErrUnauthorized)
	}
	if s.expireIfStale(ctx, tx, challenge) {
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("failed to commit transaction: %w", err)
		}
		return nil, fmt.Errorf("challenge has expired: %w", bracket.ErrInvalidState)
	}

	if err := apply(challenge); err != nil {
		return nil, err
	}
	challenge.LastActivityAt = s.clock.Now()
	if err := s.challenges.UpdateChallenge(ctx, tx, challenge); err != nil {
		return nil, fmt.Errorf("failed to update challenge: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return challenge, nil
}

func (s *ChallengeService) AcceptChallenge(ctx context.Context, challengeID, username string) (*bracket.Challenge, error) {
	challenge, err := s.transition(ctx, challengeID, username, func(c *bracket.Challenge) error {
		if c.Challengee != username {
			return fmt.Errorf("only the invited player can accept: %w", bracket.ErrUnauthorized)
		}
		if c.Status != bracket.ChallengePending {
			return fmt.Errorf("challenge is not pending: %w", bracket.ErrInvalidState)
		}
		c.Status = bracket.ChallengeAccepted
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.notifier.Notify(challengeRoom(challenge.ID), "challenge_accepted", map[string]any{"challengeId": challenge.ID})
	return challenge, nil
}

func (s *ChallengeService) DeclineChallenge(ctx context.Context, challengeID, username string) (*bracket.Challenge, error) {
	return s.transition(ctx, challengeID, username, func(c *bracket.Challenge) error {
		if c.Challengee != username {
			return fmt.Errorf("only the invited player can decline: %w", bracket.ErrUnauthorized)
		}
		if c.Status != bracket.ChallengePending {
			return fmt.Errorf("challenge is not pending: %w", bracket.ErrInvalidState)
		}
		c.Status = bracket.ChallengeDeclined
		return nil
	})
}

// CancelChallenge lets the challenger withdraw a pending invitation.
func (s *ChallengeService) CancelChallenge(ctx context.Context, challengeID, username string) (*bracket.Challenge, error) {
	return s.transition(ctx, challengeID, username, func(c *bracket.Challenge) error {
		if c.Challenger != username {
			return fmt.Errorf("only the challenger can cancel: %w", bracket.ErrUnauthorized)
		}
		if c.Status != bracket.ChallengePending {
			return fmt.Errorf("challenge is not pending: %w", bracket.ErrInvalidState)
		}
		c.Status = bracket.ChallengeDeclined
		return nil
	})
}

// ForfeitChallenge concedes an active game. The opponent wins and banks
// whatever points they have scored so far.
func (s *ChallengeService) ForfeitChallenge(ctx context.Context, challengeID, username string) (*bracket.Challenge, error) {
	var opponent string
	var opponentPoints int

	challenge, err := s.transition(ctx, challengeID, username, func(c *bracket.Challenge) error {
		if !c.Active() {
			return fmt.Errorf("challenge is not active: %w", bracket.ErrInvalidState)
		}
		opponent = c.Opponent(username)
		now := s.clock.Now()
		c.Status = bracket.ChallengeCompleted
		c.Winner = &opponent
		c.ForfeitedBy = &username
		c.CompletedAt = &now
		if c.Challenger == opponent && c.ChallengerPoints != nil {
			opponentPoints = *c.ChallengerPoints
		}
		if c.Challengee == opponent && c.ChallengeePoints != nil {
			opponentPoints = *c.ChallengeePoints
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if opponentPoints > 0 {
		s.bankPoints(ctx, opponent, opponentPoints)
	}
	s.notifier.Notify(challengeRoom(challenge.ID), "challenge_forfeited", map[string]any{
		"challengeId": challenge.ID,
		"forfeitedBy": username,
		"winner":      opponent,
	})
	return challenge, nil
}

// expireIfStale lapses an idle challenge in place. Returns true when the
// challenge is (now) expired. Pending invitations expire too, so stale
// invites stop blocking the pair.
func (s *ChallengeService) expireIfStale(ctx context.Context, tx *sqlx.Tx, c *bracket.Challenge) bool {
	if c.Status != bracket.ChallengePending && !c.Active() {
		return c.Status == bracket.ChallengeExpired
	}
	if s.clock.Now().Sub(c.LastActivityAt) < challengeExpiry {
		return false
	}
	now := s.clock.Now()
	c.Status = bracket.ChallengeExpired
	c.CompletedAt = &now
	if err := s.challenges.UpdateChallenge(ctx, tx, c); err != nil {
		// Leave it for the next reader to retry.
		return false
	}
	return true
}

// GetChallenge returns one challenge, expiring it first if it went stale.
func (s *ChallengeService) GetChallenge(ctx context.Context, challengeID, username string) (*bracket.Challenge, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	challenge, err := s.challenges.GetChallengeTx(ctx, tx, challengeID)
	if err != nil {
		return nil, fmt.Errorf("failed to get challenge: %w", err)
	}
	if !challenge.HasPlayer(username) {
		return nil, fmt.Errorf("not a player in this challenge: %w", bracket.ErrUnauthorized)
	}
	s.expireIfStale(ctx, tx, challenge)
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return challenge, nil
}

func (s *ChallengeService) GetChallengesForUser(ctx context.Context, username string) ([]bracket.Challenge, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	challenges, err := s.challenges.GetChallengesForUserTx(ctx, tx, username)
	if err != nil {
		return nil, fmt.Errorf("failed to list challenges: %w", err)
	}
	for i := range challenges {
		s.expireIfStale(ctx, tx, &challenges[i])
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return challenges, nil
}

// playable loads the challenge for a round operation and flips accepted to
// in-progress on first activity.
func (s *ChallengeService) playable(ctx context.Context, tx *sqlx.Tx, challengeID, username string) (*bracket.Challenge, error) {
	challenge, err := s.challenges.GetChallengeTx(ctx, tx, challengeID)
	if err != nil {
		return nil, fmt.Errorf("failed to get challenge: %w", err)
	}
	if !challenge.HasPlayer(username) {
		return nil, fmt.Errorf("not a player in this challenge: %w", bracket.ErrUnauthorized)
	}
	if s.expireIfStale(ctx, tx, challenge) {
		return nil, fmt.Errorf("challenge has expired: %w", bracket.ErrInvalidState)
	}
	if !challenge.Active() {
		return nil, fmt.Errorf("challenge is not active: %w", bracket.ErrInvalidState)
	}

	if challenge.Status == bracket.ChallengeAccepted {
		now := s.clock.Now()
		challenge.Status = bracket.ChallengeInProgress
		challenge.StartedAt = &now
	}
	challenge.LastActivityAt = s.clock.Now()
	if err := s.challenges.UpdateChallenge(ctx, tx, challenge); err != nil {
		return nil, fmt.Errorf("failed to update challenge: %w", err)
	}
	return challenge, nil
}

// ChallengeRound mirrors MatchRound for 1v1 games.
func (s *ChallengeService) GetChallengeRounds(ctx context.Context, challengeID, username string) ([]MatchRound, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	challenge, err := s.playable(ctx, tx, challengeID, username)
	if err != nil {
		return nil, err
	}
	owner := s.owner(challenge)

	templates, err := s.rounds.GetTemplateRoundsTx(ctx, tx, owner.matchID, owner.challengeID)
	if err != nil {
		return nil, fmt.Errorf("failed to get rounds: %w", err)
	}
	view, err := s.challengeRoundsView(ctx, tx, owner, templates, username)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return view, nil
}

func (s *ChallengeService) challengeRoundsView(ctx context.Context, tx *sqlx.Tx, owner roundOwner, templates []bracket.Round, username string) ([]MatchRound, error) {
	playerRounds, err := s.rounds.GetPlayerRoundsTx(ctx, tx, owner.matchID, owner.challengeID, username)
	if err != nil {
		return nil, fmt.Errorf("failed to get player rounds: %w", err)
	}
	mine := map[int]*bracket.Round{}
	for i := range playerRounds {
		mine[playerRounds[i].RoundNumber] = &playerRounds[i]
	}

	view := make([]MatchRound, len(templates))
	for i, t := range templates {
		picture, err := s.play.pictures.GetPictureTx(ctx, tx, t.PictureID.String())
		if err != nil {
			return nil, fmt.Errorf("failed to get picture: %w", err)
		}
		mr := MatchRound{RoundNumber: t.RoundNumber, ImageURL: picture.ImageURL}
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

func (s *ChallengeService) StartRound(ctx context.Context, challengeID string, roundNumber int, username string) (*RoundStart, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	challenge, err := s.playable(ctx, tx, challengeID, username)
	if err != nil {
		return nil, err
	}
	start, err := s.play.startRound(ctx, tx, s.owner(challenge), roundNumber, username)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return start, nil
}

// SubmitRound scores a guess; the last submission of a player's run
// freezes their total, and the second frozen total completes the game.
func (s *ChallengeService) SubmitRound(ctx context.Context, challengeID string, roundNumber int, username string, params SubmitGuessParams) (*RoundResult, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	challenge, err := s.playable(ctx, tx, challengeID, username)
	if err != nil {
		return nil, err
	}
	owner := s.owner(challenge)

	result, err := s.play.submitRound(ctx, tx, owner, roundNumber, username, params.GuessLat, params.GuessLng, params.ElapsedSeconds)
	if err != nil {
		return nil, err
	}

	completed, err := s.maybeCompleteChallenge(ctx, tx, challenge, owner, username)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	if completed {
		s.bankCompletedPoints(ctx, challenge)
		s.notifier.Notify(challengeRoom(challenge.ID), "challenge_completed", map[string]any{
			"challengeId": challenge.ID,
			"winner":      challenge.Winner,
		})
	} else {
		s.notifier.Notify(challengeRoom(challenge.ID), "round_submitted", map[string]any{
			"challengeId": challenge.ID,
			"roundNumber": roundNumber,
			"player":      username,
		})
	}
	return result, nil
}

func (s *ChallengeService) maybeCompleteChallenge(ctx context.Context, tx *sqlx.Tx, c *bracket.Challenge, owner roundOwner, justPlayed string) (bool, error) {
	count, err := s.rounds.CountSubmittedTx(ctx, tx, owner.matchID, owner.challengeID, justPlayed)
	if err != nil {
		return false, fmt.Errorf("failed to count rounds: %w", err)
	}
	if count < owner.totalRounds {
		return false, nil
	}

	totals, err := s.rounds.GetPlayerTotalsTx(ctx, tx, owner.matchID, owner.challengeID, justPlayed)
	if err != nil {
		return false, fmt.Errorf("failed to total rounds: %w", err)
	}
	if c.Challenger == justPlayed {
		c.ChallengerFinished = true
		c.ChallengerPoints = utils.Ptr(totals.Points)
	} else {
		c.ChallengeeFinished = true
		c.ChallengeePoints = utils.Ptr(totals.Points)
	}

	if c.ChallengerFinished && c.ChallengeeFinished {
		ct, err := s.rounds.GetPlayerTotalsTx(ctx, tx, owner.matchID, owner.challengeID, c.Challenger)
		if err != nil {
			return false, fmt.Errorf("failed to total rounds: %w", err)
		}
		et, err := s.rounds.GetPlayerTotalsTx(ctx, tx, owner.matchID, owner.challengeID, c.Challengee)
		if err != nil {
			return false, fmt.Errorf("failed to total rounds: %w", err)
		}
		winner := resolveRunWinner(c.Challenger, c.Challengee, ct, et)
		now := s.clock.Now()
		c.Status = bracket.ChallengeCompleted
		c.Winner = &winner
		c.CompletedAt = &now
		if err := s.userStore.AddTotalPoints(ctx, tx, c.Challenger, ct.Points); err != nil {
			return false, fmt.Errorf("failed to bank points: %w", err)
		}
		if err := s.userStore.AddTotalPoints(ctx, tx, c.Challengee, et.Points); err != nil {
			return false, fmt.Errorf("failed to bank points: %w", err)
		}
	}

	if err := s.challenges.UpdateChallenge(ctx, tx, c); err != nil {
		return false, fmt.Errorf("failed to update challenge: %w", err)
	}
	return c.Status == bracket.ChallengeCompleted, nil
}

// bankCompletedPoints mirrors the durable totals into the redis
// leaderboard after commit. Redis being down only delays the board.
func (s *ChallengeService) bankCompletedPoints(ctx context.Context, c *bracket.Challenge) {
	if c.ChallengerPoints != nil {
		s.bankPoints(ctx, c.Challenger, *c.ChallengerPoints)
	}
	if c.ChallengeePoints != nil {
		s.bankPoints(ctx, c.Challengee, *c.ChallengeePoints)
	}
}

func (s *ChallengeService) bankPoints(ctx context.Context, username string, points int) {
	_ = s.leaderboard.AddPoints(ctx, username, points)
}

// GetResults reveals the full breakdown once the challenge is over.
func (s *ChallengeService) GetResults(ctx context.Context, challengeID, username string) ([]RoundReveal, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	challenge, err := s.challenges.GetChallengeTx(ctx, tx, challengeID)
	if err != nil {
		return nil, fmt.Errorf("failed to get challenge: %w", err)
	}
	if !challenge.HasPlayer(username) {
		return nil, fmt.Errorf("not a player in this challenge: %w", bracket.ErrUnauthorized)
	}
	if challenge.Status != bracket.ChallengeCompleted && challenge.Status != bracket.ChallengeExpired {
		return nil, fmt.Errorf("results are revealed when the challenge completes: %w", bracket.ErrInvalidState)
	}

	reveals, err := s.play.revealRounds(ctx, tx, nil, &challenge.ID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return reveals, nil
}

// OpponentView is one row of the challengeable-players list.
type OpponentView struct {
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	TotalPoints int    `json:"totalPoints"`
	Online      bool   `json:"online"`
}

// GetAvailablePlayers lists opponents, flagging who is online right now.
func (s *ChallengeService) GetAvailablePlayers(ctx context.Context, username string, limit int) ([]OpponentView, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	opponents, err := s.userStore.ListOpponents(ctx, username, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list opponents: %w", err)
	}

	usernames := make([]string, len(opponents))
	for i, u := range opponents {
		usernames[i] = u.Username
	}
	online, err := s.leaderboard.Online(ctx, usernames)
	if err != nil {
		// Presence is best effort; show everyone as offline.
		online = map[string]bool{}
	}

	view := make([]OpponentView, len(opponents))
	for i, u := range opponents {
		view[i] = toOpponentView(u, online[u.Username])
	}
	return view, nil
}

func toOpponentView(u users.User, online bool) OpponentView {
	return OpponentView{
		Username:    u.Username,
		DisplayName: u.DisplayName,
		TotalPoints: u.TotalPoints,
		Online:      online,
	}
}
