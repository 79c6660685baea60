package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/AdamBeresnev/pinpoint/internal/bracket"
	"github.com/AdamBeresnev/pinpoint/internal/geo"
	"github.com/AdamBeresnev/pinpoint/internal/store"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/jonboulle/clockwork"
)

// roundPlay implements the round lifecycle shared by tournament matches
// and 1v1 challenges: idempotent timer start, server-side elapsed capping
// and scoring. Owners differ only in which foreign key the rounds carry
// and in what happens after a submission completes a player's run.
type roundPlay struct {
	rounds   *store.RoundStore
	pictures *store.PictureStore
	clock    clockwork.Clock
}

// roundOwner identifies whose rounds are being played. Exactly one of
// matchID/challengeID is set.
type roundOwner struct {
	matchID          *uuid.UUID
	challengeID      *uuid.UUID
	timeLimitSeconds int
	totalRounds      int
}

// RoundStart is the server-authoritative timer state for one round.
type RoundStart struct {
	RoundNumber      int       `json:"roundNumber"`
	StartedAt        time.Time `json:"startedAt"`
	ElapsedSeconds   float64   `json:"elapsedSeconds"`
	RemainingSeconds float64   `json:"remainingSeconds"`
}

// RoundResult is what a player learns immediately after submitting a
// guess. The target location is part of it; a guess is final, so there
// is nothing left to hide for that round.
type RoundResult struct {
	RoundNumber    int     `json:"roundNumber"`
	DistanceMeters float64 `json:"distanceMeters"`
	Points         int     `json:"points"`
	ElapsedSeconds float64 `json:"elapsedSeconds"`
	ActualLat      float64 `json:"actualLat"`
	ActualLng      float64 `json:"actualLng"`
}

// startRound starts the player's timer for a round, or reports the timer
// already running. Starting twice never resets the clock, so a client
// cannot stall and restart to dodge the time penalty.
func (p *roundPlay) startRound(ctx context.Context, tx *sqlx.Tx, owner roundOwner, roundNumber int, username string) (*RoundStart, error) {
	if roundNumber < 1 || roundNumber > owner.totalRounds {
		return nil, fmt.Errorf("round number out of range: %w", bracket.ErrValidation)
	}

	limit := float64(owner.timeLimitSeconds)
	now := p.clock.Now()

	existing, err := p.rounds.GetPlayerRoundTx(ctx, tx, owner.matchID, owner.challengeID, roundNumber, username)
	if err != nil {
		return nil, fmt.Errorf("failed to get round: %w", err)
	}
	if existing != nil {
		if existing.Submitted() {
			// Start stays idempotent after submission: report the round as
			// over rather than erroring.
			started := now
			if existing.StartedAt != nil {
				started = *existing.StartedAt
			}
			elapsed := limit
			if existing.ElapsedSeconds != nil {
				elapsed = *existing.ElapsedSeconds
			}
			return &RoundStart{
				RoundNumber:      roundNumber,
				StartedAt:        started,
				ElapsedSeconds:   elapsed,
				RemainingSeconds: 0,
			}, nil
		}
		elapsed := math.Min(now.Sub(*existing.StartedAt).Seconds(), limit)
		return &RoundStart{
			RoundNumber:      roundNumber,
			StartedAt:        *existing.StartedAt,
			ElapsedSeconds:   elapsed,
			RemainingSeconds: math.Max(0, limit-elapsed),
		}, nil
	}

	template, err := p.rounds.GetTemplateRoundTx(ctx, tx, owner.matchID, owner.challengeID, roundNumber)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("round not generated yet: %w", bracket.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get round template: %w", err)
	}

	err = p.rounds.CreateRound(ctx, tx, &bracket.Round{
		ID:             uuid.New(),
		MatchID:        owner.matchID,
		ChallengeID:    owner.challengeID,
		RoundNumber:    roundNumber,
		PictureID:      template.PictureID,
		PlayerUsername: &username,
		StartedAt:      &now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start round: %w", err)
	}

	return &RoundStart{
		RoundNumber:      roundNumber,
		StartedAt:        now,
		ElapsedSeconds:   0,
		RemainingSeconds: limit,
	}, nil
}

// submitRound scores the player's guess for a round. Elapsed time comes
// from the server clock against the recorded start; a client-supplied
// elapsed is honored only when no start was ever recorded, and both paths
// cap at the time limit. A second submission for the same round is a
// conflict.
func (p *roundPlay) submitRound(ctx context.Context, tx *sqlx.Tx, owner roundOwner, roundNumber int, username string, guessLat, guessLng float64, clientElapsed *float64) (*RoundResult, error) {
	if guessLat < -90 || guessLat > 90 || guessLng < -180 || guessLng > 180 {
		return nil, fmt.Errorf("guess out of coordinate range: %w", bracket.ErrValidation)
	}

	limit := float64(owner.timeLimitSeconds)
	now := p.clock.Now()

	existing, err := p.rounds.GetPlayerRoundTx(ctx, tx, owner.matchID, owner.challengeID, roundNumber, username)
	if err != nil {
		return nil, fmt.Errorf("failed to get round: %w", err)
	}
	if existing != nil && existing.Submitted() {
		return nil, fmt.Errorf("round already submitted: %w", bracket.ErrConflict)
	}

	template, err := p.rounds.GetTemplateRoundTx(ctx, tx, owner.matchID, owner.challengeID, roundNumber)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("round not generated yet: %w", bracket.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get round template: %w", err)
	}
	picture, err := p.pictures.GetPictureTx(ctx, tx, template.PictureID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to get picture: %w", err)
	}

	var elapsed float64
	switch {
	case existing != nil && existing.StartedAt != nil:
		elapsed = math.Min(now.Sub(*existing.StartedAt).Seconds(), limit)
	case clientElapsed != nil:
		// Degraded fallback for a guess submitted without a recorded start.
		elapsed = math.Min(math.Max(0, *clientElapsed), limit)
	default:
		elapsed = limit
	}

	distance := geo.Distance(guessLat, guessLng, picture.Latitude, picture.Longitude)
	points := geo.TimedPoints(distance, elapsed)

	round := existing
	if round == nil {
		round = &bracket.Round{
			ID:             uuid.New(),
			MatchID:        owner.matchID,
			ChallengeID:    owner.challengeID,
			RoundNumber:    roundNumber,
			PictureID:      template.PictureID,
			PlayerUsername: &username,
		}
	}
	round.GuessLat = &guessLat
	round.GuessLng = &guessLng
	round.DistanceMeters = &distance
	round.Points = &points
	round.ElapsedSeconds = &elapsed
	round.SubmittedAt = &now

	if existing == nil {
		if err := p.rounds.CreateRound(ctx, tx, round); err != nil {
			return nil, fmt.Errorf("failed to record round: %w", err)
		}
	} else if err := p.rounds.UpdateRound(ctx, tx, round); err != nil {
		if errors.Is(err, bracket.ErrConflict) {
			return nil, fmt.Errorf("round already submitted: %w", bracket.ErrConflict)
		}
		return nil, fmt.Errorf("failed to record round: %w", err)
	}

	return &RoundResult{
		RoundNumber:    roundNumber,
		DistanceMeters: distance,
		Points:         points,
		ElapsedSeconds: elapsed,
		ActualLat:      picture.Latitude,
		ActualLng:      picture.Longitude,
	}, nil
}

// generateTemplates lazily creates the template rounds for an owner,
// drawing random versus pictures per the difficulty mix and falling back
// to any tier when one runs dry.
func (p *roundPlay) generateTemplates(ctx context.Context, tx *sqlx.Tx, owner roundOwner, mix geo.Mix) error {
	easy, medium, hard := mix.Counts(owner.totalRounds)

	var pictures []bracket.Picture
	for _, tier := range []struct {
		difficulty bracket.Difficulty
		count      int
	}{
		{bracket.DifficultyEasy, easy},
		{bracket.DifficultyMedium, medium},
		{bracket.DifficultyHard, hard},
	} {
		if tier.count == 0 {
			continue
		}
		batch, err := p.pictures.RandomVersusPicturesTx(ctx, tx, tier.count, tier.difficulty)
		if err != nil {
			return fmt.Errorf("failed to pick pictures: %w", err)
		}
		pictures = append(pictures, batch...)
	}

	// Pool too small for the requested mix: top up from any tier.
	if len(pictures) < owner.totalRounds {
		extra, err := p.pictures.RandomVersusPicturesTx(ctx, tx, owner.totalRounds-len(pictures), "")
		if err != nil {
			return fmt.Errorf("failed to pick pictures: %w", err)
		}
		pictures = append(pictures, extra...)
	}
	if len(pictures) < owner.totalRounds {
		return fmt.Errorf("not enough pictures to generate rounds: %w", bracket.ErrInvalidState)
	}

	templates := make([]bracket.Round, owner.totalRounds)
	for i := 0; i < owner.totalRounds; i++ {
		templates[i] = bracket.Round{
			ID:          uuid.New(),
			MatchID:     owner.matchID,
			ChallengeID: owner.challengeID,
			RoundNumber: i + 1,
			PictureID:   pictures[i].ID,
		}
	}
	return p.rounds.CreateRounds(ctx, tx, templates)
}

// generateAnyTierTemplates creates the template rounds from the whole
// versus pool with no difficulty pacing, as 1v1 games use.
func (p *roundPlay) generateAnyTierTemplates(ctx context.Context, tx *sqlx.Tx, owner roundOwner) error {
	pictures, err := p.pictures.RandomVersusPicturesTx(ctx, tx, owner.totalRounds, "")
	if err != nil {
		return fmt.Errorf("failed to pick pictures: %w", err)
	}
	if len(pictures) < owner.totalRounds {
		return fmt.Errorf("not enough pictures to generate rounds: %w", bracket.ErrInvalidState)
	}

	templates := make([]bracket.Round, owner.totalRounds)
	for i := 0; i < owner.totalRounds; i++ {
		templates[i] = bracket.Round{
			ID:          uuid.New(),
			MatchID:     owner.matchID,
			ChallengeID: owner.challengeID,
			RoundNumber: i + 1,
			PictureID:   pictures[i].ID,
		}
	}
	return p.rounds.CreateRounds(ctx, tx, templates)
}

// RoundReveal is the post-game breakdown of one player round, target
// coordinates included.
type RoundReveal struct {
	RoundNumber    int      `json:"roundNumber"`
	Player         string   `json:"player"`
	TargetLat      float64  `json:"targetLat"`
	TargetLng      float64  `json:"targetLng"`
	GuessLat       *float64 `json:"guessLat"`
	GuessLng       *float64 `json:"guessLng"`
	DistanceMeters *float64 `json:"distanceMeters"`
	Points         *int     `json:"points"`
	ElapsedSeconds *float64 `json:"elapsedSeconds"`
}

// revealRounds loads every submitted player round for an owner and joins
// in the target coordinates. Callers gate on completion before revealing.
func (p *roundPlay) revealRounds(ctx context.Context, tx *sqlx.Tx, matchID, challengeID *uuid.UUID) ([]RoundReveal, error) {
	rounds, err := p.rounds.GetAllRoundsTx(ctx, tx, matchID, challengeID)
	if err != nil {
		return nil, fmt.Errorf("failed to get rounds: %w", err)
	}

	coords := map[uuid.UUID][2]float64{}
	reveals := make([]RoundReveal, 0, len(rounds))
	for i := range rounds {
		r := &rounds[i]
		if r.PlayerUsername == nil {
			continue
		}
		if _, ok := coords[r.PictureID]; !ok {
			picture, err := p.pictures.GetPictureTx(ctx, tx, r.PictureID.String())
			if err != nil {
				return nil, fmt.Errorf("failed to get picture: %w", err)
			}
			coords[r.PictureID] = [2]float64{picture.Latitude, picture.Longitude}
		}
		c := coords[r.PictureID]
		reveals = append(reveals, RoundReveal{
			RoundNumber:    r.RoundNumber,
			Player:         *r.PlayerUsername,
			TargetLat:      c[0],
			TargetLng:      c[1],
			GuessLat:       r.GuessLat,
			GuessLng:       r.GuessLng,
			DistanceMeters: r.DistanceMeters,
			Points:         r.Points,
			ElapsedSeconds: r.ElapsedSeconds,
		})
	}
	return reveals, nil
}

// resolveRunWinner breaks a finished head-to-head: higher points, then
// lower total time, then lower total distance, then the lexicographically
// smaller username. The cascade never produces a draw.
func resolveRunWinner(a, b string, at, bt store.PlayerTotals) string {
	switch {
	case at.Points != bt.Points:
		if at.Points > bt.Points {
			return a
		}
		return b
	case at.Seconds != bt.Seconds:
		if at.Seconds < bt.Seconds {
			return a
		}
		return b
	case at.Distance != bt.Distance:
		if at.Distance < bt.Distance {
			return a
		}
		return b
	case a < b:
		return a
	default:
		return b
	}
}
