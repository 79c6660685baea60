package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"

	"github.com/AdamBeresnev/pinpoint/internal/bracket"
	"github.com/AdamBeresnev/pinpoint/internal/geo"
	"github.com/AdamBeresnev/pinpoint/internal/store"
	"github.com/jmoiron/sqlx"
	"github.com/jonboulle/clockwork"
)

const (
	dayFormat = "2006-01-02"

	// A picture featured in the daily rotation is not shown again for
	// this many days after the pool resets.
	dailyRepeatCooldownDays = 21
)

// DailyService runs the once-a-day untimed challenge shared by all
// players. Everyone guesses the same picture; scoring ignores time.
type DailyService struct {
	db          *sqlx.DB
	daily       *store.DailyStore
	pictures    *store.PictureStore
	userStore   *store.UserStore
	leaderboard Leaderboard
	clock       clockwork.Clock
}

func NewDailyService(db *sqlx.DB, daily *store.DailyStore, pictures *store.PictureStore, userStore *store.UserStore, leaderboard Leaderboard, clock clockwork.Clock) *DailyService {
	if leaderboard == nil {
		leaderboard = noopLeaderboard{}
	}
	return &DailyService{db: db, daily: daily, pictures: pictures, userStore: userStore, leaderboard: leaderboard, clock: clock}
}

func (s *DailyService) today() string {
	return s.clock.Now().UTC().Format(dayFormat)
}

// DailyView is what a player sees on the daily page: the target image and
// their own progress, never the coordinates.
type DailyView struct {
	Day       string           `json:"day"`
	ImageURL  string           `json:"imageUrl"`
	Started   bool             `json:"started"`
	Submitted bool             `json:"submitted"`
	MyResult  *DailyResultView `json:"myResult,omitempty"`
}

type DailyResultView struct {
	DistanceMeters float64 `json:"distanceMeters"`
	Points         int     `json:"points"`
	TargetLat      float64 `json:"targetLat"`
	TargetLng      float64 `json:"targetLng"`
}

// GetToday returns today's challenge, creating it on first access.
func (s *DailyService) GetToday(ctx context.Context, username string) (*DailyView, error) {
	day := s.today()

	challenge, err := s.daily.GetChallengeForDay(ctx, day)
	if err != nil {
		return nil, fmt.Errorf("failed to get daily challenge: %w", err)
	}
	if challenge == nil {
		challenge, err = s.rotateIn(ctx, day)
		if err != nil {
			return nil, err
		}
	}

	picture, err := s.pictures.GetPicture(ctx, challenge.PictureID)
	if err != nil {
		return nil, fmt.Errorf("failed to get picture: %w", err)
	}

	view := &DailyView{Day: day, ImageURL: picture.ImageURL}
	result, err := s.daily.GetResult(ctx, username, day)
	if err != nil {
		return nil, fmt.Errorf("failed to get result: %w", err)
	}
	if result != nil {
		view.Started = result.StartedAt != nil
		view.Submitted = result.SubmittedAt != nil
		if view.Submitted {
			view.MyResult = &DailyResultView{
				DistanceMeters: *result.DistanceMeters,
				Points:         *result.Points,
				TargetLat:      picture.Latitude,
				TargetLng:      picture.Longitude,
			}
		}
	}
	return view, nil
}

// rotateIn picks today's picture: an unused one when available, otherwise
// the pool resets and anything not featured within the cooldown window is
// fair game again.
func (s *DailyService) rotateIn(ctx context.Context, day string) (*store.DailyChallenge, error) {
	picture, err := s.pictures.RandomUnusedDailyPicture(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		if err := s.pictures.ResetDailyUsage(ctx); err != nil {
			return nil, fmt.Errorf("failed to reset daily pool: %w", err)
		}
		cutoff := s.clock.Now().UTC().AddDate(0, 0, -dailyRepeatCooldownDays).Format(dayFormat)
		picture, err = s.pictures.RandomDailyPictureExcluding(ctx, cutoff)
		if errors.Is(err, sql.ErrNoRows) {
			picture, err = s.pictures.RandomUnusedDailyPicture(ctx)
		}
	}
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("no pictures available for the daily challenge: %w", bracket.ErrInvalidState)
		}
		return nil, fmt.Errorf("failed to pick daily picture: %w", err)
	}

	if err := s.daily.CreateChallengeForDay(ctx, day, picture.ID.String()); err != nil {
		// Lost the creation race; use whatever won.
		existing, getErr := s.daily.GetChallengeForDay(ctx, day)
		if getErr == nil && existing != nil {
			return existing, nil
		}
		return nil, fmt.Errorf("failed to create daily challenge: %w", err)
	}
	if err := s.pictures.MarkUsedInDaily(ctx, picture.ID.String()); err != nil {
		return nil, fmt.Errorf("failed to mark picture used: %w", err)
	}
	return s.daily.GetChallengeForDay(ctx, day)
}

// Start begins (or reports) the player's daily attempt. Restarting never
// resets the clock.
func (s *DailyService) Start(ctx context.Context, username string) (*RoundStart, error) {
	day := s.today()
	limit := float64(bracket.DefaultTimeLimitSeconds)
	now := s.clock.Now()

	if _, err := s.GetToday(ctx, username); err != nil {
		return nil, err
	}

	result, err := s.daily.GetResult(ctx, username, day)
	if err != nil {
		return nil, fmt.Errorf("failed to get result: %w", err)
	}
	if result != nil {
		if result.SubmittedAt != nil {
			// Already played: report the attempt as over instead of erroring.
			started := now
			if result.StartedAt != nil {
				started = *result.StartedAt
			}
			elapsed := limit
			if result.StartedAt != nil {
				elapsed = math.Min(result.SubmittedAt.Sub(*result.StartedAt).Seconds(), limit)
			}
			return &RoundStart{
				RoundNumber:      1,
				StartedAt:        started,
				ElapsedSeconds:   elapsed,
				RemainingSeconds: 0,
			}, nil
		}
		elapsed := math.Min(now.Sub(*result.StartedAt).Seconds(), limit)
		return &RoundStart{
			RoundNumber:      1,
			StartedAt:        *result.StartedAt,
			ElapsedSeconds:   elapsed,
			RemainingSeconds: math.Max(0, limit-elapsed),
		}, nil
	}

	if err := s.daily.CreateStartedResult(ctx, username, day, now); err != nil {
		return nil, fmt.Errorf("failed to start daily challenge: %w", err)
	}
	return &RoundStart{RoundNumber: 1, StartedAt: now, ElapsedSeconds: 0, RemainingSeconds: limit}, nil
}

// Submit scores the player's one daily guess. Daily scoring is untimed;
// the elapsed clock is recorded for display only.
func (s *DailyService) Submit(ctx context.Context, username string, params SubmitGuessParams) (*DailyResultView, error) {
	if params.GuessLat < -90 || params.GuessLat > 90 || params.GuessLng < -180 || params.GuessLng > 180 {
		return nil, fmt.Errorf("guess out of coordinate range: %w", bracket.ErrValidation)
	}

	day := s.today()
	now := s.clock.Now()

	challenge, err := s.daily.GetChallengeForDay(ctx, day)
	if err != nil {
		return nil, fmt.Errorf("failed to get daily challenge: %w", err)
	}
	if challenge == nil {
		return nil, fmt.Errorf("daily challenge not started: %w", bracket.ErrNotFound)
	}
	picture, err := s.pictures.GetPicture(ctx, challenge.PictureID)
	if err != nil {
		return nil, fmt.Errorf("failed to get picture: %w", err)
	}

	result, err := s.daily.GetResult(ctx, username, day)
	if err != nil {
		return nil, fmt.Errorf("failed to get result: %w", err)
	}
	if result == nil {
		// Guess without a recorded start; record the attempt now.
		if err := s.daily.CreateStartedResult(ctx, username, day, now); err != nil {
			return nil, fmt.Errorf("failed to record attempt: %w", err)
		}
		result = &store.DailyResult{Username: username, Day: day, StartedAt: &now}
	}
	if result.SubmittedAt != nil {
		return nil, fmt.Errorf("already played today: %w", bracket.ErrConflict)
	}

	distance := geo.Distance(params.GuessLat, params.GuessLng, picture.Latitude, picture.Longitude)
	points := geo.UntimedPoints(distance)

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result.GuessLat = &params.GuessLat
	result.GuessLng = &params.GuessLng
	result.DistanceMeters = &distance
	result.Points = &points
	result.SubmittedAt = &now

	updated, err := s.daily.SubmitResult(ctx, tx, result)
	if err != nil {
		return nil, fmt.Errorf("failed to submit result: %w", err)
	}
	if !updated {
		return nil, fmt.Errorf("already played today: %w", bracket.ErrConflict)
	}
	if err := s.userStore.AddTotalPoints(ctx, tx, username, points); err != nil {
		return nil, fmt.Errorf("failed to bank points: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	_ = s.leaderboard.AddPoints(ctx, username, points)

	return &DailyResultView{
		DistanceMeters: distance,
		Points:         points,
		TargetLat:      picture.Latitude,
		TargetLng:      picture.Longitude,
	}, nil
}
