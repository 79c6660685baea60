package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/AdamBeresnev/pinpoint/internal/bracket"
	"github.com/AdamBeresnev/pinpoint/internal/store"
	"github.com/AdamBeresnev/pinpoint/internal/utils"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testLat = 10.0
	testLng = 20.0
)

// createTestPictures fills the pool with versus and daily pictures, all at
// the same spot so tests can aim for a known target.
func createTestPictures(t *testing.T, db *sqlx.DB, perDifficulty int) {
	t.Helper()
	pictureStore := store.NewPictureStore(db)
	for _, difficulty := range []bracket.Difficulty{bracket.DifficultyEasy, bracket.DifficultyMedium, bracket.DifficultyHard} {
		for i := 0; i < perDifficulty; i++ {
			err := pictureStore.CreatePicture(context.Background(), &bracket.Picture{
				ID:           uuid.New(),
				ImageURL:     fmt.Sprintf("https://pictures.test/%s-%d.jpg", difficulty, i),
				Latitude:     testLat,
				Longitude:    testLng,
				Difficulty:   difficulty,
				ShowInDaily:  true,
				ShowInVersus: true,
			})
			require.NoError(t, err)
		}
	}
}

type matchFixture struct {
	db         *sqlx.DB
	clock      *clockwork.FakeClock
	matches    *MatchService
	stores     *store.TournamentStore
	tournament string
	matchID    string
	player1    string
	player2    string
}

// setupHeadToHead builds a two-player tournament whose single winners
// match is ready to play.
func setupHeadToHead(t *testing.T) *matchFixture {
	t.Helper()
	db := setupTestDB(t)
	t.Cleanup(func() { db.Close() })

	createTestPictures(t, db, 6)

	tournamentStore := store.NewTournamentStore(db)
	userStore := store.NewUserStore(db)
	roundStore := store.NewRoundStore(db)
	pictureStore := store.NewPictureStore(db)
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	bracketService := NewBracketService(db, tournamentStore, userStore, clock, nil)
	tournamentService := NewTournamentService(db, tournamentStore, bracketService, clock, nil)
	matchService := NewMatchService(db, tournamentStore, roundStore, pictureStore, bracketService, clock, nil)

	ctx := context.Background()
	createTestUser(t, db, "alice")
	createTestUser(t, db, "bob")

	tournament, err := tournamentService.CreateTournament(ctx, "alice", CreateTournamentParams{Name: "Duel"})
	require.NoError(t, err)
	require.NoError(t, tournamentService.JoinTournament(ctx, tournament.ID.String(), "alice"))
	require.NoError(t, tournamentService.JoinTournament(ctx, tournament.ID.String(), "bob"))
	require.NoError(t, tournamentService.StartTournament(ctx, tournament.ID.String(), "alice", false))

	matches, err := tournamentStore.GetMatches(ctx, tournament.ID.String())
	require.NoError(t, err)

	var playable *bracket.Match
	for i := range matches {
		if matches[i].Status == bracket.MatchReady {
			playable = &matches[i]
		}
	}
	require.NotNil(t, playable)

	return &matchFixture{
		db:         db,
		clock:      clock,
		matches:    matchService,
		stores:     tournamentStore,
		tournament: tournament.ID.String(),
		matchID:    playable.ID.String(),
		player1:    *playable.Player1,
		player2:    *playable.Player2,
	}
}

func (f *matchFixture) submitAll(t *testing.T, username string, guessLat, guessLng float64) {
	t.Helper()
	for round := 1; round <= bracket.DefaultRoundsPerMatch; round++ {
		_, err := f.matches.SubmitRound(context.Background(), f.matchID, round, username, SubmitGuessParams{
			GuessLat:       guessLat,
			GuessLng:       guessLng,
			ElapsedSeconds: utils.Ptr(30.0),
		})
		require.NoError(t, err)
	}
}

func TestGetMatchRoundsGeneratesOnce(t *testing.T) {
	f := setupHeadToHead(t)
	ctx := context.Background()

	rounds, err := f.matches.GetMatchRounds(ctx, f.matchID, f.player1)
	require.NoError(t, err)
	require.Len(t, rounds, bracket.DefaultRoundsPerMatch)
	for i, r := range rounds {
		assert.Equal(t, i+1, r.RoundNumber)
		assert.NotEmpty(t, r.ImageURL)
		assert.False(t, r.Started)
	}

	// The opponent sees the same targets.
	again, err := f.matches.GetMatchRounds(ctx, f.matchID, f.player2)
	require.NoError(t, err)
	require.Len(t, again, bracket.DefaultRoundsPerMatch)
	for i := range rounds {
		assert.Equal(t, rounds[i].ImageURL, again[i].ImageURL)
	}

	// An outsider sees nothing.
	createTestUser(t, f.db, "stranger")
	_, err = f.matches.GetMatchRounds(ctx, f.matchID, "stranger")
	assert.ErrorIs(t, err, bracket.ErrUnauthorized)
}

func TestStartRoundIsIdempotent(t *testing.T) {
	f := setupHeadToHead(t)
	ctx := context.Background()

	_, err := f.matches.GetMatchRounds(ctx, f.matchID, f.player1)
	require.NoError(t, err)

	first, err := f.matches.StartRound(ctx, f.matchID, 1, f.player1)
	require.NoError(t, err)
	assert.Equal(t, 0.0, first.ElapsedSeconds)
	assert.Equal(t, float64(bracket.DefaultTimeLimitSeconds), first.RemainingSeconds)

	f.clock.Advance(3 * time.Second)

	second, err := f.matches.StartRound(ctx, f.matchID, 1, f.player1)
	require.NoError(t, err)
	assert.Equal(t, first.StartedAt, second.StartedAt, "restart must not reset the clock")
	assert.Equal(t, 3.0, second.ElapsedSeconds)
	assert.Equal(t, float64(bracket.DefaultTimeLimitSeconds)-3, second.RemainingSeconds)

	// Starting a timer is not playing yet; the match flips on submission.
	match, err := f.stores.GetMatch(ctx, f.matchID)
	require.NoError(t, err)
	assert.Equal(t, bracket.MatchReady, match.Status)
}

func TestStartRoundElapsedCapsAtTimeLimit(t *testing.T) {
	f := setupHeadToHead(t)
	ctx := context.Background()

	_, err := f.matches.GetMatchRounds(ctx, f.matchID, f.player1)
	require.NoError(t, err)
	_, err = f.matches.StartRound(ctx, f.matchID, 1, f.player1)
	require.NoError(t, err)

	f.clock.Advance(10 * time.Minute)

	late, err := f.matches.StartRound(ctx, f.matchID, 1, f.player1)
	require.NoError(t, err)
	assert.Equal(t, float64(bracket.DefaultTimeLimitSeconds), late.ElapsedSeconds)
	assert.Equal(t, 0.0, late.RemainingSeconds)
}

func TestSubmitRoundScoresAndRejectsDuplicates(t *testing.T) {
	f := setupHeadToHead(t)
	ctx := context.Background()

	_, err := f.matches.GetMatchRounds(ctx, f.matchID, f.player1)
	require.NoError(t, err)
	_, err = f.matches.StartRound(ctx, f.matchID, 1, f.player1)
	require.NoError(t, err)

	f.clock.Advance(3 * time.Second)

	// A perfect guess inside ten seconds earns the full bonus.
	result, err := f.matches.SubmitRound(ctx, f.matchID, 1, f.player1, SubmitGuessParams{
		GuessLat: testLat,
		GuessLng: testLng,
	})
	require.NoError(t, err)
	assert.Equal(t, 1000, result.Points)
	assert.Equal(t, 0.0, result.DistanceMeters)
	assert.Equal(t, 3.0, result.ElapsedSeconds)

	// The guess is final, so the submit response reveals the target.
	assert.Equal(t, testLat, result.ActualLat)
	assert.Equal(t, testLng, result.ActualLng)

	// The first submission moved the match to in-progress.
	match, err := f.stores.GetMatch(ctx, f.matchID)
	require.NoError(t, err)
	assert.Equal(t, bracket.MatchInProgress, match.Status)

	_, err = f.matches.SubmitRound(ctx, f.matchID, 1, f.player1, SubmitGuessParams{
		GuessLat: testLat,
		GuessLng: testLng,
	})
	assert.ErrorIs(t, err, bracket.ErrConflict)

	// Start stays idempotent after submission and reports the round over.
	start, err := f.matches.StartRound(ctx, f.matchID, 1, f.player1)
	require.NoError(t, err)
	assert.Equal(t, 0.0, start.RemainingSeconds)
	assert.Equal(t, 3.0, start.ElapsedSeconds)
}

func TestSubmitRoundValidatesCoordinates(t *testing.T) {
	f := setupHeadToHead(t)
	ctx := context.Background()

	_, err := f.matches.GetMatchRounds(ctx, f.matchID, f.player1)
	require.NoError(t, err)

	_, err = f.matches.SubmitRound(ctx, f.matchID, 1, f.player1, SubmitGuessParams{
		GuessLat: 91,
		GuessLng: 0,
	})
	assert.ErrorIs(t, err, bracket.ErrValidation)
}

func TestMatchCompletionAdvancesBracket(t *testing.T) {
	f := setupHeadToHead(t)
	ctx := context.Background()

	_, err := f.matches.GetMatchRounds(ctx, f.matchID, f.player1)
	require.NoError(t, err)

	// Results stay hidden while the match runs.
	f.submitAll(t, f.player1, testLat, testLng)
	_, err = f.matches.GetMatchResults(ctx, f.matchID, f.player1)
	assert.ErrorIs(t, err, bracket.ErrInvalidState)

	status, err := f.matches.GetMatchStatus(ctx, f.matchID, f.player1)
	require.NoError(t, err)
	assert.Equal(t, bracket.DefaultRoundsPerMatch, status.MySubmitted)
	assert.Equal(t, 0, status.OpponentSubmitted)

	// Player 2 guesses a degree off: zero distance points.
	f.submitAll(t, f.player2, testLat, testLng+1)

	match, err := f.stores.GetMatch(ctx, f.matchID)
	require.NoError(t, err)
	assert.Equal(t, bracket.MatchCompleted, match.Status)
	require.NotNil(t, match.Winner)
	assert.Equal(t, f.player1, *match.Winner)
	require.NotNil(t, match.Score1)
	require.NotNil(t, match.Score2)

	// Two players means the grand final auto-resolves and the tournament
	// completes in the same transaction.
	tournamentStore := store.NewTournamentStore(f.db)
	tournament, err := tournamentStore.GetTournament(ctx, f.tournament)
	require.NoError(t, err)
	assert.Equal(t, bracket.TournamentCompleted, tournament.Status)
	require.NotNil(t, tournament.Winner)
	assert.Equal(t, f.player1, *tournament.Winner)

	// Reveal now includes both players and the target location.
	reveals, err := f.matches.GetMatchResults(ctx, f.matchID, f.player2)
	require.NoError(t, err)
	assert.Len(t, reveals, 2*bracket.DefaultRoundsPerMatch)
	for _, reveal := range reveals {
		assert.Equal(t, testLat, reveal.TargetLat)
		assert.Equal(t, testLng, reveal.TargetLng)
	}

	// Submitting into a completed match conflicts.
	_, err = f.matches.SubmitRound(ctx, f.matchID, 1, f.player1, SubmitGuessParams{GuessLat: testLat, GuessLng: testLng})
	assert.ErrorIs(t, err, bracket.ErrConflict)
}

func TestResolveRunWinnerTieCascade(t *testing.T) {
	testCases := []struct {
		name     string
		a, b     store.PlayerTotals
		expected string
	}{
		{"higher points win", store.PlayerTotals{Points: 900}, store.PlayerTotals{Points: 800}, "alice"},
		{"points tie, faster wins", store.PlayerTotals{Points: 900, Seconds: 40}, store.PlayerTotals{Points: 900, Seconds: 50}, "alice"},
		{"points tie, slower loses", store.PlayerTotals{Points: 900, Seconds: 50}, store.PlayerTotals{Points: 900, Seconds: 40}, "bob"},
		{"time tie, closer wins", store.PlayerTotals{Points: 900, Seconds: 40, Distance: 10}, store.PlayerTotals{Points: 900, Seconds: 40, Distance: 20}, "alice"},
		{"full tie, lexicographic", store.PlayerTotals{Points: 900, Seconds: 40, Distance: 10}, store.PlayerTotals{Points: 900, Seconds: 40, Distance: 10}, "alice"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, resolveRunWinner("alice", "bob", tc.a, tc.b))
		})
	}
}
