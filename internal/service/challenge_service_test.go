package service

import (
	"context"
	"testing"
	"time"

	"github.com/AdamBeresnev/pinpoint/internal/bracket"
	"github.com/AdamBeresnev/pinpoint/internal/store"
	"github.com/AdamBeresnev/pinpoint/internal/utils"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type challengeFixture struct {
	clock      *clockwork.FakeClock
	challenges *ChallengeService
	userStore  *store.UserStore
}

func setupChallenges(t *testing.T) *challengeFixture {
	t.Helper()
	db := setupTestDB(t)
	t.Cleanup(func() { db.Close() })

	createTestPictures(t, db, 3)
	createTestUser(t, db, "alice")
	createTestUser(t, db, "bob")

	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	userStore := store.NewUserStore(db)
	challengeService := NewChallengeService(
		db,
		store.NewChallengeStore(db),
		store.NewRoundStore(db),
		store.NewPictureStore(db),
		userStore,
		nil,
		clock,
		nil,
	)
	return &challengeFixture{clock: clock, challenges: challengeService, userStore: userStore}
}

func (f *challengeFixture) playAll(t *testing.T, challengeID, username string, guessLat, guessLng float64) {
	t.Helper()
	for round := 1; round <= bracket.DefaultRoundsPerMatch; round++ {
		result, err := f.challenges.SubmitRound(context.Background(), challengeID, round, username, SubmitGuessParams{
			GuessLat:       guessLat,
			GuessLng:       guessLng,
			ElapsedSeconds: utils.Ptr(30.0),
		})
		require.NoError(t, err)
		assert.Equal(t, testLat, result.ActualLat, "a submitted round reveals its target")
		assert.Equal(t, testLng, result.ActualLng)
	}
}

func TestCreateChallengeValidation(t *testing.T) {
	f := setupChallenges(t)
	ctx := context.Background()

	_, err := f.challenges.CreateChallenge(ctx, "alice", "alice")
	assert.ErrorIs(t, err, bracket.ErrValidation)

	_, err = f.challenges.CreateChallenge(ctx, "alice", "nobody")
	assert.ErrorIs(t, err, bracket.ErrNotFound)

	challenge, err := f.challenges.CreateChallenge(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, bracket.ChallengePending, challenge.Status)

	// Only one live challenge per pair, in either direction.
	_, err = f.challenges.CreateChallenge(ctx, "bob", "alice")
	assert.ErrorIs(t, err, bracket.ErrConflict)
}

func TestChallengeTransitions(t *testing.T) {
	f := setupChallenges(t)
	ctx := context.Background()

	challenge, err := f.challenges.CreateChallenge(ctx, "alice", "bob")
	require.NoError(t, err)
	id := challenge.ID.String()

	// The challenger cannot accept their own invitation.
	_, err = f.challenges.AcceptChallenge(ctx, id, "alice")
	assert.ErrorIs(t, err, bracket.ErrUnauthorized)

	accepted, err := f.challenges.AcceptChallenge(ctx, id, "bob")
	require.NoError(t, err)
	assert.Equal(t, bracket.ChallengeAccepted, accepted.Status)

	// Accepting twice is an invalid state, not a silent no-op.
	_, err = f.challenges.AcceptChallenge(ctx, id, "bob")
	assert.ErrorIs(t, err, bracket.ErrInvalidState)
}

func TestDeclineFreesThePair(t *testing.T) {
	f := setupChallenges(t)
	ctx := context.Background()

	challenge, err := f.challenges.CreateChallenge(ctx, "alice", "bob")
	require.NoError(t, err)

	_, err = f.challenges.DeclineChallenge(ctx, challenge.ID.String(), "bob")
	require.NoError(t, err)

	_, err = f.challenges.CreateChallenge(ctx, "bob", "alice")
	require.NoError(t, err)
}

func TestChallengePlayThrough(t *testing.T) {
	f := setupChallenges(t)
	ctx := context.Background()

	challenge, err := f.challenges.CreateChallenge(ctx, "alice", "bob")
	require.NoError(t, err)
	id := challenge.ID.String()

	_, err = f.challenges.AcceptChallenge(ctx, id, "bob")
	require.NoError(t, err)

	rounds, err := f.challenges.GetChallengeRounds(ctx, id, "alice")
	require.NoError(t, err)
	require.Len(t, rounds, bracket.DefaultRoundsPerMatch)

	start, err := f.challenges.StartRound(ctx, id, 1, "alice")
	require.NoError(t, err)
	assert.Equal(t, float64(bracket.DefaultTimeLimitSeconds), start.RemainingSeconds)

	// Alice nails every round, bob is a degree of longitude off.
	f.playAll(t, id, "alice", testLat, testLng)

	mid, err := f.challenges.GetChallenge(ctx, id, "bob")
	require.NoError(t, err)
	assert.Equal(t, bracket.ChallengeInProgress, mid.Status)
	assert.True(t, mid.ChallengerFinished)
	assert.False(t, mid.ChallengeeFinished)

	f.playAll(t, id, "bob", testLat, testLng+1)

	done, err := f.challenges.GetChallenge(ctx, id, "alice")
	require.NoError(t, err)
	assert.Equal(t, bracket.ChallengeCompleted, done.Status)
	require.NotNil(t, done.Winner)
	assert.Equal(t, "alice", *done.Winner)
	require.NotNil(t, done.ChallengerPoints)
	require.NotNil(t, done.ChallengeePoints)
	assert.Greater(t, *done.ChallengerPoints, *done.ChallengeePoints)

	// Lifetime points were banked for both players.
	alice, err := f.userStore.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, *done.ChallengerPoints, alice.TotalPoints)
	bob, err := f.userStore.GetUser(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, *done.ChallengeePoints, bob.TotalPoints)

	reveals, err := f.challenges.GetResults(ctx, id, "bob")
	require.NoError(t, err)
	assert.Len(t, reveals, 2*bracket.DefaultRoundsPerMatch)
}

func TestForfeitHandsTheWin(t *testing.T) {
	f := setupChallenges(t)
	ctx := context.Background()

	challenge, err := f.challenges.CreateChallenge(ctx, "alice", "bob")
	require.NoError(t, err)
	id := challenge.ID.String()

	_, err = f.challenges.AcceptChallenge(ctx, id, "bob")
	require.NoError(t, err)

	forfeited, err := f.challenges.ForfeitChallenge(ctx, id, "alice")
	require.NoError(t, err)
	assert.Equal(t, bracket.ChallengeCompleted, forfeited.Status)
	require.NotNil(t, forfeited.Winner)
	assert.Equal(t, "bob", *forfeited.Winner)
	require.NotNil(t, forfeited.ForfeitedBy)
	assert.Equal(t, "alice", *forfeited.ForfeitedBy)
}

func TestForfeitRequiresActiveChallenge(t *testing.T) {
	f := setupChallenges(t)
	ctx := context.Background()

	challenge, err := f.challenges.CreateChallenge(ctx, "alice", "bob")
	require.NoError(t, err)

	_, err = f.challenges.ForfeitChallenge(ctx, challenge.ID.String(), "alice")
	assert.ErrorIs(t, err, bracket.ErrInvalidState)
}

func TestStaleChallengeExpires(t *testing.T) {
	f := setupChallenges(t)
	ctx := context.Background()

	challenge, err := f.challenges.CreateChallenge(ctx, "alice", "bob")
	require.NoError(t, err)
	id := challenge.ID.String()

	_, err = f.challenges.AcceptChallenge(ctx, id, "bob")
	require.NoError(t, err)

	f.clock.Advance(challengeExpiry + time.Minute)

	expired, err := f.challenges.GetChallenge(ctx, id, "alice")
	require.NoError(t, err)
	assert.Equal(t, bracket.ChallengeExpired, expired.Status)
	assert.Nil(t, expired.Winner, "an expired challenge has no winner")

	// Play against an expired challenge is rejected.
	_, err = f.challenges.StartRound(ctx, id, 1, "alice")
	assert.ErrorIs(t, err, bracket.ErrInvalidState)

	// The pair is free to rematch.
	_, err = f.challenges.CreateChallenge(ctx, "alice", "bob")
	require.NoError(t, err)
}
