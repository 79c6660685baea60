package service

import (
	"context"
	"testing"
	"time"

	"github.com/AdamBeresnev/pinpoint/internal/bracket"
	"github.com/AdamBeresnev/pinpoint/internal/store"
	"github.com/AdamBeresnev/pinpoint/internal/utils"
	"github.com/jmoiron/sqlx"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTournamentService(t *testing.T, db *sqlx.DB) *TournamentService {
	t.Helper()
	tournamentStore := store.NewTournamentStore(db)
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	bracketService := NewBracketService(db, tournamentStore, store.NewUserStore(db), clock, nil)
	return NewTournamentService(db, tournamentStore, bracketService, clock, nil)
}

func TestCreateTournamentDefaults(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	createTestUser(t, db, "organizer")
	svc := newTournamentService(t, db)
	ctx := context.Background()

	_, err := svc.CreateTournament(ctx, "organizer", CreateTournamentParams{Name: "   "})
	assert.ErrorIs(t, err, bracket.ErrValidation)

	_, err = svc.CreateTournament(ctx, "organizer", CreateTournamentParams{Name: "Cup", MaxParticipants: utils.Ptr(1)})
	assert.ErrorIs(t, err, bracket.ErrValidation)

	tournament, err := svc.CreateTournament(ctx, "organizer", CreateTournamentParams{Name: "Cup"})
	require.NoError(t, err)
	assert.Equal(t, bracket.TournamentOpen, tournament.Status)
	assert.Equal(t, bracket.DefaultTimeLimitSeconds, tournament.TimeLimitSeconds)
	assert.Equal(t, bracket.DefaultRoundsPerMatch, tournament.RoundsPerMatch)
	assert.Nil(t, tournament.MaxParticipants)
}

func TestJoinLimits(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	createTestUser(t, db, "organizer")
	for _, name := range testUsernames(3) {
		createTestUser(t, db, name)
	}
	svc := newTournamentService(t, db)
	ctx := context.Background()

	tournament, err := svc.CreateTournament(ctx, "organizer", CreateTournamentParams{
		Name:            "Small Cup",
		MaxParticipants: utils.Ptr(2),
	})
	require.NoError(t, err)
	id := tournament.ID.String()

	require.NoError(t, svc.JoinTournament(ctx, id, "player01"))

	// Joining twice is a conflict.
	err = svc.JoinTournament(ctx, id, "player01")
	assert.ErrorIs(t, err, bracket.ErrConflict)

	require.NoError(t, svc.JoinTournament(ctx, id, "player02"))

	// Roster is full.
	err = svc.JoinTournament(ctx, id, "player03")
	assert.ErrorIs(t, err, bracket.ErrConflict)

	// Leaving opens the seat again.
	require.NoError(t, svc.LeaveTournament(ctx, id, "player02"))
	require.NoError(t, svc.JoinTournament(ctx, id, "player03"))
}

func TestStartRequiresRosterAndCreator(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	createTestUser(t, db, "organizer")
	for _, name := range testUsernames(2) {
		createTestUser(t, db, name)
	}
	svc := newTournamentService(t, db)
	ctx := context.Background()

	tournament, err := svc.CreateTournament(ctx, "organizer", CreateTournamentParams{Name: "Cup"})
	require.NoError(t, err)
	id := tournament.ID.String()

	require.NoError(t, svc.JoinTournament(ctx, id, "player01"))

	err = svc.StartTournament(ctx, id, "organizer", false)
	assert.ErrorIs(t, err, bracket.ErrInvalidState, "one participant is not enough")

	require.NoError(t, svc.JoinTournament(ctx, id, "player02"))

	err = svc.StartTournament(ctx, id, "player01", false)
	assert.ErrorIs(t, err, bracket.ErrUnauthorized, "only the creator starts")

	require.NoError(t, svc.StartTournament(ctx, id, "organizer", false))

	// No joining or leaving once the bracket exists.
	err = svc.JoinTournament(ctx, id, "player01")
	assert.ErrorIs(t, err, bracket.ErrInvalidState)
	err = svc.LeaveTournament(ctx, id, "player01")
	assert.ErrorIs(t, err, bracket.ErrInvalidState)

	// Starting twice is an invalid state.
	err = svc.StartTournament(ctx, id, "organizer", false)
	assert.ErrorIs(t, err, bracket.ErrInvalidState)

	// Seeds were assigned to every participant.
	detail, err := svc.GetTournament(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, bracket.TournamentInProgress, detail.Status)
	for _, p := range detail.Participants {
		require.NotNil(t, p.Seed, p.Username)
	}
}

func TestCancelOnlyWhileOpen(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	createTestUser(t, db, "organizer")
	for _, name := range testUsernames(2) {
		createTestUser(t, db, name)
	}
	svc := newTournamentService(t, db)
	ctx := context.Background()

	tournament, err := svc.CreateTournament(ctx, "organizer", CreateTournamentParams{Name: "Cup"})
	require.NoError(t, err)
	id := tournament.ID.String()

	// An admin may cancel someone else's tournament; a stranger may not.
	err = svc.CancelTournament(ctx, id, "player01", false)
	assert.ErrorIs(t, err, bracket.ErrUnauthorized)
	require.NoError(t, svc.CancelTournament(ctx, id, "player01", true))

	detail, err := svc.GetTournament(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, bracket.TournamentCancelled, detail.Status)

	// Cancelled is terminal.
	err = svc.CancelTournament(ctx, id, "organizer", false)
	assert.ErrorIs(t, err, bracket.ErrInvalidState)
}

func TestNextMatchFor(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	_, _, tournamentStore, tournamentID := startTestTournament(t, db, 4)
	ctx := context.Background()

	matches, err := tournamentStore.GetMatches(ctx, tournamentID.String())
	require.NoError(t, err)

	svc := newTournamentService(t, db)
	for _, m := range matches {
		if m.Status != bracket.MatchReady {
			continue
		}
		next, err := svc.NextMatchFor(ctx, tournamentID.String(), *m.Player1)
		require.NoError(t, err)
		require.NotNil(t, next)
		assert.True(t, next.HasPlayer(*m.Player1))
	}

	createTestUser(t, db, "spectator")
	next, err := svc.NextMatchFor(ctx, tournamentID.String(), "spectator")
	require.NoError(t, err)
	assert.Nil(t, next)
}
