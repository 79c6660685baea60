package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/AdamBeresnev/pinpoint/internal/bracket"
	"github.com/AdamBeresnev/pinpoint/internal/store"
	users "github.com/AdamBeresnev/pinpoint/internal/user"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/jonboulle/clockwork"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestDB creates an in-memory SQLite database and applies migrations
func setupTestDB(t *testing.T) *sqlx.DB {
	t.Helper()

	database, err := sqlx.Connect("sqlite3", "file::memory:")
	require.NoError(t, err, "Failed to connect to in-memory DB")

	// One connection so every statement sees the same in-memory database
	database.SetMaxOpenConns(1)

	_, err = database.Exec("PRAGMA foreign_keys = ON;")
	require.NoError(t, err)

	driver, err := sqlite3.WithInstance(database.DB, &sqlite3.Config{})
	require.NoError(t, err, "Failed to create migrate driver instance")

	m, err := migrate.NewWithDatabaseInstance(
		"file://../../migrations",
		"sqlite3",
		driver,
	)
	require.NoError(t, err, "Failed to create migrate instance")

	err = m.Up()
	if err != nil && err != migrate.ErrNoChange {
		require.NoError(t, err, "Failed to apply migrations")
	}

	return database
}

func createTestUser(t *testing.T, db *sqlx.DB, username string) {
	t.Helper()
	userStore := store.NewUserStore(db)
	err := userStore.CreateUser(context.Background(), &users.User{
		Username:    username,
		DisplayName: username,
		Email:       username + "@test.local",
	})
	require.NoError(t, err)
}

func testUsernames(n int) []string {
	names := make([]string, n)
	for i := range names {
		names[i] = fmt.Sprintf("player%02d", i+1)
	}
	return names
}

func TestSeedPositions(t *testing.T) {
	for _, bracketSize := range []int{2, 4, 8, 16} {
		positions := seedPositions(bracketSize)
		require.Len(t, positions, bracketSize)

		// Every slot is used exactly once.
		seen := make([]bool, bracketSize)
		for _, pos := range positions {
			require.False(t, seen[pos])
			seen[pos] = true
		}

		// Seeds 1 and 2 sit in opposite halves.
		assert.Less(t, positions[0], bracketSize/2, "size %d", bracketSize)
		assert.GreaterOrEqual(t, positions[1], bracketSize/2, "size %d", bracketSize)

		// Each opening pair's seeds sum to bracketSize+1, the classic
		// strongest-vs-weakest layout.
		slotSeed := make([]int, bracketSize)
		for seed, pos := range positions {
			slotSeed[pos] = seed + 1
		}
		for i := 0; i < bracketSize; i += 2 {
			assert.Equal(t, bracketSize+1, slotSeed[i]+slotSeed[i+1], "size %d pair %d", bracketSize, i/2)
		}
	}
}

func TestBuildMatchesCounts(t *testing.T) {
	testCases := []struct {
		participants int
		bracketSize  int
		total        int
	}{
		{2, 2, 2},
		{3, 4, 6},
		{4, 4, 6},
		{5, 8, 14},
		{7, 8, 14},
		{8, 8, 14},
		{16, 16, 30},
	}

	for _, tc := range testCases {
		t.Run(fmt.Sprintf("%d participants", tc.participants), func(t *testing.T) {
			matches := buildMatches(uuid.New(), testUsernames(tc.participants), time.Now())
			require.Len(t, matches, tc.total)

			var winners, losers, grandFinals, byes int
			for _, m := range matches {
				switch m.BracketSide {
				case bracket.WinnersSide:
					winners++
					if m.RoundNumber == 1 && m.IsBye {
						byes++
					}
				case bracket.LosersSide:
					losers++
				case bracket.GrandFinal:
					grandFinals++
				}
			}
			assert.Equal(t, tc.bracketSize-1, winners)
			assert.Equal(t, 1, grandFinals)
			if tc.bracketSize >= 4 {
				assert.Equal(t, tc.bracketSize-2, losers)
			} else {
				assert.Equal(t, 0, losers)
			}
			assert.Equal(t, tc.bracketSize-tc.participants, byes)

			// Every non-final match feeds a later one.
			for _, m := range matches {
				if m.BracketSide == bracket.GrandFinal {
					assert.Nil(t, m.WinnerNextMatchID)
					continue
				}
				assert.NotNil(t, m.WinnerNextMatchID, "%s round %d match %d", m.BracketSide, m.RoundNumber, m.MatchOrder)
			}
		})
	}
}

func TestBuildMatchesByeCascade(t *testing.T) {
	// Five participants in a bracket of eight: three byes. Two of the
	// opening byes feed the same losers match, which can never be played.
	matches := buildMatches(uuid.New(), testUsernames(5), time.Now())

	byID := map[uuid.UUID]*bracket.Match{}
	for i := range matches {
		byID[matches[i].ID] = &matches[i]
	}

	var emptyLosers, readyWinnersR2 int
	for _, m := range matches {
		if m.BracketSide == bracket.LosersSide && m.Status == bracket.MatchCompleted {
			assert.True(t, m.IsBye)
			assert.Nil(t, m.Winner, "an empty losers match has no winner")
			emptyLosers++
		}
		if m.BracketSide == bracket.WinnersSide && m.RoundNumber == 2 && m.Status == bracket.MatchReady {
			assert.Equal(t, 2, m.PlayerCount())
			readyWinnersR2++
		}
	}
	assert.Equal(t, 1, emptyLosers, "exactly one losers match starves at build time")
	assert.Equal(t, 1, readyWinnersR2, "two bye winners meet in winners round 2")

	// Bye winners were pushed forward along their winner edges.
	for _, m := range matches {
		if !m.IsBye || m.Winner == nil || m.WinnerNextMatchID == nil {
			continue
		}
		target := byID[*m.WinnerNextMatchID]
		require.NotNil(t, target)
		assert.True(t, target.HasPlayer(*m.Winner))
	}
}

// startTestTournament creates users, a tournament, joins everyone and
// builds the bracket.
func startTestTournament(t *testing.T, db *sqlx.DB, n int) (*TournamentService, *BracketService, *store.TournamentStore, uuid.UUID) {
	t.Helper()

	tournamentStore := store.NewTournamentStore(db)
	userStore := store.NewUserStore(db)
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	bracketService := NewBracketService(db, tournamentStore, userStore, clock, nil)
	tournamentService := NewTournamentService(db, tournamentStore, bracketService, clock, nil)

	ctx := context.Background()
	createTestUser(t, db, "organizer")
	for _, name := range testUsernames(n) {
		createTestUser(t, db, name)
	}

	tournament, err := tournamentService.CreateTournament(ctx, "organizer", CreateTournamentParams{Name: "Test Cup"})
	require.NoError(t, err)

	for _, name := range testUsernames(n) {
		require.NoError(t, tournamentService.JoinTournament(ctx, tournament.ID.String(), name))
	}
	require.NoError(t, tournamentService.StartTournament(ctx, tournament.ID.String(), "organizer", false))

	return tournamentService, bracketService, tournamentStore, tournament.ID
}

// advanceReadyMatch completes one ready match, player 1 winning.
func advanceReadyMatch(t *testing.T, db *sqlx.DB, bracketService *BracketService, m *bracket.Match) {
	t.Helper()
	tx, err := db.BeginTxx(context.Background(), nil)
	require.NoError(t, err)
	defer tx.Rollback()
	require.NoError(t, bracketService.AdvanceMatch(context.Background(), tx, m.ID, *m.Player1))
	require.NoError(t, tx.Commit())
}

func TestTournamentRunsToCompletion(t *testing.T) {
	for _, n := range []int{2, 4, 5, 8} {
		t.Run(fmt.Sprintf("%d participants", n), func(t *testing.T) {
			db := setupTestDB(t)
			defer db.Close()

			tournamentService, bracketService, tournamentStore, tournamentID := startTestTournament(t, db, n)
			ctx := context.Background()

			// Repeatedly play whatever is playable until nothing is left.
			for i := 0; i < 4*n; i++ {
				matches, err := tournamentStore.GetMatches(ctx, tournamentID.String())
				require.NoError(t, err)

				var next *bracket.Match
				for j := range matches {
					if matches[j].Status == bracket.MatchReady {
						next = &matches[j]
						break
					}
				}
				if next == nil {
					break
				}
				advanceReadyMatch(t, db, bracketService, next)
			}

			tournament, err := tournamentService.GetTournament(ctx, tournamentID.String())
			require.NoError(t, err)
			assert.Equal(t, bracket.TournamentCompleted, tournament.Status)
			require.NotNil(t, tournament.Winner)

			matches, err := tournamentStore.GetMatches(ctx, tournamentID.String())
			require.NoError(t, err)
			for _, m := range matches {
				assert.Equal(t, bracket.MatchCompleted, m.Status,
					"%s round %d match %d left unplayed", m.BracketSide, m.RoundNumber, m.MatchOrder)
			}

			// Everyone but the champion is out; nobody lost three times.
			winnerFound := false
			for _, p := range tournament.Participants {
				assert.LessOrEqual(t, p.LossCount, 2, p.Username)
				if p.Username == *tournament.Winner {
					winnerFound = true
					assert.False(t, p.Eliminated)
				} else {
					assert.True(t, p.Eliminated, p.Username)
				}
			}
			assert.True(t, winnerFound)
		})
	}
}

func TestAdvanceCompletedMatchConflicts(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	_, bracketService, tournamentStore, tournamentID := startTestTournament(t, db, 4)
	ctx := context.Background()

	matches, err := tournamentStore.GetMatches(ctx, tournamentID.String())
	require.NoError(t, err)

	var first *bracket.Match
	for i := range matches {
		if matches[i].Status == bracket.MatchReady {
			first = &matches[i]
			break
		}
	}
	require.NotNil(t, first)
	winner := *first.Player1
	advanceReadyMatch(t, db, bracketService, first)

	tx, err := db.BeginTxx(ctx, nil)
	require.NoError(t, err)
	defer tx.Rollback()
	err = bracketService.AdvanceMatch(ctx, tx, first.ID, winner)
	assert.ErrorIs(t, err, bracket.ErrConflict)
}

func TestAdvanceRejectsOutsider(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	_, bracketService, tournamentStore, tournamentID := startTestTournament(t, db, 4)
	ctx := context.Background()

	matches, err := tournamentStore.GetMatches(ctx, tournamentID.String())
	require.NoError(t, err)

	var first *bracket.Match
	for i := range matches {
		if matches[i].Status == bracket.MatchReady {
			first = &matches[i]
			break
		}
	}
	require.NotNil(t, first)

	tx, err := db.BeginTxx(ctx, nil)
	require.NoError(t, err)
	defer tx.Rollback()
	err = bracketService.AdvanceMatch(ctx, tx, first.ID, "nobody")
	assert.ErrorIs(t, err, bracket.ErrValidation)
}

func TestGetBracketGroupsRounds(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	_, bracketService, _, tournamentID := startTestTournament(t, db, 8)

	view, err := bracketService.GetBracket(context.Background(), tournamentID.String())
	require.NoError(t, err)

	require.Len(t, view.Winners, 3)
	assert.Len(t, view.Winners[0], 4)
	assert.Len(t, view.Winners[1], 2)
	assert.Len(t, view.Winners[2], 1)

	require.Len(t, view.Losers, 4)
	assert.Len(t, view.Losers[0], 2)
	assert.Len(t, view.Losers[1], 2)
	assert.Len(t, view.Losers[2], 1)
	assert.Len(t, view.Losers[3], 1)

	require.NotNil(t, view.GrandFinal)
	assert.Equal(t, bracket.MatchPending, view.GrandFinal.Status)
}
