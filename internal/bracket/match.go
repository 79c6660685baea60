package bracket

import (
	"time"

	"github.com/google/uuid"
)

type MatchStatus string

const (
	MatchPending    MatchStatus = "pending"
	MatchReady      MatchStatus = "ready"
	MatchInProgress MatchStatus = "in_progress"
	MatchCompleted  MatchStatus = "completed"
)

type BracketSide string

const (
	WinnersSide BracketSide = "winners"
	LosersSide  BracketSide = "losers"
	GrandFinal  BracketSide = "grand_final"
)

// Match is one node of the double-elimination tree. The two forward edges
// point at strictly later rounds, so the arena of matches is cycle-free.
type Match struct {
	ID           uuid.UUID `db:"id" json:"id"`
	TournamentID uuid.UUID `db:"tournament_id" json:"tournamentId"`

	// Position in the tournament for reconstructing the view
	BracketSide BracketSide `db:"bracket_side" json:"bracketSide"`
	RoundNumber int         `db:"round_number" json:"roundNumber"`
	MatchOrder  int         `db:"match_order" json:"matchOrder"`

	Player1 *string `db:"player_1" json:"player1"`
	Player2 *string `db:"player_2" json:"player2"`

	Score1 *int        `db:"score_1" json:"score1"`
	Score2 *int        `db:"score_2" json:"score2"`
	Status MatchStatus `db:"status" json:"status"`
	Winner *string     `db:"winner" json:"winner"`

	// A bye never reaches in_progress; it completes with the sole player
	// as winner. An empty match (both feeders were byes) completes with
	// no winner at all.
	IsBye bool `db:"is_bye" json:"isBye"`

	WinnerNextMatchID *uuid.UUID `db:"winner_next_match_id" json:"winnerNextMatchId"`
	LoserNextMatchID  *uuid.UUID `db:"loser_next_match_id" json:"loserNextMatchId"`

	StartedAt   *time.Time `db:"started_at" json:"startedAt"`
	CompletedAt *time.Time `db:"completed_at" json:"completedAt"`
	CreatedAt   time.Time  `db:"created_at" json:"createdAt"`
}

func (m *Match) HasPlayer(username string) bool {
	return (m.Player1 != nil && *m.Player1 == username) ||
		(m.Player2 != nil && *m.Player2 == username)
}

// Opponent returns the other player, or nil for a bye.
func (m *Match) Opponent(username string) *string {
	if m.Player1 != nil && *m.Player1 == username {
		return m.Player2
	}
	if m.Player2 != nil && *m.Player2 == username {
		return m.Player1
	}
	return nil
}

func (m *Match) PlayerCount() int {
	n := 0
	if m.Player1 != nil {
		n++
	}
	if m.Player2 != nil {
		n++
	}
	return n
}

// SolePlayer returns the only filled slot, or nil when the match has zero
// or two players.
func (m *Match) SolePlayer() *string {
	if m.Player1 != nil && m.Player2 == nil {
		return m.Player1
	}
	if m.Player1 == nil && m.Player2 != nil {
		return m.Player2
	}
	return nil
}
