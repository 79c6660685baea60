package bracket

import (
	"time"

	"github.com/google/uuid"
)

const (
	DefaultTimeLimitSeconds = 120
	DefaultRoundsPerMatch   = 5
)

type TournamentStatus string

const (
	TournamentOpen       TournamentStatus = "open"
	TournamentInProgress TournamentStatus = "in_progress"
	TournamentCompleted  TournamentStatus = "completed"
	TournamentCancelled  TournamentStatus = "cancelled"
)

type Tournament struct {
	ID        uuid.UUID        `db:"id" json:"id"`
	Name      string           `db:"name" json:"name"`
	CreatedBy string           `db:"created_by" json:"createdBy"`
	Status    TournamentStatus `db:"status" json:"status"`

	// Nil means unlimited roster.
	MaxParticipants *int `db:"max_participants" json:"maxParticipants"`

	TimeLimitSeconds int `db:"time_limit_seconds" json:"timeLimitSeconds"`
	RoundsPerMatch   int `db:"rounds_per_match" json:"roundsPerMatch"`

	Winner      *string    `db:"winner" json:"winner"`
	CreatedAt   time.Time  `db:"created_at" json:"createdAt"`
	StartedAt   *time.Time `db:"started_at" json:"startedAt"`
	CompletedAt *time.Time `db:"completed_at" json:"completedAt"`
}

// Participant is a (tournament, username) membership record. Seed is
// assigned when the bracket is built; LossCount tracks double elimination.
type Participant struct {
	TournamentID uuid.UUID `db:"tournament_id" json:"-"`
	Username     string    `db:"username" json:"username"`
	Seed         *int      `db:"seed" json:"seed"`
	Eliminated   bool      `db:"eliminated" json:"eliminated"`
	LossCount    int       `db:"loss_count" json:"lossCount"`
	JoinedAt     time.Time `db:"joined_at" json:"joinedAt"`
}
