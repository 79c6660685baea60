package bracket

import (
	"time"

	"github.com/google/uuid"
)

type ChallengeStatus string

const (
	ChallengePending    ChallengeStatus = "pending"
	ChallengeAccepted   ChallengeStatus = "accepted"
	ChallengeDeclined   ChallengeStatus = "declined"
	ChallengeInProgress ChallengeStatus = "in_progress"
	ChallengeCompleted  ChallengeStatus = "completed"
	ChallengeExpired    ChallengeStatus = "expired"
)

// Challenge is the ad hoc 1v1 analog of a tournament match. It shares the
// round and scoring model but lives outside any bracket.
type Challenge struct {
	ID         uuid.UUID       `db:"id" json:"id"`
	Challenger string          `db:"challenger" json:"challenger"`
	Challengee string          `db:"challengee" json:"challengee"`
	Status     ChallengeStatus `db:"status" json:"status"`

	ChallengerPoints   *int `db:"challenger_points" json:"challengerPoints"`
	ChallengeePoints   *int `db:"challengee_points" json:"challengeePoints"`
	ChallengerFinished bool `db:"challenger_finished" json:"challengerFinished"`
	ChallengeeFinished bool `db:"challengee_finished" json:"challengeeFinished"`

	Winner      *string `db:"winner" json:"winner"`
	ForfeitedBy *string `db:"forfeited_by" json:"forfeitedBy"`

	CreatedAt      time.Time  `db:"created_at" json:"createdAt"`
	StartedAt      *time.Time `db:"started_at" json:"startedAt"`
	CompletedAt    *time.Time `db:"completed_at" json:"completedAt"`
	LastActivityAt time.Time  `db:"last_activity_at" json:"lastActivityAt"`
}

func (c *Challenge) HasPlayer(username string) bool {
	return c.Challenger == username || c.Challengee == username
}

func (c *Challenge) Opponent(username string) string {
	if c.Challenger == username {
		return c.Challengee
	}
	return c.Challenger
}

func (c *Challenge) Active() bool {
	return c.Status == ChallengeAccepted || c.Status == ChallengeInProgress
}
