package bracket

import (
	"time"

	"github.com/google/uuid"
)

// Round belongs to either a tournament match or a challenge, never both.
// A template round (PlayerUsername nil) records the target picture for a
// round number; each player's submission is a separate row keyed by
// (owner, round number, player). Once SubmittedAt is set the row is
// immutable.
type Round struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	MatchID     *uuid.UUID `db:"match_id" json:"matchId,omitempty"`
	ChallengeID *uuid.UUID `db:"challenge_id" json:"challengeId,omitempty"`
	RoundNumber int        `db:"round_number" json:"roundNumber"`
	PictureID   uuid.UUID  `db:"picture_id" json:"pictureId"`

	PlayerUsername *string `db:"player_username" json:"player,omitempty"`

	GuessLat       *float64 `db:"guess_lat" json:"guessLat,omitempty"`
	GuessLng       *float64 `db:"guess_lng" json:"guessLng,omitempty"`
	DistanceMeters *float64 `db:"distance_meters" json:"distanceMeters,omitempty"`
	Points         *int     `db:"points" json:"points,omitempty"`

	// ElapsedSeconds is capped at the owner's time limit regardless of
	// wall-clock overrun.
	ElapsedSeconds *float64 `db:"elapsed_seconds" json:"elapsedSeconds,omitempty"`

	StartedAt   *time.Time `db:"started_at" json:"startedAt,omitempty"`
	SubmittedAt *time.Time `db:"submitted_at" json:"submittedAt,omitempty"`
}

func (r *Round) Submitted() bool {
	return r.SubmittedAt != nil
}
