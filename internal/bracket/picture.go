package bracket

import (
	"time"

	"github.com/google/uuid"
)

type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// Picture is a guessing target. Coordinates are only revealed to players
// after they submit a guess.
type Picture struct {
	ID         uuid.UUID  `db:"id" json:"id"`
	ImageURL   string     `db:"image_url" json:"imageUrl"`
	Latitude   float64    `db:"latitude" json:"-"`
	Longitude  float64    `db:"longitude" json:"-"`
	Difficulty Difficulty `db:"difficulty" json:"difficulty"`

	ShowInDaily  bool `db:"show_in_daily" json:"showInDaily"`
	ShowInVersus bool `db:"show_in_versus" json:"showInVersus"`
	UsedInDaily  bool `db:"used_in_daily" json:"usedInDaily"`

	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}
