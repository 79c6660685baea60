package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
)

type DailyStore struct {
	db *sqlx.DB
}

func NewDailyStore(db *sqlx.DB) *DailyStore {
	return &DailyStore{db: db}
}

type DailyChallenge struct {
	Day       string    `db:"day"`
	PictureID string    `db:"picture_id"`
	CreatedAt time.Time `db:"created_at"`
}

type DailyResult struct {
	Username       string     `db:"username" json:"username"`
	Day            string     `db:"day" json:"day"`
	GuessLat       *float64   `db:"guess_lat" json:"guessLat"`
	GuessLng       *float64   `db:"guess_lng" json:"guessLng"`
	DistanceMeters *float64   `db:"distance_meters" json:"distanceMeters"`
	Points         *int       `db:"points" json:"points"`
	StartedAt      *time.Time `db:"started_at" json:"startedAt"`
	SubmittedAt    *time.Time `db:"submitted_at" json:"submittedAt"`
}

func (s *DailyStore) GetChallengeForDay(ctx context.Context, day string) (*DailyChallenge, error) {
	var dc DailyChallenge
	err := s.db.GetContext(ctx, &dc, "SELECT * FROM daily_challenges WHERE day = ?", day)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &dc, nil
}

func (s *DailyStore) CreateChallengeForDay(ctx context.Context, day, pictureID string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO daily_challenges (day, picture_id) VALUES (?, ?)", day, pictureID)
	return err
}

func (s *DailyStore) GetResult(ctx context.Context, username, day string) (*DailyResult, error) {
	var r DailyResult
	err := s.db.GetContext(ctx, &r,
		"SELECT * FROM daily_results WHERE username = ? AND day = ?", username, day)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *DailyStore) CreateStartedResult(ctx context.Context, username, day string, startedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO daily_results (username, day, started_at) VALUES (?, ?, ?)", username, day, startedAt)
	return err
}

// SubmitResult finalizes a daily result; the WHERE clause rejects a
// duplicate submission.
func (s *DailyStore) SubmitResult(ctx context.Context, tx *sqlx.Tx, r *DailyResult) (bool, error) {
	res, err := tx.NamedExecContext(ctx, `UPDATE daily_results SET
		guess_lat = :guess_lat,
		guess_lng = :guess_lng,
		distance_meters = :distance_meters,
		points = :points,
		submitted_at = :submitted_at
		WHERE username = :username AND day = :day AND submitted_at IS NULL`, r)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
