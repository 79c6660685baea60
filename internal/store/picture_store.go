package store

import (
	"context"

	"github.com/AdamBeresnev/pinpoint/internal/bracket"
	"github.com/jmoiron/sqlx"
)

type PictureStore struct {
	db *sqlx.DB
}

func NewPictureStore(db *sqlx.DB) *PictureStore {
	return &PictureStore{db: db}
}

func (s *PictureStore) CreatePicture(ctx context.Context, p *bracket.Picture) error {
	_, err := s.db.NamedExecContext(ctx, `INSERT INTO pictures (id, image_url, latitude, longitude, difficulty, show_in_daily, show_in_versus, used_in_daily)
		VALUES (:id, :image_url, :latitude, :longitude, :difficulty, :show_in_daily, :show_in_versus, :used_in_daily)`, p)
	return err
}

func (s *PictureStore) UpdatePicture(ctx context.Context, p *bracket.Picture) error {
	_, err := s.db.NamedExecContext(ctx, `UPDATE pictures SET
		image_url = :image_url,
		latitude = :latitude,
		longitude = :longitude,
		difficulty = :difficulty,
		show_in_daily = :show_in_daily,
		show_in_versus = :show_in_versus,
		used_in_daily = :used_in_daily
		WHERE id = :id`, p)
	return err
}

func (s *PictureStore) DeletePicture(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM pictures WHERE id = ?", id)
	return err
}

func (s *PictureStore) GetPicture(ctx context.Context, id string) (*bracket.Picture, error) {
	var p bracket.Picture
	err := s.db.GetContext(ctx, &p, "SELECT * FROM pictures WHERE id = ?", id)
	return &p, err
}

func (s *PictureStore) ListPictures(ctx context.Context) ([]bracket.Picture, error) {
	var pictures []bracket.Picture
	err := s.db.SelectContext(ctx, &pictures, "SELECT * FROM pictures ORDER BY created_at DESC")
	return pictures, err
}

// RandomVersusPictures picks count random versus-visible pictures of the
// given difficulty. An empty difficulty means any tier.
func (s *PictureStore) RandomVersusPictures(ctx context.Context, count int, difficulty bracket.Difficulty) ([]bracket.Picture, error) {
	var pictures []bracket.Picture
	var err error
	if difficulty == "" {
		err = s.db.SelectContext(ctx, &pictures,
			"SELECT * FROM pictures WHERE show_in_versus = 1 ORDER BY RANDOM() LIMIT ?", count)
	} else {
		err = s.db.SelectContext(ctx, &pictures,
			"SELECT * FROM pictures WHERE show_in_versus = 1 AND difficulty = ? ORDER BY RANDOM() LIMIT ?",
			difficulty, count)
	}
	return pictures, err
}

// RandomVersusPicturesTx is RandomVersusPictures inside a transaction, for
// lazy round generation.
func (s *PictureStore) RandomVersusPicturesTx(ctx context.Context, tx *sqlx.Tx, count int, difficulty bracket.Difficulty) ([]bracket.Picture, error) {
	var pictures []bracket.Picture
	var err error
	if difficulty == "" {
		err = tx.SelectContext(ctx, &pictures,
			"SELECT * FROM pictures WHERE show_in_versus = 1 ORDER BY RANDOM() LIMIT ?", count)
	} else {
		err = tx.SelectContext(ctx, &pictures,
			"SELECT * FROM pictures WHERE show_in_versus = 1 AND difficulty = ? ORDER BY RANDOM() LIMIT ?",
			difficulty, count)
	}
	return pictures, err
}

// GetPictureTx fetches a picture inside a transaction, for scoring.
func (s *PictureStore) GetPictureTx(ctx context.Context, tx *sqlx.Tx, id string) (*bracket.Picture, error) {
	var p bracket.Picture
	err := tx.GetContext(ctx, &p, "SELECT * FROM pictures WHERE id = ?", id)
	return &p, err
}

func (s *PictureStore) RandomUnusedDailyPicture(ctx context.Context) (*bracket.Picture, error) {
	var p bracket.Picture
	err := s.db.GetContext(ctx, &p,
		"SELECT * FROM pictures WHERE show_in_daily = 1 AND used_in_daily = 0 ORDER BY RANDOM() LIMIT 1")
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PictureStore) ResetDailyUsage(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "UPDATE pictures SET used_in_daily = 0 WHERE show_in_daily = 1")
	return err
}

// RandomDailyPictureExcluding avoids pictures featured in daily challenges
// since the cutoff day (inclusive).
func (s *PictureStore) RandomDailyPictureExcluding(ctx context.Context, sinceDay string) (*bracket.Picture, error) {
	var p bracket.Picture
	err := s.db.GetContext(ctx, &p, `SELECT * FROM pictures
		WHERE show_in_daily = 1
		AND id NOT IN (SELECT picture_id FROM daily_challenges WHERE day >= ?)
		ORDER BY RANDOM() LIMIT 1`, sinceDay)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PictureStore) MarkUsedInDaily(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "UPDATE pictures SET used_in_daily = 1 WHERE id = ?", id)
	return err
}
