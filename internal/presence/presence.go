// Package presence tracks who is online and mirrors lifetime points into
// a redis sorted set for fast leaderboard reads. Redis is an accelerator
// here; sqlite stays the source of truth for points.
package presence

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	onlineKeyPrefix = "online:"
	leaderboardKey  = "leaderboard"

	// A player is online while their heartbeat key lives.
	onlineTTL = 90 * time.Second
)

type Service struct {
	rdb *redis.Client
}

func New(rdb *redis.Client) *Service {
	return &Service{rdb: rdb}
}

// Touch refreshes the user's heartbeat.
func (s *Service) Touch(ctx context.Context, username string) error {
	return s.rdb.Set(ctx, onlineKeyPrefix+username, 1, onlineTTL).Err()
}

// Online reports which of the given users have a live heartbeat.
func (s *Service) Online(ctx context.Context, usernames []string) (map[string]bool, error) {
	result := make(map[string]bool, len(usernames))
	if len(usernames) == 0 {
		return result, nil
	}

	pipe := s.rdb.Pipeline()
	checks := make([]*redis.IntCmd, len(usernames))
	for i, username := range usernames {
		checks[i] = pipe.Exists(ctx, onlineKeyPrefix+username)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	for i, username := range usernames {
		result[username] = checks[i].Val() > 0
	}
	return result, nil
}

// AddPoints credits a game's points to the leaderboard set.
func (s *Service) AddPoints(ctx context.Context, username string, points int) error {
	return s.rdb.ZIncrBy(ctx, leaderboardKey, float64(points), username).Err()
}

type Entry struct {
	Username string `json:"username"`
	Points   int    `json:"points"`
}

// Top returns the highest scorers, best first.
func (s *Service) Top(ctx context.Context, limit int) ([]Entry, error) {
	scores, err := s.rdb.ZRevRangeWithScores(ctx, leaderboardKey, 0, int64(limit)-1).Result()
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, len(scores))
	for i, z := range scores {
		username, _ := z.Member.(string)
		entries[i] = Entry{Username: username, Points: int(z.Score)}
	}
	return entries, nil
}
