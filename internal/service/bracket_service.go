package service

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/AdamBeresnev/pinpoint/internal/bracket"
	"github.com/AdamBeresnev/pinpoint/internal/store"
	"github.com/AdamBeresnev/pinpoint/internal/utils"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/jonboulle/clockwork"
)

// BracketService builds double-elimination brackets and advances winners
// through them. Builds run fully in memory and persist in the caller's
// transaction, so a partial bracket is never observable.
type BracketService struct {
	db        *sqlx.DB
	store     *store.TournamentStore
	userStore *store.UserStore
	clock     clockwork.Clock
	notifier  Notifier
}

func NewBracketService(db *sqlx.DB, st *store.TournamentStore, userStore *store.UserStore, clock clockwork.Clock, notifier Notifier) *BracketService {
	if notifier == nil {
		notifier = NoopNotifier{}
	}
	return &BracketService{db: db, store: st, userStore: userStore, clock: clock, notifier: notifier}
}

// Gets the nearest power of 2 while rounding up, so with input 5 it returns 8 and so on
func calcBracketSize(count int) int {
	if count <= 0 {
		return 0
	}

	// Log2 -> Ceil -> 2^^log2 to round up
	log2 := math.Ceil(math.Log2(float64(count)))
	return int(math.Pow(2, log2))
}

// seedPositions returns the bracket slot for each 0-based seed, mirroring
// (seed, roundSize+1-seed) pairs as the bracket doubles. Seeds 1 and 2
// land in opposite halves and can only meet in the final; the weakest
// positions, which become byes, sit next to the strongest seeds.
func seedPositions(bracketSize int) []int {
	seeds := []int{1}
	for len(seeds) < bracketSize {
		roundSize := len(seeds) * 2
		next := make([]int, 0, roundSize)
		for _, seed := range seeds {
			next = append(next, seed)
			next = append(next, roundSize+1-seed)
		}
		seeds = next
	}

	positions := make([]int, bracketSize)
	for pos, seed := range seeds {
		positions[seed-1] = pos
	}
	return positions
}

// BuildBracket shuffles the roster, assigns seeds, and creates the full
// winners/losers/grand-final match set inside the given transaction. It
// returns every created match, with build-time bye cascades already
// resolved.
func (s *BracketService) BuildBracket(ctx context.Context, tx *sqlx.Tx, tournamentID uuid.UUID, usernames []string) ([]bracket.Match, error) {
	if len(usernames) < 2 {
		return nil, fmt.Errorf("need at least 2 participants to build a bracket: %w", bracket.ErrInvalidState)
	}

	shuffled := make([]string, len(usernames))
	copy(shuffled, usernames)
	rand.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	for i, username := range shuffled {
		if err := s.store.SetParticipantSeedTx(ctx, tx, tournamentID.String(), username, i+1); err != nil {
			return nil, fmt.Errorf("failed to persist seed: %w", err)
		}
	}

	matches := buildMatches(tournamentID, shuffled, s.clock.Now())

	if err := s.store.CreateMatches(ctx, tx, matches); err != nil {
		return nil, fmt.Errorf("failed to persist bracket: %w", err)
	}
	return matches, nil
}

// buildMatches constructs the whole bracket in memory: seeded winners
// rounds, losers rounds, the grand final, forward edges, and the
// build-time bye/empty cascade.
func buildMatches(tournamentID uuid.UUID, shuffled []string, now time.Time) []bracket.Match {
	bracketSize := calcBracketSize(len(shuffled))
	winnersRounds := int(math.Log2(float64(bracketSize)))

	positions := seedPositions(bracketSize)
	seeded := make([]*string, bracketSize)
	for i := range shuffled {
		seeded[positions[i]] = &shuffled[i]
	}

	var all []*bracket.Match
	newMatch := func(side bracket.BracketSide, round, order int) *bracket.Match {
		m := &bracket.Match{
			ID:           uuid.New(),
			TournamentID: tournamentID,
			BracketSide:  side,
			RoundNumber:  round,
			MatchOrder:   order,
			Status:       bracket.MatchPending,
			CreatedAt:    now,
		}
		all = append(all, m)
		return m
	}

	// Winners bracket: round r (0-indexed) has bracketSize / 2^(r+1) matches.
	winners := make([][]*bracket.Match, winnersRounds)
	for r := 0; r < winnersRounds; r++ {
		count := bracketSize >> (r + 1)
		winners[r] = make([]*bracket.Match, count)
		for i := 0; i < count; i++ {
			winners[r][i] = newMatch(bracket.WinnersSide, r+1, i+1)
		}
	}

	// Fill round 0 from the seeded slots, pairwise.
	for i, m := range winners[0] {
		m.Player1 = seeded[i*2]
		m.Player2 = seeded[i*2+1]
		switch m.PlayerCount() {
		case 2:
			m.Status = bracket.MatchReady
		case 1:
			// Bye: completes without ever being playable.
			m.Status = bracket.MatchCompleted
			m.Winner = m.SolePlayer()
			m.IsBye = true
			m.CompletedAt = utils.Ptr(now)
		}
	}

	// Losers bracket: 2*(winnersRounds-1) rounds. Even-indexed rounds take
	// fresh drops from a winners round, odd-indexed rounds consolidate
	// losers-bracket survivors.
	losersRounds := 2 * (winnersRounds - 1)
	losers := make([][]*bracket.Match, losersRounds)
	for k := 0; k < losersRounds; k++ {
		var count int
		if k%2 == 0 {
			count = bracketSize >> (k/2 + 2)
		} else {
			count = len(losers[k-1])
		}
		if count < 1 {
			count = 1
		}
		losers[k] = make([]*bracket.Match, count)
		for i := 0; i < count; i++ {
			losers[k][i] = newMatch(bracket.LosersSide, k+1, i+1)
		}
	}

	grandFinal := newMatch(bracket.GrandFinal, 1, 1)

	// Winner edges within the winners bracket.
	for r := 0; r < winnersRounds-1; r++ {
		for i, m := range winners[r] {
			m.WinnerNextMatchID = &winners[r+1][i/2].ID
		}
	}
	winners[winnersRounds-1][0].WinnerNextMatchID = &grandFinal.ID

	if losersRounds > 0 {
		// Round-0 losers drop pairwise into the first losers round.
		for i, m := range winners[0] {
			m.LoserNextMatchID = &losers[0][i/2].ID
		}
		// Later winners rounds cross into the matching consolidation round.
		for r := 1; r < winnersRounds; r++ {
			target := losers[2*r-1]
			for i, m := range winners[r] {
				m.LoserNextMatchID = &target[i%len(target)].ID
			}
		}
		// Winner edges within the losers bracket: 1:1 when the next round
		// keeps the size, pairwise halving otherwise.
		for k := 0; k < losersRounds-1; k++ {
			for i, m := range losers[k] {
				if len(losers[k+1]) == len(losers[k]) {
					m.WinnerNextMatchID = &losers[k+1][i].ID
				} else {
					m.WinnerNextMatchID = &losers[k+1][i/2].ID
				}
			}
		}
		losers[losersRounds-1][0].WinnerNextMatchID = &grandFinal.ID
	}

	resolveBuildCascades(all, now)

	result := make([]bracket.Match, len(all))
	for i, m := range all {
		result[i] = *m
	}
	return result
}

// resolveBuildCascades advances bye winners along winner edges and
// propagates "permanently empty" losers matches (both feeders were byes)
// forward, using an explicit worklist so depth stays bounded.
func resolveBuildCascades(all []*bracket.Match, now time.Time) {
	byID := make(map[uuid.UUID]*bracket.Match, len(all))
	feederCount := make(map[uuid.UUID]int)
	completedFeeders := make(map[uuid.UUID]int)

	for _, m := range all {
		byID[m.ID] = m
	}
	for _, m := range all {
		if m.WinnerNextMatchID != nil {
			feederCount[*m.WinnerNextMatchID]++
		}
		if m.LoserNextMatchID != nil {
			feederCount[*m.LoserNextMatchID]++
		}
	}

	var queue []uuid.UUID

	// markComplete records a completed match against its targets and
	// pushes the winner forward. A bye delivers no loser, so the loser
	// target only gains a completed feeder.
	markComplete := func(m *bracket.Match) {
		if m.WinnerNextMatchID != nil {
			target := byID[*m.WinnerNextMatchID]
			if m.Winner != nil {
				fillSlot(target, *m.Winner)
			}
			completedFeeders[target.ID]++
			queue = append(queue, target.ID)
		}
		if m.LoserNextMatchID != nil {
			target := byID[*m.LoserNextMatchID]
			completedFeeders[target.ID]++
			queue = append(queue, target.ID)
		}
	}

	for _, m := range all {
		if m.Status == bracket.MatchCompleted {
			markComplete(m)
		}
	}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		m := byID[id]
		if m.Status == bracket.MatchCompleted {
			continue
		}
		if m.PlayerCount() == 2 {
			if m.Status == bracket.MatchPending {
				m.Status = bracket.MatchReady
			}
			continue
		}
		if completedFeeders[id] < feederCount[id] {
			// A real feeder may still deliver a player.
			continue
		}

		m.Status = bracket.MatchCompleted
		m.IsBye = true
		m.CompletedAt = utils.Ptr(now)
		if sole := m.SolePlayer(); sole != nil {
			m.Winner = sole
		}
		markComplete(m)
	}
}

func fillSlot(m *bracket.Match, username string) {
	if m.Player1 == nil {
		m.Player1 = &username
	} else if m.Player2 == nil {
		m.Player2 = &username
	}
}

// AdvanceMatch completes a match with the given winner and propagates the
// result: the winner up its winner edge, the loser down to the losers
// bracket (counting the loss), elimination on a second loss, and the
// tournament itself when the grand final completes. Advancing an already
// completed match is rejected with a conflict, making the operation
// exactly-once under retries.
func (s *BracketService) AdvanceMatch(ctx context.Context, tx *sqlx.Tx, matchID uuid.UUID, winner string) error {
	match, err := s.store.GetMatchTx(ctx, tx, matchID.String())
	if err != nil {
		return fmt.Errorf("failed to get match: %w", err)
	}

	var queue []uuid.UUID
	if err := s.advance(ctx, tx, match, winner, false, &queue); err != nil {
		return err
	}
	return s.drainCascades(ctx, tx, &queue)
}

func (s *BracketService) advance(ctx context.Context, tx *sqlx.Tx, match *bracket.Match, winner string, asBye bool, queue *[]uuid.UUID) error {
	if match.Status == bracket.MatchCompleted {
		return fmt.Errorf("match %s already completed: %w", match.ID, bracket.ErrConflict)
	}
	if !match.HasPlayer(winner) {
		return fmt.Errorf("winner is not part of this match: %w", bracket.ErrValidation)
	}

	now := s.clock.Now()
	loser := match.Opponent(winner)

	match.Status = bracket.MatchCompleted
	match.Winner = &winner
	if asBye {
		match.IsBye = true
	}
	match.CompletedAt = &now
	if err := s.store.UpdateMatch(ctx, tx, match); err != nil {
		return fmt.Errorf("failed to update match: %w", err)
	}

	if match.WinnerNextMatchID != nil {
		if err := s.fillTargetSlot(ctx, tx, *match.WinnerNextMatchID, winner, queue); err != nil {
			return err
		}
	}

	if match.BracketSide == bracket.WinnersSide && loser != nil {
		if match.LoserNextMatchID != nil {
			if err := s.fillTargetSlot(ctx, tx, *match.LoserNextMatchID, *loser, queue); err != nil {
				return err
			}
			if err := s.store.IncrementLossCountTx(ctx, tx, match.TournamentID, *loser); err != nil {
				return fmt.Errorf("failed to count loss: %w", err)
			}
		} else {
			// Two-player bracket: no losers side to drop into.
			if err := s.store.EliminateParticipantTx(ctx, tx, match.TournamentID, *loser); err != nil {
				return fmt.Errorf("failed to eliminate participant: %w", err)
			}
		}
	}

	if (match.BracketSide == bracket.LosersSide || match.BracketSide == bracket.GrandFinal) && loser != nil {
		// A losers-side loss is the second one; the grand final ends the
		// run either way.
		if err := s.store.EliminateParticipantTx(ctx, tx, match.TournamentID, *loser); err != nil {
			return fmt.Errorf("failed to eliminate participant: %w", err)
		}
	}

	if match.BracketSide == bracket.GrandFinal {
		if err := s.store.CompleteTournamentTx(ctx, tx, match.TournamentID.String(), winner); err != nil {
			return fmt.Errorf("failed to complete tournament: %w", err)
		}
		s.notifier.Notify(tournamentRoom(match.TournamentID), "tournament_completed", map[string]any{
			"tournamentId": match.TournamentID,
			"winner":       winner,
		})
	}

	s.notifier.Notify(tournamentRoom(match.TournamentID), "match_completed", map[string]any{
		"matchId": match.ID,
		"winner":  winner,
	})
	return nil
}

// fillTargetSlot puts a player into the first open slot of an edge target
// and queues the target for cascade re-evaluation.
func (s *BracketService) fillTargetSlot(ctx context.Context, tx *sqlx.Tx, targetID uuid.UUID, username string, queue *[]uuid.UUID) error {
	target, err := s.store.GetMatchTx(ctx, tx, targetID.String())
	if err != nil {
		// An edge pointing at a missing match means the bracket itself is
		// corrupt; surface it rather than swallowing.
		return fmt.Errorf("bracket integrity fault: target match %s missing: %w", targetID, err)
	}

	fillSlot(target, username)
	if target.PlayerCount() == 2 && target.Status == bracket.MatchPending {
		target.Status = bracket.MatchReady
	}
	if err := s.store.UpdateMatch(ctx, tx, target); err != nil {
		return fmt.Errorf("failed to update target match: %w", err)
	}
	*queue = append(*queue, target.ID)
	return nil
}

// drainCascades re-checks queued matches: one whose feeders have all
// completed but which holds a single player auto-advances that player; one
// with no players at all completes empty and propagates forward. Depth is
// O(log participants) since edges only point to later rounds.
func (s *BracketService) drainCascades(ctx context.Context, tx *sqlx.Tx, queue *[]uuid.UUID) error {
	for len(*queue) > 0 {
		id := (*queue)[0]
		*queue = (*queue)[1:]

		match, err := s.store.GetMatchTx(ctx, tx, id.String())
		if err != nil {
			return fmt.Errorf("failed to get match: %w", err)
		}
		if match.Status == bracket.MatchCompleted || match.PlayerCount() == 2 {
			continue
		}

		feeders, err := s.store.GetFeederMatchesTx(ctx, tx, id)
		if err != nil {
			return fmt.Errorf("failed to get feeder matches: %w", err)
		}
		allDone := true
		for i := range feeders {
			if feeders[i].Status != bracket.MatchCompleted {
				allDone = false
				break
			}
		}
		if !allDone {
			continue
		}

		if sole := match.SolePlayer(); sole != nil {
			if err := s.advance(ctx, tx, match, *sole, true, queue); err != nil {
				return err
			}
			continue
		}

		// Both feeders delivered nothing: the match can never be played.
		now := s.clock.Now()
		match.Status = bracket.MatchCompleted
		match.IsBye = true
		match.CompletedAt = &now
		if err := s.store.UpdateMatch(ctx, tx, match); err != nil {
			return fmt.Errorf("failed to update match: %w", err)
		}
		if match.WinnerNextMatchID != nil {
			*queue = append(*queue, *match.WinnerNextMatchID)
		}
	}
	return nil
}

// BracketView groups matches by bracket side and round for pollers.
type BracketView struct {
	Winners    [][]BracketMatch `json:"winners"`
	Losers     [][]BracketMatch `json:"losers"`
	GrandFinal *BracketMatch    `json:"grandFinal"`
}

type BracketMatch struct {
	ID                 uuid.UUID           `json:"id"`
	Player1            *string             `json:"player1"`
	Player1DisplayName *string             `json:"player1DisplayName"`
	Player2            *string             `json:"player2"`
	Player2DisplayName *string             `json:"player2DisplayName"`
	Score1             *int                `json:"player1Score"`
	Score2             *int                `json:"player2Score"`
	Winner             *string             `json:"winner"`
	Status             bracket.MatchStatus `json:"status"`
	IsBye              bool                `json:"isBye"`
}

// GetBracket returns the committed bracket grouped into ordered winners
// rounds, losers rounds and the grand final.
func (s *BracketService) GetBracket(ctx context.Context, tournamentID string) (*BracketView, error) {
	matches, err := s.store.GetMatches(ctx, tournamentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get matches: %w", err)
	}

	names, err := s.displayNames(ctx, matches)
	if err != nil {
		return nil, err
	}

	view := &BracketView{Winners: [][]BracketMatch{}, Losers: [][]BracketMatch{}}
	for i := range matches {
		m := &matches[i]
		bm := BracketMatch{
			ID:                 m.ID,
			Player1:            m.Player1,
			Player1DisplayName: lookupName(names, m.Player1),
			Player2:            m.Player2,
			Player2DisplayName: lookupName(names, m.Player2),
			Score1:             m.Score1,
			Score2:             m.Score2,
			Winner:             m.Winner,
			Status:             m.Status,
			IsBye:              m.IsBye,
		}

		switch m.BracketSide {
		case bracket.WinnersSide:
			for len(view.Winners) < m.RoundNumber {
				view.Winners = append(view.Winners, []BracketMatch{})
			}
			view.Winners[m.RoundNumber-1] = append(view.Winners[m.RoundNumber-1], bm)
		case bracket.LosersSide:
			for len(view.Losers) < m.RoundNumber {
				view.Losers = append(view.Losers, []BracketMatch{})
			}
			view.Losers[m.RoundNumber-1] = append(view.Losers[m.RoundNumber-1], bm)
		case bracket.GrandFinal:
			gf := bm
			view.GrandFinal = &gf
		}
	}
	return view, nil
}

func (s *BracketService) displayNames(ctx context.Context, matches []bracket.Match) (map[string]string, error) {
	seen := map[string]bool{}
	var usernames []string
	for i := range matches {
		for _, p := range []*string{matches[i].Player1, matches[i].Player2} {
			if p != nil && !seen[*p] {
				seen[*p] = true
				usernames = append(usernames, *p)
			}
		}
	}
	if len(usernames) == 0 {
		return map[string]string{}, nil
	}
	return s.userStore.GetDisplayNames(ctx, usernames)
}

func lookupName(names map[string]string, username *string) *string {
	if username == nil {
		return nil
	}
	if name, ok := names[*username]; ok {
		return &name
	}
	return username
}

func tournamentRoom(id uuid.UUID) string {
	return "tournament:" + id.String()
}

func matchRoom(id uuid.UUID) string {
	return "match:" + id.String()
}

func challengeRoom(id uuid.UUID) string {
	return "challenge:" + id.String()
}
