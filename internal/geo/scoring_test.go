package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDistance(t *testing.T) {
	// Same point
	assert.Equal(t, 0.0, Distance(48.8584, 2.2945, 48.8584, 2.2945))

	// Eiffel Tower to Notre-Dame is roughly 4.1km
	d := Distance(48.8584, 2.2945, 48.8530, 2.3499)
	assert.InDelta(t, 4100, d, 100)

	// One degree of latitude is roughly 111km
	d = Distance(0, 0, 1, 0)
	assert.InDelta(t, 111195, d, 100)
}

func TestUntimedPoints(t *testing.T) {
	testCases := []struct {
		name     string
		distance float64
		expected int
	}{
		{"perfect guess", 0, 1500},
		{"under 3m", 2.9, 1500},
		{"under 6m", 5.0, 1250},
		{"under 10m", 9.9, 1000},
		{"at 10m falls to linear decay", 10, 909},
		{"mid range", 55, 500},
		{"at the cap", 110, 0},
		{"beyond the cap", 500, 0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, UntimedPoints(tc.distance))
		})
	}
}

func TestTimedPoints(t *testing.T) {
	testCases := []struct {
		name     string
		distance float64
		elapsed  float64
		expected int
	}{
		{"fast and close earns full bonus", 5, 5, 1000},
		{"close but slow misses the bonus", 5, 60, 909},
		{"fast but far misses the bonus", 50, 5, 586},
		{"distance cap with instant answer", 110, 0, 100},
		{"everything capped", 200, 200, 0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, TimedPoints(tc.distance, tc.elapsed))
		})
	}
}

func TestTimedPointsMonotonicInDistance(t *testing.T) {
	prev := TimedPoints(10, 30)
	for d := 15.0; d <= 130; d += 5 {
		pts := TimedPoints(d, 30)
		assert.LessOrEqual(t, pts, prev, "points must not grow with distance (d=%v)", d)
		prev = pts
	}
}

func TestPacingMixCounts(t *testing.T) {
	for _, total := range []int{1, 2, 3, 4} {
		for round := 1; round <= total; round++ {
			mix := PacingMix(round, total)
			easy, medium, hard := mix.Counts(5)
			assert.Equal(t, 5, easy+medium+hard, "round %d of %d", round, total)
		}
	}

	// Early rounds lean easy, late rounds lean hard.
	early := PacingMix(1, 4)
	late := PacingMix(4, 4)
	assert.Greater(t, early.Easy, late.Easy)
	assert.Greater(t, late.Hard, early.Hard)

	easy, medium, hard := GrandFinalMix.Counts(5)
	assert.Equal(t, 0, easy)
	assert.Equal(t, 0, medium)
	assert.Equal(t, 5, hard)
}
