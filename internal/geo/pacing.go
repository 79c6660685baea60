package geo

import "math"

// Mix is the share of easy/medium/hard targets for a round. Shares sum
// to 1.
type Mix struct {
	Easy   float64
	Medium float64
	Hard   float64
}

// GrandFinalMix is all hardest-tier.
var GrandFinalMix = Mix{Easy: 0, Medium: 0, Hard: 1}

// PacingMix keys a difficulty mix off the quartile of progress through a
// bracket, where progress is roundNumber/totalRounds in (0, 1]. Early
// rounds lean easy; the mix hardens as the bracket converges.
func PacingMix(roundNumber, totalRounds int) Mix {
	if totalRounds <= 0 {
		return Mix{Easy: 1.0 / 3, Medium: 1.0 / 3, Hard: 1.0 / 3}
	}
	progress := float64(roundNumber) / float64(totalRounds)
	switch {
	case progress <= 0.25:
		return Mix{Easy: 0.6, Medium: 0.3, Hard: 0.1}
	case progress <= 0.5:
		return Mix{Easy: 0.4, Medium: 0.4, Hard: 0.2}
	case progress <= 0.75:
		return Mix{Easy: 0.2, Medium: 0.5, Hard: 0.3}
	default:
		return Mix{Easy: 0.1, Medium: 0.4, Hard: 0.5}
	}
}

// Counts splits n rounds across the tiers, rounding down and giving any
// remainder to the hardest tier so totals always equal n.
func (m Mix) Counts(n int) (easy, medium, hard int) {
	if n <= 0 {
		return 0, 0, 0
	}
	easy = int(math.Floor(m.Easy * float64(n)))
	medium = int(math.Floor(m.Medium * float64(n)))
	hard = n - easy - medium
	return easy, medium, hard
}
