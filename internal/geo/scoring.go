// Package geo holds the pure scoring math: great-circle distance and the
// point formulas for the untimed (daily) and timed (versus/tournament)
// modes, plus the difficulty pacing table for tournament rounds.
package geo

import "math"

const earthRadiusMeters = 6371000.0

// Distance caps after which a guess earns nothing extra.
const (
	untimedMaxDistance = 110.0
	timedMaxDistance   = 110.0
	timedMaxSeconds    = 120.0
)

func toRadians(degrees float64) float64 {
	return degrees * (math.Pi / 180)
}

// Distance returns the haversine distance between two points in meters.
func Distance(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := toRadians(lat2 - lat1)
	dLng := toRadians(lng2 - lng1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRadians(lat1))*math.Cos(toRadians(lat2))*
			math.Sin(dLng/2)*math.Sin(dLng/2)

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusMeters * c
}

// UntimedPoints scores a daily-mode guess. Near-field guesses earn flat
// tier bonuses; beyond that the score decays linearly to zero at
// untimedMaxDistance.
func UntimedPoints(distanceMeters float64) int {
	switch {
	case distanceMeters < 3:
		return 1500
	case distanceMeters < 6:
		return 1250
	case distanceMeters < 10:
		return 1000
	}
	pts := (1 - distanceMeters/untimedMaxDistance) * 1000
	if pts < 0 {
		return 0
	}
	return int(math.Floor(pts))
}

// TimedPoints scores a versus/tournament-mode guess. A near-perfect guess
// made quickly earns the full bonus; otherwise distance dominates the
// score with a minor time component, each decaying linearly to zero at
// its cap.
func TimedPoints(distanceMeters, elapsedSeconds float64) int {
	if distanceMeters < 10 && elapsedSeconds < 10 {
		return 1000
	}
	distancePoints := math.Max(0, 1-distanceMeters/timedMaxDistance) * 900
	timePoints := math.Max(0, 1-elapsedSeconds/timedMaxSeconds) * 100
	pts := math.Floor(distancePoints + timePoints)
	if pts < 0 {
		return 0
	}
	return int(pts)
}
