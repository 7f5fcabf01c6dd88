// Package matcher identifies a probe feature vector against the
// enrolled template set.
package matcher

import (
	"errors"
	"math"

	"github.com/mkhumalo/drivelock/internal/models"
)

var (
	// ErrNoMatch is returned when no enrolled driver falls within the
	// recognition threshold.
	ErrNoMatch = errors.New("matcher: no match")
	// ErrAmbiguous is returned when two distinct drivers are within
	// floating-point epsilon of the best distance. Ambiguity never
	// silently grants access.
	ErrAmbiguous = errors.New("matcher: ambiguous match")
)

// epsilon bounds the distance gap below which two candidates are
// considered indistinguishable.
const epsilon = 1e-9

// Identify compares probe against every driver's stored vectors.
// Multi-sample enrollment means the minimum distance over a driver's
// templates represents that driver. The closest driver is accepted
// only when its distance is at or below threshold.
func Identify(probe []float64, templates map[string][]models.FaceTemplate, threshold float64) (models.MatchResult, error) {
	best := models.MatchResult{Distance: math.Inf(1)}
	runnerUp := math.Inf(1)

	for driverID, set := range templates {
		d := math.Inf(1)
		for _, t := range set {
			if len(t.Vector) != len(probe) {
				continue
			}
			if dist := euclidean(probe, t.Vector); dist < d {
				d = dist
			}
		}
		if math.IsInf(d, 1) {
			continue
		}
		switch {
		case d < best.Distance:
			runnerUp = best.Distance
			best = models.MatchResult{DriverID: driverID, Distance: d}
		case d < runnerUp:
			runnerUp = d
		}
	}

	if math.IsInf(best.Distance, 1) || best.Distance > threshold {
		return models.MatchResult{}, ErrNoMatch
	}
	if runnerUp-best.Distance < epsilon {
		return models.MatchResult{}, ErrAmbiguous
	}
	best.Score = Score(best.Distance)
	return best, nil
}

// Score converts a distance to a normalized similarity in [0,1].
func Score(distance float64) float64 {
	s := 1 - distance
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

func euclidean(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}
