package session

import (
	"backend-fieldtrack/internal/position"
	"backend-fieldtrack/internal/shared/geo"
)

// DistanceAccumulator turns consecutive samples into cumulative travelled
// distance. Every delta is counted, including ones inside the combined
// accuracy radii of the two fixes; filtering jitter would change observable
// totals (see DESIGN.md).
type DistanceAccumulator struct {
	last  *position.LocationSample
	total float64
}

// Add returns the meters added by this sample. The first sample of a
// session adds 0 and seeds the baseline. The running total never decreases.
func (a *DistanceAccumulator) Add(s position.LocationSample) float64 {
	if a.last == nil {
		a.last = &s
		return 0
	}
	delta := geo.HaversineMeters(a.last.Lat, a.last.Lng, s.Lat, s.Lng)
	a.total += delta
	a.last = &s
	return delta
}

func (a *DistanceAccumulator) Total() float64 {
	return a.total
}

// Resume restores accumulator state from a persisted session so a
// reconciled session continues its total instead of restarting at zero.
func (a *DistanceAccumulator) Resume(total float64, last *position.LocationSample) {
	a.total = total
	a.last = last
}
