package geofence

import (
	"time"

	"backend-fieldtrack/internal/position"
	"backend-fieldtrack/internal/shared/geo"
)

// Fence is a circular region: the office fence or a per-dealer fence.
// Reference data, fetched once per session start.
type Fence struct {
	ID        string  `json:"id"`
	CenterLat float64 `json:"center_lat"`
	CenterLng float64 `json:"center_lng"`
	RadiusM   float64 `json:"radius_m"`
	Label     string  `json:"label"`
}

// Contains reports whether the point is inside the fence. The boundary
// counts as inside.
func (f Fence) Contains(lat, lng float64) bool {
	return geo.HaversineMeters(lat, lng, f.CenterLat, f.CenterLng) <= f.RadiusM
}

// Membership is the per-(session, fence) hysteresis state. Seeded is false
// until the first evaluation establishes the baseline.
type Membership struct {
	Inside           bool      `json:"inside"`
	LastTransitionAt time.Time `json:"last_transition_at"`
	AgreeingSamples  int       `json:"agreeing_samples"`
	Seeded           bool      `json:"seeded"`
}

// Transition is a fence boundary crossing detected by Evaluate.
type Transition struct {
	FenceID    string
	FenceLabel string
	Entered    bool
	At         time.Time
	DistanceM  float64
}

// Evaluate classifies the sample against every fence and updates membership
// in place. The first evaluation for a fence seeds its baseline without a
// transition; after that, exactly one transition is produced per state
// change, repeated inside/inside or outside/outside samples produce none.
func Evaluate(sample position.LocationSample, fences []Fence, memberships map[string]*Membership) []Transition {
	var transitions []Transition
	for _, fence := range fences {
		dist := geo.HaversineMeters(sample.Lat, sample.Lng, fence.CenterLat, fence.CenterLng)
		inside := dist <= fence.RadiusM

		m, ok := memberships[fence.ID]
		if !ok {
			m = &Membership{}
			memberships[fence.ID] = m
		}

		if !m.Seeded {
			m.Seeded = true
			m.Inside = inside
			m.AgreeingSamples = 1
			continue
		}

		if inside == m.Inside {
			m.AgreeingSamples++
			continue
		}

		m.Inside = inside
		m.LastTransitionAt = sample.Timestamp
		m.AgreeingSamples = 1
		transitions = append(transitions, Transition{
			FenceID:    fence.ID,
			FenceLabel: fence.Label,
			Entered:    inside,
			At:         sample.Timestamp,
			DistanceM:  dist,
		})
	}
	return transitions
}
