package cadence

import "time"

type ProfileName string

const (
	Conservative ProfileName = "conservative"
	Balanced     ProfileName = "balanced"
	Precise      ProfileName = "precise"
)

// Profile controls how often and how precisely position is sampled.
type Profile struct {
	Name         ProfileName
	MinInterval  time.Duration
	MaxStale     time.Duration
	HighAccuracy bool
}

// Speed thresholds: ~5 km/h separates walking from riding, ~30 km/h marks
// vehicle speed.
const (
	balancedSpeedMps = 1.39
	preciseSpeedMps  = 8.33
)

var profiles = map[ProfileName]Profile{
	Conservative: {Name: Conservative, MinInterval: 30 * time.Second, MaxStale: 60 * time.Second, HighAccuracy: false},
	Balanced:     {Name: Balanced, MinInterval: 10 * time.Second, MaxStale: 30 * time.Second, HighAccuracy: true},
	Precise:      {Name: Precise, MinInterval: 3 * time.Second, MaxStale: 10 * time.Second, HighAccuracy: true},
}

func ProfileFor(name ProfileName) Profile {
	p, ok := profiles[name]
	if !ok {
		return profiles[Conservative]
	}
	return p
}

// Controller picks the sampling profile from observed speed. It is purely
// advisory: it never emits events, the sampling loop acts on its output.
type Controller struct {
	dwell     int
	current   ProfileName
	candidate ProfileName
	streak    int
}

// NewController returns a controller starting in the conservative profile.
// dwell is the number of consecutive agreeing samples required before a
// switch is applied; values below 1 are treated as 1 (single-sample
// switching, the observed reference behavior).
func NewController(dwell int) *Controller {
	if dwell < 1 {
		dwell = 1
	}
	return &Controller{dwell: dwell, current: Conservative}
}

// Select classifies the given speed and returns the profile to sample with.
// Boundary values resolve to the slower profile: Select(1.39) is
// conservative, Select(8.33) is balanced.
func (c *Controller) Select(speedMps float64) Profile {
	want := classify(speedMps)
	if want == c.current {
		c.candidate = want
		c.streak = 0
		return profiles[c.current]
	}

	if want == c.candidate {
		c.streak++
	} else {
		c.candidate = want
		c.streak = 1
	}
	if c.streak >= c.dwell {
		c.current = want
		c.streak = 0
	}
	return profiles[c.current]
}

// Current returns the active profile without feeding a sample.
func (c *Controller) Current() Profile {
	return profiles[c.current]
}

// Reset restores the controller to a known profile, used when resuming a
// reconciled session.
func (c *Controller) Reset(name ProfileName) {
	if _, ok := profiles[name]; !ok {
		name = Conservative
	}
	c.current = name
	c.candidate = name
	c.streak = 0
}

func classify(speedMps float64) ProfileName {
	switch {
	case speedMps > preciseSpeedMps:
		return Precise
	case speedMps > balancedSpeedMps:
		return Balanced
	default:
		return Conservative
	}
}
