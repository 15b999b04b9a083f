package session

import (
	"time"

	"backend-fieldtrack/internal/cadence"
	"backend-fieldtrack/internal/geofence"
	"backend-fieldtrack/internal/position"
)

type Status string

const (
	StatusActive Status = "active"
	StatusPaused Status = "paused"
	StatusEnded  Status = "ended"
)

// Session is the per-user journey being tracked. Owned exclusively by one
// Manager; mutated only through its state-machine transitions.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	CompanyID string    `json:"company_id"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at,omitempty"`
	Status    Status    `json:"status"`

	// Degraded means position permission was lost while active: the session
	// survives but accepts no samples until resumed.
	Degraded bool `json:"degraded"`

	LastSample          *position.LocationSample `json:"last_sample,omitempty"`
	CumulativeDistanceM float64                  `json:"cumulative_distance_m"`
	SampleCount         int                      `json:"sample_count"`
	Cadence             cadence.ProfileName      `json:"cadence"`
}

type Summary struct {
	SessionID       string                         `json:"session_id"`
	Status          Status                         `json:"status"`
	Degraded        bool                           `json:"degraded"`
	DistanceM       float64                        `json:"distance_m"`
	DurationSec     int64                          `json:"duration_sec"`
	SampleCount     int                            `json:"sample_count"`
	AverageSpeedMps float64                        `json:"average_speed_mps"`
	Cadence         cadence.ProfileName            `json:"cadence"`
	Fences          map[string]geofence.Membership `json:"fences"`
}
