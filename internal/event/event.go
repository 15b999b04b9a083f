package event

import (
	"time"

	"github.com/google/uuid"

	"backend-fieldtrack/internal/position"
)

type Kind string

const (
	SessionStarted  Kind = "session_started"
	SampleRecorded  Kind = "sample_recorded"
	GeofenceEntered Kind = "geofence_entered"
	GeofenceExited  Kind = "geofence_exited"
	SessionEnded    Kind = "session_ended"
)

// SessionEvent is one append-only record of session activity. The ID is
// stable so the backend can ignore redeliveries after a retry.
type SessionEvent struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	UserID     string    `json:"user_id"`
	Kind       Kind      `json:"kind"`
	OccurredAt time.Time `json:"occurred_at"`

	// Coordinates are never omitted: 0 is a legitimate latitude or
	// longitude (equator, prime meridian).
	Lat        float64 `json:"lat"`
	Lng        float64 `json:"lng"`
	AccuracyM  float64 `json:"accuracy_m,omitempty"`
	SpeedMps   float64 `json:"speed_mps,omitempty"`
	HeadingDeg float64 `json:"heading_deg,omitempty"`

	FenceID    string `json:"fence_id,omitempty"`
	FenceLabel string `json:"fence_label,omitempty"`
	Address    string `json:"address,omitempty"`

	DistanceM   float64 `json:"distance_m,omitempty"`
	DurationSec int64   `json:"duration_sec,omitempty"`
}

func newEvent(kind Kind, sessionID, userID string, at time.Time) SessionEvent {
	return SessionEvent{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		UserID:     userID,
		Kind:       kind,
		OccurredAt: at,
	}
}

func NewSessionStarted(sessionID, userID string, s position.LocationSample) SessionEvent {
	ev := newEvent(SessionStarted, sessionID, userID, s.Timestamp)
	ev.Lat, ev.Lng, ev.AccuracyM = s.Lat, s.Lng, s.AccuracyM
	return ev
}

func NewSampleRecorded(sessionID, userID string, s position.LocationSample, totalM float64) SessionEvent {
	ev := newEvent(SampleRecorded, sessionID, userID, s.Timestamp)
	ev.Lat, ev.Lng, ev.AccuracyM = s.Lat, s.Lng, s.AccuracyM
	ev.SpeedMps = s.SpeedMps
	ev.HeadingDeg = s.HeadingDeg
	ev.DistanceM = totalM
	return ev
}

func NewGeofenceTransition(sessionID, userID string, entered bool, fenceID, fenceLabel, address string, s position.LocationSample) SessionEvent {
	kind := GeofenceExited
	if entered {
		kind = GeofenceEntered
	}
	ev := newEvent(kind, sessionID, userID, s.Timestamp)
	ev.Lat, ev.Lng = s.Lat, s.Lng
	ev.FenceID = fenceID
	ev.FenceLabel = fenceLabel
	ev.Address = address
	return ev
}

func NewSessionEnded(sessionID, userID string, at time.Time, totalM float64, duration time.Duration) SessionEvent {
	ev := newEvent(SessionEnded, sessionID, userID, at)
	ev.DistanceM = totalM
	ev.DurationSec = int64(duration.Seconds())
	return ev
}
