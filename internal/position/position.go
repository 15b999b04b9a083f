package position

import (
	"context"
	"errors"
	"fmt"
	"time"

	"backend-fieldtrack/internal/cadence"
)

// Failure taxonomy for the device position capability.
var (
	ErrPermissionDenied = errors.New("position: permission denied")
	ErrUnavailable      = errors.New("position: unavailable")
	ErrTimeout          = errors.New("position: timeout")
	ErrInvalidSample    = errors.New("position: invalid sample")
)

// LocationSample is a single reported device position. Immutable once
// produced.
type LocationSample struct {
	Timestamp  time.Time `json:"timestamp"`
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	AccuracyM  float64   `json:"accuracy_m"`
	SpeedMps   float64   `json:"speed_mps,omitempty"`
	HeadingDeg float64   `json:"heading_deg,omitempty"`
	AltitudeM  float64   `json:"altitude_m,omitempty"`
}

func (s LocationSample) Validate() error {
	if s.Lat < -90 || s.Lat > 90 {
		return fmt.Errorf("%w: latitude %v out of range", ErrInvalidSample, s.Lat)
	}
	if s.Lng < -180 || s.Lng > 180 {
		return fmt.Errorf("%w: longitude %v out of range", ErrInvalidSample, s.Lng)
	}
	if s.AccuracyM < 0 {
		return fmt.Errorf("%w: accuracy %v must be >= 0", ErrInvalidSample, s.AccuracyM)
	}
	if s.Timestamp.IsZero() {
		return fmt.Errorf("%w: timestamp required", ErrInvalidSample)
	}
	return nil
}

// Fix is one delivery on a continuous subscription: either a sample or a
// position error.
type Fix struct {
	Sample LocationSample
	Err    error
}

// Source abstracts the device position capability.
//
// Subscribe delivers fixes no faster than profile.MinInterval; the channel
// closes when ctx is cancelled. GetOnce may serve a cached fix no older than
// the source's staleness bound and otherwise waits up to timeout.
type Source interface {
	Subscribe(ctx context.Context, profile cadence.Profile) (<-chan Fix, error)
	GetOnce(ctx context.Context, timeout time.Duration) (LocationSample, error)
}
