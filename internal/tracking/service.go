package tracking

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"backend-fieldtrack/internal/geofence"
	"backend-fieldtrack/internal/position"
	"backend-fieldtrack/internal/session"
	"backend-fieldtrack/internal/shared/geo"
)

var ErrUnknownErrorCode = errors.New("unknown position error code")

// Service ties the HTTP surface to the per-user session registry and the
// persisted session store.
type Service struct {
	registry *session.Registry
	store    session.Store
	fences   session.FenceProvider
	log      zerolog.Logger
}

func NewService(registry *session.Registry, store session.Store, fences session.FenceProvider, log zerolog.Logger) *Service {
	return &Service{
		registry: registry,
		store:    store,
		fences:   fences,
		log:      log.With().Str("component", "tracking").Logger(),
	}
}

func (s *Service) Start(ctx context.Context, userID, companyID string, firstFix position.LocationSample) (session.Session, error) {
	return s.registry.Start(ctx, userID, companyID, firstFix)
}

// PushSample routes a device fix to its session. Only active, non-degraded
// sessions accept samples.
func (s *Service) PushSample(sessionID string, sample position.LocationSample) error {
	mgr, ok := s.registry.Manager(sessionID)
	if !ok {
		return session.ErrNoSession
	}
	sess, _, err := mgr.Snapshot()
	if err != nil {
		return err
	}
	if sess.Status != session.StatusActive || sess.Degraded {
		return session.ErrInvalidTransition
	}
	return s.registry.Push(sessionID, sample)
}

// ReportError translates a device-reported failure code into the position
// error the session loop reacts to.
func (s *Service) ReportError(sessionID, code string) error {
	var posErr error
	switch code {
	case "permission_denied":
		posErr = position.ErrPermissionDenied
	case "unavailable":
		posErr = position.ErrUnavailable
	case "timeout":
		posErr = position.ErrTimeout
	default:
		return ErrUnknownErrorCode
	}
	return s.registry.ReportPositionError(sessionID, posErr)
}

func (s *Service) Pause(ctx context.Context, sessionID string) error {
	mgr, ok := s.registry.Manager(sessionID)
	if !ok {
		return session.ErrNoSession
	}
	return mgr.Pause(ctx)
}

func (s *Service) Resume(ctx context.Context, sessionID string) error {
	mgr, ok := s.registry.Manager(sessionID)
	if !ok {
		return session.ErrNoSession
	}
	return mgr.Resume(ctx)
}

func (s *Service) End(ctx context.Context, sessionID string) (session.Session, error) {
	return s.registry.End(ctx, sessionID)
}

// Summary prefers the live manager; for ended sessions it rebuilds the
// summary from the store.
func (s *Service) Summary(ctx context.Context, sessionID string) (session.Summary, error) {
	if mgr, ok := s.registry.Manager(sessionID); ok {
		return mgr.Summary()
	}

	sess, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return session.Summary{}, err
	}
	sum := session.Summary{
		SessionID:   sess.ID,
		Status:      sess.Status,
		Degraded:    sess.Degraded,
		DistanceM:   sess.CumulativeDistanceM,
		SampleCount: sess.SampleCount,
		Cadence:     sess.Cadence,
		Fences:      map[string]geofence.Membership{},
	}
	end := sess.EndedAt
	if end.IsZero() {
		end = time.Now()
	}
	sum.DurationSec = int64(end.Sub(sess.StartedAt).Seconds())
	if sum.DurationSec > 0 {
		sum.AverageSpeedMps = sum.DistanceM / float64(sum.DurationSec)
	}
	return sum, nil
}

func (s *Service) Samples(ctx context.Context, sessionID string) ([]position.LocationSample, error) {
	return s.store.Samples(ctx, sessionID)
}

// FenceCheck is one fence's classification of a validated coordinate.
type FenceCheck struct {
	FenceID   string  `json:"fence_id"`
	Label     string  `json:"label"`
	Inside    bool    `json:"inside"`
	DistanceM float64 `json:"distance_m"`
}

// ValidateCoordinate classifies a coordinate against every fence of the
// company. The boundary counts as inside.
func (s *Service) ValidateCoordinate(ctx context.Context, companyID string, lat, lng float64) ([]FenceCheck, error) {
	fences, err := s.fences.Fences(ctx, companyID)
	if err != nil {
		return nil, err
	}
	checks := make([]FenceCheck, 0, len(fences))
	for _, f := range fences {
		dist := geo.HaversineMeters(lat, lng, f.CenterLat, f.CenterLng)
		checks = append(checks, FenceCheck{
			FenceID:   f.ID,
			Label:     f.Label,
			Inside:    dist <= f.RadiusM,
			DistanceM: dist,
		})
	}
	return checks, nil
}
