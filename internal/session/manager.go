package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"backend-fieldtrack/internal/cadence"
	"backend-fieldtrack/internal/event"
	"backend-fieldtrack/internal/geofence"
	"backend-fieldtrack/internal/position"
	"backend-fieldtrack/internal/power"
	"backend-fieldtrack/internal/shared/geo"
)

var (
	ErrSessionActive     = errors.New("session: user already has an active session")
	ErrNoSession         = errors.New("session: no session")
	ErrInvalidTransition = errors.New("session: invalid state transition")
)

// EventSink receives emitted session events; the offline buffer implements
// it.
type EventSink interface {
	Append(ev event.SessionEvent) error
}

// Broadcaster fans events out to live subscribers. Optional.
type Broadcaster interface {
	BroadcastEvent(ev event.SessionEvent)
}

// FenceProvider resolves the geofence set for a company, once per session
// start.
type FenceProvider interface {
	Fences(ctx context.Context, companyID string) ([]geofence.Fence, error)
}

// AddressResolver resolves a coordinate to a display address, best effort.
type AddressResolver interface {
	ReverseAddress(ctx context.Context, lat, lng float64) string
}

const (
	getOnceTimeout = 15 * time.Second
	persistTimeout = 5 * time.Second
	resolveTimeout = 2 * time.Second
)

type Deps struct {
	Store    Store
	Events   EventSink
	Live     Broadcaster
	Source   position.Source
	Locker   power.Locker
	Fences   FenceProvider
	Resolver AddressResolver
	Dwell    int
	Log      zerolog.Logger
}

// Manager owns one user's tracking session and drives the sampling loop.
// The session, accumulator and membership map are mutated only under mu, by
// the state-machine transitions below and by the subscription loop.
type Manager struct {
	deps       Deps
	controller *cadence.Controller
	log        zerolog.Logger

	mu          sync.Mutex
	sess        *Session
	acc         DistanceAccumulator
	fences      []geofence.Fence
	memberships map[string]*geofence.Membership
	profile     cadence.Profile
	lock        power.Handle
	subCancel   context.CancelFunc
	// gen is bumped whenever the subscription is cancelled or replaced;
	// the loop re-checks it before applying a fix, which closes the race
	// between requesting cancellation and the feed actually stopping.
	gen uint64
}

func NewManager(deps Deps) *Manager {
	if deps.Locker == nil {
		deps.Locker = power.NoopLocker{}
	}
	ctrl := cadence.NewController(deps.Dwell)
	return &Manager{
		deps:        deps,
		controller:  ctrl,
		log:         deps.Log.With().Str("component", "session").Logger(),
		memberships: map[string]*geofence.Membership{},
		profile:     ctrl.Current(),
	}
}

// Start transitions Idle -> Active: one successful fix, fences fetched
// once, SessionStarted emitted, continuous sampling begins.
func (m *Manager) Start(ctx context.Context, userID, companyID string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sess != nil && m.sess.Status != StatusEnded {
		return Session{}, ErrSessionActive
	}

	fix, err := position.GetOnceWithRetry(ctx, m.deps.Source, m.profile, getOnceTimeout)
	if err != nil {
		return Session{}, fmt.Errorf("initial fix: %w", err)
	}

	fences := m.fetchFences(ctx, companyID)

	sess := &Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		CompanyID: companyID,
		StartedAt: time.Now(),
		Status:    StatusActive,
		Cadence:   m.profile.Name,
	}
	if err := m.deps.Store.Create(ctx, sess); err != nil {
		return Session{}, fmt.Errorf("create session: %w", err)
	}

	lock, err := m.deps.Locker.Acquire(ctx)
	if err != nil {
		m.log.Warn().Err(err).Msg("wake lock unavailable")
		lock = nil
	}

	m.sess = sess
	m.fences = fences
	m.memberships = map[string]*geofence.Membership{}
	m.lock = lock
	m.acc = DistanceAccumulator{}

	// The starting fix seeds the accumulator and the fence baseline; no
	// transition events are produced here.
	m.acc.Add(fix)
	geofence.Evaluate(fix, m.fences, m.memberships)
	sess.LastSample = &fix
	sess.SampleCount = 1

	m.emit(event.NewSessionStarted(sess.ID, sess.UserID, fix))
	m.persistSample(sess.ID, fix, m.acc.Total(), sess.SampleCount, m.profile.Name)
	m.subscribeLocked(m.profile)

	m.log.Info().Str("session_id", sess.ID).Str("user_id", userID).Msg("session started")
	return *sess, nil
}

// Adopt resumes a persisted non-ended session found at startup. The device
// feed cannot be assumed alive across a restart, so the session re-enters
// Paused and waits for an explicit resume.
func (m *Manager) Adopt(ctx context.Context, sess Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sess != nil {
		return ErrSessionActive
	}

	sess.Status = StatusPaused
	sess.Degraded = false
	if err := m.deps.Store.SetStatus(ctx, sess.ID, StatusPaused, false); err != nil {
		return fmt.Errorf("reconcile session %s: %w", sess.ID, err)
	}

	fences := m.fetchFences(ctx, sess.CompanyID)

	m.sess = &sess
	m.fences = fences
	m.memberships = map[string]*geofence.Membership{}
	m.acc = DistanceAccumulator{}
	m.acc.Resume(sess.CumulativeDistanceM, sess.LastSample)
	m.controller.Reset(sess.Cadence)
	m.profile = m.controller.Current()
	if sess.LastSample != nil {
		geofence.Evaluate(*sess.LastSample, m.fences, m.memberships)
	}

	m.log.Info().Str("session_id", sess.ID).Msg("session reconciled as paused")
	return nil
}

// Pause cancels the subscription and freezes counters. Samples already in
// flight when cancellation is requested are discarded, not applied.
func (m *Manager) Pause(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sess == nil {
		return ErrNoSession
	}
	if m.sess.Status != StatusActive {
		return fmt.Errorf("%w: pause from %s", ErrInvalidTransition, m.sess.Status)
	}

	m.cancelSubLocked()
	m.sess.Status = StatusPaused
	m.releaseLockLocked()
	if err := m.deps.Store.SetStatus(ctx, m.sess.ID, StatusPaused, m.sess.Degraded); err != nil {
		return err
	}
	m.log.Info().Str("session_id", m.sess.ID).Msg("session paused")
	return nil
}

// Resume re-subscribes at the last-known cadence profile. It also recovers
// a degraded active session once permission is restored.
func (m *Manager) Resume(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sess == nil {
		return ErrNoSession
	}
	paused := m.sess.Status == StatusPaused
	degraded := m.sess.Status == StatusActive && m.sess.Degraded
	if !paused && !degraded {
		return fmt.Errorf("%w: resume from %s", ErrInvalidTransition, m.sess.Status)
	}

	if m.lock == nil {
		lock, err := m.deps.Locker.Acquire(ctx)
		if err != nil {
			m.log.Warn().Err(err).Msg("wake lock unavailable")
		} else {
			m.lock = lock
		}
	}

	m.sess.Status = StatusActive
	m.sess.Degraded = false
	if err := m.deps.Store.SetStatus(ctx, m.sess.ID, StatusActive, false); err != nil {
		m.releaseLockLocked()
		return err
	}
	m.subscribeLocked(m.profile)
	m.log.Info().Str("session_id", m.sess.ID).Msg("session resumed")
	return nil
}

// End is terminal: subscription cancelled, SessionEnded emitted with the
// final distance and duration, session archived.
func (m *Manager) End(ctx context.Context) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sess == nil {
		return Session{}, ErrNoSession
	}
	if m.sess.Status == StatusEnded {
		return Session{}, fmt.Errorf("%w: end from %s", ErrInvalidTransition, m.sess.Status)
	}

	m.cancelSubLocked()
	now := time.Now()
	m.sess.Status = StatusEnded
	m.sess.EndedAt = now

	m.emit(event.NewSessionEnded(m.sess.ID, m.sess.UserID, now, m.acc.Total(), now.Sub(m.sess.StartedAt)))
	if err := m.deps.Store.End(ctx, m.sess.ID, now, m.acc.Total()); err != nil {
		m.log.Error().Err(err).Str("session_id", m.sess.ID).Msg("persist session end")
	}
	m.releaseLockLocked()

	m.log.Info().
		Str("session_id", m.sess.ID).
		Float64("distance_m", m.acc.Total()).
		Msg("session ended")
	return *m.sess, nil
}

// Snapshot returns copies of the session and fence membership state.
func (m *Manager) Snapshot() (Session, map[string]geofence.Membership, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sess == nil {
		return Session{}, nil, ErrNoSession
	}
	fences := make(map[string]geofence.Membership, len(m.memberships))
	for id, ms := range m.memberships {
		fences[id] = *ms
	}
	return *m.sess, fences, nil
}

func (m *Manager) Summary() (Summary, error) {
	sess, fences, err := m.Snapshot()
	if err != nil {
		return Summary{}, err
	}
	duration := time.Since(sess.StartedAt)
	if !sess.EndedAt.IsZero() {
		duration = sess.EndedAt.Sub(sess.StartedAt)
	}
	avg := 0.0
	if duration.Seconds() > 0 {
		avg = sess.CumulativeDistanceM / duration.Seconds()
	}
	return Summary{
		SessionID:       sess.ID,
		Status:          sess.Status,
		Degraded:        sess.Degraded,
		DistanceM:       sess.CumulativeDistanceM,
		DurationSec:     int64(duration.Seconds()),
		SampleCount:     sess.SampleCount,
		AverageSpeedMps: avg,
		Cadence:         sess.Cadence,
		Fences:          fences,
	}, nil
}

// subscribeLocked starts a subscription at the given profile and its
// consuming loop. Callers hold mu.
func (m *Manager) subscribeLocked(profile cadence.Profile) {
	m.gen++
	myGen := m.gen
	ctx, cancel := context.WithCancel(context.Background())
	m.subCancel = cancel
	m.profile = profile

	ch, err := m.deps.Source.Subscribe(ctx, profile)
	if err != nil {
		m.log.Error().Err(err).Msg("subscribe failed")
		cancel()
		return
	}
	go m.loop(ch, myGen)
}

// cancelSubLocked invalidates the current subscription before it is
// consumed further: the generation bump makes any still-buffered fix a
// no-op.
func (m *Manager) cancelSubLocked() {
	m.gen++
	if m.subCancel != nil {
		m.subCancel()
		m.subCancel = nil
	}
}

func (m *Manager) loop(ch <-chan position.Fix, myGen uint64) {
	for fx := range ch {
		if fx.Err != nil {
			m.handleError(fx.Err, myGen)
			continue
		}
		m.handleSample(fx.Sample, myGen)
	}
}

// handleSample runs the evaluation pipeline: accumulate, evaluate,
// recadence. Samples are applied strictly in arrival order; the next sample
// is not read until this one's side effects completed. The locked section
// is pure computation: store writes and geocoding run after the mutex is
// released so a slow collaborator cannot stall control calls.
func (m *Manager) handleSample(s position.LocationSample, myGen uint64) {
	m.mu.Lock()

	if m.gen != myGen || m.sess == nil || m.sess.Status != StatusActive || m.sess.Degraded {
		m.mu.Unlock()
		return
	}

	last := m.sess.LastSample
	if last != nil && !s.Timestamp.After(last.Timestamp) {
		m.mu.Unlock()
		m.log.Debug().Time("ts", s.Timestamp).Msg("out-of-order sample dropped")
		return
	}

	if last != nil {
		moved := geo.HaversineMeters(last.Lat, last.Lng, s.Lat, s.Lng)
		if s.SpeedMps == 0 {
			if dt := s.Timestamp.Sub(last.Timestamp).Seconds(); dt > 0 {
				s.SpeedMps = moved / dt
			}
		}
		if s.HeadingDeg == 0 && moved > 0 {
			s.HeadingDeg = geo.BearingDegrees(last.Lat, last.Lng, s.Lat, s.Lng)
		}
	}

	m.acc.Add(s)
	m.sess.CumulativeDistanceM = m.acc.Total()
	m.sess.SampleCount++
	m.sess.LastSample = &s

	sessionID := m.sess.ID
	userID := m.sess.UserID
	total := m.acc.Total()
	count := m.sess.SampleCount
	transitions := geofence.Evaluate(s, m.fences, m.memberships)

	profile := m.controller.Select(s.SpeedMps)
	if profile.Name != m.profile.Name {
		// Reconfiguration, not a state transition: replace the
		// subscription with one at the new profile.
		m.log.Info().
			Str("session_id", sessionID).
			Str("from", string(m.profile.Name)).
			Str("to", string(profile.Name)).
			Msg("cadence profile changed")
		m.sess.Cadence = profile.Name
		m.cancelSubLocked()
		m.subscribeLocked(profile)
	}
	profileName := m.profile.Name
	m.mu.Unlock()

	m.emit(event.NewSampleRecorded(sessionID, userID, s, total))
	for _, tr := range transitions {
		m.emit(event.NewGeofenceTransition(
			sessionID, userID, tr.Entered, tr.FenceID, tr.FenceLabel, m.resolveAddress(s), s))
	}
	m.persistSample(sessionID, s, total, count, profileName)
}

func (m *Manager) handleError(err error, myGen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.gen != myGen || m.sess == nil || m.sess.Status != StatusActive {
		return
	}

	switch {
	case errors.Is(err, position.ErrPermissionDenied):
		// Degrade, don't terminate: distance and events survive, sampling
		// stops until the user re-authorizes and resumes.
		m.sess.Degraded = true
		m.cancelSubLocked()
		m.releaseLockLocked()
		pctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		if serr := m.deps.Store.SetStatus(pctx, m.sess.ID, StatusActive, true); serr != nil {
			m.log.Error().Err(serr).Msg("persist degraded state")
		}
		cancel()
		m.log.Warn().Str("session_id", m.sess.ID).Msg("position permission lost, session degraded")
	case errors.Is(err, position.ErrTimeout), errors.Is(err, position.ErrUnavailable):
		m.log.Debug().Err(err).Msg("transient position failure")
	default:
		m.log.Warn().Err(err).Msg("position error")
	}
}

func (m *Manager) emit(ev event.SessionEvent) {
	if err := m.deps.Events.Append(ev); err != nil {
		m.log.Error().Err(err).Str("kind", string(ev.Kind)).Msg("buffer event")
	}
	if m.deps.Live != nil {
		m.deps.Live.BroadcastEvent(ev)
	}
}

func (m *Manager) persistSample(sessionID string, s position.LocationSample, totalM float64, count int, profile cadence.ProfileName) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := m.deps.Store.RecordSample(ctx, sessionID, s, totalM, count, profile); err != nil {
		m.log.Error().Err(err).Str("session_id", sessionID).Msg("persist sample")
	}
}

// fetchFences loads the company's fence set. Tracking proceeds without
// geofence events rather than failing the whole session.
func (m *Manager) fetchFences(ctx context.Context, companyID string) []geofence.Fence {
	if m.deps.Fences == nil {
		return nil
	}
	fences, err := m.deps.Fences.Fences(ctx, companyID)
	if err != nil {
		m.log.Warn().Err(err).Str("company_id", companyID).Msg("geofence fetch failed")
		return nil
	}
	return fences
}

func (m *Manager) resolveAddress(s position.LocationSample) string {
	if m.deps.Resolver == nil {
		return ""
	}
	ctx, cancel := context.WithTimeout(context.Background(), resolveTimeout)
	defer cancel()
	return m.deps.Resolver.ReverseAddress(ctx, s.Lat, s.Lng)
}

func (m *Manager) releaseLockLocked() {
	if m.lock != nil {
		m.lock.Release()
		m.lock = nil
	}
}
