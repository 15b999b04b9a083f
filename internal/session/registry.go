package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"backend-fieldtrack/internal/position"
	"backend-fieldtrack/internal/power"
)

const deviceFeedMaxStale = 30 * time.Second

// RegistryDeps are the collaborators shared by every per-user manager.
type RegistryDeps struct {
	Store    Store
	Events   EventSink
	Live     Broadcaster
	Locker   power.Locker
	Fences   FenceProvider
	Resolver AddressResolver
	Dwell    int
	Log      zerolog.Logger
}

// Registry enforces one tracking session per user and routes pushed device
// fixes to the owning manager's feed.
type Registry struct {
	deps RegistryDeps
	log  zerolog.Logger

	mu        sync.Mutex
	byUser    map[string]*Manager
	bySession map[string]*entry
}

type entry struct {
	manager *Manager
	feed    *position.DeviceFeed
	userID  string
}

func NewRegistry(deps RegistryDeps) *Registry {
	return &Registry{
		deps:      deps,
		log:       deps.Log.With().Str("component", "registry").Logger(),
		byUser:    map[string]*Manager{},
		bySession: map[string]*entry{},
	}
}

// Start creates the user's session. The returned session ID is the handle
// for subsequent sample pushes and control calls.
func (r *Registry) Start(ctx context.Context, userID, companyID string, firstFix position.LocationSample) (Session, error) {
	r.mu.Lock()
	if _, ok := r.byUser[userID]; ok {
		r.mu.Unlock()
		return Session{}, ErrSessionActive
	}
	feed := position.NewDeviceFeed(deviceFeedMaxStale)
	mgr := r.newManager(feed)
	// Reserve the slot before the blocking start so a concurrent start for
	// the same user fails fast.
	r.byUser[userID] = mgr
	r.mu.Unlock()

	if err := feed.Push(firstFix); err != nil {
		r.drop(userID, "")
		return Session{}, err
	}
	sess, err := mgr.Start(ctx, userID, companyID)
	if err != nil {
		r.drop(userID, "")
		return Session{}, err
	}

	r.mu.Lock()
	r.bySession[sess.ID] = &entry{manager: mgr, feed: feed, userID: userID}
	r.mu.Unlock()
	return sess, nil
}

// Push routes a device-reported sample to its session's feed.
func (r *Registry) Push(sessionID string, s position.LocationSample) error {
	r.mu.Lock()
	e, ok := r.bySession[sessionID]
	r.mu.Unlock()
	if !ok {
		return ErrNoSession
	}
	return e.feed.Push(s)
}

// ReportPositionError propagates a device-side position failure (e.g.
// permission revoked) into the session's feed.
func (r *Registry) ReportPositionError(sessionID string, err error) error {
	r.mu.Lock()
	e, ok := r.bySession[sessionID]
	r.mu.Unlock()
	if !ok {
		return ErrNoSession
	}
	e.feed.Fail(err)
	return nil
}

func (r *Registry) Manager(sessionID string) (*Manager, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.bySession[sessionID]
	if !ok {
		return nil, false
	}
	return e.manager, true
}

// End terminates the session and frees the user's slot.
func (r *Registry) End(ctx context.Context, sessionID string) (Session, error) {
	r.mu.Lock()
	e, ok := r.bySession[sessionID]
	r.mu.Unlock()
	if !ok {
		return Session{}, ErrNoSession
	}
	sess, err := e.manager.End(ctx)
	if err != nil {
		return Session{}, err
	}
	r.drop(e.userID, sessionID)
	return sess, nil
}

// Reconcile re-adopts non-ended sessions found in the store at startup, so
// a process restart does not lose session identity. Adopted sessions wait
// in Paused for the device to resume.
func (r *Registry) Reconcile(ctx context.Context) error {
	sessions, err := r.deps.Store.OpenSessions(ctx)
	if err != nil {
		return err
	}
	for _, sess := range sessions {
		r.mu.Lock()
		if _, ok := r.byUser[sess.UserID]; ok {
			r.mu.Unlock()
			continue
		}
		feed := position.NewDeviceFeed(deviceFeedMaxStale)
		mgr := r.newManager(feed)
		r.mu.Unlock()

		if err := mgr.Adopt(ctx, sess); err != nil {
			r.log.Error().Err(err).Str("session_id", sess.ID).Msg("reconcile failed")
			continue
		}

		r.mu.Lock()
		// The user may have started a fresh session while Adopt was doing
		// its store writes; the live session wins over the adopted copy.
		if _, ok := r.byUser[sess.UserID]; ok {
			r.mu.Unlock()
			r.log.Warn().Str("session_id", sess.ID).Str("user_id", sess.UserID).Msg("user went live during reconcile, adopted session discarded")
			continue
		}
		r.byUser[sess.UserID] = mgr
		r.bySession[sess.ID] = &entry{manager: mgr, feed: feed, userID: sess.UserID}
		r.mu.Unlock()
		r.log.Info().Str("session_id", sess.ID).Str("user_id", sess.UserID).Msg("session reconciled")
	}
	return nil
}

func (r *Registry) newManager(feed *position.DeviceFeed) *Manager {
	return NewManager(Deps{
		Store:    r.deps.Store,
		Events:   r.deps.Events,
		Live:     r.deps.Live,
		Source:   feed,
		Locker:   r.deps.Locker,
		Fences:   r.deps.Fences,
		Resolver: r.deps.Resolver,
		Dwell:    r.deps.Dwell,
		Log:      r.deps.Log,
	})
}

func (r *Registry) drop(userID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byUser, userID)
	if sessionID != "" {
		delete(r.bySession, sessionID)
	}
}
