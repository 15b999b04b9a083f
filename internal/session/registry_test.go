package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"backend-fieldtrack/internal/position"
)

func newTestRegistry(store *fakeStore, sink *sinkRec) *Registry {
	return NewRegistry(RegistryDeps{
		Store:  store,
		Events: sink,
		Fences: stubFences{},
		Dwell:  1,
		Log:    zerolog.Nop(),
	})
}

func startFix(at time.Time) position.LocationSample {
	return position.LocationSample{Timestamp: at, Lat: 12.9716, Lng: 77.5946, AccuracyM: 5}
}

func TestRegistryStartPushEnd(t *testing.T) {
	now := time.Now()
	store := &fakeStore{}
	reg := newTestRegistry(store, &sinkRec{})

	sess, err := reg.Start(context.Background(), "user-1", "acme", startFix(now))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if sess.Status != StatusActive {
		t.Fatalf("unexpected session: %+v", sess)
	}

	if err := reg.Push(sess.ID, position.LocationSample{
		Timestamp: now.Add(time.Minute), Lat: 12.9726, Lng: 77.5946, AccuracyM: 5, SpeedMps: 0.5,
	}); err != nil {
		t.Fatalf("push: %v", err)
	}

	mgr, ok := reg.Manager(sess.ID)
	if !ok {
		t.Fatalf("manager not registered")
	}
	waitFor(t, "pushed sample", func() bool {
		s, _, _ := mgr.Snapshot()
		return s.SampleCount == 2
	})

	ended, err := reg.End(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	if ended.Status != StatusEnded {
		t.Fatalf("expected ended")
	}

	// Slot is free again.
	if _, err := reg.Start(context.Background(), "user-1", "acme", startFix(now.Add(time.Hour))); err != nil {
		t.Fatalf("restart after end: %v", err)
	}
}

func TestRegistryOneSessionPerUser(t *testing.T) {
	now := time.Now()
	reg := newTestRegistry(&fakeStore{}, &sinkRec{})

	if _, err := reg.Start(context.Background(), "user-1", "acme", startFix(now)); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := reg.Start(context.Background(), "user-1", "acme", startFix(now)); !errors.Is(err, ErrSessionActive) {
		t.Fatalf("expected ErrSessionActive, got %v", err)
	}
}

func TestRegistryPushUnknownSession(t *testing.T) {
	reg := newTestRegistry(&fakeStore{}, &sinkRec{})
	err := reg.Push("missing", startFix(time.Now()))
	if !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
}

// hookStore lets a test interleave registry calls with Adopt's store write.
type hookStore struct {
	*fakeStore
	onSetStatus func()
}

func (h *hookStore) SetStatus(ctx context.Context, id string, status Status, degraded bool) error {
	if h.onSetStatus != nil {
		hook := h.onSetStatus
		h.onSetStatus = nil
		hook()
	}
	return h.fakeStore.SetStatus(ctx, id, status, degraded)
}

func TestReconcileYieldsToConcurrentStart(t *testing.T) {
	now := time.Now()
	last := startFix(now.Add(-time.Hour))
	store := &hookStore{fakeStore: &fakeStore{open: []Session{{
		ID: "sess-old", UserID: "user-1", CompanyID: "acme",
		StartedAt: now.Add(-2 * time.Hour), Status: StatusActive,
		CumulativeDistanceM: 1200, SampleCount: 40, Cadence: "balanced",
		LastSample: &last,
	}}}}
	reg := NewRegistry(RegistryDeps{
		Store:  store,
		Events: &sinkRec{},
		Fences: stubFences{},
		Dwell:  1,
		Log:    zerolog.Nop(),
	})

	// The device starts a fresh session for the same user in the window
	// between the adopt check and the registry insert.
	var live Session
	store.onSetStatus = func() {
		var err error
		live, err = reg.Start(context.Background(), "user-1", "acme", startFix(now))
		if err != nil {
			t.Fatalf("start during reconcile: %v", err)
		}
	}

	if err := reg.Reconcile(context.Background()); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	if _, ok := reg.Manager("sess-old"); ok {
		t.Fatalf("adopted session must yield to the live one")
	}
	mgr, ok := reg.Manager(live.ID)
	if !ok {
		t.Fatalf("live session lost during reconcile")
	}
	s, _, err := mgr.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if s.Status != StatusActive || s.ID != live.ID {
		t.Fatalf("expected the live session to keep the user slot, got %+v", s)
	}
}

func TestRegistryReconcileAdoptsPaused(t *testing.T) {
	now := time.Now()
	last := startFix(now.Add(-time.Hour))
	store := &fakeStore{open: []Session{{
		ID: "sess-1", UserID: "user-1", CompanyID: "acme",
		StartedAt: now.Add(-2 * time.Hour), Status: StatusActive,
		CumulativeDistanceM: 1200, SampleCount: 40, Cadence: "balanced",
		LastSample: &last,
	}}}
	reg := newTestRegistry(store, &sinkRec{})

	if err := reg.Reconcile(context.Background()); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	mgr, ok := reg.Manager("sess-1")
	if !ok {
		t.Fatalf("reconciled session not registered")
	}
	s, _, err := mgr.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if s.Status != StatusPaused {
		t.Fatalf("reconciled session should be paused, got %v", s.Status)
	}
	if s.CumulativeDistanceM != 1200 {
		t.Fatalf("expected resumed distance, got %v", s.CumulativeDistanceM)
	}

	// The user's slot is taken by the reconciled session.
	if _, err := reg.Start(context.Background(), "user-1", "acme", startFix(now)); !errors.Is(err, ErrSessionActive) {
		t.Fatalf("expected ErrSessionActive, got %v", err)
	}

	// Resuming continues the journey and the distance total.
	if err := mgr.Resume(context.Background()); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if err := reg.Push("sess-1", position.LocationSample{
		Timestamp: now, Lat: last.Lat + 500/latDegM, Lng: last.Lng, AccuracyM: 5, SpeedMps: 1.0,
	}); err != nil {
		t.Fatalf("push: %v", err)
	}
	waitFor(t, "post-reconcile sample", func() bool {
		s, _, _ := mgr.Snapshot()
		return s.SampleCount == 41
	})
	s, _, _ = mgr.Snapshot()
	if s.CumulativeDistanceM < 1600 {
		t.Fatalf("expected distance to continue from reconciled total, got %v", s.CumulativeDistanceM)
	}
}
