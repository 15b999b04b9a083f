package position

import (
	"context"
	"sync"
	"time"

	"backend-fieldtrack/internal/cadence"
)

// DeviceFeed adapts pushed device fixes into the pull-based Source contract.
// The ingest endpoint is the producer; at most one subscription is active at
// a time, a new Subscribe replaces the previous one.
type DeviceFeed struct {
	maxStale time.Duration

	mu         sync.Mutex
	last       *LocationSample
	receivedAt time.Time
	sub        *feedSub
	waiters    []chan Fix
}

type feedSub struct {
	ch       chan Fix
	profile  cadence.Profile
	lastSent time.Time
}

func NewDeviceFeed(maxStale time.Duration) *DeviceFeed {
	if maxStale <= 0 {
		maxStale = 30 * time.Second
	}
	return &DeviceFeed{maxStale: maxStale}
}

// Push records a device-reported sample, waking GetOnce callers and feeding
// the active subscription. Pushes arriving faster than the subscription
// profile's MinInterval are accepted but not delivered downstream.
func (f *DeviceFeed) Push(sample LocationSample) error {
	if err := sample.Validate(); err != nil {
		return err
	}
	now := time.Now()

	f.mu.Lock()
	defer f.mu.Unlock()

	f.last = &sample
	f.receivedAt = now

	for _, w := range f.waiters {
		w <- Fix{Sample: sample}
	}
	f.waiters = nil

	if s := f.sub; s != nil {
		if s.lastSent.IsZero() || now.Sub(s.lastSent) >= s.profile.MinInterval {
			select {
			case s.ch <- Fix{Sample: sample}:
				s.lastSent = now
			default:
			}
		}
	}
	return nil
}

// Fail propagates a position error (permission loss, device unavailable) to
// the active subscription and any GetOnce callers.
func (f *DeviceFeed) Fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, w := range f.waiters {
		w <- Fix{Err: err}
	}
	f.waiters = nil

	if s := f.sub; s != nil {
		select {
		case s.ch <- Fix{Err: err}:
		default:
		}
	}
}

func (f *DeviceFeed) Subscribe(ctx context.Context, profile cadence.Profile) (<-chan Fix, error) {
	s := &feedSub{ch: make(chan Fix, 16), profile: profile}

	f.mu.Lock()
	f.sub = s
	f.mu.Unlock()

	go func() {
		<-ctx.Done()
		f.mu.Lock()
		if f.sub == s {
			f.sub = nil
		}
		f.mu.Unlock()
		close(s.ch)
	}()

	return s.ch, nil
}

func (f *DeviceFeed) GetOnce(ctx context.Context, timeout time.Duration) (LocationSample, error) {
	f.mu.Lock()
	if f.last != nil && time.Since(f.receivedAt) <= f.maxStale {
		s := *f.last
		f.mu.Unlock()
		return s, nil
	}
	w := make(chan Fix, 1)
	f.waiters = append(f.waiters, w)
	f.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case fx := <-w:
		if fx.Err != nil {
			return LocationSample{}, fx.Err
		}
		return fx.Sample, nil
	case <-timer.C:
		f.dropWaiter(w)
		return LocationSample{}, ErrTimeout
	case <-ctx.Done():
		f.dropWaiter(w)
		return LocationSample{}, ctx.Err()
	}
}

func (f *DeviceFeed) dropWaiter(w chan Fix) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, cand := range f.waiters {
		if cand == w {
			f.waiters = append(f.waiters[:i], f.waiters[i+1:]...)
			return
		}
	}
}
