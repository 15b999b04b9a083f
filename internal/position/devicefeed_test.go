package position

import (
	"context"
	"errors"
	"testing"
	"time"

	"backend-fieldtrack/internal/cadence"
)

func sample(at time.Time, lat, lng float64) LocationSample {
	return LocationSample{Timestamp: at, Lat: lat, Lng: lng, AccuracyM: 5}
}

func TestValidate(t *testing.T) {
	now := time.Now()
	if err := sample(now, 12.9, 77.5).Validate(); err != nil {
		t.Fatalf("valid sample rejected: %v", err)
	}
	if err := sample(now, 91, 0).Validate(); err == nil {
		t.Fatalf("expected latitude error")
	}
	if err := sample(now, 0, -181).Validate(); err == nil {
		t.Fatalf("expected longitude error")
	}
	bad := sample(now, 0, 0)
	bad.AccuracyM = -1
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected accuracy error")
	}
	if err := sample(time.Time{}, 0, 0).Validate(); err == nil {
		t.Fatalf("expected timestamp error")
	}
}

func TestGetOnceServesCachedFix(t *testing.T) {
	f := NewDeviceFeed(time.Minute)
	if err := f.Push(sample(time.Now(), 1, 2)); err != nil {
		t.Fatalf("push: %v", err)
	}
	got, err := f.GetOnce(context.Background(), 10*time.Millisecond)
	if err != nil {
		t.Fatalf("get once: %v", err)
	}
	if got.Lat != 1 || got.Lng != 2 {
		t.Fatalf("unexpected fix: %+v", got)
	}
}

func TestGetOnceTimesOut(t *testing.T) {
	f := NewDeviceFeed(time.Minute)
	_, err := f.GetOnce(context.Background(), 20*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
}

func TestGetOnceWakesOnPush(t *testing.T) {
	f := NewDeviceFeed(time.Minute)
	done := make(chan LocationSample, 1)
	go func() {
		s, err := f.GetOnce(context.Background(), time.Second)
		if err != nil {
			t.Errorf("get once: %v", err)
		}
		done <- s
	}()
	time.Sleep(20 * time.Millisecond)
	if err := f.Push(sample(time.Now(), 3, 4)); err != nil {
		t.Fatalf("push: %v", err)
	}
	select {
	case s := <-done:
		if s.Lat != 3 {
			t.Fatalf("unexpected sample: %+v", s)
		}
	case <-time.After(time.Second):
		t.Fatalf("waiter not woken")
	}
}

func TestSubscribeHonorsMinInterval(t *testing.T) {
	f := NewDeviceFeed(time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	profile := cadence.Profile{Name: cadence.Conservative, MinInterval: time.Hour}
	ch, err := f.Subscribe(ctx, profile)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	now := time.Now()
	_ = f.Push(sample(now, 1, 1))
	_ = f.Push(sample(now.Add(time.Second), 2, 2))

	fx := <-ch
	if fx.Sample.Lat != 1 {
		t.Fatalf("expected first fix, got %+v", fx)
	}
	select {
	case fx = <-ch:
		t.Fatalf("second fix should have been throttled: %+v", fx)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribeClosesOnCancel(t *testing.T) {
	f := NewDeviceFeed(time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := f.Subscribe(ctx, cadence.ProfileFor(cadence.Precise))
	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatalf("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatalf("channel not closed")
	}
}

func TestFailReachesSubscriber(t *testing.T) {
	f := NewDeviceFeed(time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, _ := f.Subscribe(ctx, cadence.ProfileFor(cadence.Precise))

	f.Fail(ErrPermissionDenied)
	fx := <-ch
	if !errors.Is(fx.Err, ErrPermissionDenied) {
		t.Fatalf("expected permission denied, got %v", fx.Err)
	}
}

func TestGetOnceWithRetryPermanentOnPermissionDenied(t *testing.T) {
	f := NewDeviceFeed(time.Minute)
	go func() {
		time.Sleep(10 * time.Millisecond)
		f.Fail(ErrPermissionDenied)
	}()
	start := time.Now()
	_, err := GetOnceWithRetry(context.Background(), f, cadence.ProfileFor(cadence.Precise), time.Second)
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected permission denied, got %v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatalf("permission denial should not be retried")
	}
}
