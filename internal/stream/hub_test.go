package stream

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"backend-fieldtrack/internal/event"
	"backend-fieldtrack/internal/position"
)

func TestBroadcastEventReachesRegisteredClient(t *testing.T) {
	hub := NewHub(nil, zerolog.Nop())
	client := hub.Register("sess-1")
	defer hub.Unregister(client)

	ev := event.NewSampleRecorded("sess-1", "user-1", position.LocationSample{
		Timestamp: time.Now(), Lat: 1, Lng: 2, AccuracyM: 5,
	}, 42)
	hub.BroadcastEvent(ev)

	select {
	case payload := <-client.Send:
		var got event.SessionEvent
		if err := json.Unmarshal(payload, &got); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if got.ID != ev.ID || got.Kind != event.SampleRecorded {
			t.Fatalf("unexpected event: %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatalf("client never received event")
	}
}

func TestBroadcastEventSkipsOtherSessions(t *testing.T) {
	hub := NewHub(nil, zerolog.Nop())
	client := hub.Register("sess-other")
	defer hub.Unregister(client)

	hub.BroadcastEvent(event.NewSessionEnded("sess-1", "user-1", time.Now(), 100, time.Minute))

	select {
	case <-client.Send:
		t.Fatalf("client of another session received event")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnregisterRemovesClient(t *testing.T) {
	hub := NewHub(nil, zerolog.Nop())
	client := hub.Register("sess-1")
	hub.Unregister(client)

	if _, ok := <-client.Send; ok {
		t.Fatalf("expected closed channel")
	}

	hub.mu.RLock()
	defer hub.mu.RUnlock()
	if len(hub.clients["sess-1"]) != 0 {
		t.Fatalf("client map not cleaned up")
	}
}

func TestSessionIDFromChannel(t *testing.T) {
	if got := sessionIDFromChannel("sessions:abc:events"); got != "abc" {
		t.Fatalf("unexpected id: %q", got)
	}
	if got := sessionIDFromChannel("bogus"); got != "" {
		t.Fatalf("expected empty id, got %q", got)
	}
}
