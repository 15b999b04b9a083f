package buffer

import (
	"path/filepath"
	"testing"
	"time"

	"backend-fieldtrack/internal/event"
	"backend-fieldtrack/internal/position"
)

func testEvent(sessionID string) event.SessionEvent {
	return event.NewSampleRecorded(sessionID, "user-1", position.LocationSample{
		Timestamp: time.Now(), Lat: 12.9716, Lng: 77.5946, AccuracyM: 5,
	}, 100)
}

func openTestBuffer(t *testing.T) (*Buffer, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "events.db")
	b, err := Open(path)
	if err != nil {
		t.Fatalf("open buffer: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b, path
}

func TestAppendPeekAck(t *testing.T) {
	b, _ := openTestBuffer(t)

	first := testEvent("s1")
	second := testEvent("s1")
	if err := b.Append(first); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := b.Append(second); err != nil {
		t.Fatalf("append: %v", err)
	}

	entries, err := b.Peek(10)
	if err != nil {
		t.Fatalf("peek: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	// FIFO order.
	if entries[0].Event.ID != first.ID || entries[1].Event.ID != second.ID {
		t.Fatalf("entries out of order")
	}

	// Peek does not consume.
	if n, _ := b.Len(); n != 2 {
		t.Fatalf("expected len 2, got %d", n)
	}

	if err := b.Ack([]int64{entries[0].Seq}); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if n, _ := b.Len(); n != 1 {
		t.Fatalf("expected len 1 after ack, got %d", n)
	}
}

func TestAppendIdempotentByEventID(t *testing.T) {
	b, _ := openTestBuffer(t)
	ev := testEvent("s1")
	if err := b.Append(ev); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := b.Append(ev); err != nil {
		t.Fatalf("re-append: %v", err)
	}
	if n, _ := b.Len(); n != 1 {
		t.Fatalf("expected single entry, got %d", n)
	}
}

func TestBufferSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")
	b, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	ev := testEvent("s1")
	if err := b.Append(ev); err != nil {
		t.Fatalf("append: %v", err)
	}
	b.Close()

	b, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer b.Close()

	entries, err := b.Peek(10)
	if err != nil {
		t.Fatalf("peek: %v", err)
	}
	if len(entries) != 1 || entries[0].Event.ID != ev.ID {
		t.Fatalf("buffered event lost across reopen")
	}
}

func TestFailAndDrop(t *testing.T) {
	b, _ := openTestBuffer(t)
	_ = b.Append(testEvent("s1"))

	entries, _ := b.Peek(1)
	if err := b.Fail([]int64{entries[0].Seq}); err != nil {
		t.Fatalf("fail: %v", err)
	}
	entries, _ = b.Peek(1)
	if entries[0].Attempts != 1 {
		t.Fatalf("expected attempts 1, got %d", entries[0].Attempts)
	}

	if err := b.Drop(entries[0].Seq); err != nil {
		t.Fatalf("drop: %v", err)
	}
	if n, _ := b.Len(); n != 0 {
		t.Fatalf("expected empty buffer, got %d", n)
	}
}
