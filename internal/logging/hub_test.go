package logging

import (
	"testing"
	"time"
)

func TestHubBroadcast(t *testing.T) {
	hub := NewHub()
	t.Cleanup(hub.Close)

	first, cancelFirst := hub.Subscribe(4)
	second, cancelSecond := hub.Subscribe(4)
	t.Cleanup(cancelFirst)
	t.Cleanup(cancelSecond)

	hub.Broadcast(LogEntry{Message: "m"})

	for name, ch := range map[string]<-chan LogEntry{"first": first, "second": second} {
		select {
		case entry := <-ch:
			if entry.Message != "m" {
				t.Fatalf("%s: unexpected entry %+v", name, entry)
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("%s: timed out", name)
		}
	}
}

func TestHubDropsForSlowSubscriber(t *testing.T) {
	hub := NewHub()
	t.Cleanup(hub.Close)

	ch, cancel := hub.Subscribe(1)
	t.Cleanup(cancel)

	hub.Broadcast(LogEntry{Message: "first"})
	hub.Broadcast(LogEntry{Message: "dropped"})

	entry := <-ch
	if entry.Message != "first" {
		t.Fatalf("expected first entry, got %+v", entry)
	}
	select {
	case extra := <-ch:
		t.Fatalf("expected drop, got %+v", extra)
	default:
	}
}

func TestHubClose(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe(1)
	t.Cleanup(cancel)

	hub.Close()

	if _, open := <-ch; open {
		t.Fatal("expected channel closed after hub close")
	}

	late, lateCancel := hub.Subscribe(1)
	t.Cleanup(lateCancel)
	if _, open := <-late; open {
		t.Fatal("expected closed channel for late subscriber")
	}
}

func TestHubCancelIdempotent(t *testing.T) {
	hub := NewHub()
	t.Cleanup(hub.Close)
	_, cancel := hub.Subscribe(1)
	cancel()
	cancel()
}
