package documents

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestDispatcherPublishesToSubscriber(t *testing.T) {
	dispatcher := NewDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := dispatcher.Subscribe(ctx, "trip-1")
	defer cleanup()

	dispatcher.Publish(Document{Key: "trip-1", Version: 3, Exists: true})

	select {
	case received := <-stream:
		if received.Version != 3 {
			t.Fatalf("expected version 3, got %d", received.Version)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected document within deadline")
	}
}

func TestDispatcherReplacesPendingSnapshot(t *testing.T) {
	dispatcher := NewDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := dispatcher.Subscribe(ctx, "trip-1")
	defer cleanup()

	for version := int64(1); version <= 5; version++ {
		dispatcher.Publish(Document{Key: "trip-1", Version: version})
	}

	received := <-stream
	if received.Version != 5 {
		t.Fatalf("expected newest pending version 5, got %d", received.Version)
	}
	select {
	case extra := <-stream:
		t.Fatalf("expected a single pending snapshot, also got version %d", extra.Version)
	default:
	}
}

func TestDispatcherKeepsNewerPendingSnapshot(t *testing.T) {
	dispatcher := NewDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := dispatcher.Subscribe(ctx, "trip-1")
	defer cleanup()

	dispatcher.Publish(Document{Key: "trip-1", Version: 2})
	dispatcher.Publish(Document{Key: "trip-1", Version: 1})

	received := <-stream
	if received.Version != 2 {
		t.Fatalf("expected pending version 2 to survive a late version 1, got %d", received.Version)
	}
	select {
	case extra := <-stream:
		t.Fatalf("expected a single pending snapshot, also got version %d", extra.Version)
	default:
	}
}

func TestDispatcherCleanupOnContextCancel(t *testing.T) {
	dispatcher := NewDispatcher()
	ctx, cancel := context.WithCancel(context.Background())

	_, cleanup := dispatcher.Subscribe(ctx, "trip-1")
	defer cleanup()
	if dispatcher.SubscriberCount("trip-1") != 1 {
		t.Fatalf("expected one subscriber")
	}

	cancel()
	deadline := time.Now().Add(time.Second)
	for dispatcher.SubscriberCount("trip-1") != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("expected subscriber to be removed after cancel")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestDispatcherDeliversIndependentCopies(t *testing.T) {
	dispatcher := NewDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first, cleanupFirst := dispatcher.Subscribe(ctx, "trip-1")
	defer cleanupFirst()
	second, cleanupSecond := dispatcher.Subscribe(ctx, "trip-1")
	defer cleanupSecond()

	dispatcher.Publish(Document{Key: "trip-1", Fields: map[string]json.RawMessage{}})

	received := <-first
	received.Fields["places"] = json.RawMessage(`[]`)
	other := <-second
	if _, ok := other.Fields["places"]; ok {
		t.Fatalf("expected subscribers to receive independent field maps")
	}
}
