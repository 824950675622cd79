package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/MarcoPoloResearchLab/arkiv/backend/internal/documents"
	"github.com/MarcoPoloResearchLab/arkiv/backend/internal/trips"
)

const testTripID = "lucky-trip"

func TestOpenAppliesInitialSnapshot(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := newFakeStore()
	remote, _ := trips.NewPlaceStore(&sequenceIDs{prefix: "remote"}).Launch("Osaka", 2)
	remote, _, _ = remote.Add(1, trips.PlaceFields{Name: "Castle"})
	store.publishRemote(testTripID, snapshotFields(t, remote))

	session := openSession(t, store, nil)
	defer session.Close()

	state := session.State()
	meta, ok := state.Meta()
	if !ok || meta.Destination != "Osaka" {
		t.Fatalf("expected remote metadata to be applied, got %+v", meta)
	}
	if names := placeNames(state.Places()); !cmp.Equal(names, []string{"Castle"}) {
		t.Fatalf("unexpected places %v", names)
	}
	if session.RemoteVersion() != 1 {
		t.Fatalf("expected remote version 1, got %d", session.RemoteVersion())
	}
}

func TestOpenWithAbsentDocumentKeepsEmptyState(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := newFakeStore()
	session := openSession(t, store, nil)
	defer session.Close()

	if session.State().Launched() {
		t.Fatalf("expected unlaunched state for absent document")
	}
	if store.writeCount() != 0 {
		t.Fatalf("expected no writes, got %d", store.writeCount())
	}
}

func TestMutationPushesWholeSnapshot(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := newFakeStore()
	session := openSession(t, store, nil)
	defer session.Close()

	if _, err := session.Launch("Kyoto", 3); err != nil {
		t.Fatalf("unexpected launch error: %v", err)
	}
	eventually(t, func() bool { return session.RemoteVersion() == 1 })

	_, added, err := session.Add(2, trips.PlaceFields{Name: "Temple"})
	if err != nil {
		t.Fatalf("unexpected add error: %v", err)
	}
	if added.ID.String() != "pl-1" {
		t.Fatalf("expected sequential id pl-1, got %s", added.ID)
	}

	eventually(t, func() bool { return store.writeCount() == 2 })

	written := store.lastWrite()
	decoded, err := trips.DecodeSnapshot(written)
	if err != nil {
		t.Fatalf("pushed snapshot failed to decode: %v", err)
	}
	if decoded.Meta == nil || decoded.Meta.Destination != "Kyoto" {
		t.Fatalf("expected metadata in pushed snapshot, got %+v", decoded.Meta)
	}
	if names := placeNames(decoded.Places); !cmp.Equal(names, []string{"Temple"}) {
		t.Fatalf("expected entire place list in push, got %v", names)
	}
}

func TestRemoteSnapshotOverwritesUnsyncedLocalPlaces(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := newFakeStore()
	store.writeErr = errors.New("offline")
	session := openSession(t, store, nil)
	defer session.Close()

	if _, err := session.Launch("Kyoto", 3); err != nil {
		t.Fatalf("unexpected launch error: %v", err)
	}
	if _, _, err := session.Add(1, trips.PlaceFields{Name: "Local only"}); err != nil {
		t.Fatalf("unexpected add error: %v", err)
	}

	remote, _ := trips.NewPlaceStore(&sequenceIDs{prefix: "remote"}).Launch("Kyoto", 3)
	remote, _, _ = remote.Add(3, trips.PlaceFields{Name: "Remote shrine"})
	published := store.publishRemote(testTripID, snapshotFields(t, remote))

	eventually(t, func() bool { return session.RemoteVersion() == published.Version })

	names := placeNames(session.State().Places())
	if !cmp.Equal(names, []string{"Remote shrine"}) {
		t.Fatalf("expected remote snapshot to replace local places, got %v", names)
	}
}

func TestFailedPushIsLoggedAndDropped(t *testing.T) {
	defer goleak.VerifyNone(t)

	core, logs := observer.New(zapcore.WarnLevel)
	store := newFakeStore()
	store.writeErr = errors.New("permission denied")
	session := openSession(t, store, zap.New(core))
	defer session.Close()

	if _, err := session.Launch("Seoul", 1); err != nil {
		t.Fatalf("expected mutation to succeed despite push failure, got %v", err)
	}
	eventually(t, func() bool { return logs.FilterMessage("snapshot push dropped").Len() == 1 })

	if !session.State().Launched() {
		t.Fatalf("expected local state to keep the launch")
	}
	if store.writeCount() != 1 {
		t.Fatalf("expected a single attempt without retry, got %d", store.writeCount())
	}
}

func TestInvalidRemoteSnapshotIsIgnored(t *testing.T) {
	defer goleak.VerifyNone(t)

	core, logs := observer.New(zapcore.WarnLevel)
	store := newFakeStore()
	session := openSession(t, store, zap.New(core))
	defer session.Close()

	if _, err := session.Launch("Busan", 2); err != nil {
		t.Fatalf("unexpected launch error: %v", err)
	}
	eventually(t, func() bool { return session.RemoteVersion() == 1 })

	store.publishRemote(testTripID, map[string]json.RawMessage{
		"places": json.RawMessage(`[{"id":"pl-x","name":"Nowhere","day":0}]`),
	})
	eventually(t, func() bool { return logs.FilterMessage("remote snapshot ignored").Len() == 1 })

	meta, ok := session.State().Meta()
	if !ok || meta.Destination != "Busan" {
		t.Fatalf("expected previous state to survive invalid snapshot, got %+v", meta)
	}
	if session.RemoteVersion() != 1 {
		t.Fatalf("expected remote version to stay at 1, got %d", session.RemoteVersion())
	}
}

func TestMutationErrorsDoNotPush(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := newFakeStore()
	session := openSession(t, store, nil)
	defer session.Close()

	if _, _, err := session.Add(1, trips.PlaceFields{Name: "Too early"}); !errors.Is(err, trips.ErrNotLaunched) {
		t.Fatalf("expected not launched error, got %v", err)
	}
	if store.writeCount() != 0 {
		t.Fatalf("expected rejected mutation not to push")
	}
}

func TestCloseWaitsForInFlightPushes(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := newFakeStore()
	gate := make(chan struct{})
	store.writeGate = gate
	session := openSession(t, store, nil)

	if _, err := session.Launch("Tokyo", 3); err != nil {
		t.Fatalf("unexpected launch error: %v", err)
	}

	closed := make(chan struct{})
	go func() {
		session.Close()
		close(closed)
	}()

	select {
	case <-closed:
		t.Fatalf("expected Close to wait for the pending push")
	case <-time.After(100 * time.Millisecond):
	}

	close(gate)
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatalf("expected Close to return once the push finished")
	}

	if store.writeCount() != 1 {
		t.Fatalf("expected pending push to complete, got %d writes", store.writeCount())
	}
	if err := session.Close(); err != nil {
		t.Fatalf("expected repeated Close to succeed, got %v", err)
	}
	if _, err := session.AddDay(); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after Close, got %v", err)
	}
	eventually(t, func() bool { return store.subscriberCount() == 0 })
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	if _, err := Open(context.Background(), Config{TripID: "", Store: newFakeStore()}); !errors.Is(err, trips.ErrInvalidTripID) {
		t.Fatalf("expected invalid trip id error, got %v", err)
	}
	if _, err := Open(context.Background(), Config{TripID: testTripID}); !errors.Is(err, ErrMissingStore) {
		t.Fatalf("expected missing store error, got %v", err)
	}
}

func openSession(t *testing.T, store *fakeStore, logger *zap.Logger) *Session {
	t.Helper()
	session, err := Open(context.Background(), Config{
		TripID:      testTripID,
		Store:       store,
		IDProvider:  &sequenceIDs{prefix: "pl"},
		Logger:      logger,
		PushTimeout: time.Second,
	})
	if err != nil {
		t.Fatalf("failed to open session: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := session.WaitReady(ctx); err != nil {
		t.Fatalf("session never became ready: %v", err)
	}
	return session
}

func snapshotFields(t *testing.T, store trips.PlaceStore) map[string]json.RawMessage {
	t.Helper()
	fields, err := store.Snapshot().Fields()
	if err != nil {
		t.Fatalf("failed to encode snapshot: %v", err)
	}
	return fields
}

func placeNames(places []trips.Place) []string {
	names := make([]string, 0, len(places))
	for _, place := range places {
		names = append(names, place.Name)
	}
	return names
}

func eventually(t *testing.T, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !condition() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type sequenceIDs struct {
	prefix string
	next   int
}

func (s *sequenceIDs) NewID() (string, error) {
	s.next++
	return fmt.Sprintf("%s-%d", s.prefix, s.next), nil
}

var _ DocumentStore = (*documents.Service)(nil)
