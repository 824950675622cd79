package trips

import (
	"fmt"
	"testing"
)

type sequenceIDs struct {
	next int
}

func (p *sequenceIDs) NewID() (string, error) {
	p.next++
	return fmt.Sprintf("pl-%d", p.next), nil
}

func mustPlaceID(t *testing.T, value string) PlaceID {
	t.Helper()
	id, err := NewPlaceID(value)
	if err != nil {
		t.Fatalf("unexpected place id error: %v", err)
	}
	return id
}

func launchedStore(t *testing.T, duration int) PlaceStore {
	t.Helper()
	store, err := NewPlaceStore(&sequenceIDs{}).Launch("Kyoto", duration)
	if err != nil {
		t.Fatalf("launch failed: %v", err)
	}
	return store
}

func mustAdd(t *testing.T, store PlaceStore, day int, name string) (PlaceStore, Place) {
	t.Helper()
	updated, place, err := store.Add(day, PlaceFields{Name: name})
	if err != nil {
		t.Fatalf("add %q failed: %v", name, err)
	}
	return updated, place
}

func placeIDs(places []Place) []PlaceID {
	ids := make([]PlaceID, 0, len(places))
	for _, place := range places {
		ids = append(ids, place.ID)
	}
	return ids
}
