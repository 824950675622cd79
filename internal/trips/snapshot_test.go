package trips

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestSnapshotFieldsUseDocumentKeys(t *testing.T) {
	store := launchedStore(t, 2)
	store, _ = mustAdd(t, store, 1, "Temple")
	store, err := store.SetDayTitle(2, "Day trip")
	if err != nil {
		t.Fatalf("set day title failed: %v", err)
	}

	fields, err := store.Snapshot().Fields()
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	for _, key := range []string{KeyPlaces, KeyMeta, KeyDayTitles} {
		if _, ok := fields[key]; !ok {
			t.Fatalf("expected key %q in %v", key, fields)
		}
	}
	if _, ok := fields[KeySettings]; ok {
		t.Fatalf("did not expect settings without a value")
	}
	if string(fields[KeyDayTitles]) != `{"2":"Day trip"}` {
		t.Fatalf("unexpected day titles encoding: %s", fields[KeyDayTitles])
	}

	decoded, err := DecodeSnapshot(fields)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if diff := cmp.Diff(store.Snapshot(), decoded, cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("unexpected decoded snapshot (-want +got):\n%s", diff)
	}
}

func TestDecodeSnapshotIgnoresUnknownKeysAndFields(t *testing.T) {
	fields := map[string]json.RawMessage{
		KeyPlaces: json.RawMessage(`[{"id":"p1","name":"Temple","day":1,"visited":true,"rating":5}]`),
		KeyMeta:   json.RawMessage(`{"destination":"Kyoto","duration":2}`),
		"theme":   json.RawMessage(`"retro"`),
	}
	snapshot, err := DecodeSnapshot(fields)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(snapshot.Places) != 1 || !snapshot.Places[0].Visited {
		t.Fatalf("unexpected places: %+v", snapshot.Places)
	}
}

func TestDecodeSnapshotRejectsInvalidDocuments(t *testing.T) {
	tests := []struct {
		name   string
		fields map[string]json.RawMessage
	}{
		{
			name:   "missing-id",
			fields: map[string]json.RawMessage{KeyPlaces: json.RawMessage(`[{"name":"x","day":1}]`)},
		},
		{
			name:   "day-zero",
			fields: map[string]json.RawMessage{KeyPlaces: json.RawMessage(`[{"id":"p1","day":0}]`)},
		},
		{
			name: "duplicate-id",
			fields: map[string]json.RawMessage{
				KeyPlaces: json.RawMessage(`[{"id":"p1","day":1},{"id":"p1","day":1}]`),
			},
		},
		{
			name: "day-beyond-duration",
			fields: map[string]json.RawMessage{
				KeyPlaces: json.RawMessage(`[{"id":"p1","day":4}]`),
				KeyMeta:   json.RawMessage(`{"destination":"Kyoto","duration":3}`),
			},
		},
		{
			name:   "zero-duration",
			fields: map[string]json.RawMessage{KeyMeta: json.RawMessage(`{"destination":"Kyoto","duration":0}`)},
		},
		{
			name:   "malformed-places",
			fields: map[string]json.RawMessage{KeyPlaces: json.RawMessage(`{"id":"p1"}`)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeSnapshot(tt.fields); !errors.Is(err, ErrInvalidSnapshot) {
				t.Fatalf("expected ErrInvalidSnapshot, got %v", err)
			}
		})
	}
}

func TestDecodeEmptyDocument(t *testing.T) {
	snapshot, err := DecodeSnapshot(map[string]json.RawMessage{})
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if snapshot.Meta != nil || len(snapshot.Places) != 0 {
		t.Fatalf("expected empty snapshot, got %+v", snapshot)
	}
}
