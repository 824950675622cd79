package trips

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Top-level keys of the shared trip document.
const (
	KeyPlaces    = "places"
	KeyMeta      = "meta"
	KeyDayTitles = "dayTitles"
	KeySettings  = "settings"
)

var snapshotValidator = validator.New(validator.WithRequiredStructEnabled())

// Snapshot is the complete synchronized state of one trip.
type Snapshot struct {
	Places    []Place        `json:"places" validate:"dive"`
	Meta      *TripMetadata  `json:"meta,omitempty" validate:"omitempty"`
	DayTitles map[int]string `json:"dayTitles,omitempty"`
	Settings  *Settings      `json:"settings,omitempty"`
}

// Fields encodes the snapshot as top-level document fields. Absent optional parts are omitted.
func (s Snapshot) Fields() (map[string]json.RawMessage, error) {
	places := s.Places
	if places == nil {
		places = []Place{}
	}
	fields := make(map[string]json.RawMessage, 4)
	if err := putField(fields, KeyPlaces, places); err != nil {
		return nil, err
	}
	if s.Meta != nil {
		if err := putField(fields, KeyMeta, s.Meta); err != nil {
			return nil, err
		}
	}
	if len(s.DayTitles) > 0 {
		if err := putField(fields, KeyDayTitles, s.DayTitles); err != nil {
			return nil, err
		}
	}
	if s.Settings != nil {
		if err := putField(fields, KeySettings, s.Settings); err != nil {
			return nil, err
		}
	}
	return fields, nil
}

// DecodeSnapshot reads the known top-level keys of a trip document and validates them.
// Unknown keys are ignored; malformed or inconsistent known keys reject the snapshot.
func DecodeSnapshot(fields map[string]json.RawMessage) (Snapshot, error) {
	var snapshot Snapshot
	if err := takeField(fields, KeyPlaces, &snapshot.Places); err != nil {
		return Snapshot{}, err
	}
	if raw, ok := fields[KeyMeta]; ok && !isJSONNull(raw) {
		var meta TripMetadata
		if err := json.Unmarshal(raw, &meta); err != nil {
			return Snapshot{}, fmt.Errorf("%w: %s: %v", ErrInvalidSnapshot, KeyMeta, err)
		}
		snapshot.Meta = &meta
	}
	if err := takeField(fields, KeyDayTitles, &snapshot.DayTitles); err != nil {
		return Snapshot{}, err
	}
	if raw, ok := fields[KeySettings]; ok && !isJSONNull(raw) {
		var settings Settings
		if err := json.Unmarshal(raw, &settings); err != nil {
			return Snapshot{}, fmt.Errorf("%w: %s: %v", ErrInvalidSnapshot, KeySettings, err)
		}
		snapshot.Settings = &settings
	}
	if snapshot.Places == nil {
		snapshot.Places = []Place{}
	}
	if err := snapshot.Validate(); err != nil {
		return Snapshot{}, err
	}
	return snapshot, nil
}

// Validate checks field constraints, id uniqueness and that every place sits in a declared day.
func (s Snapshot) Validate() error {
	if err := snapshotValidator.Struct(s); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	seen := make(map[PlaceID]struct{}, len(s.Places))
	for _, place := range s.Places {
		if _, duplicate := seen[place.ID]; duplicate {
			return fmt.Errorf("%w: duplicate place id %s", ErrInvalidSnapshot, place.ID)
		}
		seen[place.ID] = struct{}{}
		if s.Meta != nil && place.Day > s.Meta.Duration {
			return fmt.Errorf("%w: place %s on day %d beyond duration %d", ErrInvalidSnapshot, place.ID, place.Day, s.Meta.Duration)
		}
	}
	return nil
}

func putField(fields map[string]json.RawMessage, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	fields[key] = raw
	return nil
}

func takeField(fields map[string]json.RawMessage, key string, target any) error {
	raw, ok := fields[key]
	if !ok || isJSONNull(raw) {
		return nil
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidSnapshot, key, err)
	}
	return nil
}

func isJSONNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}
