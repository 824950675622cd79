package trips

import (
	"fmt"
	"maps"
	"strings"
)

// PlaceStore is the immutable in-memory state of one trip. Every mutation returns a
// new PlaceStore and leaves the receiver untouched, so values can be shared freely.
type PlaceStore struct {
	places    []Place
	meta      *TripMetadata
	dayTitles map[int]string
	settings  *Settings
	ids       IDProvider
}

// NewPlaceStore returns an empty, unlaunched store that issues ids from ids.
func NewPlaceStore(ids IDProvider) PlaceStore {
	if ids == nil {
		ids = NewUUIDProvider()
	}
	return PlaceStore{ids: ids}
}

// Launched reports whether trip metadata exists.
func (s PlaceStore) Launched() bool {
	return s.meta != nil
}

// Meta returns the trip metadata and whether the trip has been launched.
func (s PlaceStore) Meta() (TripMetadata, bool) {
	if s.meta == nil {
		return TripMetadata{}, false
	}
	return *s.meta, true
}

// Places returns a copy of the full ordered collection.
func (s PlaceStore) Places() []Place {
	places := make([]Place, 0, len(s.places))
	for _, place := range s.places {
		places = append(places, place.clone())
	}
	return places
}

// ByDay returns the places of one day column in stored order.
func (s PlaceStore) ByDay(day int) []Place {
	places := make([]Place, 0)
	for _, place := range s.places {
		if place.Day == day {
			places = append(places, place.clone())
		}
	}
	return places
}

// Find returns the place with id.
func (s PlaceStore) Find(id PlaceID) (Place, bool) {
	index := indexOfPlace(s.places, id)
	if index < 0 {
		return Place{}, false
	}
	return s.places[index].clone(), true
}

// DayTitle returns the custom title of a day column, if any.
func (s PlaceStore) DayTitle(day int) (string, bool) {
	title, ok := s.dayTitles[day]
	return title, ok
}

// Settings returns the currency settings, if any were saved.
func (s PlaceStore) Settings() (Settings, bool) {
	if s.settings == nil {
		return Settings{}, false
	}
	return *s.settings, true
}

// Progress returns the fraction of places marked visited.
func (s PlaceStore) Progress() float64 {
	if len(s.places) == 0 {
		return 0
	}
	visited := 0
	for _, place := range s.places {
		if place.Visited {
			visited++
		}
	}
	return float64(visited) / float64(len(s.places))
}

// Launch creates the trip metadata. Durations below one fall back to three days.
// A launched trip keeps its metadata; days only grow through AddDay.
func (s PlaceStore) Launch(destination string, duration int) (PlaceStore, error) {
	if s.meta != nil {
		return s, ErrAlreadyLaunched
	}
	if duration < 1 {
		duration = defaultDuration
	}
	s.meta = &TripMetadata{Destination: strings.TrimSpace(destination), Duration: duration}
	return s, nil
}

// AddDay appends one day column.
func (s PlaceStore) AddDay() (PlaceStore, error) {
	if s.meta == nil {
		return s, ErrNotLaunched
	}
	meta := *s.meta
	meta.Duration++
	s.meta = &meta
	return s, nil
}

// SetDayTitle stores a custom title for a declared day.
func (s PlaceStore) SetDayTitle(day int, title string) (PlaceStore, error) {
	if err := s.checkDay(day); err != nil {
		return s, err
	}
	titles := make(map[int]string, len(s.dayTitles)+1)
	maps.Copy(titles, s.dayTitles)
	titles[day] = title
	s.dayTitles = titles
	return s, nil
}

// SetSettings replaces the currency settings.
func (s PlaceStore) SetSettings(settings Settings) PlaceStore {
	s.settings = &settings
	return s
}

// Add appends a new place to the end of the collection under day.
func (s PlaceStore) Add(day int, fields PlaceFields) (PlaceStore, Place, error) {
	if err := s.checkDay(day); err != nil {
		return s, Place{}, err
	}
	place, err := s.newPlace(day, fields)
	if err != nil {
		return s, Place{}, err
	}
	s.places = appendPlaces(s.places, place)
	return s, place.clone(), nil
}

// AddSuggestions appends every suggestion under day, unvisited, in the given order.
func (s PlaceStore) AddSuggestions(day int, suggestions []PlaceFields) (PlaceStore, []Place, error) {
	if err := s.checkDay(day); err != nil {
		return s, nil, err
	}
	added := make([]Place, 0, len(suggestions))
	for _, fields := range suggestions {
		place, err := s.newPlace(day, fields)
		if err != nil {
			return s, nil, err
		}
		added = append(added, place)
	}
	s.places = appendPlaces(s.places, added...)
	result := make([]Place, 0, len(added))
	for _, place := range added {
		result = append(result, place.clone())
	}
	return s, result, nil
}

// Update sets one text field of the place with id. Unknown ids are ignored.
func (s PlaceStore) Update(id PlaceID, field PlaceField, value string) (PlaceStore, error) {
	if _, err := ParsePlaceField(string(field)); err != nil {
		return s, err
	}
	return s.modify(id, func(place *Place) {
		field.apply(place, value)
	}), nil
}

// ToggleVisited flips the visited flag of the place with id.
func (s PlaceStore) ToggleVisited(id PlaceID) PlaceStore {
	return s.modify(id, func(place *Place) {
		place.Visited = !place.Visited
	})
}

// MoveToDay reassigns the day of a place without changing its rank.
func (s PlaceStore) MoveToDay(id PlaceID, day int) (PlaceStore, error) {
	if err := s.checkDay(day); err != nil {
		return s, err
	}
	return s.modify(id, func(place *Place) {
		place.Day = day
	}), nil
}

// AddPhoto appends an image reference to the place with id.
func (s PlaceStore) AddPhoto(id PlaceID, reference string) PlaceStore {
	return s.modify(id, func(place *Place) {
		place.Photos = append(place.Photos, reference)
	})
}

// RemovePhoto drops the photo at index. Out of range indexes are ignored.
func (s PlaceStore) RemovePhoto(id PlaceID, index int) PlaceStore {
	return s.modify(id, func(place *Place) {
		if index < 0 || index >= len(place.Photos) {
			return
		}
		place.Photos = append(place.Photos[:index], place.Photos[index+1:]...)
	})
}

// Remove deletes the place with id.
func (s PlaceStore) Remove(id PlaceID) PlaceStore {
	index := indexOfPlace(s.places, id)
	if index < 0 {
		return s
	}
	places := make([]Place, 0, len(s.places)-1)
	places = append(places, s.places[:index]...)
	places = append(places, s.places[index+1:]...)
	s.places = places
	return s
}

// Reorder applies a drag-and-drop move of movedID onto targetID.
func (s PlaceStore) Reorder(movedID, targetID PlaceID) PlaceStore {
	s.places = Reorder(s.places, movedID, targetID)
	return s
}

// Snapshot returns the whole trip state in its synchronized form.
func (s PlaceStore) Snapshot() Snapshot {
	snapshot := Snapshot{Places: s.Places()}
	if s.meta != nil {
		meta := *s.meta
		snapshot.Meta = &meta
	}
	if len(s.dayTitles) > 0 {
		snapshot.DayTitles = maps.Clone(s.dayTitles)
	}
	if s.settings != nil {
		settings := *s.settings
		snapshot.Settings = &settings
	}
	return snapshot
}

// Replace discards all local state in favour of snapshot. Nothing is merged.
func (s PlaceStore) Replace(snapshot Snapshot) PlaceStore {
	replaced := PlaceStore{ids: s.ids}
	replaced.places = make([]Place, 0, len(snapshot.Places))
	for _, place := range snapshot.Places {
		replaced.places = append(replaced.places, place.clone())
	}
	if snapshot.Meta != nil {
		meta := *snapshot.Meta
		replaced.meta = &meta
	}
	if len(snapshot.DayTitles) > 0 {
		replaced.dayTitles = maps.Clone(snapshot.DayTitles)
	}
	if snapshot.Settings != nil {
		settings := *snapshot.Settings
		replaced.settings = &settings
	}
	return replaced
}

func (s PlaceStore) checkDay(day int) error {
	if s.meta == nil {
		return ErrNotLaunched
	}
	if day < 1 || day > s.meta.Duration {
		return fmt.Errorf("%w: %d not in 1..%d", ErrInvalidDay, day, s.meta.Duration)
	}
	return nil
}

func (s PlaceStore) newPlace(day int, fields PlaceFields) (Place, error) {
	rawID, err := s.ids.NewID()
	if err != nil {
		return Place{}, fmt.Errorf("generate place id: %w", err)
	}
	id, err := NewPlaceID(rawID)
	if err != nil {
		return Place{}, err
	}
	place := Place{
		ID:          id,
		Name:        strings.TrimSpace(fields.Name),
		Day:         day,
		Transport:   fields.Transport,
		Cost:        fields.Cost,
		Description: fields.Description,
		Category:    strings.TrimSpace(fields.Category),
		Photos:      []string{},
	}
	if place.Name == "" {
		place.Name = defaultPlaceName
	}
	if place.Category == "" {
		place.Category = defaultCategory
	}
	return place, nil
}

// modify copies the collection and edits the copy of the matching place in position.
func (s PlaceStore) modify(id PlaceID, edit func(*Place)) PlaceStore {
	index := indexOfPlace(s.places, id)
	if index < 0 {
		return s
	}
	places := make([]Place, len(s.places))
	copy(places, s.places)
	place := places[index].clone()
	edit(&place)
	places[index] = place
	s.places = places
	return s
}

func appendPlaces(existing []Place, added ...Place) []Place {
	places := make([]Place, 0, len(existing)+len(added))
	places = append(places, existing...)
	return append(places, added...)
}
