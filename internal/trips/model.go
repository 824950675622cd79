package trips

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

const (
	maxIdentifierLength = 190
	defaultPlaceName    = "Unknown"
	defaultCategory     = "POINT"
	defaultDuration     = 3
)

var (
	// ErrInvalidTripID indicates that a trip identifier is empty or exceeds storage bounds.
	ErrInvalidTripID = errors.New("trips: invalid trip id")
	// ErrInvalidPlaceID indicates that a place identifier is empty or exceeds storage bounds.
	ErrInvalidPlaceID = errors.New("trips: invalid place id")
	// ErrInvalidDay indicates that a day number is outside the trip's declared day columns.
	ErrInvalidDay = errors.New("trips: invalid day")
	// ErrNotLaunched indicates that the trip has no metadata yet.
	ErrNotLaunched = errors.New("trips: trip not launched")
	// ErrAlreadyLaunched indicates that the trip metadata already exists and cannot be recreated.
	ErrAlreadyLaunched = errors.New("trips: trip already launched")
	// ErrUnknownField indicates that a field name is not an editable text field of a place.
	ErrUnknownField = errors.New("trips: unknown place field")
	// ErrInvalidSnapshot indicates that a trip snapshot failed boundary validation.
	ErrInvalidSnapshot = errors.New("trips: invalid snapshot")
)

// TripID represents a validated trip identifier.
type TripID string

// NewTripID validates raw input and returns a TripID.
func NewTripID(rawInput string) (TripID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidTripID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidTripID, maxIdentifierLength)
	}
	return TripID(trimmed), nil
}

// String returns the underlying string identifier.
func (id TripID) String() string {
	return string(id)
}

// PlaceID represents a validated place identifier.
type PlaceID string

// NewPlaceID validates raw input and returns a PlaceID.
func NewPlaceID(rawInput string) (PlaceID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidPlaceID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidPlaceID, maxIdentifierLength)
	}
	return PlaceID(trimmed), nil
}

// String returns the underlying string identifier.
func (id PlaceID) String() string {
	return string(id)
}

// Place is one itinerary entry. JSON names match the shared trip document.
type Place struct {
	ID          PlaceID  `json:"id" validate:"required,max=190"`
	Name        string   `json:"name"`
	Day         int      `json:"day" validate:"gte=1"`
	Visited     bool     `json:"visited"`
	Transport   string   `json:"transport"`
	Cost        string   `json:"cost"`
	Description string   `json:"description"`
	Category    string   `json:"category,omitempty"`
	Photos      []string `json:"photos,omitempty"`
	MusicLink   string   `json:"musicLink,omitempty"`
}

func (p Place) clone() Place {
	p.Photos = slices.Clone(p.Photos)
	return p
}

// PlaceFields carries the optional text fields used to create a place.
type PlaceFields struct {
	Name        string `json:"name"`
	Category    string `json:"category,omitempty"`
	Description string `json:"description,omitempty"`
	Transport   string `json:"transport,omitempty"`
	Cost        string `json:"cost,omitempty"`
}

// TripMetadata describes the trip as created at launch.
type TripMetadata struct {
	Destination string `json:"destination"`
	Duration    int    `json:"duration" validate:"gte=1"`
}

// Settings holds the receipt currency preferences.
type Settings struct {
	Home   string `json:"home"`
	Target string `json:"target"`
}

// PlaceField enumerates the free-text fields that Update may change.
type PlaceField string

const (
	FieldName        PlaceField = "name"
	FieldTransport   PlaceField = "transport"
	FieldCost        PlaceField = "cost"
	FieldDescription PlaceField = "description"
	FieldCategory    PlaceField = "category"
	FieldMusicLink   PlaceField = "musicLink"
)

// ParsePlaceField maps a raw field name onto a PlaceField.
func ParsePlaceField(rawInput string) (PlaceField, error) {
	switch field := PlaceField(strings.TrimSpace(rawInput)); field {
	case FieldName, FieldTransport, FieldCost, FieldDescription, FieldCategory, FieldMusicLink:
		return field, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownField, rawInput)
	}
}

func (field PlaceField) apply(place *Place, value string) {
	switch field {
	case FieldName:
		place.Name = value
	case FieldTransport:
		place.Transport = value
	case FieldCost:
		place.Cost = value
	case FieldDescription:
		place.Description = value
	case FieldCategory:
		place.Category = value
	case FieldMusicLink:
		place.MusicLink = value
	}
}
