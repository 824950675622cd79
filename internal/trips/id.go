package trips

import (
	"fmt"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	placeIDPrefix = "pl-"
	tripIDPrefix  = "trip-"
)

// IDProvider issues place identifiers.
type IDProvider interface {
	NewID() (string, error)
}

type uuidProvider struct{}

// NewUUIDProvider constructs an IDProvider that issues UUIDv7-backed place identifiers.
func NewUUIDProvider() IDProvider {
	return &uuidProvider{}
}

func (p *uuidProvider) NewID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return placeIDPrefix + value.String(), nil
}

// GenerateTripID returns a URL-friendly identifier for a new shared trip document.
func GenerateTripID() (TripID, error) {
	value, err := gonanoid.New()
	if err != nil {
		return "", fmt.Errorf("generate trip id: %w", err)
	}
	return NewTripID(tripIDPrefix + value)
}
