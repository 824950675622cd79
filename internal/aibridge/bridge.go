package aibridge

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/MarcoPoloResearchLab/arkiv/backend/internal/trips"
)

const (
	defaultTargetLanguage = "Korean"
	fallbackPlaceName     = "New Place"
	fallbackTip           = "No tips found."
)

var rateNumberPattern = regexp.MustCompile(`(\d+(\.\d+)?)`)

var placeSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"name":        {Type: genai.TypeString},
		"category":    {Type: genai.TypeString},
		"description": {Type: genai.TypeString},
		"transport":   {Type: genai.TypeString},
		"cost":        {Type: genai.TypeString},
	},
	Required: []string{"name", "category", "description", "transport", "cost"},
}

var suggestionsSchema = &genai.Schema{
	Type: genai.TypeArray,
	Items: &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"name":        {Type: genai.TypeString},
			"transport":   {Type: genai.TypeString},
			"cost":        {Type: genai.TypeString},
			"description": {Type: genai.TypeString},
			"category":    {Type: genai.TypeString},
		},
		Required: []string{"name", "transport", "cost", "description"},
	},
}

type Config struct {
	Generator      Generator
	TargetLanguage string
	Logger         *zap.Logger
}

// Bridge turns free text into place data through a Generator. Every call is a
// single round trip without retries; on failure it returns its fallback value
// together with the error so callers can carry on with the fallback.
type Bridge struct {
	generator      Generator
	targetLanguage string
	logger         *zap.Logger
}

func New(cfg Config) *Bridge {
	generator := cfg.Generator
	if generator == nil {
		generator = NewUnavailableGenerator()
	}
	targetLanguage := strings.TrimSpace(cfg.TargetLanguage)
	if targetLanguage == "" {
		targetLanguage = defaultTargetLanguage
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{
		generator:      generator,
		targetLanguage: targetLanguage,
		logger:         logger,
	}
}

// TargetLanguage returns the default translation language.
func (b *Bridge) TargetLanguage() string {
	return b.targetLanguage
}

// ExtractPlace pulls place fields out of free text such as a pasted link or note.
func (b *Bridge) ExtractPlace(ctx context.Context, text string) (trips.PlaceFields, error) {
	fallback := trips.PlaceFields{Name: FallbackPlaceName(text)}
	prompt := fmt.Sprintf("Extract information about the place mentioned in this text: \"%s\". Provide name, category, short description, transport tips, and estimated cost.", text)

	response, err := b.generator.Generate(ctx, Request{Prompt: prompt, ResponseSchema: placeSchema})
	if err != nil {
		b.logFallback("extract_place", err)
		return fallback, err
	}

	var fields trips.PlaceFields
	if err := json.Unmarshal([]byte(response), &fields); err != nil {
		b.logFallback("extract_place", err)
		return fallback, fmt.Errorf("%w: place: %v", ErrMalformedResponse, err)
	}
	if strings.TrimSpace(fields.Name) == "" {
		fields.Name = fallback.Name
	}
	return fields, nil
}

// SuggestItinerary proposes places for one day of a trip to destination.
func (b *Bridge) SuggestItinerary(ctx context.Context, destination string, day int) ([]trips.PlaceFields, error) {
	prompt := fmt.Sprintf("Suggest 3-4 must-visit places for Day %d of a trip to %s. Provide realistic transport info and estimated costs in local currency or USD.", day, destination)

	response, err := b.generator.Generate(ctx, Request{Prompt: prompt, ResponseSchema: suggestionsSchema})
	if err != nil {
		b.logFallback("suggest_itinerary", err)
		return []trips.PlaceFields{}, err
	}

	var decoded []trips.PlaceFields
	if err := json.Unmarshal([]byte(response), &decoded); err != nil {
		b.logFallback("suggest_itinerary", err)
		return []trips.PlaceFields{}, fmt.Errorf("%w: suggestions: %v", ErrMalformedResponse, err)
	}
	suggestions := make([]trips.PlaceFields, 0, len(decoded))
	for _, suggestion := range decoded {
		if strings.TrimSpace(suggestion.Name) == "" {
			continue
		}
		suggestions = append(suggestions, suggestion)
	}
	return suggestions, nil
}

// Translate renders text in targetLanguage, or the configured default when empty.
// Blank input comes back unchanged without a round trip.
func (b *Bridge) Translate(ctx context.Context, text, targetLanguage string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return text, nil
	}
	language := strings.TrimSpace(targetLanguage)
	if language == "" {
		language = b.targetLanguage
	}
	prompt := fmt.Sprintf("Translate the following text to %s. Text: \"%s\"", language, text)

	response, err := b.generator.Generate(ctx, Request{Prompt: prompt})
	if err != nil {
		b.logFallback("translate", err)
		return text, err
	}
	return response, nil
}

// ExchangeRate asks for the live rate between two ISO currency codes. The first
// number in the answer wins; without one the rate is 1.
func (b *Bridge) ExchangeRate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	fallback := decimal.NewFromInt(1)
	prompt := fmt.Sprintf("What is the current exchange rate from %s to %s? Use Google Search for real-time data. Return ONLY the number value of the rate.", from, to)

	response, err := b.generator.Generate(ctx, Request{Prompt: prompt, GroundWithSearch: true})
	if err != nil {
		b.logFallback("exchange_rate", err)
		return fallback, err
	}
	return ParseRate(response), nil
}

// QuickTip returns a one-sentence tip for visiting placeName.
func (b *Bridge) QuickTip(ctx context.Context, placeName string) (string, error) {
	prompt := fmt.Sprintf("Give me a one-sentence pro-tip for visiting %s.", placeName)

	response, err := b.generator.Generate(ctx, Request{Prompt: prompt})
	if err != nil {
		b.logFallback("quick_tip", err)
		return fallbackTip, err
	}
	return response, nil
}

// FallbackPlaceName keeps the text before any link, trimmed.
func FallbackPlaceName(text string) string {
	before, _, _ := strings.Cut(text, "http")
	if name := strings.TrimSpace(before); name != "" {
		return name
	}
	return fallbackPlaceName
}

// ParseRate extracts the first decimal number from text, defaulting to 1.
func ParseRate(text string) decimal.Decimal {
	match := rateNumberPattern.FindString(text)
	if match == "" {
		return decimal.NewFromInt(1)
	}
	value, err := decimal.NewFromString(match)
	if err != nil {
		return decimal.NewFromInt(1)
	}
	return value
}

func (b *Bridge) logFallback(operation string, err error) {
	b.logger.Info("ai bridge fell back",
		zap.String("operation", operation),
		zap.Error(err))
}
