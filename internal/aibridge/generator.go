package aibridge

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/genai"
)

const (
	defaultModel             = "gemini-3-flash-preview"
	defaultRequestsPerSecond = 1.0
	defaultBurst             = 2
)

var (
	// ErrGeneratorUnavailable indicates that no generative backend is configured.
	ErrGeneratorUnavailable = errors.New("aibridge: generator unavailable")
	// ErrMalformedResponse indicates that a structured answer could not be decoded.
	ErrMalformedResponse = errors.New("aibridge: malformed response")
	// ErrEmptyResponse indicates that the backend answered with no text.
	ErrEmptyResponse = errors.New("aibridge: empty response")
	// ErrMissingAPIKey indicates that the Gemini client cannot be built.
	ErrMissingAPIKey = errors.New("aibridge: api key is required")
)

// Request is one prompt round trip. A non-nil ResponseSchema asks for JSON
// output of that shape; GroundWithSearch enables web search grounding.
type Request struct {
	Prompt           string
	ResponseSchema   *genai.Schema
	GroundWithSearch bool
}

// Generator answers a single prompt with text.
type Generator interface {
	Generate(ctx context.Context, request Request) (string, error)
}

type GeminiConfig struct {
	APIKey            string
	Model             string
	RequestsPerSecond float64
	Burst             int
	Logger            *zap.Logger
}

// GeminiGenerator sends prompts to the Gemini API through a shared rate limiter.
type GeminiGenerator struct {
	client  *genai.Client
	model   string
	limiter *rate.Limiter
	logger  *zap.Logger
}

func NewGeminiGenerator(ctx context.Context, cfg GeminiConfig) (*GeminiGenerator, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModel
	}
	requestsPerSecond := cfg.RequestsPerSecond
	if requestsPerSecond <= 0 {
		requestsPerSecond = defaultRequestsPerSecond
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = defaultBurst
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("aibridge: create gemini client: %w", err)
	}

	return &GeminiGenerator{
		client:  client,
		model:   model,
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burst),
		logger:  logger,
	}, nil
}

func (g *GeminiGenerator) Generate(ctx context.Context, request Request) (string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("aibridge: rate limit wait: %w", err)
	}

	config := &genai.GenerateContentConfig{}
	if request.ResponseSchema != nil {
		config.ResponseMIMEType = "application/json"
		config.ResponseSchema = request.ResponseSchema
	}
	if request.GroundWithSearch {
		config.Tools = []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}}
	}

	response, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(request.Prompt), config)
	if err != nil {
		g.logger.Warn("gemini request failed", zap.String("model", g.model), zap.Error(err))
		return "", fmt.Errorf("aibridge: generate content: %w", err)
	}
	text := strings.TrimSpace(response.Text())
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

type unavailableGenerator struct{}

// NewUnavailableGenerator returns a Generator that always fails with
// ErrGeneratorUnavailable, leaving every bridge call on its fallback value.
func NewUnavailableGenerator() Generator {
	return unavailableGenerator{}
}

func (unavailableGenerator) Generate(context.Context, Request) (string, error) {
	return "", ErrGeneratorUnavailable
}
