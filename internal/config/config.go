package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                      = "ARKIV"
	defaultHTTPAddress             = "0.0.0.0:8080"
	defaultDatabasePath            = "arkiv.db"
	defaultLogLevel                = "info"
	defaultLogFormat               = "json"
	defaultTripID                  = "lucky-trip"
	defaultShareBaseURL            = "http://localhost:5173/"
	defaultGeminiModel             = "gemini-3-flash-preview"
	defaultGeminiRequestsPerSecond = 1.0
	defaultGeminiBurst             = 2
	defaultHomeCurrency            = "KRW"
	defaultTargetLanguage          = "Korean"
	defaultPushTimeout             = 10 * time.Second
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress             string
	DatabasePath            string
	LogLevel                string
	LogFormat               string
	DefaultTripID           string
	ShareBaseURL            string
	GeminiAPIKey            string
	GeminiModel             string
	GeminiRequestsPerSecond float64
	GeminiBurst             int
	HomeCurrency            string
	TargetLanguage          string
	PushTimeout             time.Duration
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.format", defaultLogFormat)
	configViper.SetDefault("trip.default_id", defaultTripID)
	configViper.SetDefault("share.base_url", defaultShareBaseURL)
	configViper.SetDefault("gemini.api_key", "")
	configViper.SetDefault("gemini.model", defaultGeminiModel)
	configViper.SetDefault("gemini.requests_per_second", defaultGeminiRequestsPerSecond)
	configViper.SetDefault("gemini.burst", defaultGeminiBurst)
	configViper.SetDefault("receipt.home_currency", defaultHomeCurrency)
	configViper.SetDefault("translate.target_language", defaultTargetLanguage)
	configViper.SetDefault("sync.push_timeout", defaultPushTimeout)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:             configViper.GetString("http.address"),
		DatabasePath:            configViper.GetString("database.path"),
		LogLevel:                configViper.GetString("log.level"),
		LogFormat:               configViper.GetString("log.format"),
		DefaultTripID:           strings.TrimSpace(configViper.GetString("trip.default_id")),
		ShareBaseURL:            strings.TrimSpace(configViper.GetString("share.base_url")),
		GeminiAPIKey:            strings.TrimSpace(configViper.GetString("gemini.api_key")),
		GeminiModel:             strings.TrimSpace(configViper.GetString("gemini.model")),
		GeminiRequestsPerSecond: configViper.GetFloat64("gemini.requests_per_second"),
		GeminiBurst:             configViper.GetInt("gemini.burst"),
		HomeCurrency:            strings.ToUpper(strings.TrimSpace(configViper.GetString("receipt.home_currency"))),
		TargetLanguage:          strings.TrimSpace(configViper.GetString("translate.target_language")),
		PushTimeout:             configViper.GetDuration("sync.push_timeout"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.DefaultTripID == "" {
		return fmt.Errorf("trip.default_id is required")
	}
	if c.GeminiRequestsPerSecond <= 0 {
		return fmt.Errorf("gemini.requests_per_second must be positive")
	}
	if c.GeminiBurst < 1 {
		return fmt.Errorf("gemini.burst must be at least 1")
	}
	if c.PushTimeout <= 0 {
		return fmt.Errorf("sync.push_timeout must be positive")
	}
	switch strings.ToLower(strings.TrimSpace(c.LogFormat)) {
	case "json", "console":
	default:
		return fmt.Errorf("log.format must be json or console")
	}
	return nil
}
