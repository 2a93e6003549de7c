package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the chat relay.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	LogLevel         string

	DefaultSessionID string

	DatabaseURL    string
	SQLitePath     string
	MemoryURL      string
	MemoryBindAddr string

	InferenceMode      string
	InferenceHTTPURL   string
	InferenceTimeout   time.Duration
	InferenceMaxTokens int

	WorkersAIBaseURL   string
	WorkersAIAccountID string
	WorkersAIAPIToken  string
	WorkersAIModel     string

	AnthropicAPIKey string
	AnthropicModel  string

	WSAllowAnyOrigin bool
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:           envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:   envOrDefault("APP_METRICS_NAMESPACE", "chatrelay"),
		LogLevel:           envOrDefault("LOG_LEVEL", "info"),
		DefaultSessionID:   envOrDefault("DEFAULT_SESSION_ID", "default-session"),
		DatabaseURL:        stringsTrimSpace("DATABASE_URL"),
		SQLitePath:         stringsTrimSpace("SQLITE_PATH"),
		MemoryURL:          stringsTrimSpace("MEMORY_URL"),
		MemoryBindAddr:     envOrDefault("MEMORY_BIND_ADDR", ":8081"),
		InferenceMode:      envOrDefault("INFERENCE_MODE", "auto"),
		InferenceHTTPURL:   stringsTrimSpace("INFERENCE_HTTP_URL"),
		WorkersAIBaseURL:   envOrDefault("WORKERS_AI_BASE_URL", "https://api.cloudflare.com/client/v4"),
		WorkersAIAccountID: stringsTrimSpace("WORKERS_AI_ACCOUNT_ID"),
		WorkersAIAPIToken:  stringsTrimSpace("WORKERS_AI_API_TOKEN"),
		WorkersAIModel:     envOrDefault("WORKERS_AI_MODEL", "@cf/meta/llama-3.3-70b-instruct-fp8-fast"),
		AnthropicAPIKey:    stringsTrimSpace("ANTHROPIC_API_KEY"),
		AnthropicModel:     envOrDefault("ANTHROPIC_MODEL", "claude-3-7-sonnet-latest"),
		ShutdownTimeout:    15 * time.Second,
		InferenceTimeout:   30 * time.Second,
		InferenceMaxTokens: 256,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.InferenceTimeout, err = durationFromEnv("INFERENCE_TIMEOUT", cfg.InferenceTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.InferenceMaxTokens, err = intFromEnv("INFERENCE_MAX_TOKENS", cfg.InferenceMaxTokens)
	if err != nil {
		return Config{}, err
	}
	cfg.WSAllowAnyOrigin, err = boolFromEnv("WS_ALLOW_ANY_ORIGIN", cfg.WSAllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks invariants that do not depend on where the values came from.
func (c Config) Validate() error {
	if c.InferenceTimeout <= 0 {
		return fmt.Errorf("INFERENCE_TIMEOUT must be positive")
	}
	if c.InferenceMaxTokens <= 0 {
		return fmt.Errorf("INFERENCE_MAX_TOKENS must be positive")
	}
	if strings.TrimSpace(c.DefaultSessionID) == "" {
		return fmt.Errorf("DEFAULT_SESSION_ID must not be blank")
	}
	switch strings.ToLower(c.InferenceMode) {
	case "auto", "workersai", "http", "anthropic", "mock":
	default:
		return fmt.Errorf("invalid INFERENCE_MODE: %q (expected auto|workersai|http|anthropic|mock)", c.InferenceMode)
	}
	if c.DatabaseURL != "" && c.SQLitePath != "" {
		return fmt.Errorf("DATABASE_URL and SQLITE_PATH are mutually exclusive")
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
