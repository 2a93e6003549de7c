package inference

import (
	"errors"
	"fmt"
	"strings"
)

// Config controls backend construction.
type Config struct {
	Mode string

	HTTPURL string

	WorkersAIBaseURL   string
	WorkersAIAccountID string
	WorkersAIAPIToken  string
	WorkersAIModel     string

	AnthropicAPIKey string
	AnthropicModel  string
}

// NewBackend builds the backend named by cfg.Mode and reports the resolved mode.
func NewBackend(cfg Config) (Backend, string, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		return newAutoBackend(cfg)
	case "workersai":
		if cfg.WorkersAIAccountID == "" || cfg.WorkersAIAPIToken == "" {
			return nil, "", errors.New("workers ai account id and api token are required for workersai mode")
		}
		return newWorkersAI(cfg), mode, nil
	case "http":
		if strings.TrimSpace(cfg.HTTPURL) == "" {
			return nil, "", errors.New("inference HTTP url is required for http mode")
		}
		return NewHTTPBackend(cfg.HTTPURL), mode, nil
	case "anthropic":
		if strings.TrimSpace(cfg.AnthropicAPIKey) == "" {
			return nil, "", errors.New("anthropic api key is required for anthropic mode")
		}
		return NewAnthropicBackend(cfg.AnthropicAPIKey, cfg.AnthropicModel), mode, nil
	case "mock":
		return NewMockBackend(), mode, nil
	default:
		return nil, "", fmt.Errorf("unsupported inference mode %q", cfg.Mode)
	}
}

func newAutoBackend(cfg Config) (Backend, string, error) {
	switch {
	case cfg.WorkersAIAccountID != "" && cfg.WorkersAIAPIToken != "":
		return newWorkersAI(cfg), "workersai", nil
	case strings.TrimSpace(cfg.AnthropicAPIKey) != "":
		return NewAnthropicBackend(cfg.AnthropicAPIKey, cfg.AnthropicModel), "anthropic", nil
	case strings.TrimSpace(cfg.HTTPURL) != "":
		return NewHTTPBackend(cfg.HTTPURL), "http", nil
	default:
		return NewMockBackend(), "mock", nil
	}
}

func newWorkersAI(cfg Config) *WorkersAIBackend {
	return NewWorkersAIBackend(cfg.WorkersAIBaseURL, cfg.WorkersAIAccountID, cfg.WorkersAIAPIToken, cfg.WorkersAIModel)
}
