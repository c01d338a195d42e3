// internal/llmclient/factory.go
package llmclient

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/deskpilot/api/schemas"
	"github.com/xkilldash9x/deskpilot/internal/config"
)

// NewClient creates a client for a single configured model.
func NewClient(cfg config.LLMModelConfig, logger *zap.Logger, opts ...ClientOption) (schemas.LLMClient, error) {
	switch cfg.Provider {
	case config.ProviderGemini, "":
		return NewGeminiClient(cfg, logger, opts...)
	default:
		return nil, fmt.Errorf("unknown or unsupported LLM provider configured: '%s'. Supported: [%s]", cfg.Provider, config.ProviderGemini)
	}
}

// NewRouterFromConfig builds the fast and powerful clients named in cfg and
// wraps them in an LLMRouter. When both tiers name the same model, one client
// serves both.
func NewRouterFromConfig(cfg config.LLMRouterConfig, logger *zap.Logger) (*LLMRouter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := []ClientOption{WithRequestsPerMinute(cfg.RequestsPerMinute)}

	build := func(alias string) (schemas.LLMClient, error) {
		m, ok := cfg.Models[alias]
		if !ok {
			return nil, fmt.Errorf("model %q is not configured", alias)
		}
		if m.APIKey == "" {
			m.APIKey = cfg.APIKey
		}
		client, err := NewClient(m, logger, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create client for model %q: %w", alias, err)
		}
		return client, nil
	}

	fast, err := build(cfg.DefaultFastModel)
	if err != nil {
		return nil, err
	}
	powerful := fast
	if cfg.DefaultPowerfulModel != cfg.DefaultFastModel {
		powerful, err = build(cfg.DefaultPowerfulModel)
		if err != nil {
			return nil, errors.Join(err, fast.Close())
		}
	}
	return NewLLMRouter(logger, fast, powerful)
}
