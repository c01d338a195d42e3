package llmclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/deskpilot/api/schemas"
	"github.com/xkilldash9x/deskpilot/internal/config"
)

func TestNewClient(t *testing.T) {
	logger, _ := setupTestLogger(t)

	t.Run("gemini", func(t *testing.T) {
		client, err := NewClient(getValidLLMConfig(), logger)
		require.NoError(t, err)
		assert.IsType(t, &GeminiClient{}, client)
	})

	t.Run("unsupported provider", func(t *testing.T) {
		cfg := getValidLLMConfig()
		cfg.Provider = "openai"
		client, err := NewClient(cfg, logger)
		assert.Nil(t, client)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported LLM provider configured: 'openai'")
	})
}

func routerConfig() config.LLMRouterConfig {
	return config.NewDefaultConfig().Agent().LLM
}

func TestNewRouterFromConfig(t *testing.T) {
	logger, _ := setupTestLogger(t)

	t.Run("shared key reaches both tiers", func(t *testing.T) {
		cfg := routerConfig()
		cfg.APIKey = "shared-key"
		cfg.RequestsPerMinute = 60

		router, err := NewRouterFromConfig(cfg, logger)
		require.NoError(t, err)

		fast := router.clients[schemas.TierFast].(*GeminiClient)
		powerful := router.clients[schemas.TierPowerful].(*GeminiClient)
		assert.Equal(t, "shared-key", fast.apiKey)
		assert.Contains(t, fast.endpoint, "gemini-2.0-flash:generateContent")
		assert.Contains(t, powerful.endpoint, "gemini-2.0-flash-thinking-exp-01-21:generateContent")
		require.NotNil(t, fast.limiter)
		assert.NotSame(t, fast, powerful)
	})

	t.Run("same alias shares one client", func(t *testing.T) {
		cfg := routerConfig()
		cfg.APIKey = "k"
		cfg.DefaultPowerfulModel = cfg.DefaultFastModel

		router, err := NewRouterFromConfig(cfg, logger)
		require.NoError(t, err)
		assert.Same(t, router.clients[schemas.TierFast], router.clients[schemas.TierPowerful])
	})

	t.Run("missing key", func(t *testing.T) {
		_, err := NewRouterFromConfig(routerConfig(), logger)
		require.Error(t, err)
		assert.Contains(t, err.Error(), `failed to create client for model "flash"`)
	})

	t.Run("unknown alias", func(t *testing.T) {
		cfg := routerConfig()
		cfg.APIKey = "k"
		cfg.DefaultPowerfulModel = "missing"
		_, err := NewRouterFromConfig(cfg, logger)
		require.Error(t, err)
		assert.Contains(t, err.Error(), `model "missing" is not configured`)
	})
}
