package llmclient

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/deskpilot/api/schemas"
)

func setupRouter(t *testing.T) (*LLMRouter, *MockLLMClient, *MockLLMClient, *observer.ObservedLogs) {
	t.Helper()
	logger, logs := setupTestLogger(t)
	fastClient := &MockLLMClient{Name: "FastClient"}
	powerfulClient := &MockLLMClient{Name: "PowerfulClient"}

	router, err := NewLLMRouter(logger, fastClient, powerfulClient)
	require.NoError(t, err)
	return router, fastClient, powerfulClient, logs
}

func TestNewLLMRouter_MissingClients(t *testing.T) {
	logger, _ := setupTestLogger(t)
	valid := new(MockLLMClient)

	tests := []struct {
		name     string
		fast     schemas.LLMClient
		powerful schemas.LLMClient
	}{
		{"Missing Fast Client", nil, valid},
		{"Missing Powerful Client", valid, nil},
		{"Missing Both Clients", nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, err := NewLLMRouter(logger, tt.fast, tt.powerful)
			assert.Nil(t, router)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "both fast and powerful tier clients must be provided")
		})
	}
}

func TestGenerate_Routing(t *testing.T) {
	tests := []struct {
		name      string
		tier      schemas.ModelTier
		wantFast  bool
		wantReply string
	}{
		{"fast tier", schemas.TierFast, true, "fast"},
		{"powerful tier", schemas.TierPowerful, false, "powerful"},
		{"empty tier defaults to powerful", "", false, "powerful"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, fast, powerful, logs := setupRouter(t)
			req := schemas.GenerationRequest{UserPrompt: "x", Tier: tt.tier}
			if tt.wantFast {
				fast.On("Generate", mock.Anything, req).Return("fast", nil).Once()
			} else {
				powerful.On("Generate", mock.Anything, req).Return("powerful", nil).Once()
			}

			out, err := router.Generate(context.Background(), req)
			require.NoError(t, err)
			assert.Equal(t, tt.wantReply, out)

			fast.AssertExpectations(t)
			powerful.AssertExpectations(t)
			assert.Equal(t, 1, logs.FilterMessage("Routing LLM request").Len())
		})
	}
}

func TestGenerate_UnknownTier(t *testing.T) {
	router, fast, powerful, _ := setupRouter(t)
	_, err := router.Generate(context.Background(), schemas.GenerationRequest{Tier: "tiny"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no LLM client configured for tier: tiny")
	fast.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
	powerful.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
}

func TestGenerate_PropagatesClientError(t *testing.T) {
	router, _, powerful, _ := setupRouter(t)
	boom := errors.New("quota exhausted")
	powerful.On("Generate", mock.Anything, mock.Anything).Return("", boom)

	_, err := router.Generate(context.Background(), schemas.GenerationRequest{})
	assert.ErrorIs(t, err, boom)
}

func TestRouterClose(t *testing.T) {
	t.Run("closes each client", func(t *testing.T) {
		router, fast, powerful, _ := setupRouter(t)
		fast.On("Close").Return(nil).Once()
		powerful.On("Close").Return(errors.New("already closed")).Once()

		err := router.Close()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "closing powerful client")
		fast.AssertExpectations(t)
		powerful.AssertExpectations(t)
	})

	t.Run("shared client closes once", func(t *testing.T) {
		logger, _ := setupTestLogger(t)
		shared := &MockLLMClient{}
		shared.On("Close").Return(nil).Once()
		router, err := NewLLMRouter(logger, shared, shared)
		require.NoError(t, err)

		require.NoError(t, router.Close())
		shared.AssertNumberOfCalls(t, "Close", 1)
	})
}
