package llmclient

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/formpilot/api/schemas"
)

// -- Test Setup Helpers --

// setupGeminiClient points a GeminiClient at a mock HTTP server.
func setupGeminiClient(t *testing.T, handler http.HandlerFunc) (*GeminiClient, *observer.ObservedLogs) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	logger, logs := setupTestLogger(t)
	cfg := getValidLLMConfig()
	cfg.Endpoint = server.URL

	client, err := NewGeminiClient(context.Background(), cfg, logger)
	require.NoError(t, err)

	// No waiting between attempts in tests.
	client.backoffFactory = func() backoff.BackOff {
		return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 2)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client, logs
}

func createTestRequest() schemas.GenerationRequest {
	return schemas.GenerationRequest{
		SystemPrompt: "You produce form values.",
		UserPrompt:   `Fields: [{"id":"email"}]`,
		Options: schemas.GenerationOptions{
			Temperature:     0.2,
			ForceJSONFormat: true,
		},
	}
}

func writeCandidate(t *testing.T, w http.ResponseWriter, text string) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	payload := map[string]any{
		"candidates": []map[string]any{{
			"content": map[string]any{
				"role":  "model",
				"parts": []map[string]any{{"text": text}},
			},
			"finishReason": "STOP",
		}},
		"usageMetadata": map[string]any{
			"promptTokenCount":     12,
			"candidatesTokenCount": 8,
			"totalTokenCount":      20,
		},
	}
	require.NoError(t, json.NewEncoder(w).Encode(payload))
}

// -- Test Cases: Initialization --

func TestNewGeminiClient_MissingAPIKey(t *testing.T) {
	logger, _ := setupTestLogger(t)
	cfg := getValidLLMConfig()
	cfg.APIKey = ""

	client, err := NewGeminiClient(context.Background(), cfg, logger)
	assert.Error(t, err)
	assert.Nil(t, client)
	assert.Contains(t, err.Error(), "API Key is required")
}

func TestNewGeminiClient_Defaults(t *testing.T) {
	logger, _ := setupTestLogger(t)
	cfg := getValidLLMConfig()

	client, err := NewGeminiClient(context.Background(), cfg, logger)
	require.NoError(t, err)
	assert.Equal(t, "test-model", client.model)
	assert.Equal(t, cfg.APITimeout, client.httpClient.Timeout)
	assert.NotNil(t, client.backoffFactory)
	assert.NotNil(t, client.limiter)
}

// -- Test Cases: Request Construction --

func TestBuildGenerateConfig(t *testing.T) {
	client, _ := setupGeminiClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	req := createTestRequest()
	req.Options.TopP = 0.9
	req.Options.TopK = 40
	cfg := client.buildGenerateConfig(req)

	require.NotNil(t, cfg.Temperature)
	assert.InDelta(t, 0.2, *cfg.Temperature, 0.0001)
	require.NotNil(t, cfg.TopP)
	assert.InDelta(t, 0.9, *cfg.TopP, 0.0001)
	require.NotNil(t, cfg.TopK)
	assert.Equal(t, float32(40), *cfg.TopK)
	assert.Equal(t, "application/json", cfg.ResponseMIMEType)
	require.NotNil(t, cfg.SystemInstruction)
	require.Len(t, cfg.SystemInstruction.Parts, 1)
	assert.Equal(t, "You produce form values.", cfg.SystemInstruction.Parts[0].Text)

	plain := client.buildGenerateConfig(schemas.GenerationRequest{UserPrompt: "x"})
	assert.Nil(t, plain.SystemInstruction)
	assert.Empty(t, plain.ResponseMIMEType)
}

// -- Test Cases: Generate --

func TestGenerate_Success(t *testing.T) {
	var received string
	client, _ := setupGeminiClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "test-model:generateContent"), r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		received = string(body)
		writeCandidate(t, w, `{"email":"alex@example.com"}`)
	})

	text, err := client.Generate(context.Background(), createTestRequest())
	require.NoError(t, err)
	assert.Equal(t, `{"email":"alex@example.com"}`, text)
	assert.Contains(t, received, `Fields: [{\"id\":\"email\"}]`)
	assert.Contains(t, received, "You produce form values.")
}

func TestGenerate_RetriesTransientErrors(t *testing.T) {
	var attempts int32
	client, logs := setupGeminiClient(t, func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&attempts, 1)
		if n < 3 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":{"code":503,"message":"overloaded","status":"UNAVAILABLE"}}`))
			return
		}
		writeCandidate(t, w, `{"ok":"yes"}`)
	})

	text, err := client.Generate(context.Background(), createTestRequest())
	require.NoError(t, err)
	assert.Equal(t, `{"ok":"yes"}`, text)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&attempts), int32(3))
	assert.NotZero(t, logs.FilterMessage("Transient error during LLM request, retrying...").Len())
}

func TestGenerate_GivesUpAfterMaxRetries(t *testing.T) {
	var attempts int32
	client, _ := setupGeminiClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"code":500,"message":"boom","status":"INTERNAL"}}`))
	})

	_, err := client.Generate(context.Background(), createTestRequest())
	require.Error(t, err)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&attempts), int32(3), "one call plus two retries")
}

func TestGenerate_NoCandidates(t *testing.T) {
	client, _ := setupGeminiClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[]}`))
	})

	_, err := client.Generate(context.Background(), createTestRequest())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestGenerate_CancelledContext(t *testing.T) {
	var attempts int32
	client, _ := setupGeminiClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		writeCandidate(t, w, "{}")
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Generate(ctx, createTestRequest())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, atomic.LoadInt32(&attempts))
}
