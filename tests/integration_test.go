package tests

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/claude-code-open/cco/internal/config"
	"github.com/claude-code-open/cco/internal/forwarder"
	"github.com/claude-code-open/cco/internal/handlers"
	"github.com/claude-code-open/cco/internal/transform"
)

// TestProxyIntegration drives one request through the whole stack -
// router classification, the openrouter dialect transformer, the forwarder
// - against a fake upstream standing in for openrouter.ai, and checks the
// client gets back an Anthropic-shaped response built from an
// OpenAI-shaped upstream one.
func TestProxyIntegration(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)

		var decoded map[string]any
		require.NoError(t, json.Unmarshal(body, &decoded))
		assert.Equal(t, "test-model", decoded["model"])
		assert.Equal(t, "Bearer test-provider-key", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{
			"id": "chatcmpl-1",
			"choices": [{
				"message": {"role": "assistant", "content": "hello there"},
				"finish_reason": "stop"
			}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 3}
		}`))
	}))
	defer upstream.Close()

	cfg := &config.Config{
		Host:         config.LoopbackHost,
		Port:         config.DefaultPort,
		SharedSecret: "test-secret",
		Providers: []config.Provider{
			{
				Name:    "openrouter",
				APIBase: upstream.URL,
				APIKey:  "test-provider-key",
				Models:  []string{"test-model"},
				Transformer: config.TransformerSpec{
					Use: []config.TransformerRef{{Name: "openrouter"}},
				},
			},
		},
		Router: config.RouterConfig{
			Default: "openrouter,test-model",
		},
	}

	tmpDir := t.TempDir()
	cfgMgr := config.NewManager(tmpDir)
	cfgMgr.Set(cfg)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	registry := transform.NewRegistry()
	require.NoError(t, transform.RegisterBuiltins(registry))

	fwd, err := forwarder.New("", logger)
	require.NoError(t, err)

	handler := handlers.NewProxyHandler(cfgMgr, registry, fwd, logger)

	requestBody := map[string]any{
		"model":      "test-model",
		"max_tokens": 100,
		"messages": []map[string]any{
			{"role": "user", "content": "Hello, world!"},
		},
	}
	jsonBody, err := json.Marshal(requestBody)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(string(jsonBody)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", "test-secret")

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "end_turn", resp["stop_reason"])

	content, ok := resp["content"].([]any)
	require.True(t, ok, "response content should be a list of blocks")
	require.Len(t, content, 1)

	block := content[0].(map[string]any)
	assert.Equal(t, "text", block["type"])
	assert.Equal(t, "hello there", block["text"])
}

// TestProxyIntegration_UnreachableUpstreamReturnsBadGateway exercises the
// forwarder's failure path when the provider can't be reached at all.
func TestProxyIntegration_UnreachableUpstreamReturnsBadGateway(t *testing.T) {
	cfg := &config.Config{
		Host: config.LoopbackHost,
		Port: config.DefaultPort,
		Providers: []config.Provider{
			{
				Name:    "openrouter",
				APIBase: "http://127.0.0.1:1", // nothing listens here
				APIKey:  "test-provider-key",
				Transformer: config.TransformerSpec{
					Use: []config.TransformerRef{{Name: "openrouter"}},
				},
			},
		},
		Router: config.RouterConfig{
			Default: "openrouter,test-model",
		},
	}

	tmpDir := t.TempDir()
	cfgMgr := config.NewManager(tmpDir)
	cfgMgr.Set(cfg)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	registry := transform.NewRegistry()
	require.NoError(t, transform.RegisterBuiltins(registry))

	fwd, err := forwarder.New("", logger)
	require.NoError(t, err)

	handler := handlers.NewProxyHandler(cfgMgr, registry, fwd, logger)

	requestBody := map[string]any{
		"model":      "test-model",
		"max_tokens": 100,
		"messages":   []map[string]any{{"role": "user", "content": "hi"}},
	}
	jsonBody, err := json.Marshal(requestBody)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(string(jsonBody)))
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadGateway, rr.Code)
}
