package forwarder

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestForward_SetsBearerAuthHeader(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	f, err := New("", discardLogger())
	require.NoError(t, err)

	resp, err := f.Forward(context.Background(), http.MethodPost, server.URL, []byte(`{}`), http.Header{}, "openai", "sk-test")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "Bearer sk-test", gotAuth)
}

func TestForward_SetsGeminiHeader(t *testing.T) {
	var gotHeader, gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("x-goog-api-key")
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	f, err := New("", discardLogger())
	require.NoError(t, err)

	resp, err := f.Forward(context.Background(), http.MethodPost, server.URL, []byte(`{}`), http.Header{}, "gemini", "gm-test")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "gm-test", gotHeader)
	assert.Empty(t, gotAuth)
}

func TestForward_NoAuthHeaderWhenKeyEmpty(t *testing.T) {
	var sawAuth bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawAuth = r.Header.Get("Authorization") != ""
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	f, err := New("", discardLogger())
	require.NoError(t, err)

	resp, err := f.Forward(context.Background(), http.MethodPost, server.URL, []byte(`{}`), http.Header{}, "openai", "")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.False(t, sawAuth)
}

func TestForward_HonorsCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	f, err := New("", discardLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = f.Forward(ctx, http.MethodPost, server.URL, []byte(`{}`), http.Header{}, "openai", "sk-test")
	require.Error(t, err)
}

func TestNew_InvalidProxyURL(t *testing.T) {
	_, err := New("://not-a-url", discardLogger())
	require.Error(t, err)
}

func TestForward_RateLimitDelaysSecondCall(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	f, err := New("", discardLogger())
	require.NoError(t, err)
	f.SetRateLimit("openai", 0.001) // effectively one token available, then a long wait

	resp1, err := f.Forward(context.Background(), http.MethodPost, server.URL, []byte(`{}`), http.Header{}, "openai", "")
	require.NoError(t, err)
	resp1.Body.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = f.Forward(ctx, http.MethodPost, server.URL, []byte(`{}`), http.Header{}, "openai", "")
	require.Error(t, err, "second call should be throttled past the context deadline")

	assert.Equal(t, 1, calls)
}

func TestForward_ClearingRateLimitRemovesLimiter(t *testing.T) {
	f, err := New("", discardLogger())
	require.NoError(t, err)
	f.SetRateLimit("openai", 5)
	f.SetRateLimit("openai", 0)
	assert.Nil(t, f.limiterFor("openai"))
}

func TestDecompressReader_PlainPassthrough(t *testing.T) {
	resp := &http.Response{Header: http.Header{}, Body: io.NopCloser(nil)}
	r, err := DecompressReader(resp)
	require.NoError(t, err)
	assert.Equal(t, resp.Body, r)
}
