// Package forwarder sends an already-transformed request body to a provider
// over HTTP and hands back its response for the caller to decompress and
// stream or buffer. Grounded on the teacher's handlers/proxy.go ServeHTTP
// outbound-call section, generalized into its own package so the handler
// layer only has to drive the router/transform/forwarder pipeline.
package forwarder

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"github.com/andybalholm/brotli"
	"golang.org/x/time/rate"
)

// Forwarder makes the single outbound call per request: no retries, since a
// retry after partial SSE delivery would duplicate content the client
// already received.
type Forwarder struct {
	client   *http.Client
	logger   *slog.Logger
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New builds a Forwarder. outboundProxy, when non-empty, is used as the
// proxy for every outbound provider call (config.OutboundProxy); an empty
// string leaves the transport on its default (environment-based) behavior.
func New(outboundProxy string, logger *slog.Logger) (*Forwarder, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	if outboundProxy != "" {
		proxyURL, err := url.Parse(outboundProxy)
		if err != nil {
			return nil, fmt.Errorf("parse outbound proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	return &Forwarder{
		client:   &http.Client{Transport: transport},
		logger:   logger,
		limiters: make(map[string]*rate.Limiter),
	}, nil
}

// SetRateLimit configures a per-second outbound rate limit for one provider;
// a zero or negative limit clears any limiter, leaving that provider
// unthrottled.
func (f *Forwarder) SetRateLimit(providerName string, perSecond float64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if perSecond <= 0 {
		delete(f.limiters, providerName)
		return
	}
	f.limiters[providerName] = rate.NewLimiter(rate.Limit(perSecond), 1)
}

func (f *Forwarder) limiterFor(providerName string) *rate.Limiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.limiters[providerName]
}

// AuthHeader names the header a provider's API key should be attached under.
// Gemini takes its key as a plain header rather than a bearer token.
func AuthHeader(providerName string) (key, prefix string) {
	if providerName == "gemini" {
		return "x-goog-api-key", ""
	}
	return "Authorization", "Bearer "
}

// Forward issues the outbound request. ctx carries the client's cancellation:
// if the client disconnects mid-request, the provider call is aborted rather
// than run to completion for nothing.
func (f *Forwarder) Forward(ctx context.Context, method, endpoint string, body []byte, headers http.Header, providerName, apiKey string) (*http.Response, error) {
	if limiter := f.limiterFor(providerName); limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait for %s: %w", providerName, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header = headers.Clone()
	req.ContentLength = int64(len(body))

	if apiKey != "" {
		key, prefix := AuthHeader(providerName)
		req.Header.Set(key, prefix+apiKey)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream request to %s: %w", providerName, err)
	}
	return resp, nil
}

// DecompressReader wraps resp.Body to undo gzip/brotli content-encoding, so
// callers downstream of Forward always read plain bytes.
func DecompressReader(resp *http.Response) (io.Reader, error) {
	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		return gzip.NewReader(resp.Body)
	case "br":
		return brotli.NewReader(resp.Body), nil
	default:
		return resp.Body, nil
	}
}
