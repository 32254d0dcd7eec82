package handlers

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/claude-code-open/cco/internal/apierr"
	"github.com/claude-code-open/cco/internal/config"
	"github.com/claude-code-open/cco/internal/forwarder"
	"github.com/claude-code-open/cco/internal/router"
	"github.com/claude-code-open/cco/internal/tokenizer"
	"github.com/claude-code-open/cco/internal/transform"
)

// ProxyHandler drives one request through the full pipeline: classify/route,
// run the transformer chain's request passes, forward to the provider, then
// run the response passes (buffered or streamed) back to the client.
// Grounded on the teacher's ProxyHandler.ServeHTTP, generalized so the
// dialect conversion and provider dispatch live in internal/transform and
// internal/forwarder instead of inline in the handler.
type ProxyHandler struct {
	config    *config.Manager
	router    *router.Router
	builder   *transform.Builder
	forwarder *forwarder.Forwarder
	logger    *slog.Logger
	inFlight  atomic.Int64
}

func NewProxyHandler(cfgMgr *config.Manager, registry *transform.Registry, fwd *forwarder.Forwarder, logger *slog.Logger) *ProxyHandler {
	h := &ProxyHandler{
		config:    cfgMgr,
		router:    router.New(tokenizer.NewCounter(), logger),
		forwarder: fwd,
		logger:    logger,
	}
	h.builder = transform.NewBuilder(registry, h.resolveChainSpecs)
	return h
}

// InFlight reports how many requests this handler currently has open, for
// the supervisor's bounded drain on shutdown.
func (h *ProxyHandler) InFlight() int64 { return h.inFlight.Load() }

// ClearChainCache drops every cached transformer chain; called after a
// config hot-reload, since a cached chain may hold transformers built from
// now-stale options.
func (h *ProxyHandler) ClearChainCache() { h.builder.Clear() }

// resolveChainSpecs looks up the configured transformer chain for a
// (provider, model) target, applying any per-model override. It lives here
// rather than in internal/transform to avoid that package depending on
// internal/config.
func (h *ProxyHandler) resolveChainSpecs(providerName, model string) ([]transform.Spec, error) {
	cfg := h.config.Get()

	for i := range cfg.Providers {
		p := &cfg.Providers[i]
		if p.Name != providerName {
			continue
		}

		use := p.Transformer.Use
		if override, ok := p.Transformer.PerModel[model]; ok && len(override.Use) > 0 {
			use = override.Use
		}

		specs := make([]transform.Spec, 0, len(use))
		for _, ref := range use {
			specs = append(specs, transform.Spec{Name: ref.Name, Options: ref.Options})
		}
		return specs, nil
	}

	return nil, fmt.Errorf("provider %q not configured", providerName)
}

func findProvider(cfg *config.Config, name string) (*config.Provider, error) {
	for i := range cfg.Providers {
		if cfg.Providers[i].Name == name {
			return &cfg.Providers[i], nil
		}
	}
	return nil, fmt.Errorf("provider %q not configured", name)
}

func (h *ProxyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.inFlight.Add(1)
	defer h.inFlight.Add(-1)

	requestID := apierr.NewRequestID()
	ctx := r.Context()
	cfg := h.config.Get()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.writeError(w, apierr.New(apierr.KindRouting, requestID, http.StatusBadRequest, fmt.Errorf("read request body: %w", err)))
		return
	}

	routedBody, cls := h.router.Route(body, cfg.Router)

	providerName, model, err := config.SplitTarget(cls.Target)
	if err != nil {
		h.writeError(w, apierr.Routing(requestID, err))
		return
	}

	providerCfg, err := findProvider(cfg, providerName)
	if err != nil {
		h.writeError(w, apierr.Routing(requestID, err))
		return
	}

	chain, err := h.builder.Chain(providerName, model)
	if err != nil {
		h.writeError(w, apierr.Transform(requestID, "build", err))
		return
	}

	in, err := chain.RequestIn(ctx, routedBody)
	if err != nil {
		h.writeError(w, apierr.Transform(requestID, "requestIn", err))
		return
	}
	out, err := chain.RequestOut(ctx, in)
	if err != nil {
		h.writeError(w, apierr.Transform(requestID, "requestOut", err))
		return
	}

	streaming := isStreamingRequest(routedBody)
	endpoint := buildEndpointURL(providerCfg.APIBase, providerName, model, streaming)

	h.logger.Info("proxying request",
		"request_id", requestID,
		"provider", providerName,
		"model", model,
		"input_tokens", cls.TokenCount,
		"streaming", streaming,
	)

	resp, err := h.forwarder.Forward(ctx, r.Method, endpoint, out, forwardHeaders(r.Header), providerName, providerCfg.APIKey)
	if err != nil {
		if ctx.Err() != nil {
			h.writeError(w, apierr.Cancellation(requestID))
			return
		}
		h.writeError(w, apierr.Provider(requestID, http.StatusBadGateway, err))
		return
	}
	defer resp.Body.Close()

	bodyReader, err := forwarder.DecompressReader(resp)
	if err != nil {
		h.writeError(w, apierr.Provider(requestID, http.StatusBadGateway, fmt.Errorf("decompress upstream response: %w", err)))
		return
	}
	if closer, ok := bodyReader.(io.Closer); ok {
		defer closer.Close()
	}

	if resp.StatusCode != http.StatusOK {
		h.forwardUpstreamError(w, resp, bodyReader)
		return
	}

	if streaming {
		h.handleStreamingResponse(ctx, w, resp, bodyReader, chain, requestID)
	} else {
		h.handleBufferedResponse(ctx, w, resp, bodyReader, chain, requestID)
	}
}

func (h *ProxyHandler) forwardUpstreamError(w http.ResponseWriter, resp *http.Response, bodyReader io.Reader) {
	respBody, _ := io.ReadAll(bodyReader)
	copyHeaders(w, resp)
	w.WriteHeader(resp.StatusCode)
	w.Write(respBody)
}

func (h *ProxyHandler) handleBufferedResponse(ctx context.Context, w http.ResponseWriter, resp *http.Response, bodyReader io.Reader, chain *transform.Chain, requestID string) {
	respBody, err := io.ReadAll(bodyReader)
	if err != nil {
		h.writeError(w, apierr.Provider(requestID, http.StatusBadGateway, fmt.Errorf("read upstream response: %w", err)))
		return
	}

	in, err := chain.ResponseIn(ctx, respBody)
	if err != nil {
		h.writeError(w, apierr.Transform(requestID, "responseIn", err))
		return
	}
	out, err := chain.ResponseOut(ctx, in)
	if err != nil {
		h.writeError(w, apierr.Transform(requestID, "responseOut", err))
		return
	}

	copyHeaders(w, resp)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	w.Write(out)
}

func (h *ProxyHandler) handleStreamingResponse(ctx context.Context, w http.ResponseWriter, resp *http.Response, bodyReader io.Reader, chain *transform.Chain, requestID string) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	copyHeaders(w, resp)
	w.WriteHeader(resp.StatusCode)

	flusher, _ := w.(http.Flusher)
	state := transform.NewStreamState()

	err := transform.ScanSSE(bodyReader, func(event transform.StreamEvent) error {
		out, err := chain.TransformStream(ctx, event, state)
		if err != nil {
			h.logger.Error("stream transform error", "request_id", requestID, "error", err)
			return nil
		}
		for _, ev := range out {
			w.Write(transform.FormatSSEEvent(ev.Event, ev.Data))
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	})
	if err != nil {
		h.logger.Error("stream scan error", "request_id", requestID, "error", err)
	}

	h.logger.Info("completed streaming response", "request_id", requestID, "status", resp.StatusCode)
}

func (h *ProxyHandler) writeError(w http.ResponseWriter, apiErr *apierr.Error) {
	h.logger.Error("request failed",
		"request_id", apiErr.RequestID,
		"kind", apiErr.Kind,
		"step", apiErr.Step,
		"error", apiErr.Err,
	)
	http.Error(w, apiErr.Error(), apiErr.Status)
}

// buildEndpointURL constructs the final endpoint URL for the provider.
// Gemini requires the model in the URL path and a different method name
// depending on whether the request streams.
func buildEndpointURL(baseURL, providerName, model string, streaming bool) string {
	if providerName != "gemini" {
		return baseURL
	}

	method := "generateContent"
	if streaming {
		method = "streamGenerateContent?alt=sse"
	}

	base := strings.TrimSuffix(baseURL, "/")
	if idx := strings.LastIndex(base, "/models/"); idx >= 0 {
		base = base[:idx+len("/models/")-1]
	}
	return fmt.Sprintf("%s/%s:%s", base, model, method)
}

func isStreamingRequest(body []byte) bool {
	return bytes.Contains(body, []byte(`"stream":true`)) || bytes.Contains(body, []byte(`"stream": true`))
}

// forwardHeaders strips the client's own auth headers before forwarding,
// since the provider gets its key set separately by the forwarder.
func forwardHeaders(h http.Header) http.Header {
	out := h.Clone()
	out.Del("Authorization")
	out.Del("X-Api-Key")
	out.Set("Content-Type", "application/json")
	return out
}

func copyHeaders(w http.ResponseWriter, resp *http.Response) {
	for key, values := range resp.Header {
		if key == "Content-Encoding" || key == "Content-Length" {
			continue
		}
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
}
