// Package router classifies an inbound Anthropic-dialect request into a
// (provider, model) target, without ever failing the request: any
// classification error falls back to the configured default route.
package router

import (
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/claude-code-open/cco/internal/config"
	"github.com/claude-code-open/cco/internal/tokenizer"
)

const longContextThreshold = 60000

// backgroundPrefixes lists "small/background" model name prefixes that get
// rerouted to routes.background when present.
var backgroundPrefixes = []string{"claude-3-5-haiku"}

// Classification is the observable result of routing one request.
type Classification struct {
	ClaimedModel   string
	TokenCount     int
	HasThinking    bool
	ExplicitTarget string // non-empty when claimedModel already contained "provider,model"
	Target         string // final "provider,model" string
}

type Router struct {
	counter *tokenizer.Counter
	logger  *slog.Logger
}

func New(counter *tokenizer.Counter, logger *slog.Logger) *Router {
	return &Router{counter: counter, logger: logger}
}

// inboundRequest is the subset of the Anthropic request body the router reads.
type inboundRequest struct {
	Model    string          `json:"model"`
	Thinking json.RawMessage `json:"thinking"`
}

// Route classifies body and returns the rewritten body (model field set to
// the bare model name, provider stripped off) plus the classification it
// used to decide. On any error it logs and falls back to routes.Default,
// exactly as the teacher's selectModel does for a bad body.
func (r *Router) Route(body []byte, routes config.RouterConfig) ([]byte, Classification) {
	var req inboundRequest
	if err := json.Unmarshal(body, &req); err != nil {
		r.logger.Error("router: failed to parse request body, using default route", "error", err)
		return rewriteModel(body, routes.Default, r.logger), Classification{Target: routes.Default}
	}

	cls := Classification{ClaimedModel: req.Model, HasThinking: hasThinking(req.Thinking)}

	if provider, model, ok := explicitTarget(req.Model); ok {
		target := provider + "," + model
		cls.ExplicitTarget = target
		cls.Target = target
		return rewriteModel(body, target, r.logger), cls
	}

	tokenCount, err := r.counter.Count(body)
	if err != nil {
		r.logger.Warn("router: token count unknown, using default route", "error", err)
		cls.Target = routes.Default
		return rewriteModel(body, routes.Default, r.logger), cls
	}
	cls.TokenCount = tokenCount

	target := r.selectTarget(req.Model, tokenCount, cls.HasThinking, routes)
	cls.Target = target

	return rewriteModel(body, target, r.logger), cls
}

// selectTarget implements the first-matching-rule-wins algorithm from the
// classification contract: long-context, then background, then thinking,
// finally the default.
func (r *Router) selectTarget(claimedModel string, tokenCount int, hasThinking bool, routes config.RouterConfig) string {
	if tokenCount > longContextThreshold && routes.LongContext != "" {
		return routes.LongContext
	}

	for _, prefix := range backgroundPrefixes {
		if strings.HasPrefix(claimedModel, prefix) && routes.Background != "" {
			return routes.Background
		}
	}

	if hasThinking && routes.Think != "" {
		return routes.Think
	}

	return routes.Default
}

// explicitTarget reports whether claimedModel already names "provider,model".
func explicitTarget(claimedModel string) (provider, model string, ok bool) {
	if !strings.Contains(claimedModel, ",") {
		return "", "", false
	}
	provider, model, err := config.SplitTarget(claimedModel)
	if err != nil {
		return "", "", false
	}
	return provider, model, true
}

// hasThinking reports whether the thinking/reasoning directive is present
// and non-empty. An empty object ("thinking": {}) does not count.
func hasThinking(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return false
	}
	return len(obj) > 0
}

// rewriteModel sets the request body's model field to target's bare model
// part, stripping the "provider," prefix the client never sent and the
// provider never expects to see in the model field itself.
func rewriteModel(body []byte, target string, logger *slog.Logger) []byte {
	var generic map[string]any
	if err := json.Unmarshal(body, &generic); err != nil {
		logger.Error("router: failed to unmarshal body for model rewrite", "error", err)
		return body
	}

	model := target
	if _, bare, err := config.SplitTarget(target); err == nil {
		model = bare
	}
	generic["model"] = model

	updated, err := json.Marshal(generic)
	if err != nil {
		logger.Error("router: failed to marshal rewritten body", "error", err)
		return body
	}

	return updated
}
