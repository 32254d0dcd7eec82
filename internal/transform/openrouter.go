package transform

import (
	"context"
	"encoding/json"
)

// OpenRouterTransformer wraps the OpenAI-family dialect and inserts
// prompt-caching hints OpenRouter understands when proxying to
// Claude-family models behind it: a cache_control breakpoint on the last
// message so repeated system/tool-definition prefixes are served from
// OpenRouter's cache on the next call.
type OpenRouterTransformer struct {
	*OpenAITransformer
}

func NewOpenRouterTransformer(options map[string]any) *OpenRouterTransformer {
	return &OpenRouterTransformer{OpenAITransformer: NewOpenAITransformer(options)}
}

func (t *OpenRouterTransformer) Name() string { return "openrouter" }

func (t *OpenRouterTransformer) RequestOut(ctx context.Context, body []byte) ([]byte, error) {
	body, err := t.OpenAITransformer.RequestOut(ctx, body)
	if err != nil {
		return nil, err
	}

	var req map[string]any
	if err := json.Unmarshal(body, &req); err != nil {
		return body, nil
	}

	insertCacheControlHint(req)

	return json.Marshal(req)
}

// insertCacheControlHint tags the last message's content with a
// cache_control breakpoint, converting a plain string content field into a
// single-element content-part array so the field can carry the hint.
func insertCacheControlHint(req map[string]any) {
	messages, ok := req["messages"].([]any)
	if !ok || len(messages) == 0 {
		return
	}

	last, ok := messages[len(messages)-1].(map[string]any)
	if !ok {
		return
	}

	switch content := last["content"].(type) {
	case string:
		if content == "" {
			return
		}
		last["content"] = []map[string]any{
			{"type": contentTypeText, "text": content, "cache_control": map[string]any{"type": "ephemeral"}},
		}
	case []any:
		if len(content) == 0 {
			return
		}
		if part, ok := content[len(content)-1].(map[string]any); ok {
			part["cache_control"] = map[string]any{"type": "ephemeral"}
		}
	}
}
