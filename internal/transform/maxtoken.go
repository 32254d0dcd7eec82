package transform

import (
	"context"
	"encoding/json"
	"fmt"
)

// MaxTokenTransformer clamps the request's max_tokens to a configured
// ceiling: min(existing, ceiling). A request with no max_tokens at all is
// left untouched, since there is nothing to clamp.
type MaxTokenTransformer struct {
	IdentityTransformer
	ceiling float64
}

func NewMaxTokenTransformer(options map[string]any) (*MaxTokenTransformer, error) {
	ceiling, ok := options["max"].(float64)
	if !ok {
		return nil, fmt.Errorf("maxtoken transformer requires a numeric \"max\" option")
	}
	return &MaxTokenTransformer{ceiling: ceiling}, nil
}

func (t *MaxTokenTransformer) Name() string { return "maxtoken" }

func (t *MaxTokenTransformer) RequestOut(_ context.Context, body []byte) ([]byte, error) {
	var req map[string]any
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("unmarshal request for maxtoken clamp: %w", err)
	}

	existing, ok := req["max_tokens"].(float64)
	if !ok {
		return body, nil
	}

	if existing > t.ceiling {
		req["max_tokens"] = t.ceiling
		return json.Marshal(req)
	}

	return body, nil
}
