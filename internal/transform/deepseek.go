package transform

import (
	"context"
	"encoding/json"
)

// DeepSeekTransformer wraps the OpenAI-family dialect with DeepSeek-specific
// parameter clamping: DeepSeek rejects temperature above 2.0 and has no
// legacy max_tokens quirk, so it reuses OpenAITransformer verbatim for the
// dialect crossing and only adds a request-out clamp pass.
type DeepSeekTransformer struct {
	*OpenAITransformer
	maxTemperature float64
}

func NewDeepSeekTransformer(options map[string]any) *DeepSeekTransformer {
	t := &DeepSeekTransformer{OpenAITransformer: NewOpenAITransformer(options), maxTemperature: 2.0}
	if v, ok := options["maxTemperature"].(float64); ok {
		t.maxTemperature = v
	}
	return t
}

func (t *DeepSeekTransformer) Name() string { return "deepseek" }

func (t *DeepSeekTransformer) RequestOut(ctx context.Context, body []byte) ([]byte, error) {
	body, err := t.OpenAITransformer.RequestOut(ctx, body)
	if err != nil {
		return nil, err
	}

	var req map[string]any
	if err := json.Unmarshal(body, &req); err != nil {
		return body, nil
	}

	if temp, ok := req["temperature"].(float64); ok && temp > t.maxTemperature {
		req["temperature"] = t.maxTemperature
		body, _ = json.Marshal(req)
	}

	return body, nil
}
