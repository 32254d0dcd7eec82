package transform

import (
	"context"
	"encoding/json"
)

// GroqTransformer wraps the OpenAI-family dialect for Groq's API. The
// embedded OpenAITransformer already sends max_completion_tokens by default;
// the only addition is a thin request-out pass that drops the logprobs and
// top_logprobs fields Groq does not support.
type GroqTransformer struct {
	*OpenAITransformer
}

func NewGroqTransformer(options map[string]any) *GroqTransformer {
	return &GroqTransformer{OpenAITransformer: NewOpenAITransformer(options)}
}

func (t *GroqTransformer) Name() string { return "groq" }

func (t *GroqTransformer) RequestOut(ctx context.Context, body []byte) ([]byte, error) {
	body, err := t.OpenAITransformer.RequestOut(ctx, body)
	if err != nil {
		return nil, err
	}

	var req map[string]any
	if err := json.Unmarshal(body, &req); err != nil {
		return body, nil
	}

	// Groq does not support logprobs or top_logprobs on chat completions.
	delete(req, "logprobs")
	delete(req, "top_logprobs")

	return json.Marshal(req)
}
