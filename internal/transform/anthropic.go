package transform

import "context"

// AnthropicTransformer is the identity transformer for providers that
// already speak the Anthropic dialect natively.
type AnthropicTransformer struct {
	IdentityTransformer
}

func NewAnthropicTransformer() *AnthropicTransformer { return &AnthropicTransformer{} }

func (t *AnthropicTransformer) Name() string { return "anthropic" }

func (t *AnthropicTransformer) TransformStream(_ context.Context, event StreamEvent, _ *StreamState) ([]StreamEvent, error) {
	return []StreamEvent{event}, nil
}
