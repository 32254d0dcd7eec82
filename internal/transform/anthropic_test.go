package transform

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnthropicTransformer_IdentityPasses(t *testing.T) {
	tr := NewAnthropicTransformer()
	ctx := context.Background()
	body := []byte(`{"model":"claude-3-5-sonnet-20241022"}`)

	out, err := tr.RequestIn(ctx, body)
	require.NoError(t, err)
	assert.Equal(t, body, out)

	out, err = tr.RequestOut(ctx, body)
	require.NoError(t, err)
	assert.Equal(t, body, out)

	out, err = tr.ResponseIn(ctx, body)
	require.NoError(t, err)
	assert.Equal(t, body, out)

	out, err = tr.ResponseOut(ctx, body)
	require.NoError(t, err)
	assert.Equal(t, body, out)
}

func TestAnthropicTransformer_TransformStreamPassesEventThrough(t *testing.T) {
	tr := NewAnthropicTransformer()
	event := StreamEvent{Event: "content_block_delta", Data: []byte(`{"type":"content_block_delta"}`)}

	out, err := tr.TransformStream(context.Background(), event, NewStreamState())
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, event, out[0])
}

func TestAnthropicTransformer_Name(t *testing.T) {
	assert.Equal(t, "anthropic", NewAnthropicTransformer().Name())
}
