package transform

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMaxTokenTransformer_RequiresNumericMax(t *testing.T) {
	_, err := NewMaxTokenTransformer(map[string]any{})
	require.Error(t, err)

	_, err = NewMaxTokenTransformer(map[string]any{"max": "8192"})
	require.Error(t, err)

	_, err = NewMaxTokenTransformer(map[string]any{"max": float64(8192)})
	require.NoError(t, err)
}

func TestMaxTokenTransformer_ClampsAboveCeiling(t *testing.T) {
	tr, err := NewMaxTokenTransformer(map[string]any{"max": float64(4096)})
	require.NoError(t, err)

	body := []byte(`{"model":"x","max_tokens":8192}`)
	out, err := tr.RequestOut(context.Background(), body)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out, &decoded))
	assert.Equal(t, float64(4096), decoded["max_tokens"])
}

func TestMaxTokenTransformer_LeavesBelowCeilingUntouched(t *testing.T) {
	tr, err := NewMaxTokenTransformer(map[string]any{"max": float64(4096)})
	require.NoError(t, err)

	body := []byte(`{"model":"x","max_tokens":1024}`)
	out, err := tr.RequestOut(context.Background(), body)
	require.NoError(t, err)
	assert.Equal(t, body, out)
}

func TestMaxTokenTransformer_NoMaxTokensFieldLeftUntouched(t *testing.T) {
	tr, err := NewMaxTokenTransformer(map[string]any{"max": float64(4096)})
	require.NoError(t, err)

	body := []byte(`{"model":"x"}`)
	out, err := tr.RequestOut(context.Background(), body)
	require.NoError(t, err)
	assert.Equal(t, body, out)
}
