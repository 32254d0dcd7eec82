package transform

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeepSeekTransformer_ClampsTemperatureAboveCeiling(t *testing.T) {
	tr := NewDeepSeekTransformer(nil)

	body := []byte(`{"model":"deepseek-chat","temperature":3.5,"messages":[{"role":"user","content":"hi"}]}`)
	out, err := tr.RequestOut(context.Background(), body)
	require.NoError(t, err)

	var req map[string]any
	require.NoError(t, json.Unmarshal(out, &req))
	assert.Equal(t, 2.0, req["temperature"])
}

func TestDeepSeekTransformer_CustomMaxTemperatureOption(t *testing.T) {
	tr := NewDeepSeekTransformer(map[string]any{"maxTemperature": 1.0})

	body := []byte(`{"model":"deepseek-chat","temperature":1.5,"messages":[{"role":"user","content":"hi"}]}`)
	out, err := tr.RequestOut(context.Background(), body)
	require.NoError(t, err)

	var req map[string]any
	require.NoError(t, json.Unmarshal(out, &req))
	assert.Equal(t, 1.0, req["temperature"])
}

func TestDeepSeekTransformer_LeavesTemperatureBelowCeilingUntouched(t *testing.T) {
	tr := NewDeepSeekTransformer(nil)

	body := []byte(`{"model":"deepseek-chat","temperature":0.7,"messages":[{"role":"user","content":"hi"}]}`)
	out, err := tr.RequestOut(context.Background(), body)
	require.NoError(t, err)

	var req map[string]any
	require.NoError(t, json.Unmarshal(out, &req))
	assert.Equal(t, 0.7, req["temperature"])
}

func TestDeepSeekTransformer_Name(t *testing.T) {
	assert.Equal(t, "deepseek", NewDeepSeekTransformer(nil).Name())
}

func TestDeepSeekTransformer_ResponseIn_DelegatesToOpenAIDialect(t *testing.T) {
	tr := NewDeepSeekTransformer(nil)

	body := []byte(`{
		"id": "cmpl-1",
		"choices": [{"message": {"role": "assistant", "content": "42"}, "finish_reason": "stop"}]
	}`)

	out, err := tr.ResponseIn(context.Background(), body)
	require.NoError(t, err)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(out, &resp))
	assert.Equal(t, "end_turn", resp["stop_reason"])
}
