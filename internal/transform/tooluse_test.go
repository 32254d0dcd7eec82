package transform

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToolUseTransformer_RequestIn_InjectsExitToolAndForcesChoice(t *testing.T) {
	tr := NewToolUseTransformer(nil)

	body := []byte(`{"model":"x","tools":[{"name":"lookup"}]}`)
	out, err := tr.RequestIn(context.Background(), body)
	require.NoError(t, err)

	var req map[string]any
	require.NoError(t, json.Unmarshal(out, &req))

	tools, ok := req["tools"].([]any)
	require.True(t, ok)
	require.Len(t, tools, 2)

	last := tools[1].(map[string]any)
	assert.Equal(t, exitToolName, last["name"])

	choice, ok := req["tool_choice"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "any", choice["type"])
}

func TestToolUseTransformer_RequestIn_NoToolsYet(t *testing.T) {
	tr := NewToolUseTransformer(nil)

	body := []byte(`{"model":"x"}`)
	out, err := tr.RequestIn(context.Background(), body)
	require.NoError(t, err)

	var req map[string]any
	require.NoError(t, json.Unmarshal(out, &req))

	tools, ok := req["tools"].([]any)
	require.True(t, ok)
	require.Len(t, tools, 1)
	assert.Equal(t, exitToolName, tools[0].(map[string]any)["name"])
}

func TestToolUseTransformer_ResponseOut_ReplacesSoleExitToolCallWithItsResponseText(t *testing.T) {
	tr := NewToolUseTransformer(nil)

	body := []byte(`{"id":"msg_1","content":[{"type":"tool_use","id":"t1","name":"ExitTool","input":{"response":"hello"}}],"stop_reason":"tool_use"}`)
	out, err := tr.ResponseOut(context.Background(), body)
	require.NoError(t, err)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(out, &resp))

	content := resp["content"].([]any)
	require.Len(t, content, 1)
	block := content[0].(map[string]any)
	assert.Equal(t, "text", block["type"])
	assert.Equal(t, "hello", block["text"])
	assert.Equal(t, "end_turn", resp["stop_reason"])
}

func TestToolUseTransformer_ResponseOut_EmptyResponseArgumentDropsBlock(t *testing.T) {
	tr := NewToolUseTransformer(nil)

	body := []byte(`{"content":[{"type":"tool_use","id":"t1","name":"ExitTool","input":{}}],"stop_reason":"tool_use"}`)
	out, err := tr.ResponseOut(context.Background(), body)
	require.NoError(t, err)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(out, &resp))

	content := resp["content"].([]any)
	assert.Empty(t, content)
	assert.Equal(t, "end_turn", resp["stop_reason"])
}

func TestToolUseTransformer_ResponseOut_KeepsOtherToolCallsAlongsideExitToolText(t *testing.T) {
	tr := NewToolUseTransformer(nil)

	body := []byte(`{"content":[{"type":"tool_use","id":"t1","name":"lookup","input":{}},{"type":"tool_use","id":"t2","name":"ExitTool","input":{"response":"done"}}],"stop_reason":"tool_use"}`)
	out, err := tr.ResponseOut(context.Background(), body)
	require.NoError(t, err)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(out, &resp))

	content := resp["content"].([]any)
	require.Len(t, content, 2)
	assert.Equal(t, "lookup", content[0].(map[string]any)["name"])
	assert.Equal(t, "text", content[1].(map[string]any)["type"])
	assert.Equal(t, "done", content[1].(map[string]any)["text"])
	assert.Equal(t, "end_turn", resp["stop_reason"])
}

func TestToolUseTransformer_ResponseOut_NoExitToolLeavesBodyUntouched(t *testing.T) {
	tr := NewToolUseTransformer(nil)

	body := []byte(`{"content":[{"type":"text","text":"hi"}],"stop_reason":"end_turn"}`)
	out, err := tr.ResponseOut(context.Background(), body)
	require.NoError(t, err)
	assert.Equal(t, body, out)
}

func TestToolUseTransformer_TransformStream_ReplacesExitToolBlockWithTextDelta(t *testing.T) {
	tr := NewToolUseTransformer(nil)
	state := NewStreamState()
	ctx := context.Background()

	start := StreamEvent{Event: "content_block_start", Data: []byte(`{"type":"content_block_start","index":1,"content_block":{"type":"tool_use","name":"ExitTool"}}`)}
	out, err := tr.TransformStream(ctx, start, state)
	require.NoError(t, err)
	assert.Empty(t, out)

	delta1 := StreamEvent{Event: "content_block_delta", Data: []byte(`{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"response\":"}}`)}
	out, err = tr.TransformStream(ctx, delta1, state)
	require.NoError(t, err)
	assert.Empty(t, out)

	delta2 := StreamEvent{Event: "content_block_delta", Data: []byte(`{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"\"hello\"}"}}`)}
	out, err = tr.TransformStream(ctx, delta2, state)
	require.NoError(t, err)
	assert.Empty(t, out)

	stop := StreamEvent{Event: "content_block_stop", Data: []byte(`{"type":"content_block_stop","index":1}`)}
	out, err = tr.TransformStream(ctx, stop, state)
	require.NoError(t, err)
	require.Len(t, out, 3)

	assert.Equal(t, "content_block_start", out[0].Event)
	var startPayload map[string]any
	require.NoError(t, json.Unmarshal(out[0].Data, &startPayload))
	assert.Equal(t, "text", startPayload["content_block"].(map[string]any)["type"])

	assert.Equal(t, "content_block_delta", out[1].Event)
	var deltaPayload map[string]any
	require.NoError(t, json.Unmarshal(out[1].Data, &deltaPayload))
	delta := deltaPayload["delta"].(map[string]any)
	assert.Equal(t, "text_delta", delta["type"])
	assert.Equal(t, "hello", delta["text"])

	assert.Equal(t, "content_block_stop", out[2].Event)
}

func TestToolUseTransformer_TransformStream_EmptyResponseStillClosesBlock(t *testing.T) {
	tr := NewToolUseTransformer(nil)
	state := NewStreamState()
	ctx := context.Background()

	start := StreamEvent{Event: "content_block_start", Data: []byte(`{"type":"content_block_start","index":1,"content_block":{"type":"tool_use","name":"ExitTool"}}`)}
	_, err := tr.TransformStream(ctx, start, state)
	require.NoError(t, err)

	delta := StreamEvent{Event: "content_block_delta", Data: []byte(`{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{}"}}`)}
	_, err = tr.TransformStream(ctx, delta, state)
	require.NoError(t, err)

	stop := StreamEvent{Event: "content_block_stop", Data: []byte(`{"type":"content_block_stop","index":1}`)}
	out, err := tr.TransformStream(ctx, stop, state)
	require.NoError(t, err)
	require.Len(t, out, 2, "no text delta when response argument is absent, but the block still opens and closes")
	assert.Equal(t, "content_block_start", out[0].Event)
	assert.Equal(t, "content_block_stop", out[1].Event)
}

func TestToolUseTransformer_TransformStream_PassesOtherBlocksThrough(t *testing.T) {
	tr := NewToolUseTransformer(nil)
	state := NewStreamState()
	ctx := context.Background()

	start := StreamEvent{Event: "content_block_start", Data: []byte(`{"type":"content_block_start","index":1,"content_block":{"type":"tool_use","name":"ExitTool"}}`)}
	_, err := tr.TransformStream(ctx, start, state)
	require.NoError(t, err)

	textDelta := StreamEvent{Event: "content_block_delta", Data: []byte(`{"type":"content_block_delta","index":0}`)}
	out, err := tr.TransformStream(ctx, textDelta, state)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, textDelta, out[0])
}
