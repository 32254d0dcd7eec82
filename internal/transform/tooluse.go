package transform

import (
	"context"
	"encoding/json"
	"strings"
)

const exitToolName = "ExitTool"

// exitToolDefinition is injected into every request this transformer
// handles so the model always has a way to signal "done, no more tool
// calls" even against providers whose tool_choice=required has no
// "none of the above" escape hatch.
var exitToolDefinition = map[string]any{
	"name":        exitToolName,
	"description": "Call this when you are finished and have no further tool calls to make.",
	"input_schema": map[string]any{
		"type": "object",
		"properties": map[string]any{
			"response": map[string]any{
				"type":        "string",
				"description": "Your final reply to the user.",
			},
		},
	},
}

// ToolUseTransformer forces tool_choice=required and injects the ExitTool
// sentinel on the way out, then unwraps it on the way back so the client
// never sees the tool call itself: an ExitTool call's "response" argument is
// extracted and re-emitted as an ordinary assistant text block in its place,
// both in the buffered response and in the streamed content_block for it.
type ToolUseTransformer struct{}

func NewToolUseTransformer(map[string]any) *ToolUseTransformer { return &ToolUseTransformer{} }

func (t *ToolUseTransformer) Name() string { return "tooluse" }

// RequestIn runs on the Anthropic-shaped request before any dialect
// conversion: exactly where a tools array in the client's own dialect can be
// extended and tool_choice forced.
func (t *ToolUseTransformer) RequestIn(_ context.Context, body []byte) ([]byte, error) {
	var req map[string]any
	if err := json.Unmarshal(body, &req); err != nil {
		return body, nil
	}

	tools, _ := req["tools"].([]any)
	req["tools"] = append(tools, exitToolDefinition)
	req["tool_choice"] = map[string]any{"type": "any"}

	out, err := json.Marshal(req)
	if err != nil {
		return body, nil
	}
	return out, nil
}

func (t *ToolUseTransformer) RequestOut(_ context.Context, body []byte) ([]byte, error) { return body, nil }

func (t *ToolUseTransformer) ResponseIn(_ context.Context, body []byte) ([]byte, error) { return body, nil }

// ResponseOut unwraps an ExitTool call from the already-Anthropic-shaped
// buffered response: the call itself never reaches the client, and its
// "response" argument is re-emitted as the assistant's actual text reply.
func (t *ToolUseTransformer) ResponseOut(_ context.Context, body []byte) ([]byte, error) {
	var resp map[string]any
	if err := json.Unmarshal(body, &resp); err != nil {
		return body, nil
	}

	content, ok := resp["content"].([]any)
	if !ok {
		return body, nil
	}

	filtered := make([]any, 0, len(content))
	sawExitTool := false
	for _, c := range content {
		block, ok := c.(map[string]any)
		if ok && block["type"] == contentTypeTool && block["name"] == exitToolName {
			sawExitTool = true
			if text := exitToolResponseText(block); text != "" {
				filtered = append(filtered, textContent(text)[0])
			}
			continue
		}
		filtered = append(filtered, c)
	}

	if !sawExitTool {
		return body, nil
	}

	resp["content"] = filtered
	resp["stop_reason"] = stopReasonEnd

	out, err := json.Marshal(resp)
	if err != nil {
		return body, nil
	}
	return out, nil
}

// exitToolResponseText reads the "response" argument out of an ExitTool
// call's input, already decoded as a map on the buffered path. The
// streaming path parses the accumulated partial_json itself in
// exitToolStreamEvents.
func exitToolResponseText(block map[string]any) string {
	input, ok := block["input"].(map[string]any)
	if !ok {
		return ""
	}
	text, _ := input["response"].(string)
	return text
}

// TransformStream buffers the ExitTool content_block's accumulated
// partial_json across its delta events, then at its content_block_stop
// replaces the whole block with an ordinary text content_block carrying the
// "response" argument, so a streamed ExitTool call becomes a normal
// assistant text delta followed by its content_block_stop, exactly as if
// the model had just answered in plain text.
func (t *ToolUseTransformer) TransformStream(_ context.Context, event StreamEvent, state *StreamState) ([]StreamEvent, error) {
	const indexKey = "tooluse.exitIndex"
	const argsKey = "tooluse.exitArgs"

	var payload map[string]any
	if err := json.Unmarshal(event.Data, &payload); err != nil {
		return []StreamEvent{event}, nil
	}

	switch payload["type"] {
	case "content_block_start":
		block, _ := payload["content_block"].(map[string]any)
		if block != nil && block["type"] == contentTypeTool && block["name"] == exitToolName {
			if idx, ok := payload["index"]; ok {
				state.Set(indexKey, idx)
				state.Set(argsKey, &strings.Builder{})
			}
			return nil, nil
		}
	case "content_block_delta":
		if raw, ok := state.Get(indexKey); ok {
			if idx, ok2 := payload["index"]; ok2 && idx == raw {
				if delta, ok := payload["delta"].(map[string]any); ok {
					if fragment, ok := delta["partial_json"].(string); ok {
						if builder, ok := state.Get(argsKey); ok {
							builder.(*strings.Builder).WriteString(fragment)
						}
					}
				}
				return nil, nil
			}
		}
	case "content_block_stop":
		if raw, ok := state.Get(indexKey); ok {
			if idx, ok2 := payload["index"]; ok2 && idx == raw {
				return exitToolStreamEvents(raw, state, argsKey), nil
			}
		}
	}

	return []StreamEvent{event}, nil
}

// exitToolStreamEvents parses the accumulated ExitTool arguments and emits
// the text content_block that replaces it. An empty or unparsable "response"
// still closes the block (with no delta) so the block index isn't left open.
func exitToolStreamEvents(index any, state *StreamState, argsKey string) []StreamEvent {
	var text string
	if builder, ok := state.Get(argsKey); ok {
		var input map[string]any
		if err := json.Unmarshal([]byte(builder.(*strings.Builder).String()), &input); err == nil {
			text, _ = input["response"].(string)
		}
	}

	events := []StreamEvent{
		anthropicEvent("content_block_start", map[string]any{
			"type": "content_block_start", "index": index,
			"content_block": map[string]any{"type": contentTypeText, "text": ""},
		}),
	}
	if text != "" {
		events = append(events, anthropicEvent("content_block_delta", map[string]any{
			"type": "content_block_delta", "index": index,
			"delta": map[string]any{"type": "text_delta", "text": text},
		}))
	}
	events = append(events, anthropicEvent("content_block_stop", map[string]any{"type": "content_block_stop", "index": index}))

	return events
}
