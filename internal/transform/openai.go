package transform

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// OpenAITransformer crosses the Anthropic /v1/messages dialect to and from
// OpenAI's /chat/completions dialect, buffered and streaming. Grounded on
// the teacher's internal/providers/openai.go; generalized into the
// Transformer four-pass shape instead of a single Provider.Transform pair.
type OpenAITransformer struct {
	// useMaxCompletionTokens, when set, sends max_completion_tokens instead
	// of OpenAI's legacy max_tokens field name (some OpenAI-compatible backends reject one or
	// the other).
	useMaxCompletionTokens bool
}

func NewOpenAITransformer(options map[string]any) *OpenAITransformer {
	t := &OpenAITransformer{useMaxCompletionTokens: true}
	if v, ok := options["legacyMaxTokens"].(bool); ok && v {
		t.useMaxCompletionTokens = false
	}
	return t
}

func (t *OpenAITransformer) Name() string { return "openai" }

func (t *OpenAITransformer) RequestIn(_ context.Context, body []byte) ([]byte, error) { return body, nil }

// RequestOut converts an Anthropic request body into OpenAI's shape: system
// prompt becomes a leading "system" message, max_tokens is renamed, and
// content blocks are flattened to OpenAI's tool_calls/content shape.
func (t *OpenAITransformer) RequestOut(_ context.Context, body []byte) ([]byte, error) {
	var req map[string]any
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("unmarshal anthropic request: %w", err)
	}

	messages := []map[string]any{}

	if system, ok := req["system"]; ok {
		messages = append(messages, map[string]any{"role": "system", "content": flattenSystem(system)})
	}

	if rawMessages, ok := req["messages"].([]any); ok {
		for _, m := range rawMessages {
			if msg, ok := m.(map[string]any); ok {
				messages = append(messages, transformMessageToOpenAI(msg)...)
			}
		}
	}

	out := map[string]any{
		"model":    req["model"],
		"messages": messages,
		"stream":   req["stream"],
	}

	if maxTokens, ok := req["max_tokens"]; ok {
		if t.useMaxCompletionTokens {
			out["max_completion_tokens"] = maxTokens
		} else {
			out["max_tokens"] = maxTokens
		}
	}
	if temp, ok := req["temperature"]; ok {
		out["temperature"] = temp
	}

	if tools, ok := req["tools"].([]any); ok && len(tools) > 0 {
		out["tools"] = transformToolsToOpenAI(tools)
	}

	delete(out, "anthropic_version")
	delete(out, "anthropic_beta")

	return json.Marshal(out)
}

func flattenSystem(system any) string {
	switch v := system.(type) {
	case string:
		return v
	case []any:
		var b strings.Builder
		for _, p := range v {
			if part, ok := p.(map[string]any); ok {
				if text, ok := part["text"].(string); ok {
					b.WriteString(text)
					b.WriteString("\n")
				}
			}
		}
		return strings.TrimRight(b.String(), "\n")
	default:
		return ""
	}
}

func transformMessageToOpenAI(msg map[string]any) []map[string]any {
	role, _ := msg["role"].(string)

	content, ok := msg["content"].(string)
	if ok {
		return []map[string]any{{"role": role, "content": content}}
	}

	blocks, _ := msg["content"].([]any)
	var text strings.Builder
	var toolCalls []map[string]any
	var toolResults []map[string]any

	for _, b := range blocks {
		block, ok := b.(map[string]any)
		if !ok {
			continue
		}
		switch block["type"] {
		case "text":
			if s, ok := block["text"].(string); ok {
				text.WriteString(s)
			}
		case "tool_use":
			args, _ := json.Marshal(block["input"])
			toolCalls = append(toolCalls, map[string]any{
				"id":   block["id"],
				"type": "function",
				"function": map[string]any{
					"name":      block["name"],
					"arguments": string(args),
				},
			})
		case "tool_result":
			toolResults = append(toolResults, map[string]any{
				"role":         "tool",
				"tool_call_id": block["tool_use_id"],
				"content":      flattenToolResultContent(block["content"]),
			})
		}
	}

	var out []map[string]any
	if role == "assistant" && len(toolCalls) > 0 {
		m := map[string]any{"role": role, "tool_calls": toolCalls}
		if text.Len() > 0 {
			m["content"] = text.String()
		} else {
			m["content"] = nil
		}
		out = append(out, m)
	} else if text.Len() > 0 || len(blocks) == 0 {
		out = append(out, map[string]any{"role": role, "content": text.String()})
	}

	out = append(out, toolResults...)
	return out
}

func flattenToolResultContent(content any) string {
	switch v := content.(type) {
	case string:
		return v
	case []any:
		var b strings.Builder
		for _, p := range v {
			if part, ok := p.(map[string]any); ok {
				if text, ok := part["text"].(string); ok {
					b.WriteString(text)
				}
			}
		}
		return b.String()
	default:
		return ""
	}
}

func transformToolsToOpenAI(tools []any) []map[string]any {
	out := make([]map[string]any, 0, len(tools))
	for _, raw := range tools {
		tool, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        tool["name"],
				"description": tool["description"],
				"parameters":  tool["input_schema"],
			},
		})
	}
	return out
}

// ResponseIn converts a buffered OpenAI /chat/completions response into the
// Anthropic message shape. As the dialect-crossing transformer, this runs
// first among a chain's ResponseIn passes (reverse chain order), so every
// transformer ahead of it in the configured Use list sees an Anthropic-shaped
// body on both the request and response side.
func (t *OpenAITransformer) ResponseIn(_ context.Context, body []byte) ([]byte, error) {
	var resp struct {
		ID      string `json:"id"`
		Model   string `json:"model"`
		Choices []struct {
			Message struct {
				Role      string `json:"role"`
				Content   string `json:"content"`
				ToolCalls []struct {
					ID       string `json:"id"`
					Function struct {
						Name      string `json:"name"`
						Arguments string `json:"arguments"`
					} `json:"function"`
				} `json:"tool_calls"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
		Usage map[string]any `json:"usage"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal openai response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai response has no choices")
	}

	choice := resp.Choices[0]
	var content []map[string]any

	if choice.Message.Content != "" {
		content = append(content, textContent(choice.Message.Content)...)
	}
	for _, tc := range choice.Message.ToolCalls {
		var input any
		_ = json.Unmarshal([]byte(tc.Function.Arguments), &input)
		content = append(content, map[string]any{
			"type":  "tool_use",
			"id":    tc.ID,
			"name":  tc.Function.Name,
			"input": input,
		})
	}

	out := map[string]any{
		"id":            resp.ID,
		"type":          "message",
		"role":          roleAssistant,
		"model":         resp.Model,
		"content":       content,
		"stop_reason":   convertStopReason(choice.FinishReason),
		"stop_sequence": nil,
		"usage":         mapTokenUsage(resp.Usage, openAITokenMapping),
	}

	return json.Marshal(out)
}

func (t *OpenAITransformer) ResponseOut(_ context.Context, body []byte) ([]byte, error) { return body, nil }

// --- streaming ---

type openAIStreamState struct {
	messageStartSent bool
	messageID        string
	model            string
	textBlockIndex   int
	textBlockOpen    bool
	toolBlocks       map[int]*openAIToolBlock
	nextIndex        int
}

type openAIToolBlock struct {
	index     int
	id        string
	name      string
	arguments strings.Builder
	started   bool
}

const openAIStreamStateKey = "openai.stream"

func (t *OpenAITransformer) stateFor(state *StreamState) *openAIStreamState {
	if v, ok := state.Get(openAIStreamStateKey); ok {
		return v.(*openAIStreamState)
	}
	s := &openAIStreamState{toolBlocks: make(map[int]*openAIToolBlock)}
	state.Set(openAIStreamStateKey, s)
	return s
}

// TransformStream converts one OpenAI SSE chunk into zero or more Anthropic
// SSE events, accumulating tool-call argument deltas across chunks the same
// way the teacher's calculateArgumentsDelta/findOrCreateContentBlock do.
func (t *OpenAITransformer) TransformStream(_ context.Context, event StreamEvent, state *StreamState) ([]StreamEvent, error) {
	var chunk struct {
		ID      string `json:"id"`
		Model   string `json:"model"`
		Choices []struct {
			Delta struct {
				Content   string `json:"content"`
				ToolCalls []struct {
					Index    int    `json:"index"`
					ID       string `json:"id"`
					Function struct {
						Name      string `json:"name"`
						Arguments string `json:"arguments"`
					} `json:"function"`
				} `json:"tool_calls"`
			} `json:"delta"`
			FinishReason *string `json:"finish_reason"`
		} `json:"choices"`
		Usage map[string]any `json:"usage"`
	}
	if err := json.Unmarshal(event.Data, &chunk); err != nil {
		return nil, fmt.Errorf("unmarshal openai stream chunk: %w", err)
	}

	s := t.stateFor(state)
	var events []StreamEvent

	if !s.messageStartSent {
		s.messageStartSent = true
		s.messageID, s.model = chunk.ID, chunk.Model
		events = append(events, anthropicEvent("message_start", map[string]any{
			"type": "message_start",
			"message": map[string]any{
				"id": s.messageID, "type": "message", "role": roleAssistant, "model": s.model,
				"content": []any{}, "stop_reason": nil, "stop_sequence": nil,
				"usage": map[string]any{"input_tokens": 0, "output_tokens": 0},
			},
		}))
	}

	if len(chunk.Choices) == 0 {
		return events, nil
	}
	choice := chunk.Choices[0]

	if choice.Delta.Content != "" {
		if !s.textBlockOpen {
			s.textBlockIndex = s.nextIndex
			s.nextIndex++
			s.textBlockOpen = true
			events = append(events, anthropicEvent("content_block_start", map[string]any{
				"type": "content_block_start", "index": s.textBlockIndex,
				"content_block": map[string]any{"type": contentTypeText, "text": ""},
			}))
		}
		events = append(events, anthropicEvent("content_block_delta", map[string]any{
			"type": "content_block_delta", "index": s.textBlockIndex,
			"delta": map[string]any{"type": "text_delta", "text": choice.Delta.Content},
		}))
	}

	for _, tc := range choice.Delta.ToolCalls {
		block, exists := s.toolBlocks[tc.Index]
		if !exists {
			block = &openAIToolBlock{index: s.nextIndex, id: tc.ID, name: tc.Function.Name}
			s.nextIndex++
			s.toolBlocks[tc.Index] = block
		}
		if !block.started {
			block.started = true
			events = append(events, anthropicEvent("content_block_start", map[string]any{
				"type": "content_block_start", "index": block.index,
				"content_block": map[string]any{"type": contentTypeTool, "id": block.id, "name": block.name, "input": map[string]any{}},
			}))
		}
		if tc.Function.Arguments != "" {
			block.arguments.WriteString(tc.Function.Arguments)
			events = append(events, anthropicEvent("content_block_delta", map[string]any{
				"type": "content_block_delta", "index": block.index,
				"delta": map[string]any{"type": "input_json_delta", "partial_json": tc.Function.Arguments},
			}))
		}
	}

	if choice.FinishReason != nil {
		if s.textBlockOpen {
			events = append(events, anthropicEvent("content_block_stop", map[string]any{"type": "content_block_stop", "index": s.textBlockIndex}))
		}
		for _, block := range s.toolBlocks {
			events = append(events, anthropicEvent("content_block_stop", map[string]any{"type": "content_block_stop", "index": block.index}))
		}

		delta := map[string]any{"stop_reason": convertStopReason(*choice.FinishReason), "stop_sequence": nil}
		msgDelta := map[string]any{"type": "message_delta", "delta": delta}
		if len(chunk.Usage) > 0 {
			msgDelta["usage"] = mapTokenUsage(chunk.Usage, openAITokenMapping)
		}
		events = append(events, anthropicEvent("message_delta", msgDelta))
		events = append(events, anthropicEvent("message_stop", map[string]any{"type": "message_stop"}))
	}

	return events, nil
}

func anthropicEvent(name string, data map[string]any) StreamEvent {
	encoded, _ := json.Marshal(data)
	return StreamEvent{Event: name, Data: encoded}
}
