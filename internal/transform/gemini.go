package transform

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// GeminiTransformer crosses the Anthropic dialect to Google's generateContent
// shape: messages become "contents", tools become functionDeclarations with
// an UPPERCASE-typed, property-restricted schema, and there are no
// tool-call IDs, so synthetic ones are assigned on the way back. Grounded on
// the teacher's handlers/proxy.go transformAnthropicToGemini pipeline.
type GeminiTransformer struct{}

func NewGeminiTransformer(map[string]any) *GeminiTransformer { return &GeminiTransformer{} }

func (t *GeminiTransformer) Name() string { return "gemini" }

func (t *GeminiTransformer) RequestIn(_ context.Context, body []byte) ([]byte, error) { return body, nil }

func (t *GeminiTransformer) RequestOut(_ context.Context, body []byte) ([]byte, error) {
	var req map[string]any
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("unmarshal anthropic request: %w", err)
	}

	contents, err := geminiContentsFromAnthropic(req)
	if err != nil {
		return nil, err
	}

	out := map[string]any{"contents": contents}

	generationConfig := map[string]any{}
	if maxTokens, ok := req["max_tokens"]; ok {
		generationConfig["maxOutputTokens"] = maxTokens
	}
	if temp, ok := req["temperature"]; ok {
		generationConfig["temperature"] = temp
	}
	if len(generationConfig) > 0 {
		out["generationConfig"] = generationConfig
	}

	if tools, ok := req["tools"].([]any); ok && len(tools) > 0 {
		geminiTools, err := geminiToolsFromAnthropic(tools)
		if err != nil {
			return nil, err
		}
		out["tools"] = geminiTools
	}

	out["safetySettings"] = defaultSafetySettings()

	return json.Marshal(out)
}

func defaultSafetySettings() []map[string]any {
	categories := []string{
		"HARM_CATEGORY_HARASSMENT",
		"HARM_CATEGORY_HATE_SPEECH",
		"HARM_CATEGORY_SEXUALLY_EXPLICIT",
		"HARM_CATEGORY_DANGEROUS_CONTENT",
	}
	settings := make([]map[string]any, 0, len(categories))
	for _, c := range categories {
		settings = append(settings, map[string]any{"category": c, "threshold": "BLOCK_MEDIUM_AND_ABOVE"})
	}
	return settings
}

func geminiContentsFromAnthropic(req map[string]any) ([]any, error) {
	var contents []any

	if system, ok := req["system"]; ok {
		if text := flattenSystem(system); text != "" {
			contents = append(contents, map[string]any{
				"role":  "user",
				"parts": []map[string]any{{"text": "System: " + text}},
			})
		}
	}

	messages, _ := req["messages"].([]any)
	for _, m := range messages {
		msg, ok := m.(map[string]any)
		if !ok {
			continue
		}
		role := "user"
		if r, _ := msg["role"].(string); r == "assistant" {
			role = "model"
		}

		parts, err := geminiPartsFromContent(msg["content"])
		if err != nil {
			return nil, err
		}
		if len(parts) == 0 {
			continue
		}
		contents = append(contents, map[string]any{"role": role, "parts": parts})
	}

	return contents, nil
}

func geminiPartsFromContent(content any) ([]map[string]any, error) {
	switch v := content.(type) {
	case string:
		if v == "" {
			return nil, nil
		}
		return []map[string]any{{"text": v}}, nil
	case []any:
		var parts []map[string]any
		for _, b := range v {
			block, ok := b.(map[string]any)
			if !ok {
				continue
			}
			switch block["type"] {
			case "text":
				if text, ok := block["text"].(string); ok {
					parts = append(parts, map[string]any{"text": text})
				}
			case "tool_use":
				parts = append(parts, map[string]any{
					"functionCall": map[string]any{"name": block["name"], "args": block["input"]},
				})
			case "tool_result":
				parts = append(parts, map[string]any{
					"functionResponse": map[string]any{
						"name":     block["tool_use_id"],
						"response": map[string]any{"content": flattenToolResultContent(block["content"])},
					},
				})
			}
		}
		return parts, nil
	default:
		return nil, nil
	}
}

func geminiToolsFromAnthropic(tools []any) ([]any, error) {
	var declarations []map[string]any
	for _, raw := range tools {
		tool, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		decl := map[string]any{"name": tool["name"]}
		if desc, ok := tool["description"].(string); ok {
			decl["description"] = desc
		}
		if schema, ok := tool["input_schema"].(map[string]any); ok {
			decl["parameters"] = geminiSchemaFromOpenAPI(schema)
		}
		declarations = append(declarations, decl)
	}
	if len(declarations) == 0 {
		return nil, nil
	}
	return []any{map[string]any{"functionDeclarations": declarations}}, nil
}

// geminiSchemaFromOpenAPI restricts an OpenAPI-style JSON-schema object to
// the property subset Gemini's function-declaration schema accepts, and
// uppercases the "type" field as Gemini requires.
func geminiSchemaFromOpenAPI(schema map[string]any) map[string]any {
	out := make(map[string]any)

	if t, ok := schema["type"].(string); ok {
		out["type"] = strings.ToUpper(t)
	}
	if desc, ok := schema["description"].(string); ok {
		out["description"] = desc
	}
	if props, ok := schema["properties"].(map[string]any); ok {
		converted := make(map[string]any, len(props))
		for key, prop := range props {
			if propMap, ok := prop.(map[string]any); ok {
				converted[key] = geminiSchemaFromOpenAPI(propMap)
			}
		}
		out["properties"] = converted
	}
	if required, ok := schema["required"].([]any); ok {
		out["required"] = required
	}
	if items, ok := schema["items"].(map[string]any); ok {
		out["items"] = geminiSchemaFromOpenAPI(items)
	}
	if enum, ok := schema["enum"].([]any); ok {
		out["enum"] = enum
	}

	return out
}

// ResponseIn converts a buffered Gemini generateContent response into the
// Anthropic message shape. Gemini has no tool-call IDs, so one is minted per
// function call in declaration order. As the dialect-crossing transformer,
// this runs first among a chain's ResponseIn passes (reverse chain order).
func (t *GeminiTransformer) ResponseIn(_ context.Context, body []byte) ([]byte, error) {
	var resp struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text         string `json:"text"`
					FunctionCall *struct {
						Name string         `json:"name"`
						Args map[string]any `json:"args"`
					} `json:"functionCall"`
				} `json:"parts"`
			} `json:"content"`
			FinishReason string `json:"finishReason"`
		} `json:"candidates"`
		UsageMetadata map[string]any `json:"usageMetadata"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal gemini response: %w", err)
	}
	if len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("gemini response has no candidates")
	}

	candidate := resp.Candidates[0]
	var content []map[string]any
	toolCallN := 0

	for _, part := range candidate.Content.Parts {
		if part.Text != "" {
			content = append(content, textContent(part.Text)...)
		}
		if part.FunctionCall != nil {
			toolCallN++
			content = append(content, map[string]any{
				"type":  contentTypeTool,
				"id":    fmt.Sprintf("toolu_gemini_%d", toolCallN),
				"name":  part.FunctionCall.Name,
				"input": part.FunctionCall.Args,
			})
		}
	}

	out := map[string]any{
		"type":          "message",
		"role":          roleAssistant,
		"content":       content,
		"stop_reason":   convertGeminiFinishReason(candidate.FinishReason),
		"stop_sequence": nil,
		"usage":         convertGeminiUsage(resp.UsageMetadata),
	}

	return json.Marshal(out)
}

func (t *GeminiTransformer) ResponseOut(_ context.Context, body []byte) ([]byte, error) { return body, nil }

func convertGeminiFinishReason(reason string) string {
	switch reason {
	case "STOP":
		return stopReasonEnd
	case "MAX_TOKENS":
		return "max_tokens"
	case "SAFETY", "RECITATION":
		return "stop_sequence"
	default:
		return stopReasonEnd
	}
}

func convertGeminiUsage(usage map[string]any) map[string]any {
	out := map[string]any{}
	if v, ok := usage["promptTokenCount"]; ok {
		out["input_tokens"] = v
	}
	if v, ok := usage["candidatesTokenCount"]; ok {
		out["output_tokens"] = v
	}
	return out
}

const geminiStreamStateKey = "gemini.stream"

type geminiStreamState struct {
	messageStartSent bool
	textBlockIndex   int
	textBlockOpen    bool
	nextIndex        int
}

// TransformStream converts one streamGenerateContent chunk into Anthropic
// SSE events. Gemini streams whole candidate parts per chunk rather than
// OpenAI-style per-token deltas, so each non-empty text part of a chunk maps
// to one content_block_delta.
func (t *GeminiTransformer) TransformStream(_ context.Context, event StreamEvent, state *StreamState) ([]StreamEvent, error) {
	var chunk struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
			FinishReason string `json:"finishReason"`
		} `json:"candidates"`
		UsageMetadata map[string]any `json:"usageMetadata"`
	}
	if err := json.Unmarshal(event.Data, &chunk); err != nil {
		return nil, fmt.Errorf("unmarshal gemini stream chunk: %w", err)
	}

	raw, _ := state.Get(geminiStreamStateKey)
	s, ok := raw.(*geminiStreamState)
	if !ok {
		s = &geminiStreamState{}
		state.Set(geminiStreamStateKey, s)
	}

	var events []StreamEvent

	if !s.messageStartSent {
		s.messageStartSent = true
		events = append(events, anthropicEvent("message_start", map[string]any{
			"type": "message_start",
			"message": map[string]any{
				"type": "message", "role": roleAssistant, "content": []any{},
				"stop_reason": nil, "stop_sequence": nil,
				"usage": map[string]any{"input_tokens": 0, "output_tokens": 0},
			},
		}))
	}

	if len(chunk.Candidates) == 0 {
		return events, nil
	}
	candidate := chunk.Candidates[0]

	for _, part := range candidate.Content.Parts {
		if part.Text == "" {
			continue
		}
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
			"delta": map[string]any{"type": "text_delta", "text": part.Text},
		}))
	}

	if candidate.FinishReason != "" {
		if s.textBlockOpen {
			events = append(events, anthropicEvent("content_block_stop", map[string]any{"type": "content_block_stop", "index": s.textBlockIndex}))
		}
		msgDelta := map[string]any{
			"type":  "message_delta",
			"delta": map[string]any{"stop_reason": convertGeminiFinishReason(candidate.FinishReason), "stop_sequence": nil},
		}
		if len(chunk.UsageMetadata) > 0 {
			msgDelta["usage"] = convertGeminiUsage(chunk.UsageMetadata)
		}
		events = append(events, anthropicEvent("message_delta", msgDelta))
		events = append(events, anthropicEvent("message_stop", map[string]any{"type": "message_stop"}))
	}

	return events, nil
}
