// Package tokenizer estimates the token count of an Anthropic-dialect request
// with the cl100k_base encoding, whichever provider it is routed to, so the
// router can make long-context decisions before any provider call is made.
package tokenizer

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

const encodingName = "cl100k_base"

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
	encErr  error
)

func encoding() (*tiktoken.Tiktoken, error) {
	encOnce.Do(func() {
		enc, encErr = tiktoken.GetEncoding(encodingName)
	})
	return enc, encErr
}

// Counter counts tokens in Anthropic /v1/messages request bodies.
type Counter struct{}

func NewCounter() *Counter { return &Counter{} }

// Count walks the request body's messages, system prompt and tool
// declarations and sums the cl100k_base token count of every textual field
// it finds. A non-nil error means the count is unknown; callers must treat
// that as "fall back to the default route" rather than erroring the request.
func (c *Counter) Count(body []byte) (int, error) {
	tke, err := encoding()
	if err != nil {
		return 0, fmt.Errorf("load tiktoken encoding: %w", err)
	}

	var req struct {
		System   json.RawMessage `json:"system"`
		Messages []struct {
			Role    string          `json:"role"`
			Content json.RawMessage `json:"content"`
		} `json:"messages"`
		Tools json.RawMessage `json:"tools"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return 0, fmt.Errorf("unmarshal request for token counting: %w", err)
	}

	total := 0

	if len(req.System) > 0 {
		n, err := countSystemPrompt(tke, req.System)
		if err != nil {
			return 0, err
		}
		total += n
	}

	for _, msg := range req.Messages {
		n, err := countContent(tke, msg.Content)
		if err != nil {
			return 0, err
		}
		total += n
	}

	if len(req.Tools) > 0 {
		n, err := countTools(tke, req.Tools)
		if err != nil {
			return 0, err
		}
		total += n
	}

	return total, nil
}

// countSystemPrompt handles both the flat-string and typed-content-part
// forms of the "system" field.
func countSystemPrompt(tke *tiktoken.Tiktoken, raw json.RawMessage) (int, error) {
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return len(tke.Encode(asString, nil, nil)), nil
	}

	var parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &parts); err != nil {
		return 0, fmt.Errorf("unmarshal system prompt: %w", err)
	}

	total := 0
	for _, p := range parts {
		total += len(tke.Encode(p.Text, nil, nil))
	}
	return total, nil
}

// countContent handles both plain-string message content and the typed
// content-block array form (text, tool_use, tool_result).
func countContent(tke *tiktoken.Tiktoken, raw json.RawMessage) (int, error) {
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return len(tke.Encode(asString, nil, nil)), nil
	}

	var blocks []struct {
		Type      string          `json:"type"`
		Text      string          `json:"text"`
		Input     json.RawMessage `json:"input"`
		Content   json.RawMessage `json:"content"`
		ToolUseID string          `json:"tool_use_id"`
	}
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return 0, fmt.Errorf("unmarshal message content: %w", err)
	}

	total := 0
	for _, b := range blocks {
		switch b.Type {
		case "text":
			total += len(tke.Encode(b.Text, nil, nil))
		case "tool_use":
			// Tool-use arguments are counted as compact JSON, matching what
			// the provider actually serializes over the wire.
			if len(b.Input) > 0 {
				compact, err := compactJSON(b.Input)
				if err != nil {
					return 0, err
				}
				total += len(tke.Encode(compact, nil, nil))
			}
		case "tool_result":
			n, err := countToolResult(tke, b.Content)
			if err != nil {
				return 0, err
			}
			total += n
		}
	}
	return total, nil
}

func countToolResult(tke *tiktoken.Tiktoken, raw json.RawMessage) (int, error) {
	if len(raw) == 0 {
		return 0, nil
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return len(tke.Encode(asString, nil, nil)), nil
	}

	var parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &parts); err != nil {
		return 0, fmt.Errorf("unmarshal tool_result content: %w", err)
	}

	total := 0
	for _, p := range parts {
		total += len(tke.Encode(p.Text, nil, nil))
	}
	return total, nil
}

// countTools counts each tool's name, description and input_schema — all
// three are sent to the model and all three cost tokens.
func countTools(tke *tiktoken.Tiktoken, raw json.RawMessage) (int, error) {
	var tools []struct {
		Name        string          `json:"name"`
		Description string          `json:"description"`
		InputSchema json.RawMessage `json:"input_schema"`
	}
	if err := json.Unmarshal(raw, &tools); err != nil {
		return 0, fmt.Errorf("unmarshal tools: %w", err)
	}

	total := 0
	for _, t := range tools {
		total += len(tke.Encode(t.Name, nil, nil))
		total += len(tke.Encode(t.Description, nil, nil))
		if len(t.InputSchema) > 0 {
			compact, err := compactJSON(t.InputSchema)
			if err != nil {
				return 0, err
			}
			total += len(tke.Encode(compact, nil, nil))
		}
	}
	return total, nil
}

func compactJSON(raw json.RawMessage) (string, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", fmt.Errorf("unmarshal for compaction: %w", err)
	}
	compact, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal compact JSON: %w", err)
	}
	return string(compact), nil
}
