package transform

// Shared helpers used by the dialect-crossing transformers. Grounded in the
// teacher's internal/providers/base.go. The openai family (openai, deepseek,
// groq, openrouter) shares the token-usage mapping and stop-reason conversion
// here; gemini uses the content and stop-reason constants but maps its own
// finish reasons and usage fields.

const (
	roleAssistant   = "assistant"
	roleUser        = "user"
	contentTypeText = "text"
	contentTypeTool = "tool_use"
	stopReasonEnd   = "end_turn"
)

// tokenMapping names the usage field keys for one dialect.
type tokenMapping struct {
	InputTokens  string
	OutputTokens string
	CacheRead    string
	CacheCreate  string
}

var (
	openAITokenMapping = tokenMapping{
		InputTokens:  "prompt_tokens",
		OutputTokens: "completion_tokens",
		CacheRead:    "cached_tokens",
		CacheCreate:  "cache_creation_tokens",
	}

	anthropicTokenMapping = tokenMapping{
		InputTokens:  "input_tokens",
		OutputTokens: "output_tokens",
		CacheRead:    "cache_read_input_tokens",
		CacheCreate:  "cache_create_input_tokens",
	}
)

// mapTokenUsage converts a source dialect's usage object into Anthropic's.
func mapTokenUsage(source map[string]any, mapping tokenMapping) map[string]any {
	usage := make(map[string]any)

	if v, ok := source[mapping.InputTokens]; ok {
		usage[anthropicTokenMapping.InputTokens] = v
	}
	if v, ok := source[mapping.OutputTokens]; ok {
		usage[anthropicTokenMapping.OutputTokens] = v
	}

	if details, ok := source["prompt_tokens_details"].(map[string]any); ok {
		if v, ok := details[mapping.CacheRead]; ok {
			usage[anthropicTokenMapping.CacheRead] = v
		}
		if v, ok := details[mapping.CacheCreate]; ok {
			usage[anthropicTokenMapping.CacheCreate] = v
		}
	}

	return usage
}

// convertStopReason maps an OpenAI-family finish_reason to an Anthropic stop_reason.
func convertStopReason(reason string) string {
	mapping := map[string]string{
		"stop":           stopReasonEnd,
		"length":         "max_tokens",
		"tool_calls":     "tool_use",
		"function_call":  "tool_use",
		"content_filter": "stop_sequence",
		"":               stopReasonEnd,
	}
	if mapped, ok := mapping[reason]; ok {
		return mapped
	}
	return stopReasonEnd
}

func textContent(text string) []map[string]any {
	return []map[string]any{{"type": contentTypeText, "text": text}}
}
