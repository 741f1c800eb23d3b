package translator

import (
	"github.com/tidwall/gjson"

	"omni2api-go/internal/models"
)

// ExtractUsage pulls token accounting out of one response payload in the
// given format. The payload may be a complete response object or a single
// streaming event. Returns false when the payload carries no usage.
func ExtractUsage(format Format, data []byte) (models.TokenUsage, bool) {
	root := gjson.ParseBytes(data)
	switch format {
	case FormatOpenAI:
		return openAIUsage(root.Get("usage"))
	case FormatOpenAIResponses:
		if u := root.Get("response.usage"); u.Exists() {
			return responsesUsage(u)
		}
		return responsesUsage(root.Get("usage"))
	case FormatAnthropic:
		// message_start nests usage under message
		if u := root.Get("message.usage"); u.Exists() {
			return anthropicUsage(u)
		}
		if u := root.Get("usage"); u.Exists() {
			return anthropicUsage(u)
		}
		return models.TokenUsage{}, false
	case FormatGemini:
		return geminiUsage(root.Get("usageMetadata"))
	default:
		return models.TokenUsage{}, false
	}
}

func openAIUsage(u gjson.Result) (models.TokenUsage, bool) {
	if !u.Exists() {
		return models.TokenUsage{}, false
	}
	out := models.TokenUsage{
		InputTokens:    u.Get("prompt_tokens").Int(),
		OutputTokens:   u.Get("completion_tokens").Int(),
		TotalTokens:    u.Get("total_tokens").Int(),
		CachedTokens:   u.Get("prompt_tokens_details.cached_tokens").Int(),
		ThoughtsTokens: u.Get("completion_tokens_details.reasoning_tokens").Int(),
	}
	return out, true
}

func responsesUsage(u gjson.Result) (models.TokenUsage, bool) {
	if !u.Exists() {
		return models.TokenUsage{}, false
	}
	out := models.TokenUsage{
		InputTokens:    u.Get("input_tokens").Int(),
		OutputTokens:   u.Get("output_tokens").Int(),
		TotalTokens:    u.Get("total_tokens").Int(),
		CachedTokens:   u.Get("input_tokens_details.cached_tokens").Int(),
		ThoughtsTokens: u.Get("output_tokens_details.reasoning_tokens").Int(),
	}
	return out, true
}

func anthropicUsage(u gjson.Result) (models.TokenUsage, bool) {
	if !u.Exists() {
		return models.TokenUsage{}, false
	}
	cacheRead := u.Get("cache_read_input_tokens").Int()
	cacheCreate := u.Get("cache_creation_input_tokens").Int()
	out := models.TokenUsage{
		// Anthropic's input_tokens excludes cache activity; fold it back in
		// so input means the whole prompt
		InputTokens:  u.Get("input_tokens").Int() + cacheRead + cacheCreate,
		OutputTokens: u.Get("output_tokens").Int(),
		CachedTokens: cacheRead,
	}
	out.TotalTokens = out.InputTokens + out.OutputTokens
	return out, true
}

func geminiUsage(u gjson.Result) (models.TokenUsage, bool) {
	if !u.Exists() {
		return models.TokenUsage{}, false
	}
	thoughts := u.Get("thoughtsTokenCount").Int()
	out := models.TokenUsage{
		// thoughts bill as input in the normalized accounting
		InputTokens:    u.Get("promptTokenCount").Int() + thoughts,
		OutputTokens:   u.Get("candidatesTokenCount").Int(),
		TotalTokens:    u.Get("totalTokenCount").Int(),
		CachedTokens:   u.Get("cachedContentTokenCount").Int(),
		ThoughtsTokens: thoughts,
	}
	return out, true
}
