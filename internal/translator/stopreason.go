package translator

// Stop-reason mapping between the three response vocabularies. Both
// end_turn and stop_sequence collapse to OpenAI "stop"; the reverse maps
// to end_turn. Gemini signals tool use through part types, never through
// finishReason, so callers override to tool_use when functionCall parts
// were seen.

func anthropicToOpenAIStopReason(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence":
		return "stop"
	case "max_tokens":
		return "length"
	case "tool_use":
		return "tool_calls"
	default:
		return "stop"
	}
}

func openAIToAnthropicStopReason(finishReason string) string {
	switch finishReason {
	case "length":
		return "max_tokens"
	case "tool_calls", "function_call":
		return "tool_use"
	default:
		return "end_turn"
	}
}

func openAIToGeminiFinishReason(finishReason string) string {
	switch finishReason {
	case "length":
		return "MAX_TOKENS"
	case "content_filter":
		return "SAFETY"
	default:
		// tool_calls included: Gemini indicates tools via parts
		return "STOP"
	}
}

func geminiToOpenAIFinishReason(finishReason string) string {
	switch finishReason {
	case "MAX_TOKENS":
		return "length"
	case "SAFETY", "RECITATION", "PROHIBITED_CONTENT", "BLOCKLIST":
		return "content_filter"
	default:
		return "stop"
	}
}

func geminiToAnthropicStopReason(finishReason string, sawToolCall bool) string {
	if sawToolCall {
		return "tool_use"
	}
	switch finishReason {
	case "MAX_TOKENS":
		return "max_tokens"
	default:
		return "end_turn"
	}
}
