package translator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"omni2api-go/internal/models"
)

func sseBody(lines ...string) []byte {
	var b strings.Builder
	for _, l := range lines {
		b.WriteString("data: ")
		b.WriteString(l)
		b.WriteString("\n\n")
	}
	return []byte(b.String())
}

func TestCollectOpenAIStream_TextAndUsage(t *testing.T) {
	body := sseBody(
		`{"id":"chatcmpl-abc","model":"gpt-test","created":1700000000,"choices":[{"index":0,"delta":{"role":"assistant","content":"Hel"}}]}`,
		`{"choices":[{"index":0,"delta":{"content":"lo"}}]}`,
		`{"choices":[{"index":0,"delta":{},"finish_reason":"stop"}],"usage":{"prompt_tokens":10,"completion_tokens":5,"total_tokens":15}}`,
		`[DONE]`,
	)
	out, err := CollectOpenAIStream(body, "fallback-model")
	require.NoError(t, err)

	root := gjson.ParseBytes(out)
	assert.Equal(t, "chatcmpl-abc", root.Get("id").String())
	assert.Equal(t, "chat.completion", root.Get("object").String())
	assert.Equal(t, "gpt-test", root.Get("model").String())
	assert.Equal(t, "Hello", root.Get("choices.0.message.content").String())
	assert.Equal(t, "stop", root.Get("choices.0.finish_reason").String())
	assert.Equal(t, int64(10), root.Get("usage.prompt_tokens").Int())
	assert.Equal(t, int64(15), root.Get("usage.total_tokens").Int())
}

func TestCollectOpenAIStream_ReasoningAliases(t *testing.T) {
	for _, alias := range []string{"reasoning_content", "reasoning", "thinking_content"} {
		t.Run(alias, func(t *testing.T) {
			body := sseBody(
				`{"choices":[{"index":0,"delta":{"`+alias+`":"step one"}}]}`,
				`{"choices":[{"index":0,"delta":{"content":"answer"},"finish_reason":"stop"}]}`,
				`[DONE]`,
			)
			out, err := CollectOpenAIStream(body, "m")
			require.NoError(t, err)
			root := gjson.ParseBytes(out)
			assert.Equal(t, "step one", root.Get("choices.0.message.reasoning_content").String())
			assert.Equal(t, "answer", root.Get("choices.0.message.content").String())
		})
	}
}

func TestCollectOpenAIStream_EmptyToolArgsBecomeObject(t *testing.T) {
	body := sseBody(
		`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"ping","arguments":""}}]}}]}`,
		`[DONE]`,
	)
	out, err := CollectOpenAIStream(body, "m")
	require.NoError(t, err)

	call := gjson.GetBytes(out, "choices.0.message.tool_calls.0")
	assert.Equal(t, "call_1", call.Get("id").String())
	assert.Equal(t, "ping", call.Get("function.name").String())
	assert.Equal(t, "{}", call.Get("function.arguments").String())
	// unset finish_reason defaults from the tool calls
	assert.Equal(t, "tool_calls", gjson.GetBytes(out, "choices.0.finish_reason").String())
}

func TestCollectOpenAIStream_ToolCallOrderPreserved(t *testing.T) {
	body := sseBody(
		`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"a","function":{"name":"first","arguments":"{\"x\":"}}]}}]}`,
		`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":1,"id":"b","function":{"name":"second","arguments":"{}"}}]}}]}`,
		`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"1}"}}]}}]}`,
		`[DONE]`,
	)
	out, err := CollectOpenAIStream(body, "m")
	require.NoError(t, err)

	calls := gjson.GetBytes(out, "choices.0.message.tool_calls")
	require.Equal(t, 2, int(calls.Get("#").Int()))
	assert.Equal(t, "first", calls.Get("0.function.name").String())
	assert.Equal(t, `{"x":1}`, calls.Get("0.function.arguments").String())
	assert.Equal(t, "second", calls.Get("1.function.name").String())
}

func TestCollectOpenAIStream_ErrorChunkPassesThrough(t *testing.T) {
	body := sseBody(
		`{"choices":[{"index":0,"delta":{"content":"partial"}}]}`,
		`{"error":{"message":"overloaded","type":"server_error"}}`,
	)
	out, err := CollectOpenAIStream(body, "m")
	require.NoError(t, err)
	assert.Equal(t, "overloaded", gjson.GetBytes(out, "error.message").String())
}

func TestCollectAnthropicStream_BlocksToolsAndSignature(t *testing.T) {
	body := []byte(strings.Join([]string{
		`event: message_start`,
		`data: {"type":"message_start","message":{"id":"msg_1","model":"claude-test","usage":{"input_tokens":20,"output_tokens":1}}}`,
		``,
		`event: content_block_start`,
		`data: {"type":"content_block_start","index":0,"content_block":{"type":"thinking","thinking":""}}`,
		``,
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"thinking_delta","thinking":"hmm"}}`,
		``,
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"signature_delta","signature":"c2ln"}}`,
		``,
		`data: {"type":"content_block_stop","index":0}`,
		``,
		`data: {"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"toolu_1","name":"run","input":{}}}`,
		``,
		`data: {"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"cmd\":"}}`,
		``,
		`data: {"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"\"ls\"}"}}`,
		``,
		`data: {"type":"message_delta","delta":{"stop_reason":"tool_use","stop_sequence":null},"usage":{"output_tokens":9}}`,
		``,
		`data: {"type":"message_stop"}`,
		``,
	}, "\n"))

	out, err := CollectAnthropicStream(body)
	require.NoError(t, err)

	root := gjson.ParseBytes(out)
	assert.Equal(t, "msg_1", root.Get("id").String())
	assert.Equal(t, "message", root.Get("type").String())
	assert.Equal(t, "thinking", root.Get("content.0.type").String())
	assert.Equal(t, "hmm", root.Get("content.0.thinking").String())
	assert.Equal(t, "c2ln", root.Get("content.0.signature").String())
	assert.Equal(t, "tool_use", root.Get("content.1.type").String())
	assert.Equal(t, "ls", root.Get("content.1.input.cmd").String())
	assert.Equal(t, "tool_use", root.Get("stop_reason").String())
	assert.Equal(t, int64(20), root.Get("usage.input_tokens").Int())
	assert.Equal(t, int64(9), root.Get("usage.output_tokens").Int())
}

func TestCollectAnthropicStream_ErrorEventPassesThrough(t *testing.T) {
	body := []byte("event: error\ndata: {\"type\":\"error\",\"error\":{\"type\":\"overloaded_error\",\"message\":\"busy\"}}\n\n")
	out, err := CollectAnthropicStream(body)
	require.NoError(t, err)
	assert.Equal(t, "overloaded_error", gjson.GetBytes(out, "error.type").String())
}

func TestCollectResponsesStream_CompletedWins(t *testing.T) {
	body := sseBody(
		`{"type":"response.created","response":{"id":"resp_1","status":"in_progress"}}`,
		`{"type":"response.output_item.done","output_index":0,"item":{"type":"message","id":"msg_1"}}`,
		`{"type":"response.completed","response":{"id":"resp_1","status":"completed","output":[{"type":"message","id":"msg_1","content":[{"type":"output_text","text":"done"}]}],"usage":{"input_tokens":3,"output_tokens":2,"total_tokens":5}}}`,
	)
	out, err := CollectResponsesStream(body)
	require.NoError(t, err)

	root := gjson.ParseBytes(out)
	assert.Equal(t, "resp_1", root.Get("id").String())
	assert.Equal(t, "completed", root.Get("status").String())
	assert.Equal(t, "done", root.Get("output.0.content.0.text").String())
}

func TestCollectResponsesStream_ReassemblesWithoutCompleted(t *testing.T) {
	body := sseBody(
		`{"type":"response.output_item.done","output_index":0,"item":{"type":"message","id":"msg_1","content":[{"type":"output_text","text":"partial"}]}}`,
	)
	out, err := CollectResponsesStream(body)
	require.NoError(t, err)

	root := gjson.ParseBytes(out)
	assert.Equal(t, "incomplete", root.Get("status").String())
	assert.Equal(t, "partial", root.Get("output.0.content.0.text").String())
}

func TestExtractUsage(t *testing.T) {
	tests := []struct {
		name   string
		format Format
		body   string
		want   models.TokenUsage
	}{
		{
			name:   "openai",
			format: FormatOpenAI,
			body:   `{"usage":{"prompt_tokens":100,"completion_tokens":40,"total_tokens":140,"prompt_tokens_details":{"cached_tokens":30},"completion_tokens_details":{"reasoning_tokens":12}}}`,
			want:   models.TokenUsage{InputTokens: 100, OutputTokens: 40, TotalTokens: 140, CachedTokens: 30, ThoughtsTokens: 12},
		},
		{
			name:   "responses nested under response",
			format: FormatOpenAIResponses,
			body:   `{"type":"response.completed","response":{"usage":{"input_tokens":50,"output_tokens":20,"total_tokens":70,"input_tokens_details":{"cached_tokens":10},"output_tokens_details":{"reasoning_tokens":8}}}}`,
			want:   models.TokenUsage{InputTokens: 50, OutputTokens: 20, TotalTokens: 70, CachedTokens: 10, ThoughtsTokens: 8},
		},
		{
			name:   "anthropic folds cache into input",
			format: FormatAnthropic,
			body:   `{"usage":{"input_tokens":10,"output_tokens":5,"cache_read_input_tokens":90,"cache_creation_input_tokens":20}}`,
			want:   models.TokenUsage{InputTokens: 120, OutputTokens: 5, TotalTokens: 125, CachedTokens: 90},
		},
		{
			name:   "anthropic message_start nesting",
			format: FormatAnthropic,
			body:   `{"type":"message_start","message":{"usage":{"input_tokens":7,"output_tokens":1}}}`,
			want:   models.TokenUsage{InputTokens: 7, OutputTokens: 1, TotalTokens: 8},
		},
		{
			name:   "gemini folds thoughts into input",
			format: FormatGemini,
			body:   `{"usageMetadata":{"promptTokenCount":30,"candidatesTokenCount":10,"totalTokenCount":55,"thoughtsTokenCount":15,"cachedContentTokenCount":4}}`,
			want:   models.TokenUsage{InputTokens: 45, OutputTokens: 10, TotalTokens: 55, CachedTokens: 4, ThoughtsTokens: 15},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractUsage(tt.format, []byte(tt.body))
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractUsage_AbsentReturnsFalse(t *testing.T) {
	_, ok := ExtractUsage(FormatOpenAI, []byte(`{"choices":[]}`))
	assert.False(t, ok)
	_, ok = ExtractUsage(FormatAnthropic, []byte(`{"type":"content_block_delta"}`))
	assert.False(t, ok)
}

func TestStopReasonMappings(t *testing.T) {
	assert.Equal(t, "stop", anthropicToOpenAIStopReason("end_turn"))
	assert.Equal(t, "stop", anthropicToOpenAIStopReason("stop_sequence"))
	assert.Equal(t, "length", anthropicToOpenAIStopReason("max_tokens"))
	assert.Equal(t, "tool_calls", anthropicToOpenAIStopReason("tool_use"))

	assert.Equal(t, "end_turn", openAIToAnthropicStopReason("stop"))
	assert.Equal(t, "max_tokens", openAIToAnthropicStopReason("length"))
	assert.Equal(t, "tool_use", openAIToAnthropicStopReason("tool_calls"))
	assert.Equal(t, "tool_use", openAIToAnthropicStopReason("function_call"))

	assert.Equal(t, "STOP", openAIToGeminiFinishReason("stop"))
	assert.Equal(t, "STOP", openAIToGeminiFinishReason("tool_calls"))
	assert.Equal(t, "MAX_TOKENS", openAIToGeminiFinishReason("length"))
	assert.Equal(t, "SAFETY", openAIToGeminiFinishReason("content_filter"))

	assert.Equal(t, "stop", geminiToOpenAIFinishReason("STOP"))
	assert.Equal(t, "length", geminiToOpenAIFinishReason("MAX_TOKENS"))
	assert.Equal(t, "content_filter", geminiToOpenAIFinishReason("SAFETY"))

	assert.Equal(t, "tool_use", geminiToAnthropicStopReason("STOP", true))
	assert.Equal(t, "max_tokens", geminiToAnthropicStopReason("MAX_TOKENS", false))
	assert.Equal(t, "end_turn", geminiToAnthropicStopReason("STOP", false))
}

func TestLooksLikeSSE(t *testing.T) {
	assert.True(t, looksLikeSSE([]byte("data: {}\n")))
	assert.True(t, looksLikeSSE([]byte("\n\nevent: message_start\ndata: {}\n")))
	assert.False(t, looksLikeSSE([]byte(`{"id":"x"}`)))
}
