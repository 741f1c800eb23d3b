package translator

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// requireSequenceNumbers asserts that every event carries its position as
// sequence_number.
func requireSequenceNumbers(t *testing.T, events []sseEvent) {
	t.Helper()
	for i, ev := range events {
		require.True(t, ev.data.Get("sequence_number").Exists(), "event %d (%s) missing sequence_number", i, ev.event)
		require.Equal(t, int64(i), ev.data.Get("sequence_number").Int(), "event %d (%s)", i, ev.event)
	}
}

func TestOpenAIToResponsesStream_ReasoningThenContent(t *testing.T) {
	body := sseBody(
		`{"id":"chatcmpl-x1","choices":[{"index":0,"delta":{"role":"assistant"}}]}`,
		`{"choices":[{"index":0,"delta":{"reasoning_content":"mulling"}}]}`,
		`{"choices":[{"index":0,"delta":{"content":"Hello"}}]}`,
		`{"choices":[{"index":0,"delta":{},"finish_reason":"stop"}],"usage":{"prompt_tokens":7,"completion_tokens":3,"total_tokens":10}}`,
		`[DONE]`,
	)
	r, err := OpenAIToResponsesStream(context.Background(), "gpt-test", strings.NewReader(string(body)))
	require.NoError(t, err)

	events := readSSEEvents(t, r)
	require.Len(t, events, 13)
	requireSequenceNumbers(t, events)

	types := make([]string, len(events))
	for i, ev := range events {
		types[i] = ev.event
		assert.Equal(t, ev.event, ev.data.Get("type").String())
		assert.NotEqual(t, "[DONE]", ev.raw)
	}
	assert.Equal(t, []string{
		"response.created",
		"response.in_progress",
		"response.output_item.added",
		"response.reasoning_summary_text.delta",
		"response.reasoning_summary_text.done",
		"response.output_item.done",
		"response.output_item.added",
		"response.content_part.added",
		"response.output_text.delta",
		"response.output_text.done",
		"response.content_part.done",
		"response.output_item.done",
		"response.completed",
	}, types)

	assert.Equal(t, "resp_x1", events[0].data.Get("response.id").String())
	assert.Equal(t, "reasoning", events[2].data.Get("item.type").String())
	assert.Equal(t, "mulling", events[3].data.Get("delta").String())
	assert.Equal(t, int64(1), events[6].data.Get("output_index").Int())
	assert.Equal(t, "Hello", events[8].data.Get("delta").String())

	final := events[12].data.Get("response")
	assert.Equal(t, "completed", final.Get("status").String())
	assert.Equal(t, "reasoning", final.Get("output.0.type").String())
	assert.Equal(t, "mulling", final.Get("output.0.summary.0.text").String())
	assert.Equal(t, "Hello", final.Get("output.1.content.0.text").String())
	assert.Equal(t, int64(7), final.Get("usage.input_tokens").Int())
	assert.Equal(t, int64(10), final.Get("usage.total_tokens").Int())
}

func TestOpenAIToResponsesStream_EmptyToolArgs(t *testing.T) {
	body := sseBody(
		`{"id":"chatcmpl-x2","choices":[{"index":0,"delta":{"role":"assistant"}}]}`,
		`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"ping","arguments":""}}]}}]}`,
		`{"choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`,
		`[DONE]`,
	)
	r, err := OpenAIToResponsesStream(context.Background(), "gpt-test", strings.NewReader(string(body)))
	require.NoError(t, err)

	events := readSSEEvents(t, r)
	require.Len(t, events, 6)
	requireSequenceNumbers(t, events)

	assert.Equal(t, "response.output_item.added", events[2].event)
	assert.Equal(t, "function_call", events[2].data.Get("item.type").String())
	assert.Equal(t, "call_1", events[2].data.Get("item.call_id").String())

	assert.Equal(t, "response.function_call_arguments.done", events[3].event)
	assert.Equal(t, "{}", events[3].data.Get("arguments").String())
	assert.Equal(t, "response.output_item.done", events[4].event)
	assert.Equal(t, "{}", events[4].data.Get("item.arguments").String())

	assert.Equal(t, "response.completed", events[5].event)
	assert.Equal(t, "completed", events[5].data.Get("response.status").String())
}

func TestOpenAIToResponsesStream_LengthFinishIncomplete(t *testing.T) {
	body := sseBody(
		`{"id":"chatcmpl-x3","choices":[{"index":0,"delta":{"content":"hi"}}]}`,
		`{"choices":[{"index":0,"delta":{},"finish_reason":"length"}]}`,
		`[DONE]`,
	)
	r, err := OpenAIToResponsesStream(context.Background(), "gpt-test", strings.NewReader(string(body)))
	require.NoError(t, err)

	events := readSSEEvents(t, r)
	requireSequenceNumbers(t, events)
	last := events[len(events)-1]
	assert.Equal(t, "response.completed", last.event)
	assert.Equal(t, "incomplete", last.data.Get("response.status").String())
	assert.Equal(t, "max_output_tokens", last.data.Get("response.incomplete_details.reason").String())
}

func TestOpenAIToResponsesStream_ErrorFails(t *testing.T) {
	body := sseBody(
		`{"id":"chatcmpl-x4","choices":[{"index":0,"delta":{"content":"par"}}]}`,
		`{"error":{"message":"upstream died","type":"server_error"}}`,
	)
	r, err := OpenAIToResponsesStream(context.Background(), "gpt-test", strings.NewReader(string(body)))
	require.NoError(t, err)

	events := readSSEEvents(t, r)
	requireSequenceNumbers(t, events)
	last := events[len(events)-1]
	assert.Equal(t, "response.failed", last.event)
	assert.Equal(t, "failed", last.data.Get("response.status").String())
	assert.Equal(t, "server_error", last.data.Get("response.error.code").String())
	assert.Equal(t, "upstream died", last.data.Get("response.error.message").String())
	for _, ev := range events {
		assert.NotEqual(t, "response.completed", ev.event)
	}
}

func TestResponsesToOpenAIStream(t *testing.T) {
	body := sseBody(
		`{"type":"response.created","response":{"id":"resp_y1","status":"in_progress"}}`,
		`{"type":"response.output_item.added","output_index":0,"item":{"type":"reasoning","id":"rs_1"}}`,
		`{"type":"response.reasoning_summary_text.delta","item_id":"rs_1","output_index":0,"delta":"mull"}`,
		`{"type":"response.output_item.added","output_index":1,"item":{"type":"message","id":"msg_1"}}`,
		`{"type":"response.output_text.delta","item_id":"msg_1","output_index":1,"delta":"Hello"}`,
		`{"type":"response.completed","response":{"id":"resp_y1","status":"completed","usage":{"input_tokens":7,"output_tokens":3,"total_tokens":10}}}`,
	)
	r, err := ResponsesToOpenAIStream(context.Background(), "gpt-test", strings.NewReader(string(body)))
	require.NoError(t, err)

	events := readSSEEvents(t, r)
	require.Len(t, events, 5)

	assert.Equal(t, "resp_y1", events[0].data.Get("id").String())
	assert.Equal(t, "assistant", events[0].data.Get("choices.0.delta.role").String())
	assert.Equal(t, "mull", events[1].data.Get("choices.0.delta.reasoning_content").String())
	assert.Equal(t, "Hello", events[2].data.Get("choices.0.delta.content").String())
	assert.Equal(t, "stop", events[3].data.Get("choices.0.finish_reason").String())
	assert.Equal(t, int64(10), events[3].data.Get("usage.total_tokens").Int())
	assert.Equal(t, "[DONE]", events[4].raw)
}

func TestResponsesToOpenAIStream_ToolCall(t *testing.T) {
	body := sseBody(
		`{"type":"response.created","response":{"id":"resp_y2"}}`,
		`{"type":"response.output_item.added","output_index":0,"item":{"type":"function_call","id":"fc_1","call_id":"call_7","name":"get_weather","arguments":""}}`,
		`{"type":"response.function_call_arguments.delta","output_index":0,"delta":"{\"city\":\"Oslo\"}"}`,
		`{"type":"response.completed","response":{"id":"resp_y2","status":"completed"}}`,
	)
	r, err := ResponsesToOpenAIStream(context.Background(), "gpt-test", strings.NewReader(string(body)))
	require.NoError(t, err)

	events := readSSEEvents(t, r)
	require.Len(t, events, 5)

	call := events[1].data.Get("choices.0.delta.tool_calls.0")
	assert.Equal(t, "call_7", call.Get("id").String())
	assert.Equal(t, "get_weather", call.Get("function.name").String())
	assert.Equal(t, `{"city":"Oslo"}`, events[2].data.Get("choices.0.delta.tool_calls.0.function.arguments").String())
	assert.Equal(t, "tool_calls", events[3].data.Get("choices.0.finish_reason").String())
	assert.Equal(t, "[DONE]", events[4].raw)
}
