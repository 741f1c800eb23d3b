package translator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestSanitizeToolHistory_DropsOrphanedToolUse(t *testing.T) {
	input := `{
		"messages": [
			{"role": "user", "content": [{"type": "text", "text": "run it"}]},
			{"role": "assistant", "content": [
				{"type": "text", "text": "running"},
				{"type": "tool_use", "id": "tu_1", "name": "run", "input": {}}
			]}
		]
	}`
	out := SanitizeToolHistory([]byte(input))

	blocks := gjson.GetBytes(out, "messages.1.content")
	require.Equal(t, 1, int(blocks.Get("#").Int()))
	assert.Equal(t, "text", blocks.Get("0.type").String())
}

func TestSanitizeToolHistory_KeepsPairedToolUse(t *testing.T) {
	input := `{
		"messages": [
			{"role": "assistant", "content": [
				{"type": "tool_use", "id": "tu_1", "name": "run", "input": {}}
			]},
			{"role": "user", "content": [
				{"type": "tool_result", "tool_use_id": "tu_1", "content": "ok"}
			]}
		]
	}`
	out := SanitizeToolHistory([]byte(input))

	assert.Equal(t, "tool_use", gjson.GetBytes(out, "messages.0.content.0.type").String())
	assert.Equal(t, "tool_result", gjson.GetBytes(out, "messages.1.content.0.type").String())
}

func TestSanitizeToolHistory_DemotesUnmatchedResult(t *testing.T) {
	input := `{
		"messages": [
			{"role": "user", "content": [
				{"type": "tool_result", "tool_use_id": "tu_missing", "content": "stale output"}
			]},
			{"role": "assistant", "content": [{"type": "text", "text": "noted"}]}
		]
	}`
	out := SanitizeToolHistory([]byte(input))

	first := gjson.GetBytes(out, "messages.0.content.0")
	assert.Equal(t, "text", first.Get("type").String())
	assert.Equal(t, "stale output", first.Get("text").String())
}

func TestSanitizeToolHistory_GeneratesAndPropagatesIDs(t *testing.T) {
	input := `{
		"messages": [
			{"role": "assistant", "content": [
				{"type": "tool_use", "id": "", "name": "search", "input": {}}
			]},
			{"role": "user", "content": [
				{"type": "tool_result", "tool_use_id": "", "content": "found"}
			]}
		]
	}`
	out := SanitizeToolHistory([]byte(input))

	useID := gjson.GetBytes(out, "messages.0.content.0.id").String()
	require.NotEmpty(t, useID)
	assert.Equal(t, useID, gjson.GetBytes(out, "messages.1.content.0.tool_use_id").String())
}

func TestSanitizeToolHistory_AddsPlaceholderTools(t *testing.T) {
	input := `{
		"tools": [{"name": "declared", "description": "d", "input_schema": {"type": "object"}}],
		"messages": [
			{"role": "assistant", "content": [
				{"type": "tool_use", "id": "a", "name": "zeta", "input": {}},
				{"type": "tool_use", "id": "b", "name": "alpha", "input": {}}
			]},
			{"role": "user", "content": [
				{"type": "tool_result", "tool_use_id": "a", "content": "1"},
				{"type": "tool_result", "tool_use_id": "b", "content": "2"}
			]}
		]
	}`
	out := SanitizeToolHistory([]byte(input))

	tools := gjson.GetBytes(out, "tools")
	require.Equal(t, 3, int(tools.Get("#").Int()))
	// missing names append in sorted order after the declared tool
	assert.Equal(t, "alpha", tools.Get("1.name").String())
	assert.Equal(t, "zeta", tools.Get("2.name").String())
	assert.Equal(t, "Tool used in conversation history", tools.Get("1.description").String())
	assert.Equal(t, "object", tools.Get("1.input_schema.type").String())
}

func TestSanitizeToolHistory_PrunesEmptiedMessages(t *testing.T) {
	input := `{
		"messages": [
			{"role": "user", "content": [{"type": "text", "text": "go"}]},
			{"role": "assistant", "content": [
				{"type": "tool_use", "id": "tu_1", "name": "run", "input": {}}
			]},
			{"role": "user", "content": [{"type": "text", "text": "anything?"}]}
		]
	}`
	out := SanitizeToolHistory([]byte(input))

	// the orphaned tool_use empties its message, which is then removed
	msgs := gjson.GetBytes(out, "messages")
	require.Equal(t, 2, int(msgs.Get("#").Int()))
	assert.Equal(t, "user", msgs.Get("0.role").String())
	assert.Equal(t, "user", msgs.Get("1.role").String())
}

func TestMergeAlternatingHistory_MergesSameRoleRuns(t *testing.T) {
	input := `[
		{"role": "user", "content": "first"},
		{"role": "user", "content": [{"type": "text", "text": "second"}]},
		{"role": "assistant", "content": "reply"}
	]`
	out := MergeAlternatingHistory([]byte(input))

	msgs := gjson.ParseBytes(out)
	require.Equal(t, 2, int(msgs.Get("#").Int()))
	assert.Equal(t, 2, int(msgs.Get("0.content.#").Int()))
	assert.Equal(t, "first", msgs.Get("0.content.0.text").String())
	assert.Equal(t, "second", msgs.Get("0.content.1.text").String())
}

func TestMergeAlternatingHistory_ToolOnlyAssistantGetsSpace(t *testing.T) {
	input := `[
		{"role": "user", "content": "run"},
		{"role": "assistant", "content": [
			{"type": "tool_use", "id": "tu_1", "name": "run", "input": {}}
		]}
	]`
	out := MergeAlternatingHistory([]byte(input))

	first := gjson.ParseBytes(out).Get("1.content.0")
	assert.Equal(t, "text", first.Get("type").String())
	assert.Equal(t, " ", first.Get("text").String())
}

func TestMergeAlternatingHistory_ClosesUserTailWithOK(t *testing.T) {
	input := `[
		{"role": "assistant", "content": "hello"},
		{"role": "user", "content": "bye"}
	]`
	out := MergeAlternatingHistory([]byte(input))

	msgs := gjson.ParseBytes(out)
	require.Equal(t, 3, int(msgs.Get("#").Int()))
	assert.Equal(t, "assistant", msgs.Get("2.role").String())
	assert.Equal(t, "OK", msgs.Get("2.content.0.text").String())
}

func TestFilterWebSearchTools_DropsWhenMixed(t *testing.T) {
	input := `{
		"tools": [
			{"type": "function", "function": {"name": "get_weather"}},
			{"type": "web_search_20250305", "name": "web_search"}
		],
		"tool_choice": {"type": "tool", "name": "web_search"}
	}`
	out := FilterWebSearchTools([]byte(input))

	tools := gjson.GetBytes(out, "tools")
	require.Equal(t, 1, int(tools.Get("#").Int()))
	assert.Equal(t, "get_weather", tools.Get("0.function.name").String())
	assert.Equal(t, "auto", gjson.GetBytes(out, "tool_choice.type").String())
}

func TestFilterWebSearchTools_OpenAIChoiceDemotedToAuto(t *testing.T) {
	input := `{
		"tools": [
			{"type": "function", "function": {"name": "get_weather"}},
			{"type": "function", "function": {"name": "web_search"}}
		],
		"tool_choice": {"type": "function", "function": {"name": "web_search"}}
	}`
	out := FilterWebSearchTools([]byte(input))

	assert.Equal(t, "auto", gjson.GetBytes(out, "tool_choice").String())
}

func TestFilterWebSearchTools_OnlyWebSearchUnchanged(t *testing.T) {
	input := `{"tools": [{"type": "web_search_20250305", "name": "web_search"}]}`
	out := FilterWebSearchTools([]byte(input))
	assert.Equal(t, input, string(out))
}

func TestFilterWebSearchTools_NoWebSearchUnchanged(t *testing.T) {
	input := `{"tools": [{"type": "function", "function": {"name": "get_weather"}}]}`
	out := FilterWebSearchTools([]byte(input))
	assert.Equal(t, input, string(out))
}

func TestInjectChunkedWritePolicy(t *testing.T) {
	out := InjectChunkedWritePolicy("You are a coding agent.")
	assert.True(t, strings.HasPrefix(out, "You are a coding agent."))
	assert.Contains(t, out, "150 lines")
	assert.Contains(t, out, "50 lines")

	again := InjectChunkedWritePolicy(out)
	assert.Equal(t, out, again)

	empty := InjectChunkedWritePolicy("")
	assert.Contains(t, empty, "150 lines")
	assert.Equal(t, empty, InjectChunkedWritePolicy(empty))
}
