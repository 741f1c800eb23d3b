package translator

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"omni2api-go/internal/models"
)

func init() {
	Register(FormatOpenAI, FormatAnthropic, TranslatorConfig{
		RequestTransform:  OpenAIToAnthropicRequest,
		ResponseTransform: OpenAIToAnthropicResponse,
		StreamTransform:   OpenAIToAnthropicStream,
	})
}

// defaultAnthropicMaxTokens fills the mandatory max_tokens field when the
// source request leaves it unset.
const defaultAnthropicMaxTokens = 4096

// OpenAIToAnthropicRequest converts a Chat Completions request to the
// Anthropic Messages format.
func OpenAIToAnthropicRequest(model string, rawJSON []byte, stream bool) ([]byte, error) {
	rawJSON = FilterWebSearchTools(rawJSON)
	root := gjson.ParseBytes(rawJSON)

	out := map[string]any{}
	m := root.Get("model").String()
	if m == "" {
		m = model
	}
	out["model"] = m
	out["stream"] = stream

	var systemParts []string
	var msgs []map[string]any
	var pendingResults []map[string]any

	flushResults := func() {
		if len(pendingResults) == 0 {
			return
		}
		blocks := make([]any, 0, len(pendingResults))
		for _, r := range pendingResults {
			blocks = append(blocks, r)
		}
		msgs = append(msgs, map[string]any{"role": "user", "content": blocks})
		pendingResults = nil
	}

	for _, msg := range root.Get("messages").Array() {
		role := msg.Get("role").String()
		if role != "tool" {
			flushResults()
		}
		switch role {
		case "system", "developer":
			systemParts = append(systemParts, openAIContentText(msg.Get("content")))
		case "user":
			converted, err := openAIUserToAnthropic(msg.Get("content"))
			if err != nil {
				return nil, err
			}
			msgs = append(msgs, map[string]any{"role": "user", "content": converted})
		case "assistant":
			msgs = append(msgs, openAIAssistantToAnthropic(msg))
		case "tool":
			pendingResults = append(pendingResults, map[string]any{
				"type":        "tool_result",
				"tool_use_id": msg.Get("tool_call_id").String(),
				"content":     openAIContentText(msg.Get("content")),
			})
		}
	}
	flushResults()

	if len(systemParts) > 0 {
		out["system"] = strings.Join(systemParts, "\n")
	}
	out["messages"] = msgs

	if v := root.Get("max_tokens"); v.Exists() {
		out["max_tokens"] = v.Int()
	} else if v := root.Get("max_completion_tokens"); v.Exists() {
		out["max_tokens"] = v.Int()
	} else {
		out["max_tokens"] = defaultAnthropicMaxTokens
	}
	if v := root.Get("temperature"); v.Exists() {
		out["temperature"] = v.Value()
	}
	if v := root.Get("top_p"); v.Exists() {
		out["top_p"] = v.Value()
	}
	if v := root.Get("stop"); v.Exists() {
		if v.IsArray() {
			out["stop_sequences"] = v.Value()
		} else if s := v.String(); s != "" {
			out["stop_sequences"] = []string{s}
		}
	}

	if tools := root.Get("tools"); tools.IsArray() {
		var ts []map[string]any
		for _, t := range tools.Array() {
			fn := t.Get("function")
			schema := fn.Get("parameters").Raw
			if schema == "" {
				schema = `{"type":"object","properties":{}}`
			}
			ts = append(ts, map[string]any{
				"name":         fn.Get("name").String(),
				"description":  fn.Get("description").String(),
				"input_schema": json.RawMessage(schema),
			})
		}
		if len(ts) > 0 {
			out["tools"] = ts
		}
	}

	if tc := root.Get("tool_choice"); tc.Exists() {
		switch {
		case tc.Type == gjson.String:
			switch tc.String() {
			case "required":
				out["tool_choice"] = map[string]any{"type": "any"}
			case "none":
				out["tool_choice"] = map[string]any{"type": "none"}
			default:
				out["tool_choice"] = map[string]any{"type": "auto"}
			}
		case tc.Get("function.name").String() != "":
			out["tool_choice"] = map[string]any{"type": "tool", "name": tc.Get("function.name").String()}
		}
	}

	if effort := root.Get("reasoning_effort").String(); effort != "" && effort != "none" {
		out["thinking"] = map[string]any{
			"type":          "enabled",
			"budget_tokens": budgetFromEffort(effort),
		}
	}

	return json.Marshal(out)
}

// openAIContentText flattens string-or-parts content to plain text.
func openAIContentText(content gjson.Result) string {
	if content.Type == gjson.String {
		return content.String()
	}
	var parts []string
	for _, p := range content.Array() {
		if p.Get("type").String() == "text" {
			parts = append(parts, p.Get("text").String())
		}
	}
	return strings.Join(parts, "\n")
}

// openAIUserToAnthropic converts user content. String content passes through
// untouched, part arrays become Anthropic blocks.
func openAIUserToAnthropic(content gjson.Result) (any, error) {
	if content.Type == gjson.String {
		return content.String(), nil
	}
	var blocks []map[string]any
	for _, p := range content.Array() {
		switch p.Get("type").String() {
		case "text":
			blocks = append(blocks, map[string]any{"type": "text", "text": p.Get("text").String()})
		case "image_url":
			url := p.Get("image_url.url").String()
			if media, data, ok := parseDataURL(url); ok {
				blocks = append(blocks, map[string]any{
					"type": "image",
					"source": map[string]any{
						"type":       "base64",
						"media_type": media,
						"data":       data,
					},
				})
			} else {
				blocks = append(blocks, map[string]any{
					"type":   "image",
					"source": map[string]any{"type": "url", "url": url},
				})
			}
		}
	}
	return blocks, nil
}

func openAIAssistantToAnthropic(msg gjson.Result) map[string]any {
	var blocks []map[string]any

	if reasoning := openAIReasoningText(msg); reasoning != "" {
		block := map[string]any{"type": "thinking", "thinking": reasoning}
		if sig := msg.Get("reasoning_signature").String(); sig != "" {
			block["signature"] = sig
		}
		blocks = append(blocks, block)
	}
	if text := openAIContentText(msg.Get("content")); text != "" {
		blocks = append(blocks, map[string]any{"type": "text", "text": text})
	}
	for _, tc := range msg.Get("tool_calls").Array() {
		blocks = append(blocks, map[string]any{
			"type":  "tool_use",
			"id":    tc.Get("id").String(),
			"name":  tc.Get("function.name").String(),
			"input": parseToolArguments(tc.Get("function.name").String(), tc.Get("id").String(), tc.Get("function.arguments").String()),
		})
	}
	if len(blocks) == 0 {
		blocks = append(blocks, map[string]any{"type": "text", "text": ""})
	}
	return map[string]any{"role": "assistant", "content": blocks}
}

// openAIReasoningText reads the reasoning field under any of its aliases.
func openAIReasoningText(msg gjson.Result) string {
	for _, key := range []string{"reasoning_content", "reasoning", "thinking_content"} {
		if v := msg.Get(key); v.Type == gjson.String && v.String() != "" {
			return v.String()
		}
	}
	return ""
}

// parseToolArguments decodes a JSON arguments string, substituting an empty
// object for blank or malformed payloads.
func parseToolArguments(name, id, args string) map[string]any {
	trimmed := strings.TrimSpace(args)
	if trimmed == "" {
		log.WithFields(log.Fields{"tool": name, "id": id}).Warn("tool call finalized with empty arguments, substituting {}")
		return map[string]any{}
	}
	var parsed map[string]any
	if err := json.Unmarshal([]byte(trimmed), &parsed); err != nil {
		log.WithFields(log.Fields{"tool": name, "id": id}).WithError(err).Warn("tool call arguments did not parse, substituting {}")
		return map[string]any{}
	}
	if parsed == nil {
		return map[string]any{}
	}
	return parsed
}

// parseDataURL splits a data URL into media type and base64 payload.
func parseDataURL(url string) (mediaType, data string, ok bool) {
	if !strings.HasPrefix(url, "data:") {
		return "", "", false
	}
	rest := url[len("data:"):]
	sep := strings.Index(rest, ";base64,")
	if sep < 0 {
		return "", "", false
	}
	return rest[:sep], rest[sep+len(";base64,"):], true
}

// budgetFromEffort is the inverse of effortFromBudget.
func budgetFromEffort(effort string) int {
	switch effort {
	case "low":
		return 1024
	case "medium":
		return 8192
	case "high":
		return 24576
	default:
		return 8192
	}
}

// anthropicUsageObject renders usage the way Anthropic reports it: cached
// tokens are carried separately and excluded from input_tokens.
func anthropicUsageObject(u models.TokenUsage) map[string]any {
	input := u.InputTokens - u.CachedTokens
	if input < 0 {
		input = 0
	}
	out := map[string]any{
		"input_tokens":  input,
		"output_tokens": u.OutputTokens,
	}
	if u.CachedTokens > 0 {
		out["cache_read_input_tokens"] = u.CachedTokens
	}
	return out
}

// OpenAIToAnthropicResponse converts a chat.completion (or a Chat
// Completions SSE transcript) into an Anthropic message object.
func OpenAIToAnthropicResponse(ctx context.Context, model string, responseBody []byte) ([]byte, error) {
	if looksLikeSSE(responseBody) {
		var err error
		responseBody, err = CollectOpenAIStream(responseBody, model)
		if err != nil {
			return nil, err
		}
	}
	root := gjson.ParseBytes(responseBody)
	if e := root.Get("error"); e.Exists() {
		return json.Marshal(map[string]any{
			"type": "error",
			"error": map[string]any{
				"type":    nonEmpty(e.Get("type").String(), "api_error"),
				"message": e.Get("message").String(),
			},
		})
	}

	msg := root.Get("choices.0.message")
	var blocks []map[string]any

	reasoning := openAIReasoningText(msg)
	content := openAIContentText(msg.Get("content"))
	if reasoning == "" && content != "" {
		// Some upstreams inline reasoning as a leading <thinking> block
		// instead of a separate field.
		if t, rest, found := peelThinkingTags(content); found {
			reasoning = t
			content = rest
		}
	}
	if reasoning != "" {
		block := map[string]any{"type": "thinking", "thinking": reasoning}
		if sig := msg.Get("reasoning_signature").String(); sig != "" {
			block["signature"] = sig
		}
		blocks = append(blocks, block)
	}
	if content != "" {
		blocks = append(blocks, map[string]any{"type": "text", "text": content})
	}
	sawTool := false
	for _, tc := range msg.Get("tool_calls").Array() {
		sawTool = true
		blocks = append(blocks, map[string]any{
			"type":  "tool_use",
			"id":    tc.Get("id").String(),
			"name":  tc.Get("function.name").String(),
			"input": parseToolArguments(tc.Get("function.name").String(), tc.Get("id").String(), tc.Get("function.arguments").String()),
		})
	}
	if len(blocks) == 0 {
		blocks = append(blocks, map[string]any{"type": "text", "text": ""})
	}

	stopReason := openAIToAnthropicStopReason(root.Get("choices.0.finish_reason").String())
	if sawTool {
		stopReason = "tool_use"
	}

	usage, _ := ExtractUsage(FormatOpenAI, responseBody)
	usage.Finalize()

	id := root.Get("id").String()
	if id == "" {
		id = "msg_" + uuid.NewString()[:12]
	}
	outModel := root.Get("model").String()
	if outModel == "" {
		outModel = model
	}

	return json.Marshal(map[string]any{
		"id":            id,
		"type":          "message",
		"role":          "assistant",
		"model":         outModel,
		"content":       blocks,
		"stop_reason":   stopReason,
		"stop_sequence": nil,
		"usage":         anthropicUsageObject(usage),
	})
}

// peelThinkingTags splits a leading <thinking> block off a completed text.
func peelThinkingTags(text string) (thinking, rest string, found bool) {
	parser := NewThinkingTagParser()
	segments := parser.Feed(text)
	segments = append(segments, parser.Close()...)
	if !parser.SawThinking() {
		return "", text, false
	}
	var tb, rb strings.Builder
	for _, seg := range segments {
		if seg.Kind == SegmentThinking {
			tb.WriteString(seg.Text)
		} else {
			rb.WriteString(seg.Text)
		}
	}
	return tb.String(), rb.String(), true
}

func nonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
