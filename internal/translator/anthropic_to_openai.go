package translator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"omni2api-go/internal/models"
)

func init() {
	Register(FormatAnthropic, FormatOpenAI, TranslatorConfig{
		RequestTransform:  AnthropicToOpenAIRequest,
		ResponseTransform: AnthropicToOpenAIResponse,
		StreamTransform:   AnthropicToOpenAIStream,
	})
}

// AnthropicToOpenAIRequest converts an Anthropic Messages request to Chat
// Completions format.
func AnthropicToOpenAIRequest(model string, rawJSON []byte, stream bool) ([]byte, error) {
	rawJSON = FilterWebSearchTools(rawJSON)
	root := gjson.ParseBytes(rawJSON)

	out := map[string]any{}
	m := root.Get("model").String()
	if m == "" {
		m = model
	}
	out["model"] = m
	out["stream"] = stream

	var msgs []map[string]any
	if sys := flattenAnthropicSystem(root.Get("system")); sys != "" {
		msgs = append(msgs, map[string]any{"role": "system", "content": sys})
	}
	for _, msg := range root.Get("messages").Array() {
		switch msg.Get("role").String() {
		case "user":
			userMsg, toolMsgs := anthropicUserToOpenAI(msg.Get("content"))
			msgs = append(msgs, toolMsgs...)
			if userMsg != nil {
				msgs = append(msgs, userMsg)
			}
		case "assistant":
			msgs = append(msgs, anthropicAssistantToOpenAI(msg.Get("content")))
		}
	}
	out["messages"] = msgs

	if v := root.Get("max_tokens"); v.Exists() {
		out["max_tokens"] = v.Int()
	}
	if v := root.Get("temperature"); v.Exists() {
		out["temperature"] = v.Value()
	}
	if v := root.Get("top_p"); v.Exists() {
		out["top_p"] = v.Value()
	}
	if v := root.Get("stop_sequences"); v.IsArray() {
		out["stop"] = v.Value()
	}

	if tools := root.Get("tools"); tools.IsArray() {
		var fs []map[string]any
		for _, t := range tools.Array() {
			params := t.Get("input_schema").Raw
			if params == "" {
				params = `{"type":"object","properties":{}}`
			}
			fs = append(fs, map[string]any{
				"type": "function",
				"function": map[string]any{
					"name":        t.Get("name").String(),
					"description": t.Get("description").String(),
					"parameters":  json.RawMessage(params),
				},
			})
		}
		if len(fs) > 0 {
			out["tools"] = fs
		}
	}

	if tc := root.Get("tool_choice"); tc.Exists() {
		switch tc.Get("type").String() {
		case "any":
			out["tool_choice"] = "required"
		case "tool":
			out["tool_choice"] = map[string]any{
				"type":     "function",
				"function": map[string]any{"name": tc.Get("name").String()},
			}
		default:
			out["tool_choice"] = "auto"
		}
	}

	if th := root.Get("thinking"); th.Get("type").String() == "enabled" {
		out["reasoning_effort"] = effortFromBudget(th.Get("budget_tokens").Int())
	}

	return json.Marshal(out)
}

// flattenAnthropicSystem joins a system string or text-block array into one
// system prompt.
func flattenAnthropicSystem(sys gjson.Result) string {
	if !sys.Exists() {
		return ""
	}
	if sys.Type == gjson.String {
		return sys.String()
	}
	var parts []string
	for _, block := range sys.Array() {
		if t := block.Get("text").String(); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n")
}

// anthropicUserToOpenAI splits one user message into tool-result messages
// plus the remaining user content.
func anthropicUserToOpenAI(content gjson.Result) (map[string]any, []map[string]any) {
	if content.Type == gjson.String {
		return map[string]any{"role": "user", "content": content.String()}, nil
	}

	var parts []map[string]any
	var toolMsgs []map[string]any
	for _, block := range content.Array() {
		switch block.Get("type").String() {
		case "text":
			parts = append(parts, map[string]any{"type": "text", "text": block.Get("text").String()})
		case "image":
			src := block.Get("source")
			switch src.Get("type").String() {
			case "base64":
				url := fmt.Sprintf("data:%s;base64,%s", src.Get("media_type").String(), src.Get("data").String())
				parts = append(parts, map[string]any{"type": "image_url", "image_url": map[string]any{"url": url}})
			case "url":
				parts = append(parts, map[string]any{"type": "image_url", "image_url": map[string]any{"url": src.Get("url").String()}})
			}
		case "tool_result":
			toolMsgs = append(toolMsgs, map[string]any{
				"role":         "tool",
				"tool_call_id": block.Get("tool_use_id").String(),
				"content":      anthropicResultText(block),
			})
		}
	}

	if len(parts) == 0 {
		return nil, toolMsgs
	}
	if len(parts) == 1 && parts[0]["type"] == "text" {
		return map[string]any{"role": "user", "content": parts[0]["text"]}, toolMsgs
	}
	return map[string]any{"role": "user", "content": parts}, toolMsgs
}

func anthropicAssistantToOpenAI(content gjson.Result) map[string]any {
	msg := map[string]any{"role": "assistant"}
	if content.Type == gjson.String {
		msg["content"] = content.String()
		return msg
	}

	var text, reasoning, signature strings.Builder
	var toolCalls []map[string]any
	for _, block := range content.Array() {
		switch block.Get("type").String() {
		case "text":
			text.WriteString(block.Get("text").String())
		case "thinking":
			reasoning.WriteString(block.Get("thinking").String())
			if sig := block.Get("signature").String(); sig != "" {
				signature.WriteString(sig)
			}
		case "tool_use":
			args := block.Get("input").Raw
			if args == "" || args == "null" {
				args = "{}"
			}
			toolCalls = append(toolCalls, map[string]any{
				"id":   block.Get("id").String(),
				"type": "function",
				"function": map[string]any{
					"name":      block.Get("name").String(),
					"arguments": args,
				},
			})
		}
	}

	msg["content"] = text.String()
	if reasoning.Len() > 0 {
		msg["reasoning_content"] = reasoning.String()
	}
	if signature.Len() > 0 {
		msg["reasoning_signature"] = signature.String()
	}
	if len(toolCalls) > 0 {
		msg["tool_calls"] = toolCalls
	}
	return msg
}

// anthropicResultText flattens tool_result content to a plain string.
func anthropicResultText(block gjson.Result) string {
	content := block.Get("content")
	if content.Type == gjson.String {
		return content.String()
	}
	var parts []string
	for _, item := range content.Array() {
		if t := item.Get("text").String(); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n")
}

// effortFromBudget maps an Anthropic thinking budget onto the
// reasoning_effort scale.
func effortFromBudget(budget int64) string {
	switch {
	case budget == 0:
		return "none"
	case budget < 0:
		return "auto"
	case budget <= 1024:
		return "low"
	case budget <= 8192:
		return "medium"
	default:
		return "high"
	}
}

// AnthropicToOpenAIResponse converts an Anthropic message (or an Anthropic
// SSE transcript) into a chat.completion object.
func AnthropicToOpenAIResponse(ctx context.Context, model string, responseBody []byte) ([]byte, error) {
	if looksLikeSSE(responseBody) {
		var err error
		responseBody, err = CollectAnthropicStream(responseBody)
		if err != nil {
			return nil, err
		}
	}
	root := gjson.ParseBytes(responseBody)
	if root.Get("type").String() == "error" {
		return json.Marshal(map[string]any{
			"error": map[string]any{
				"message": root.Get("error.message").String(),
				"type":    root.Get("error.type").String(),
			},
		})
	}

	msg := map[string]any{"role": "assistant"}
	var text, reasoning strings.Builder
	var signature string
	var toolCalls []map[string]any
	for _, block := range root.Get("content").Array() {
		switch block.Get("type").String() {
		case "text":
			text.WriteString(block.Get("text").String())
		case "thinking":
			reasoning.WriteString(block.Get("thinking").String())
			if sig := block.Get("signature").String(); sig != "" {
				signature = sig
			}
		case "tool_use":
			args := block.Get("input").Raw
			if args == "" || args == "null" {
				args = "{}"
			}
			toolCalls = append(toolCalls, map[string]any{
				"id":   block.Get("id").String(),
				"type": "function",
				"function": map[string]any{
					"name":      block.Get("name").String(),
					"arguments": args,
				},
			})
		}
	}
	msg["content"] = text.String()
	if reasoning.Len() > 0 {
		msg["reasoning_content"] = reasoning.String()
	}
	if signature != "" {
		msg["reasoning_signature"] = signature
	}
	if len(toolCalls) > 0 {
		msg["tool_calls"] = toolCalls
	}

	usage, _ := ExtractUsage(FormatAnthropic, responseBody)
	usage.Finalize()

	id := root.Get("id").String()
	if id == "" {
		id = fmt.Sprintf("chatcmpl-%d", time.Now().Unix())
	}
	outModel := root.Get("model").String()
	if outModel == "" {
		outModel = model
	}

	return json.Marshal(map[string]any{
		"id":      id,
		"object":  "chat.completion",
		"created": time.Now().Unix(),
		"model":   outModel,
		"choices": []map[string]any{{
			"index":         0,
			"message":       msg,
			"finish_reason": anthropicToOpenAIStopReason(root.Get("stop_reason").String()),
		}},
		"usage": openAIUsageObject(usage),
	})
}

// AnthropicToOpenAIStream converts an Anthropic event stream into Chat
// Completions chunks, ending with [DONE].
func AnthropicToOpenAIStream(ctx context.Context, model string, reader io.Reader) (io.Reader, error) {
	pr, pw := io.Pipe()

	go func() {
		defer pw.Close()

		scanner := sseScanner(reader)
		id := fmt.Sprintf("chatcmpl-%d", time.Now().Unix())
		created := time.Now().Unix()

		writeChunk := func(delta map[string]any, finish any, usage map[string]any) {
			choice := map[string]any{"index": 0, "delta": delta, "finish_reason": finish}
			chunk := map[string]any{
				"id":      id,
				"object":  "chat.completion.chunk",
				"created": created,
				"model":   model,
				"choices": []map[string]any{choice},
			}
			if usage != nil {
				chunk["usage"] = usage
			}
			payload, _ := json.Marshal(chunk)
			pw.Write([]byte("data: "))
			pw.Write(payload)
			pw.Write([]byte("\n\n"))
		}

		blockTypes := map[int]string{}
		toolIndex := map[int]int{}
		toolCount := 0
		var usage models.TokenUsage
		var stopReason string
		finished := false

		for scanner.Scan() {
			payload := ssePayload(scanner.Bytes())
			if payload == nil {
				continue
			}
			root := gjson.ParseBytes(payload)
			switch root.Get("type").String() {
			case "message_start":
				if mid := root.Get("message.id").String(); mid != "" {
					id = mid
				}
				if u, ok := ExtractUsage(FormatAnthropic, payload); ok {
					usage.Merge(u)
				}
				writeChunk(map[string]any{"role": "assistant", "content": ""}, nil, nil)
			case "content_block_start":
				idx := int(root.Get("index").Int())
				cb := root.Get("content_block")
				blockTypes[idx] = cb.Get("type").String()
				if blockTypes[idx] == "tool_use" {
					toolIndex[idx] = toolCount
					toolCount++
					writeChunk(map[string]any{"tool_calls": []map[string]any{{
						"index": toolIndex[idx],
						"id":    cb.Get("id").String(),
						"type":  "function",
						"function": map[string]any{
							"name":      cb.Get("name").String(),
							"arguments": "",
						},
					}}}, nil, nil)
				}
			case "content_block_delta":
				idx := int(root.Get("index").Int())
				delta := root.Get("delta")
				switch delta.Get("type").String() {
				case "text_delta":
					writeChunk(map[string]any{"content": delta.Get("text").String()}, nil, nil)
				case "thinking_delta":
					writeChunk(map[string]any{"reasoning_content": delta.Get("thinking").String()}, nil, nil)
				case "signature_delta":
					writeChunk(map[string]any{"reasoning_signature": delta.Get("signature").String()}, nil, nil)
				case "input_json_delta":
					writeChunk(map[string]any{"tool_calls": []map[string]any{{
						"index":    toolIndex[idx],
						"function": map[string]any{"arguments": delta.Get("partial_json").String()},
					}}}, nil, nil)
				}
			case "message_delta":
				if v := root.Get("delta.stop_reason"); v.String() != "" {
					stopReason = v.String()
				}
				if u, ok := ExtractUsage(FormatAnthropic, payload); ok {
					usage.Merge(u)
				}
			case "message_stop":
				if stopReason == "" {
					stopReason = "end_turn"
				}
				usage.Finalize()
				writeChunk(map[string]any{}, anthropicToOpenAIStopReason(stopReason), openAIUsageObject(usage))
				finished = true
			case "error":
				out, _ := json.Marshal(map[string]any{
					"error": map[string]any{
						"message": root.Get("error.message").String(),
						"type":    root.Get("error.type").String(),
					},
				})
				pw.Write([]byte("data: "))
				pw.Write(out)
				pw.Write([]byte("\n\n"))
				pw.Write([]byte("data: [DONE]\n\n"))
				return
			}
		}
		if err := scanner.Err(); err != nil {
			log.WithError(err).Warn("anthropic stream read failed mid-flight")
		}
		if !finished {
			usage.Finalize()
			writeChunk(map[string]any{}, anthropicToOpenAIStopReason(stopReason), openAIUsageObject(usage))
		}
		pw.Write([]byte("data: [DONE]\n\n"))
	}()

	return pr, nil
}
