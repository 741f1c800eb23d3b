package translator

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"omni2api-go/internal/constants"
	"omni2api-go/internal/models"
)

// looksLikeSSE reports whether a body is an event-stream transcript rather
// than a JSON object. Streaming-only upstreams answer non-stream requests
// with SSE that must be aggregated first.
func looksLikeSSE(body []byte) bool {
	trimmed := bytes.TrimLeft(body, " \t\r\n")
	return bytes.HasPrefix(trimmed, []byte("data:")) || bytes.HasPrefix(trimmed, []byte("event:"))
}

func sseScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, constants.SSEScannerInitialBufferSize), constants.SSEScannerMaxBufferSize)
	return scanner
}

// ssePayload extracts the JSON payload from one SSE line, nil for
// non-data lines.
func ssePayload(line []byte) []byte {
	line = bytes.TrimSpace(line)
	if !bytes.HasPrefix(line, []byte("data:")) {
		return nil
	}
	return bytes.TrimSpace(bytes.TrimPrefix(line, []byte("data:")))
}

type toolCallAccum struct {
	id   string
	typ  string
	name string
	args strings.Builder
}

type choiceAccum struct {
	content   strings.Builder
	reasoning strings.Builder
	signature string
	finish    string
	toolCalls map[int]*toolCallAccum
	toolOrder []int
}

// CollectOpenAIStream aggregates a Chat Completions chunk stream into the
// final chat.completion object. Inline error chunks pass through verbatim.
func CollectOpenAIStream(body []byte, model string) ([]byte, error) {
	scanner := sseScanner(bytes.NewReader(body))

	choices := map[int]*choiceAccum{}
	var order []int
	var usage models.TokenUsage
	var id, outModel string
	var created int64

	for scanner.Scan() {
		payload := ssePayload(scanner.Bytes())
		if payload == nil {
			continue
		}
		if bytes.Equal(payload, []byte("[DONE]")) {
			break
		}
		root := gjson.ParseBytes(payload)
		if root.Get("error").Exists() {
			return payload, nil
		}
		if u, ok := ExtractUsage(FormatOpenAI, payload); ok {
			usage.Merge(u)
		}
		if v := root.Get("id"); v.String() != "" {
			id = v.String()
		}
		if v := root.Get("model"); v.String() != "" {
			outModel = v.String()
		}
		if v := root.Get("created"); v.Int() > 0 {
			created = v.Int()
		}

		for _, ch := range root.Get("choices").Array() {
			idx := int(ch.Get("index").Int())
			acc := choices[idx]
			if acc == nil {
				acc = &choiceAccum{toolCalls: map[int]*toolCallAccum{}}
				choices[idx] = acc
				order = append(order, idx)
			}
			delta := ch.Get("delta")
			if v := delta.Get("content"); v.Type == gjson.String {
				acc.content.WriteString(v.String())
			}
			if r := reasoningDelta(delta); r != "" {
				acc.reasoning.WriteString(r)
			}
			if v := delta.Get("reasoning_signature"); v.String() != "" {
				acc.signature = v.String()
			}
			for _, tc := range delta.Get("tool_calls").Array() {
				ti := int(tc.Get("index").Int())
				t := acc.toolCalls[ti]
				if t == nil {
					t = &toolCallAccum{typ: "function"}
					acc.toolCalls[ti] = t
					acc.toolOrder = append(acc.toolOrder, ti)
				}
				if v := tc.Get("id"); v.String() != "" {
					t.id = v.String()
				}
				if v := tc.Get("type"); v.String() != "" {
					t.typ = v.String()
				}
				if v := tc.Get("function.name"); v.String() != "" {
					t.name = v.String()
				}
				if v := tc.Get("function.arguments"); v.Exists() {
					t.args.WriteString(v.String())
				}
			}
			if v := ch.Get("finish_reason"); v.Type == gjson.String && v.String() != "" {
				acc.finish = v.String()
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	sort.Ints(order)
	outChoices := make([]map[string]any, 0, len(order))
	for _, idx := range order {
		acc := choices[idx]
		msg := map[string]any{"role": "assistant", "content": acc.content.String()}
		if acc.reasoning.Len() > 0 {
			msg["reasoning_content"] = acc.reasoning.String()
		}
		if acc.signature != "" {
			msg["reasoning_signature"] = acc.signature
		}
		if len(acc.toolOrder) > 0 {
			calls := make([]map[string]any, 0, len(acc.toolOrder))
			for _, ti := range acc.toolOrder {
				calls = append(calls, finalizeToolCall(acc.toolCalls[ti]))
			}
			msg["tool_calls"] = calls
		}
		finish := acc.finish
		if finish == "" {
			if len(acc.toolOrder) > 0 {
				finish = "tool_calls"
			} else {
				finish = "stop"
			}
		}
		outChoices = append(outChoices, map[string]any{
			"index":         idx,
			"message":       msg,
			"finish_reason": finish,
		})
	}

	if id == "" {
		id = fmt.Sprintf("chatcmpl-%d", time.Now().Unix())
	}
	if created == 0 {
		created = time.Now().Unix()
	}
	if outModel == "" {
		outModel = model
	}
	usage.Finalize()

	return json.Marshal(map[string]any{
		"id":      id,
		"object":  "chat.completion",
		"created": created,
		"model":   outModel,
		"choices": outChoices,
		"usage":   openAIUsageObject(usage),
	})
}

// reasoningDelta reads the reasoning text from whichever alias field the
// upstream used.
func reasoningDelta(delta gjson.Result) string {
	for _, key := range []string{"reasoning_content", "reasoning", "thinking_content"} {
		if v := delta.Get(key); v.Type == gjson.String && v.String() != "" {
			return v.String()
		}
	}
	return ""
}

// finalizeToolCall closes out an accumulated tool call. Empty streamed
// arguments finalize as {}.
func finalizeToolCall(t *toolCallAccum) map[string]any {
	args := strings.TrimSpace(t.args.String())
	if args == "" {
		log.WithFields(log.Fields{
			"tool": t.name,
			"id":   t.id,
		}).Warn("tool call finalized with empty arguments, substituting {}")
		args = "{}"
	}
	if t.id == "" {
		t.id = "call_" + uuid.NewString()[:8]
	}
	return map[string]any{
		"id":   t.id,
		"type": t.typ,
		"function": map[string]any{
			"name":      t.name,
			"arguments": args,
		},
	}
}

func openAIUsageObject(u models.TokenUsage) map[string]any {
	return map[string]any{
		"prompt_tokens":     u.InputTokens,
		"completion_tokens": u.OutputTokens,
		"total_tokens":      u.TotalTokens,
		"prompt_tokens_details": map[string]any{
			"cached_tokens": u.CachedTokens,
		},
		"completion_tokens_details": map[string]any{
			"reasoning_tokens": u.ThoughtsTokens,
		},
	}
}

// CollectResponsesStream aggregates a Responses event stream into the final
// response object. The response.completed payload wins when present;
// otherwise finished output items are reassembled.
func CollectResponsesStream(body []byte) ([]byte, error) {
	scanner := sseScanner(bytes.NewReader(body))

	var completed, failed []byte
	var doneItems []string

	for scanner.Scan() {
		payload := ssePayload(scanner.Bytes())
		if payload == nil {
			continue
		}
		if bytes.Equal(payload, []byte("[DONE]")) {
			break
		}
		root := gjson.ParseBytes(payload)
		switch root.Get("type").String() {
		case "response.completed":
			completed = []byte(root.Get("response").Raw)
		case "response.failed", "response.error", "error":
			failed = append([]byte(nil), payload...)
		case "response.output_item.done":
			if item := root.Get("item"); item.Exists() {
				doneItems = append(doneItems, item.Raw)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if completed != nil {
		return completed, nil
	}
	if failed != nil {
		return failed, nil
	}

	output := make([]json.RawMessage, 0, len(doneItems))
	for _, raw := range doneItems {
		output = append(output, json.RawMessage(raw))
	}
	return json.Marshal(map[string]any{
		"id":     "resp_" + uuid.NewString(),
		"object": "response",
		"status": "incomplete",
		"output": output,
	})
}

// CollectAnthropicStream aggregates an Anthropic event stream into the
// final message object.
func CollectAnthropicStream(body []byte) ([]byte, error) {
	scanner := sseScanner(bytes.NewReader(body))

	message := map[string]any{}
	blocks := map[int]map[string]any{}
	texts := map[int]*strings.Builder{}
	partials := map[int]*strings.Builder{}
	var order []int
	var stopReason, stopSequence string
	usageObj := map[string]any{}

	mergeUsage := func(u gjson.Result) {
		if !u.Exists() {
			return
		}
		u.ForEach(func(key, value gjson.Result) bool {
			usageObj[key.String()] = value.Value()
			return true
		})
	}

	for scanner.Scan() {
		payload := ssePayload(scanner.Bytes())
		if payload == nil {
			continue
		}
		root := gjson.ParseBytes(payload)
		switch root.Get("type").String() {
		case "message_start":
			if m := root.Get("message"); m.Exists() {
				_ = json.Unmarshal([]byte(m.Raw), &message)
				mergeUsage(m.Get("usage"))
			}
		case "content_block_start":
			idx := int(root.Get("index").Int())
			var blk map[string]any
			if cb := root.Get("content_block"); cb.Exists() {
				_ = json.Unmarshal([]byte(cb.Raw), &blk)
			}
			if blk == nil {
				blk = map[string]any{"type": "text"}
			}
			blocks[idx] = blk
			texts[idx] = &strings.Builder{}
			partials[idx] = &strings.Builder{}
			order = append(order, idx)
		case "content_block_delta":
			idx := int(root.Get("index").Int())
			if blocks[idx] == nil {
				blocks[idx] = map[string]any{"type": "text"}
				texts[idx] = &strings.Builder{}
				partials[idx] = &strings.Builder{}
				order = append(order, idx)
			}
			delta := root.Get("delta")
			switch delta.Get("type").String() {
			case "text_delta":
				texts[idx].WriteString(delta.Get("text").String())
			case "thinking_delta":
				texts[idx].WriteString(delta.Get("thinking").String())
			case "signature_delta":
				prev, _ := blocks[idx]["signature"].(string)
				blocks[idx]["signature"] = prev + delta.Get("signature").String()
			case "input_json_delta":
				partials[idx].WriteString(delta.Get("partial_json").String())
			}
		case "message_delta":
			if v := root.Get("delta.stop_reason"); v.String() != "" {
				stopReason = v.String()
			}
			if v := root.Get("delta.stop_sequence"); v.String() != "" {
				stopSequence = v.String()
			}
			mergeUsage(root.Get("usage"))
		case "error":
			return payload, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	sort.Ints(order)
	content := make([]map[string]any, 0, len(order))
	for _, idx := range order {
		blk := blocks[idx]
		switch blk["type"] {
		case "thinking":
			prev, _ := blk["thinking"].(string)
			blk["thinking"] = prev + texts[idx].String()
		case "tool_use":
			raw := strings.TrimSpace(partials[idx].String())
			if raw == "" {
				name, _ := blk["name"].(string)
				id, _ := blk["id"].(string)
				log.WithFields(log.Fields{
					"tool": name,
					"id":   id,
				}).Warn("tool call finalized with empty arguments, substituting {}")
				raw = "{}"
			}
			var input any
			if err := json.Unmarshal([]byte(raw), &input); err != nil {
				input = map[string]any{}
			}
			blk["input"] = input
		default:
			prev, _ := blk["text"].(string)
			blk["text"] = prev + texts[idx].String()
		}
		content = append(content, blk)
	}

	if message["id"] == nil {
		message["id"] = "msg_" + uuid.NewString()
	}
	message["type"] = "message"
	message["role"] = "assistant"
	message["content"] = content
	if stopReason != "" {
		message["stop_reason"] = stopReason
	}
	if stopSequence != "" {
		message["stop_sequence"] = stopSequence
	}
	if len(usageObj) > 0 {
		message["usage"] = usageObj
	}
	return json.Marshal(message)
}
