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
	Register(FormatOpenAIResponses, FormatOpenAI, TranslatorConfig{
		RequestTransform:  ResponsesToOpenAIRequest,
		ResponseTransform: ResponsesToOpenAIResponse,
		StreamTransform:   ResponsesToOpenAIStream,
	})
}

// ResponsesToOpenAIRequest converts a Responses API request to Chat
// Completions format.
func ResponsesToOpenAIRequest(model string, rawJSON []byte, stream bool) ([]byte, error) {
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
	if inst := root.Get("instructions").String(); inst != "" {
		msgs = append(msgs, map[string]any{"role": "system", "content": inst})
	}

	input := root.Get("input")
	if input.Type == gjson.String {
		msgs = append(msgs, map[string]any{"role": "user", "content": input.String()})
	} else {
		var pendingCalls []map[string]any
		flushCalls := func() {
			if len(pendingCalls) == 0 {
				return
			}
			msgs = append(msgs, map[string]any{"role": "assistant", "content": "", "tool_calls": pendingCalls})
			pendingCalls = nil
		}
		for _, item := range input.Array() {
			itemType := item.Get("type").String()
			if itemType == "" && item.Get("role").Exists() {
				itemType = "message"
			}
			if itemType != "function_call" {
				flushCalls()
			}
			switch itemType {
			case "message":
				msgs = append(msgs, responsesMessageToOpenAI(item))
			case "function_call":
				pendingCalls = append(pendingCalls, map[string]any{
					"id":   item.Get("call_id").String(),
					"type": "function",
					"function": map[string]any{
						"name":      item.Get("name").String(),
						"arguments": item.Get("arguments").String(),
					},
				})
			case "function_call_output":
				msgs = append(msgs, map[string]any{
					"role":         "tool",
					"tool_call_id": item.Get("call_id").String(),
					"content":      item.Get("output").String(),
				})
			}
		}
		flushCalls()
	}
	out["messages"] = msgs

	if v := root.Get("max_output_tokens"); v.Exists() {
		out["max_tokens"] = v.Int()
	}
	if v := root.Get("temperature"); v.Exists() {
		out["temperature"] = v.Value()
	}
	if v := root.Get("top_p"); v.Exists() {
		out["top_p"] = v.Value()
	}
	if effort := root.Get("reasoning.effort").String(); effort != "" {
		out["reasoning_effort"] = effort
	}

	if tools := root.Get("tools"); tools.IsArray() {
		var fs []map[string]any
		for _, t := range tools.Array() {
			if t.Get("type").String() != "function" {
				continue
			}
			params := t.Get("parameters").Raw
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
		if tc.Type == gjson.String {
			out["tool_choice"] = tc.String()
		} else if name := tc.Get("name").String(); name != "" {
			out["tool_choice"] = map[string]any{
				"type":     "function",
				"function": map[string]any{"name": name},
			}
		}
	}

	return json.Marshal(out)
}

// responsesMessageToOpenAI converts a message item, folding input_text and
// output_text parts back into chat content.
func responsesMessageToOpenAI(item gjson.Result) map[string]any {
	role := item.Get("role").String()
	content := item.Get("content")
	if content.Type == gjson.String {
		return map[string]any{"role": role, "content": content.String()}
	}

	var parts []map[string]any
	var texts []string
	textOnly := true
	for _, p := range content.Array() {
		switch p.Get("type").String() {
		case "input_text", "output_text", "text":
			texts = append(texts, p.Get("text").String())
			parts = append(parts, map[string]any{"type": "text", "text": p.Get("text").String()})
		case "input_image":
			textOnly = false
			parts = append(parts, map[string]any{
				"type":      "image_url",
				"image_url": map[string]any{"url": p.Get("image_url").String()},
			})
		}
	}
	if textOnly {
		return map[string]any{"role": role, "content": strings.Join(texts, "")}
	}
	return map[string]any{"role": role, "content": parts}
}

// ResponsesToOpenAIResponse converts a Responses object (or SSE transcript)
// into a chat.completion.
func ResponsesToOpenAIResponse(ctx context.Context, model string, responseBody []byte) ([]byte, error) {
	if looksLikeSSE(responseBody) {
		var err error
		responseBody, err = CollectResponsesStream(responseBody)
		if err != nil {
			return nil, err
		}
	}
	root := gjson.ParseBytes(responseBody)
	if e := root.Get("error"); e.Exists() && e.Get("message").String() != "" {
		return json.Marshal(map[string]any{
			"error": map[string]any{
				"message": e.Get("message").String(),
				"type":    nonEmpty(e.Get("type").String(), "api_error"),
			},
		})
	}

	msg := map[string]any{"role": "assistant"}
	var text, reasoning strings.Builder
	var toolCalls []map[string]any
	for _, item := range root.Get("output").Array() {
		switch item.Get("type").String() {
		case "message":
			for _, p := range item.Get("content").Array() {
				if p.Get("type").String() == "output_text" || p.Get("type").String() == "text" {
					text.WriteString(p.Get("text").String())
				}
			}
		case "reasoning":
			for _, s := range item.Get("summary").Array() {
				reasoning.WriteString(s.Get("text").String())
			}
		case "function_call":
			args := item.Get("arguments").String()
			if strings.TrimSpace(args) == "" {
				log.WithFields(log.Fields{"tool": item.Get("name").String(), "id": item.Get("call_id").String()}).
					Warn("tool call finalized with empty arguments, substituting {}")
				args = "{}"
			}
			toolCalls = append(toolCalls, map[string]any{
				"id":   item.Get("call_id").String(),
				"type": "function",
				"function": map[string]any{
					"name":      item.Get("name").String(),
					"arguments": args,
				},
			})
		}
	}
	msg["content"] = text.String()
	if reasoning.Len() > 0 {
		msg["reasoning_content"] = reasoning.String()
	}
	if len(toolCalls) > 0 {
		msg["tool_calls"] = toolCalls
	}

	finish := "stop"
	switch {
	case len(toolCalls) > 0:
		finish = "tool_calls"
	case root.Get("status").String() == "incomplete" &&
		root.Get("incomplete_details.reason").String() == "max_output_tokens":
		finish = "length"
	}

	usage, _ := ExtractUsage(FormatOpenAIResponses, responseBody)
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
			"finish_reason": finish,
		}},
		"usage": openAIUsageObject(usage),
	})
}

// ResponsesToOpenAIStream converts a Responses event stream into Chat
// Completions chunks.
func ResponsesToOpenAIStream(ctx context.Context, model string, reader io.Reader) (io.Reader, error) {
	pr, pw := io.Pipe()

	go func() {
		defer pw.Close()

		scanner := sseScanner(reader)
		id := fmt.Sprintf("chatcmpl-%d", time.Now().Unix())
		created := time.Now().Unix()
		var usage models.TokenUsage
		toolIdx := map[int]int{}
		toolCount := 0
		sawTool := false
		finished := false

		writeChunk := func(delta map[string]any, finish any, withUsage bool) {
			chunk := map[string]any{
				"id":      id,
				"object":  "chat.completion.chunk",
				"created": created,
				"model":   model,
				"choices": []map[string]any{{"index": 0, "delta": delta, "finish_reason": finish}},
			}
			if withUsage {
				chunk["usage"] = openAIUsageObject(usage)
			}
			payload, _ := json.Marshal(chunk)
			pw.Write([]byte("data: "))
			pw.Write(payload)
			pw.Write([]byte("\n\n"))
		}

		for scanner.Scan() {
			payload := ssePayload(scanner.Bytes())
			if payload == nil {
				continue
			}
			root := gjson.ParseBytes(payload)
			switch root.Get("type").String() {
			case "response.created":
				if rid := root.Get("response.id").String(); rid != "" {
					id = rid
				}
				writeChunk(map[string]any{"role": "assistant", "content": ""}, nil, false)
			case "response.output_item.added":
				item := root.Get("item")
				if item.Get("type").String() == "function_call" {
					sawTool = true
					outIdx := int(root.Get("output_index").Int())
					toolIdx[outIdx] = toolCount
					toolCount++
					writeChunk(map[string]any{"tool_calls": []map[string]any{{
						"index": toolIdx[outIdx],
						"id":    item.Get("call_id").String(),
						"type":  "function",
						"function": map[string]any{
							"name":      item.Get("name").String(),
							"arguments": "",
						},
					}}}, nil, false)
				}
			case "response.output_text.delta":
				writeChunk(map[string]any{"content": root.Get("delta").String()}, nil, false)
			case "response.reasoning_summary_text.delta", "response.reasoning_text.delta":
				writeChunk(map[string]any{"reasoning_content": root.Get("delta").String()}, nil, false)
			case "response.function_call_arguments.delta":
				outIdx := int(root.Get("output_index").Int())
				writeChunk(map[string]any{"tool_calls": []map[string]any{{
					"index":    toolIdx[outIdx],
					"function": map[string]any{"arguments": root.Get("delta").String()},
				}}}, nil, false)
			case "response.completed":
				if u, ok := ExtractUsage(FormatOpenAIResponses, payload); ok {
					usage.Merge(u)
				}
				usage.Finalize()
				finish := "stop"
				if sawTool {
					finish = "tool_calls"
				} else if root.Get("response.incomplete_details.reason").String() == "max_output_tokens" {
					finish = "length"
				}
				writeChunk(map[string]any{}, finish, true)
				finished = true
			case "response.failed", "error":
				message := root.Get("response.error.message").String()
				if message == "" {
					message = root.Get("error.message").String()
				}
				if message == "" {
					message = root.Get("message").String()
				}
				out, _ := json.Marshal(map[string]any{
					"error": map[string]any{"message": message, "type": "api_error"},
				})
				pw.Write([]byte("data: "))
				pw.Write(out)
				pw.Write([]byte("\n\n"))
				pw.Write([]byte("data: [DONE]\n\n"))
				return
			}
		}
		if err := scanner.Err(); err != nil {
			log.WithError(err).Warn("responses stream read failed mid-flight")
		}
		if !finished {
			usage.Finalize()
			finish := "stop"
			if sawTool {
				finish = "tool_calls"
			}
			writeChunk(map[string]any{}, finish, true)
		}
		pw.Write([]byte("data: [DONE]\n\n"))
	}()

	return pr, nil
}
