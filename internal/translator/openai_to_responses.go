package translator

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"omni2api-go/internal/models"
)

func init() {
	Register(FormatOpenAI, FormatOpenAIResponses, TranslatorConfig{
		RequestTransform:  OpenAIToResponsesRequest,
		ResponseTransform: OpenAIToResponsesResponse,
		StreamTransform:   OpenAIToResponsesStream,
	})
}

// OpenAIToResponsesRequest converts a Chat Completions request to the
// Responses API format.
func OpenAIToResponsesRequest(model string, rawJSON []byte, stream bool) ([]byte, error) {
	rawJSON = FilterWebSearchTools(rawJSON)
	root := gjson.ParseBytes(rawJSON)

	out := map[string]any{}
	m := root.Get("model").String()
	if m == "" {
		m = model
	}
	out["model"] = m
	out["stream"] = stream

	var instructions []string
	var items []map[string]any
	for _, msg := range root.Get("messages").Array() {
		switch msg.Get("role").String() {
		case "system", "developer":
			instructions = append(instructions, openAIContentText(msg.Get("content")))
		case "user":
			items = append(items, map[string]any{
				"type":    "message",
				"role":    "user",
				"content": openAIUserToResponsesParts(msg.Get("content")),
			})
		case "assistant":
			if text := openAIContentText(msg.Get("content")); text != "" {
				items = append(items, map[string]any{
					"type":    "message",
					"role":    "assistant",
					"content": []map[string]any{{"type": "output_text", "text": text}},
				})
			}
			for _, tc := range msg.Get("tool_calls").Array() {
				args := tc.Get("function.arguments").String()
				if strings.TrimSpace(args) == "" {
					args = "{}"
				}
				items = append(items, map[string]any{
					"type":      "function_call",
					"call_id":   tc.Get("id").String(),
					"name":      tc.Get("function.name").String(),
					"arguments": args,
				})
			}
		case "tool":
			items = append(items, map[string]any{
				"type":    "function_call_output",
				"call_id": msg.Get("tool_call_id").String(),
				"output":  openAIContentText(msg.Get("content")),
			})
		}
	}
	if len(instructions) > 0 {
		out["instructions"] = strings.Join(instructions, "\n")
	}
	out["input"] = items

	if v := root.Get("max_tokens"); v.Exists() {
		out["max_output_tokens"] = v.Int()
	} else if v := root.Get("max_completion_tokens"); v.Exists() {
		out["max_output_tokens"] = v.Int()
	}
	if v := root.Get("temperature"); v.Exists() {
		out["temperature"] = v.Value()
	}
	if v := root.Get("top_p"); v.Exists() {
		out["top_p"] = v.Value()
	}
	if effort := root.Get("reasoning_effort").String(); effort != "" {
		out["reasoning"] = map[string]any{"effort": effort}
	}

	if tools := root.Get("tools"); tools.IsArray() {
		var fs []map[string]any
		for _, t := range tools.Array() {
			fn := t.Get("function")
			params := fn.Get("parameters").Raw
			if params == "" {
				params = `{"type":"object","properties":{}}`
			}
			fs = append(fs, map[string]any{
				"type":        "function",
				"name":        fn.Get("name").String(),
				"description": fn.Get("description").String(),
				"parameters":  json.RawMessage(params),
			})
		}
		if len(fs) > 0 {
			out["tools"] = fs
		}
	}

	if tc := root.Get("tool_choice"); tc.Exists() {
		if tc.Type == gjson.String {
			out["tool_choice"] = tc.String()
		} else if name := tc.Get("function.name").String(); name != "" {
			out["tool_choice"] = map[string]any{"type": "function", "name": name}
		}
	}

	return json.Marshal(out)
}

func openAIUserToResponsesParts(content gjson.Result) []map[string]any {
	if content.Type == gjson.String {
		return []map[string]any{{"type": "input_text", "text": content.String()}}
	}
	var parts []map[string]any
	for _, p := range content.Array() {
		switch p.Get("type").String() {
		case "text":
			parts = append(parts, map[string]any{"type": "input_text", "text": p.Get("text").String()})
		case "image_url":
			parts = append(parts, map[string]any{"type": "input_image", "image_url": p.Get("image_url.url").String()})
		}
	}
	return parts
}

// responsesUsageObject renders usage in the Responses API shape.
func responsesUsageObject(u models.TokenUsage) map[string]any {
	return map[string]any{
		"input_tokens":          u.InputTokens,
		"output_tokens":         u.OutputTokens,
		"total_tokens":          u.TotalTokens,
		"input_tokens_details":  map[string]any{"cached_tokens": u.CachedTokens},
		"output_tokens_details": map[string]any{"reasoning_tokens": u.ThoughtsTokens},
	}
}

// buildResponsesOutput assembles the output item list from a chat.completion
// message.
func buildResponsesOutput(respID string, msg gjson.Result) []map[string]any {
	var output []map[string]any
	if reasoning := openAIReasoningText(msg); reasoning != "" {
		output = append(output, map[string]any{
			"id":      "rs_" + respID,
			"type":    "reasoning",
			"summary": []map[string]any{{"type": "summary_text", "text": reasoning}},
		})
	}
	if text := openAIContentText(msg.Get("content")); text != "" {
		output = append(output, map[string]any{
			"id":     "msg_" + respID,
			"type":   "message",
			"role":   "assistant",
			"status": "completed",
			"content": []map[string]any{{
				"type":        "output_text",
				"text":        text,
				"annotations": []any{},
			}},
		})
	}
	for _, tc := range msg.Get("tool_calls").Array() {
		args := tc.Get("function.arguments").String()
		if strings.TrimSpace(args) == "" {
			args = "{}"
		}
		output = append(output, map[string]any{
			"id":        "fc_" + tc.Get("id").String(),
			"type":      "function_call",
			"status":    "completed",
			"call_id":   tc.Get("id").String(),
			"name":      tc.Get("function.name").String(),
			"arguments": args,
		})
	}
	return output
}

// OpenAIToResponsesResponse converts a chat.completion (or a Chat
// Completions SSE transcript) into a Responses API object.
func OpenAIToResponsesResponse(ctx context.Context, model string, responseBody []byte) ([]byte, error) {
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
			"id":     "resp_" + uuid.NewString()[:12],
			"object": "response",
			"status": "failed",
			"error": map[string]any{
				"code":    nonEmpty(e.Get("type").String(), "api_error"),
				"message": e.Get("message").String(),
			},
			"output": []any{},
		})
	}

	respID := strings.TrimPrefix(root.Get("id").String(), "chatcmpl-")
	if respID == "" {
		respID = uuid.NewString()[:12]
	}

	status := "completed"
	var incomplete any
	if root.Get("choices.0.finish_reason").String() == "length" {
		status = "incomplete"
		incomplete = map[string]any{"reason": "max_output_tokens"}
	}

	usage, _ := ExtractUsage(FormatOpenAI, responseBody)
	usage.Finalize()

	outModel := root.Get("model").String()
	if outModel == "" {
		outModel = model
	}

	return json.Marshal(map[string]any{
		"id":                 "resp_" + respID,
		"object":             "response",
		"created_at":         root.Get("created").Int(),
		"status":             status,
		"incomplete_details": incomplete,
		"model":              outModel,
		"output":             buildResponsesOutput(respID, root.Get("choices.0.message")),
		"usage":              responsesUsageObject(usage),
	})
}
