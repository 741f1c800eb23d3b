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
	Register(FormatGemini, FormatOpenAI, TranslatorConfig{
		RequestTransform:  GeminiToOpenAIRequest,
		ResponseTransform: GeminiToOpenAIResponse,
		StreamTransform:   GeminiToOpenAIStream,
	})
}

// GeminiToOpenAIRequest converts a Gemini generateContent request to Chat
// Completions format.
func GeminiToOpenAIRequest(model string, rawJSON []byte, stream bool) ([]byte, error) {
	root := gjson.ParseBytes(rawJSON)

	out := map[string]any{"model": model, "stream": stream}

	var msgs []map[string]any
	if sys := root.Get("systemInstruction.parts"); sys.IsArray() {
		var texts []string
		for _, p := range sys.Array() {
			if t := p.Get("text").String(); t != "" {
				texts = append(texts, t)
			}
		}
		if len(texts) > 0 {
			msgs = append(msgs, map[string]any{"role": "system", "content": strings.Join(texts, "\n")})
		}
	}

	for _, content := range root.Get("contents").Array() {
		role := content.Get("role").String()
		if role == "model" {
			msgs = append(msgs, geminiModelContentToOpenAI(content))
			continue
		}
		userMsg, toolMsgs := geminiUserContentToOpenAI(content)
		msgs = append(msgs, toolMsgs...)
		if userMsg != nil {
			msgs = append(msgs, userMsg)
		}
	}
	out["messages"] = msgs

	gen := root.Get("generationConfig")
	if v := gen.Get("temperature"); v.Exists() {
		out["temperature"] = v.Value()
	}
	if v := gen.Get("topP"); v.Exists() {
		out["top_p"] = v.Value()
	}
	if v := gen.Get("maxOutputTokens"); v.Exists() {
		out["max_tokens"] = v.Int()
	}
	if v := gen.Get("stopSequences"); v.IsArray() {
		out["stop"] = v.Value()
	}
	if tc := gen.Get("thinkingConfig.thinkingBudget"); tc.Exists() {
		out["reasoning_effort"] = effortFromBudget(tc.Int())
	}

	var fs []map[string]any
	for _, tool := range root.Get("tools").Array() {
		for _, decl := range tool.Get("functionDeclarations").Array() {
			params := decl.Get("parameters").Raw
			if params == "" {
				params = decl.Get("parametersJsonSchema").Raw
			}
			if params == "" {
				params = `{"type":"object","properties":{}}`
			}
			fs = append(fs, map[string]any{
				"type": "function",
				"function": map[string]any{
					"name":        decl.Get("name").String(),
					"description": decl.Get("description").String(),
					"parameters":  json.RawMessage(params),
				},
			})
		}
	}
	if len(fs) > 0 {
		out["tools"] = fs
	}

	if fcc := root.Get("toolConfig.functionCallingConfig"); fcc.Exists() {
		if names := fcc.Get("allowedFunctionNames"); names.IsArray() && len(names.Array()) == 1 {
			out["tool_choice"] = map[string]any{
				"type":     "function",
				"function": map[string]any{"name": names.Array()[0].String()},
			}
		} else {
			switch fcc.Get("mode").String() {
			case "ANY":
				out["tool_choice"] = "required"
			case "NONE":
				out["tool_choice"] = "none"
			case "AUTO":
				out["tool_choice"] = "auto"
			}
		}
	}

	return json.Marshal(out)
}

func geminiModelContentToOpenAI(content gjson.Result) map[string]any {
	msg := map[string]any{"role": "assistant"}
	var text, reasoning strings.Builder
	var signature string
	var toolCalls []map[string]any

	for _, part := range content.Get("parts").Array() {
		if sig := part.Get("thoughtSignature").String(); sig != "" {
			signature = sig
		}
		if part.Get("thought").Bool() {
			reasoning.WriteString(part.Get("text").String())
			continue
		}
		if t := part.Get("text"); t.Exists() {
			text.WriteString(t.String())
		}
		if fc := part.Get("functionCall"); fc.Exists() {
			args := "{}"
			if a := fc.Get("args"); a.Exists() {
				raw, _ := json.Marshal(a.Value())
				args = string(raw)
			}
			name := fc.Get("name").String()
			id := fc.Get("id").String()
			if id == "" {
				id = fmt.Sprintf("call_%s_%d", name, len(toolCalls))
			}
			toolCalls = append(toolCalls, map[string]any{
				"id":   id,
				"type": "function",
				"function": map[string]any{
					"name":      name,
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
	return msg
}

func geminiUserContentToOpenAI(content gjson.Result) (map[string]any, []map[string]any) {
	var parts []map[string]any
	var toolMsgs []map[string]any

	for _, part := range content.Get("parts").Array() {
		if t := part.Get("text"); t.Exists() {
			parts = append(parts, map[string]any{"type": "text", "text": t.String()})
		}
		if inline := part.Get("inlineData"); inline.Exists() {
			url := fmt.Sprintf("data:%s;base64,%s", inline.Get("mimeType").String(), inline.Get("data").String())
			parts = append(parts, map[string]any{"type": "image_url", "image_url": map[string]any{"url": url}})
		}
		if fr := part.Get("functionResponse"); fr.Exists() {
			var body string
			if resp := fr.Get("response"); resp.Exists() {
				if result := resp.Get("result"); result.Type == gjson.String {
					body = result.String()
				} else {
					body = resp.Raw
				}
			}
			toolMsgs = append(toolMsgs, map[string]any{
				"role":         "tool",
				"tool_call_id": fr.Get("id").String(),
				"content":      body,
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

// GeminiToOpenAIResponse converts a non-streaming Gemini response to OpenAI format.
func GeminiToOpenAIResponse(ctx context.Context, model string, responseBody []byte) ([]byte, error) {
	result := gjson.ParseBytes(responseBody)

	if e := result.Get("error"); e.Exists() {
		return json.Marshal(map[string]any{
			"error": map[string]any{
				"message": e.Get("message").String(),
				"type":    nonEmpty(strings.ToLower(e.Get("status").String()), "api_error"),
			},
		})
	}

	candidates := result.Get("candidates")
	if !candidates.Exists() {
		return responseBody, nil
	}

	var choices []map[string]any
	for idx, candidate := range candidates.Array() {
		message := geminiModelContentToOpenAI(candidate.Get("content"))
		_, hasTools := message["tool_calls"]

		finishReason := geminiToOpenAIFinishReason(candidate.Get("finishReason").String())
		if hasTools {
			finishReason = "tool_calls"
		}

		choices = append(choices, map[string]any{
			"index":         idx,
			"message":       message,
			"finish_reason": finishReason,
		})
	}

	usage, _ := ExtractUsage(FormatGemini, responseBody)
	usage.Finalize()

	id := result.Get("responseId").String()
	if id == "" {
		id = fmt.Sprintf("chatcmpl-%d", time.Now().Unix())
	}
	outModel := result.Get("modelVersion").String()
	if outModel == "" {
		outModel = model
	}

	return json.Marshal(map[string]any{
		"id":      id,
		"object":  "chat.completion",
		"created": time.Now().Unix(),
		"model":   outModel,
		"choices": choices,
		"usage":   openAIUsageObject(usage),
	})
}

// GeminiToOpenAIStream converts a streaming Gemini response to OpenAI SSE format.
func GeminiToOpenAIStream(ctx context.Context, model string, reader io.Reader) (io.Reader, error) {
	pr, pw := io.Pipe()

	go func() {
		defer pw.Close()

		scanner := sseScanner(reader)
		id := fmt.Sprintf("chatcmpl-%d", time.Now().Unix())
		created := time.Now().Unix()
		chunkIndex := 0
		toolCount := 0
		var usage models.TokenUsage
		finish := ""

		writeChunk := func(delta map[string]any, finishReason any, withUsage bool) {
			chunk := map[string]any{
				"id":      id,
				"object":  "chat.completion.chunk",
				"created": created,
				"model":   model,
				"choices": []map[string]any{{"index": 0, "delta": delta, "finish_reason": finishReason}},
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
			if string(payload) == "[DONE]" {
				break
			}
			result := gjson.ParseBytes(payload)

			if e := result.Get("error"); e.Exists() {
				out, _ := json.Marshal(map[string]any{
					"error": map[string]any{
						"message": e.Get("message").String(),
						"type":    nonEmpty(strings.ToLower(e.Get("status").String()), "api_error"),
					},
				})
				pw.Write([]byte("data: "))
				pw.Write(out)
				pw.Write([]byte("\n\n"))
				pw.Write([]byte("data: [DONE]\n\n"))
				return
			}

			if rid := result.Get("responseId").String(); rid != "" {
				id = rid
			}
			if u, ok := ExtractUsage(FormatGemini, payload); ok {
				usage.Merge(u)
			}

			for _, candidate := range result.Get("candidates").Array() {
				if chunkIndex == 0 {
					writeChunk(map[string]any{"role": "assistant", "content": ""}, nil, false)
					chunkIndex++
				}

				for _, part := range candidate.Get("content.parts").Array() {
					if sig := part.Get("thoughtSignature").String(); sig != "" {
						writeChunk(map[string]any{"reasoning_signature": sig}, nil, false)
					}
					if part.Get("thought").Bool() {
						if t := part.Get("text").String(); t != "" {
							writeChunk(map[string]any{"reasoning_content": t}, nil, false)
						}
						continue
					}
					if t := part.Get("text"); t.Exists() && t.String() != "" {
						writeChunk(map[string]any{"content": t.String()}, nil, false)
					}
					if fc := part.Get("functionCall"); fc.Exists() {
						args := "{}"
						if a := fc.Get("args"); a.Exists() {
							raw, _ := json.Marshal(a.Value())
							args = string(raw)
						}
						name := fc.Get("name").String()
						callID := fc.Get("id").String()
						if callID == "" {
							callID = fmt.Sprintf("call_%s_%d", name, toolCount)
						}
						writeChunk(map[string]any{"tool_calls": []map[string]any{{
							"index": toolCount,
							"id":    callID,
							"type":  "function",
							"function": map[string]any{
								"name":      name,
								"arguments": args,
							},
						}}}, nil, false)
						toolCount++
					}
					chunkIndex++
				}

				if fr := candidate.Get("finishReason"); fr.Exists() && fr.String() != "" {
					finish = fr.String()
				}
			}
		}
		if err := scanner.Err(); err != nil {
			log.WithError(err).Warn("gemini stream read failed mid-flight")
		}
		usage.Finalize()
		finishReason := geminiToOpenAIFinishReason(finish)
		if toolCount > 0 {
			finishReason = "tool_calls"
		}
		writeChunk(map[string]any{}, finishReason, true)
		pw.Write([]byte("data: [DONE]\n\n"))
	}()

	return pr, nil
}
