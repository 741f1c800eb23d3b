package translator

import (
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"omni2api-go/internal/models"
)

func geminiUsageMetadata(u models.TokenUsage) map[string]any {
	meta := map[string]any{
		"promptTokenCount":     u.InputTokens,
		"candidatesTokenCount": u.OutputTokens,
		"totalTokenCount":      u.TotalTokens,
	}
	if u.ThoughtsTokens > 0 {
		meta["thoughtsTokenCount"] = u.ThoughtsTokens
	}
	if u.CachedTokens > 0 {
		meta["cachedContentTokenCount"] = u.CachedTokens
	}
	return meta
}

func geminiErrorBody(message, status string) []byte {
	out, _ := json.Marshal(map[string]any{
		"error": map[string]any{
			"code":    500,
			"message": message,
			"status":  nonEmpty(status, "INTERNAL"),
		},
	})
	return out
}

// openAIMessageToGeminiParts rebuilds Gemini parts from a chat.completion
// message. Thought parts come first, mirroring how Gemini orders them.
func openAIMessageToGeminiParts(msg gjson.Result) []map[string]any {
	var parts []map[string]any
	if reasoning := openAIReasoningText(msg); reasoning != "" {
		part := map[string]any{"text": reasoning, "thought": true}
		if sig := msg.Get("reasoning_signature").String(); sig != "" {
			part["thoughtSignature"] = sig
		}
		parts = append(parts, part)
	}
	if text := openAIContentText(msg.Get("content")); text != "" {
		parts = append(parts, map[string]any{"text": text})
	}
	for _, tc := range msg.Get("tool_calls").Array() {
		parts = append(parts, map[string]any{
			"functionCall": map[string]any{
				"name": tc.Get("function.name").String(),
				"args": parseToolArguments(tc.Get("function.name").String(), tc.Get("id").String(), tc.Get("function.arguments").String()),
			},
		})
	}
	if len(parts) == 0 {
		parts = append(parts, map[string]any{"text": ""})
	}
	return parts
}

// OpenAIToGeminiResponse converts a chat.completion (or a Chat Completions
// SSE transcript) into a Gemini generateContent response.
func OpenAIToGeminiResponse(ctx context.Context, model string, responseBody []byte) ([]byte, error) {
	if looksLikeSSE(responseBody) {
		var err error
		responseBody, err = CollectOpenAIStream(responseBody, model)
		if err != nil {
			return nil, err
		}
	}
	root := gjson.ParseBytes(responseBody)
	if e := root.Get("error"); e.Exists() {
		return geminiErrorBody(e.Get("message").String(), ""), nil
	}

	msg := root.Get("choices.0.message")
	finish := root.Get("choices.0.finish_reason").String()

	usage, _ := ExtractUsage(FormatOpenAI, responseBody)
	usage.Finalize()

	outModel := root.Get("model").String()
	if outModel == "" {
		outModel = model
	}

	return json.Marshal(map[string]any{
		"candidates": []map[string]any{{
			"content": map[string]any{
				"parts": openAIMessageToGeminiParts(msg),
				"role":  "model",
			},
			"finishReason": openAIToGeminiFinishReason(finish),
			"index":        0,
		}},
		"usageMetadata": geminiUsageMetadata(usage),
		"modelVersion":  outModel,
		"responseId":    strings.TrimPrefix(root.Get("id").String(), "chatcmpl-"),
	})
}

// OpenAIToGeminiStream converts Chat Completions chunks into a Gemini SSE
// stream. Tool call argument deltas accumulate until the call is complete,
// since Gemini emits whole functionCall parts. The stream terminates without
// a [DONE] sentinel.
func OpenAIToGeminiStream(ctx context.Context, model string, reader io.Reader) (io.Reader, error) {
	pr, pw := io.Pipe()

	go func() {
		defer pw.Close()

		scanner := sseScanner(reader)
		responseID := uuid.NewString()[:12]
		var usage models.TokenUsage
		finish := ""
		finished := false

		toolOpen := false
		toolIdx := -1
		var toolID, toolName string
		var toolArgs strings.Builder

		writeChunk := func(body map[string]any) {
			body["modelVersion"] = model
			body["responseId"] = responseID
			payload, _ := json.Marshal(body)
			pw.Write([]byte("data: "))
			pw.Write(payload)
			pw.Write([]byte("\n\n"))
		}

		writeParts := func(parts []map[string]any) {
			writeChunk(map[string]any{
				"candidates": []map[string]any{{
					"content": map[string]any{"parts": parts, "role": "model"},
					"index":   0,
				}},
			})
		}

		flushTool := func() {
			if !toolOpen {
				return
			}
			toolOpen = false
			writeParts([]map[string]any{{
				"functionCall": map[string]any{
					"name": toolName,
					"args": parseToolArguments(toolName, toolID, toolArgs.String()),
				},
			}})
			toolArgs.Reset()
		}

		finalize := func() {
			if finished {
				return
			}
			finished = true
			flushTool()
			usage.Finalize()
			writeChunk(map[string]any{
				"candidates": []map[string]any{{
					"content":      map[string]any{"parts": []any{}, "role": "model"},
					"finishReason": openAIToGeminiFinishReason(finish),
					"index":        0,
				}},
				"usageMetadata": geminiUsageMetadata(usage),
			})
		}

		for scanner.Scan() {
			payload := ssePayload(scanner.Bytes())
			if payload == nil {
				continue
			}
			if string(payload) == "[DONE]" {
				break
			}
			root := gjson.ParseBytes(payload)
			if e := root.Get("error"); e.Exists() {
				flushTool()
				pw.Write([]byte("data: "))
				pw.Write(geminiErrorBody(e.Get("message").String(), ""))
				pw.Write([]byte("\n\n"))
				finished = true
				return
			}
			if rid := root.Get("id").String(); rid != "" {
				responseID = strings.TrimPrefix(rid, "chatcmpl-")
			}
			if u, ok := ExtractUsage(FormatOpenAI, payload); ok {
				usage.Merge(u)
			}

			delta := root.Get("choices.0.delta")
			if r := openAIReasoningText(delta); r != "" {
				flushTool()
				writeParts([]map[string]any{{"text": r, "thought": true}})
			}
			if c := delta.Get("content"); c.Type == gjson.String && c.String() != "" {
				flushTool()
				writeParts([]map[string]any{{"text": c.String()}})
			}
			for _, tc := range delta.Get("tool_calls").Array() {
				idx := int(tc.Get("index").Int())
				if !toolOpen || toolIdx != idx {
					flushTool()
					toolOpen = true
					toolIdx = idx
					toolID = tc.Get("id").String()
					toolName = tc.Get("function.name").String()
				} else if name := tc.Get("function.name").String(); name != "" && toolName == "" {
					toolName = name
				}
				if a := tc.Get("function.arguments").String(); a != "" {
					toolArgs.WriteString(a)
				}
			}
			if f := root.Get("choices.0.finish_reason"); f.Type == gjson.String && f.String() != "" {
				finish = f.String()
			}
		}
		if err := scanner.Err(); err != nil {
			log.WithError(err).Warn("chat completions stream read failed mid-flight")
		}
		finalize()
	}()

	return pr, nil
}
