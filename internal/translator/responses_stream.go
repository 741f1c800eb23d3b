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

// responsesStreamWriter stamps every event with a monotonically increasing
// sequence_number.
type responsesStreamWriter struct {
	pw  *io.PipeWriter
	seq int
}

func (w *responsesStreamWriter) writeEvent(eventType string, fields map[string]any) {
	fields["type"] = eventType
	fields["sequence_number"] = w.seq
	w.seq++
	data, _ := json.Marshal(fields)
	w.pw.Write([]byte("event: " + eventType + "\n"))
	w.pw.Write([]byte("data: "))
	w.pw.Write(data)
	w.pw.Write([]byte("\n\n"))
}

// OpenAIToResponsesStream converts Chat Completions chunks into the
// Responses API event stream. The stream ends after response.completed
// without a [DONE] sentinel.
func OpenAIToResponsesStream(ctx context.Context, model string, reader io.Reader) (io.Reader, error) {
	pr, pw := io.Pipe()

	go func() {
		defer pw.Close()

		w := &responsesStreamWriter{pw: pw}
		scanner := sseScanner(reader)
		respID := "resp_" + uuid.NewString()[:12]
		started := false
		finished := false

		outputIndex := -1
		openKind := ""
		itemID := ""
		toolCallID := ""
		toolName := ""
		openToolIdx := -1
		var text, args, reasoning strings.Builder
		var completed []map[string]any
		var usage models.TokenUsage
		finish := ""

		start := func(id string) {
			if started {
				return
			}
			started = true
			if id != "" {
				respID = "resp_" + strings.TrimPrefix(id, "chatcmpl-")
			}
			snapshot := map[string]any{
				"id":     respID,
				"object": "response",
				"status": "in_progress",
				"model":  model,
				"output": []any{},
			}
			w.writeEvent("response.created", map[string]any{"response": snapshot})
			w.writeEvent("response.in_progress", map[string]any{"response": snapshot})
		}

		closeItem := func() {
			switch openKind {
			case "message":
				full := text.String()
				w.writeEvent("response.output_text.done", map[string]any{
					"item_id": itemID, "output_index": outputIndex, "content_index": 0, "text": full,
				})
				part := map[string]any{"type": "output_text", "text": full, "annotations": []any{}}
				w.writeEvent("response.content_part.done", map[string]any{
					"item_id": itemID, "output_index": outputIndex, "content_index": 0, "part": part,
				})
				item := map[string]any{
					"id": itemID, "type": "message", "role": "assistant",
					"status": "completed", "content": []any{part},
				}
				w.writeEvent("response.output_item.done", map[string]any{
					"output_index": outputIndex, "item": item,
				})
				completed = append(completed, item)
				text.Reset()
			case "reasoning":
				w.writeEvent("response.reasoning_summary_text.done", map[string]any{
					"item_id": itemID, "output_index": outputIndex, "summary_index": 0, "text": reasoning.String(),
				})
				item := map[string]any{
					"id": itemID, "type": "reasoning",
					"summary": []any{map[string]any{"type": "summary_text", "text": reasoning.String()}},
				}
				w.writeEvent("response.output_item.done", map[string]any{
					"output_index": outputIndex, "item": item,
				})
				completed = append(completed, item)
				reasoning.Reset()
			case "function_call":
				finalArgs := strings.TrimSpace(args.String())
				if finalArgs == "" {
					log.WithFields(log.Fields{"tool": toolName, "id": toolCallID}).
						Warn("tool call finalized with empty arguments, substituting {}")
					finalArgs = "{}"
				}
				w.writeEvent("response.function_call_arguments.done", map[string]any{
					"item_id": itemID, "output_index": outputIndex, "arguments": finalArgs,
				})
				item := map[string]any{
					"id": itemID, "type": "function_call", "status": "completed",
					"call_id": toolCallID, "name": toolName, "arguments": finalArgs,
				}
				w.writeEvent("response.output_item.done", map[string]any{
					"output_index": outputIndex, "item": item,
				})
				completed = append(completed, item)
				args.Reset()
			}
			openKind = ""
			openToolIdx = -1
		}

		openItem := func(kind string, item map[string]any) {
			closeItem()
			outputIndex++
			openKind = kind
			itemID = item["id"].(string)
			w.writeEvent("response.output_item.added", map[string]any{
				"output_index": outputIndex, "item": item,
			})
		}

		finalize := func() {
			if finished {
				return
			}
			finished = true
			start("")
			closeItem()
			usage.Finalize()
			status := "completed"
			var incomplete any
			if finish == "length" {
				status = "incomplete"
				incomplete = map[string]any{"reason": "max_output_tokens"}
			}
			w.writeEvent("response.completed", map[string]any{
				"response": map[string]any{
					"id":                 respID,
					"object":             "response",
					"status":             status,
					"incomplete_details": incomplete,
					"model":              model,
					"output":             completed,
					"usage":              responsesUsageObject(usage),
				},
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
				start(root.Get("id").String())
				closeItem()
				w.writeEvent("response.failed", map[string]any{
					"response": map[string]any{
						"id":     respID,
						"object": "response",
						"status": "failed",
						"error": map[string]any{
							"code":    nonEmpty(e.Get("type").String(), "api_error"),
							"message": e.Get("message").String(),
						},
						"output": completed,
					},
				})
				finished = true
				return
			}
			if u, ok := ExtractUsage(FormatOpenAI, payload); ok {
				usage.Merge(u)
			}
			start(root.Get("id").String())

			delta := root.Get("choices.0.delta")
			if r := openAIReasoningText(delta); r != "" {
				if openKind != "reasoning" {
					openItem("reasoning", map[string]any{
						"id": "rs_" + uuid.NewString()[:12], "type": "reasoning", "summary": []any{},
					})
				}
				reasoning.WriteString(r)
				w.writeEvent("response.reasoning_summary_text.delta", map[string]any{
					"item_id": itemID, "output_index": outputIndex, "summary_index": 0, "delta": r,
				})
			}
			if c := delta.Get("content"); c.Type == gjson.String && c.String() != "" {
				if openKind != "message" {
					openItem("message", map[string]any{
						"id": "msg_" + uuid.NewString()[:12], "type": "message", "role": "assistant",
						"status": "in_progress", "content": []any{},
					})
					w.writeEvent("response.content_part.added", map[string]any{
						"item_id": itemID, "output_index": outputIndex, "content_index": 0,
						"part": map[string]any{"type": "output_text", "text": "", "annotations": []any{}},
					})
				}
				text.WriteString(c.String())
				w.writeEvent("response.output_text.delta", map[string]any{
					"item_id": itemID, "output_index": outputIndex, "content_index": 0, "delta": c.String(),
				})
			}
			for _, tc := range delta.Get("tool_calls").Array() {
				idx := int(tc.Get("index").Int())
				if openKind != "function_call" || openToolIdx != idx {
					toolCallID = nonEmpty(tc.Get("id").String(), "call_"+uuid.NewString()[:8])
					toolName = tc.Get("function.name").String()
					openItem("function_call", map[string]any{
						"id": "fc_" + uuid.NewString()[:12], "type": "function_call",
						"status": "in_progress", "call_id": toolCallID, "name": toolName, "arguments": "",
					})
					openToolIdx = idx
				}
				if a := tc.Get("function.arguments").String(); a != "" {
					args.WriteString(a)
					w.writeEvent("response.function_call_arguments.delta", map[string]any{
						"item_id": itemID, "output_index": outputIndex, "delta": a,
					})
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
