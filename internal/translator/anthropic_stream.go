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

// anthropicStreamWriter serializes the Anthropic event grammar: block starts
// and stops carry a strictly increasing index, and a thinking block flushes
// its signature_delta before closing.
type anthropicStreamWriter struct {
	pw               *io.PipeWriter
	index            int
	openType         string
	openToolIdx      int
	pendingSignature strings.Builder
}

func newAnthropicStreamWriter(pw *io.PipeWriter) *anthropicStreamWriter {
	return &anthropicStreamWriter{pw: pw, index: -1, openToolIdx: -1}
}

func (w *anthropicStreamWriter) writeEvent(event string, payload map[string]any) {
	data, _ := json.Marshal(payload)
	w.pw.Write([]byte("event: " + event + "\n"))
	w.pw.Write([]byte("data: "))
	w.pw.Write(data)
	w.pw.Write([]byte("\n\n"))
}

func (w *anthropicStreamWriter) openBlock(blockType string, contentBlock map[string]any) {
	w.index++
	w.openType = blockType
	w.writeEvent("content_block_start", map[string]any{
		"type":          "content_block_start",
		"index":         w.index,
		"content_block": contentBlock,
	})
}

func (w *anthropicStreamWriter) closeBlock() {
	if w.openType == "" {
		return
	}
	if w.openType == "thinking" && w.pendingSignature.Len() > 0 {
		w.delta("signature_delta", "signature", w.pendingSignature.String())
		w.pendingSignature.Reset()
	}
	w.writeEvent("content_block_stop", map[string]any{
		"type":  "content_block_stop",
		"index": w.index,
	})
	w.openType = ""
	w.openToolIdx = -1
}

// ensureBlock opens a thinking or text block unless one of that type is
// already open.
func (w *anthropicStreamWriter) ensureBlock(blockType string) {
	if w.openType == blockType {
		return
	}
	w.closeBlock()
	cb := map[string]any{"type": blockType}
	switch blockType {
	case "thinking":
		cb["thinking"] = ""
	case "text":
		cb["text"] = ""
	}
	w.openBlock(blockType, cb)
}

func (w *anthropicStreamWriter) delta(deltaType, key, value string) {
	w.writeEvent("content_block_delta", map[string]any{
		"type":  "content_block_delta",
		"index": w.index,
		"delta": map[string]any{"type": deltaType, key: value},
	})
}

// OpenAIToAnthropicStream converts Chat Completions chunks into the
// Anthropic event stream. The stream closes after message_stop without a
// [DONE] sentinel.
func OpenAIToAnthropicStream(ctx context.Context, model string, reader io.Reader) (io.Reader, error) {
	pr, pw := io.Pipe()

	go func() {
		defer pw.Close()

		w := newAnthropicStreamWriter(pw)
		scanner := sseScanner(reader)
		parser := NewThinkingTagParser()
		var usage models.TokenUsage
		started := false
		finished := false
		finish := ""
		sawTool := false

		emitSegments := func(segs []ThinkingSegment) {
			for _, seg := range segs {
				if seg.Text == "" {
					continue
				}
				if seg.Kind == SegmentThinking {
					w.ensureBlock("thinking")
					w.delta("thinking_delta", "thinking", seg.Text)
				} else {
					w.ensureBlock("text")
					w.delta("text_delta", "text", seg.Text)
				}
			}
		}

		start := func(id string) {
			if started {
				return
			}
			started = true
			if id == "" {
				id = "msg_" + uuid.NewString()[:12]
			}
			w.writeEvent("message_start", map[string]any{
				"type": "message_start",
				"message": map[string]any{
					"id":            id,
					"type":          "message",
					"role":          "assistant",
					"model":         model,
					"content":       []any{},
					"stop_reason":   nil,
					"stop_sequence": nil,
					"usage":         map[string]any{"input_tokens": 0, "output_tokens": 0},
				},
			})
		}

		finalize := func() {
			if finished {
				return
			}
			finished = true
			start("")
			emitSegments(parser.Close())
			w.closeBlock()
			if sawTool && finish == "" {
				finish = "tool_calls"
			}
			stop := "end_turn"
			if finish != "" {
				stop = openAIToAnthropicStopReason(finish)
			}
			usage.Finalize()
			w.writeEvent("message_delta", map[string]any{
				"type":  "message_delta",
				"delta": map[string]any{"stop_reason": stop, "stop_sequence": nil},
				"usage": anthropicUsageObject(usage),
			})
			w.writeEvent("message_stop", map[string]any{"type": "message_stop"})
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
				w.closeBlock()
				w.writeEvent("error", map[string]any{
					"type": "error",
					"error": map[string]any{
						"type":    nonEmpty(e.Get("type").String(), "api_error"),
						"message": e.Get("message").String(),
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
				w.ensureBlock("thinking")
				w.delta("thinking_delta", "thinking", r)
			}
			if sig := delta.Get("reasoning_signature").String(); sig != "" {
				w.pendingSignature.WriteString(sig)
			}
			if c := delta.Get("content"); c.Type == gjson.String && c.String() != "" {
				emitSegments(parser.Feed(c.String()))
			}
			for _, tc := range delta.Get("tool_calls").Array() {
				sawTool = true
				idx := int(tc.Get("index").Int())
				if w.openType != "tool_use" || w.openToolIdx != idx {
					w.closeBlock()
					w.openBlock("tool_use", map[string]any{
						"type":  "tool_use",
						"id":    nonEmpty(tc.Get("id").String(), "toolu_"+uuid.NewString()[:12]),
						"name":  tc.Get("function.name").String(),
						"input": map[string]any{},
					})
					w.openToolIdx = idx
				}
				if args := tc.Get("function.arguments").String(); args != "" {
					w.delta("input_json_delta", "partial_json", args)
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
