package kiro

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// streamBody converts the binary frame stream into Chat Completions SSE.
// The pump owns the upstream body and closes it when the frames run out or
// the reader walks away.
func streamBody(body io.ReadCloser, model string) io.ReadCloser {
	pr, pw := io.Pipe()
	go pumpEvents(body, model, pw)
	return pr
}

type eventPump struct {
	w       *io.PipeWriter
	id      string
	model   string
	created int64

	toolIndex  map[string]int
	sawToolUse bool
}

func pumpEvents(body io.ReadCloser, model string, pw *io.PipeWriter) {
	defer body.Close()

	frames := newFrameReader(body)
	p := &eventPump{
		w:         pw,
		id:        "chatcmpl-" + uuid.NewString(),
		model:     model,
		created:   time.Now().Unix(),
		toolIndex: map[string]int{},
	}

	for {
		msg, err := frames.next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				_ = p.finish()
			} else {
				// Mid-stream loss: report inline so the client and the
				// usage tracker both see the failure.
				_ = p.emitError("stream interrupted: " + err.Error())
			}
			pw.Close()
			return
		}

		switch headerValue(msg.Headers, ":message-type") {
		case "exception":
			excType := headerValue(msg.Headers, ":exception-type")
			if len(excType) > 64 {
				excType = excType[:64]
			}
			payload := msg.Payload
			if len(payload) > 512 {
				payload = payload[:512]
			}
			_ = p.emitError(fmt.Sprintf("upstream exception %s: %s", excType, payload))
			pw.Close()
			return
		case "event":
			if err := p.handleEvent(headerValue(msg.Headers, ":event-type"), msg.Payload); err != nil {
				// Reader is gone, stop pumping.
				pw.Close()
				return
			}
		}
	}
}

func (p *eventPump) handleEvent(eventType string, payload []byte) error {
	switch eventType {
	case "assistantResponseEvent":
		if content := gjson.GetBytes(payload, "content").String(); content != "" {
			return p.emitDelta(map[string]any{"content": content})
		}
	case "toolUseEvent":
		return p.emitToolUse(payload)
	}
	// followupPromptEvent and friends carry nothing the client needs
	return nil
}

// emitToolUse streams one tool-call fragment. The first fragment for a
// toolUseId announces id and name; later ones append argument bytes at the
// same index, which is how Chat Completions streams arguments.
func (p *eventPump) emitToolUse(payload []byte) error {
	id := gjson.GetBytes(payload, "toolUseId").String()
	if id == "" {
		return nil
	}
	idx, known := p.toolIndex[id]
	if !known {
		idx = len(p.toolIndex)
		p.toolIndex[id] = idx
	}

	fn := map[string]any{}
	if !known {
		fn["name"] = gjson.GetBytes(payload, "name").String()
	}
	if input := gjson.GetBytes(payload, "input"); input.Exists() {
		if input.Type == gjson.String {
			fn["arguments"] = input.String()
		} else if input.IsObject() {
			fn["arguments"] = input.Raw
		}
	}
	if known && len(fn) == 0 {
		// Stop marker with no new bytes.
		return nil
	}

	call := map[string]any{"index": idx, "function": fn}
	if !known {
		call["id"] = id
		call["type"] = "function"
	}
	p.sawToolUse = true
	return p.emitDelta(map[string]any{"tool_calls": []any{call}})
}

func (p *eventPump) emitDelta(delta map[string]any) error {
	return p.writeChunk(map[string]any{
		"index": 0,
		"delta": delta,
	})
}

func (p *eventPump) finish() error {
	reason := "stop"
	if p.sawToolUse {
		reason = "tool_calls"
	}
	if err := p.writeChunk(map[string]any{
		"index":         0,
		"delta":         map[string]any{},
		"finish_reason": reason,
	}); err != nil {
		return err
	}
	_, err := io.WriteString(p.w, "data: [DONE]\n\n")
	return err
}

func (p *eventPump) writeChunk(choice map[string]any) error {
	chunk := map[string]any{
		"id":      p.id,
		"object":  "chat.completion.chunk",
		"created": p.created,
		"model":   p.model,
		"choices": []any{choice},
	}
	data, err := json.Marshal(chunk)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(p.w, "data: %s\n\n", data)
	return err
}

func (p *eventPump) emitError(message string) error {
	data, err := json.Marshal(map[string]any{
		"error": map[string]any{
			"message": message,
			"type":    "upstream_error",
		},
	})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(p.w, "data: %s\n\n", data)
	return err
}
