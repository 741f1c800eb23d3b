// Package usage accounts for every proxied request: a stream tracker reads
// token usage and inline errors off the SSE bytes on their way to the
// client, and a recorder persists the result without ever failing the
// request path.
package usage

import (
	"bytes"
	"io"

	"github.com/tidwall/gjson"

	"omni2api-go/internal/models"
	"omni2api-go/internal/translator"
)

var doneMarker = []byte("[DONE]")

// Result is the accounting of one finished exchange.
type Result struct {
	Usage      models.TokenUsage
	Success    bool
	Error      string
	StatusCode int
}

// StreamTracker wraps an upstream SSE body. Bytes pass through unchanged;
// complete `data:` lines are inspected for usage and error events. Not
// safe for concurrent use, one reader drives it.
type StreamTracker struct {
	format translator.Format
	src    io.ReadCloser

	carry     []byte
	usage     models.TokenUsage
	failed    bool
	errMsg    string
	errStatus int
}

func NewStreamTracker(format translator.Format, src io.ReadCloser) *StreamTracker {
	return &StreamTracker{format: format, src: src}
}

func (t *StreamTracker) Read(p []byte) (int, error) {
	n, err := t.src.Read(p)
	if n > 0 {
		t.scan(p[:n])
	}
	if err == io.EOF {
		t.flush()
	}
	return n, err
}

func (t *StreamTracker) Close() error {
	t.flush()
	return t.src.Close()
}

// Result finalizes the token bookkeeping. Totals are at least
// input+output and cached never exceeds input.
func (t *StreamTracker) Result() Result {
	u := t.usage
	u.Finalize()
	return Result{
		Usage:      u,
		Success:    !t.failed,
		Error:      t.errMsg,
		StatusCode: t.errStatus,
	}
}

func (t *StreamTracker) scan(chunk []byte) {
	t.carry = append(t.carry, chunk...)
	for {
		i := bytes.IndexByte(t.carry, '\n')
		if i < 0 {
			return
		}
		line := t.carry[:i]
		t.carry = t.carry[i+1:]
		t.handleLine(line)
	}
}

func (t *StreamTracker) flush() {
	if len(t.carry) == 0 {
		return
	}
	line := t.carry
	t.carry = nil
	t.handleLine(line)
}

func (t *StreamTracker) handleLine(line []byte) {
	line = bytes.TrimSpace(line)
	if !bytes.HasPrefix(line, []byte("data:")) {
		return
	}
	payload := bytes.TrimSpace(line[len("data:"):])
	if len(payload) == 0 || bytes.Equal(payload, doneMarker) {
		return
	}
	t.ObserveEvent(payload)
}

// ObserveEvent feeds one decoded event payload through the same
// inspection the Read path applies.
func (t *StreamTracker) ObserveEvent(payload []byte) {
	root := gjson.ParseBytes(payload)
	if msg, code, ok := detectInlineError(t.format, root); ok {
		t.failed = true
		// 只保留第一条错误，后续的多半是同一故障的回声
		if t.errMsg == "" {
			t.errMsg = Truncate(msg, MaxErrorBytes)
			t.errStatus = code
		}
		return
	}
	if u, ok := translator.ExtractUsage(t.format, payload); ok {
		t.usage.Merge(u)
	}
}

// ObserveResponse inspects a complete non-streaming body the same way the
// tracker inspects individual events.
func ObserveResponse(format translator.Format, body []byte) Result {
	t := &StreamTracker{format: format}
	if payload := bytes.TrimSpace(body); len(payload) > 0 {
		t.ObserveEvent(payload)
	}
	return t.Result()
}

// detectInlineError spots error events that upstreams embed in otherwise
// 200-status streams. The captured code is best effort; zero means the
// event named none.
func detectInlineError(format translator.Format, root gjson.Result) (string, int, bool) {
	switch format {
	case translator.FormatOpenAI, translator.FormatGemini:
		if e := root.Get("error"); e.Exists() {
			return errText(e), int(e.Get("code").Int()), true
		}
	case translator.FormatOpenAIResponses:
		switch root.Get("type").String() {
		case "error":
			msg := root.Get("message").String()
			if msg == "" {
				msg = root.Raw
			}
			return msg, int(root.Get("code").Int()), true
		case "response.failed":
			e := root.Get("response.error")
			return errText(e), int(e.Get("code").Int()), true
		}
	case translator.FormatAnthropic:
		if root.Get("type").String() == "error" {
			return errText(root.Get("error")), 0, true
		}
	}
	return "", 0, false
}

func errText(e gjson.Result) string {
	if msg := e.Get("message").String(); msg != "" {
		return msg
	}
	return e.Raw
}
