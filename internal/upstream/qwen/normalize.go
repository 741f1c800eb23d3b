package qwen

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"omni2api-go/internal/translator"
)

// PrepareRequest pins the routed model and stream flag onto the body and
// plants the chunked-write policy the qwen-code editor tooling expects.
// The portal is OpenAI-compatible, everything else passes through.
func PrepareRequest(payload []byte, model string, stream bool) ([]byte, error) {
	out := payload
	var err error
	if model != "" {
		if out, err = sjson.SetBytes(out, "model", model); err != nil {
			return nil, fmt.Errorf("qwen: set model: %w", err)
		}
	}
	if out, err = sjson.SetBytes(out, "stream", stream); err != nil {
		return nil, fmt.Errorf("qwen: set stream: %w", err)
	}
	return injectWritePolicy(out), nil
}

// injectWritePolicy appends the policy to the first system message, or
// prepends a fresh one when the request has none. Running it on already
// treated input changes nothing.
func injectWritePolicy(payload []byte) []byte {
	msgs := gjson.GetBytes(payload, "messages")
	if !msgs.IsArray() {
		return payload
	}
	for i, m := range msgs.Array() {
		if m.Get("role").String() != "system" {
			continue
		}
		content := m.Get("content")
		if content.Type != gjson.String {
			// 块数组形式的 system 保持原样
			return payload
		}
		out, err := sjson.SetBytes(payload, fmt.Sprintf("messages.%d.content", i),
			translator.InjectChunkedWritePolicy(content.String()))
		if err != nil {
			return payload
		}
		return out
	}

	sys, err := json.Marshal(map[string]string{
		"role":    "system",
		"content": translator.InjectChunkedWritePolicy(""),
	})
	if err != nil {
		return payload
	}
	items := msgs.Array()
	arr := make([]json.RawMessage, 0, len(items)+1)
	arr = append(arr, sys)
	for _, it := range items {
		arr = append(arr, json.RawMessage(it.Raw))
	}
	blob, err := json.Marshal(arr)
	if err != nil {
		return payload
	}
	out, err := sjson.SetRawBytes(payload, "messages", blob)
	if err != nil {
		return payload
	}
	return out
}
