package codex

import (
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// NormalizeRequest rewrites a Responses payload into the only shape the
// ChatGPT backend accepts: streamed, unstored, parallel tool calls on, with
// encrypted reasoning echoed back. The sampling knobs of the public API get
// the request rejected, so they are dropped here.
func NormalizeRequest(payload []byte, model string) []byte {
	out := payload
	if model != "" {
		out, _ = sjson.SetBytes(out, "model", model)
	}
	out, _ = sjson.SetBytes(out, "stream", true)
	out, _ = sjson.SetBytes(out, "store", false)
	out, _ = sjson.SetBytes(out, "parallel_tool_calls", true)
	out, _ = sjson.SetBytes(out, "include", []string{"reasoning.encrypted_content"})
	for _, knob := range []string{"max_output_tokens", "temperature", "top_p"} {
		out, _ = sjson.DeleteBytes(out, knob)
	}
	if !gjson.GetBytes(out, "instructions").Exists() {
		out, _ = sjson.SetBytes(out, "instructions", "")
	}
	return out
}
