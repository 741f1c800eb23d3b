package geminicli

import (
	"strings"

	"github.com/tidwall/sjson"
)

// preparePayload applies the CLI-aligned request fixes before wrapping:
// image-output hints for flash-image variants and thinkingConfig removal for
// models that reject it.
func preparePayload(model string, raw []byte) []byte {
	out := fixImageHints(model, raw)
	if modelDisallowsThinking(model) {
		if cleaned, err := sjson.DeleteBytes(out, "generationConfig.thinkingConfig"); err == nil {
			out = cleaned
		}
	}
	return out
}

// fixImageHints pins responseModalities for flash-image variants so the
// upstream does not default to text-only output.
func fixImageHints(model string, raw []byte) []byte {
	if strings.Contains(strings.ToLower(model), "flash-image") {
		if out, err := sjson.SetBytes(raw, "generationConfig.responseModalities", []string{"Image"}); err == nil {
			return out
		}
	}
	return raw
}

// modelDisallowsThinking reports models whose upstream rejects
// thinkingConfig outright.
func modelDisallowsThinking(model string) bool {
	lower := strings.ToLower(model)
	return strings.Contains(lower, "gemini-2.5-flash-image")
}
