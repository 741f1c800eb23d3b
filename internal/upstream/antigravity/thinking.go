package antigravity

import (
	"encoding/json"
	"strings"
)

// isThinkingSignatureError reports whether a 400 blames the thought
// signatures replayed from conversation history. Signatures minted in an
// earlier session stop validating once upstream rotates keys.
func isThinkingSignatureError(body []byte) bool {
	text := strings.ToLower(string(body))
	return strings.Contains(text, "invalid `signature`") ||
		strings.Contains(text, "thinking.signature") ||
		strings.Contains(text, "thinking.thinking") ||
		strings.Contains(text, "corrupted thought signature") ||
		strings.Contains(text, "failed to deserialise")
}

// stripThoughtSignatures removes thought markers and signatures everywhere in
// the payload so the retry goes out without the rejected material. The result
// loses reasoning continuity but the call succeeds.
func stripThoughtSignatures(payload []byte) []byte {
	var doc any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return payload
	}
	cleanThoughtFields(doc)
	out, err := json.Marshal(doc)
	if err != nil {
		return payload
	}
	return out
}

func cleanThoughtFields(v any) {
	switch val := v.(type) {
	case map[string]any:
		delete(val, "thoughtSignature")
		delete(val, "thought")
		for _, child := range val {
			cleanThoughtFields(child)
		}
	case []any:
		for _, child := range val {
			cleanThoughtFields(child)
		}
	}
}
