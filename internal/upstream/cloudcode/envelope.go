// Package cloudcode implements the v1internal wire conventions shared by the
// Cloud Code surfaces (the gemini-cli and antigravity pools). Requests travel
// wrapped as {model, project, request}; responses and SSE events come back
// wrapped in a "response" field that must be peeled before translation.
package cloudcode

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

type envelope struct {
	Model   string          `json:"model"`
	Project string          `json:"project,omitempty"`
	Request json.RawMessage `json:"request"`
}

// WrapRequest builds the v1internal envelope around a native Gemini request
// body. The body must already be valid JSON.
func WrapRequest(model, project string, request []byte) ([]byte, error) {
	if !gjson.ValidBytes(request) {
		return nil, fmt.Errorf("cloudcode: request body is not valid JSON")
	}
	return json.Marshal(envelope{
		Model:   model,
		Project: project,
		Request: json.RawMessage(request),
	})
}

// UnwrapResponse peels the v1internal "response" wrapper from a non-stream
// body. Bodies without the wrapper (errors, already-unwrapped payloads) pass
// through untouched.
func UnwrapResponse(body []byte) []byte {
	if resp := gjson.GetBytes(body, "response"); resp.Exists() && resp.IsObject() {
		return []byte(resp.Raw)
	}
	return body
}

// GenerateURL composes the v1internal generate endpoint for a base host.
func GenerateURL(base string, stream bool) string {
	if stream {
		return base + "/v1internal:streamGenerateContent?alt=sse"
	}
	return base + "/v1internal:generateContent"
}

// ActionURL composes a v1internal action endpoint (loadCodeAssist,
// onboardUser, countTokens).
func ActionURL(base, action string) string {
	return base + "/v1internal:" + action
}
