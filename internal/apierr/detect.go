package apierr

import (
	"net/http"
	"strings"
)

// DetectFromRequest determines the error format using an HTTP request.
func DetectFromRequest(r *http.Request) ErrorFormat {
	if r == nil || r.URL == nil {
		return FormatOpenAI
	}
	return DetectFromPath(r.URL.Path)
}

// DetectFromPath determines the error format based on a raw path string.
// Clients on /v1/messages expect Anthropic envelopes, the Gemini surfaces
// expect google.rpc style, and everything else gets OpenAI's shape.
func DetectFromPath(path string) ErrorFormat {
	path = strings.ToLower(path)
	switch {
	case strings.Contains(path, "/v1/messages"):
		return FormatAnthropic
	case strings.Contains(path, "/v1beta/"),
		strings.Contains(path, ":generatecontent"),
		strings.Contains(path, ":streamgeneratecontent"),
		strings.Contains(path, ":counttokens"),
		strings.Contains(path, "/v1internal/"):
		return FormatGemini
	default:
		return FormatOpenAI
	}
}
