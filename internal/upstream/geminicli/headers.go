package geminicli

import (
	"net/http"
	"runtime"
	"strings"

	"omni2api-go/internal/constants"
	"omni2api-go/internal/upstream"
)

// applyHeaders forces the gemini-cli client fingerprint on every upstream
// request. Caller-supplied headers never override the fingerprint set.
func applyHeaders(req *http.Request, call *upstream.Call, stream bool, project string) {
	req.Header.Set("Content-Type", "application/json")
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	} else {
		req.Header.Set("Accept", "application/json")
	}
	if call.Credential != nil && call.Credential.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+call.Credential.AccessToken)
	}

	req.Header.Set("User-Agent", constants.GeminiCLIUserAgent())
	req.Header.Set("X-Goog-Api-Client", apiClientValue())
	req.Header.Set("Client-Metadata", "ideType=IDE_UNSPECIFIED,platform=PLATFORM_UNSPECIFIED,pluginType=GEMINI")
	if project != "" {
		req.Header.Set("X-Goog-User-Project", project)
	}
}

func apiClientValue() string {
	gv := strings.TrimPrefix(runtime.Version(), "go")
	if gv == "" {
		gv = "unknown"
	}
	return constants.GeminiCLIAPIClient + "/" + gv
}
