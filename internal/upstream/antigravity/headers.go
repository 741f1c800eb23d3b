package antigravity

import (
	"encoding/json"
	"net/http"
	"runtime"

	"omni2api-go/internal/constants"
	"omni2api-go/internal/upstream"
)

// Client-Metadata enum values as the editor sends them. The Antigravity
// surface expects numbers here, not the string enums gemini-cli uses.
const (
	platformWindows = 1
	platformLinux   = 2
	platformMacOS   = 3

	pluginTypeAntigravity = 2
)

func (p *Provider) applyHeaders(req *http.Request, call *upstream.Call, stream bool) {
	req.Header.Set("Content-Type", "application/json")
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	} else {
		req.Header.Set("Accept", "application/json")
	}
	if call.Credential != nil {
		req.Header.Set("Authorization", "Bearer "+call.Credential.AccessToken)
	}
	req.Header.Set("User-Agent", p.userAgent())
	req.Header.Set("X-Goog-Api-Client", constants.AntigravityAPIClientHeader)
	req.Header.Set("Client-Metadata", clientMetadata())
}

func (p *Provider) userAgent() string {
	if p.cfg != nil && p.cfg.AntigravityUserAgent != "" {
		return p.cfg.AntigravityUserAgent
	}
	return constants.AntigravityUserAgent()
}

func clientMetadata() string {
	md := map[string]int{
		"ideType":    constants.AntigravityIDEType,
		"platform":   platformEnum(),
		"pluginType": pluginTypeAntigravity,
	}
	data, _ := json.Marshal(md)
	return string(data)
}

func platformEnum() int {
	switch runtime.GOOS {
	case "windows":
		return platformWindows
	case "darwin":
		return platformMacOS
	default:
		return platformLinux
	}
}
