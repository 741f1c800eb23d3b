package geminicli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strings"

	"omni2api-go/internal/constants"
	"omni2api-go/internal/upstream"
	"omni2api-go/internal/upstream/cloudcode"
)

var modelIDPattern = regexp.MustCompile(`(?i)gemini-[a-z0-9][a-z0-9\._-]*`)

// defaultModels is the serving baseline when loadCodeAssist discovery fails.
func defaultModels() []upstream.ModelInfo {
	return []upstream.ModelInfo{
		{ID: "gemini-2.5-pro", DisplayName: "Gemini 2.5 Pro", Reasoning: true},
		{ID: "gemini-2.5-flash", DisplayName: "Gemini 2.5 Flash", Reasoning: true},
		{ID: "gemini-2.5-flash-image", DisplayName: "Gemini 2.5 Flash Image"},
	}
}

// ListModels asks loadCodeAssist which models the account can serve and
// falls back to the builtin list when discovery yields nothing.
func (p *Provider) ListModels(ctx context.Context, call *upstream.Call) ([]upstream.ModelInfo, error) {
	ids, err := p.discoverModels(ctx, call)
	if err != nil || len(ids) == 0 {
		return defaultModels(), upstream.ErrCatalogFallback
	}

	out := make([]upstream.ModelInfo, 0, len(ids))
	for _, id := range ids {
		out = append(out, upstream.ModelInfo{
			ID:        id,
			Reasoning: !strings.Contains(id, "image"),
		})
	}
	return out, nil
}

func (p *Provider) discoverModels(ctx context.Context, call *upstream.Call) ([]string, error) {
	project := projectFor(call)
	payload := map[string]any{
		"metadata": map[string]any{
			"ideType":    "IDE_UNSPECIFIED",
			"platform":   "PLATFORM_UNSPECIFIED",
			"pluginType": "GEMINI",
		},
	}
	if project != "" {
		payload["cloudaicompanionProject"] = project
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	client, err := upstream.NewClient(p.cfg.ProxyURL, false)
	if err != nil {
		return nil, err
	}
	url := cloudcode.ActionURL(p.endpoint, "loadCodeAssist")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	applyHeaders(req, call, false, project)

	resp, _, err := upstream.Exchange(constants.ProviderGeminiCLI, client, req, false)
	if err != nil {
		return nil, err
	}
	ids := extractModelIDs(resp.Body)
	if len(ids) == 0 {
		return nil, fmt.Errorf("geminicli: loadCodeAssist returned no models")
	}
	return ids, nil
}

// extractModelIDs pulls gemini model ids out of a discovery payload without
// depending on its exact schema.
func extractModelIDs(data []byte) []string {
	seen := make(map[string]struct{})
	for _, match := range modelIDPattern.FindAllString(string(data), -1) {
		id := strings.Trim(strings.ToLower(match), " ,.;:\"'()[]{}<>")
		if id != "" {
			seen[id] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
