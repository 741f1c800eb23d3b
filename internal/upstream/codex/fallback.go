package codex

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"omni2api-go/internal/constants"
	"omni2api-go/internal/translator"
	"omni2api-go/internal/upstream"
)

// FallbackEnabled reports whether a relay is configured for the moment the
// whole account pool is cooling or frozen.
func (p *Provider) FallbackEnabled() bool {
	return p.cfg != nil &&
		strings.TrimSpace(p.cfg.CodexFallbackBaseURL) != "" &&
		strings.TrimSpace(p.cfg.CodexFallbackAPIKey) != ""
}

// ExecuteFallback re-issues the normalized request to the configured relay
// with its API key. One attempt only; failures surface unchanged.
func (p *Provider) ExecuteFallback(ctx context.Context, model string, payload []byte, stream bool) (*upstream.Response, *upstream.Stream, error) {
	body := NormalizeRequest(payload, model)
	client, err := upstream.NewClient(p.proxyURL(), true)
	if err != nil {
		return nil, nil, err
	}

	url := strings.TrimRight(strings.TrimSpace(p.cfg.CodexFallbackBaseURL), "/") + "/responses"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(p.cfg.CodexFallbackAPIKey))

	_, strm, err := upstream.Exchange(constants.ProviderCodex, client, req, true)
	if err != nil {
		return nil, nil, err
	}
	if stream {
		return nil, strm, nil
	}

	defer strm.Body.Close()
	raw, err := io.ReadAll(strm.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("codex: read fallback stream: %w", err)
	}
	aggregated, err := translator.CollectResponsesStream(raw)
	if err != nil {
		return nil, nil, fmt.Errorf("codex: aggregate fallback stream: %w", err)
	}
	return &upstream.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       aggregated,
	}, nil, nil
}
