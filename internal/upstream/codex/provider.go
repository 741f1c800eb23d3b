// Package codex dispatches Responses API requests to the ChatGPT backend
// wearing the codex CLI's fingerprint. The backend only serves SSE, so
// non-stream calls open a stream and aggregate it.
package codex

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"omni2api-go/internal/config"
	"omni2api-go/internal/constants"
	"omni2api-go/internal/models"
	"omni2api-go/internal/translator"
	"omni2api-go/internal/upstream"
)

type Provider struct {
	cfg      *config.FileConfig
	endpoint string
}

func New(cfg *config.FileConfig) *Provider {
	return &Provider{cfg: cfg, endpoint: constants.CodexResponsesURL}
}

func (p *Provider) Tag() string { return constants.ProviderCodex }

func (p *Provider) Format() translator.Format { return translator.FormatOpenAIResponses }

func (p *Provider) OpenStream(ctx context.Context, call *upstream.Call) (*upstream.Stream, error) {
	return p.open(ctx, call)
}

// Execute reads the whole stream and folds it into the final response
// object, since the backend has no non-stream mode.
func (p *Provider) Execute(ctx context.Context, call *upstream.Call) (*upstream.Response, error) {
	strm, err := p.open(ctx, call)
	if err != nil {
		return nil, err
	}
	defer strm.Body.Close()

	raw, err := io.ReadAll(strm.Body)
	if err != nil {
		return nil, fmt.Errorf("codex: read stream: %w", err)
	}
	body, err := translator.CollectResponsesStream(raw)
	if err != nil {
		return nil, fmt.Errorf("codex: aggregate stream: %w", err)
	}
	return &upstream.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       body,
	}, nil
}

func (p *Provider) open(ctx context.Context, call *upstream.Call) (*upstream.Stream, error) {
	body := NormalizeRequest(call.Payload, call.Model)
	client, err := upstream.NewClient(p.proxyURL(), true)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	p.applyHeaders(req, call)

	_, strm, err := upstream.Exchange(constants.ProviderCodex, client, req, true)
	if err != nil {
		return nil, err
	}
	return strm, nil
}

func (p *Provider) applyHeaders(req *http.Request, call *upstream.Call) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if call.Credential != nil {
		req.Header.Set("Authorization", "Bearer "+call.Credential.AccessToken)
		if call.Credential.AccountID != "" {
			req.Header.Set("Chatgpt-Account-Id", call.Credential.AccountID)
		}
	}
	req.Header.Set("User-Agent", constants.CodexUserAgent())
	req.Header.Set("Openai-Beta", constants.CodexBetaValue)
	req.Header.Set("Originator", constants.CodexOriginator)
	req.Header.Set("Session_id", uuid.NewString())
}

// proxyURL prefers the codex-specific proxy so ChatGPT traffic can exit
// through a different egress than the rest of the gateway.
func (p *Provider) proxyURL() string {
	if p.cfg == nil {
		return ""
	}
	if p.cfg.CodexProxyURL != "" {
		return p.cfg.CodexProxyURL
	}
	return p.cfg.ProxyURL
}

// ClassifyFailure extends the shared table with the backend's usage-limit
// reply, which discloses when the window resets.
func (p *Provider) ClassifyFailure(status int, body []byte, hdr http.Header) models.FailureVerdict {
	v := upstream.ClassifyStatus(status, body, hdr)
	if status == http.StatusTooManyRequests && v.RetryAfter == 0 {
		if secs := gjson.GetBytes(body, "error.resets_in_seconds").Int(); secs > 0 {
			v.RetryAfter = time.Duration(secs) * time.Second
		}
	}
	return v
}

func (p *Provider) ListModels(_ context.Context, _ *upstream.Call) ([]upstream.ModelInfo, error) {
	ids := defaultModelIDs
	if p.cfg != nil && len(p.cfg.CodexSupportedModels) > 0 {
		ids = p.cfg.CodexSupportedModels
	}
	infos := make([]upstream.ModelInfo, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		infos = append(infos, upstream.ModelInfo{ID: id, Reasoning: true})
	}
	return infos, nil
}

var defaultModelIDs = []string{"gpt-5", "gpt-5-codex", "codex-mini-latest"}
