// Package qwen forwards chat requests to the Qwen portal. The portal
// speaks OpenAI Chat Completions natively, so no response conversion
// happens here.
package qwen

import (
	"bytes"
	"context"
	"net/http"

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
	return &Provider{cfg: cfg, endpoint: constants.QwenChatCompletionsURL}
}

func (p *Provider) Tag() string { return constants.ProviderQwen }

func (p *Provider) Format() translator.Format { return translator.FormatOpenAI }

func (p *Provider) Execute(ctx context.Context, call *upstream.Call) (*upstream.Response, error) {
	resp, _, err := p.do(ctx, call, false)
	return resp, err
}

func (p *Provider) OpenStream(ctx context.Context, call *upstream.Call) (*upstream.Stream, error) {
	_, strm, err := p.do(ctx, call, true)
	return strm, err
}

func (p *Provider) do(ctx context.Context, call *upstream.Call, stream bool) (*upstream.Response, *upstream.Stream, error) {
	body, err := PrepareRequest(call.Payload, call.Model, stream)
	if err != nil {
		return nil, nil, err
	}
	client, err := upstream.NewClient(p.cfg.ProxyURL, stream)
	if err != nil {
		return nil, nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, nil, err
	}
	p.applyHeaders(req, call, stream)
	return upstream.Exchange(constants.ProviderQwen, client, req, stream)
}

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
}

func (p *Provider) userAgent() string {
	if p.cfg != nil && p.cfg.QwenUserAgent != "" {
		return p.cfg.QwenUserAgent
	}
	return constants.QwenUserAgent()
}

func (p *Provider) ClassifyFailure(status int, body []byte, hdr http.Header) models.FailureVerdict {
	return upstream.ClassifyStatus(status, body, hdr)
}

func (p *Provider) ListModels(_ context.Context, _ *upstream.Call) ([]upstream.ModelInfo, error) {
	return []upstream.ModelInfo{
		{ID: "qwen3-coder-plus"},
		{ID: "qwen3-coder-flash"},
	}, nil
}
