// Package geminicli dispatches requests to the Gemini Code Assist surface
// using gemini-cli OAuth accounts. Payloads arrive as native Gemini v1beta
// bodies; this package owns the v1internal envelope, the CLI client
// fingerprint and the response unwrapping.
package geminicli

import (
	"bytes"
	"context"
	"net/http"
	"strings"

	"omni2api-go/internal/config"
	"omni2api-go/internal/constants"
	"omni2api-go/internal/models"
	"omni2api-go/internal/translator"
	"omni2api-go/internal/upstream"
	"omni2api-go/internal/upstream/cloudcode"
)

type Provider struct {
	cfg      *config.FileConfig
	endpoint string
}

func New(cfg *config.FileConfig) *Provider {
	return &Provider{cfg: cfg, endpoint: constants.CodeAssistEndpoint}
}

func (p *Provider) Tag() string { return constants.ProviderGeminiCLI }

func (p *Provider) Format() translator.Format { return translator.FormatGemini }

func (p *Provider) Execute(ctx context.Context, call *upstream.Call) (*upstream.Response, error) {
	resp, _, err := p.do(ctx, call, false)
	return resp, err
}

func (p *Provider) OpenStream(ctx context.Context, call *upstream.Call) (*upstream.Stream, error) {
	_, strm, err := p.do(ctx, call, true)
	return strm, err
}

func (p *Provider) ClassifyFailure(status int, body []byte, hdr http.Header) models.FailureVerdict {
	return cloudcode.ClassifyFailure(status, body, hdr)
}

func (p *Provider) do(ctx context.Context, call *upstream.Call, stream bool) (*upstream.Response, *upstream.Stream, error) {
	project := projectFor(call)
	payload := preparePayload(call.Model, call.Payload)
	body, err := cloudcode.WrapRequest(call.Model, project, payload)
	if err != nil {
		return nil, nil, err
	}

	client, err := upstream.NewClient(p.cfg.ProxyURL, stream)
	if err != nil {
		return nil, nil, err
	}

	url := cloudcode.GenerateURL(p.endpoint, stream)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, nil, err
	}
	applyHeaders(req, call, stream, project)

	resp, strm, err := upstream.Exchange(constants.ProviderGeminiCLI, client, req, stream)
	if err != nil {
		return nil, nil, err
	}
	if strm != nil {
		strm.Body = cloudcode.StreamBody(strm.Body)
		return nil, strm, nil
	}
	resp.Body = cloudcode.UnwrapResponse(resp.Body)
	return resp, nil, nil
}

// projectFor resolves the cloud project an attempt bills against: the
// selector's project rotation first, then the credential's own project.
func projectFor(call *upstream.Call) string {
	if call.Project != "" {
		return call.Project
	}
	if call.Credential != nil {
		return strings.TrimSpace(call.Credential.ProjectID)
	}
	return ""
}
