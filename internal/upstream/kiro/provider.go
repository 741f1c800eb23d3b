// Package kiro dispatches chat requests to the CodeWhisperer conversation
// API behind the Kiro editor. Payloads go out as a conversationState
// envelope and the binary event stream comes back converted into ordinary
// Chat Completions SSE, so the rest of the gateway treats kiro as an
// OpenAI-format provider.
package kiro

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

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
	return &Provider{cfg: cfg}
}

func (p *Provider) Tag() string { return constants.ProviderKiro }

func (p *Provider) Format() translator.Format { return translator.FormatOpenAI }

func (p *Provider) OpenStream(ctx context.Context, call *upstream.Call) (*upstream.Stream, error) {
	strm, err := p.do(ctx, call)
	if err != nil {
		return nil, err
	}
	strm.Body = streamBody(strm.Body, call.Model)
	strm.Header = http.Header{"Content-Type": []string{"text/event-stream"}}
	return strm, nil
}

// Execute drains the converted stream and folds it into one completion;
// the conversation API has no non-stream mode.
func (p *Provider) Execute(ctx context.Context, call *upstream.Call) (*upstream.Response, error) {
	strm, err := p.OpenStream(ctx, call)
	if err != nil {
		return nil, err
	}
	defer strm.Body.Close()

	raw, err := io.ReadAll(strm.Body)
	if err != nil {
		return nil, fmt.Errorf("kiro: read stream: %w", err)
	}
	body, err := translator.CollectOpenAIStream(raw, call.Model)
	if err != nil {
		return nil, fmt.Errorf("kiro: aggregate stream: %w", err)
	}
	return &upstream.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       body,
	}, nil
}

func (p *Provider) do(ctx context.Context, call *upstream.Call) (*upstream.Stream, error) {
	body, err := BuildRequest(call.Payload, call.Model)
	if err != nil {
		return nil, err
	}
	client, err := upstream.NewClient(p.cfg.ProxyURL, true)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.generateURL(call.Credential), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	p.applyHeaders(req, call)

	_, strm, err := upstream.Exchange(constants.ProviderKiro, client, req, true)
	if err != nil {
		return nil, err
	}
	return strm, nil
}

func (p *Provider) applyHeaders(req *http.Request, call *upstream.Call) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/vnd.amazon.eventstream")
	if call.Credential != nil {
		req.Header.Set("Authorization", "Bearer "+call.Credential.AccessToken)
	}
	req.Header.Set("User-Agent", p.userAgent())
	req.Header.Set("Amz-Sdk-Invocation-Id", uuid.NewString())
}

func (p *Provider) userAgent() string {
	if p.cfg != nil && p.cfg.KiroUserAgent != "" {
		return p.cfg.KiroUserAgent
	}
	return constants.KiroUserAgent()
}

// generateURL honors the credential's home region; IdC tokens only work
// against the region that issued them.
func (p *Provider) generateURL(cred *models.Credential) string {
	if p.endpoint != "" {
		return p.endpoint
	}
	region := ""
	if cred != nil {
		region = strings.TrimSpace(cred.APIRegion)
		if region == "" {
			region = strings.TrimSpace(cred.Region)
		}
	}
	if region == "" || region == "us-east-1" {
		return constants.KiroGenerateURL
	}
	return fmt.Sprintf("https://codewhisperer.%s.amazonaws.com/generateAssistantResponse", region)
}

// ClassifyFailure extends the shared table with AWS conventions: quota
// exhaustion arrives as 400 ThrottlingException and must cool the account
// rather than bounce the request.
func (p *Provider) ClassifyFailure(status int, body []byte, hdr http.Header) models.FailureVerdict {
	if status == http.StatusBadRequest && bytes.Contains(body, []byte("ThrottlingException")) {
		return upstream.ClassifyStatus(http.StatusTooManyRequests, body, hdr)
	}
	return upstream.ClassifyStatus(status, body, hdr)
}
