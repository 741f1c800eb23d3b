// Package antigravity dispatches requests to the Cloud Code surface the
// Antigravity editor uses. It shares the v1internal envelope with gemini-cli
// but carries a different client fingerprint, serves both Gemini and Claude
// model families, and falls back from the daily endpoint to prod when the
// daily tier misbehaves.
package antigravity

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"

	"omni2api-go/internal/config"
	"omni2api-go/internal/constants"
	"omni2api-go/internal/models"
	"omni2api-go/internal/translator"
	"omni2api-go/internal/upstream"
	"omni2api-go/internal/upstream/cloudcode"
)

type Provider struct {
	cfg       *config.FileConfig
	endpoints []string
}

func New(cfg *config.FileConfig) *Provider {
	return &Provider{
		cfg: cfg,
		endpoints: []string{
			constants.AntigravityEndpointDaily,
			constants.AntigravityEndpointProd,
		},
	}
}

func (p *Provider) Tag() string { return constants.ProviderAntigravity }

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
	payload := call.Payload
	// One retry with thought signatures stripped: signatures cached from an
	// earlier session may no longer validate, and the upstream 400s on them.
	for attempt := 0; attempt < 2; attempt++ {
		resp, strm, err := p.tryEndpoints(ctx, call, payload, stream)
		if err == nil {
			return resp, strm, nil
		}
		var serr *upstream.StatusError
		if attempt == 0 && errors.As(err, &serr) &&
			serr.Status == http.StatusBadRequest && isThinkingSignatureError(serr.Body) {
			log.WithFields(log.Fields{
				"provider":   constants.ProviderAntigravity,
				"account_id": call.Account.ID,
			}).Warn("retrying without thought signatures after upstream rejected them")
			payload = stripThoughtSignatures(payload)
			continue
		}
		return nil, nil, err
	}
	return nil, nil, errors.New("antigravity: unreachable")
}

// tryEndpoints walks the endpoint fallback chain for a single payload.
func (p *Provider) tryEndpoints(ctx context.Context, call *upstream.Call, payload []byte, stream bool) (*upstream.Response, *upstream.Stream, error) {
	body, err := cloudcode.WrapRequest(call.Model, p.projectFor(call), payload)
	if err != nil {
		return nil, nil, err
	}
	client, err := upstream.NewClient(p.cfg.ProxyURL, stream)
	if err != nil {
		return nil, nil, err
	}

	var lastErr error
	for i, base := range p.endpoints {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, cloudcode.GenerateURL(base, stream), bytes.NewReader(body))
		if err != nil {
			return nil, nil, err
		}
		p.applyHeaders(req, call, stream)

		resp, strm, err := upstream.Exchange(constants.ProviderAntigravity, client, req, stream)
		if err == nil {
			if strm != nil {
				strm.Body = cloudcode.StreamBody(strm.Body)
				return nil, strm, nil
			}
			resp.Body = cloudcode.UnwrapResponse(resp.Body)
			return resp, nil, nil
		}

		lastErr = err
		if ctx.Err() != nil {
			return nil, nil, err
		}
		var serr *upstream.StatusError
		if errors.As(err, &serr) && !shouldTryNextEndpoint(serr.Status) {
			return nil, nil, err
		}
		if i+1 < len(p.endpoints) {
			log.WithFields(log.Fields{
				"provider": constants.ProviderAntigravity,
				"endpoint": base,
			}).Debug("falling back to next cloudcode endpoint")
		}
	}
	return nil, nil, lastErr
}

// shouldTryNextEndpoint mirrors the editor's fallback table: throttles,
// timeouts, missing routes and server errors move on to the next base.
func shouldTryNextEndpoint(status int) bool {
	switch status {
	case http.StatusTooManyRequests, http.StatusRequestTimeout, http.StatusNotFound:
		return true
	}
	return status >= 500
}

// projectFor resolves the billed project: selector rotation, then the
// credential's onboarded project, then the shared default every Antigravity
// install falls back to.
func (p *Provider) projectFor(call *upstream.Call) string {
	if call.Project != "" {
		return call.Project
	}
	if call.Credential != nil {
		if proj := strings.TrimSpace(call.Credential.ProjectID); proj != "" {
			return proj
		}
	}
	return constants.AntigravityDefaultProject
}

// ListModels reports the fixed Antigravity serving set. The surface exposes
// no per-account catalog endpoint worth polling.
func (p *Provider) ListModels(_ context.Context, _ *upstream.Call) ([]upstream.ModelInfo, error) {
	return []upstream.ModelInfo{
		{ID: "gemini-3-pro-high", DisplayName: "Gemini 3 Pro (High)", Reasoning: true},
		{ID: "gemini-3-pro-low", DisplayName: "Gemini 3 Pro (Low)", Reasoning: true},
		{ID: "gemini-3-flash", DisplayName: "Gemini 3 Flash", Reasoning: true},
		{ID: "claude-sonnet-4-5", DisplayName: "Claude Sonnet 4.5"},
		{ID: "claude-sonnet-4-5-thinking", DisplayName: "Claude Sonnet 4.5 (Thinking)", Reasoning: true},
	}, nil
}
