// Package zai drives the Z.AI paas endpoints for speech synthesis and
// image generation. Both are request/response only; generated audio is
// additionally kept on disk so operators can fetch artifacts later.
package zai

import (
	"bytes"
	"context"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"

	"omni2api-go/internal/apierr"
	"omni2api-go/internal/config"
	"omni2api-go/internal/constants"
	"omni2api-go/internal/models"
	"omni2api-go/internal/translator"
	"omni2api-go/internal/upstream"
)

type kind int

const (
	kindTTS kind = iota
	kindImage
)

type Provider struct {
	cfg   *config.FileConfig
	kind  kind
	base  string
	store *ArtifactStore
}

// NewTTS 返回语音合成 provider，产物写入配置目录并按保留数修剪。
func NewTTS(cfg *config.FileConfig) *Provider {
	store := NewArtifactStore(cfg.ZaiArtifactDir, cfg.ZaiArtifactRetention)
	if err := store.Prune(); err != nil {
		log.WithError(err).WithField("dir", store.Dir()).Warn("artifact prune failed")
	}
	return &Provider{cfg: cfg, kind: kindTTS, base: apiBase(cfg), store: store}
}

func NewImage(cfg *config.FileConfig) *Provider {
	return &Provider{cfg: cfg, kind: kindImage, base: apiBase(cfg)}
}

func apiBase(cfg *config.FileConfig) string {
	if cfg != nil && strings.TrimSpace(cfg.ZaiAPIBase) != "" {
		return strings.TrimRight(strings.TrimSpace(cfg.ZaiAPIBase), "/")
	}
	return constants.ZaiAPIBase
}

func (p *Provider) Tag() string {
	if p.kind == kindImage {
		return constants.ProviderZaiImage
	}
	return constants.ProviderZaiTTS
}

func (p *Provider) Format() translator.Format { return translator.FormatOpenAI }

func (p *Provider) Execute(ctx context.Context, call *upstream.Call) (*upstream.Response, error) {
	if p.kind == kindImage {
		return p.generateImage(ctx, call)
	}
	return p.generateSpeech(ctx, call)
}

// OpenStream is rejected up front; neither endpoint produces SSE.
func (p *Provider) OpenStream(_ context.Context, _ *upstream.Call) (*upstream.Stream, error) {
	return nil, apierr.Newf(http.StatusBadRequest, "invalid_request_error",
		"%s does not support streaming", p.Tag())
}

func (p *Provider) generateSpeech(ctx context.Context, call *upstream.Call) (*upstream.Response, error) {
	body, format, err := normalizeSpeech(call.Payload, call.Model)
	if err != nil {
		return nil, err
	}
	resp, err := p.post(ctx, constants.ZaiSpeechPath, body, call)
	if err != nil {
		return nil, err
	}

	if path, err := p.store.Save(extFor(format), resp.Body); err != nil {
		log.WithError(err).Warn("tts artifact not saved")
	} else {
		log.WithFields(log.Fields{
			"account_id": call.Account.ID,
			"path":       path,
			"bytes":      len(resp.Body),
		}).Debug("tts artifact saved")
	}
	return resp, nil
}

func (p *Provider) generateImage(ctx context.Context, call *upstream.Call) (*upstream.Response, error) {
	body, err := normalizeImage(call.Payload, call.Model)
	if err != nil {
		return nil, err
	}
	return p.post(ctx, constants.ZaiImagesPath, body, call)
}

func (p *Provider) post(ctx context.Context, path string, body []byte, call *upstream.Call) (*upstream.Response, error) {
	client, err := upstream.NewClient(p.cfg.ProxyURL, false)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.base+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if call.Credential != nil {
		req.Header.Set("Authorization", "Bearer "+call.Credential.AccessToken)
	}

	resp, _, err := upstream.Exchange(p.Tag(), client, req, false)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (p *Provider) ClassifyFailure(status int, body []byte, hdr http.Header) models.FailureVerdict {
	return upstream.ClassifyStatus(status, body, hdr)
}

func (p *Provider) ListModels(_ context.Context, _ *upstream.Call) ([]upstream.ModelInfo, error) {
	if p.kind == kindImage {
		return []upstream.ModelInfo{
			{ID: "cogview-3-flash"},
			{ID: "cogview-4"},
		}, nil
	}
	return []upstream.ModelInfo{{ID: "cogtts"}}, nil
}
