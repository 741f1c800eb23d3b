package server

import (
	"omni2api-go/internal/config"
	"omni2api-go/internal/upstream"
	"omni2api-go/internal/upstream/antigravity"
	"omni2api-go/internal/upstream/codex"
	"omni2api-go/internal/upstream/geminicli"
	"omni2api-go/internal/upstream/kiro"
	"omni2api-go/internal/upstream/qwen"
	"omni2api-go/internal/upstream/zai"
)

// BuildRegistry constructs every pool this deployment can dispatch to.
// Providers read their knobs from the config snapshot at build time;
// transport-level settings do not hot-reload.
func BuildRegistry(cfg *config.FileConfig) *upstream.Registry {
	return upstream.NewRegistry(
		antigravity.New(cfg),
		codex.New(cfg),
		geminicli.New(cfg),
		kiro.New(cfg),
		qwen.New(cfg),
		zai.NewTTS(cfg),
		zai.NewImage(cfg),
	)
}
