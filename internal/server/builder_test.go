package server

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"omni2api-go/internal/config"
	"omni2api-go/internal/constants"
)

func TestBuildRegistryCoversAllPools(t *testing.T) {
	cfg := &config.FileConfig{
		ZaiArtifactDir:       filepath.Join(t.TempDir(), "artifacts"),
		ZaiArtifactRetention: 10,
	}
	reg := BuildRegistry(cfg)

	for _, tag := range []string{
		constants.ProviderAntigravity,
		constants.ProviderCodex,
		constants.ProviderGeminiCLI,
		constants.ProviderKiro,
		constants.ProviderQwen,
		constants.ProviderZaiTTS,
		constants.ProviderZaiImage,
	} {
		_, ok := reg.Get(tag)
		require.True(t, ok, "missing provider %s", tag)
	}
	require.Len(t, reg.Tags(), 7)
}
