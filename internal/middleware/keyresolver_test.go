package middleware

import (
	"testing"

	"github.com/stretchr/testify/require"

	"omni2api-go/internal/config"
)

func TestStaticKeyResolver(t *testing.T) {
	r := NewStaticKeyResolver([]config.APIKeyEntry{
		{Key: "sk-plain", UserID: 1},
		{Key: "sk-codex", UserID: 2, ConfigType: "codex", TrustLevel: 3, Beta: true},
		{Key: ""},
	})

	p, ok := r.ResolveKey("sk-codex")
	require.True(t, ok)
	require.Equal(t, int64(2), p.UserID)
	require.Equal(t, "codex", p.ConfigType)
	require.Equal(t, 3, p.TrustLevel)
	require.True(t, p.Beta)
	require.False(t, p.SessionAuth)

	p, ok = r.ResolveKey("sk-plain")
	require.True(t, ok)
	require.Empty(t, p.ConfigType)

	_, ok = r.ResolveKey("sk-unknown")
	require.False(t, ok)

	// 空字符串永远不匹配,哪怕表里真有空键。
	_, ok = r.ResolveKey("")
	require.False(t, ok)
}

func TestStaticKeyResolverUpdate(t *testing.T) {
	r := NewStaticKeyResolver([]config.APIKeyEntry{{Key: "sk-old", UserID: 1}})

	_, ok := r.ResolveKey("sk-old")
	require.True(t, ok)

	// 配置重载换掉整张键表,旧键立即失效。
	r.Update([]config.APIKeyEntry{{Key: "sk-new", UserID: 2}})

	_, ok = r.ResolveKey("sk-old")
	require.False(t, ok)
	p, ok := r.ResolveKey("sk-new")
	require.True(t, ok)
	require.Equal(t, int64(2), p.UserID)
}
