package discovery

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omni2api-go/internal/models"
	"omni2api-go/internal/translator"
	"omni2api-go/internal/upstream"
)

type fakeProvider struct {
	tag   string
	infos []upstream.ModelInfo
	err   error
	calls atomic.Int32
}

func (f *fakeProvider) Tag() string                   { return f.tag }
func (f *fakeProvider) Format() translator.Format     { return translator.FormatOpenAI }
func (f *fakeProvider) ListModels(context.Context, *upstream.Call) ([]upstream.ModelInfo, error) {
	f.calls.Add(1)
	return f.infos, f.err
}
func (f *fakeProvider) Execute(context.Context, *upstream.Call) (*upstream.Response, error) {
	return nil, errors.New("not used")
}
func (f *fakeProvider) OpenStream(context.Context, *upstream.Call) (*upstream.Stream, error) {
	return nil, errors.New("not used")
}
func (f *fakeProvider) ClassifyFailure(int, []byte, http.Header) models.FailureVerdict {
	return models.FailureVerdict{}
}

func catalogAt(t *testing.T, base time.Time, providers ...upstream.Provider) *Catalog {
	t.Helper()
	cat := NewCatalog(upstream.NewRegistry(providers...), nil)
	cat.now = func() time.Time { return base }
	return cat
}

func TestCatalogCachesListings(t *testing.T) {
	base := time.Now()
	fp := &fakeProvider{tag: "codex", infos: []upstream.ModelInfo{{ID: "gpt-5"}}}
	cat := catalogAt(t, base, fp)

	infos, err := cat.Models(context.Background(), "codex")
	require.NoError(t, err)
	require.Len(t, infos, 1)

	_, err = cat.Models(context.Background(), "codex")
	require.NoError(t, err)
	assert.EqualValues(t, 1, fp.calls.Load())

	// 23h 后仍是缓存，25h 后重新拉取
	cat.now = func() time.Time { return base.Add(23 * time.Hour) }
	_, _ = cat.Models(context.Background(), "codex")
	assert.EqualValues(t, 1, fp.calls.Load())

	cat.now = func() time.Time { return base.Add(25 * time.Hour) }
	_, _ = cat.Models(context.Background(), "codex")
	assert.EqualValues(t, 2, fp.calls.Load())
}

func TestCatalogFallbackExpiresQuickly(t *testing.T) {
	base := time.Now()
	fp := &fakeProvider{
		tag:   "gemini-cli",
		infos: []upstream.ModelInfo{{ID: "gemini-2.5-pro"}},
		err:   upstream.ErrCatalogFallback,
	}
	cat := catalogAt(t, base, fp)

	infos, err := cat.Models(context.Background(), "gemini-cli")
	require.NoError(t, err)
	require.Len(t, infos, 1)

	cat.now = func() time.Time { return base.Add(2 * time.Minute) }
	_, _ = cat.Models(context.Background(), "gemini-cli")
	assert.EqualValues(t, 1, fp.calls.Load())

	cat.now = func() time.Time { return base.Add(6 * time.Minute) }
	_, _ = cat.Models(context.Background(), "gemini-cli")
	assert.EqualValues(t, 2, fp.calls.Load())
}

func TestCatalogErrorServesStale(t *testing.T) {
	base := time.Now()
	fp := &fakeProvider{tag: "kiro", infos: []upstream.ModelInfo{{ID: "claude-sonnet-4-5"}}}
	cat := catalogAt(t, base, fp)

	_, err := cat.Models(context.Background(), "kiro")
	require.NoError(t, err)

	fp.err = errors.New("listing broke")
	fp.infos = nil
	cat.now = func() time.Time { return base.Add(25 * time.Hour) }

	infos, err := cat.Models(context.Background(), "kiro")
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "claude-sonnet-4-5", infos[0].ID)
}

func TestCatalogErrorWithoutStalePropagates(t *testing.T) {
	fp := &fakeProvider{tag: "kiro", err: errors.New("listing broke")}
	cat := catalogAt(t, time.Now(), fp)

	_, err := cat.Models(context.Background(), "kiro")
	assert.Error(t, err)
}

func TestCatalogUnknownProvider(t *testing.T) {
	cat := catalogAt(t, time.Now())
	_, err := cat.Models(context.Background(), "nope")
	assert.ErrorContains(t, err, "unknown provider")
}

func TestCatalogWarmListsAllProviders(t *testing.T) {
	ok1 := &fakeProvider{tag: "codex", infos: []upstream.ModelInfo{{ID: "gpt-5"}}}
	bad := &fakeProvider{tag: "kiro", err: errors.New("down")}
	ok2 := &fakeProvider{tag: "qwen", infos: []upstream.ModelInfo{{ID: "qwen3-coder-plus"}}}
	cat := catalogAt(t, time.Now(), ok1, bad, ok2)

	cat.Warm(context.Background())

	assert.EqualValues(t, 1, ok1.calls.Load())
	assert.EqualValues(t, 1, bad.calls.Load())
	assert.EqualValues(t, 1, ok2.calls.Load())

	// 失败的不占缓存，下一次访问重试
	_, _ = cat.Models(context.Background(), "kiro")
	assert.EqualValues(t, 2, bad.calls.Load())
}

func TestCatalogInvalidate(t *testing.T) {
	fp := &fakeProvider{tag: "codex", infos: []upstream.ModelInfo{{ID: "gpt-5"}}}
	cat := catalogAt(t, time.Now(), fp)

	_, _ = cat.Models(context.Background(), "codex")
	cat.Invalidate("codex")
	_, _ = cat.Models(context.Background(), "codex")
	assert.EqualValues(t, 2, fp.calls.Load())
}

func TestCatalogCallFactoryFailureStillLists(t *testing.T) {
	fp := &fakeProvider{tag: "qwen", infos: []upstream.ModelInfo{{ID: "qwen3-coder-plus"}}}
	cat := NewCatalog(upstream.NewRegistry(fp),
		func(context.Context, string) (*upstream.Call, error) { return nil, errors.New("pool empty") })
	cat.now = time.Now

	infos, err := cat.Models(context.Background(), "qwen")
	require.NoError(t, err)
	assert.Len(t, infos, 1)
}
