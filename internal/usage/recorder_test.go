package usage

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omni2api-go/internal/models"
)

type fakeStore struct {
	entries []*models.UsageLog
	ctxErr  error
	fail    error
}

func (f *fakeStore) CommitUsage(ctx context.Context, entry *models.UsageLog) error {
	f.ctxErr = ctx.Err()
	f.entries = append(f.entries, entry)
	return f.fail
}

func TestRecorderCommitTruncates(t *testing.T) {
	store := &fakeStore{}
	rec := NewRecorder(store)

	entry := &models.UsageLog{
		UserID:       7,
		ConfigType:   "codex",
		ErrorMessage: strings.Repeat("е", 2000), // 西里尔字母，每个两字节
		RequestBody:  strings.Repeat("x", MaxBodyBytes+100),
	}
	rec.Commit(context.Background(), entry)

	require.Len(t, store.entries, 1)
	got := store.entries[0]
	assert.LessOrEqual(t, len(got.ErrorMessage), MaxErrorBytes+len("…"))
	assert.True(t, strings.HasSuffix(got.ErrorMessage, "…"))
	assert.True(t, utf8.ValidString(got.ErrorMessage))
	assert.LessOrEqual(t, len(got.RequestBody), MaxBodyBytes+len("…"))
}

func TestRecorderDetachesFromCanceledContext(t *testing.T) {
	store := &fakeStore{}
	rec := NewRecorder(store)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec.Commit(ctx, &models.UsageLog{UserID: 1, ConfigType: "kiro"})

	require.Len(t, store.entries, 1)
	assert.NoError(t, store.ctxErr)
}

func TestRecorderSwallowsStoreFailure(t *testing.T) {
	store := &fakeStore{fail: errors.New("db down")}
	rec := NewRecorder(store)

	// 不 panic、不向外传播
	rec.Commit(context.Background(), &models.UsageLog{UserID: 2, ConfigType: "qwen"})
	assert.Len(t, store.entries, 1)
}

func TestRecorderNilSafety(t *testing.T) {
	var rec *Recorder
	rec.Commit(context.Background(), &models.UsageLog{})

	NewRecorder(nil).Commit(context.Background(), &models.UsageLog{})
	NewRecorder(&fakeStore{}).Commit(context.Background(), nil)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "abc…", Truncate("abcdef", 3))

	// 多字节边界不会被切开
	s := "ab世界" // len 8
	got := Truncate(s, 3)
	assert.Equal(t, "ab…", got)
	assert.True(t, utf8.ValidString(got))

	got = Truncate(s, 5)
	assert.Equal(t, "ab世…", got)

	assert.Equal(t, "", Truncate("", 5))
	assert.Equal(t, "abc", Truncate("abc", 0))
}
