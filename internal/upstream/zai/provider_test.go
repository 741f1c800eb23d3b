package zai

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"omni2api-go/internal/apierr"
	"omni2api-go/internal/config"
	"omni2api-go/internal/models"
	"omni2api-go/internal/upstream"
)

func speechCall(payload string) *upstream.Call {
	return &upstream.Call{
		Account:    &models.Account{ID: 41, Provider: "zai-tts"},
		Credential: &models.Credential{AccessToken: "zk-1"},
		Payload:    []byte(payload),
	}
}

func TestNormalizeSpeechDefaults(t *testing.T) {
	out, format, err := normalizeSpeech([]byte(`{"input":"hello"}`), "")
	require.NoError(t, err)
	assert.Equal(t, "wav", format)
	assert.Equal(t, "cogtts", gjson.GetBytes(out, "model").String())
	assert.Equal(t, "tongtong", gjson.GetBytes(out, "voice").String())

	_, _, err = normalizeSpeech([]byte(`{"input":"  "}`), "")
	var aerr *apierr.APIError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, http.StatusBadRequest, aerr.HTTPStatus)
}

func TestNormalizeSpeechKeepsExplicitFields(t *testing.T) {
	in := `{"input":"hi","voice":"chuichui","response_format":"mp3"}`
	out, format, err := normalizeSpeech([]byte(in), "cogtts-pro")
	require.NoError(t, err)
	assert.Equal(t, "mp3", format)
	assert.Equal(t, "cogtts-pro", gjson.GetBytes(out, "model").String())
	assert.Equal(t, "chuichui", gjson.GetBytes(out, "voice").String())
}

func TestNormalizeImage(t *testing.T) {
	out, err := normalizeImage([]byte(`{"prompt":"a red fox"}`), "")
	require.NoError(t, err)
	assert.Equal(t, "cogview-3-flash", gjson.GetBytes(out, "model").String())

	_, err = normalizeImage([]byte(`{}`), "")
	var aerr *apierr.APIError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, http.StatusBadRequest, aerr.HTTPStatus)
}

func TestExtFor(t *testing.T) {
	assert.Equal(t, ".wav", extFor("wav"))
	assert.Equal(t, ".mp3", extFor("MP3"))
	assert.Equal(t, ".pcm", extFor("pcm"))
	assert.Equal(t, ".wav", extFor(""))
}

func TestArtifactStorePrunesOldest(t *testing.T) {
	dir := t.TempDir()
	base := time.Now().Add(-time.Hour)
	for i := 0; i < 13; i++ {
		path := filepath.Join(dir, filepath.Base(t.Name())+string(rune('a'+i))+".wav")
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
		mod := base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, os.Chtimes(path, mod, mod))
	}

	store := NewArtifactStore(dir, 10)
	require.NoError(t, store.Prune())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 10)
	// 最旧的三个被删
	for _, e := range entries {
		assert.NotContains(t, []string{"a", "b", "c"}, e.Name()[len(e.Name())-5:len(e.Name())-4])
	}
}

func TestArtifactStoreSaveKeepsNewest(t *testing.T) {
	dir := t.TempDir()
	store := NewArtifactStore(dir, 2)

	first, err := store.Save(".wav", []byte("one"))
	require.NoError(t, err)
	second, err := store.Save(".wav", []byte("two"))
	require.NoError(t, err)
	past := time.Now().Add(-time.Minute)
	require.NoError(t, os.Chtimes(first, past, past))
	require.NoError(t, os.Chtimes(second, past.Add(time.Second), past.Add(time.Second)))

	third, err := store.Save(".wav", []byte("three"))
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	_, err = os.Stat(third)
	assert.NoError(t, err)
	_, err = os.Stat(first)
	assert.True(t, os.IsNotExist(err))
}

func TestGenerateSpeechSavesArtifact(t *testing.T) {
	audio := []byte("RIFF-fake-wav-bytes")
	var gotBody []byte
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write(audio)
	}))
	defer srv.Close()

	dir := t.TempDir()
	p := NewTTS(&config.FileConfig{ZaiArtifactDir: dir, ZaiArtifactRetention: 10})
	p.base = srv.URL

	resp, err := p.Execute(context.Background(), speechCall(`{"input":"say hi"}`))
	require.NoError(t, err)
	assert.Equal(t, audio, resp.Body)
	assert.Equal(t, "audio/wav", resp.Header.Get("Content-Type"))

	assert.Equal(t, "Bearer zk-1", gotAuth)
	assert.Equal(t, "cogtts", gjson.GetBytes(gotBody, "model").String())
	assert.Equal(t, "say hi", gjson.GetBytes(gotBody, "input").String())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	saved, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	assert.Equal(t, audio, saved)
	assert.Equal(t, ".wav", filepath.Ext(entries[0].Name()))
}

func TestGenerateImagePassesThrough(t *testing.T) {
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"created":1,"data":[{"url":"https://img.example/fox.png"}]}`))
	}))
	defer srv.Close()

	p := NewImage(&config.FileConfig{})
	p.base = srv.URL

	call := speechCall(`{"prompt":"a red fox"}`)
	resp, err := p.Execute(context.Background(), call)
	require.NoError(t, err)
	assert.Equal(t, "https://img.example/fox.png", gjson.GetBytes(resp.Body, "data.0.url").String())
	assert.Equal(t, "cogview-3-flash", gjson.GetBytes(gotBody, "model").String())
}

func TestOpenStreamRejected(t *testing.T) {
	p := NewImage(&config.FileConfig{})
	_, err := p.OpenStream(context.Background(), speechCall(`{}`))

	var aerr *apierr.APIError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, http.StatusBadRequest, aerr.HTTPStatus)
	assert.Contains(t, aerr.Message, "streaming")
}

func TestSpeechStatusErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"quota"}}`))
	}))
	defer srv.Close()

	p := NewTTS(&config.FileConfig{ZaiArtifactDir: t.TempDir(), ZaiArtifactRetention: 10})
	p.base = srv.URL

	_, err := p.Execute(context.Background(), speechCall(`{"input":"hi"}`))
	var serr *upstream.StatusError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, http.StatusTooManyRequests, serr.Status)
	assert.Equal(t, "zai-tts", serr.Provider)
}

func TestNewTTSPrunesOnStartup(t *testing.T) {
	dir := t.TempDir()
	base := time.Now().Add(-time.Hour)
	for i := 0; i < 12; i++ {
		path := filepath.Join(dir, "old"+string(rune('a'+i))+".wav")
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
		mod := base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, os.Chtimes(path, mod, mod))
	}

	NewTTS(&config.FileConfig{ZaiArtifactDir: dir, ZaiArtifactRetention: 10})

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 10)
}

func TestZaiTagsAndModels(t *testing.T) {
	tts := NewTTS(&config.FileConfig{ZaiArtifactDir: t.TempDir()})
	img := NewImage(&config.FileConfig{})

	assert.Equal(t, "zai-tts", tts.Tag())
	assert.Equal(t, "zai-image", img.Tag())

	infos, err := tts.ListModels(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "cogtts", infos[0].ID)

	infos, err = img.ListModels(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, infos, 2)
}
