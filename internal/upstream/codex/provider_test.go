package codex

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"omni2api-go/internal/config"
	"omni2api-go/internal/models"
	"omni2api-go/internal/upstream"
)

const completedSSE = "data: {\"type\":\"response.created\",\"response\":{\"id\":\"resp_1\"}}\n\n" +
	"data: {\"type\":\"response.output_item.done\",\"item\":{\"type\":\"message\",\"content\":[{\"type\":\"output_text\",\"text\":\"hi\"}]}}\n\n" +
	"data: {\"type\":\"response.completed\",\"response\":{\"id\":\"resp_1\",\"status\":\"completed\",\"usage\":{\"input_tokens\":3,\"output_tokens\":2}}}\n\n" +
	"data: [DONE]\n\n"

func testProvider(cfg *config.FileConfig, endpoint string) *Provider {
	p := New(cfg)
	p.endpoint = endpoint
	return p
}

func testCall(stream bool) *upstream.Call {
	return &upstream.Call{
		Account:    &models.Account{ID: 3, Provider: "codex"},
		Credential: &models.Credential{AccessToken: "at-codex", AccountID: "acct-77"},
		Model:      "gpt-5-codex",
		Payload:    []byte(`{"model":"gpt-5","input":[{"role":"user","content":"hi"}],"temperature":0.7,"max_output_tokens":256}`),
		Stream:     stream,
	}
}

func TestNormalizeRequest(t *testing.T) {
	out := NormalizeRequest([]byte(`{"model":"gpt-5","input":[],"temperature":0.2,"top_p":0.9,"max_output_tokens":100}`), "gpt-5-codex")

	assert.Equal(t, "gpt-5-codex", gjson.GetBytes(out, "model").String())
	assert.True(t, gjson.GetBytes(out, "stream").Bool())
	assert.False(t, gjson.GetBytes(out, "store").Bool())
	assert.True(t, gjson.GetBytes(out, "parallel_tool_calls").Bool())
	assert.Equal(t, "reasoning.encrypted_content", gjson.GetBytes(out, "include.0").String())
	assert.Equal(t, "", gjson.GetBytes(out, "instructions").String())
	assert.True(t, gjson.GetBytes(out, "instructions").Exists())
	for _, knob := range []string{"temperature", "top_p", "max_output_tokens"} {
		assert.False(t, gjson.GetBytes(out, knob).Exists(), knob)
	}
}

func TestNormalizeKeepsInstructions(t *testing.T) {
	out := NormalizeRequest([]byte(`{"model":"gpt-5","instructions":"be terse"}`), "")
	assert.Equal(t, "be terse", gjson.GetBytes(out, "instructions").String())
	assert.Equal(t, "gpt-5", gjson.GetBytes(out, "model").String())
}

func TestOpenStreamSendsCLIFingerprint(t *testing.T) {
	var gotHeader http.Header
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Clone()
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, completedSSE)
	}))
	defer srv.Close()

	p := testProvider(&config.FileConfig{}, srv.URL)
	strm, err := p.OpenStream(context.Background(), testCall(true))
	require.NoError(t, err)
	defer strm.Body.Close()

	assert.Equal(t, "Bearer at-codex", gotHeader.Get("Authorization"))
	assert.Equal(t, "acct-77", gotHeader.Get("Chatgpt-Account-Id"))
	assert.Equal(t, "responses=experimental", gotHeader.Get("Openai-Beta"))
	assert.Equal(t, "codex_cli_rs", gotHeader.Get("Originator"))
	assert.True(t, strings.HasPrefix(gotHeader.Get("User-Agent"), "codex_cli_rs/"))
	_, err = uuid.Parse(gotHeader.Get("Session_id"))
	assert.NoError(t, err, "session_id should be a uuid")

	assert.True(t, gjson.GetBytes(gotBody, "stream").Bool())
	assert.Equal(t, "gpt-5-codex", gjson.GetBytes(gotBody, "model").String())
	assert.False(t, gjson.GetBytes(gotBody, "temperature").Exists())
}

func TestExecuteAggregatesStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, completedSSE)
	}))
	defer srv.Close()

	p := testProvider(&config.FileConfig{}, srv.URL)
	resp, err := p.Execute(context.Background(), testCall(false))
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Equal(t, "resp_1", gjson.GetBytes(resp.Body, "id").String())
	assert.Equal(t, "completed", gjson.GetBytes(resp.Body, "status").String())
	assert.EqualValues(t, 3, gjson.GetBytes(resp.Body, "usage.input_tokens").Int())
}

func TestExecuteSurfacesStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"detail":"token expired"}`)
	}))
	defer srv.Close()

	p := testProvider(&config.FileConfig{}, srv.URL)
	_, err := p.Execute(context.Background(), testCall(false))
	var serr *upstream.StatusError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, http.StatusUnauthorized, serr.Status)
	assert.Contains(t, string(serr.Body), "token expired")
}

func TestClassifyUsageLimitReset(t *testing.T) {
	p := New(&config.FileConfig{})
	v := p.ClassifyFailure(http.StatusTooManyRequests,
		[]byte(`{"error":{"type":"usage_limit_reached","resets_in_seconds":3600}}`), http.Header{})
	assert.Equal(t, models.FailureRateLimit, v.Kind)
	assert.Equal(t, time.Hour, v.RetryAfter)
}

func TestClassifyHeaderBeatsBodyReset(t *testing.T) {
	hdr := http.Header{}
	hdr.Set("Retry-After", "30")
	p := New(&config.FileConfig{})
	v := p.ClassifyFailure(http.StatusTooManyRequests,
		[]byte(`{"error":{"resets_in_seconds":3600}}`), hdr)
	assert.Equal(t, 30*time.Second, v.RetryAfter)
}

func TestFallbackDisabledWithoutConfig(t *testing.T) {
	assert.False(t, New(&config.FileConfig{}).FallbackEnabled())
	assert.False(t, New(&config.FileConfig{CodexFallbackBaseURL: "https://relay.example"}).FallbackEnabled())
	assert.True(t, New(&config.FileConfig{
		CodexFallbackBaseURL: "https://relay.example",
		CodexFallbackAPIKey:  "sk-relay",
	}).FallbackEnabled())
}

func TestExecuteFallbackPostsRelay(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, completedSSE)
	}))
	defer srv.Close()

	p := New(&config.FileConfig{
		CodexFallbackBaseURL: srv.URL + "/",
		CodexFallbackAPIKey:  "sk-relay",
	})

	resp, strm, err := p.ExecuteFallback(context.Background(), "gpt-5", []byte(`{"input":[]}`), false)
	require.NoError(t, err)
	require.Nil(t, strm)
	assert.Equal(t, "/responses", gotPath)
	assert.Equal(t, "Bearer sk-relay", gotAuth)
	assert.True(t, gjson.GetBytes(gotBody, "stream").Bool())
	assert.Equal(t, "resp_1", gjson.GetBytes(resp.Body, "id").String())

	resp, strm, err = p.ExecuteFallback(context.Background(), "gpt-5", []byte(`{"input":[]}`), true)
	require.NoError(t, err)
	require.Nil(t, resp)
	require.NotNil(t, strm)
	raw, _ := io.ReadAll(strm.Body)
	strm.Body.Close()
	assert.Contains(t, string(raw), "response.completed")
}

func TestListModelsConfigOverride(t *testing.T) {
	infos, err := New(&config.FileConfig{}).ListModels(context.Background(), nil)
	require.NoError(t, err)
	require.NotEmpty(t, infos)
	assert.Equal(t, "gpt-5", infos[0].ID)
	assert.True(t, infos[0].Reasoning)

	infos, err = New(&config.FileConfig{CodexSupportedModels: []string{"gpt-5-pro", " ", "o4-mini"}}).
		ListModels(context.Background(), nil)
	require.NoError(t, err)
	ids := make([]string, 0, len(infos))
	for _, m := range infos {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []string{"gpt-5-pro", "o4-mini"}, ids)
}
