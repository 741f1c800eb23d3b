package apierr

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestToJSONOpenAI(t *testing.T) {
	e := New(http.StatusTooManyRequests, "rate_limit_exceeded", "rate_limit_error", "slow down")
	payload, err := e.ToJSON(FormatOpenAI)
	require.NoError(t, err)

	var decoded OpenAIError
	require.NoError(t, json.Unmarshal(payload, &decoded))
	require.Equal(t, "slow down", decoded.Error.Message)
	require.Equal(t, "rate_limit_error", decoded.Error.Type)
	require.Equal(t, "rate_limit_exceeded", decoded.Error.Code)
}

func TestToJSONAnthropic(t *testing.T) {
	cases := []struct {
		status int
		want   string
	}{
		{http.StatusBadRequest, "invalid_request_error"},
		{http.StatusUnauthorized, "authentication_error"},
		{http.StatusForbidden, "permission_error"},
		{http.StatusNotFound, "not_found_error"},
		{http.StatusTooManyRequests, "rate_limit_error"},
		{529, "overloaded_error"},
		{http.StatusInternalServerError, "api_error"},
		{http.StatusBadGateway, "api_error"},
	}
	for _, tc := range cases {
		e := New(tc.status, "x", "x", "boom")
		payload, err := e.ToJSON(FormatAnthropic)
		require.NoError(t, err)

		var decoded AnthropicError
		require.NoError(t, json.Unmarshal(payload, &decoded))
		require.Equal(t, "error", decoded.Type)
		require.Equal(t, tc.want, decoded.Error.Type, "status %d", tc.status)
		require.Equal(t, "boom", decoded.Error.Message)
	}
}

func TestToJSONGemini(t *testing.T) {
	e := New(http.StatusTooManyRequests, "rate_limit", "rate_limit", "quota hit")
	payload, err := e.ToJSON(FormatGemini)
	require.NoError(t, err)

	var decoded GeminiError
	require.NoError(t, json.Unmarshal(payload, &decoded))
	require.Equal(t, http.StatusTooManyRequests, decoded.Error.Code)
	require.Equal(t, "RESOURCE_EXHAUSTED", decoded.Error.Status)
	require.Equal(t, "quota hit", decoded.Error.Message)
}

func TestWithUpstreamDecodesJSON(t *testing.T) {
	e := New(http.StatusBadGateway, "upstream_error", "upstream_error", "bad gateway")
	e.WithUpstream([]byte(`{"error":{"message":"origin down"}}`))
	require.Contains(t, e.Details, "upstream")

	e2 := New(http.StatusBadGateway, "upstream_error", "upstream_error", "bad gateway")
	e2.WithUpstream([]byte("<html>bad</html>"))
	require.Equal(t, "<html>bad</html>", e2.Details["upstream_raw"])
}

func TestDetectFromPath(t *testing.T) {
	cases := map[string]ErrorFormat{
		"/v1/chat/completions":                        FormatOpenAI,
		"/v1/responses":                               FormatOpenAI,
		"/v1/messages":                                FormatAnthropic,
		"/v1/messages/count_tokens":                   FormatAnthropic,
		"/v1beta/models/gemini-2.5-pro:generateContent":       FormatGemini,
		"/v1beta/models/gemini-2.5-pro:streamGenerateContent": FormatGemini,
		"/unknown": FormatOpenAI,
	}
	for path, want := range cases {
		require.Equal(t, want, DetectFromPath(path), "path %s", path)
	}
}

func TestIsRetryable(t *testing.T) {
	require.True(t, New(http.StatusTooManyRequests, "", "", "").IsRetryable())
	require.True(t, New(http.StatusServiceUnavailable, "", "", "").IsRetryable())
	require.True(t, New(0, "timeout", "", "").IsRetryable())
	require.False(t, New(http.StatusBadRequest, "", "", "").IsRetryable())
}
