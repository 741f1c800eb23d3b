package cloudcode

import (
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestWrapRequest(t *testing.T) {
	body := []byte(`{"contents":[{"role":"user","parts":[{"text":"hi"}]}]}`)
	out, err := WrapRequest("gemini-2.5-pro", "proj-1", body)
	require.NoError(t, err)

	assert.Equal(t, "gemini-2.5-pro", gjson.GetBytes(out, "model").String())
	assert.Equal(t, "proj-1", gjson.GetBytes(out, "project").String())
	assert.Equal(t, "hi", gjson.GetBytes(out, "request.contents.0.parts.0.text").String())
}

func TestWrapRequestOmitsEmptyProject(t *testing.T) {
	out, err := WrapRequest("gemini-2.5-flash", "", []byte(`{}`))
	require.NoError(t, err)
	assert.False(t, gjson.GetBytes(out, "project").Exists())
}

func TestWrapRequestRejectsInvalidJSON(t *testing.T) {
	_, err := WrapRequest("gemini-2.5-pro", "p", []byte(`{"contents":`))
	require.Error(t, err)
}

func TestUnwrapResponse(t *testing.T) {
	wrapped := []byte(`{"response":{"candidates":[{"content":{"parts":[{"text":"ok"}]}}]}}`)
	out := UnwrapResponse(wrapped)
	assert.Equal(t, "ok", gjson.GetBytes(out, "candidates.0.content.parts.0.text").String())

	// error bodies and bare payloads pass through unchanged
	bare := []byte(`{"candidates":[]}`)
	assert.Equal(t, bare, UnwrapResponse(bare))
	errBody := []byte(`{"error":{"code":429,"status":"RESOURCE_EXHAUSTED"}}`)
	assert.Equal(t, errBody, UnwrapResponse(errBody))
}

func TestGenerateURL(t *testing.T) {
	assert.Equal(t,
		"https://cloudcode-pa.googleapis.com/v1internal:generateContent",
		GenerateURL("https://cloudcode-pa.googleapis.com", false))
	assert.Equal(t,
		"https://cloudcode-pa.googleapis.com/v1internal:streamGenerateContent?alt=sse",
		GenerateURL("https://cloudcode-pa.googleapis.com", true))
	assert.Equal(t,
		"https://cloudcode-pa.googleapis.com/v1internal:loadCodeAssist",
		ActionURL("https://cloudcode-pa.googleapis.com", "loadCodeAssist"))
}

func TestUnwrapStream(t *testing.T) {
	in := strings.Join([]string{
		`data: {"response":{"candidates":[{"content":{"parts":[{"text":"a"}]}}]}}`,
		``,
		`data: {"response":{"candidates":[{"content":{"parts":[{"text":"b"}]}}],"usageMetadata":{"totalTokenCount":3}}}`,
		``,
	}, "\n") + "\n"

	out, err := io.ReadAll(UnwrapStream(strings.NewReader(in)))
	require.NoError(t, err)

	lines := strings.Split(strings.TrimRight(string(out), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "a", gjson.Get(strings.TrimPrefix(lines[0], "data: "), "candidates.0.content.parts.0.text").String())
	assert.Empty(t, lines[1])
	assert.Equal(t, int64(3), gjson.Get(strings.TrimPrefix(lines[2], "data: "), "usageMetadata.totalTokenCount").Int())
}

func TestUnwrapStreamChunkedReads(t *testing.T) {
	in := "data: {\"response\":{\"candidates\":[]}}\n\n"
	out, err := io.ReadAll(iotest.OneByteReader(UnwrapStream(iotest.OneByteReader(strings.NewReader(in)))))
	require.NoError(t, err)
	assert.Equal(t, "data: {\"candidates\":[]}\n\n", string(out))
}

func TestUnwrapStreamPassthrough(t *testing.T) {
	in := strings.Join([]string{
		`event: ping`,
		`data: {"candidates":[{"index":0}]}`,
		`data: [DONE]`,
		`: keepalive comment`,
	}, "\n") + "\n"

	out, err := io.ReadAll(UnwrapStream(strings.NewReader(in)))
	require.NoError(t, err)
	assert.Equal(t, in, string(out))
}
