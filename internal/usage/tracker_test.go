package usage

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omni2api-go/internal/translator"
)

// chunkReader hands out the stream in fixed-size pieces so line carry
// across Read calls gets exercised.
type chunkReader struct {
	data []byte
	size int
}

func (c *chunkReader) Read(p []byte) (int, error) {
	if len(c.data) == 0 {
		return 0, io.EOF
	}
	n := c.size
	if n > len(c.data) {
		n = len(c.data)
	}
	if n > len(p) {
		n = len(p)
	}
	n = copy(p, c.data[:n])
	c.data = c.data[n:]
	return n, nil
}

func (c *chunkReader) Close() error { return nil }

func drain(t *testing.T, tr *StreamTracker) string {
	t.Helper()
	out, err := io.ReadAll(tr)
	require.NoError(t, err)
	return string(out)
}

func TestStreamTrackerOpenAIUsage(t *testing.T) {
	stream := "data: {\"choices\":[{\"delta\":{\"content\":\"hi\"}}]}\n\n" +
		"data: {\"usage\":{\"prompt_tokens\":10,\"completion_tokens\":5}}\n\n" +
		"data: [DONE]\n\n"

	tr := NewStreamTracker(translator.FormatOpenAI, io.NopCloser(strings.NewReader(stream)))
	passed := drain(t, tr)
	assert.Equal(t, stream, passed)

	res := tr.Result()
	assert.True(t, res.Success)
	assert.EqualValues(t, 10, res.Usage.InputTokens)
	assert.EqualValues(t, 5, res.Usage.OutputTokens)
	assert.EqualValues(t, 15, res.Usage.TotalTokens)
}

func TestStreamTrackerSurvivesArbitrarySplits(t *testing.T) {
	stream := "data: {\"usage\":{\"prompt_tokens\":7,\"completion_tokens\":3,\"total_tokens\":10}}\n\ndata: [DONE]\n\n"
	for _, size := range []int{1, 3, 17} {
		tr := NewStreamTracker(translator.FormatOpenAI, &chunkReader{data: []byte(stream), size: size})
		drain(t, tr)
		res := tr.Result()
		assert.EqualValues(t, 10, res.Usage.TotalTokens, "chunk size %d", size)
	}
}

func TestStreamTrackerFlushesFinalLineWithoutNewline(t *testing.T) {
	stream := "data: {\"usage\":{\"prompt_tokens\":2,\"completion_tokens\":1}}"
	tr := NewStreamTracker(translator.FormatOpenAI, io.NopCloser(strings.NewReader(stream)))
	drain(t, tr)

	res := tr.Result()
	assert.EqualValues(t, 3, res.Usage.TotalTokens)
}

func TestStreamTrackerInlineOpenAIError(t *testing.T) {
	stream := "data: {\"error\":{\"message\":\"boom\",\"code\":500}}\n\n" +
		"data: {\"error\":{\"message\":\"echo\",\"code\":502}}\n\n"

	tr := NewStreamTracker(translator.FormatOpenAI, io.NopCloser(strings.NewReader(stream)))
	drain(t, tr)

	res := tr.Result()
	assert.False(t, res.Success)
	assert.Equal(t, "boom", res.Error)
	assert.Equal(t, 500, res.StatusCode)
}

func TestStreamTrackerResponsesErrors(t *testing.T) {
	tr := NewStreamTracker(translator.FormatOpenAIResponses,
		io.NopCloser(strings.NewReader("data: {\"type\":\"response.failed\",\"response\":{\"error\":{\"message\":\"quota\"}}}\n\n")))
	drain(t, tr)
	res := tr.Result()
	assert.False(t, res.Success)
	assert.Equal(t, "quota", res.Error)

	tr = NewStreamTracker(translator.FormatOpenAIResponses,
		io.NopCloser(strings.NewReader("data: {\"type\":\"error\",\"message\":\"oops\",\"code\":429}\n\n")))
	drain(t, tr)
	res = tr.Result()
	assert.False(t, res.Success)
	assert.Equal(t, "oops", res.Error)
	assert.Equal(t, 429, res.StatusCode)

	// 正常完成事件不会误判
	tr = NewStreamTracker(translator.FormatOpenAIResponses,
		io.NopCloser(strings.NewReader("data: {\"type\":\"response.completed\",\"response\":{\"usage\":{\"input_tokens\":3,\"output_tokens\":1,\"total_tokens\":4}}}\n\n")))
	drain(t, tr)
	res = tr.Result()
	assert.True(t, res.Success)
	assert.EqualValues(t, 4, res.Usage.TotalTokens)
}

func TestStreamTrackerAnthropic(t *testing.T) {
	stream := "event: message_start\n" +
		"data: {\"type\":\"message_start\",\"message\":{\"usage\":{\"input_tokens\":25,\"output_tokens\":1}}}\n\n" +
		"event: message_delta\n" +
		"data: {\"type\":\"message_delta\",\"usage\":{\"output_tokens\":50}}\n\n"

	tr := NewStreamTracker(translator.FormatAnthropic, io.NopCloser(strings.NewReader(stream)))
	drain(t, tr)

	res := tr.Result()
	assert.True(t, res.Success)
	assert.EqualValues(t, 25, res.Usage.InputTokens)
	assert.EqualValues(t, 50, res.Usage.OutputTokens)

	tr = NewStreamTracker(translator.FormatAnthropic,
		io.NopCloser(strings.NewReader("data: {\"type\":\"error\",\"error\":{\"type\":\"overloaded_error\",\"message\":\"busy\"}}\n\n")))
	drain(t, tr)
	res = tr.Result()
	assert.False(t, res.Success)
	assert.Equal(t, "busy", res.Error)
}

func TestStreamTrackerGemini(t *testing.T) {
	stream := "data: {\"candidates\":[],\"usageMetadata\":{\"promptTokenCount\":8,\"candidatesTokenCount\":2,\"totalTokenCount\":10}}\n\n"
	tr := NewStreamTracker(translator.FormatGemini, io.NopCloser(strings.NewReader(stream)))
	drain(t, tr)

	res := tr.Result()
	assert.True(t, res.Success)
	assert.EqualValues(t, 8, res.Usage.InputTokens)
	assert.EqualValues(t, 10, res.Usage.TotalTokens)
}

func TestStreamTrackerClampsCachedToInput(t *testing.T) {
	stream := "data: {\"usage\":{\"prompt_tokens\":5,\"completion_tokens\":1,\"prompt_tokens_details\":{\"cached_tokens\":10}}}\n\n"
	tr := NewStreamTracker(translator.FormatOpenAI, io.NopCloser(strings.NewReader(stream)))
	drain(t, tr)

	res := tr.Result()
	assert.EqualValues(t, 5, res.Usage.CachedTokens)
}

func TestObserveResponse(t *testing.T) {
	res := ObserveResponse(translator.FormatOpenAI,
		[]byte(`{"id":"c1","usage":{"prompt_tokens":3,"completion_tokens":1,"total_tokens":4}}`))
	assert.True(t, res.Success)
	assert.EqualValues(t, 4, res.Usage.TotalTokens)

	res = ObserveResponse(translator.FormatOpenAI, []byte(`{"error":{"message":"nope","code":400}}`))
	assert.False(t, res.Success)
	assert.Equal(t, "nope", res.Error)
	assert.Equal(t, 400, res.StatusCode)

	res = ObserveResponse(translator.FormatOpenAI, nil)
	assert.True(t, res.Success)
	assert.True(t, res.Usage.IsZero())
}
