package logging

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFetchSinceWindows(t *testing.T) {
	h := NewLogHub()
	for i := 0; i < 10; i++ {
		h.Publish("info", "msg", nil)
	}

	// Cursor 0 returns the newest window.
	msgs, next, more := h.FetchSince(0, 4)
	require.Len(t, msgs, 4)
	require.Equal(t, uint64(10), next)
	require.False(t, more)
	require.Equal(t, uint64(7), msgs[0].ID)

	// Cursor in the middle pages forward.
	msgs, next, more = h.FetchSince(3, 4)
	require.Len(t, msgs, 4)
	require.Equal(t, uint64(4), msgs[0].ID)
	require.Equal(t, uint64(7), next)
	require.True(t, more)

	// Cursor at the end yields nothing.
	msgs, next, more = h.FetchSince(10, 4)
	require.Empty(t, msgs)
	require.Equal(t, uint64(10), next)
	require.False(t, more)
}

func TestHistoryRingEviction(t *testing.T) {
	h := NewLogHub()
	h.historyCap = 5
	for i := 0; i < 8; i++ {
		h.Publish("info", "msg", nil)
	}
	msgs, _, _ := h.FetchSince(0, 100)
	require.Len(t, msgs, 5)
	require.Equal(t, uint64(4), msgs[0].ID, "oldest entries evicted")
}

func TestErrorKind(t *testing.T) {
	require.Equal(t, "network_error", ErrorKind(0, true))
	require.Equal(t, "upstream_429", ErrorKind(429, true))
	require.Equal(t, "upstream_401", ErrorKind(401, true))
	require.Equal(t, "upstream_5xx", ErrorKind(503, true))
	require.Equal(t, "upstream_4xx", ErrorKind(404, true))
	require.Equal(t, "ok", ErrorKind(200, false))
}
