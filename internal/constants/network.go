package constants

import "time"

// HTTP Client 连接池配置 - 长流式请求偏多，空闲连接放宽
const (
	DefaultMaxIdleConns        = 4096
	DefaultMaxIdleConnsPerHost = 512
	DefaultIdleConnTimeout     = 90 * time.Second

	DefaultWriteBufferSize = 64 * 1024
	DefaultReadBufferSize  = 64 * 1024

	DefaultKeepAlive = 30 * time.Second
)

// HTTP 超时配置
const (
	// DialTimeout bounds TCP connect to the upstream.
	DialTimeout         = 10 * time.Second
	TLSHandshakeTimeout = 10 * time.Second
	// WriteTimeout bounds sending the request body upstream.
	WriteTimeout = 30 * time.Second

	// NonStreamTimeout bounds a whole non-streaming exchange. Streaming
	// requests carry NO read deadline: an SSE stream is allowed to idle as
	// long as the upstream keeps the connection open.
	NonStreamTimeout = 1200 * time.Second

	ExpectContinueTimeout = 2 * time.Second
)

// ServerShutdownTimeout bounds graceful HTTP server shutdown.
const ServerShutdownTimeout = 30 * time.Second
