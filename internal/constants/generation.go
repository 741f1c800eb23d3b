package constants

const (
	// DefaultTopK 是生成请求的默认 topK。
	DefaultTopK = 64
	// MaxTopK 是允许的最大 topK。
	MaxTopK = 64
	// MaxOutputTokens 是生成响应允许的最大输出 token 数。
	MaxOutputTokens = 65535
)
