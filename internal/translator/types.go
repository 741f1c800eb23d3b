// Package translator converts requests and responses between the four wire
// formats the gateway speaks: OpenAI Chat Completions, OpenAI Responses,
// Anthropic Messages and Gemini v1beta.
//
// Direct transforms cover the high-traffic pairs; every remaining pair is
// registered as a composition through the Chat Completions form, which acts
// as the hub. The hub carries reasoning as `reasoning_content` (with
// `reasoning_signature` preserving Anthropic thinking signatures) so
// thinking blocks survive any two-hop path.
package translator

import (
	"context"
	"fmt"
	"io"
)

// Format represents an API wire format.
type Format string

const (
	FormatOpenAI          Format = "openai"
	FormatOpenAIResponses Format = "openai-responses"
	FormatAnthropic       Format = "anthropic"
	FormatGemini          Format = "gemini"
	FormatGeneric         Format = "generic"
)

// RequestTransform converts a request from one format to another.
// Returns the transformed request body as bytes. A request that cannot be
// represented in the target format fails with UnsupportedFieldError.
type RequestTransform func(model string, rawJSON []byte, stream bool) ([]byte, error)

// UnsupportedFieldError names a request field the target format cannot
// carry. The HTTP layer maps it to a 400.
type UnsupportedFieldError struct {
	Field  string
	Target Format
}

func (e *UnsupportedFieldError) Error() string {
	return fmt.Sprintf("field %q cannot be represented in %s format", e.Field, e.Target)
}

// ResponseTransform converts a non-streaming response from one format to
// another. The input may also be a complete SSE transcript when the upstream
// only streams; transforms detect that and aggregate first.
type ResponseTransform func(ctx context.Context, model string, responseBody []byte) ([]byte, error)

// StreamTransform converts streaming response chunks from one format to another.
// It reads from the input reader and returns a new reader with transformed chunks.
type StreamTransform func(ctx context.Context, model string, reader io.Reader) (io.Reader, error)

// TranslatorConfig holds configuration for request/response translation
type TranslatorConfig struct {
	RequestTransform  RequestTransform
	ResponseTransform ResponseTransform
	StreamTransform   StreamTransform
}
