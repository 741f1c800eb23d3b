package translator

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// Registry manages translation functions between different API formats.
type Registry struct {
	mu        sync.RWMutex
	requests  map[Format]map[Format]RequestTransform
	responses map[Format]map[Format]ResponseTransform
	streams   map[Format]map[Format]StreamTransform
}

// NewRegistry constructs an empty translator registry.
func NewRegistry() *Registry {
	return &Registry{
		requests:  make(map[Format]map[Format]RequestTransform),
		responses: make(map[Format]map[Format]ResponseTransform),
		streams:   make(map[Format]map[Format]StreamTransform),
	}
}

var defaultRegistry = NewRegistry()

// Default returns the default global registry.
func Default() *Registry {
	return defaultRegistry
}

// Register stores request/response transforms between two formats.
func (r *Registry) Register(from, to Format, cfg TranslatorConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.requests[from]; !ok {
		r.requests[from] = make(map[Format]RequestTransform)
	}
	if cfg.RequestTransform != nil {
		r.requests[from][to] = cfg.RequestTransform
	}

	if _, ok := r.responses[from]; !ok {
		r.responses[from] = make(map[Format]ResponseTransform)
	}
	if cfg.ResponseTransform != nil {
		r.responses[from][to] = cfg.ResponseTransform
	}

	if _, ok := r.streams[from]; !ok {
		r.streams[from] = make(map[Format]StreamTransform)
	}
	if cfg.StreamTransform != nil {
		r.streams[from][to] = cfg.StreamTransform
	}
}

// hubFormat is the pivot for format pairs without a direct translator.
// Every format registers translators to and from it, so any pair can be
// served by two hops.
const hubFormat = FormatOpenAI

func (r *Registry) lookupRequest(from, to Format) RequestTransform {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if byTarget, ok := r.requests[from]; ok {
		return byTarget[to]
	}
	return nil
}

func (r *Registry) lookupResponse(from, to Format) ResponseTransform {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if byTarget, ok := r.responses[from]; ok {
		return byTarget[to]
	}
	return nil
}

func (r *Registry) lookupStream(from, to Format) StreamTransform {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if byTarget, ok := r.streams[from]; ok {
		return byTarget[to]
	}
	return nil
}

// TranslateRequest converts a request payload between formats, pivoting
// through the hub when no direct translator is registered. Returns the
// original payload when neither path exists.
func (r *Registry) TranslateRequest(from, to Format, model string, rawJSON []byte, stream bool) ([]byte, error) {
	if from == to {
		return rawJSON, nil
	}
	if fn := r.lookupRequest(from, to); fn != nil {
		return fn(model, rawJSON, stream)
	}
	first := r.lookupRequest(from, hubFormat)
	second := r.lookupRequest(hubFormat, to)
	if first != nil && second != nil {
		mid, err := first(model, rawJSON, stream)
		if err != nil {
			return nil, err
		}
		return second(model, mid, stream)
	}
	return rawJSON, nil
}

// TranslateResponse converts a non-streaming response between formats.
func (r *Registry) TranslateResponse(ctx context.Context, from, to Format, model string, responseBody []byte) ([]byte, error) {
	if from == to {
		return responseBody, nil
	}
	if fn := r.lookupResponse(from, to); fn != nil {
		return fn(ctx, model, responseBody)
	}
	first := r.lookupResponse(from, hubFormat)
	second := r.lookupResponse(hubFormat, to)
	if first != nil && second != nil {
		mid, err := first(ctx, model, responseBody)
		if err != nil {
			return nil, err
		}
		return second(ctx, model, mid)
	}
	return responseBody, nil
}

// TranslateStream converts a streaming response between formats.
func (r *Registry) TranslateStream(ctx context.Context, from, to Format, model string, reader io.Reader) (io.Reader, error) {
	if from == to {
		return reader, nil
	}
	if fn := r.lookupStream(from, to); fn != nil {
		return fn(ctx, model, reader)
	}
	first := r.lookupStream(from, hubFormat)
	second := r.lookupStream(hubFormat, to)
	if first != nil && second != nil {
		mid, err := first(ctx, model, reader)
		if err != nil {
			return nil, err
		}
		return second(ctx, model, mid)
	}
	return reader, nil
}

// HasResponseTransformer checks if a response translator exists, directly or
// through the hub.
func (r *Registry) HasResponseTransformer(from, to Format) bool {
	if from == to || r.lookupResponse(from, to) != nil {
		return true
	}
	return r.lookupResponse(from, hubFormat) != nil && r.lookupResponse(hubFormat, to) != nil
}

// HasStreamTransformer checks if a stream translator exists, directly or
// through the hub.
func (r *Registry) HasStreamTransformer(from, to Format) bool {
	if from == to || r.lookupStream(from, to) != nil {
		return true
	}
	return r.lookupStream(from, hubFormat) != nil && r.lookupStream(hubFormat, to) != nil
}

// Register is a convenience function for registering with the default registry.
func Register(from, to Format, cfg TranslatorConfig) {
	defaultRegistry.Register(from, to, cfg)
}

// TranslateRequest uses the default registry.
func TranslateRequest(from, to Format, model string, rawJSON []byte, stream bool) ([]byte, error) {
	return defaultRegistry.TranslateRequest(from, to, model, rawJSON, stream)
}

// TranslateResponse uses the default registry.
func TranslateResponse(ctx context.Context, from, to Format, model string, responseBody []byte) ([]byte, error) {
	return defaultRegistry.TranslateResponse(ctx, from, to, model, responseBody)
}

// TranslateStream uses the default registry.
func TranslateStream(ctx context.Context, from, to Format, model string, reader io.Reader) (io.Reader, error) {
	return defaultRegistry.TranslateStream(ctx, from, to, model, reader)
}

// FromString converts a string to Format.
func FromString(s string) Format {
	switch s {
	case "openai":
		return FormatOpenAI
	case "openai-responses", "responses":
		return FormatOpenAIResponses
	case "anthropic", "claude":
		return FormatAnthropic
	case "gemini":
		return FormatGemini
	default:
		return FormatGeneric
	}
}

// String returns the string representation of a Format.
func (f Format) String() string {
	return string(f)
}

// ErrNoTranslator is returned when no translator is found.
type ErrNoTranslator struct {
	From Format
	To   Format
}

func (e *ErrNoTranslator) Error() string {
	return fmt.Sprintf("no translator found from %s to %s", e.From, e.To)
}
