// Package upstream defines the provider abstraction and the dispatcher
// that drives account rotation around a single client request.
package upstream

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"

	"omni2api-go/internal/models"
	"omni2api-go/internal/translator"
)

// ErrCatalogFallback marks a ListModels result served from the builtin list
// because live discovery failed. The catalog layer caches such results for a
// much shorter TTL so a recovered upstream is picked up quickly.
var ErrCatalogFallback = errors.New("upstream: model catalog served from fallback list")

// Call carries everything one upstream attempt needs. Payload is already
// translated into the provider's native wire format.
type Call struct {
	Account    *models.Account
	Credential *models.Credential
	// Project scopes the attempt for providers that bind requests to a
	// cloud project (gemini-cli, antigravity). Empty otherwise.
	Project string
	Model   string
	Payload []byte
	Stream  bool
}

// Response is a completed non-stream exchange.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Stream is an open streaming exchange. Body yields the provider's native
// event stream; the caller owns closing it.
type Stream struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// ModelInfo is one catalog entry as reported by a provider.
type ModelInfo struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
	// Reasoning marks models that can return thought output.
	Reasoning bool `json:"reasoning,omitempty"`
}

// Provider 定义一个上游提供商的调用面。
type Provider interface {
	// Tag returns the provider identity used as config_type.
	Tag() string
	// Format returns the wire format the provider natively speaks.
	Format() translator.Format
	// ListModels returns the models this account can serve.
	ListModels(ctx context.Context, call *Call) ([]ModelInfo, error)
	// Execute performs a non-stream request.
	Execute(ctx context.Context, call *Call) (*Response, error)
	// OpenStream performs a streaming request. A non-2xx upstream status
	// is returned as an error carrying the drained body.
	OpenStream(ctx context.Context, call *Call) (*Stream, error)
	// ClassifyFailure maps an upstream failure to the routing action.
	ClassifyFailure(status int, body []byte, hdr http.Header) models.FailureVerdict
}

// Fallbacker is the optional relay surface a provider may expose. When the
// account pool is exhausted the dispatcher gives an enabled fallback exactly
// one attempt instead of failing the request.
type Fallbacker interface {
	FallbackEnabled() bool
	ExecuteFallback(ctx context.Context, model string, payload []byte, stream bool) (*Response, *Stream, error)
}

// Registry 维护已注册的 providers。
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider)}
	for _, p := range providers {
		r.Register(p)
	}
	return r
}

// Register adds a provider, first registration wins on tag collisions.
func (r *Registry) Register(p Provider) {
	if p == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	tag := strings.ToLower(p.Tag())
	if _, exists := r.providers[tag]; exists {
		return
	}
	r.providers[tag] = p
}

// Get returns the provider for a config_type tag.
func (r *Registry) Get(tag string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[strings.ToLower(tag)]
	return p, ok
}

// Tags returns the registered provider tags.
func (r *Registry) Tags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.providers))
	for tag := range r.providers {
		out = append(out, tag)
	}
	return out
}
