// Package discovery maintains the per-provider model catalog behind
// GET /v1/models. Live listings cache for a day; fallback listings served
// while an upstream is unreachable expire quickly so recovery shows up.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"omni2api-go/internal/monitoring"
	"omni2api-go/internal/upstream"
)

const (
	catalogTTL      = 24 * time.Hour
	fallbackTTL     = 5 * time.Minute
	listTimeout     = 20 * time.Second
	warmConcurrency = 4
)

// CallFactory builds the call a provider listing runs under, usually by
// borrowing any usable account from the pool. Returning an error means no
// account can serve the tag right now; the provider then lists with a nil
// call, which static catalogs accept.
type CallFactory func(ctx context.Context, tag string) (*upstream.Call, error)

type entry struct {
	infos    []upstream.ModelInfo
	expires  time.Time
	fallback bool
}

type Catalog struct {
	reg   *upstream.Registry
	calls CallFactory
	now   func() time.Time

	mu    sync.RWMutex
	cache map[string]entry
}

func NewCatalog(reg *upstream.Registry, calls CallFactory) *Catalog {
	return &Catalog{
		reg:   reg,
		calls: calls,
		now:   time.Now,
		cache: make(map[string]entry),
	}
}

// Models returns the catalog for one provider tag, refreshing when stale.
func (c *Catalog) Models(ctx context.Context, tag string) ([]upstream.ModelInfo, error) {
	if infos, ok := c.cached(tag); ok {
		return infos, nil
	}
	return c.refresh(ctx, tag)
}

// Warm lists every registered provider concurrently at startup. Failures
// are logged per provider and never abort the others.
func (c *Catalog) Warm(ctx context.Context) {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(warmConcurrency)
	for _, tag := range c.reg.Tags() {
		tag := tag
		g.Go(func() error {
			if _, err := c.Models(ctx, tag); err != nil {
				log.WithError(err).WithField("provider", tag).Warn("model catalog warm-up failed")
			}
			return nil
		})
	}
	_ = g.Wait()
}

// Invalidate drops one provider's entry so the next listing goes live.
func (c *Catalog) Invalidate(tag string) {
	c.mu.Lock()
	delete(c.cache, tag)
	c.mu.Unlock()
}

func (c *Catalog) cached(tag string) ([]upstream.ModelInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.cache[tag]
	if !ok || c.now().After(e.expires) {
		return nil, false
	}
	return cloneInfos(e.infos), true
}

// stale returns an expired entry; better a day-old catalog than none
// while the upstream is down.
func (c *Catalog) stale(tag string) []upstream.ModelInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if e, ok := c.cache[tag]; ok {
		return cloneInfos(e.infos)
	}
	return nil
}

func (c *Catalog) refresh(ctx context.Context, tag string) ([]upstream.ModelInfo, error) {
	p, ok := c.reg.Get(tag)
	if !ok {
		return nil, fmt.Errorf("discovery: unknown provider %q", tag)
	}

	var call *upstream.Call
	if c.calls != nil {
		var err error
		if call, err = c.calls(ctx, tag); err != nil {
			log.WithError(err).WithField("provider", tag).Debug("catalog listing without account")
			call = nil
		}
	}

	ctx, cancel := context.WithTimeout(ctx, listTimeout)
	defer cancel()

	infos, err := p.ListModels(ctx, call)
	fallback := errors.Is(err, upstream.ErrCatalogFallback)
	if err != nil && !fallback {
		monitoring.ModelCatalogFetchTotal.WithLabelValues(tag, "error").Inc()
		if stale := c.stale(tag); stale != nil {
			log.WithError(err).WithField("provider", tag).Warn("model listing failed, serving stale catalog")
			return stale, nil
		}
		return nil, err
	}

	result, ttl := "success", catalogTTL
	if fallback {
		result, ttl = "fallback", fallbackTTL
	}
	monitoring.ModelCatalogFetchTotal.WithLabelValues(tag, result).Inc()

	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	c.mu.Lock()
	c.cache[tag] = entry{infos: cloneInfos(infos), expires: c.now().Add(ttl), fallback: fallback}
	c.mu.Unlock()

	log.WithFields(log.Fields{
		"provider": tag,
		"models":   len(infos),
		"fallback": fallback,
	}).Debug("model catalog refreshed")
	return infos, nil
}

func cloneInfos(in []upstream.ModelInfo) []upstream.ModelInfo {
	out := make([]upstream.ModelInfo, len(in))
	copy(out, in)
	return out
}
