// Package server assembles the gin engine: middleware chain, route table
// and the glue between configuration reloads and the auth layer.
package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"omni2api-go/internal/cache"
	"omni2api-go/internal/config"
	"omni2api-go/internal/discovery"
	"omni2api-go/internal/handlers/common"
	"omni2api-go/internal/middleware"
	"omni2api-go/internal/oauth"
	"omni2api-go/internal/upstream"
	"omni2api-go/internal/usage"
)

// Dependencies carries the long-lived services the HTTP layer serves.
type Dependencies struct {
	Config     *config.Manager
	Dispatcher *upstream.Dispatcher
	Catalog    *discovery.Catalog
	Recorder   *usage.Recorder
	OAuth      *oauth.Manager

	// Cache backs the session token blacklist. Nil disables revocation
	// checks, which only matters for session-token deployments.
	Cache *cache.Cache
}

// BuildEngine constructs the single public engine. All four wire formats
// share one port and one auth middleware.
func BuildEngine(deps Dependencies) *gin.Engine {
	cfg := deps.Config.Get()
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	_ = engine.SetTrustedProxies([]string{})

	engine.Use(middleware.Recovery(), middleware.RequestID(), middleware.Metrics())
	engine.Use(middleware.CORS())
	engine.Use(middleware.RequestLogger())
	if cfg.RateLimitEnabled {
		engine.Use(middleware.RateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst))
	}

	root := engine.Group(cfg.BasePath)
	root.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	root.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if cfg.Debug {
		mountDebugRoutes(root)
	}

	keys := middleware.NewStaticKeyResolver(cfg.APIKeys)
	deps.Config.OnChange(func(next *config.FileConfig) { keys.Update(next.APIKeys) })

	auth := &middleware.Auth{
		// 取 Manager 的最新快照,密钥轮换不用重建引擎。
		Secrets:   func() []string { return deps.Config.Get().SessionSecrets() },
		Keys:      keys,
		IsRevoked: revocationCheck(deps.Cache),
	}

	relay := common.NewRelay(deps.Dispatcher, nil, deps.Recorder, cfg.Debug)

	api := root.Group("", auth.Handler())
	mountAPIRoutes(api, relay, deps)
	return engine
}

func revocationCheck(c *cache.Cache) func(*gin.Context, string) (bool, error) {
	if c == nil {
		return nil
	}
	return func(gc *gin.Context, token string) (bool, error) {
		return c.IsTokenBlacklisted(gc.Request.Context(), token)
	}
}
