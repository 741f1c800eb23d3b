// The omni2api gateway process. One port carries the four client
// dialects, the model catalog and the credential onboarding surface.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"omni2api-go/internal/cache"
	"omni2api-go/internal/config"
	"omni2api-go/internal/constants"
	"omni2api-go/internal/discovery"
	"omni2api-go/internal/logging"
	"omni2api-go/internal/monitoring/tracing"
	"omni2api-go/internal/oauth"
	"omni2api-go/internal/secret"
	"omni2api-go/internal/selector"
	srv "omni2api-go/internal/server"
	"omni2api-go/internal/storage"
	"omni2api-go/internal/translator"
	"omni2api-go/internal/upstream"
	"omni2api-go/internal/usage"
)

const defaultRedisURL = "redis://localhost:6379/0"

func main() {
	configPath := flag.String("config", "", "path to config.yaml (empty checks the usual locations)")
	debug := flag.Bool("debug", false, "force debug logging")
	flag.Parse()

	if *debug {
		// 环境变量在每次配置重载时都会再叠加一遍,-debug 因此扛得住热更新。
		os.Setenv("DEBUG_LOG", "1")
	}

	mgr, err := config.NewManager(*configPath)
	if err != nil {
		log.WithError(err).Fatal("configuration load failed")
	}
	defer mgr.Close()

	cfg := mgr.Get()
	if err := cfg.Validate(); err != nil {
		log.WithError(err).Fatal("configuration invalid")
	}

	if err := logging.Setup(cfg); err != nil {
		log.WithError(err).Fatal("logging setup failed")
	}
	translator.ConfigureSanitizer(cfg.SanitizerEnabled, cfg.SanitizerPatterns)
	mgr.OnChange(func(next *config.FileConfig) {
		if err := logging.Setup(next); err != nil {
			log.WithError(err).Warn("logging reconfiguration failed")
		}
		translator.ConfigureSanitizer(next.SanitizerEnabled, next.SanitizerPatterns)
	})

	log.WithField("config", *configPath).Info("starting omni2api gateway")

	traceShutdown, err := tracing.Init(context.Background())
	if err != nil {
		log.WithError(err).Warn("tracing initialization failed")
	}
	if traceShutdown != nil {
		defer func() {
			if err := traceShutdown(context.Background()); err != nil {
				log.WithError(err).Warn("tracing shutdown failed")
			}
		}()
	}

	pg, err := storage.Open(cfg.DatabaseURL)
	if err != nil {
		log.WithError(err).Fatal("database open failed")
	}
	defer pg.Close()
	store := storage.WithInstrumentation(pg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := store.Initialize(ctx); err != nil {
		log.WithError(err).Fatal("database migration failed")
	}
	if err := store.Health(ctx); err != nil {
		log.WithError(err).Fatal("database unreachable")
	}

	redisURL := cfg.RedisURL
	if redisURL == "" {
		redisURL = defaultRedisURL
		log.WithField("redis_url", redisURL).Info("redis_url unset, using local default")
	}
	c, err := cache.New(redisURL, "")
	if err != nil {
		log.WithError(err).Fatal("redis client setup failed")
	}
	defer c.Close()
	if err := c.Ping(ctx); err != nil {
		log.WithError(err).Fatal("redis unreachable")
	}

	cipher, err := secret.NewCipher(cfg.CredentialEncryptionKey)
	if err != nil {
		log.WithError(err).Fatal("credential cipher setup failed")
	}

	// 出口代理同时作用于 OAuth 流程和 token 刷新;上游调用的代理
	// 由各 provider 自己根据配置拿。
	var managerOpts []oauth.ManagerOption
	var refresherOpts []oauth.RefresherOption
	oauthClient, err := oauthHTTPClient(cfg.ProxyURL)
	if err != nil {
		log.WithError(err).Fatal("proxy configuration invalid")
	}
	if oauthClient != nil {
		managerOpts = append(managerOpts, oauth.WithHTTPClient(oauthClient))
		refresherOpts = append(refresherOpts, oauth.WithRefreshHTTPClient(oauthClient))
	}
	managerOpts = append(managerOpts, oauth.WithProjectDiscoverer(oauth.NewGoogleProjectDiscoverer(oauthClient)))

	refresher := oauth.NewRefresher(c, store, cipher, refresherOpts...)
	oauthMgr := oauth.NewManager(c, store, cipher, managerOpts...)

	registry := srv.BuildRegistry(cfg)
	dispatcher := upstream.NewDispatcher(registry, selector.New(c, store), refresher)

	catalog := discovery.NewCatalog(registry, nil)
	go catalog.Warm(ctx)

	engine := srv.BuildEngine(srv.Dependencies{
		Config:     mgr,
		Dispatcher: dispatcher,
		Catalog:    catalog,
		Recorder:   usage.NewRecorder(store),
		OAuth:      oauthMgr,
		Cache:      c,
	})

	httpSrv := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.WithField("addr", httpSrv.Addr).Info("gateway listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			// 端口异常不直接退出,留给关停信号统一收尾。
			log.WithError(err).Error("http server stopped")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutdown signal received")
	cancel()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), constants.ServerShutdownTimeout)
	defer cancelShutdown()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("graceful shutdown incomplete")
	}
	log.Info("gateway stopped")
}

// oauthHTTPClient builds the client token exchanges run on. Returns nil
// when no proxy is configured so the oauth package keeps its default.
func oauthHTTPClient(proxyURL string) (*http.Client, error) {
	if proxyURL == "" {
		return nil, nil
	}
	base, err := upstream.NewClient(proxyURL, false)
	if err != nil {
		return nil, err
	}
	return &http.Client{Transport: base.Transport, Timeout: 30 * time.Second}, nil
}
