package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP请求指标
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "omni2api_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status_class"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "omni2api_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"method", "path", "status_class"},
	)

	HTTPInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "omni2api_http_inflight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	// 上游调用指标
	UpstreamRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "omni2api_upstream_requests_total",
			Help: "Total number of upstream API requests",
		},
		[]string{"provider", "status_class"},
	)

	UpstreamRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "omni2api_upstream_request_duration_seconds",
			Help:    "Upstream API request latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"provider"},
	)

	UpstreamErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "omni2api_upstream_errors_total",
			Help: "Total number of upstream errors by reason",
		},
		[]string{"provider", "reason"},
	)

	UpstreamRetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "omni2api_upstream_retry_attempts_total",
			Help: "Total number of account retry attempts after a failure",
		},
		[]string{"provider", "outcome"},
	)

	UpstreamModelRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "omni2api_upstream_model_requests_total",
			Help: "Total number of upstream requests by model",
		},
		[]string{"provider", "model", "status_class"},
	)

	// 账号选择与冷却指标
	SelectorPicksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "omni2api_selector_picks_total",
			Help: "Total number of account selections by outcome",
		},
		[]string{"provider", "outcome"}, // outcome: hit/exhausted
	)

	SelectorCooldownEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "omni2api_selector_cooldown_events_total",
			Help: "Total number of cooldown set/extend events",
		},
		[]string{"provider", "kind"},
	)

	SelectorCooldownSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "omni2api_selector_cooldown_size",
			Help: "Current number of cooldown entries",
		},
	)

	SelectorFrozenAccounts = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "omni2api_selector_frozen_accounts",
			Help: "Number of accounts currently frozen by quota window",
		},
		[]string{"provider"},
	)

	// 凭据刷新指标
	TokenRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "omni2api_token_refreshes_total",
			Help: "Total number of credential token refreshes",
		},
		[]string{"provider", "status"}, // status: success/failed/shared
	)

	// 流式传输指标
	SSELinesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "omni2api_sse_lines_total",
			Help: "Total number of SSE lines sent",
		},
		[]string{"path"},
	)

	SSEDisconnectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "omni2api_sse_disconnects_total",
			Help: "Total number of SSE disconnects by reason",
		},
		[]string{"path", "reason"},
	)

	// 用量入账指标
	UsageCommitFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "omni2api_usage_commit_failures_total",
			Help: "Total number of usage rows that failed to commit",
		},
	)

	TokensUsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "omni2api_tokens_used_total",
			Help: "Total number of tokens used",
		},
		[]string{"provider", "model", "type"}, // type: input, output, cached, total
	)

	// 存储层指标
	StorageOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "omni2api_storage_op_duration_seconds",
			Help:    "Storage operation latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1},
		},
		[]string{"operation", "outcome"}, // outcome: ok/not_found/error
	)

	StoragePoolInUse = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "omni2api_storage_pool_in_use",
			Help: "Database connections currently in use",
		},
	)

	StoragePoolIdle = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "omni2api_storage_pool_idle",
			Help: "Idle database connections in the pool",
		},
	)

	// 模型目录指标
	ModelCatalogFetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "omni2api_model_catalog_fetch_total",
			Help: "Total number of model catalog refresh attempts",
		},
		[]string{"provider", "result"}, // result: success/fallback/error
	)

	RateLimitKeysGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "omni2api_ratelimit_keys",
			Help: "Current number of per-key rate limiters",
		},
	)

	RateLimitSweepsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "omni2api_ratelimit_sweeps_total",
			Help: "Total number of rate limiter TTL cache sweeps",
		},
	)
)

// StatusClass buckets an HTTP status for low-cardinality labels.
func StatusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
