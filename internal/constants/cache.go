package constants

import "time"

// 缓存键前缀。统一在这里定义，避免各包各写一份拼错。
const (
	CacheKeyPKCEState        = "pkce_state:"
	CacheKeyDeviceCode       = "device_code:"
	CacheKeyRoundRobin       = "round_robin:"
	CacheKeyModels           = "models_cache:"
	CacheKeyPluginKey        = "plugin_key:"
	CacheKeyLastUsedThrottle = "last_used_throttle:"
	CacheKeyRefreshLock      = "refresh_lock:"
)

// 缓存 TTL
const (
	// PKCEStateTTL bounds how long an authorize/callback pair may take.
	PKCEStateTTL = 10 * time.Minute
	// DeviceCodeTTL bounds the device-code polling window.
	DeviceCodeTTL = 15 * time.Minute

	// ModelsCacheTTL holds a provider's live model list.
	ModelsCacheTTL = 24 * time.Hour
	// ModelsFallbackTTL is the shorter TTL when the list came from the
	// built-in fallback instead of the upstream.
	ModelsFallbackTTL = 5 * time.Minute

	// PluginKeyTTL caches per-user plugin key resolution.
	PluginKeyTTL = 60 * time.Second
	// LastUsedThrottleTTL coalesces last_used_at row updates.
	LastUsedThrottleTTL = 60 * time.Second

	// RefreshLockTTL is the cross-process token refresh lock. Longer than
	// any sane refresh round-trip, short enough to self-heal after a crash.
	RefreshLockTTL = 30 * time.Second
)
