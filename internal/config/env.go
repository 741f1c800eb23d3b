package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
)

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func setIntFromEnv(key string, setter func(int)) {
	if v := getenv(key, ""); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			setter(n)
		}
	}
}

func setToggleFromEnv(key string, setter func(bool)) {
	v := strings.ToLower(strings.TrimSpace(getenv(key, "")))
	if v == "" {
		return
	}
	switch v {
	case "1", "true", "yes", "on":
		setter(true)
	case "0", "false", "no", "off":
		setter(false)
	}
}

func splitAndTrim(input, sep string) []string {
	parts := strings.Split(input, sep)
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// parseModelList accepts either a JSON array or a comma-separated list.
func parseModelList(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	if strings.HasPrefix(raw, "[") {
		var arr []string
		if err := json.Unmarshal([]byte(raw), &arr); err == nil {
			out := arr[:0]
			for _, m := range arr {
				if m = strings.TrimSpace(m); m != "" {
					out = append(out, m)
				}
			}
			return out
		}
	}
	return splitAndTrim(raw, ",")
}

// mergeEnv overlays environment variables onto the file-loaded config.
// Environment always wins so containerized deployments can run file-less.
func (c *FileConfig) mergeEnv() {
	setIntFromEnv("PORT", func(n int) { c.Port = n })
	if v := getenv("BASE_PATH", ""); v != "" {
		c.BasePath = v
	}
	setToggleFromEnv("DEBUG_LOG", func(b bool) { c.Debug = b })
	if v := getenv("LOG_FILE", ""); v != "" {
		c.LogFile = v
	}

	if v := getenv("DATABASE_URL", ""); v != "" {
		c.DatabaseURL = v
	}
	if v := getenv("REDIS_URL", ""); v != "" {
		c.RedisURL = v
	}

	if v := getenv("JWT_SECRET_KEY", ""); v != "" {
		c.JWTSecretKey = v
	}
	if v := getenv("REFRESH_TOKEN_SECRET_KEY", ""); v != "" {
		c.RefreshTokenSecretKey = v
	}
	if v := getenv("CREDENTIAL_ENCRYPTION_KEY", ""); v != "" {
		c.CredentialEncryptionKey = v
	}

	if v := getenv("PROXY_URL", ""); v != "" {
		c.ProxyURL = v
	}
	if v := getenv("CODEX_PROXY_URL", ""); v != "" {
		c.CodexProxyURL = v
	}
	if v := getenv("CODEX_SUPPORTED_MODELS", ""); v != "" {
		c.CodexSupportedModels = parseModelList(v)
	}
	if v := getenv("CODEX_FALLBACK_BASE_URL", ""); v != "" {
		c.CodexFallbackBaseURL = v
	}
	if v := getenv("CODEX_FALLBACK_API_KEY", ""); v != "" {
		c.CodexFallbackAPIKey = v
	}

	if v := getenv("ZAI_API_BASE", ""); v != "" {
		c.ZaiAPIBase = v
	}
	if v := getenv("ZAI_ARTIFACT_DIR", ""); v != "" {
		c.ZaiArtifactDir = v
	}
	setIntFromEnv("ZAI_ARTIFACT_RETENTION", func(n int) { c.ZaiArtifactRetention = n })

	if v := getenv("ANTIGRAVITY_USER_AGENT", ""); v != "" {
		c.AntigravityUserAgent = v
	}
	if v := getenv("KIRO_USER_AGENT", ""); v != "" {
		c.KiroUserAgent = v
	}
	if v := getenv("QWEN_USER_AGENT", ""); v != "" {
		c.QwenUserAgent = v
	}

	setToggleFromEnv("SANITIZER_ENABLED", func(b bool) { c.SanitizerEnabled = b })
	setToggleFromEnv("RATE_LIMIT_ENABLED", func(b bool) { c.RateLimitEnabled = b })
	setIntFromEnv("RATE_LIMIT_RPS", func(n int) { c.RateLimitRPS = n })
	setIntFromEnv("RATE_LIMIT_BURST", func(n int) { c.RateLimitBurst = n })
}
