// Package config loads the gateway configuration from an optional YAML file
// plus environment overrides, and hot-reloads file-backed toggles.
package config

import (
	"fmt"
	"net/url"
	"strings"
)

// APIKeyEntry maps a static API key to the principal it authenticates.
// Keys scoped to one provider carry a config_type; session tokens are the
// only credentials allowed to override it per request.
type APIKeyEntry struct {
	Key        string `yaml:"key" json:"key"`
	UserID     int64  `yaml:"user_id" json:"user_id"`
	ConfigType string `yaml:"config_type" json:"config_type"`
	TrustLevel int    `yaml:"trust_level" json:"trust_level"`
	Beta       bool   `yaml:"beta" json:"beta"`
}

// FileConfig represents the configuration loaded from file.
type FileConfig struct {
	// Server settings
	Port     int    `yaml:"port" json:"port"`
	BasePath string `yaml:"base_path" json:"base_path"`
	Debug    bool   `yaml:"debug" json:"debug"`
	LogFile  string `yaml:"log_file" json:"log_file"`

	// Storage backends
	DatabaseURL string `yaml:"database_url" json:"database_url"`
	RedisURL    string `yaml:"redis_url" json:"redis_url"`

	// Auth secrets
	JWTSecretKey            string        `yaml:"jwt_secret_key" json:"jwt_secret_key"`
	RefreshTokenSecretKey   string        `yaml:"refresh_token_secret_key" json:"refresh_token_secret_key"`
	CredentialEncryptionKey string        `yaml:"credential_encryption_key" json:"credential_encryption_key"`
	APIKeys                 []APIKeyEntry `yaml:"api_keys" json:"api_keys"`

	// Upstream transport
	ProxyURL      string `yaml:"proxy_url" json:"proxy_url"`
	CodexProxyURL string `yaml:"codex_proxy_url" json:"codex_proxy_url"`

	// Codex pool
	CodexSupportedModels []string `yaml:"codex_supported_models" json:"codex_supported_models"`
	CodexFallbackBaseURL string   `yaml:"codex_fallback_base_url" json:"codex_fallback_base_url"`
	CodexFallbackAPIKey  string   `yaml:"codex_fallback_api_key" json:"codex_fallback_api_key"`

	// Z.AI pools
	ZaiAPIBase           string `yaml:"zai_api_base" json:"zai_api_base"`
	ZaiArtifactDir       string `yaml:"zai_artifact_dir" json:"zai_artifact_dir"`
	ZaiArtifactRetention int    `yaml:"zai_artifact_retention" json:"zai_artifact_retention"`

	// Upstream user agents. 留空使用内置默认值。
	AntigravityUserAgent string `yaml:"antigravity_user_agent" json:"antigravity_user_agent"`
	KiroUserAgent        string `yaml:"kiro_user_agent" json:"kiro_user_agent"`
	QwenUserAgent        string `yaml:"qwen_user_agent" json:"qwen_user_agent"`

	// Output sanitizer
	SanitizerEnabled  bool     `yaml:"sanitizer_enabled" json:"sanitizer_enabled"`
	SanitizerPatterns []string `yaml:"sanitizer_patterns" json:"sanitizer_patterns"`

	// Rate limiting
	RateLimitEnabled bool `yaml:"rate_limit_enabled" json:"rate_limit_enabled"`
	RateLimitRPS     int  `yaml:"rate_limit_rps" json:"rate_limit_rps"`
	RateLimitBurst   int  `yaml:"rate_limit_burst" json:"rate_limit_burst"`
}

func defaultConfig() *FileConfig {
	return &FileConfig{
		Port:                 8317,
		ZaiArtifactDir:       "data/artifacts",
		ZaiArtifactRetention: 10,
		SanitizerEnabled:     true,
		RateLimitRPS:         20,
		RateLimitBurst:       40,
	}
}

// SessionSecrets returns the JWT verification secrets in precedence order.
// A token is accepted if any secret validates it, so deployments can rotate
// JWT_SECRET_KEY while sessions signed with the refresh secret drain.
func (c *FileConfig) SessionSecrets() []string {
	var out []string
	if c.JWTSecretKey != "" {
		out = append(out, c.JWTSecretKey)
	}
	if c.RefreshTokenSecretKey != "" && c.RefreshTokenSecretKey != c.JWTSecretKey {
		out = append(out, c.RefreshTokenSecretKey)
	}
	return out
}

// Validate checks the fields the gateway cannot run without.
func (c *FileConfig) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("config: database_url (DATABASE_URL) is required")
	}
	if strings.TrimSpace(c.CredentialEncryptionKey) == "" {
		return fmt.Errorf("config: credential_encryption_key (CREDENTIAL_ENCRYPTION_KEY) is required")
	}
	if len(c.SessionSecrets()) == 0 && len(c.APIKeys) == 0 {
		return fmt.Errorf("config: no auth configured, set JWT_SECRET_KEY or define api_keys")
	}
	for _, raw := range []string{c.ProxyURL, c.CodexProxyURL} {
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("config: invalid proxy url %q: %w", raw, err)
		}
		switch u.Scheme {
		case "http", "https", "socks5", "socks5h":
		default:
			return fmt.Errorf("config: unsupported proxy scheme %q (want http, https or socks5)", u.Scheme)
		}
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.Port)
	}
	if c.ZaiArtifactRetention < 0 {
		return fmt.Errorf("config: zai_artifact_retention must be >= 0")
	}
	return nil
}

// NormalizeBasePath cleans a route prefix: always leading slash, never
// trailing, empty when the prefix is effectively root.
func NormalizeBasePath(raw string) string {
	path := strings.TrimSpace(raw)
	if path == "" || path == "/" {
		return ""
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	for strings.Contains(path, "//") {
		path = strings.ReplaceAll(path, "//", "/")
	}
	return strings.TrimRight(path, "/")
}
