package models

import "time"

// UsageLog is one row of the rolling per-request window. Only the newest
// rows per (user, provider) are retained.
type UsageLog struct {
	ID           int64     `json:"id"`
	UserID       int64     `json:"user_id"`
	ConfigType   string    `json:"config_type"`
	AccountID    *int64    `json:"account_id,omitempty"`
	Endpoint     string    `json:"endpoint"`
	Method       string    `json:"method"`
	Model        string    `json:"model"`
	IsStream     bool      `json:"is_stream"`
	Success      bool      `json:"success"`
	StatusCode   int       `json:"status_code"`
	ErrorMessage string    `json:"error_message,omitempty"`
	InputTokens  int64     `json:"input_tokens"`
	OutputTokens int64     `json:"output_tokens"`
	CachedTokens int64     `json:"cached_tokens"`
	TotalTokens  int64     `json:"total_tokens"`
	QuotaUsed    float64   `json:"quota_consumed"`
	DurationMS   int64     `json:"duration_ms"`
	ClientApp    string    `json:"client_app,omitempty"`
	RequestBody  string    `json:"request_body,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// UsageCounter accumulates totals per (user, provider). Columns only ever
// grow; the log window above is the source for recent detail.
type UsageCounter struct {
	UserID          int64     `json:"user_id"`
	ConfigType      string    `json:"config_type"`
	TotalRequests   int64     `json:"total_requests"`
	SuccessRequests int64     `json:"success_requests"`
	FailedRequests  int64     `json:"failed_requests"`
	InputTokens     int64     `json:"input_tokens"`
	OutputTokens    int64     `json:"output_tokens"`
	CachedTokens    int64     `json:"cached_tokens"`
	TotalTokens     int64     `json:"total_tokens"`
	TotalQuotaUsed  float64   `json:"total_quota_consumed"`
	TotalDurationMS int64     `json:"total_duration_ms"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// TokenUsage is the normalized token accounting extracted from an upstream
// response, whatever wire format it arrived in. Thoughts fold into input
// when a target format has no separate field.
type TokenUsage struct {
	InputTokens    int64 `json:"input_tokens"`
	OutputTokens   int64 `json:"output_tokens"`
	CachedTokens   int64 `json:"cached_tokens"`
	ThoughtsTokens int64 `json:"thoughts_tokens"`
	TotalTokens    int64 `json:"total_tokens"`
}

// Merge keeps the larger of each observed field. Streams may report usage
// more than once; later events usually carry the final numbers.
func (u *TokenUsage) Merge(other TokenUsage) {
	if other.InputTokens > u.InputTokens {
		u.InputTokens = other.InputTokens
	}
	if other.OutputTokens > u.OutputTokens {
		u.OutputTokens = other.OutputTokens
	}
	if other.CachedTokens > u.CachedTokens {
		u.CachedTokens = other.CachedTokens
	}
	if other.ThoughtsTokens > u.ThoughtsTokens {
		u.ThoughtsTokens = other.ThoughtsTokens
	}
	if other.TotalTokens > u.TotalTokens {
		u.TotalTokens = other.TotalTokens
	}
}

// Finalize enforces the closing bookkeeping rules: totals are at least the
// component sum and cached never exceeds input.
func (u *TokenUsage) Finalize() {
	if sum := u.InputTokens + u.OutputTokens; u.TotalTokens < sum {
		u.TotalTokens = sum
	}
	if u.CachedTokens > u.InputTokens {
		u.CachedTokens = u.InputTokens
	}
}

// IsZero reports whether nothing was observed.
func (u TokenUsage) IsZero() bool {
	return u.InputTokens == 0 && u.OutputTokens == 0 && u.CachedTokens == 0 &&
		u.ThoughtsTokens == 0 && u.TotalTokens == 0
}

// UserSetting holds per-user UI channel preferences.
type UserSetting struct {
	UserID           int64      `json:"user_id"`
	AccountChannel   *string    `json:"account_channel,omitempty"`
	DashboardChannel *string    `json:"dashboard_channel,omitempty"`
	UpdatedAt        *time.Time `json:"updated_at,omitempty"`
}
