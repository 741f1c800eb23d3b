package models

import (
	"strings"
	"time"
)

// AccountStatus 账户开关状态
const (
	StatusEnabled  = "enabled"
	StatusDisabled = "disabled"
)

// Freeze reasons stored on the account row when a quota window exhausts.
const (
	FreezeReasonWeek         = "week_limit"
	FreezeReason5h           = "5h_limit"
	FreezeReasonUnauthorized = "unauthorized"
	FreezeReasonForbidden    = "forbidden"
	FreezeReasonPayment      = "payment_required"
)

// Account is one upstream credential row. Every provider table shares this
// skeleton; provider-specific detail lives inside the encrypted blob.
type Account struct {
	ID         int64  `json:"id"`
	UserID     int64  `json:"user_id"`
	Provider   string `json:"provider"`
	ExternalID string `json:"external_id"`
	Name       string `json:"name"`

	// Credentials is the encrypted blob. Plaintext never leaves the oauth
	// and dispatcher layers.
	Credentials string `json:"-"`

	Status         string     `json:"status"`
	TokenExpiresAt *time.Time `json:"token_expires_at,omitempty"`
	LastRefreshAt  *time.Time `json:"last_refresh_at,omitempty"`
	LastUsedAt     *time.Time `json:"last_used_at,omitempty"`

	// ProjectIDs is a comma separated list for providers that scope
	// requests to a project (gemini-cli, antigravity).
	ProjectIDs string `json:"project_ids,omitempty"`
	Email      string `json:"email,omitempty"`

	Limit5hUsedPercent   *int       `json:"limit_5h_used_percent,omitempty"`
	Limit5hResetAt       *time.Time `json:"limit_5h_reset_at,omitempty"`
	LimitWeekUsedPercent *int       `json:"limit_week_used_percent,omitempty"`
	LimitWeekResetAt     *time.Time `json:"limit_week_reset_at,omitempty"`
	FreezeReason         string     `json:"freeze_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsFrozen reports whether a quota window is exhausted and has not reset.
func (a *Account) IsFrozen(now time.Time) bool {
	if a.LimitWeekUsedPercent != nil && *a.LimitWeekUsedPercent >= 100 &&
		a.LimitWeekResetAt != nil && a.LimitWeekResetAt.After(now) {
		return true
	}
	if a.Limit5hUsedPercent != nil && *a.Limit5hUsedPercent >= 100 &&
		a.Limit5hResetAt != nil && a.Limit5hResetAt.After(now) {
		return true
	}
	return false
}

// FrozenUntil returns the latest applicable reset time, or zero when not
// frozen.
func (a *Account) FrozenUntil(now time.Time) time.Time {
	var until time.Time
	if a.LimitWeekUsedPercent != nil && *a.LimitWeekUsedPercent >= 100 &&
		a.LimitWeekResetAt != nil && a.LimitWeekResetAt.After(now) {
		until = *a.LimitWeekResetAt
	}
	if a.Limit5hUsedPercent != nil && *a.Limit5hUsedPercent >= 100 &&
		a.Limit5hResetAt != nil && a.Limit5hResetAt.After(now) {
		if a.Limit5hResetAt.After(until) {
			until = *a.Limit5hResetAt
		}
	}
	return until
}

// EffectiveEnabled combines the manual switch with freeze state.
func (a *Account) EffectiveEnabled(now time.Time) bool {
	return a.Status == StatusEnabled && !a.IsFrozen(now)
}

// ActiveFreezeReason derives the display reason, week window first.
func (a *Account) ActiveFreezeReason(now time.Time) string {
	if a.LimitWeekUsedPercent != nil && *a.LimitWeekUsedPercent >= 100 &&
		a.LimitWeekResetAt != nil && a.LimitWeekResetAt.After(now) {
		return FreezeReasonWeek
	}
	if a.Limit5hUsedPercent != nil && *a.Limit5hUsedPercent >= 100 &&
		a.Limit5hResetAt != nil && a.Limit5hResetAt.After(now) {
		return FreezeReason5h
	}
	return ""
}

// Projects splits ProjectIDs, dropping blanks and the "ALL" placeholder.
func (a *Account) Projects() []string {
	if a.ProjectIDs == "" {
		return nil
	}
	parts := strings.Split(a.ProjectIDs, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" || strings.EqualFold(p, "ALL") {
			continue
		}
		out = append(out, p)
	}
	return out
}
