package upstream

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"omni2api-go/internal/models"
)

// ParseRetryAfter accepts both delta-seconds and HTTP-date forms.
func ParseRetryAfter(v string) (time.Duration, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			secs = 0
		}
		return time.Duration(secs) * time.Second, true
	}
	layouts := []string{time.RFC1123, time.RFC1123Z, time.RFC850, time.ANSIC}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, v); err == nil {
			d := time.Until(t)
			if d < 0 {
				d = 0
			}
			return d, true
		}
	}
	return 0, false
}

// ClassifyNetErr labels a transport-level error for metrics.
func ClassifyNetErr(err error) string {
	if err == nil {
		return ""
	}
	if ue, ok := err.(*url.Error); ok {
		if ue.Timeout() {
			return "timeout"
		}
		if ue.Err != nil {
			s := ue.Err.Error()
			switch {
			case strings.Contains(s, "no such host"):
				return "dns"
			case strings.Contains(s, "connection reset"):
				return "conn_reset"
			case strings.Contains(s, "broken pipe"):
				return "conn_broken_pipe"
			case strings.Contains(s, "i/o timeout"):
				return "timeout"
			}
		}
	}
	s := err.Error()
	switch {
	case strings.Contains(s, "deadline exceeded"):
		return "deadline"
	case strings.Contains(s, "context canceled"):
		return "canceled"
	case strings.Contains(s, "no such host"):
		return "dns"
	case strings.Contains(s, "connection reset"):
		return "conn_reset"
	case strings.Contains(s, "timeout"):
		return "timeout"
	default:
		return "other"
	}
}

// ClassifyStatus is the provider-agnostic failure table. Providers wrap it
// and override the cases where their upstream deviates.
func ClassifyStatus(status int, body []byte, hdr http.Header) models.FailureVerdict {
	v := models.FailureVerdict{}
	switch {
	case status == http.StatusUnauthorized:
		v.Kind = models.FailureUnauthorized
		v.FreezeReason = models.FreezeReasonUnauthorized

	case status == http.StatusTooManyRequests:
		v.Kind = models.FailureRateLimit
		if hdr != nil {
			if d, ok := ParseRetryAfter(hdr.Get("Retry-After")); ok {
				v.RetryAfter = d
			}
		}
		if reset := resetTimeFromBody(body); !reset.IsZero() {
			v.ResetAt = reset
		}

	case status == http.StatusPaymentRequired:
		v.Kind = models.FailureFreeze
		v.FreezeReason = models.FreezeReasonPayment

	case status == http.StatusForbidden:
		v.Kind = models.FailureFreeze
		v.FreezeReason = models.FreezeReasonForbidden

	case status == http.StatusRequestTimeout || status >= 500:
		v.Kind = models.FailureTransient

	default:
		v.Kind = models.FailureFatal
	}
	return v
}

// resetTimeFromBody digs through the common places providers put a quota
// reset timestamp. Values may be unix seconds or RFC 3339.
func resetTimeFromBody(body []byte) time.Time {
	if len(body) == 0 {
		return time.Time{}
	}
	for _, path := range []string{
		"error.resets_at",
		"error.reset_at",
		"resets_at",
		"reset_at",
		"error.details.reset_time",
	} {
		r := gjson.GetBytes(body, path)
		if !r.Exists() {
			continue
		}
		if r.Type == gjson.Number {
			secs := r.Int()
			if secs > 1e9 {
				return time.Unix(secs, 0)
			}
			continue
		}
		if t, err := time.Parse(time.RFC3339, r.String()); err == nil {
			return t
		}
	}
	return time.Time{}
}
