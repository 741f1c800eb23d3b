package cloudcode

import (
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"omni2api-go/internal/constants"
	"omni2api-go/internal/models"
	"omni2api-go/internal/upstream"
)

// ClassifyFailure extends the generic table with the Cloud Code quota
// surface. A RESOURCE_EXHAUSTED body that discloses a quota reset means the
// account is out of quota for the whole window, not merely throttled, so the
// verdict carries the window tag and the reset moment. Plain throttles keep
// the rate-limit verdict, picking up google.rpc.RetryInfo when the header
// said nothing.
func ClassifyFailure(status int, body []byte, hdr http.Header) models.FailureVerdict {
	v := upstream.ClassifyStatus(status, body, hdr)
	if status != http.StatusTooManyRequests {
		return v
	}

	if reset := quotaResetTime(body); !reset.IsZero() {
		v.ResetAt = reset
		if time.Until(reset) > constants.WeekFreezeThreshold {
			v.Window = models.WindowWeek
		} else {
			v.Window = models.Window5h
		}
		return v
	}

	if v.RetryAfter == 0 {
		if d := retryDelay(body); d > 0 {
			v.RetryAfter = d
		}
	}
	return v
}

// quotaResetTime extracts the QUOTA_EXHAUSTED reset moment from a
// RESOURCE_EXHAUSTED error body. Absolute timestamps win over delays.
func quotaResetTime(body []byte) time.Time {
	if gjson.GetBytes(body, "error.status").String() != "RESOURCE_EXHAUSTED" {
		return time.Time{}
	}

	var reset time.Time
	var delay time.Duration
	gjson.GetBytes(body, "error.details").ForEach(func(_, detail gjson.Result) bool {
		if detail.Get("reason").String() != "QUOTA_EXHAUSTED" {
			return true
		}
		if ts := detail.Get("metadata.quotaResetTimeStamp").String(); ts != "" {
			if t, err := time.Parse(time.RFC3339, ts); err == nil {
				reset = t
				return false
			}
		}
		if raw := detail.Get("metadata.quotaResetDelay").String(); raw != "" {
			if d, err := time.ParseDuration(raw); err == nil && d > 0 {
				delay = d
			}
		}
		return true
	})

	if !reset.IsZero() {
		return reset
	}
	if delay > 0 {
		return time.Now().Add(delay)
	}
	return time.Time{}
}

// retryDelay reads google.rpc.RetryInfo out of the error details.
func retryDelay(body []byte) time.Duration {
	var out time.Duration
	gjson.GetBytes(body, "error.details").ForEach(func(_, detail gjson.Result) bool {
		if !strings.HasSuffix(detail.Get("@type").String(), "google.rpc.RetryInfo") {
			return true
		}
		if d, err := time.ParseDuration(detail.Get("retryDelay").String()); err == nil && d > 0 {
			out = d
			return false
		}
		return true
	})
	return out
}
