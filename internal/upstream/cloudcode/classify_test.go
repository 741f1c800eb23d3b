package cloudcode

import (
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omni2api-go/internal/models"
)

func quotaBody(reason, tsField, tsValue string) []byte {
	return []byte(fmt.Sprintf(`{"error":{"code":429,"status":"RESOURCE_EXHAUSTED","details":[{"reason":%q,"metadata":{%q:%q}}]}}`,
		reason, tsField, tsValue))
}

func TestClassifyQuotaExhaustedShortWindow(t *testing.T) {
	reset := time.Now().Add(90 * time.Minute).UTC().Truncate(time.Second)
	body := quotaBody("QUOTA_EXHAUSTED", "quotaResetTimeStamp", reset.Format(time.RFC3339))

	v := ClassifyFailure(http.StatusTooManyRequests, body, nil)
	assert.Equal(t, models.FailureRateLimit, v.Kind)
	assert.Equal(t, models.Window5h, v.Window)
	assert.True(t, v.ResetAt.Equal(reset))
}

func TestClassifyQuotaExhaustedWeekWindow(t *testing.T) {
	reset := time.Now().Add(3 * 24 * time.Hour).UTC().Truncate(time.Second)
	body := quotaBody("QUOTA_EXHAUSTED", "quotaResetTimeStamp", reset.Format(time.RFC3339))

	v := ClassifyFailure(http.StatusTooManyRequests, body, nil)
	assert.Equal(t, models.WindowWeek, v.Window)
	assert.True(t, v.ResetAt.Equal(reset))
}

func TestClassifyQuotaResetDelay(t *testing.T) {
	body := quotaBody("QUOTA_EXHAUSTED", "quotaResetDelay", "5400s")

	v := ClassifyFailure(http.StatusTooManyRequests, body, nil)
	require.False(t, v.ResetAt.IsZero())
	assert.Equal(t, models.Window5h, v.Window)
	assert.InDelta(t, 90*time.Minute, time.Until(v.ResetAt), float64(5*time.Second))
}

func TestClassifyRetryInfoDelay(t *testing.T) {
	body := []byte(`{"error":{"code":429,"status":"RESOURCE_EXHAUSTED","details":[{"@type":"type.googleapis.com/google.rpc.RetryInfo","retryDelay":"1.5s"}]}}`)

	v := ClassifyFailure(http.StatusTooManyRequests, body, nil)
	assert.Equal(t, models.FailureRateLimit, v.Kind)
	assert.Empty(t, v.Window, "a plain throttle must not freeze the window")
	assert.Equal(t, 1500*time.Millisecond, v.RetryAfter)
}

func TestClassifyHeaderWinsOverRetryInfo(t *testing.T) {
	body := []byte(`{"error":{"status":"RESOURCE_EXHAUSTED","details":[{"@type":"type.googleapis.com/google.rpc.RetryInfo","retryDelay":"9s"}]}}`)
	hdr := http.Header{"Retry-After": []string{"30"}}

	v := ClassifyFailure(http.StatusTooManyRequests, body, hdr)
	assert.Equal(t, 30*time.Second, v.RetryAfter)
}

func TestClassifyNonQuotaStatusesDelegate(t *testing.T) {
	v := ClassifyFailure(http.StatusForbidden, []byte(`{}`), nil)
	assert.Equal(t, models.FailureFreeze, v.Kind)
	assert.Equal(t, models.FreezeReasonForbidden, v.FreezeReason)

	v = ClassifyFailure(http.StatusServiceUnavailable, nil, nil)
	assert.Equal(t, models.FailureTransient, v.Kind)
}
