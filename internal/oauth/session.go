package oauth

import "time"

// PKCESession is the cache record behind pkce_state:{state}.
type PKCESession struct {
	UserID       int64     `json:"user_id"`
	Provider     string    `json:"provider"`
	CodeVerifier string    `json:"code_verifier"`
	CreatedAt    time.Time `json:"created_at"`
}

// DeviceSession is the cache record behind device_code:{state}. Client
// secrets live here only until the flow completes; the success path scrubs
// them before replying.
type DeviceSession struct {
	UserID       int64     `json:"user_id"`
	Provider     string    `json:"provider"`
	ClientID     string    `json:"client_id,omitempty"`
	ClientSecret string    `json:"client_secret,omitempty"`
	DeviceCode   string    `json:"device_code,omitempty"`
	CodeVerifier string    `json:"code_verifier,omitempty"`
	UserCode     string    `json:"user_code"`
	VerifyURI    string    `json:"verification_uri"`
	IntervalSec  int       `json:"interval"`
	NextPollAt   time.Time `json:"next_poll_at"`
	CreatedAt    time.Time `json:"created_at"`
	Done         bool      `json:"done,omitempty"`
	AccountID    int64     `json:"account_id,omitempty"`
}

// Scrub clears every secret-bearing field once the flow has finished.
func (d *DeviceSession) Scrub() {
	d.ClientSecret = ""
	d.DeviceCode = ""
	d.CodeVerifier = ""
}

// Device poll statuses returned to the client.
const (
	DevicePending  = "pending"
	DeviceSlowDown = "slow_down"
	DeviceSuccess  = "success"
	DeviceExpired  = "expired"
)

// DeviceStartResult is what the start endpoint returns to the caller.
type DeviceStartResult struct {
	State       string `json:"state"`
	UserCode    string `json:"user_code"`
	VerifyURI   string `json:"verification_uri"`
	IntervalSec int    `json:"interval"`
	ExpiresIn   int    `json:"expires_in"`
}

// DevicePollResult is one poll response. Tokens never appear here.
type DevicePollResult struct {
	Status       string `json:"status"`
	RetryAfterMS int64  `json:"retry_after_ms,omitempty"`
	AccountID    int64  `json:"account_id,omitempty"`
	AccountName  string `json:"account_name,omitempty"`
}
