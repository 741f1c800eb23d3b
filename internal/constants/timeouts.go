package constants

import "time"

// 使用量与日志
const (
	// UsageLogRetention keeps only the newest rows per (user, provider).
	UsageLogRetention = 200
	// ErrorDetailMaxBytes truncates stored upstream error text.
	ErrorDetailMaxBytes = 2000
	// BodySnapshotMaxBytes truncates stored request body snapshots.
	BodySnapshotMaxBytes = 65536
)

// OAuth 细节
const (
	// PKCEVerifierBytes is the raw entropy behind a code verifier.
	PKCEVerifierBytes = 96
	// PKCEStateBytes yields a 32-hex-char state.
	PKCEStateBytes = 16
)

// RefreshSkew renews tokens slightly before their recorded expiry.
const RefreshSkew = 60 * time.Second
