package models

// Principal is the authenticated caller as seen by routing. It is produced
// by the auth middleware and consumed read-only after that.
type Principal struct {
	UserID int64

	// ConfigType is non-empty only when the credential itself is scoped to
	// one provider (a provider API key). It outranks the X-Api-Type header.
	ConfigType string

	// SessionAuth marks session-token authentication, which is the only
	// mode allowed to override the provider via X-Api-Type.
	SessionAuth bool

	TrustLevel int
	Beta       bool
}

// CanUseKiro gates the kiro pool.
func (p *Principal) CanUseKiro(minTrust int) bool {
	return p.Beta || p.TrustLevel >= minTrust
}
