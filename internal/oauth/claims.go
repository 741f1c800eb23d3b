package oauth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// IDTokenClaims is the subset of id_token claims the gateway cares about.
// Claims are extracted without signature verification; the token arrives
// over the provider's TLS token endpoint.
type IDTokenClaims struct {
	Subject   string
	Email     string
	AccountID string
	PlanType  string
}

// ExtractClaims decodes a JWT payload without signature verification.
func ExtractClaims(idToken string) (*IDTokenClaims, error) {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(idToken, claims); err != nil {
		return nil, fmt.Errorf("oauth: parse id_token: %w", err)
	}

	out := &IDTokenClaims{}
	if sub, err := claims.GetSubject(); err == nil {
		out.Subject = sub
	}
	if email, ok := claims["email"].(string); ok {
		out.Email = email
	}

	// ChatGPT id_tokens nest account data under the auth claim.
	if auth, ok := claims["https://api.openai.com/auth"].(map[string]any); ok {
		if id, ok := auth["chatgpt_account_id"].(string); ok {
			out.AccountID = id
		}
		if plan, ok := auth["chatgpt_plan_type"].(string); ok {
			out.PlanType = plan
		}
	}
	if out.AccountID == "" {
		if id, ok := claims["account_id"].(string); ok {
			out.AccountID = id
		}
	}
	return out, nil
}

// ExternalID picks the provider-stable identity for dedup: account id when
// the provider exposes one, else email, else subject.
func (c *IDTokenClaims) ExternalID() string {
	if c.AccountID != "" {
		return c.AccountID
	}
	if c.Email != "" {
		return c.Email
	}
	return c.Subject
}
