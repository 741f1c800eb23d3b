package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Credential is the decrypted shape every provider stores. Only snake_case
// lives in the repository; camelCase aliases are folded in at ingress.
type Credential struct {
	Type         string `json:"type,omitempty"`
	RefreshToken string `json:"refresh_token"`
	AccessToken  string `json:"access_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	ClientID     string `json:"client_id,omitempty"`
	ClientSecret string `json:"client_secret,omitempty"`
	Region       string `json:"region,omitempty"`
	AuthRegion   string `json:"auth_region,omitempty"`
	APIRegion    string `json:"api_region,omitempty"`
	ProjectID    string `json:"project_id,omitempty"`
	AccountID    string `json:"account_id,omitempty"`
	Email        string `json:"email,omitempty"`
	ExpiresAt    string `json:"expires_at,omitempty"`
}

// credentialAliases maps camelCase ingress names to canonical fields.
var credentialAliases = map[string]string{
	"refreshToken": "refresh_token",
	"accessToken":  "access_token",
	"idToken":      "id_token",
	"clientId":     "client_id",
	"clientSecret": "client_secret",
	"authRegion":   "auth_region",
	"apiRegion":    "api_region",
	"projectId":    "project_id",
	"accountId":    "account_id",
	"expiresAt":    "expires_at",
}

// NormalizeCredentialJSON canonicalizes an imported credential document:
// camelCase keys fold into snake_case and empty strings become absent.
// Unknown keys are preserved untouched so provider extras survive.
func NormalizeCredentialJSON(raw []byte) ([]byte, error) {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("credential: parse: %w", err)
	}
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		key := k
		if canonical, ok := credentialAliases[k]; ok {
			key = canonical
		}
		if s, ok := v.(string); ok && s == "" {
			continue
		}
		// snake_case wins when both spellings are present
		if _, exists := out[key]; exists && key != k {
			continue
		}
		out[key] = v
	}
	return json.Marshal(out)
}

// ParseCredential decodes a canonical credential JSON document.
func ParseCredential(raw string) (*Credential, error) {
	var c Credential
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return nil, fmt.Errorf("credential: decode: %w", err)
	}
	return &c, nil
}

// Encode serializes the credential back to canonical JSON.
func (c *Credential) Encode() (string, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("credential: encode: %w", err)
	}
	return string(raw), nil
}

// ExpiresTime parses ExpiresAt as RFC3339, returning zero when absent or
// unparsable.
func (c *Credential) ExpiresTime() time.Time {
	if c.ExpiresAt == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, c.ExpiresAt)
	if err != nil {
		return time.Time{}
	}
	return t
}
