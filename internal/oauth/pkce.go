package oauth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"

	"omni2api-go/internal/constants"
)

// GenerateVerifier returns a PKCE code verifier built from 96 random bytes,
// base64url encoded without padding.
func GenerateVerifier() (string, error) {
	b := make([]byte, constants.PKCEVerifierBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("oauth: generate verifier: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Challenge derives the S256 code challenge for a verifier.
func Challenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// GenerateState returns a 32 hex character state token.
func GenerateState() (string, error) {
	b := make([]byte, constants.PKCEStateBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("oauth: generate state: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// ParseCallbackInput extracts code and state from whatever the user pasted:
// a full callback URL, a leading "?query", a bare "k=v&k=v" string, or a
// "#fragment" form.
func ParseCallbackInput(input string) (code, state string, err error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return "", "", fmt.Errorf("oauth: empty callback input")
	}

	var rawQuery string
	switch {
	case strings.Contains(s, "://"):
		u, perr := url.Parse(s)
		if perr != nil {
			return "", "", fmt.Errorf("oauth: parse callback url: %w", perr)
		}
		rawQuery = u.RawQuery
		if rawQuery == "" && u.Fragment != "" {
			rawQuery = u.Fragment
		}
	case strings.HasPrefix(s, "?"):
		rawQuery = s[1:]
	case strings.HasPrefix(s, "#"):
		rawQuery = s[1:]
	default:
		rawQuery = s
	}

	vals, perr := url.ParseQuery(rawQuery)
	if perr != nil {
		return "", "", fmt.Errorf("oauth: parse callback query: %w", perr)
	}
	code = vals.Get("code")
	state = vals.Get("state")
	if code == "" {
		if e := vals.Get("error"); e != "" {
			return "", "", fmt.Errorf("oauth: provider returned error %q", e)
		}
		return "", "", fmt.Errorf("oauth: callback input missing code")
	}
	return code, state, nil
}
