package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	log "github.com/sirupsen/logrus"

	"omni2api-go/internal/apierr"
	"omni2api-go/internal/models"
)

const principalKey = "principal"

// APIKeyResolver turns a raw API key into the principal it authenticates.
type APIKeyResolver interface {
	ResolveKey(key string) (*models.Principal, bool)
}

// Auth validates every API request. Two credential shapes are accepted:
// a session JWT signed with one of the configured secrets, or a static
// API key resolved through the key resolver. Session tokens carry the
// user identity in claims and may pick a provider per request; API keys
// are bound to whatever provider they were issued for.
type Auth struct {
	// Secrets returns the current HMAC verification secrets. A func so a
	// config reload takes effect without rebuilding the middleware chain.
	Secrets func() []string

	Keys APIKeyResolver

	// IsRevoked is consulted for session tokens only. Nil disables the
	// blacklist check (e.g. when the cache runs in-memory).
	IsRevoked func(c *gin.Context, token string) (bool, error)
}

// Handler returns the gin middleware.
func (a *Auth) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractCredential(c)
		if token == "" {
			respondUnauthorized(c, "API key not provided")
			return
		}

		if p, ok := a.trySessionToken(c, token); ok {
			if p == nil {
				// Valid shape but revoked or malformed claims.
				respondUnauthorized(c, "Session token rejected")
				return
			}
			c.Set(principalKey, p)
			c.Next()
			return
		}

		if a.Keys != nil {
			if p, ok := a.Keys.ResolveKey(token); ok {
				c.Set(principalKey, p)
				c.Next()
				return
			}
		}
		respondUnauthorized(c, "Invalid API key")
	}
}

// trySessionToken reports (principal, true) when the credential is a JWT
// signed by one of our secrets. (nil, true) means a structurally valid
// session token that must still be rejected; (nil, false) means the
// credential is not a session token at all.
func (a *Auth) trySessionToken(c *gin.Context, token string) (*models.Principal, bool) {
	if strings.Count(token, ".") != 2 {
		return nil, false
	}
	var secrets []string
	if a.Secrets != nil {
		secrets = a.Secrets()
	}
	for _, s := range secrets {
		claims := jwt.MapClaims{}
		parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return []byte(s), nil
		})
		if err != nil || !parsed.Valid {
			continue
		}

		if a.IsRevoked != nil {
			revoked, err := a.IsRevoked(c, token)
			if err != nil {
				log.WithError(err).Warn("token blacklist check failed, allowing request")
			} else if revoked {
				return nil, true
			}
		}

		p := principalFromClaims(claims)
		if p == nil {
			return nil, true
		}
		return p, true
	}
	return nil, false
}

func principalFromClaims(claims jwt.MapClaims) *models.Principal {
	userID, ok := claimInt64(claims, "user_id")
	if !ok || userID <= 0 {
		return nil
	}
	p := &models.Principal{
		UserID:      userID,
		SessionAuth: true,
	}
	if lvl, ok := claimInt64(claims, "trust_level"); ok {
		p.TrustLevel = int(lvl)
	}
	if beta, ok := claims["beta"].(bool); ok {
		p.Beta = beta
	}
	return p
}

func claimInt64(claims jwt.MapClaims, key string) (int64, bool) {
	switch v := claims[key].(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case string:
		var n int64
		if _, err := fmt.Sscan(v, &n); err == nil {
			return n, true
		}
	}
	return 0, false
}

// extractCredential pulls the caller credential from the places the four
// client dialects put it.
func extractCredential(c *gin.Context) string {
	auth := strings.TrimSpace(c.GetHeader("Authorization"))
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		if v := strings.TrimSpace(auth[7:]); v != "" {
			return v
		}
	}
	if v := strings.TrimSpace(c.GetHeader("x-api-key")); v != "" {
		return v
	}
	if v := strings.TrimSpace(c.GetHeader("x-goog-api-key")); v != "" {
		return v
	}
	if v := strings.TrimSpace(c.Query("key")); v != "" {
		return v
	}
	return ""
}

// PrincipalFrom returns the authenticated principal, or nil on
// unauthenticated routes.
func PrincipalFrom(c *gin.Context) *models.Principal {
	v, ok := c.Get(principalKey)
	if !ok {
		return nil
	}
	p, _ := v.(*models.Principal)
	return p
}

func respondUnauthorized(c *gin.Context, message string) {
	e := apierr.New(http.StatusUnauthorized, "invalid_api_key", "invalid_request_error", message)
	format := apierr.DetectFromRequest(c.Request)
	payload, err := e.ToJSON(format)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": gin.H{"message": message}})
		return
	}
	c.Data(http.StatusUnauthorized, "application/json", payload)
	c.Abort()
}
