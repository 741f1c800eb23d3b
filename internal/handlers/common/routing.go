package common

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"omni2api-go/internal/apierr"
	"omni2api-go/internal/constants"
	"omni2api-go/internal/middleware"
	"omni2api-go/internal/models"
)

// Principal returns the authenticated caller. A miss means the route was
// mounted without the auth middleware, which is a wiring bug surfaced as 401.
func Principal(c *gin.Context) (*models.Principal, *apierr.APIError) {
	if p := middleware.PrincipalFrom(c); p != nil {
		return p, nil
	}
	return nil, apierr.New(http.StatusUnauthorized, "invalid_api_key", "invalid_request_error",
		"authentication required")
}

// ResolveConfigType picks the provider pool for a request. A provider-scoped
// API key always wins; session callers may choose per request through the
// X-Api-Type header; everyone else lands on the default pool.
func ResolveConfigType(c *gin.Context, p *models.Principal) string {
	if p != nil && p.ConfigType != "" {
		return strings.ToLower(strings.TrimSpace(p.ConfigType))
	}
	if p != nil && p.SessionAuth {
		if v := strings.TrimSpace(c.GetHeader("X-Api-Type")); v != "" {
			return strings.ToLower(v)
		}
	}
	return constants.DefaultProvider
}

// GateConfigType enforces pool permissions. Kiro is the only gated pool
// today: beta enrollment or a sufficient trust level opens it.
func GateConfigType(configType string, p *models.Principal) *apierr.APIError {
	if configType != constants.ProviderKiro {
		return nil
	}
	if p != nil && p.CanUseKiro(constants.KiroMinTrustLevel) {
		return nil
	}
	return apierr.New(http.StatusForbidden, "permission_denied", "permission_error",
		"kiro access requires beta enrollment or a higher trust level")
}
