// Package onboarding serves the credential import surface under /v1/oauth.
// An operator signs in to the upstream provider through an interactive
// OAuth flow and the finished account lands in the pool. Token material
// never travels back to the caller; replies carry account metadata only.
package onboarding

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"omni2api-go/internal/apierr"
	"omni2api-go/internal/handlers/common"
	"omni2api-go/internal/models"
	"omni2api-go/internal/oauth"
)

// Handler mounts the interactive OAuth endpoints.
type Handler struct {
	manager *oauth.Manager
}

func New(m *oauth.Manager) *Handler { return &Handler{manager: m} }

// startResponse covers both flow shapes. PKCE providers fill auth_url,
// device providers fill the code fields; flow tells the client which.
type startResponse struct {
	Flow      string `json:"flow"`
	State     string `json:"state"`
	AuthURL   string `json:"auth_url,omitempty"`
	UserCode  string `json:"user_code,omitempty"`
	VerifyURI string `json:"verification_uri,omitempty"`
	Interval  int    `json:"interval,omitempty"`
	ExpiresIn int    `json:"expires_in,omitempty"`
}

// accountSummary is the onboarding view of a stored account.
type accountSummary struct {
	ID         int64  `json:"id"`
	Provider   string `json:"provider"`
	Name       string `json:"name,omitempty"`
	Email      string `json:"email,omitempty"`
	Status     string `json:"status"`
	ProjectIDs string `json:"project_ids,omitempty"`
}

func summarize(a *models.Account) accountSummary {
	return accountSummary{
		ID:         a.ID,
		Provider:   a.Provider,
		Name:       a.Name,
		Email:      a.Email,
		Status:     a.Status,
		ProjectIDs: a.ProjectIDs,
	}
}

// Start begins an interactive flow for the provider in the path.
// POST /v1/oauth/:provider/start
func (h *Handler) Start(c *gin.Context) {
	userID, ok := sessionUser(c)
	if !ok {
		return
	}
	provider := strings.ToLower(strings.TrimSpace(c.Param("provider")))

	// Manager 掌管 provider 到流程的映射,先问 PKCE 再退到设备码。
	authURL, state, err := h.manager.StartPKCE(c.Request.Context(), userID, provider)
	if err == nil {
		c.JSON(http.StatusOK, startResponse{Flow: "pkce", State: state, AuthURL: authURL})
		return
	}
	if !errors.Is(err, oauth.ErrUnknownFlow) {
		startFailed(c, provider, err)
		return
	}

	res, err := h.manager.StartDevice(c.Request.Context(), userID, provider)
	if err != nil {
		if errors.Is(err, oauth.ErrUnknownFlow) {
			common.AbortWithError(c, http.StatusBadRequest, "invalid_request_error",
				fmt.Sprintf("no interactive flow for provider %q", provider))
			return
		}
		startFailed(c, provider, err)
		return
	}
	c.JSON(http.StatusOK, startResponse{
		Flow:      "device",
		State:     res.State,
		UserCode:  res.UserCode,
		VerifyURI: res.VerifyURI,
		Interval:  res.IntervalSec,
		ExpiresIn: res.ExpiresIn,
	})
}

// Callback consumes the pasted redirect from a PKCE authorize page.
// POST /v1/oauth/:provider/callback
func (h *Handler) Callback(c *gin.Context) {
	userID, ok := sessionUser(c)
	if !ok {
		return
	}
	req, aerr := common.ParseJSONBody(c)
	if aerr != nil {
		common.AbortWithAPIError(c, aerr)
		return
	}
	input := strings.TrimSpace(gjson.GetBytes(req.Body, "callback").String())
	if input == "" {
		common.AbortWithError(c, http.StatusBadRequest, "invalid_request_error",
			"missing required field: callback")
		return
	}

	acct, err := h.manager.CompletePKCE(c.Request.Context(), userID, input)
	if err != nil {
		// 贴错回调、state 过期、code 被拒,都得把原因还给操作者。
		log.WithError(err).WithFields(log.Fields{
			"provider": c.Param("provider"),
			"user_id":  userID,
		}).Warn("oauth callback rejected")
		common.AbortWithError(c, http.StatusBadRequest, "oauth_callback_failed", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": summarize(acct)})
}

// Poll advances a device-code flow by one step.
// POST /v1/oauth/:provider/poll
func (h *Handler) Poll(c *gin.Context) {
	userID, ok := sessionUser(c)
	if !ok {
		return
	}
	req, aerr := common.ParseJSONBody(c)
	if aerr != nil {
		common.AbortWithAPIError(c, aerr)
		return
	}
	state := strings.TrimSpace(gjson.GetBytes(req.Body, "state").String())
	if state == "" {
		common.AbortWithError(c, http.StatusBadRequest, "invalid_request_error",
			"missing required field: state")
		return
	}

	res, err := h.manager.PollDevice(c.Request.Context(), userID, state)
	if err != nil {
		log.WithError(err).WithFields(log.Fields{
			"provider": c.Param("provider"),
			"user_id":  userID,
		}).Warn("device poll failed")
		common.AbortWithError(c, http.StatusBadRequest, "oauth_poll_failed", err.Error())
		return
	}
	c.JSON(http.StatusOK, res)
}

// sessionUser admits session principals only. API keys authorize inference,
// not importing credentials into the key owner's pools.
func sessionUser(c *gin.Context) (int64, bool) {
	p, aerr := common.Principal(c)
	if aerr != nil {
		common.AbortWithAPIError(c, aerr)
		return 0, false
	}
	if !p.SessionAuth {
		common.AbortWithAPIError(c, apierr.New(http.StatusForbidden, "permission_denied",
			"permission_error", "account onboarding requires session authentication"))
		return 0, false
	}
	return p.UserID, true
}

func startFailed(c *gin.Context, provider string, err error) {
	log.WithError(err).WithField("provider", provider).Error("oauth flow start failed")
	common.AbortWithError(c, http.StatusBadGateway, "oauth_start_failed",
		"could not start the oauth flow")
}
