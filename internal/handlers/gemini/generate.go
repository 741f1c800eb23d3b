// Package gemini serves the v1beta generateContent surface.
package gemini

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"omni2api-go/internal/discovery"
	"omni2api-go/internal/handlers/common"
	"omni2api-go/internal/translator"
)

// Handler serves the Gemini-compatible endpoints.
type Handler struct {
	relay   *common.Relay
	catalog *discovery.Catalog
}

func New(relay *common.Relay, catalog *discovery.Catalog) *Handler {
	return &Handler{relay: relay, catalog: catalog}
}

// POST /v1beta/models/{model}:generateContent
// POST /v1beta/models/{model}:streamGenerateContent
//
// Both operations share one wildcard route; the model and the action ride
// in the same path segment. Streaming always answers SSE, whatever alt says.
func (h *Handler) ModelAction(c *gin.Context) {
	p, aerr := common.Principal(c)
	if aerr != nil {
		common.AbortWithAPIError(c, aerr)
		return
	}
	model, action, aerr := common.SplitModelAction(c.Param("modelAction"))
	if aerr != nil {
		common.AbortWithAPIError(c, aerr)
		return
	}

	var stream bool
	switch action {
	case "generateContent":
		stream = false
	case "streamGenerateContent":
		stream = true
	case "countTokens":
		h.countTokens(c, model)
		return
	default:
		common.AbortWithError(c, http.StatusNotFound, "not_found", "unknown operation "+action)
		return
	}

	req, aerr := common.ParseJSONBody(c)
	if aerr != nil {
		common.AbortWithAPIError(c, aerr)
		return
	}
	if aerr := req.RequireArray("contents"); aerr != nil {
		common.AbortWithAPIError(c, aerr)
		return
	}

	configType := common.ResolveConfigType(c, p)
	if aerr := common.GateConfigType(configType, p); aerr != nil {
		common.AbortWithAPIError(c, aerr)
		return
	}

	h.relay.Do(c, common.Call{
		Principal:  p,
		ConfigType: configType,
		Format:     translator.FormatGemini,
		Model:      model,
		Payload:    req.Body,
		Stream:     stream,
	})
}

// countTokens answers locally with a crude character-based estimate. The
// pools this gateway fronts have no token counting endpoint to proxy to.
func (h *Handler) countTokens(c *gin.Context, model string) {
	req, aerr := common.ParseJSONBody(c)
	if aerr != nil {
		common.AbortWithAPIError(c, aerr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"totalTokens": estimateTokens(req.Body)})
}
