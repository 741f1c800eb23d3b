// Package anthropic serves the Messages API surface.
package anthropic

import (
	"github.com/gin-gonic/gin"

	"omni2api-go/internal/handlers/common"
	"omni2api-go/internal/translator"
)

// Handler serves the Anthropic-compatible endpoints.
type Handler struct {
	relay *common.Relay
}

func New(relay *common.Relay) *Handler {
	return &Handler{relay: relay}
}

// POST /v1/messages
func (h *Handler) Messages(c *gin.Context) {
	p, aerr := common.Principal(c)
	if aerr != nil {
		common.AbortWithAPIError(c, aerr)
		return
	}
	req, aerr := common.ParseJSONBody(c)
	if aerr != nil {
		common.AbortWithAPIError(c, aerr)
		return
	}
	if aerr := req.RequireModel(); aerr != nil {
		common.AbortWithAPIError(c, aerr)
		return
	}
	if aerr := req.RequireArray("messages"); aerr != nil {
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
		Format:     translator.FormatAnthropic,
		Model:      req.Model,
		Payload:    req.Body,
		Stream:     req.Stream,
	})
}
