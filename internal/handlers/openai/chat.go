package openai

import (
	"github.com/gin-gonic/gin"

	"omni2api-go/internal/handlers/common"
	"omni2api-go/internal/translator"
)

// POST /v1/chat/completions
func (h *Handler) ChatCompletions(c *gin.Context) {
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
		Format:     translator.FormatOpenAI,
		Model:      req.Model,
		Payload:    req.Body,
		Stream:     req.Stream,
	})
}
