package openai

import (
	"github.com/gin-gonic/gin"

	"omni2api-go/internal/handlers/common"
	"omni2api-go/internal/translator"
)

// POST /v1/responses
//
// input may be a plain string or an item array, so only model is validated
// here. The rest is the translator's problem.
func (h *Handler) Responses(c *gin.Context) {
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

	configType := common.ResolveConfigType(c, p)
	if aerr := common.GateConfigType(configType, p); aerr != nil {
		common.AbortWithAPIError(c, aerr)
		return
	}

	h.relay.Do(c, common.Call{
		Principal:  p,
		ConfigType: configType,
		Format:     translator.FormatOpenAIResponses,
		Model:      req.Model,
		Payload:    req.Body,
		Stream:     req.Stream,
	})
}
