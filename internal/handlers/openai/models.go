package openai

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"omni2api-go/internal/handlers/common"
)

// GET /v1/models
//
// The list is scoped to the effective provider pool, so a codex key sees
// codex models and a session caller steers it with X-Api-Type.
func (h *Handler) ListModels(c *gin.Context) {
	p, aerr := common.Principal(c)
	if aerr != nil {
		common.AbortWithAPIError(c, aerr)
		return
	}
	configType := common.ResolveConfigType(c, p)
	if aerr := common.GateConfigType(configType, p); aerr != nil {
		common.AbortWithAPIError(c, aerr)
		return
	}

	infos, err := h.catalog.Models(c.Request.Context(), configType)
	if err != nil {
		log.WithError(err).WithField("provider", configType).Warn("model listing failed")
		common.AbortWithError(c, http.StatusBadGateway, "upstream_error", "model catalog unavailable")
		return
	}

	created := time.Now().Unix()
	data := make([]gin.H, 0, len(infos))
	for _, m := range infos {
		data = append(data, gin.H{
			"id":       m.ID,
			"object":   "model",
			"created":  created,
			"owned_by": configType,
		})
	}
	c.JSON(http.StatusOK, gin.H{"object": "list", "data": data})
}
