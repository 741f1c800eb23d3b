package gemini

import (
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"omni2api-go/internal/handlers/common"
)

// GET /v1beta/models
//
// Gemini-native catalog listing for SDK clients that discover models
// before calling. Scoped to the effective pool like /v1/models.
func (h *Handler) Models(c *gin.Context) {
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

	items := make([]any, 0, len(infos))
	for _, m := range infos {
		display := m.DisplayName
		if display == "" {
			display = m.ID
		}
		items = append(items, gin.H{
			"name":                       "models/" + m.ID,
			"baseModelId":                m.ID,
			"version":                    "001",
			"displayName":                display,
			"inputTokenLimit":            1048576,
			"outputTokenLimit":           65536,
			"supportedGenerationMethods": []string{"generateContent", "streamGenerateContent", "countTokens"},
		})
	}
	c.JSON(http.StatusOK, gin.H{"models": items})
}

// estimateTokens is the local stand-in for upstream token counting: text
// length over four, floored at one for non-empty input. Inline data parts
// count a flat 258 like the real API charges for small images.
func estimateTokens(body []byte) int64 {
	var total int64
	gjson.GetBytes(body, "contents").ForEach(func(_, content gjson.Result) bool {
		content.Get("parts").ForEach(func(_, part gjson.Result) bool {
			if text := part.Get("text"); text.Exists() {
				total += int64(len([]rune(text.String())) / 4)
			}
			if part.Get("inlineData").Exists() || part.Get("inline_data").Exists() {
				total += 258
			}
			return true
		})
		return true
	})
	if sys := gjson.GetBytes(body, "systemInstruction.parts"); sys.Exists() {
		sys.ForEach(func(_, part gjson.Result) bool {
			total += int64(len([]rune(part.Get("text").String())) / 4)
			return true
		})
	}
	if total == 0 && gjson.GetBytes(body, "contents").Exists() {
		total = 1
	}
	return total
}
