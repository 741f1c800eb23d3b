package server

import (
	"github.com/gin-gonic/gin"

	"omni2api-go/internal/handlers/anthropic"
	"omni2api-go/internal/handlers/common"
	"omni2api-go/internal/handlers/gemini"
	"omni2api-go/internal/handlers/onboarding"
	"omni2api-go/internal/handlers/openai"
)

// mountAPIRoutes wires the four client dialects plus the onboarding
// surface onto the authenticated group.
func mountAPIRoutes(r *gin.RouterGroup, relay *common.Relay, deps Dependencies) {
	oa := openai.New(relay, deps.Catalog)
	r.POST("/v1/chat/completions", oa.ChatCompletions)
	r.POST("/v1/responses", oa.Responses)
	r.GET("/v1/models", oa.ListModels)

	an := anthropic.New(relay)
	r.POST("/v1/messages", an.Messages)

	ge := gemini.New(relay, deps.Catalog)
	r.GET("/v1beta/models", ge.Models)
	// generateContent、streamGenerateContent 和 countTokens 共用一条通配路由。
	r.POST("/v1beta/models/*modelAction", ge.ModelAction)

	if deps.OAuth != nil {
		ob := onboarding.New(deps.OAuth)
		r.POST("/v1/oauth/:provider/start", ob.Start)
		r.POST("/v1/oauth/:provider/callback", ob.Callback)
		r.POST("/v1/oauth/:provider/poll", ob.Poll)
	}
}
