// Package openai serves the OpenAI-compatible surface: Chat Completions,
// Responses and the model catalog.
package openai

import (
	"omni2api-go/internal/discovery"
	"omni2api-go/internal/handlers/common"
)

// Handler aggregates the shared dependencies of the OpenAI endpoints.
type Handler struct {
	relay   *common.Relay
	catalog *discovery.Catalog
}

func New(relay *common.Relay, catalog *discovery.Catalog) *Handler {
	return &Handler{relay: relay, catalog: catalog}
}
