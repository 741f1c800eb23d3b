package kiro

import (
	"context"
	"sort"
	"strings"

	"omni2api-go/internal/upstream"
)

// modelIDs maps public model names onto CodeWhisperer wire ids.
var modelIDs = map[string]string{
	"claude-sonnet-4-5": "CLAUDE_SONNET_4_5_20250929_V1_0",
	"claude-sonnet-4":   "CLAUDE_SONNET_4_20250514_V1_0",
	"claude-3-7-sonnet": "CLAUDE_3_7_SONNET_20250219_V1_0",
	"claude-haiku-4-5":  "CLAUDE_HAIKU_4_5_20251001_V1_0",
}

// resolveModelID passes unknown names through unchanged so a new upstream
// id can be used before this table learns it.
func resolveModelID(model string) string {
	if id, ok := modelIDs[model]; ok {
		return id
	}
	return model
}

func (p *Provider) ListModels(_ context.Context, _ *upstream.Call) ([]upstream.ModelInfo, error) {
	names := make([]string, 0, len(modelIDs))
	for name := range modelIDs {
		names = append(names, name)
	}
	sort.Strings(names)

	infos := make([]upstream.ModelInfo, 0, len(names))
	for _, name := range names {
		infos = append(infos, upstream.ModelInfo{
			ID:        name,
			Reasoning: strings.Contains(name, "sonnet"),
		})
	}
	return infos, nil
}
