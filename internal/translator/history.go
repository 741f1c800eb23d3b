package translator

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// SanitizeToolHistory enforces tool_use/tool_result pairing on an
// Anthropic-format request. Strict upstream validators reject histories
// with orphaned halves, so:
//
//   - tool_use blocks without an id get a generated one, propagated to the
//     matching tool_result in arrival order;
//   - tool_result blocks that reference no preceding tool_use are demoted
//     to plain user text;
//   - tool_use blocks with no tool_result in any later message are dropped;
//   - tool names that appear in history but not in the request's tool list
//     get placeholder definitions so schema validation passes.
func SanitizeToolHistory(rawJSON []byte) []byte {
	msgsResult := gjson.GetBytes(rawJSON, "messages")
	if !msgsResult.IsArray() {
		return rawJSON
	}
	var messages []map[string]any
	if err := json.Unmarshal([]byte(msgsResult.Raw), &messages); err != nil {
		return rawJSON
	}

	assignToolIDs(messages)
	uses, results := toolPositions(messages)

	historyNames := map[string]bool{}
	for mi, msg := range messages {
		blocks, ok := msg["content"].([]any)
		if !ok {
			continue
		}
		role, _ := msg["role"].(string)
		kept := make([]any, 0, len(blocks))
		for _, b := range blocks {
			block, ok := b.(map[string]any)
			if !ok {
				kept = append(kept, b)
				continue
			}
			switch block["type"] {
			case "tool_use":
				id, _ := block["id"].(string)
				if role == "assistant" && !anyAfter(results[id], mi) {
					log.WithField("tool_id", id).Debug("dropping orphaned tool_use from history")
					continue
				}
				if name, _ := block["name"].(string); name != "" {
					historyNames[name] = true
				}
				kept = append(kept, block)
			case "tool_result":
				id, _ := block["tool_use_id"].(string)
				if !anyBefore(uses[id], mi) {
					if text := toolResultText(block); text != "" {
						kept = append(kept, map[string]any{"type": "text", "text": text})
					}
					log.WithField("tool_use_id", id).Debug("demoted unmatched tool_result to text")
					continue
				}
				kept = append(kept, block)
			default:
				kept = append(kept, block)
			}
		}
		msg["content"] = kept
	}

	pruned := make([]map[string]any, 0, len(messages))
	for _, msg := range messages {
		if blocks, ok := msg["content"].([]any); ok && len(blocks) == 0 {
			continue
		}
		pruned = append(pruned, msg)
	}

	msgJSON, err := json.Marshal(pruned)
	if err != nil {
		return rawJSON
	}
	out, err := sjson.SetRawBytes(rawJSON, "messages", msgJSON)
	if err != nil {
		return rawJSON
	}
	return addPlaceholderTools(out, historyNames)
}

// assignToolIDs generates ids for empty tool_use blocks and propagates them
// to empty tool_result references in arrival order.
func assignToolIDs(messages []map[string]any) {
	var queue []string
	for mi, msg := range messages {
		blocks, ok := msg["content"].([]any)
		if !ok {
			continue
		}
		for bi, b := range blocks {
			block, ok := b.(map[string]any)
			if !ok {
				continue
			}
			switch block["type"] {
			case "tool_use":
				if id, _ := block["id"].(string); id == "" {
					id = fmt.Sprintf("toolu_hist_%d_%d", mi, bi)
					block["id"] = id
					queue = append(queue, id)
				}
			case "tool_result":
				if id, _ := block["tool_use_id"].(string); id == "" && len(queue) > 0 {
					block["tool_use_id"] = queue[0]
					queue = queue[1:]
				}
			}
		}
	}
}

// toolPositions indexes, per id, the message positions of tool_use and
// tool_result blocks.
func toolPositions(messages []map[string]any) (uses, results map[string][]int) {
	uses = map[string][]int{}
	results = map[string][]int{}
	for mi, msg := range messages {
		blocks, ok := msg["content"].([]any)
		if !ok {
			continue
		}
		for _, b := range blocks {
			block, ok := b.(map[string]any)
			if !ok {
				continue
			}
			switch block["type"] {
			case "tool_use":
				if id, _ := block["id"].(string); id != "" {
					uses[id] = append(uses[id], mi)
				}
			case "tool_result":
				if id, _ := block["tool_use_id"].(string); id != "" {
					results[id] = append(results[id], mi)
				}
			}
		}
	}
	return uses, results
}

func anyBefore(positions []int, idx int) bool {
	for _, p := range positions {
		if p < idx {
			return true
		}
	}
	return false
}

func anyAfter(positions []int, idx int) bool {
	for _, p := range positions {
		if p > idx {
			return true
		}
	}
	return false
}

// toolResultText flattens a tool_result's content to plain text.
func toolResultText(block map[string]any) string {
	switch v := block["content"].(type) {
	case string:
		return v
	case []any:
		var parts []string
		for _, item := range v {
			if m, ok := item.(map[string]any); ok {
				if t, _ := m["text"].(string); t != "" {
					parts = append(parts, t)
				}
			}
		}
		return strings.Join(parts, "\n")
	default:
		return ""
	}
}

// addPlaceholderTools appends stub definitions for tools referenced only in
// history so upstream schema validation accepts the payload.
func addPlaceholderTools(rawJSON []byte, historyNames map[string]bool) []byte {
	if len(historyNames) == 0 {
		return rawJSON
	}
	declared := map[string]bool{}
	if tools := gjson.GetBytes(rawJSON, "tools"); tools.IsArray() {
		for _, t := range tools.Array() {
			if n := t.Get("name").String(); n != "" {
				declared[n] = true
			}
			if n := t.Get("function.name").String(); n != "" {
				declared[n] = true
			}
		}
	}

	var missing []string
	for name := range historyNames {
		if !declared[name] {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return rawJSON
	}
	sort.Strings(missing)

	out := rawJSON
	for _, name := range missing {
		placeholder := map[string]any{
			"name":        name,
			"description": "Tool used in conversation history",
			"input_schema": map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
		}
		next, err := sjson.SetBytes(out, "tools.-1", placeholder)
		if err != nil {
			return out
		}
		out = next
	}
	log.WithField("tools", missing).Debug("added placeholder definitions for history tools")
	return out
}

// MergeAlternatingHistory flattens an Anthropic history array into the
// strict user/assistant alternation some upstreams require. Same-role runs
// merge into one message, tool-only assistant turns receive a single-space
// text block, and a history that would end on a user turn is closed with a
// synthetic assistant "OK".
func MergeAlternatingHistory(messagesJSON []byte) []byte {
	var messages []map[string]any
	if err := json.Unmarshal(messagesJSON, &messages); err != nil {
		return messagesJSON
	}

	var merged []map[string]any
	for _, msg := range messages {
		role, _ := msg["role"].(string)
		blocks := contentBlocks(msg["content"])
		if len(merged) > 0 {
			last := merged[len(merged)-1]
			if lastRole, _ := last["role"].(string); lastRole == role {
				last["content"] = append(contentBlocks(last["content"]), blocks...)
				continue
			}
		}
		msg["content"] = blocks
		merged = append(merged, msg)
	}

	for _, msg := range merged {
		if role, _ := msg["role"].(string); role == "assistant" {
			msg["content"] = ensureAssistantText(contentBlocks(msg["content"]))
		}
	}

	if n := len(merged); n > 0 {
		if role, _ := merged[n-1]["role"].(string); role == "user" {
			merged = append(merged, map[string]any{
				"role":    "assistant",
				"content": []any{map[string]any{"type": "text", "text": "OK"}},
			})
		}
	}

	out, err := json.Marshal(merged)
	if err != nil {
		return messagesJSON
	}
	return out
}

// contentBlocks normalizes string-or-array content to a block slice.
func contentBlocks(content any) []any {
	switch v := content.(type) {
	case string:
		if v == "" {
			return nil
		}
		return []any{map[string]any{"type": "text", "text": v}}
	case []any:
		return v
	default:
		return nil
	}
}

// ensureAssistantText fronts tool-only assistant content with a single
// space so upstreams that reject empty assistant text accept the turn.
func ensureAssistantText(blocks []any) []any {
	hasText := false
	hasToolUse := false
	for _, b := range blocks {
		block, ok := b.(map[string]any)
		if !ok {
			continue
		}
		switch block["type"] {
		case "text":
			hasText = true
		case "tool_use":
			hasToolUse = true
		}
	}
	if hasToolUse && !hasText {
		return append([]any{map[string]any{"type": "text", "text": " "}}, blocks...)
	}
	return blocks
}

// FilterWebSearchTools drops the provider-builtin web_search tool when the
// request mixes it with ordinary function tools, and demotes a tool_choice
// that names it to auto. Works on both Anthropic and OpenAI tool shapes.
func FilterWebSearchTools(rawJSON []byte) []byte {
	tools := gjson.GetBytes(rawJSON, "tools")
	if !tools.IsArray() {
		return rawJSON
	}

	var kept []string
	dropped := 0
	for _, t := range tools.Array() {
		if isWebSearchTool(t) {
			dropped++
			continue
		}
		kept = append(kept, t.Raw)
	}
	if dropped == 0 || len(kept) == 0 {
		return rawJSON
	}
	log.WithField("dropped", dropped).Info("dropping web_search tools mixed with function tools")

	var b strings.Builder
	b.WriteByte('[')
	for i, raw := range kept {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(raw)
	}
	b.WriteByte(']')
	out, err := sjson.SetRawBytes(rawJSON, "tools", []byte(b.String()))
	if err != nil {
		return rawJSON
	}

	tc := gjson.GetBytes(out, "tool_choice")
	switch {
	case tc.Get("function.name").String() == "web_search":
		out, _ = sjson.SetBytes(out, "tool_choice", "auto")
	case tc.Get("name").String() == "web_search":
		out, _ = sjson.SetBytes(out, "tool_choice", map[string]any{"type": "auto"})
	}
	return out
}

func isWebSearchTool(t gjson.Result) bool {
	if t.Get("name").String() == "web_search" || t.Get("function.name").String() == "web_search" {
		return true
	}
	return strings.HasPrefix(t.Get("type").String(), "web_search")
}

// chunkedWriteMarker keys idempotency for InjectChunkedWritePolicy.
const chunkedWriteMarker = "first write MUST NOT exceed 150 lines"

const chunkedWritePolicy = "File write policy: the first write MUST NOT " +
	"exceed 150 lines; continue the file with appends of at most 50 lines " +
	"each until it is complete."

// InjectChunkedWritePolicy appends the chunked file-write policy to a
// system prompt for providers whose editor tooling enforces it. Calling it
// on its own output is a no-op.
func InjectChunkedWritePolicy(system string) string {
	if strings.Contains(system, chunkedWriteMarker) {
		return system
	}
	if system == "" {
		return chunkedWritePolicy
	}
	return system + "\n\n" + chunkedWritePolicy
}
