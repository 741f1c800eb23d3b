package kiro

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"omni2api-go/internal/translator"
)

const originAIEditor = "AI_EDITOR"

// BuildRequest converts a Chat Completions payload into the CodeWhisperer
// conversationState envelope. Upstream validates hard: history must
// alternate user/assistant strictly and end on an assistant turn, so the
// newest user run becomes currentMessage and everything before it is merged
// into shape first.
func BuildRequest(payload []byte, model string) ([]byte, error) {
	anth, err := translator.OpenAIToAnthropicRequest(model, payload, false)
	if err != nil {
		return nil, err
	}
	anth = translator.SanitizeToolHistory(anth)

	root := gjson.ParseBytes(anth)
	msgs := root.Get("messages")
	if !msgs.IsArray() || len(msgs.Array()) == 0 {
		return nil, fmt.Errorf("kiro: request has no messages")
	}

	var raw []map[string]any
	if err := json.Unmarshal([]byte(msgs.Raw), &raw); err != nil {
		return nil, fmt.Errorf("kiro: parse messages: %w", err)
	}

	split := len(raw)
	for split > 0 && roleOf(raw[split-1]) == "user" {
		split--
	}

	content, toolResults := collectUserRun(raw[split:])
	if content == "" && len(toolResults) == 0 {
		content = "Continue"
	}
	// The editor tooling enforces chunked writes; its policy rides in with
	// the system text since the wire has no system slot of its own.
	system := translator.InjectChunkedWritePolicy(root.Get("system").String())
	if content == "" {
		content = system
	} else {
		content = system + "\n\n" + content
	}

	history, err := buildHistory(raw[:split], model)
	if err != nil {
		return nil, err
	}

	userMsg := map[string]any{
		"content": content,
		"modelId": resolveModelID(model),
		"origin":  originAIEditor,
	}
	msgCtx := map[string]any{}
	if specs := toolSpecifications(root.Get("tools")); len(specs) > 0 {
		msgCtx["tools"] = specs
	}
	if len(toolResults) > 0 {
		msgCtx["toolResults"] = toolResults
	}
	if len(msgCtx) > 0 {
		userMsg["userInputMessageContext"] = msgCtx
	}

	state := map[string]any{
		"chatTriggerType": "MANUAL",
		"conversationId":  uuid.NewString(),
		"currentMessage":  map[string]any{"userInputMessage": userMsg},
	}
	if len(history) > 0 {
		state["history"] = history
	}
	return json.Marshal(map[string]any{"conversationState": state})
}

func roleOf(msg map[string]any) string {
	role, _ := msg["role"].(string)
	return role
}

// collectUserRun flattens a run of user messages into current-message text
// plus the tool results answering the previous assistant turn.
func collectUserRun(run []map[string]any) (string, []map[string]any) {
	var texts []string
	var results []map[string]any
	for _, msg := range run {
		for _, b := range blockList(msg["content"]) {
			block, ok := b.(map[string]any)
			if !ok {
				continue
			}
			switch block["type"] {
			case "text":
				if s, _ := block["text"].(string); strings.TrimSpace(s) != "" {
					texts = append(texts, s)
				}
			case "tool_result":
				results = append(results, toolResultEntry(block))
			}
		}
	}
	return strings.Join(texts, "\n"), results
}

// buildHistory renders the conversation head as alternating wire entries.
func buildHistory(head []map[string]any, model string) ([]map[string]any, error) {
	if len(head) == 0 {
		return nil, nil
	}
	headJSON, err := json.Marshal(head)
	if err != nil {
		return nil, err
	}
	var msgs []map[string]any
	if err := json.Unmarshal(translator.MergeAlternatingHistory(headJSON), &msgs); err != nil {
		return nil, fmt.Errorf("kiro: merge history: %w", err)
	}

	var history []map[string]any
	for _, msg := range msgs {
		if roleOf(msg) == "user" {
			history = append(history, map[string]any{"userInputMessage": historyUserEntry(msg, model)})
			continue
		}
		if len(history) == 0 {
			// History must open with a user turn.
			history = append(history, map[string]any{"userInputMessage": map[string]any{
				"content": " ",
				"modelId": resolveModelID(model),
				"origin":  originAIEditor,
			}})
		}
		history = append(history, map[string]any{"assistantResponseMessage": assistantEntry(msg)})
	}
	return history, nil
}

func historyUserEntry(msg map[string]any, model string) map[string]any {
	content, results := collectUserRun([]map[string]any{msg})
	if content == "" {
		content = " "
	}
	entry := map[string]any{
		"content": content,
		"modelId": resolveModelID(model),
		"origin":  originAIEditor,
	}
	if len(results) > 0 {
		entry["userInputMessageContext"] = map[string]any{"toolResults": results}
	}
	return entry
}

func assistantEntry(msg map[string]any) map[string]any {
	var texts []string
	var uses []map[string]any
	for _, b := range blockList(msg["content"]) {
		block, ok := b.(map[string]any)
		if !ok {
			continue
		}
		switch block["type"] {
		case "text":
			if s, _ := block["text"].(string); s != "" {
				texts = append(texts, s)
			}
		case "tool_use":
			uses = append(uses, map[string]any{
				"toolUseId": block["id"],
				"name":      block["name"],
				"input":     block["input"],
			})
		}
	}
	entry := map[string]any{"content": strings.Join(texts, "\n")}
	if len(uses) > 0 {
		entry["toolUses"] = uses
	}
	return entry
}

func toolResultEntry(block map[string]any) map[string]any {
	status := "success"
	if isErr, _ := block["is_error"].(bool); isErr {
		status = "error"
	}
	return map[string]any{
		"toolUseId": block["tool_use_id"],
		"content":   []any{map[string]any{"text": resultText(block["content"])}},
		"status":    status,
	}
}

func resultText(content any) string {
	switch v := content.(type) {
	case string:
		return v
	case []any:
		var parts []string
		for _, b := range v {
			if block, ok := b.(map[string]any); ok {
				if s, _ := block["text"].(string); s != "" {
					parts = append(parts, s)
				}
			}
		}
		return strings.Join(parts, "\n")
	case nil:
		return ""
	}
	data, err := json.Marshal(content)
	if err != nil {
		return ""
	}
	return string(data)
}

func toolSpecifications(tools gjson.Result) []any {
	if !tools.IsArray() {
		return nil
	}
	var specs []any
	for _, t := range tools.Array() {
		name := t.Get("name").String()
		if name == "" {
			continue
		}
		schema := `{"type":"object","properties":{}}`
		if s := t.Get("input_schema"); s.IsObject() {
			schema = s.Raw
		}
		specs = append(specs, map[string]any{
			"toolSpecification": map[string]any{
				"name":        name,
				"description": t.Get("description").String(),
				"inputSchema": map[string]any{"json": json.RawMessage(schema)},
			},
		})
	}
	return specs
}

// blockList normalizes string-or-array content to a block slice.
func blockList(content any) []any {
	switch v := content.(type) {
	case string:
		if v == "" {
			return nil
		}
		return []any{map[string]any{"type": "text", "text": v}}
	case []any:
		return v
	}
	return nil
}
