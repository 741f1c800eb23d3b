package translator

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"omni2api-go/internal/constants"
)

func init() {
	// Direct request translation. Responses and streams for this pair pivot
	// through the hub.
	Register(FormatOpenAIResponses, FormatGemini, TranslatorConfig{
		RequestTransform: OpenAIResponsesToGeminiRequest,
	})
}

// OpenAIResponsesToGeminiRequest converts a Responses API request straight
// to Gemini format.
func OpenAIResponsesToGeminiRequest(model string, rawJSON []byte, _ bool) ([]byte, error) {
	rawJSON = FilterWebSearchTools(rawJSON)
	out := `{"contents":[]}`

	gen := map[string]any{"candidateCount": 1}
	if v := gjson.GetBytes(rawJSON, "temperature"); v.Exists() {
		gen["temperature"] = v.Value()
	}
	if v := gjson.GetBytes(rawJSON, "top_p"); v.Exists() {
		gen["topP"] = v.Value()
	}
	topKValue := constants.DefaultTopK
	if v := gjson.GetBytes(rawJSON, "top_k"); v.Exists() {
		value := int(v.Int())
		if value <= 0 {
			value = constants.DefaultTopK
		}
		if value > constants.MaxTopK {
			value = constants.MaxTopK
		}
		topKValue = value
	}
	gen["topK"] = topKValue

	maxTokensValue := -1
	if v := gjson.GetBytes(rawJSON, "max_output_tokens"); v.Exists() {
		maxTokensValue = int(v.Int())
	} else if v := gjson.GetBytes(rawJSON, "max_tokens"); v.Exists() {
		maxTokensValue = int(v.Int())
	}
	if maxTokensValue > 0 {
		if maxTokensValue > constants.MaxOutputTokens {
			maxTokensValue = constants.MaxOutputTokens
		}
		gen["maxOutputTokens"] = maxTokensValue
	}
	if v := gjson.GetBytes(rawJSON, "frequency_penalty"); v.Exists() {
		gen["frequencyPenalty"] = v.Value()
	}
	if v := gjson.GetBytes(rawJSON, "presence_penalty"); v.Exists() {
		gen["presencePenalty"] = v.Value()
	}
	if v := gjson.GetBytes(rawJSON, "n"); v.Exists() {
		gen["candidateCount"] = int(v.Int())
	}
	if v := gjson.GetBytes(rawJSON, "seed"); v.Exists() {
		gen["seed"] = int(v.Int())
	}
	if effort := gjson.GetBytes(rawJSON, "reasoning.effort"); effort.Exists() {
		gen["thinkingConfig"] = buildThinkingConfig(effort.String())
	}
	if stop := gjson.GetBytes(rawJSON, "stop"); stop.Exists() {
		if stopSeqs := collectStopSequences(stop); len(stopSeqs) > 0 {
			gen["stopSequences"] = stopSeqs
		}
	}
	out, _ = sjson.SetRaw(out, "generationConfig", mustJSON(gen))

	if inst := gjson.GetBytes(rawJSON, "instructions"); inst.String() != "" {
		sys := map[string]any{"parts": []any{map[string]any{"text": inst.String()}}}
		out, _ = sjson.SetRaw(out, "systemInstruction", mustJSON(sys))
	}

	contents, err := responsesInputToGeminiContents(gjson.GetBytes(rawJSON, "input"))
	if err != nil {
		return nil, err
	}
	if len(contents) > 0 {
		out, _ = sjson.SetRaw(out, "contents", mustJSON(contents))
	}

	if tools := gjson.GetBytes(rawJSON, "tools"); tools.IsArray() {
		var fdecl []any
		for _, t := range tools.Array() {
			if t.Get("type").String() != "function" {
				continue
			}
			params := t.Get("parameters").Raw
			if params == "" {
				params = `{"type":"object","properties":{}}`
			}
			fdecl = append(fdecl, map[string]any{
				"name":        t.Get("name").String(),
				"description": t.Get("description").String(),
				"parameters":  json.RawMessage(params),
			})
		}
		if len(fdecl) > 0 {
			out, _ = sjson.SetRaw(out, "tools", mustJSON([]any{map[string]any{"functionDeclarations": fdecl}}))
		}
	}

	return []byte(out), nil
}

// responsesInputToGeminiContents maps input items onto Gemini contents, one
// content per item.
func responsesInputToGeminiContents(input gjson.Result) ([]any, error) {
	var contents []any
	if !input.Exists() {
		return nil, nil
	}
	if input.Type == gjson.String {
		return []any{map[string]any{
			"role":  "user",
			"parts": []any{map[string]any{"text": input.String()}},
		}}, nil
	}

	// Bare text and image items show up from clients that skip the message
	// wrapper. They accumulate into a trailing user content.
	var bare []any
	flushBare := func() {
		if len(bare) > 0 {
			contents = append(contents, map[string]any{"role": "user", "parts": bare})
			bare = nil
		}
	}

	for _, item := range input.Array() {
		itemType := item.Get("type").String()
		if itemType == "" && item.Get("role").Exists() {
			itemType = "message"
		}
		switch itemType {
		case "input_text", "text", "output_text":
			if txt := item.Get("text").String(); txt != "" {
				bare = append(bare, map[string]any{"text": txt})
			}
			continue
		case "input_image", "image_url":
			url := item.Get("image_url").String()
			if url == "" || strings.HasPrefix(url, "{") {
				url = item.Get("image_url.url").String()
			}
			mediaType, data, ok := parseDataURL(url)
			if !ok {
				return nil, &UnsupportedFieldError{Field: "image_url", Target: FormatGemini}
			}
			bare = append(bare, map[string]any{
				"inlineData": map[string]any{"mimeType": detectImageMIME(mediaType), "data": data},
			})
			continue
		}
		flushBare()
		switch itemType {
		case "message":
			role := "user"
			if r := strings.ToLower(item.Get("role").String()); r == "assistant" || r == "model" {
				role = "model"
			}
			var parts []any
			content := item.Get("content")
			if content.Type == gjson.String {
				parts = append(parts, map[string]any{"text": content.String()})
			} else {
				for _, ci := range content.Array() {
					switch ci.Get("type").String() {
					case "input_text", "output_text", "text":
						if txt := ci.Get("text").String(); txt != "" {
							parts = append(parts, map[string]any{"text": txt})
						}
					case "input_image":
						url := ci.Get("image_url").String()
						mediaType, data, ok := parseDataURL(url)
						if !ok {
							return nil, &UnsupportedFieldError{Field: "input_image", Target: FormatGemini}
						}
						parts = append(parts, map[string]any{
							"inlineData": map[string]any{"mimeType": detectImageMIME(mediaType), "data": data},
						})
					}
				}
			}
			if len(parts) > 0 {
				contents = append(contents, map[string]any{"role": role, "parts": parts})
			}
		case "function_call":
			args := parseToolArguments(item.Get("name").String(), item.Get("call_id").String(), item.Get("arguments").String())
			contents = append(contents, map[string]any{
				"role": "model",
				"parts": []any{map[string]any{
					"functionCall": map[string]any{
						"name": item.Get("name").String(),
						"args": args,
					},
				}},
			})
		case "function_call_output":
			var responseContent any
			output := item.Get("output").String()
			if err := json.Unmarshal([]byte(output), &responseContent); err != nil {
				responseContent = map[string]any{"result": output}
			}
			contents = append(contents, map[string]any{
				"role": "user",
				"parts": []any{map[string]any{
					"functionResponse": map[string]any{
						"id":       item.Get("call_id").String(),
						"name":     item.Get("name").String(),
						"response": responseContent,
					},
				}},
			})
		}
	}
	flushBare()
	return contents, nil
}

func mustJSON(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}
