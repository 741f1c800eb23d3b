package translator

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
)

func translateMessages(rawJSON []byte) ([]interface{}, []interface{}, error) {
	messages := gjson.GetBytes(rawJSON, "messages")
	var contents []interface{}
	var systemInstructions []interface{}

	for _, msg := range messages.Array() {
		role := msg.Get("role").String()
		content := msg.Get("content")

		switch role {
		case "system", "developer":
			if content.IsArray() {
				for _, part := range content.Array() {
					converted, err := convertContentPart(part)
					if err != nil {
						return nil, nil, err
					}
					systemInstructions = append(systemInstructions, converted)
				}
			} else {
				systemInstructions = append(systemInstructions, map[string]interface{}{
					"text": sanitizeText(content.String()),
				})
			}

		case "user":
			geminiMsg := map[string]interface{}{
				"role":  "user",
				"parts": []interface{}{},
			}
			if content.IsArray() {
				var parts []interface{}
				for _, part := range content.Array() {
					converted, err := convertContentPart(part)
					if err != nil {
						return nil, nil, err
					}
					parts = append(parts, converted)
				}
				geminiMsg["parts"] = parts
			} else {
				geminiMsg["parts"] = []interface{}{
					map[string]interface{}{"text": sanitizeText(content.String())},
				}
			}
			contents = append(contents, geminiMsg)

		case "assistant":
			geminiMsg := map[string]interface{}{
				"role":  "model",
				"parts": []interface{}{},
			}
			var parts []interface{}

			if reasoning := openAIReasoningText(msg); reasoning != "" {
				thoughtPart := map[string]interface{}{
					"text":    reasoning,
					"thought": true,
				}
				if sig := msg.Get("reasoning_signature").String(); sig != "" {
					thoughtPart["thoughtSignature"] = sig
				}
				parts = append(parts, thoughtPart)
			}

			if content.Exists() {
				if content.IsArray() {
					for _, part := range content.Array() {
						converted, err := convertContentPart(part)
						if err != nil {
							return nil, nil, err
						}
						parts = append(parts, converted)
					}
				} else if content.String() != "" {
					parts = append(parts, map[string]interface{}{"text": sanitizeText(content.String())})
				}
			}

			if toolCalls := msg.Get("tool_calls"); toolCalls.IsArray() {
				for _, tc := range toolCalls.Array() {
					if tc.Get("type").String() != "function" && tc.Get("type").Exists() {
						continue
					}
					fnName := tc.Get("function.name").String()
					parts = append(parts, map[string]interface{}{
						"functionCall": map[string]interface{}{
							"name": fnName,
							"args": parseToolArguments(fnName, tc.Get("id").String(), tc.Get("function.arguments").String()),
						},
					})
				}
			}

			if len(parts) > 0 {
				geminiMsg["parts"] = parts
				contents = append(contents, geminiMsg)
			}

		case "tool":
			toolCallID := msg.Get("tool_call_id").String()
			name := msg.Get("name").String()

			var responseContent interface{}
			contentStr := sanitizeText(content.String())
			if err := json.Unmarshal([]byte(contentStr), &responseContent); err != nil {
				responseContent = map[string]interface{}{
					"result": contentStr,
				}
			}

			funcResp := map[string]interface{}{
				"functionResponse": map[string]interface{}{
					"name":     name,
					"response": responseContent,
				},
			}

			if toolCallID != "" {
				funcResp["functionResponse"].(map[string]interface{})["id"] = toolCallID
			}

			geminiMsg := map[string]interface{}{
				"role":  "user",
				"parts": []interface{}{funcResp},
			}
			contents = append(contents, geminiMsg)
		}
	}

	contents = sanitizeMessages(contents)
	systemInstructions = sanitizeParts(systemInstructions)
	return contents, systemInstructions, nil
}

// convertContentPart converts an OpenAI content part to Gemini format.
// Remote image URLs cannot be fetched on the Gemini side, so only data URLs
// are representable.
func convertContentPart(part gjson.Result) (interface{}, error) {
	partType := part.Get("type").String()

	switch partType {
	case "text":
		return map[string]interface{}{
			"text": sanitizeText(part.Get("text").String()),
		}, nil

	case "image_url":
		imageURL := part.Get("image_url.url").String()
		if mediaType, data, ok := parseDataURL(imageURL); ok {
			return map[string]interface{}{
				"inlineData": map[string]interface{}{
					"mimeType": detectImageMIME(mediaType),
					"data":     data,
				},
			}, nil
		}
		return nil, &UnsupportedFieldError{Field: "image_url", Target: FormatGemini}

	case "audio":
		if audioData := part.Get("audio"); audioData.Exists() && audioData.Get("data").Exists() {
			return map[string]interface{}{
				"inlineData": map[string]interface{}{
					"mimeType": part.Get("audio.format").String(),
					"data":     part.Get("audio.data").String(),
				},
			}, nil
		}

	case "video":
		if videoURL := part.Get("video.url"); videoURL.Exists() {
			return map[string]interface{}{
				"fileData": map[string]interface{}{
					"fileUri": videoURL.String(),
				},
			}, nil
		}
	}

	var result interface{}
	if err := json.Unmarshal([]byte(part.Raw), &result); err == nil {
		return result, nil
	}

	return map[string]interface{}{
		"text": sanitizeText(part.Raw),
	}, nil
}

func mergeConsecutiveMessages(contents []interface{}) []interface{} {
	if len(contents) <= 1 {
		return contents
	}

	merged := make([]interface{}, 0, len(contents))
	var current map[string]interface{}

	for _, item := range contents {
		msg, ok := item.(map[string]interface{})
		if !ok {
			if current != nil {
				merged = append(merged, current)
				current = nil
			}
			merged = append(merged, item)
			continue
		}

		role, hasRole := msg["role"].(string)
		if !hasRole {
			if current != nil {
				merged = append(merged, current)
				current = nil
			}
			merged = append(merged, msg)
			continue
		}

		if current == nil || current["role"].(string) != role {
			if current != nil {
				merged = append(merged, current)
			}
			current = msg
			continue
		}

		currentParts, hasParts := current["parts"].([]interface{})
		msgParts, hasMsgParts := msg["parts"].([]interface{})

		if hasParts && hasMsgParts {
			current["parts"] = append(currentParts, msgParts...)
		} else if hasMsgParts {
			current["parts"] = msgParts
		}
	}

	if current != nil {
		merged = append(merged, current)
	}

	return merged
}

func detectImageMIME(prefix string) string {
	switch {
	case strings.Contains(prefix, "image/png"):
		return "image/png"
	case strings.Contains(prefix, "image/webp"):
		return "image/webp"
	case strings.Contains(prefix, "image/gif"):
		return "image/gif"
	case strings.Contains(prefix, "image/heic"):
		return "image/heic"
	case strings.Contains(prefix, "image/heif"):
		return "image/heif"
	default:
		return "image/jpeg"
	}
}
