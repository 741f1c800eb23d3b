package zai

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"omni2api-go/internal/apierr"
)

const (
	defaultTTSModel   = "cogtts"
	defaultImageModel = "cogview-3-flash"
	defaultVoice      = "tongtong"
	defaultFormat     = "wav"
)

// normalizeSpeech fills the defaults the speech endpoint requires and
// reports the effective response format so the artifact gets the right
// extension.
func normalizeSpeech(payload []byte, model string) ([]byte, string, error) {
	if strings.TrimSpace(gjson.GetBytes(payload, "input").String()) == "" {
		return nil, "", apierr.Newf(http.StatusBadRequest, "invalid_request_error", "input is required")
	}
	out, err := setDefaults(payload, model, defaultTTSModel, map[string]string{
		"voice":           defaultVoice,
		"response_format": defaultFormat,
	})
	if err != nil {
		return nil, "", err
	}
	return out, gjson.GetBytes(out, "response_format").String(), nil
}

func normalizeImage(payload []byte, model string) ([]byte, error) {
	if strings.TrimSpace(gjson.GetBytes(payload, "prompt").String()) == "" {
		return nil, apierr.Newf(http.StatusBadRequest, "invalid_request_error", "prompt is required")
	}
	return setDefaults(payload, model, defaultImageModel, nil)
}

func setDefaults(payload []byte, model, fallbackModel string, fields map[string]string) ([]byte, error) {
	if model == "" {
		model = gjson.GetBytes(payload, "model").String()
	}
	if model == "" {
		model = fallbackModel
	}
	out, err := sjson.SetBytes(payload, "model", model)
	if err != nil {
		return nil, fmt.Errorf("zai: set model: %w", err)
	}
	for key, val := range fields {
		if gjson.GetBytes(out, key).String() != "" {
			continue
		}
		if out, err = sjson.SetBytes(out, key, val); err != nil {
			return nil, fmt.Errorf("zai: set %s: %w", key, err)
		}
	}
	return out, nil
}

// extFor maps a speech response format onto an artifact file extension.
func extFor(format string) string {
	switch strings.ToLower(format) {
	case "mp3":
		return ".mp3"
	case "pcm":
		return ".pcm"
	default:
		return ".wav"
	}
}
