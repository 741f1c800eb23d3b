package common

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"

	"omni2api-go/internal/apierr"
)

// ParsedRequest is one client call body with the routing fields pulled out.
// The body is kept as raw bytes so translators and debug logging see the
// request exactly as it arrived.
type ParsedRequest struct {
	Body   []byte
	Model  string
	Stream bool
}

// ParseJSONBody reads and validates the request body. Model and stream are
// extracted when present; the chat and messages surfaces require model, the
// Gemini surface takes it from the path instead.
func ParseJSONBody(c *gin.Context) (*ParsedRequest, *apierr.APIError) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return nil, apierr.Newf(http.StatusBadRequest, "invalid_request_error", "read request body: %v", err)
	}
	if len(body) == 0 {
		return nil, apierr.New(http.StatusBadRequest, "invalid_request_error", "invalid_request_error",
			"request body is empty")
	}
	if !gjson.ValidBytes(body) {
		return nil, apierr.New(http.StatusBadRequest, "invalid_request_error", "invalid_request_error",
			"request body is not valid JSON")
	}
	return &ParsedRequest{
		Body:   body,
		Model:  strings.TrimSpace(gjson.GetBytes(body, "model").String()),
		Stream: gjson.GetBytes(body, "stream").Bool(),
	}, nil
}

// RequireModel rejects requests that omit the model field.
func (r *ParsedRequest) RequireModel() *apierr.APIError {
	if r.Model == "" {
		return apierr.New(http.StatusBadRequest, "invalid_request_error", "invalid_request_error",
			"missing required field: model")
	}
	return nil
}

// RequireArray rejects requests whose named field is absent or not an array.
// Used for messages on the chat surfaces and contents on Gemini.
func (r *ParsedRequest) RequireArray(field string) *apierr.APIError {
	v := gjson.GetBytes(r.Body, field)
	if !v.Exists() {
		return apierr.Newf(http.StatusBadRequest, "invalid_request_error", "missing required field: %s", field)
	}
	if !v.IsArray() {
		return apierr.Newf(http.StatusBadRequest, "invalid_request_error", "%s must be an array", field)
	}
	return nil
}

// SplitModelAction parses the Gemini path segment "model:operation" out of
// a wildcard route parameter. The leading slash gin leaves on wildcards is
// stripped first.
func SplitModelAction(param string) (model, action string, err *apierr.APIError) {
	raw := strings.TrimPrefix(param, "/")
	idx := strings.LastIndex(raw, ":")
	if idx <= 0 || idx == len(raw)-1 {
		return "", "", apierr.New(http.StatusNotFound, "not_found", "invalid_request_error",
			fmt.Sprintf("unrecognized model action %q", raw))
	}
	return raw[:idx], raw[idx+1:], nil
}
