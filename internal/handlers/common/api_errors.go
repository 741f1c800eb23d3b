package common

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"omni2api-go/internal/apierr"
	"omni2api-go/internal/upstream"
)

// AbortWithAPIError renders the error in whichever wire format the request
// path implies and stops the handler chain. Pool-exhaustion errors carry a
// retry hint in Details; it is surfaced as the standard Retry-After header.
func AbortWithAPIError(c *gin.Context, e *apierr.APIError) {
	if e == nil {
		e = apierr.New(http.StatusInternalServerError, "server_error", "server_error", "unknown error")
	}
	if retry := upstream.RetryAfterSeconds(e); retry > 0 {
		c.Header("Retry-After", strconv.Itoa(retry))
	}

	format := apierr.DetectFromRequest(c.Request)
	payload, err := e.ToJSON(format)
	if err != nil {
		c.AbortWithStatusJSON(safeStatus(e.HTTPStatus), gin.H{
			"error": gin.H{"message": e.Message, "type": e.Type, "code": e.Code},
		})
		return
	}
	c.Data(safeStatus(e.HTTPStatus), "application/json", payload)
	c.Abort()
}

// AbortWithError is the shorthand for locally produced failures where the
// code doubles as the type.
func AbortWithError(c *gin.Context, status int, code, message string) {
	AbortWithAPIError(c, apierr.New(status, code, code, message))
}

// AbortDispatchError maps any error out of the dispatch path onto the
// client wire and returns the rendered form for usage accounting.
func AbortDispatchError(c *gin.Context, err error) *apierr.APIError {
	e := upstream.AsAPIError(err)
	AbortWithAPIError(c, e)
	return e
}

// safeStatus keeps the response status inside the error range. 499 is the
// nginx client-closed convention and passes through.
func safeStatus(status int) int {
	if status >= 400 && status <= 599 {
		return status
	}
	return http.StatusInternalServerError
}
