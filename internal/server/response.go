package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Stable machine-readable error codes.
const (
	codeInternal    = "internal_error"
	codeBadRequest  = "bad_request"
	codeNotFound    = "not_found"
	codeNotAllowed  = "method_not_allowed"
	codeRateLimited = "rate_limited"
	codeUnavailable = "unavailable"
)

// errorResponse is the error envelope returned by every endpoint. The
// request ID lets an operator correlate the response with the access log.
type errorResponse struct {
	RequestID string `json:"request_id,omitempty"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

// fail aborts the request with a structured error. Server-side failures
// are additionally logged with request context.
func fail(c *gin.Context, status int, code, msg string) {
	resp := errorResponse{
		RequestID: c.Writer.Header().Get(requestIDHeader),
		Code:      code,
		Message:   msg,
	}
	if status >= http.StatusInternalServerError {
		loggerFrom(c).Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("ops api error")
	}
	c.AbortWithStatusJSON(status, resp)
}
