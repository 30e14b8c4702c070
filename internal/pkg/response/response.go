// Package response holds the shared HTTP envelope. Success responses carry
// the payload directly; failures carry {ok, code, error, message} where
// "error" is the stable domain code clients switch on.
package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/chainpass/core/internal/pkg/fault"
)

// OK sends a 200 response with the payload as the body.
func OK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, data)
}

// List sends a 200 response with data wrapped in {data: [...]}.
func List(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{"data": data})
}

// Created sends a 201 response.
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, data)
}

// NoContent sends a 204 response.
func NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// BadRequest sends a 400 response for malformed input.
func BadRequest(c *gin.Context, message string) {
	failWith(c, http.StatusBadRequest, fault.CodeBadRequest, message)
}

// Unauthorized sends a 401 response.
func Unauthorized(c *gin.Context) {
	failWith(c, http.StatusUnauthorized, fault.CodeUnauthorized, "authentication required")
}

// Forbidden sends a 403 response.
func Forbidden(c *gin.Context, message string) {
	failWith(c, http.StatusForbidden, fault.CodeForbidden, message)
}

// NotFound sends a 404 response.
func NotFound(c *gin.Context, message string) {
	failWith(c, http.StatusNotFound, fault.CodeNotFound, message)
}

// Fail maps a domain error onto the HTTP envelope. Internal errors are
// surfaced generically; everything else keeps its stable code and message.
func Fail(c *gin.Context, err error) {
	kind := fault.KindOf(err)
	code := fault.CodeOf(err)
	status := statusFor(kind, code)
	message := err.Error()
	if kind == fault.KindInternal {
		message = "internal error"
	}
	failWith(c, status, code, message)
}

func failWith(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"ok":      0,
		"code":    status,
		"error":   code,
		"message": message,
	})
}

func statusFor(kind fault.Kind, code string) int {
	switch code {
	case fault.CodeRateLimited:
		return http.StatusTooManyRequests
	case fault.CodeConflict, fault.CodeTokenUsed:
		return http.StatusConflict
	case fault.CodeSessionNotFound, fault.CodeTokenNotFound, fault.CodeChainNotFound:
		return http.StatusNotFound
	}
	switch kind {
	case fault.KindAuth:
		return http.StatusForbidden
	case fault.KindValidation:
		return http.StatusBadRequest
	case fault.KindAntiCheat:
		return http.StatusForbidden
	case fault.KindResource:
		return http.StatusNotFound
	case fault.KindBusiness:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
