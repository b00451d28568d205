// Package httpkit holds the gin plumbing shared by the webhook, command and
// health surfaces: operator auth, rate limiting, headers and error bodies.
package httpkit

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"leadengine/platform/apperr"

	"github.com/gin-gonic/gin"
)

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Kind    string `json:"kind,omitempty"`
	Details any    `json:"details,omitempty"`
}

func JSON(c *gin.Context, status int, payload any) { c.JSON(status, payload) }

func OK(c *gin.Context, payload any) { c.JSON(http.StatusOK, payload) }

// Error writes an ErrorResponse without a kind.
func Error(c *gin.Context, status int, message string, details any) {
	c.JSON(status, ErrorResponse{Error: message, Details: details})
}

// HandleError writes err as an ErrorResponse and reports whether it did.
// Classified errors keep their message and status; internal and
// unclassified ones are reported as "internal error". Flow-control errors
// carry a Retry-After header.
func HandleError(c *gin.Context, err error) bool {
	if err == nil {
		return false
	}

	var ae *apperr.Error
	if !errors.As(err, &ae) {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
		return true
	}

	status := ae.HTTPStatus()
	body := ErrorResponse{Error: ae.Message, Kind: ae.Kind.String(), Details: ae.Details}
	if status == http.StatusInternalServerError {
		body = ErrorResponse{Error: "internal error", Kind: ae.Kind.String()}
	}
	if ae.Kind == apperr.KindFlowControl && ae.RetryAfter > 0 {
		secs := int(math.Ceil(ae.RetryAfter.Seconds()))
		c.Header("Retry-After", strconv.Itoa(secs))
	}
	c.JSON(status, body)
	return true
}
