// Package ai holds helpers shared by the generation and voice provider adapters.
package ai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"leadengine/platform/apperr"
)

// StatusOverloaded is the non-standard status some providers return when at capacity.
const StatusOverloaded = 529

// ClassifyStatus turns a non-2xx provider response into a classified error.
// 408, 409, 429, 529 and 5xx are transient; other 4xx are permanent.
func ClassifyStatus(op string, status int, body string) error {
	body = strings.TrimSpace(body)
	if len(body) > 300 {
		body = body[:300]
	}
	cause := fmt.Errorf("status %d: %s", status, body)

	switch {
	case status == http.StatusTooManyRequests:
		return apperr.Transient("rate limited", cause).WithOp(op)
	case status == StatusOverloaded:
		return apperr.Transient("provider overloaded", cause).WithOp(op)
	case status == http.StatusRequestTimeout, status == http.StatusConflict:
		return apperr.Transient("provider busy", cause).WithOp(op)
	case status >= 500:
		return apperr.Transient("provider server error", cause).WithOp(op)
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return apperr.Permanent("provider auth failed", cause).WithOp(op)
	default:
		return apperr.Permanent("provider rejected request", cause).WithOp(op)
	}
}

// ClassifyTransport classifies an error returned by http.Client.Do.
// Timeouts and connection failures are transient; a cancelled caller context is permanent.
func ClassifyTransport(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return apperr.Permanent("request cancelled", err).WithOp(op)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.Transient("provider timeout", err).WithOp(op)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return apperr.Transient("provider unreachable", err).WithOp(op)
	}
	return apperr.Transient("provider request failed", err).WithOp(op)
}

// ParseRetryAfter reads a Retry-After header given in seconds or as an HTTP date.
func ParseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(value); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second, true
	}
	if at, err := http.ParseTime(value); err == nil {
		d := at.Sub(now)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}
