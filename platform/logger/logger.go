// Package logger wraps slog with the record shapes the engine emits:
// transitions, delivery outcomes, flow control and storage failures.
package logger

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"time"
)

type contextKey string

const (
	RequestIDKey contextKey = "request_id"
	LeadIDKey    contextKey = "lead_id"
	EventIDKey   contextKey = "event_id"
)

// Logger is a slog.Logger with engine-specific helpers.
type Logger struct {
	*slog.Logger
}

// New returns a text logger at debug level for "development" and a JSON
// logger at info level for every other env.
func New(env string) *Logger {
	if strings.EqualFold(env, "development") {
		return &Logger{Logger: slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))}
	}
	return &Logger{Logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))}
}

func (l *Logger) with(attrs ...any) *Logger {
	return &Logger{Logger: l.Logger.With(attrs...)}
}

// WithContext scopes the logger to the request, lead and event ids stored
// in ctx. It returns l itself when ctx carries none of them.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if ctx == nil {
		return l
	}
	var attrs []any
	for _, key := range []contextKey{RequestIDKey, LeadIDKey, EventIDKey} {
		if v, ok := ctx.Value(key).(string); ok && v != "" {
			attrs = append(attrs, slog.String(string(key), v))
		}
	}
	if len(attrs) == 0 {
		return l
	}
	return l.with(attrs...)
}

func (l *Logger) WithComponent(name string) *Logger {
	return l.with(slog.String("component", name))
}

// ContextWithRequestID stores the id of the HTTP request being served.
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// ContextWithLead stores the lead and, when set, the event being handled.
func ContextWithLead(ctx context.Context, leadID, eventID string) context.Context {
	ctx = context.WithValue(ctx, LeadIDKey, leadID)
	if eventID != "" {
		ctx = context.WithValue(ctx, EventIDKey, eventID)
	}
	return ctx
}

func (l *Logger) HTTPRequest(method, path string, status int, latency time.Duration, clientIP string) {
	level := slog.LevelInfo
	if status >= 500 {
		level = slog.LevelError
	}
	l.Log(context.Background(), level, "http_request",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", status),
		slog.Int64("latency_ms", latency.Milliseconds()),
		slog.String("client_ip", clientIP),
	)
}

// Transition records a temperature change and what caused it.
func (l *Logger) Transition(leadID, from, to, cause string) {
	l.Info("lead_transition", "lead_id", leadID, "from", from, "to", to, "cause", cause)
}

// SendOutcome records one outbound delivery attempt. A nil err is logged
// at info, anything else at warn.
func (l *Logger) SendOutcome(leadID, kind string, attempt int, err error) {
	if err != nil {
		l.Warn("outbound_failed", "lead_id", leadID, "kind", kind, "attempt", attempt, "error", err.Error())
		return
	}
	l.Info("outbound_sent", "lead_id", leadID, "kind", kind, "attempt", attempt)
}

func (l *Logger) FlowControl(leadID string, wait time.Duration) {
	l.Warn("flow_control", "lead_id", leadID, "wait", wait)
}

func (l *Logger) StorageError(operation string, err error) {
	l.Error("storage_error", "operation", operation, "error", err.Error())
}

func (l *Logger) RateLimitExceeded(clientIP, path string) {
	l.Warn("rate_limit_exceeded", "client_ip", clientIP, "path", path)
}
