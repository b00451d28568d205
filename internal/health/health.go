// Package health tracks process liveness and serves it on GET /health.
package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	apphttp "leadengine/internal/http"
	"leadengine/internal/leads/domain"
	"leadengine/internal/leads/engine"
	"leadengine/platform/events"

	"github.com/gin-gonic/gin"
)

const errorWindow = time.Hour

// Source exposes the store facts the report needs.
type Source interface {
	LastSavedAt() time.Time
	Stats() domain.Stats
}

// Report is the liveness payload.
type Report struct {
	Status            string    `json:"status"`
	Version           string    `json:"version"`
	StartedAt         time.Time `json:"started_at"`
	UptimeSeconds     int64     `json:"uptime_seconds"`
	LastSavedAt       time.Time `json:"last_saved_at,omitzero"`
	MessagesProcessed int       `json:"messages_processed"`
	ErrorsLastHour    int       `json:"errors_last_hour"`
}

// Monitor counts recent errors and assembles liveness reports.
type Monitor struct {
	version string
	started time.Time
	source  Source
	now     func() time.Time

	mu     sync.Mutex
	errors []time.Time
}

func NewMonitor(version string, source Source, now func() time.Time) *Monitor {
	if now == nil {
		now = time.Now
	}
	return &Monitor{version: version, started: now(), source: source, now: now}
}

// RecordError counts one failure towards errors_last_hour.
func (m *Monitor) RecordError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.prune(m.now()), m.now())
}

// prune drops errors older than the window. Callers hold mu.
func (m *Monitor) prune(now time.Time) []time.Time {
	cutoff := now.Add(-errorWindow)
	i := 0
	for i < len(m.errors) && !m.errors[i].After(cutoff) {
		i++
	}
	m.errors = m.errors[i:]
	return m.errors
}

// Report returns the current liveness state. The status degrades once the
// store has not saved since start and errors are piling up.
func (m *Monitor) Report() Report {
	now := m.now()
	m.mu.Lock()
	recent := len(m.prune(now))
	m.mu.Unlock()

	r := Report{
		Status:         "running",
		Version:        m.version,
		StartedAt:      m.started,
		UptimeSeconds:  int64(now.Sub(m.started).Seconds()),
		ErrorsLastHour: recent,
	}
	if m.source != nil {
		r.LastSavedAt = m.source.LastSavedAt()
		r.MessagesProcessed = m.source.Stats().MessagesReceived
	}
	if recent > 0 && r.LastSavedAt.Before(m.started) {
		r.Status = "degraded"
	}
	return r
}

// RegisterHandlers counts engine notices about unanswerable events as errors.
func (m *Monitor) RegisterHandlers(bus events.Bus) {
	bus.Subscribe(engine.EventNameNotice, events.HandlerFunc(func(_ context.Context, ev events.Event) error {
		if n, ok := ev.(engine.Notice); ok && n.Kind == engine.NoticeUnanswerable {
			m.RecordError()
		}
		return nil
	}))
}

func (m *Monitor) Name() string { return "health" }

// RegisterRoutes mounts GET /health outside the rate-limited API group.
func (m *Monitor) RegisterRoutes(ctx *apphttp.RouterContext) {
	ctx.Engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, m.Report())
	})
}

var _ apphttp.Module = (*Monitor)(nil)
