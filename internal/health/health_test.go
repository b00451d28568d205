package health

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	apphttp "leadengine/internal/http"
	"leadengine/internal/leads/domain"
	"leadengine/internal/leads/engine"
	"leadengine/platform/events"
	"leadengine/platform/logger"

	"github.com/gin-gonic/gin"
)

type fakeSource struct {
	saved time.Time
	stats domain.Stats
}

func (s fakeSource) LastSavedAt() time.Time { return s.saved }
func (s fakeSource) Stats() domain.Stats    { return s.stats }

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func TestReportCountsErrorsInWindow(t *testing.T) {
	clk := &clock{t: time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)}
	src := fakeSource{saved: clk.t.Add(time.Minute), stats: domain.Stats{MessagesReceived: 7}}
	m := NewMonitor("1.2.3", src, clk.now)

	m.RecordError()
	clk.t = clk.t.Add(40 * time.Minute)
	m.RecordError()
	clk.t = clk.t.Add(30 * time.Minute)

	r := m.Report()
	if r.ErrorsLastHour != 1 {
		t.Fatalf("expected only the recent error, got %d", r.ErrorsLastHour)
	}
	if r.UptimeSeconds != int64((70 * time.Minute).Seconds()) {
		t.Fatalf("unexpected uptime %d", r.UptimeSeconds)
	}
	if r.MessagesProcessed != 7 || r.Version != "1.2.3" || r.Status != "running" {
		t.Fatalf("unexpected report %+v", r)
	}
}

func TestReportDegradesWithoutSaves(t *testing.T) {
	clk := &clock{t: time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)}
	m := NewMonitor("dev", fakeSource{}, clk.now)
	m.RecordError()
	if got := m.Report().Status; got != "degraded" {
		t.Fatalf("expected degraded, got %s", got)
	}
}

func TestUnanswerableNoticeCountsAsError(t *testing.T) {
	bus := events.NewInMemoryBus(logger.New("test"))
	m := NewMonitor("dev", nil, nil)
	m.RegisterHandlers(bus)

	bus.Publish(t.Context(), engine.Notice{Kind: engine.NoticeHotLead, LeadID: "L1"})
	bus.Publish(t.Context(), engine.Notice{Kind: engine.NoticeUnanswerable, LeadID: "L1"})
	bus.Wait()

	if got := m.Report().ErrorsLastHour; got != 1 {
		t.Fatalf("expected one error, got %d", got)
	}
}

func TestHealthEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	m := NewMonitor("1.0.0", fakeSource{stats: domain.Stats{MessagesReceived: 3}}, nil)
	m.RegisterRoutes(&apphttp.RouterContext{Engine: router})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{`"status":"running"`, `"version":"1.0.0"`, `"messages_processed":3`, `"uptime_seconds"`} {
		if !strings.Contains(body, want) {
			t.Fatalf("body %s missing %s", body, want)
		}
	}
}
