package commands

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	apphttp "leadengine/internal/http"
	"leadengine/internal/health"
	"leadengine/internal/leads/domain"
	"leadengine/internal/leads/engine"
	"leadengine/internal/leads/store"
	"leadengine/platform/apperr"
	"leadengine/platform/config"
	"leadengine/platform/httpkit"
	"leadengine/platform/logger"
	"leadengine/platform/validator"

	"github.com/gin-gonic/gin"
)

const testSecret = "test-secret"

var cmdNow = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

type fakeManager struct {
	calls []string
	err   error
}

func (m *fakeManager) record(cmd, leadID string) (domain.Transition, error) {
	m.calls = append(m.calls, cmd+":"+leadID)
	if m.err != nil {
		return domain.Transition{}, m.err
	}
	return domain.Transition{From: domain.TemperatureWarm, To: domain.TemperatureBlocked}, nil
}

func (m *fakeManager) Block(_ context.Context, id string) (domain.Transition, error) {
	return m.record("block", id)
}
func (m *fakeManager) Unblock(_ context.Context, id string) (domain.Transition, error) {
	return m.record("unblock", id)
}
func (m *fakeManager) Convert(_ context.Context, id string) (domain.Transition, error) {
	return m.record("convert", id)
}
func (m *fakeManager) Reset(_ context.Context, id string) (domain.Transition, error) {
	return m.record("reset", id)
}
func (m *fakeManager) Push(_ context.Context, id, instruction string) (engine.Outcome, error) {
	m.calls = append(m.calls, "push:"+id+":"+instruction)
	return engine.Outcome{LeadID: id, Sent: true}, m.err
}

type fakeReader struct {
	state *store.State
}

func (r fakeReader) Snapshot() *store.State { return r.state.Clone() }
func (r fakeReader) Lead(id string) (*domain.Lead, bool) {
	l, ok := r.state.Leads[id]
	return l.Clone(), ok
}
func (r fakeReader) LastSavedAt() time.Time { return cmdNow }

type fakeHealth struct{}

func (fakeHealth) Report() health.Report { return health.Report{Status: "running", Version: "test"} }

func newState() *store.State {
	st := store.NewState()
	l := domain.NewLead("L1", "a", cmdNow)
	l.Temperature = domain.TemperatureWarm
	l.Conversation = []domain.Turn{
		{EventID: "e1", Role: domain.RoleCounterparty, Text: strings.Repeat("x", 100), At: cmdNow},
		{EventID: "e1:reply", Role: domain.RoleAgent, Text: "hello", At: cmdNow},
	}
	st.Leads["L1"] = l
	return st
}

func newRouter(t *testing.T, mgr *fakeManager, debug bool) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	table, err := NewTable(Standard(Deps{
		Manager: mgr,
		Store:   fakeReader{state: newState()},
		Health:  fakeHealth{},
		Now:     func() time.Time { return cmdNow },
	}))
	if err != nil {
		t.Fatalf("table: %v", err)
	}

	router := gin.New()
	cfg := &config.Config{JWTSecret: testSecret}
	operator := router.Group("/api/v1")
	operator.Use(httpkit.OperatorRequired(cfg))
	NewModule(table, validator.New(), debug, logger.New("test")).RegisterRoutes(&apphttp.RouterContext{Engine: router, Operator: operator, Config: cfg})
	return router
}

func call(t *testing.T, router *gin.Engine, tag, body string, scopes ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/commands/"+tag, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if scopes != nil {
		token, err := httpkit.SignOperatorToken(testSecret, "ops", scopes, time.Hour)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestNewTableRejectsBadEntries(t *testing.T) {
	run := func(context.Context, Args) (Result, error) { return Result{}, nil }
	tests := []struct {
		name string
		cmds []Command
	}{
		{"empty tag", []Command{{Scope: ScopeManager, Run: run}}},
		{"no handler", []Command{{Tag: "x", Scope: ScopeManager}}},
		{"unknown scope", []Command{{Tag: "x", Scope: "root", Run: run}}},
		{"duplicate", []Command{{Tag: "x", Scope: ScopeManager, Run: run}, {Tag: "x", Scope: ScopeDebug, Run: run}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewTable(tt.cmds); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestStandardTableCoversOperatorCommands(t *testing.T) {
	table, err := NewTable(Standard(Deps{Manager: &fakeManager{}, Store: fakeReader{state: newState()}}))
	if err != nil {
		t.Fatalf("table: %v", err)
	}
	for _, tag := range []string{"status", "block", "unblock", "push", "reset", "convert", "analytics", "export", "healthcheck"} {
		if _, ok := table.Lookup(tag); !ok {
			t.Fatalf("missing command %s", tag)
		}
	}
}

func TestScopeEnforcement(t *testing.T) {
	tests := []struct {
		name   string
		tag    string
		debug  bool
		scopes []string
		want   int
	}{
		{"no token", "status", false, nil, http.StatusUnauthorized},
		{"missing scope", "status", false, []string{"debug"}, http.StatusForbidden},
		{"manager scope", "status", false, []string{"manager"}, http.StatusOK},
		{"debug command with manager scope", "reset", true, []string{"manager"}, http.StatusForbidden},
		{"debug command while disabled", "reset", false, []string{"debug"}, http.StatusForbidden},
		{"debug command enabled", "reset", true, []string{"debug"}, http.StatusOK},
		{"unknown command", "launch", false, []string{"manager"}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := call(t, newRouter(t, &fakeManager{}, tt.debug), tt.tag, `{"leadId":"L1"}`, tt.scopes...)
			if rec.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestBlockCallsManager(t *testing.T) {
	mgr := &fakeManager{}
	rec := call(t, newRouter(t, mgr, false), "block", `{"leadId":"L1"}`, "manager")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var got TransitionResult
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !got.Changed || got.To != domain.TemperatureBlocked || len(mgr.calls) != 1 || mgr.calls[0] != "block:L1" {
		t.Fatalf("unexpected result %+v calls %v", got, mgr.calls)
	}
}

func TestLeadCommandsNeedALead(t *testing.T) {
	mgr := &fakeManager{}
	rec := call(t, newRouter(t, mgr, false), "block", "", "manager")
	if rec.Code != http.StatusBadRequest || len(mgr.calls) != 0 {
		t.Fatalf("expected 400 without manager call, got %d %v", rec.Code, mgr.calls)
	}
}

func TestManagerErrorsAreMapped(t *testing.T) {
	mgr := &fakeManager{err: apperr.NotFound("lead L9 not found")}
	rec := call(t, newRouter(t, mgr, false), "convert", `{"leadId":"L9"}`, "manager")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestPushPassesInstruction(t *testing.T) {
	mgr := &fakeManager{}
	rec := call(t, newRouter(t, mgr, false), "push", `{"leadId":"L1","instruction":"offer a call"}`, "manager")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"sent":true`) {
		t.Fatalf("unexpected response %d %s", rec.Code, rec.Body.String())
	}
	if mgr.calls[0] != "push:L1:offer a call" {
		t.Fatalf("unexpected call %v", mgr.calls)
	}
}

func TestStatusOfLead(t *testing.T) {
	rec := call(t, newRouter(t, &fakeManager{}, false), "status", `{"leadId":"L1"}`, "manager")
	var got LeadStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Stage != "opening" || got.FromLead != 1 || got.FromAgent != 1 || len(got.LastTurns) != 2 {
		t.Fatalf("unexpected status %+v", got)
	}
	if n := len([]rune(got.LastTurns[0].Text)); n != statusTurnText+3 {
		t.Fatalf("expected clipped text, got %d runes", n)
	}
}

func TestStatusOverview(t *testing.T) {
	rec := call(t, newRouter(t, &fakeManager{}, false), "status", "", "manager")
	var got Overview
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Leads != 1 || got.ByTemperature[domain.TemperatureWarm] != 1 {
		t.Fatalf("unexpected overview %+v", got)
	}
}

func TestExportStreamsCSV(t *testing.T) {
	rec := call(t, newRouter(t, &fakeManager{}, false), "export", `{"format":"conversations"}`, "manager")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Disposition"); got != "attachment; filename=conversations-20260302.csv" {
		t.Fatalf("unexpected disposition %q", got)
	}
	if lines := strings.Count(rec.Body.String(), "\n"); lines != 3 {
		t.Fatalf("expected header and two turns, got %d lines", lines)
	}
}

func TestExportRejectsUnknownFormat(t *testing.T) {
	rec := call(t, newRouter(t, &fakeManager{}, false), "export", `{"format":"xlsx"}`, "manager")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHealthcheckCommand(t *testing.T) {
	rec := call(t, newRouter(t, &fakeManager{}, false), "healthcheck", "", "manager")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"status":"running"`) {
		t.Fatalf("unexpected response %d %s", rec.Code, rec.Body.String())
	}
}
