package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func newBuffered() (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return &Logger{Logger: slog.New(slog.NewJSONHandler(&buf, nil))}, &buf
}

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	return rec
}

func TestWithContextAttachesIDs(t *testing.T) {
	log, buf := newBuffered()
	ctx := ContextWithLead(context.WithValue(context.Background(), RequestIDKey, "req-1"), "lead-1", "ev-1")

	log.WithContext(ctx).WithComponent("engine").Info("hello")

	rec := decode(t, buf)
	for key, want := range map[string]string{
		"request_id": "req-1",
		"lead_id":    "lead-1",
		"event_id":   "ev-1",
		"component":  "engine",
	} {
		if rec[key] != want {
			t.Fatalf("expected %s=%s, got %v", key, want, rec[key])
		}
	}
}

func TestWithContextWithoutValues(t *testing.T) {
	log, _ := newBuffered()
	if got := log.WithContext(context.Background()); got != log {
		t.Fatal("expected the same logger when ctx carries nothing")
	}
}

func TestTransition(t *testing.T) {
	log, buf := newBuffered()
	log.Transition("lead-1", "warm", "hot", "call agreed")

	rec := decode(t, buf)
	if rec["msg"] != "lead_transition" || rec["from"] != "warm" || rec["to"] != "hot" || rec["cause"] != "call agreed" {
		t.Fatalf("unexpected record %v", rec)
	}
}
