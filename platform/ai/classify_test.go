package ai

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"leadengine/platform/apperr"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status int
		want   apperr.Kind
	}{
		{http.StatusTooManyRequests, apperr.KindTransient},
		{StatusOverloaded, apperr.KindTransient},
		{http.StatusRequestTimeout, apperr.KindTransient},
		{http.StatusConflict, apperr.KindTransient},
		{http.StatusBadGateway, apperr.KindTransient},
		{http.StatusUnauthorized, apperr.KindPermanent},
		{http.StatusForbidden, apperr.KindPermanent},
		{http.StatusBadRequest, apperr.KindPermanent},
		{http.StatusUnprocessableEntity, apperr.KindPermanent},
	}

	for _, tt := range tests {
		err := ClassifyStatus("op", tt.status, "body")
		if got := apperr.GetKind(err); got != tt.want {
			t.Fatalf("status %d: expected %v, got %v", tt.status, tt.want, got)
		}
	}
}

func TestClassifyStatusClipsBody(t *testing.T) {
	err := ClassifyStatus("op", http.StatusBadRequest, strings.Repeat("x", 1000))
	if len(err.Error()) > 400 {
		t.Fatalf("expected body to be clipped, got %d bytes", len(err.Error()))
	}
}

func TestClassifyTransport(t *testing.T) {
	if err := ClassifyTransport("op", nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if !apperr.Is(ClassifyTransport("op", context.Canceled), apperr.KindPermanent) {
		t.Fatal("expected cancelled caller to be permanent")
	}
	if !apperr.Is(ClassifyTransport("op", context.DeadlineExceeded), apperr.KindTransient) {
		t.Fatal("expected timeout to be transient")
	}
	if !apperr.Is(ClassifyTransport("op", errors.New("connection reset")), apperr.KindTransient) {
		t.Fatal("expected unknown transport failure to be transient")
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	if d, ok := ParseRetryAfter("7", now); !ok || d != 7*time.Second {
		t.Fatalf("expected 7s, got %v %v", d, ok)
	}
	date := now.Add(30 * time.Second).Format(http.TimeFormat)
	if d, ok := ParseRetryAfter(date, now); !ok || d != 30*time.Second {
		t.Fatalf("expected 30s from date, got %v %v", d, ok)
	}
	past := now.Add(-time.Minute).Format(http.TimeFormat)
	if d, ok := ParseRetryAfter(past, now); !ok || d != 0 {
		t.Fatalf("expected past date to clamp to zero, got %v %v", d, ok)
	}
	for _, v := range []string{"", "soon", "-3"} {
		if _, ok := ParseRetryAfter(v, now); ok {
			t.Fatalf("expected %q to be rejected", v)
		}
	}
}
