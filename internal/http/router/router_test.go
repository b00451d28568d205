package router

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	apphttp "leadengine/internal/http"
	"leadengine/platform/config"
	"leadengine/platform/httpkit"
	"leadengine/platform/logger"

	"github.com/gin-gonic/gin"
)

type pingModule struct{}

func (pingModule) Name() string { return "ping" }

func (pingModule) RegisterRoutes(ctx *apphttp.RouterContext) {
	ctx.V1.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	ctx.Operator.GET("/whoami", func(c *gin.Context) { c.String(http.StatusOK, httpkit.Operator(c)) })
}

func newTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	return New(&apphttp.App{
		Config: &config.Config{
			JWTSecret:   "secret",
			CORSOrigins: []string{"https://ops.example"},
		},
		Logger: logger.New("test"),
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("# metrics"))
		}),
		Modules: []apphttp.Module{pingModule{}},
	})
}

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestRoutes(t *testing.T) {
	r := newTestRouter()

	if rec := serve(r, httptest.NewRequest(http.MethodGet, "/metrics", nil)); rec.Code != http.StatusOK || rec.Body.String() != "# metrics" {
		t.Fatalf("unexpected metrics response %d %q", rec.Code, rec.Body.String())
	}
	rec := serve(r, httptest.NewRequest(http.MethodGet, "/api/v1/ping", nil))
	if rec.Code != http.StatusOK || rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("unexpected ping response %d %v", rec.Code, rec.Header())
	}
}

func TestOperatorGroupRequiresToken(t *testing.T) {
	r := newTestRouter()

	if rec := serve(r, httptest.NewRequest(http.MethodGet, "/api/v1/whoami", nil)); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}

	token, err := httpkit.SignOperatorToken("secret", "ops", []string{"manager"}, time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	if rec := serve(r, req); rec.Code != http.StatusOK || rec.Body.String() != "ops" {
		t.Fatalf("unexpected whoami response %d %q", rec.Code, rec.Body.String())
	}
}

func TestCORS(t *testing.T) {
	r := newTestRouter()

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/ping", nil)
	req.Header.Set("Origin", "https://ops.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := serve(r, req)
	if rec.Header().Get("Access-Control-Allow-Origin") != "https://ops.example" {
		t.Fatalf("expected allowed origin, got %v", rec.Header())
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/ping", nil)
	req.Header.Set("Origin", "https://evil.example")
	if rec := serve(r, req); rec.Code != http.StatusForbidden {
		t.Fatalf("expected foreign origin to be rejected, got %d", rec.Code)
	}
}

func TestRequestIDEchoed(t *testing.T) {
	r := newTestRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/ping", nil)
	req.Header.Set("X-Request-ID", "req-42")
	if rec := serve(r, req); rec.Header().Get("X-Request-ID") != "req-42" {
		t.Fatalf("expected caller request id to be echoed, got %q", rec.Header().Get("X-Request-ID"))
	}
	if rec := serve(r, httptest.NewRequest(http.MethodGet, "/api/v1/ping", nil)); rec.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected a generated request id")
	}
}
