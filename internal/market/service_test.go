package market

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"leadengine/platform/apperr"
	"leadengine/platform/config"
	"leadengine/platform/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type stubProvider struct {
	name   string
	quotes map[string]Quote
	err    error
	calls  atomic.Int32
	gate   chan struct{}
}

func (p *stubProvider) Name() string { return p.name }

func (p *stubProvider) Fetch(ctx context.Context) (map[string]Quote, error) {
	p.calls.Add(1)
	if p.gate != nil {
		select {
		case <-p.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return p.quotes, p.err
}

func testService(cache Cache, chain ...Fallback) *Service {
	cfg := &config.Config{MarketCacheTTL: time.Minute, MarketProviderTimeout: time.Second}
	return NewService(cfg, cache, logger.New("test"), WithChain(chain...))
}

func quote(sym string, price float64) Quote {
	return Quote{Symbol: sym, Price: price}
}

func TestFallbackOrder(t *testing.T) {
	primary := &stubProvider{name: "primary", quotes: map[string]Quote{"Gold": quote("Gold", 2300)}}
	crypto := &stubProvider{name: "crypto", quotes: map[string]Quote{"BTC": quote("BTC", 60000), "Gold": quote("Gold", 1)}}
	forex := &stubProvider{name: "forex", quotes: map[string]Quote{"EUR/USD": quote("EUR/USD", 1.08)}}
	s := testService(NewMemoryCache(nil),
		Fallback{Provider: primary},
		Fallback{Provider: crypto, IfMissing: "BTC"},
		Fallback{Provider: forex, IfMissing: "EUR/USD"},
	)

	quotes, err := s.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(quotes) != 3 {
		t.Fatalf("expected 3 quotes, got %v", quotes)
	}
	if quotes["Gold"].Price != 2300 {
		t.Fatalf("earlier provider must win, got %v", quotes["Gold"])
	}
	if primary.calls.Load() != 1 || crypto.calls.Load() != 1 || forex.calls.Load() != 1 {
		t.Fatalf("unexpected call counts %d/%d/%d", primary.calls.Load(), crypto.calls.Load(), forex.calls.Load())
	}
}

func TestFallbackSkippedWhenCovered(t *testing.T) {
	primary := &stubProvider{name: "primary", quotes: map[string]Quote{"BTC": quote("BTC", 1), "EUR/USD": quote("EUR/USD", 1)}}
	crypto := &stubProvider{name: "crypto"}
	s := testService(NewMemoryCache(nil), Fallback{Provider: primary}, Fallback{Provider: crypto, IfMissing: "BTC"})

	if _, err := s.Snapshot(context.Background()); err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if crypto.calls.Load() != 0 {
		t.Fatal("fallback called although its symbol was present")
	}
}

func TestAllProvidersFailIsTransient(t *testing.T) {
	down := &stubProvider{name: "down", err: apperr.Transient("503", nil)}
	s := testService(NewMemoryCache(nil), Fallback{Provider: down})

	if _, err := s.Snapshot(context.Background()); !apperr.Is(err, apperr.KindTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if got := s.Summary(context.Background()); got != "" {
		t.Fatalf("expected empty summary, got %q", got)
	}
}

func TestSnapshotIsCached(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	p := &stubProvider{name: "p", quotes: map[string]Quote{"BTC": quote("BTC", 1)}}
	s := testService(NewMemoryCache(clock), Fallback{Provider: p})

	for i := 0; i < 3; i++ {
		if _, err := s.GetQuote(context.Background(), "BTC"); err != nil {
			t.Fatalf("get quote: %v", err)
		}
	}
	if p.calls.Load() != 1 {
		t.Fatalf("expected one fetch within TTL, got %d", p.calls.Load())
	}

	mu.Lock()
	now = now.Add(2 * time.Minute)
	mu.Unlock()
	if _, err := s.GetQuote(context.Background(), "BTC"); err != nil {
		t.Fatalf("get quote: %v", err)
	}
	if p.calls.Load() != 2 {
		t.Fatalf("expected refetch after TTL, got %d", p.calls.Load())
	}

	if _, err := s.GetQuote(context.Background(), "XAU"); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestConcurrentMissesShareOneFetch(t *testing.T) {
	p := &stubProvider{name: "p", quotes: map[string]Quote{"BTC": quote("BTC", 1)}, gate: make(chan struct{})}
	s := testService(NewMemoryCache(nil), Fallback{Provider: p})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Snapshot(context.Background()); err != nil {
				t.Errorf("snapshot: %v", err)
			}
		}()
	}
	for p.calls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	close(p.gate)
	wg.Wait()

	if p.calls.Load() != 1 {
		t.Fatalf("expected a single provider call, got %d", p.calls.Load())
	}
}

func TestRedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	cache := NewRedisCache(rdb)
	ctx := context.Background()

	if _, ok, err := cache.Get(ctx); err != nil || ok {
		t.Fatalf("expected empty cache, got ok=%v err=%v", ok, err)
	}
	if err := cache.Set(ctx, map[string]Quote{"BTC": quote("BTC", 42)}, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, ok, err := cache.Get(ctx)
	if err != nil || !ok || got["BTC"].Price != 42 {
		t.Fatalf("unexpected cached value %v ok=%v err=%v", got, ok, err)
	}

	mr.FastForward(2 * time.Minute)
	if _, ok, _ := cache.Get(ctx); ok {
		t.Fatal("expected snapshot to expire")
	}
}

func TestHTTPProviders(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v8/finance/chart/", func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "GC=F") {
			_, _ = io.WriteString(w, `{"chart":{"result":[{"meta":{"regularMarketPrice":2310,"chartPreviousClose":2300}}]}}`)
			return
		}
		http.Error(w, "nope", http.StatusServiceUnavailable)
	})
	mux.HandleFunc("/api/v3/simple/price", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"bitcoin":{"usd":65000,"usd_24h_change":-1.234}}`)
	})
	mux.HandleFunc("/v6/latest/USD", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"rates":{"EUR":0.8,"JPY":150.123}}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	s := testService(NewMemoryCache(nil),
		Fallback{Provider: NewYahoo(srv.Client(), srv.URL)},
		Fallback{Provider: NewCoinGecko(srv.Client(), srv.URL), IfMissing: "BTC"},
		Fallback{Provider: NewExchangeRate(srv.Client(), srv.URL), IfMissing: "EUR/USD"},
	)
	quotes, err := s.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	tests := []struct {
		symbol string
		price  float64
		change float64
		source string
	}{
		{"Gold", 2310, 0.43, "yahoo"},
		{"BTC", 65000, -1.23, "coingecko"},
		{"EUR/USD", 1.25, 0, "exchangerate"},
		{"USD/JPY", 150.12, 0, "exchangerate"},
	}
	for _, tt := range tests {
		q, ok := quotes[tt.symbol]
		if !ok {
			t.Errorf("missing %s", tt.symbol)
			continue
		}
		if q.Price != tt.price || q.Change24h != tt.change || q.Source != tt.source {
			t.Errorf("%s = %+v, want price %v change %v source %s", tt.symbol, q, tt.price, tt.change, tt.source)
		}
	}
}

func TestYahooAllFailedReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	t.Cleanup(srv.Close)

	_, err := NewYahoo(srv.Client(), srv.URL).Fetch(context.Background())
	var appErr *apperr.Error
	if !errors.As(err, &appErr) || appErr.Kind != apperr.KindTransient {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestFormatSummary(t *testing.T) {
	got := FormatSummary(map[string]Quote{
		"Gold":    {Symbol: "Gold", Price: 2345.4, Change24h: 0.5},
		"EUR/USD": {Symbol: "EUR/USD", Price: 1.085, Change24h: -0.12},
		"BTC":     {Symbol: "BTC", Price: 65000},
	})
	want := "Commodities: Gold $2,345 (up 0.50%)\nForex: EUR/USD 1.0850 (down 0.12%)\nCrypto: BTC $65,000"
	if got != want {
		t.Fatalf("FormatSummary =\n%s\nwant\n%s", got, want)
	}
}
