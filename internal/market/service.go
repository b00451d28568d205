// Package market provides short-lived market quotes for prompt context.
// Providers are consulted in a fixed priority order; later ones only fill
// gaps the earlier ones left.
package market

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"leadengine/platform/apperr"
	"leadengine/platform/config"
	"leadengine/platform/logger"
	"leadengine/platform/metrics"

	"golang.org/x/sync/singleflight"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Fallback is one step of the provider chain. IfMissing names the symbol
// whose absence makes the step run; empty means always.
type Fallback struct {
	Provider  Provider
	IfMissing string
}

type Service struct {
	chain   []Fallback
	cache   Cache
	ttl     time.Duration
	timeout time.Duration
	group   singleflight.Group
	log     *logger.Logger
	metrics *metrics.Metrics
}

// Option customises a Service.
type Option func(*Service)

// WithChain replaces the default provider chain.
func WithChain(chain ...Fallback) Option {
	return func(s *Service) { s.chain = chain }
}

// WithMetrics counts lookups by source.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService builds the Yahoo → CoinGecko → ExchangeRate chain over cache.
func NewService(cfg config.MarketConfig, cache Cache, log *logger.Logger, opts ...Option) *Service {
	client := &http.Client{}
	s := &Service{
		chain: []Fallback{
			{Provider: NewYahoo(client, "")},
			{Provider: NewCoinGecko(client, ""), IfMissing: "BTC"},
			{Provider: NewExchangeRate(client, ""), IfMissing: "EUR/USD"},
		},
		cache:   cache,
		ttl:     cfg.GetMarketCacheTTL(),
		timeout: cfg.GetMarketProviderTimeout(),
		log:     log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Snapshot returns cached quotes or fetches a fresh set. Concurrent misses
// share one fetch.
func (s *Service) Snapshot(ctx context.Context) (map[string]Quote, error) {
	if quotes, ok, err := s.cache.Get(ctx); err != nil {
		s.log.Warn("market: cache read failed", "error", err)
	} else if ok {
		s.count("cache")
		return quotes, nil
	}

	v, err, _ := s.group.Do("snapshot", func() (any, error) {
		return s.fetch(context.WithoutCancel(ctx))
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]Quote), nil
}

func (s *Service) fetch(ctx context.Context) (map[string]Quote, error) {
	quotes := make(map[string]Quote)
	var errs []string
	for _, step := range s.chain {
		if step.IfMissing != "" {
			if _, ok := quotes[step.IfMissing]; ok {
				continue
			}
		}
		got, err := s.fetchOne(ctx, step.Provider)
		if err != nil {
			s.log.Warn("market: provider failed", "provider", step.Provider.Name(), "error", err)
			errs = append(errs, step.Provider.Name()+": "+err.Error())
			continue
		}
		s.count(step.Provider.Name())
		for sym, q := range got {
			if _, ok := quotes[sym]; !ok {
				quotes[sym] = q
			}
		}
	}
	if len(quotes) == 0 {
		s.count("error")
		return nil, apperr.Transient("market data unavailable", fmt.Errorf("%s", strings.Join(errs, "; ")))
	}
	if err := s.cache.Set(ctx, quotes, s.ttl); err != nil {
		s.log.Warn("market: cache write failed", "error", err)
	}
	return quotes, nil
}

func (s *Service) fetchOne(ctx context.Context, p Provider) (map[string]Quote, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	return p.Fetch(ctx)
}

func (s *Service) count(source string) {
	if s.metrics != nil {
		s.metrics.MarketLookups.WithLabelValues(source).Inc()
	}
}

// GetQuote returns the latest quote for a display symbol such as "BTC" or "EUR/USD".
func (s *Service) GetQuote(ctx context.Context, symbol string) (Quote, error) {
	quotes, err := s.Snapshot(ctx)
	if err != nil {
		return Quote{}, err
	}
	q, ok := quotes[symbol]
	if !ok {
		return Quote{}, apperr.NotFound(fmt.Sprintf("no quote for %s", symbol))
	}
	return q, nil
}

var groups = []struct {
	title   string
	symbols []string
}{
	{"Commodities", []string{"Gold", "Silver", "WTI Oil"}},
	{"Forex", []string{"EUR/USD", "GBP/USD", "USD/JPY"}},
	{"Indices", []string{"S&P 500", "NASDAQ"}},
	{"Crypto", []string{"BTC", "ETH", "SOL"}},
}

// Summary renders the snapshot for a system prompt, or "" when no provider
// answered.
func (s *Service) Summary(ctx context.Context) string {
	quotes, err := s.Snapshot(ctx)
	if err != nil {
		return ""
	}
	return FormatSummary(quotes)
}

// FormatSummary groups quotes by asset class in a fixed order.
func FormatSummary(quotes map[string]Quote) string {
	p := message.NewPrinter(language.English)
	var lines []string
	for _, g := range groups {
		var items []string
		for _, sym := range g.symbols {
			if q, ok := quotes[sym]; ok {
				items = append(items, formatQuote(p, q))
			}
		}
		if len(items) > 0 {
			lines = append(lines, g.title+": "+strings.Join(items, ", "))
		}
	}
	return strings.Join(lines, "\n")
}

func formatQuote(p *message.Printer, q Quote) string {
	var price string
	if q.Price > 100 {
		price = p.Sprintf("$%.0f", q.Price)
	} else {
		price = p.Sprintf("%.4f", q.Price)
	}
	if q.Change24h == 0 {
		return fmt.Sprintf("%s %s", q.Symbol, price)
	}
	direction := "up"
	if q.Change24h < 0 {
		direction = "down"
	}
	return fmt.Sprintf("%s %s (%s %.2f%%)", q.Symbol, price, direction, math.Abs(q.Change24h))
}
