package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"leadengine/platform/ai"
)

const userAgent = "Mozilla/5.0 (compatible; leadengine/1.0)"

// Quote is one instrument price.
type Quote struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Change24h float64   `json:"change24h"`
	Source    string    `json:"source"`
	At        time.Time `json:"at"`
}

// Provider fetches the instruments it knows about. Missing ones are simply
// absent from the result.
type Provider interface {
	Name() string
	Fetch(ctx context.Context) (map[string]Quote, error)
}

func getJSON(ctx context.Context, client *http.Client, op, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return ai.ClassifyTransport(op, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("%s: read body: %w", op, err)
	}
	if resp.StatusCode != http.StatusOK {
		return ai.ClassifyStatus(op, resp.StatusCode, string(data))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s: decode: %w", op, err)
	}
	return nil
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// Yahoo reads daily charts for commodities, forex, indices and bitcoin.
type Yahoo struct {
	client  *http.Client
	baseURL string
	now     func() time.Time
}

// yahooSymbols maps chart tickers to display symbols.
var yahooSymbols = []struct{ ticker, symbol string }{
	{"GC=F", "Gold"},
	{"SI=F", "Silver"},
	{"CL=F", "WTI Oil"},
	{"EURUSD=X", "EUR/USD"},
	{"GBPUSD=X", "GBP/USD"},
	{"USDJPY=X", "USD/JPY"},
	{"^GSPC", "S&P 500"},
	{"^IXIC", "NASDAQ"},
	{"BTC-USD", "BTC"},
}

func NewYahoo(client *http.Client, baseURL string) *Yahoo {
	if baseURL == "" {
		baseURL = "https://query1.finance.yahoo.com"
	}
	return &Yahoo{client: client, baseURL: strings.TrimRight(baseURL, "/"), now: time.Now}
}

func (y *Yahoo) Name() string { return "yahoo" }

type yahooChart struct {
	Chart struct {
		Result []struct {
			Meta struct {
				RegularMarketPrice float64 `json:"regularMarketPrice"`
				ChartPreviousClose float64 `json:"chartPreviousClose"`
			} `json:"meta"`
		} `json:"result"`
	} `json:"chart"`
}

// Fetch tolerates per-symbol failures and only errors when nothing came back.
func (y *Yahoo) Fetch(ctx context.Context) (map[string]Quote, error) {
	out := make(map[string]Quote, len(yahooSymbols))
	var lastErr error
	for _, s := range yahooSymbols {
		endpoint := fmt.Sprintf("%s/v8/finance/chart/%s?interval=1d&range=2d", y.baseURL, url.PathEscape(s.ticker))
		var chart yahooChart
		if err := getJSON(ctx, y.client, "market.yahoo", endpoint, &chart); err != nil {
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}
		if len(chart.Chart.Result) == 0 {
			continue
		}
		meta := chart.Chart.Result[0].Meta
		var change float64
		if meta.ChartPreviousClose > 0 {
			change = round((meta.RegularMarketPrice-meta.ChartPreviousClose)/meta.ChartPreviousClose*100, 2)
		}
		out[s.symbol] = Quote{Symbol: s.symbol, Price: meta.RegularMarketPrice, Change24h: change, Source: y.Name(), At: y.now()}
	}
	if len(out) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return out, nil
}

// CoinGecko covers the major coins.
type CoinGecko struct {
	client  *http.Client
	baseURL string
	now     func() time.Time
}

var coinSymbols = map[string]string{"bitcoin": "BTC", "ethereum": "ETH", "solana": "SOL"}

func NewCoinGecko(client *http.Client, baseURL string) *CoinGecko {
	if baseURL == "" {
		baseURL = "https://api.coingecko.com"
	}
	return &CoinGecko{client: client, baseURL: strings.TrimRight(baseURL, "/"), now: time.Now}
}

func (c *CoinGecko) Name() string { return "coingecko" }

func (c *CoinGecko) Fetch(ctx context.Context) (map[string]Quote, error) {
	endpoint := c.baseURL + "/api/v3/simple/price?ids=bitcoin,ethereum,solana&vs_currencies=usd&include_24hr_change=true"
	var data map[string]struct {
		USD       float64 `json:"usd"`
		USDChange float64 `json:"usd_24h_change"`
	}
	if err := getJSON(ctx, c.client, "market.coingecko", endpoint, &data); err != nil {
		return nil, err
	}
	out := make(map[string]Quote, len(data))
	for id, symbol := range coinSymbols {
		if d, ok := data[id]; ok {
			out[symbol] = Quote{Symbol: symbol, Price: d.USD, Change24h: round(d.USDChange, 2), Source: c.Name(), At: c.now()}
		}
	}
	return out, nil
}

// ExchangeRate covers the main forex pairs, without daily change.
type ExchangeRate struct {
	client  *http.Client
	baseURL string
	now     func() time.Time
}

func NewExchangeRate(client *http.Client, baseURL string) *ExchangeRate {
	if baseURL == "" {
		baseURL = "https://open.er-api.com"
	}
	return &ExchangeRate{client: client, baseURL: strings.TrimRight(baseURL, "/"), now: time.Now}
}

func (e *ExchangeRate) Name() string { return "exchangerate" }

func (e *ExchangeRate) Fetch(ctx context.Context) (map[string]Quote, error) {
	var data struct {
		Rates map[string]float64 `json:"rates"`
	}
	if err := getJSON(ctx, e.client, "market.exchangerate", e.baseURL+"/v6/latest/USD", &data); err != nil {
		return nil, err
	}
	out := make(map[string]Quote, 3)
	add := func(symbol string, price float64) {
		out[symbol] = Quote{Symbol: symbol, Price: price, Source: e.Name(), At: e.now()}
	}
	if r := data.Rates["EUR"]; r > 0 {
		add("EUR/USD", round(1/r, 4))
	}
	if r := data.Rates["GBP"]; r > 0 {
		add("GBP/USD", round(1/r, 4))
	}
	if r := data.Rates["JPY"]; r > 0 {
		add("USD/JPY", round(r, 2))
	}
	return out, nil
}
