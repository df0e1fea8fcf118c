// Package market is the reference historical-data-provider collaborator:
// it resolves a set of symbols to daily OHLCV bars over a date range,
// fronted by a TTL cache and a token-bucket rate limiter so a universe-wide
// backtest doesn't hammer the upstream quote API.
package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/seenimoa/backtestcore/internal/infra"
	"github.com/seenimoa/backtestcore/pkg/models"
)

// ErrSymbolNotFound is returned when the upstream provider has no data for
// a requested symbol.
var ErrSymbolNotFound = fmt.Errorf("market: symbol not found")

// Provider fetches historical daily bars from Yahoo Finance's public chart
// API, the same upstream the teacher's yfinance data source used.
type Provider struct {
	cache        *infra.Cache
	limiter      *infra.RateLimiter
	baseURL      string // overridable for tests
	fetchWorkers int
}

// Config controls Provider construction.
type Config struct {
	CacheTTL      time.Duration
	RateLimitPerS int
	FetchWorkers  int // concurrent per-symbol fetches; default 5
}

// NewProvider builds a Provider against the live Yahoo Finance chart API.
func NewProvider(cfg Config) *Provider {
	if cfg.RateLimitPerS <= 0 {
		cfg.RateLimitPerS = 5
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 15 * time.Minute
	}
	if cfg.FetchWorkers <= 0 {
		cfg.FetchWorkers = 5
	}
	return &Provider{
		cache:        infra.NewCache(cfg.CacheTTL),
		limiter:      infra.NewRateLimiter(cfg.RateLimitPerS, time.Second),
		baseURL:      "https://query1.finance.yahoo.com/v8/finance/chart",
		fetchWorkers: cfg.FetchWorkers,
	}
}

// LoadBars fetches daily bars for every symbol over [start, end], one fetch
// per symbol fanned out across Provider's worker limit. A single symbol's
// failure does not fail the whole call — bars is populated only for the
// symbols that succeeded, and the first encountered error (if any) is
// returned alongside it so the caller can decide whether to proceed with a
// partial universe.
func (p *Provider) LoadBars(ctx context.Context, symbols []string, start, end time.Time, interval string) (map[string][]models.Bar, error) {
	results := make(map[string][]models.Bar, len(symbols))
	errs := make(map[string]error)

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(p.fetchWorkers)

	type outcome struct {
		symbol string
		bars   []models.Bar
		err    error
	}
	outcomes := make(chan outcome, len(symbols))

	for _, sym := range symbols {
		sym := sym
		group.Go(func() error {
			bars, err := p.fetchSymbol(groupCtx, sym, start, end, interval)
			outcomes <- outcome{symbol: sym, bars: bars, err: err}
			return nil
		})
	}

	go func() {
		group.Wait()
		close(outcomes)
	}()

	for o := range outcomes {
		if o.err != nil {
			errs[o.symbol] = o.err
			continue
		}
		results[o.symbol] = o.bars
	}

	if len(errs) > 0 {
		failed := make([]string, 0, len(errs))
		for sym := range errs {
			failed = append(failed, sym)
		}
		sort.Strings(failed)
		return results, fmt.Errorf("market: %d of %d symbols failed, first error (%s): %w", len(errs), len(symbols), failed[0], errs[failed[0]])
	}
	return results, nil
}

func (p *Provider) fetchSymbol(ctx context.Context, symbol string, start, end time.Time, interval string) ([]models.Bar, error) {
	cacheKey := fmt.Sprintf("bars:%s:%d:%d:%s", symbol, start.Unix(), end.Unix(), interval)
	if cached, ok := p.cache.Get(cacheKey); ok {
		return cached.([]models.Bar), nil
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/%s?period1=%d&period2=%d&interval=%s", p.baseURL, symbol, start.Unix(), end.Unix(), yfInterval(interval))
	body, _, err := infra.DoGet(ctx, url, map[string]string{"Accept": "application/json"})
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", symbol, err)
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read response for %s: %w", symbol, err)
	}

	var resp chartResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse chart response for %s: %w", symbol, err)
	}
	if resp.Chart.Error != nil {
		return nil, fmt.Errorf("chart API error for %s: %s", symbol, resp.Chart.Error.Description)
	}
	if len(resp.Chart.Result) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrSymbolNotFound, symbol)
	}

	bars := parseBars(resp.Chart.Result[0])
	p.cache.Set(cacheKey, bars)
	return bars, nil
}

// --- Yahoo Finance v8 chart API response shape ---

type chartResponse struct {
	Chart struct {
		Result []chartResult `json:"result"`
		Error  *chartError   `json:"error"`
	} `json:"chart"`
}

type chartResult struct {
	Timestamp  []int64    `json:"timestamp"`
	Indicators indicators `json:"indicators"`
}

type indicators struct {
	Quote []quote `json:"quote"`
}

type quote struct {
	Open   []*float64 `json:"open"`
	High   []*float64 `json:"high"`
	Low    []*float64 `json:"low"`
	Close  []*float64 `json:"close"`
	Volume []*int64   `json:"volume"`
}

type chartError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

// parseBars converts one chart result into bars, skipping any timestamp
// missing a close price (a half-session or data gap).
func parseBars(result chartResult) []models.Bar {
	if len(result.Indicators.Quote) == 0 {
		return nil
	}
	q := result.Indicators.Quote[0]

	bars := make([]models.Bar, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		if i >= len(q.Close) || q.Close[i] == nil {
			continue
		}
		bar := models.Bar{
			Timestamp: time.Unix(ts, 0).UTC(),
			Close:     *q.Close[i],
		}
		if i < len(q.Open) && q.Open[i] != nil {
			bar.Open = *q.Open[i]
		}
		if i < len(q.High) && q.High[i] != nil {
			bar.High = *q.High[i]
		}
		if i < len(q.Low) && q.Low[i] != nil {
			bar.Low = *q.Low[i]
		}
		if i < len(q.Volume) && q.Volume[i] != nil {
			bar.Volume = *q.Volume[i]
		}
		bars = append(bars, bar)
	}
	return bars
}

func yfInterval(interval string) string {
	switch interval {
	case "1m", "5m", "15m", "1h", "1d", "1wk", "1mo":
		return interval
	case "1w":
		return "1wk"
	case "1mon":
		return "1mo"
	default:
		return "1d"
	}
}
