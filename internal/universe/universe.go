// Package universe is the reference ticker-universe resolver: it turns a
// universe id ("sp500", "nasdaq100") into a concrete list of ticker
// symbols, scraping the public constituents table when reachable and
// falling back to a bundled snapshot otherwise, so an offline or rate
// limited run still has a universe to backtest against.
package universe

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/seenimoa/backtestcore/internal/infra"
)

// Resolver resolves a universe id to its member symbols, caching results
// for CacheTTL so a batch of jobs against the same universe doesn't refetch
// the constituents page per job.
type Resolver struct {
	cache   *infra.Cache
	limiter *infra.RateLimiter
}

// NewResolver builds a Resolver with the given constituents cache TTL.
func NewResolver(cacheTTL time.Duration) *Resolver {
	if cacheTTL <= 0 {
		cacheTTL = 24 * time.Hour
	}
	return &Resolver{
		cache:   infra.NewCache(cacheTTL),
		limiter: infra.NewRateLimiter(1, time.Second),
	}
}

// Load returns the member symbols of the named universe in the order of the
// scraped table (or of the bundled snapshot); the list is not sorted.
// Unknown ids fall straight to ErrUnknownUniverse.
func (r *Resolver) Load(ctx context.Context, id string) ([]string, error) {
	id = strings.ToLower(strings.TrimSpace(id))

	cacheKey := "universe:" + id
	if cached, ok := r.cache.Get(cacheKey); ok {
		return cached.([]string), nil
	}

	src, ok := sources[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownUniverse, id)
	}

	symbols, err := r.scrape(ctx, src)
	if err != nil {
		// Scraping is best-effort: a Wikipedia layout change or network
		// failure falls back to the bundled snapshot rather than failing
		// the whole backtest request.
		symbols = src.fallback
	}

	r.cache.Set(cacheKey, symbols)
	return symbols, nil
}

// ErrUnknownUniverse is returned for an id with no registered source.
var ErrUnknownUniverse = fmt.Errorf("universe: unknown universe id")

type universeSource struct {
	url       string
	selector  string // table row selector
	column    int    // 0-based <td> index holding the ticker symbol
	fallback  []string
}

func (r *Resolver) scrape(ctx context.Context, src universeSource) ([]string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body, _, err := infra.DoGet(ctx, src.url, map[string]string{"Accept": "text/html"})
	if err != nil {
		return nil, fmt.Errorf("fetch constituents: %w", err)
	}
	defer body.Close()

	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, fmt.Errorf("parse constituents page: %w", err)
	}

	var symbols []string
	doc.Find(src.selector).Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() <= src.column {
			return
		}
		sym := strings.TrimSpace(cells.Eq(src.column).Text())
		sym = strings.ReplaceAll(sym, ".", "-") // e.g. BRK.B -> BRK-B, matching most vendor tickers
		if sym != "" {
			symbols = append(symbols, sym)
		}
	})

	if len(symbols) == 0 {
		return nil, fmt.Errorf("no constituents parsed from %s", src.url)
	}
	return symbols, nil
}
