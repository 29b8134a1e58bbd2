// unitprice maintains the SOL/USD price used to convert priceSol into
// a USD market cap (spec §4.2.1). Grounded on
// original_source/new_ws_final_V1.py's _get_sol_price_cached, which
// hits CoinGecko and keeps the last good price on any fetch error —
// a stale price beats no price for a figure that only gates a rough
// filter threshold.
package enrichment

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/tokenstream/enrichment-gateway/internal/cache"
	"github.com/tokenstream/enrichment-gateway/internal/metrics"
)

const solPriceURL = "https://api.coingecko.com/api/v3/simple/price?ids=solana&vs_currencies=usd"

// UnitPriceSource serves the current SOL/USD price, refreshing at
// most once per TTL and falling back to the last known price on any
// fetch failure.
type UnitPriceSource struct {
	client  *http.Client
	cache   *cache.TTLCache[float64]
	metrics *metrics.Metrics

	mu   sync.Mutex
	last float64
}

// NewUnitPriceSource builds a source cached for ttl (spec §3
// UnitPriceCache, 60s).
func NewUnitPriceSource(ttl time.Duration, m *metrics.Metrics) *UnitPriceSource {
	return &UnitPriceSource{
		client:  &http.Client{Timeout: 2 * time.Second},
		cache:   cache.NewTTLCache[float64](ttl),
		metrics: m,
	}
}

const unitPriceCacheKey = "sol_usd"

// Price returns the current SOL/USD price, fetching a fresh one if
// the cached value has expired.
func (s *UnitPriceSource) Price(ctx context.Context) float64 {
	if price, ok := s.cache.Get(unitPriceCacheKey); ok {
		s.metrics.IncCacheHit("unit_price")
		return price
	}
	s.metrics.IncCacheMiss("unit_price")

	price, err := s.fetch(ctx)
	if err != nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.last
	}

	s.mu.Lock()
	s.last = price
	s.mu.Unlock()
	s.cache.Set(unitPriceCacheKey, price)
	return price
}

func (s *UnitPriceSource) fetch(ctx context.Context) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, solPriceURL, nil)
	if err != nil {
		return 0, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	var body struct {
		Solana struct {
			USD float64 `json:"usd"`
		} `json:"solana"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, err
	}
	return body.Solana.USD, nil
}
