// athchart fetches a pair's price-chart and derives its all-time-high
// market cap (spec §4.2.3). Grounded directly on
// original_source/new_ws_final_V1.py's _get_pair_ath_mcap: the same
// 30-day/15m-bar window, the same bars-container key list, and the
// same 5-tuple-or-object bar shapes.
package enrichment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/tokenstream/enrichment-gateway/internal/cache"
	"github.com/tokenstream/enrichment-gateway/internal/metrics"
)

// AthFetcher resolves a pair's peak chart price and caches the
// resulting market cap under (pair, supply) for the AthCache TTL.
type AthFetcher struct {
	fetcher  *Fetcher
	primary  string
	replicas []string
	cache    *cache.TTLCache[float64]
	metrics  *metrics.Metrics
}

// NewAthFetcher builds a fetcher targeting primary plus replicas,
// caching results for ttl (spec §3 AthCache, 600s).
func NewAthFetcher(timeout time.Duration, perSecond float64, primary string, replicas []string, ttl time.Duration, m *metrics.Metrics) *AthFetcher {
	return &AthFetcher{
		fetcher:  NewFetcher(timeout, perSecond, "pair_chart", m),
		primary:  primary,
		replicas: replicas,
		cache:    cache.NewTTLCache[float64](ttl),
		metrics:  m,
	}
}

func athCacheKey(pairAddress string, supply float64) string {
	return fmt.Sprintf("%s_%v", pairAddress, supply)
}

// AthMCap returns the all-time-high market cap for pairAddress given
// supply, using the cache when fresh.
func (a *AthFetcher) AthMCap(ctx context.Context, pairAddress string, supply float64) (float64, error) {
	key := athCacheKey(pairAddress, supply)
	if cached, ok := a.cache.Get(key); ok {
		a.metrics.IncCacheHit("ath")
		return cached, nil
	}
	a.metrics.IncCacheMiss("ath")

	now := time.Now().UTC()
	fromMs := now.Add(-30 * 24 * time.Hour).UnixMilli()
	toMs := now.UnixMilli()

	buildReq := func(url string) (*http.Request, error) {
		req, err := http.NewRequest(http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		q := req.URL.Query()
		q.Set("pairAddress", pairAddress)
		q.Set("from", fmt.Sprint(fromMs))
		q.Set("to", fmt.Sprint(toMs))
		q.Set("currency", "USD")
		q.Set("interval", "15m")
		q.Set("openTrading", fmt.Sprint(fromMs))
		q.Set("lastTransactionTime", fmt.Sprint(toMs))
		q.Set("countBars", "300")
		q.Set("showOutliers", "false")
		q.Set("isNew", "false")
		req.URL.RawQuery = q.Encode()
		return req, nil
	}

	body, _, err := a.fetcher.Fetch(ctx, a.primary, a.replicas, 150*time.Millisecond, buildReq)
	if err != nil {
		return 0, err
	}

	peak, err := peakPriceFromChart(body)
	if err != nil {
		return 0, err
	}

	athMCap := peak * supply
	a.cache.Set(key, athMCap)
	return athMCap, nil
}

// peakPriceFromChart extracts the highest high/close across every bar
// in the chart response, regardless of which container key or bar
// shape the endpoint used.
func peakPriceFromChart(body []byte) (float64, error) {
	var raw any
	if err := json.Unmarshal(body, &raw); err != nil {
		return 0, fmt.Errorf("decode chart response: %w", err)
	}

	bars := extractBars(raw)
	if len(bars) == 0 {
		return 0, fmt.Errorf("no bars found")
	}

	var maxPrice float64
	for _, bar := range bars {
		switch b := bar.(type) {
		case []any:
			if len(b) >= 5 {
				high := numberAt(b, 2)
				closeP := numberAt(b, 4)
				maxPrice = maxOf(maxPrice, high, closeP)
			}
		case map[string]any:
			high := firstNumber(b, "h", "high")
			closeP := firstNumber(b, "c", "close", "price")
			maxPrice = maxOf(maxPrice, high, closeP)
		}
	}

	if maxPrice == 0 {
		return 0, fmt.Errorf("no valid price data")
	}
	return maxPrice, nil
}

func extractBars(raw any) []any {
	if list, ok := raw.([]any); ok {
		return list
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil
	}
	for _, key := range []string{"bars", "data", "chart", "candles", "ohlc", "result"} {
		if v, ok := obj[key].([]any); ok {
			return v
		}
	}
	return nil
}

func numberAt(arr []any, idx int) float64 {
	if idx >= len(arr) || arr[idx] == nil {
		return 0
	}
	if f, ok := arr[idx].(float64); ok {
		return f
	}
	return 0
}

func firstNumber(obj map[string]any, keys ...string) float64 {
	for _, k := range keys {
		if v, ok := obj[k]; ok && v != nil {
			if f, ok := v.(float64); ok {
				return f
			}
		}
	}
	return 0
}

func maxOf(values ...float64) float64 {
	max := values[0]
	for _, v := range values[1:] {
		if v > max {
			max = v
		}
	}
	return max
}
