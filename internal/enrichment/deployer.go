// deployer implements the deployer-history statistics described in
// spec §4.2.1: fetch every token a deployer has previously created,
// exclude the current token from the stats, average market cap over
// everything that remains, and average all-time-high market cap over
// only the newest K. Grounded on
// original_source/new_ws_final_V1.py's _get_dev_migrations_and_mcap,
// translated field-for-field (the counts-short-circuit, the outlier
// thresholds, the newest-K-only ATH window).
package enrichment

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/tokenstream/enrichment-gateway/internal/cache"
	"github.com/tokenstream/enrichment-gateway/internal/metrics"
	"github.com/tokenstream/enrichment-gateway/internal/types"
)

const maxReasonableMCap = 100_000_000_000

// devToken is one entry of a dev-history response, shaped the way the
// upstream API returns it.
type devToken struct {
	TokenAddress string  `json:"tokenAddress"`
	PairAddress  string  `json:"pairAddress"`
	TokenTicker  string  `json:"tokenTicker"`
	TokenName    string  `json:"tokenName"`
	PriceSol     float64 `json:"priceSol"`
	Supply       float64 `json:"supply"`
	Migrated     bool    `json:"migrated"`
	CreatedAt    string  `json:"createdAt"`
	Protocol     string  `json:"protocol"`
}

type devHistoryResponse struct {
	Counts *struct {
		MigratedCount int `json:"migratedCount"`
		TotalCount    int `json:"totalCount"`
	} `json:"counts"`
	Tokens []devToken `json:"tokens"`
}

// DeployerResolver computes DeployerStats for a (deployer, current
// token) pair, caching the result under the deployer address.
type DeployerResolver struct {
	fetcher    *Fetcher
	primary    string
	replicas   []string
	athFetcher *AthFetcher
	unitPrice  *UnitPriceSource
	cache      *cache.TTLCache[types.DeployerStats]
	metrics    *metrics.Metrics
	athWindowK int
}

// NewDeployerResolver builds a resolver against the dev-history
// primary/replica endpoints, caching results for ttl (spec §3
// DeployerCache, 300s) and computing ATH over the newest athWindowK
// remaining tokens.
func NewDeployerResolver(timeout time.Duration, perSecond float64, primary string, replicas []string, athFetcher *AthFetcher, unitPrice *UnitPriceSource, ttl time.Duration, athWindowK int, m *metrics.Metrics) *DeployerResolver {
	return &DeployerResolver{
		fetcher:    NewFetcher(timeout, perSecond, "dev_history", m),
		primary:    primary,
		replicas:   replicas,
		athFetcher: athFetcher,
		unitPrice:  unitPrice,
		cache:      cache.NewTTLCache[types.DeployerStats](ttl),
		metrics:    m,
		athWindowK: athWindowK,
	}
}

// Stats computes or returns the cached DeployerStats for deployerAddress,
// excluding currentTokenAddress from the averages.
func (r *DeployerResolver) Stats(ctx context.Context, deployerAddress, currentTokenAddress string) types.DeployerStats {
	if cached, ok := r.cache.Get(deployerAddress); ok {
		r.metrics.IncCacheHit("deployer")
		return cached
	}
	r.metrics.IncCacheMiss("deployer")

	stats := r.compute(ctx, deployerAddress, currentTokenAddress)
	r.cache.Set(deployerAddress, stats)
	return stats
}

func (r *DeployerResolver) compute(ctx context.Context, deployerAddress, currentTokenAddress string) types.DeployerStats {
	buildReq := func(url string) (*http.Request, error) {
		req, err := http.NewRequest(http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		q := req.URL.Query()
		q.Set("devAddress", deployerAddress)
		req.URL.RawQuery = q.Encode()
		return req, nil
	}

	body, used, err := r.fetcher.Fetch(ctx, r.primary, r.replicas, 100*time.Millisecond, buildReq)
	if err != nil {
		return types.DeployerStats{Error: err.Error()}
	}

	var resp devHistoryResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return types.DeployerStats{Error: "invalid response format"}
	}
	if len(resp.Tokens) == 0 {
		return types.DeployerStats{Error: "no tokens found"}
	}

	migratedFromAPI, totalFromAPI := 0, 0
	if resp.Counts != nil {
		migratedFromAPI = resp.Counts.MigratedCount
		totalFromAPI = resp.Counts.TotalCount
	} else {
		totalFromAPI = len(resp.Tokens)
		for _, t := range resp.Tokens {
			if t.Migrated {
				migratedFromAPI++
			}
		}
	}

	currentMigrated := false
	currentInList := false
	tokensForStats := make([]devToken, 0, len(resp.Tokens))
	for _, t := range resp.Tokens {
		if t.TokenAddress == currentTokenAddress {
			currentInList = true
			currentMigrated = t.Migrated
			continue
		}
		tokensForStats = append(tokensForStats, t)
	}

	if len(tokensForStats) == 0 {
		return types.DeployerStats{IsFirstToken: true, SourceEndpoint: used}
	}

	migratedCount, totalCount := migratedFromAPI, totalFromAPI
	if currentInList {
		if currentMigrated {
			migratedCount--
		}
		totalCount--
	}

	sort.Slice(tokensForStats, func(i, j int) bool {
		return tokensForStats[i].CreatedAt > tokensForStats[j].CreatedAt
	})

	solPrice := r.unitPrice.Price(ctx)

	var validMCaps []float64
	breakdown := make([]types.TokenBreakdown, 0, len(tokensForStats))
	for _, t := range tokensForStats {
		if t.PriceSol <= 0 || t.Supply <= 0 {
			continue
		}
		if t.PriceSol > 1_000_000 || t.Supply > 1e15 {
			continue
		}

		mcap := t.PriceSol * t.Supply * solPrice
		if mcap < 100 || mcap > maxReasonableMCap {
			continue
		}

		validMCaps = append(validMCaps, mcap)
		createdAt, _ := time.Parse(time.RFC3339, t.CreatedAt)
		breakdown = append(breakdown, types.TokenBreakdown{
			Address:   t.TokenAddress,
			Ticker:    t.TokenTicker,
			MCap:      mcap,
			Migrated:  t.Migrated,
			Protocol:  t.Protocol,
			CreatedAt: createdAt,
		})
	}

	if len(validMCaps) == 0 {
		return types.DeployerStats{Error: "no valid tokens"}
	}

	avgMCap := average(validMCaps)
	if avgMCap > maxReasonableMCap {
		return types.DeployerStats{Error: "invalid data"}
	}

	window := breakdown
	if len(window) > r.athWindowK {
		window = window[:r.athWindowK]
	}
	avgAthMCap := r.athMCapsFor(ctx, window, tokensForStats)

	return types.DeployerStats{
		AvgMCap:        avgMCap,
		AvgAthMCap:     avgAthMCap,
		MigratedCount:  migratedCount,
		TotalCount:     totalCount,
		Breakdown:      breakdown,
		SourceEndpoint: used,
	}
}

// athMCapsFor fetches the ATH market cap for each token in window
// (the newest K remaining after exclusion) and returns their average,
// writing each result back onto the matching breakdown entry.
func (r *DeployerResolver) athMCapsFor(ctx context.Context, window []types.TokenBreakdown, source []devToken) float64 {
	pairByAddress := make(map[string]string, len(source))
	supplyByAddress := make(map[string]float64, len(source))
	for _, t := range source {
		pairByAddress[t.TokenAddress] = t.PairAddress
		supplyByAddress[t.TokenAddress] = t.Supply
	}

	var athValues []float64
	for i := range window {
		pair := pairByAddress[window[i].Address]
		supply := supplyByAddress[window[i].Address]
		if pair == "" {
			continue
		}
		ath, err := r.athFetcher.AthMCap(ctx, pair, supply)
		if err != nil {
			continue
		}
		window[i].AthMCap = ath
		athValues = append(athValues, ath)
	}

	if len(athValues) == 0 {
		return 0
	}
	return average(athValues)
}

func average(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
