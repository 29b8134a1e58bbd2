package enrichment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokenstream/enrichment-gateway/internal/metrics"
)

func newTestDeployerResolver(t *testing.T, primary string) *DeployerResolver {
	t.Helper()
	m := metrics.New()
	unitPrice := NewUnitPriceSource(time.Minute, m)
	// force a fixed SOL price without hitting the network by seeding the cache.
	unitPrice.cache.Set(unitPriceCacheKey, 200)

	ath := NewAthFetcher(time.Second, 100, "http://127.0.0.1:1/unused", nil, time.Minute, m)
	return NewDeployerResolver(2*time.Second, 100, primary, nil, ath, unitPrice, time.Minute, 10, m)
}

// S6: counts short-circuit, current token excluded and adjusts counts.
func TestDeployerResolver_CountsShortCircuit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := devHistoryResponse{
			Counts: &struct {
				MigratedCount int `json:"migratedCount"`
				TotalCount    int `json:"totalCount"`
			}{MigratedCount: 4, TotalCount: 7},
			Tokens: []devToken{
				{TokenAddress: "T", PairAddress: "PT", Migrated: true, PriceSol: 1, Supply: 1000, CreatedAt: "2026-01-01T00:00:00Z"},
				{TokenAddress: "A", PairAddress: "PA", Migrated: false, PriceSol: 1, Supply: 1000, CreatedAt: "2026-01-02T00:00:00Z"},
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	r := newTestDeployerResolver(t, srv.URL)
	stats := r.Stats(context.Background(), "dev1", "T")

	require.Equal(t, "", stats.Error)
	assert.Equal(t, 3, stats.MigratedCount)
	assert.Equal(t, 6, stats.TotalCount)
	assert.False(t, stats.IsFirstToken)
}

// Excluding the current token from a single-token history leaves the
// deployer's first token with no prior stats.
func TestDeployerResolver_IsFirstToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := devHistoryResponse{
			Tokens: []devToken{
				{TokenAddress: "T", PairAddress: "PT", Migrated: false, PriceSol: 1, Supply: 1000, CreatedAt: "2026-01-01T00:00:00Z"},
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	r := newTestDeployerResolver(t, srv.URL)
	stats := r.Stats(context.Background(), "dev1", "T")

	assert.True(t, stats.IsFirstToken)
	assert.Equal(t, 0, stats.TotalCount)
}

func TestDeployerResolver_OutlierTokensExcludedFromAverage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := devHistoryResponse{
			Tokens: []devToken{
				{TokenAddress: "T", PairAddress: "PT", PriceSol: 1, Supply: 1000, CreatedAt: "2026-01-01T00:00:00Z"},
				// priceSol exceeds the 1,000,000 outlier threshold and must be skipped.
				{TokenAddress: "OUTLIER", PairAddress: "PO", PriceSol: 2_000_000, Supply: 1000, CreatedAt: "2026-01-02T00:00:00Z"},
				{TokenAddress: "NORMAL", PairAddress: "PN", PriceSol: 1, Supply: 1000, CreatedAt: "2026-01-03T00:00:00Z"},
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	r := newTestDeployerResolver(t, srv.URL)
	stats := r.Stats(context.Background(), "dev1", "T")

	require.Equal(t, "", stats.Error)
	assert.Len(t, stats.Breakdown, 1)
	assert.Equal(t, "NORMAL", stats.Breakdown[0].Address)
}

func TestDeployerResolver_AllEndpointsFailedReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	r := newTestDeployerResolver(t, srv.URL)
	stats := r.Stats(context.Background(), "dev1", "T")
	assert.NotEmpty(t, stats.Error)
}
