package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 10, cfg.Enrichment.ATHWindowK)
	assert.Equal(t, 50, cfg.Enrichment.WorkerPoolSize)
	assert.Equal(t, 300*time.Second, cfg.Enrichment.DeployerCacheTTL)
	assert.True(t, cfg.Metrics.EnablePrometheus)
}

func TestLoad_ReplicaURLsFallBackWhenUnset(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Len(t, cfg.Enrichment.DevHistoryReplicas, 6)
	assert.Len(t, cfg.Enrichment.PairChartReplicas, 3)
}

func TestLoad_ReplicaURLsFromEnvOverrideDefaults(t *testing.T) {
	t.Setenv("DEV_HISTORY_REPLICA_URLS", "https://one.example.com,https://two.example.com")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"https://one.example.com", "https://two.example.com"}, cfg.Enrichment.DevHistoryReplicas)
}

func TestLoad_EnvOverridesScalarDefault(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
}
