// Package config loads the gateway's typed configuration the way the
// teacher repo does: a struct of defaults overlaid by environment
// variables, except the overlay itself is done by caarlos0/env
// instead of a hand-rolled switch, and a .env file is loaded first in
// local development.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is the full process environment described in spec §6.
type Config struct {
	Server struct {
		Host         string        `env:"SERVER_HOST" envDefault:"0.0.0.0"`
		Port         int           `env:"SERVER_PORT" envDefault:"8080"`
		ReadTimeout  time.Duration `env:"SERVER_READ_TIMEOUT" envDefault:"10s"`
		WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" envDefault:"10s"`
	}

	Upstream struct {
		StreamURL       string        `env:"UPSTREAM_STREAM_URL" envDefault:"wss://upstream.example.com/ws"`
		AuthURL         string        `env:"UPSTREAM_AUTH_URL" envDefault:"https://upstream.example.com/auth/refresh"`
		CredentialFile  string        `env:"UPSTREAM_CREDENTIAL_FILE" envDefault:"./upstream-credentials.json"`
		RoomID          string        `env:"UPSTREAM_ROOM_ID" envDefault:"new_pairs"`
		PingInterval    time.Duration `env:"UPSTREAM_PING_INTERVAL" envDefault:"20s"`
		PingTimeout     time.Duration `env:"UPSTREAM_PING_TIMEOUT" envDefault:"10s"`
		ReconnectInitial time.Duration `env:"UPSTREAM_RECONNECT_INITIAL" envDefault:"1s"`
		ReconnectStep    time.Duration `env:"UPSTREAM_RECONNECT_STEP" envDefault:"3s"`
		ReconnectMax     time.Duration `env:"UPSTREAM_RECONNECT_MAX" envDefault:"5s"`
		CredentialSkew   time.Duration `env:"UPSTREAM_CREDENTIAL_SKEW" envDefault:"30s"`
		QueueCapacity    int           `env:"UPSTREAM_QUEUE_CAPACITY" envDefault:"16384"`
	}

	Enrichment struct {
		DevHistoryPrimary  string        `env:"DEV_HISTORY_PRIMARY_URL" envDefault:"https://api.venue.example.com/dev-history"`
		DevHistoryReplicas []string      `env:"DEV_HISTORY_REPLICA_URLS" envSeparator:","`
		PairChartPrimary   string        `env:"PAIR_CHART_PRIMARY_URL" envDefault:"https://api.venue.example.com/pair-chart"`
		PairChartReplicas  []string      `env:"PAIR_CHART_REPLICA_URLS" envSeparator:","`
		SocialAPIKey       string        `env:"SOCIAL_API_KEY"`
		ATHWindowK         int           `env:"ATH_WINDOW_K" envDefault:"10"`
		WorkerPoolSize     int           `env:"ENRICHMENT_WORKER_POOL_SIZE" envDefault:"50"`
		DeployerCacheTTL   time.Duration `env:"DEPLOYER_CACHE_TTL" envDefault:"300s"`
		AthCacheTTL        time.Duration `env:"ATH_CACHE_TTL" envDefault:"600s"`
		UnitPriceCacheTTL  time.Duration `env:"UNIT_PRICE_CACHE_TTL" envDefault:"60s"`
		MetadataTimeout    time.Duration `env:"METADATA_TIMEOUT" envDefault:"1s"`
		SocialTimeout      time.Duration `env:"SOCIAL_TIMEOUT" envDefault:"2s"`
		SocialConnectTimeout time.Duration `env:"SOCIAL_CONNECT_TIMEOUT" envDefault:"500ms"`
		DevHistoryTimeout  time.Duration `env:"DEV_HISTORY_TIMEOUT" envDefault:"5s"`
		PairChartTimeout   time.Duration `env:"PAIR_CHART_TIMEOUT" envDefault:"6s"`
		DeployerStatsBudget time.Duration `env:"DEPLOYER_STATS_BUDGET" envDefault:"10s"`
		EndpointRatePerSec float64       `env:"ENDPOINT_RATE_PER_SEC" envDefault:"20"`
	}

	Registry struct {
		DSN             string        `env:"REGISTRY_DSN" envDefault:"postgres://localhost:5432/gateway?sslmode=disable"`
		RetentionDays   int           `env:"REGISTRY_RETENTION_DAYS" envDefault:"30"`
		CleanupInterval time.Duration `env:"REGISTRY_CLEANUP_INTERVAL" envDefault:"24h"`
	}

	Bus struct {
		URL           string        `env:"BUS_URL" envDefault:"nats://localhost:4222"`
		MaxReconnects int           `env:"BUS_MAX_RECONNECTS" envDefault:"10"`
		ReconnectWait time.Duration `env:"BUS_RECONNECT_WAIT" envDefault:"1s"`
	}

	Metrics struct {
		EnablePrometheus bool          `env:"ENABLE_PROMETHEUS" envDefault:"true"`
		MetricsPath      string        `env:"METRICS_PATH" envDefault:"/metrics"`
		StatsInterval    time.Duration `env:"STATS_INTERVAL" envDefault:"300s"`
		SystemInterval   time.Duration `env:"SYSTEM_METRICS_INTERVAL" envDefault:"5s"`
	}

	Auth struct {
		HandshakeTimeout time.Duration `env:"SUBSCRIBER_HANDSHAKE_TIMEOUT" envDefault:"10s"`
	}

	Logging struct {
		Level string `env:"LOG_LEVEL" envDefault:"info"`
		Pretty bool  `env:"LOG_PRETTY" envDefault:"false"`
	}
}

// Load reads a .env file if present (ignored if missing, exactly like
// the teacher's optional -config flag file), then binds the
// environment onto Config defaults.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if len(cfg.Enrichment.DevHistoryReplicas) == 0 {
		cfg.Enrichment.DevHistoryReplicas = []string{
			"https://api3.venue.example.com/dev-history",
			"https://api6.venue.example.com/dev-history",
			"https://api7.venue.example.com/dev-history",
			"https://api8.venue.example.com/dev-history",
			"https://api9.venue.example.com/dev-history",
			"https://api10.venue.example.com/dev-history",
		}
	}
	if len(cfg.Enrichment.PairChartReplicas) == 0 {
		cfg.Enrichment.PairChartReplicas = []string{
			"https://api3.venue.example.com/pair-chart",
			"https://api7.venue.example.com/pair-chart",
			"https://api9.venue.example.com/pair-chart",
		}
	}

	return cfg, nil
}
