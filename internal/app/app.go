// Package app wires every pipeline stage from spec §2 together: the
// upstream session (C2), the internal bus, the enrichment engine (C3), the
// dispatch hub (C5, which owns the filter evaluator C4 per-session),
// the registry, and the HTTP surface (health/stats/metrics/subscriber
// WebSocket). It is the teacher's internal/server.Server generalised
// from a single NATS-price-relay into this multi-stage gateway: the
// same context+WaitGroup start/shutdown shape, the same HTTP mux
// layout (health, stats, metrics endpoints), adapted to own five
// components instead of one hub.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/tokenstream/enrichment-gateway/internal/bus"
	"github.com/tokenstream/enrichment-gateway/internal/config"
	"github.com/tokenstream/enrichment-gateway/internal/dispatch"
	"github.com/tokenstream/enrichment-gateway/internal/enrichment"
	"github.com/tokenstream/enrichment-gateway/internal/metrics"
	"github.com/tokenstream/enrichment-gateway/internal/registry"
	"github.com/tokenstream/enrichment-gateway/internal/types"
	"github.com/tokenstream/enrichment-gateway/internal/upstream"
)

// App owns every long-running component of the gateway process.
type App struct {
	cfg      *config.Config
	log      zerolog.Logger
	metrics  *metrics.Metrics
	system   *metrics.SystemMetrics
	registry registry.Registry
	bus      *bus.Bus
	upstream *upstream.Session
	engine   *enrichment.Engine
	hub      *dispatch.Hub
	httpSrv  *http.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds an App from cfg, dialing the bus and constructing every
// stage's resolvers, but starting nothing yet.
func New(cfg *config.Config, log zerolog.Logger, reg registry.Registry) (*App, error) {
	ctx, cancel := context.WithCancel(context.Background())

	m := metrics.New()
	sys := metrics.NewSystemMetrics()

	b, err := bus.Connect(bus.Config{
		URL:             cfg.Bus.URL,
		MaxReconnects:   cfg.Bus.MaxReconnects,
		ReconnectWait:   cfg.Bus.ReconnectWait,
		ReconnectJitter: 200 * time.Millisecond,
		MaxPingsOut:     3,
		PingInterval:    10 * time.Second,
	}, m, log)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("connect bus: %w", err)
	}

	up := upstream.NewSession(upstream.Config{
		StreamURL:        cfg.Upstream.StreamURL,
		AuthURL:          cfg.Upstream.AuthURL,
		CredentialFile:   cfg.Upstream.CredentialFile,
		RoomID:           cfg.Upstream.RoomID,
		PingInterval:     cfg.Upstream.PingInterval,
		PingTimeout:      cfg.Upstream.PingTimeout,
		ReconnectInitial: cfg.Upstream.ReconnectInitial,
		ReconnectStep:    cfg.Upstream.ReconnectStep,
		ReconnectMax:     cfg.Upstream.ReconnectMax,
		CredentialSkew:   cfg.Upstream.CredentialSkew,
		QueueCapacity:    cfg.Upstream.QueueCapacity,
	}, m, log)

	unitPrice := enrichment.NewUnitPriceSource(cfg.Enrichment.UnitPriceCacheTTL, m)
	athFetcher := enrichment.NewAthFetcher(
		cfg.Enrichment.PairChartTimeout,
		cfg.Enrichment.EndpointRatePerSec,
		cfg.Enrichment.PairChartPrimary,
		cfg.Enrichment.PairChartReplicas,
		cfg.Enrichment.AthCacheTTL,
		m,
	)
	deployerResolver := enrichment.NewDeployerResolver(
		cfg.Enrichment.DevHistoryTimeout,
		cfg.Enrichment.EndpointRatePerSec,
		cfg.Enrichment.DevHistoryPrimary,
		cfg.Enrichment.DevHistoryReplicas,
		athFetcher,
		unitPrice,
		cfg.Enrichment.DeployerCacheTTL,
		cfg.Enrichment.ATHWindowK,
		m,
	)
	metadataFetcher := enrichment.NewMetadataFetcher(cfg.Enrichment.MetadataTimeout, m, 10_000)
	socialResolver := enrichment.NewSocialResolver(
		cfg.Enrichment.SocialAPIKey,
		cfg.Enrichment.SocialTimeout,
		cfg.Enrichment.SocialConnectTimeout,
		m,
		10_000,
		10_000,
	)
	engine := enrichment.NewEngine(b, metadataFetcher, socialResolver, deployerResolver, m, log, cfg.Enrichment.WorkerPoolSize, cfg.Enrichment.DeployerStatsBudget)

	hub := dispatch.NewHub(m, reg, log)

	a := &App{
		cfg:      cfg,
		log:      log,
		metrics:  m,
		system:   sys,
		registry: reg,
		bus:      b,
		upstream: up,
		engine:   engine,
		hub:      hub,
		ctx:      ctx,
		cancel:   cancel,
	}
	a.setupHTTPServer()
	return a, nil
}

func (a *App) setupHTTPServer() {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", a.handleWebSocket)
	mux.HandleFunc("/health", a.handleHealth)
	mux.HandleFunc("/stats", a.handleStats)
	if a.cfg.Metrics.EnablePrometheus {
		mux.Handle(a.cfg.Metrics.MetricsPath, promhttp.Handler())
	}

	a.httpSrv = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", a.cfg.Server.Host, a.cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
	}
}

func (a *App) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	dispatch.ServeWS(a.hub, a.registry, a.metrics, a.log, a.cfg.Auth.HandshakeTimeout, w, r)
}

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
		"uptime":    a.metrics.Uptime().String(),
		"upstream":  a.upstream.State().String(),
		"subscribers": a.hub.ActiveCount(),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(health)
}

func (a *App) handleStats(w http.ResponseWriter, r *http.Request) {
	snapshot := a.hub.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(snapshot)
}

// Start launches every long-running component and blocks until a
// shutdown signal arrives or ctx is cancelled.
func (a *App) Start() error {
	a.log.Info().Msg("starting enrichment gateway")

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.upstream.Run(a.ctx)
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.drainUpstreamQueue()
	}()

	if err := bus.SubscribeJSON(a.bus, bus.SubjectEnrichedToken, func(token types.EnrichedToken) {
		a.hub.Dispatch(a.ctx, token)
	}); err != nil {
		return fmt.Errorf("subscribe enriched tokens: %w", err)
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.engine.Run(a.ctx); err != nil && a.ctx.Err() == nil {
			a.log.Error().Err(err).Msg("enrichment engine stopped")
		}
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.hub.RunStatsLoop(a.ctx, a.cfg.Metrics.StatsInterval)
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		metrics.RunSampler(a.ctx, a.cfg.Metrics.SystemInterval, a.system, a.metrics)
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.runRetentionLoop()
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.log.Info().Str("addr", a.httpSrv.Addr).Msg("http server listening")
		if err := a.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.log.Error().Err(err).Msg("http server error")
		}
	}()

	a.waitForShutdown()
	return nil
}

// drainUpstreamQueue moves tokens from the upstream session's bounded
// queue onto the bus, decoupling the WebSocket read loop from bus
// publish latency per spec §4.1.
func (a *App) drainUpstreamQueue() {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			for {
				token, ok := a.upstream.Queue.Pop()
				if !ok {
					break
				}
				if err := a.bus.PublishJSON(bus.SubjectRawToken, token); err != nil {
					a.log.Error().Err(err).Msg("publish raw token failed")
				}
				a.metrics.SetUpstreamQueueDepth(a.upstream.Queue.Len())
			}
		}
	}
}

func (a *App) runRetentionLoop() {
	ticker := time.NewTicker(a.cfg.Registry.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			n, err := a.registry.CleanupOlderThan(a.ctx, a.cfg.Registry.RetentionDays)
			if err != nil {
				a.log.Error().Err(err).Msg("retention cleanup failed")
				continue
			}
			a.log.Info().Int64("rows", n).Msg("retention cleanup complete")
		}
	}
}

func (a *App) waitForShutdown() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	a.log.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	a.Shutdown()
}

// Shutdown stops every component gracefully, giving in-flight work 30s
// to finish.
func (a *App) Shutdown() {
	a.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := a.httpSrv.Shutdown(ctx); err != nil {
		a.log.Error().Err(err).Msg("http server shutdown error")
	}
	a.bus.Close()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		a.log.Info().Msg("shutdown complete")
	case <-ctx.Done():
		a.log.Warn().Msg("shutdown timed out")
	}
}
