// Package enrichment is C3 of the pipeline (spec §2, §4.2): it
// consumes RawToken from the bus, resolves each token's social and
// deployer-history statistics concurrently, and republishes the
// result as an EnrichedToken. The worker-pool-over-a-channel shape is
// the teacher's connection-handling pattern turned into a consumer
// pool instead of a listener loop; the concurrent sub-task fan-out per
// token is new, grounded on spec §5's "run social and deployer lookups
// concurrently, bounded by an overall per-token budget" requirement.
package enrichment

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/tokenstream/enrichment-gateway/internal/bus"
	"github.com/tokenstream/enrichment-gateway/internal/metrics"
	"github.com/tokenstream/enrichment-gateway/internal/types"
)

// Engine owns every enrichment sub-resolver and the worker pool that
// drains raw tokens from the bus.
type Engine struct {
	bus              *bus.Bus
	metadataFetcher  *MetadataFetcher
	socialResolver   *SocialResolver
	deployerResolver *DeployerResolver
	metrics          *metrics.Metrics
	log              zerolog.Logger

	workerPoolSize int
	statsBudget    time.Duration
	jobs           chan types.RawToken
}

// NewEngine builds an Engine with the given worker pool size and
// per-token deployer-stats budget (spec §5, 10s).
func NewEngine(b *bus.Bus, metadataFetcher *MetadataFetcher, socialResolver *SocialResolver, deployerResolver *DeployerResolver, m *metrics.Metrics, log zerolog.Logger, workerPoolSize int, statsBudget time.Duration) *Engine {
	return &Engine{
		bus:              b,
		metadataFetcher:  metadataFetcher,
		socialResolver:   socialResolver,
		deployerResolver: deployerResolver,
		metrics:          m,
		log:              log,
		workerPoolSize:   workerPoolSize,
		statsBudget:      statsBudget,
		jobs:             make(chan types.RawToken, workerPoolSize*4),
	}
}

// Run subscribes to the raw-token subject and drains it with
// workerPoolSize concurrent workers until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	if err := bus.SubscribeJSON(e.bus, bus.SubjectRawToken, func(token types.RawToken) {
		select {
		case e.jobs <- token:
		case <-ctx.Done():
		}
	}); err != nil {
		return err
	}

	for i := 0; i < e.workerPoolSize; i++ {
		go e.worker(ctx)
	}
	<-ctx.Done()
	return ctx.Err()
}

func (e *Engine) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case token := <-e.jobs:
			e.process(ctx, token)
		}
	}
}

// process runs the social and deployer-stats sub-tasks concurrently
// for one token (spec §4.2) and publishes the resulting EnrichedToken.
// A failure in either sub-task is recorded on the EnrichedToken as an
// error field rather than aborting the token's enrichment, matching
// the "every token produces an output, a failed lookup is just an
// error-tagged field" contract of spec §4.2.
func (e *Engine) process(parent context.Context, token types.RawToken) {
	start := time.Now()

	ctx, cancel := context.WithTimeout(parent, e.statsBudget)
	defer cancel()

	var social types.SocialStats
	var deployer types.DeployerStats

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		social = e.resolveSocial(gctx, token)
		return nil
	})
	g.Go(func() error {
		deployer = e.deployerResolver.Stats(gctx, token.DeployerAddress, token.TokenAddress)
		return nil
	})
	_ = g.Wait()

	enriched := types.EnrichedToken{
		RawToken:         token,
		Deployer:         deployer,
		Social:           social,
		ProcessingTime:   time.Since(start),
		EnrichedAt:       time.Now(),
		MigrationPercent: deployer.MigrationPercent(),
	}

	e.metrics.ObserveEnrichmentLatency(enriched.ProcessingTime)
	if deployer.Error != "" {
		e.metrics.IncEnrichmentError("deployer")
	}
	if social.Kind == types.SocialKindError {
		e.metrics.IncEnrichmentError("social")
	}

	if err := e.bus.PublishJSON(bus.SubjectEnrichedToken, enriched); err != nil {
		e.log.Error().Err(err).Str("token", token.TokenAddress).Msg("publish enriched token failed")
	}
}

func (e *Engine) resolveSocial(ctx context.Context, token types.RawToken) types.SocialStats {
	url := e.metadataFetcher.SocialURLFor(ctx, token.SocialURL, token.MetadataURI)
	if url == "" {
		return types.SocialStats{Kind: types.SocialKindError, Reason: "no social url"}
	}
	return e.socialResolver.Resolve(ctx, url)
}
