// fallback implements the multi-endpoint retrieval policy shared by
// the deployer-history and pair-chart lookups (spec §4.2.2): try the
// primary endpoint with two attempts (one retry) on a 5xx, then fan out to
// every replica at once with a small stagger between starts and take
// the first success. Grounded on original_source/new_ws_final_V1.py's
// try_api_with_retry / try_pair_chart_with_retry plus their
// asyncio.as_completed race — the retry-then-race shape is identical,
// translated into plain goroutines racing over a buffered result
// channel since Go has no as_completed equivalent.
package enrichment

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/tokenstream/enrichment-gateway/internal/metrics"
)

var retryableStatus = map[int]bool{500: true, 502: true, 503: true, 504: true}

// endpointResult carries a successful response body or the reason the
// attempt failed.
type endpointResult struct {
	body []byte
	err  error
	used string
}

// Fetcher issues rate-limited GET requests against a primary endpoint
// and a set of replicas, following spec §4.2.2's retry-then-race
// policy.
type Fetcher struct {
	client   *http.Client
	limiter  *rate.Limiter
	metrics  *metrics.Metrics
	family   string
}

// NewFetcher builds a Fetcher for one endpoint family ("dev_history"
// or "pair_chart"), rate limited to perSecond requests.
func NewFetcher(timeout time.Duration, perSecond float64, family string, m *metrics.Metrics) *Fetcher {
	return &Fetcher{
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(perSecond), int(perSecond)+1),
		metrics: m,
		family:  family,
	}
}

// Fetch tries primary (with maxRetries attempts on a 5xx), then races
// every replica with stagger between each start, returning the first
// successful body and the URL that produced it.
func (f *Fetcher) Fetch(ctx context.Context, primary string, replicas []string, stagger time.Duration, buildReq func(url string) (*http.Request, error)) ([]byte, string, error) {
	body, used, err := f.tryWithRetry(ctx, primary, 2, buildReq)
	if err == nil {
		f.metrics.IncFallbackOutcome(f.family, "primary")
		return body, used, nil
	}
	lastErr := err

	if len(replicas) == 0 {
		f.metrics.IncFallbackOutcome(f.family, "failed")
		return nil, "", fmt.Errorf("All APIs failed (last: %w)", lastErr)
	}

	results := make(chan endpointResult, len(replicas))
	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	for i, url := range replicas {
		delay := time.Duration(i) * stagger
		go func(url string, delay time.Duration) {
			select {
			case <-raceCtx.Done():
				return
			case <-time.After(delay):
			}
			body, used, err := f.tryWithRetry(raceCtx, url, 1, buildReq)
			results <- endpointResult{body: body, err: err, used: used}
		}(url, delay)
	}

	for range replicas {
		select {
		case <-ctx.Done():
			f.metrics.IncFallbackOutcome(f.family, "failed")
			return nil, "", ctx.Err()
		case r := <-results:
			if r.err == nil {
				f.metrics.IncFallbackOutcome(f.family, "replica")
				return r.body, r.used, nil
			}
			lastErr = r.err
		}
	}

	f.metrics.IncFallbackOutcome(f.family, "failed")
	return nil, "", fmt.Errorf("All APIs failed (last: %w)", lastErr)
}

func (f *Fetcher) tryWithRetry(ctx context.Context, url string, maxRetries int, buildReq func(url string) (*http.Request, error)) ([]byte, string, error) {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, url, err
		}

		req, err := buildReq(url)
		if err != nil {
			return nil, url, err
		}
		req = req.WithContext(ctx)

		resp, err := f.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("%s: %w", host(url), err)
			if attempt < maxRetries-1 {
				continue
			}
			return nil, url, lastErr
		}

		if resp.StatusCode == http.StatusOK {
			body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
			resp.Body.Close()
			if err != nil {
				return nil, url, fmt.Errorf("%s: read body: %w", host(url), err)
			}
			return body, url, nil
		}
		resp.Body.Close()

		if retryableStatus[resp.StatusCode] {
			lastErr = fmt.Errorf("%s: HTTP %d", host(url), resp.StatusCode)
			if attempt < maxRetries-1 {
				continue
			}
			return nil, url, lastErr
		}
		return nil, url, fmt.Errorf("%s: HTTP %d", host(url), resp.StatusCode)
	}
	return nil, url, lastErr
}

func host(url string) string {
	parts := strings.SplitN(strings.TrimPrefix(strings.TrimPrefix(url, "https://"), "http://"), "/", 2)
	return parts[0]
}
