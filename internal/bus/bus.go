// Package bus wraps the internal NATS connection that carries tokens
// between pipeline stages: the upstream session publishes RawToken on
// SubjectRawToken, the enrichment engine consumes it and republishes
// EnrichedToken on SubjectEnrichedToken, and the dispatch hub
// subscribes to that for fan-out to subscribers (spec §2). It is the
// teacher's pkg/nats client generalised off Odin's per-token-id price/
// volume subjects onto this gateway's two fixed stream subjects.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/tokenstream/enrichment-gateway/internal/metrics"
)

const (
	// SubjectRawToken carries types.RawToken JSON, C2 -> C3.
	SubjectRawToken = "gateway.raw.token"
	// SubjectEnrichedToken carries types.EnrichedToken JSON, C3 -> C5.
	SubjectEnrichedToken = "gateway.enriched.token"
)

// Config configures the bus connection.
type Config struct {
	URL             string
	MaxReconnects   int
	ReconnectWait   time.Duration
	ReconnectJitter time.Duration
	MaxPingsOut     int
	PingInterval    time.Duration
}

// Bus is a thin, typed wrapper over a nats.Conn.
type Bus struct {
	conn      *nats.Conn
	metrics   *metrics.Metrics
	log       zerolog.Logger
	subsMutex sync.Mutex
	subs      []*nats.Subscription
}

// Connect dials the bus and registers connection-lifecycle metrics.
func Connect(cfg Config, m *metrics.Metrics, log zerolog.Logger) (*Bus, error) {
	b := &Bus{metrics: m, log: log}

	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(cfg.ReconnectJitter, cfg.ReconnectJitter),
		nats.MaxPingsOutstanding(cfg.MaxPingsOut),
		nats.PingInterval(cfg.PingInterval),
		nats.ConnectHandler(func(c *nats.Conn) {
			b.log.Info().Str("url", c.ConnectedUrl()).Msg("bus connected")
			b.metrics.SetBusConnected(true)
		}),
		nats.DisconnectErrHandler(func(c *nats.Conn, err error) {
			b.log.Warn().Err(err).Msg("bus disconnected")
			b.metrics.SetBusConnected(false)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			b.log.Info().Str("url", c.ConnectedUrl()).Msg("bus reconnected")
			b.metrics.SetBusConnected(true)
			b.metrics.IncBusReconnects()
		}),
		nats.ErrorHandler(func(c *nats.Conn, s *nats.Subscription, err error) {
			b.log.Error().Err(err).Msg("bus error")
			b.metrics.RecordError("bus")
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect bus: %w", err)
	}
	b.conn = conn
	b.metrics.SetBusConnected(true)
	return b, nil
}

// PublishJSON marshals v and publishes it under subject.
func (b *Bus) PublishJSON(subject string, v any) error {
	start := time.Now()
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal for %s: %w", subject, err)
	}
	if err := b.conn.Publish(subject, data); err != nil {
		b.metrics.RecordError("bus_publish")
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	b.metrics.IncBusMessage(subject)
	b.metrics.ObserveBusLatency(time.Since(start))
	return nil
}

// SubscribeJSON subscribes to subject, unmarshalling each message into
// a fresh *T before calling handler. Unmarshal errors are logged and
// skipped rather than propagated, matching the teacher's handler
// signature (NATS subscriptions have no error return path).
func SubscribeJSON[T any](b *Bus, subject string, handler func(T)) error {
	sub, err := b.conn.Subscribe(subject, func(msg *nats.Msg) {
		start := time.Now()
		var v T
		if err := json.Unmarshal(msg.Data, &v); err != nil {
			b.log.Error().Err(err).Str("subject", subject).Msg("bus message unmarshal failed")
			b.metrics.RecordError("bus_unmarshal")
			return
		}
		handler(v)
		b.metrics.IncBusMessage(subject)
		b.metrics.ObserveBusLatency(time.Since(start))
	})
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", subject, err)
	}
	b.subsMutex.Lock()
	b.subs = append(b.subs, sub)
	b.subsMutex.Unlock()
	return nil
}

// WaitForConnection blocks until the bus is connected or ctx expires.
func (b *Bus) WaitForConnection(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if b.conn.IsConnected() {
				return nil
			}
		}
	}
}

// Close unsubscribes everything and closes the connection.
func (b *Bus) Close() {
	b.subsMutex.Lock()
	defer b.subsMutex.Unlock()
	for _, sub := range b.subs {
		_ = sub.Unsubscribe()
	}
	if b.conn != nil {
		b.conn.Close()
		b.metrics.SetBusConnected(false)
	}
}
