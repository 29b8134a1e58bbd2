// Package registry defines the subscriber and audit persistence
// boundary (spec §6): subscriber identity and API-key lookup, per-
// subscriber settings and allow/deny lists, and the audit log of
// connections/requests/delivered tokens. internal/registry/postgres
// backs it with jmoiron/sqlx + lib/pq; internal/registry/memory is an
// in-memory fake used by dispatch tests.
package registry

import (
	"context"
	"time"

	"github.com/tokenstream/enrichment-gateway/internal/types"
)

// Subscriber is one registered API consumer.
type Subscriber struct {
	Username string
	APIKey   string
	Active   bool
}

// Registry is the storage interface the dispatch hub and CLI depend
// on.
type Registry interface {
	IsActive(ctx context.Context, apiKey string) (bool, error)
	GetUserByAPIKey(ctx context.Context, apiKey string) (Subscriber, error)

	GetSettings(ctx context.Context, username string) (types.SubscriberSettings, error)
	UpdateSettings(ctx context.Context, username string, update types.SettingsUpdate) (types.SubscriberSettings, error)

	GetAllowList(ctx context.Context, username string) ([]types.ListEntry, error)
	GetDenyList(ctx context.Context, username string) ([]types.ListEntry, error)
	AddAllowEntry(ctx context.Context, username string, entry types.ListEntry) error
	AddDenyEntry(ctx context.Context, username string, entry types.ListEntry) error
	RemoveAllowEntry(ctx context.Context, username, deployerAddress string) error
	RemoveDenyEntry(ctx context.Context, username, deployerAddress string) error

	LogConnection(ctx context.Context, username, action string, at time.Time) error
	LogRequest(ctx context.Context, username string, command types.Command, payload any, success bool) error
	LogTokenSent(ctx context.Context, tokenAddress string, sentAt time.Time) error
	SaveServerStats(ctx context.Context, snapshot ServerStatsSnapshot) error

	// CleanupOlderThan deletes audit rows older than days, the
	// supplemented retention job from spec §12.
	CleanupOlderThan(ctx context.Context, days int) (int64, error)
}

// ServerStatsSnapshot is the periodic counters snapshot the dispatch
// hub persists every Metrics.StatsInterval (spec §12).
type ServerStatsSnapshot struct {
	Timestamp         time.Time
	TokensReceived    int64
	TokensSent        int64
	TokensFiltered    int64
	ActiveConnections int
}
