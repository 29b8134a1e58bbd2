// Package memory is an in-process Registry fake used by dispatch
// tests; it implements the same interface the Postgres adapter
// does, with no persistence across process restarts.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tokenstream/enrichment-gateway/internal/registry"
	"github.com/tokenstream/enrichment-gateway/internal/types"
)

type Registry struct {
	mu sync.RWMutex

	users    map[string]registry.Subscriber // apiKey -> subscriber
	settings map[string]types.SubscriberSettings
	allow    map[string][]types.ListEntry
	deny     map[string][]types.ListEntry
	stats    []registry.ServerStatsSnapshot
}

func New() *Registry {
	return &Registry{
		users:    make(map[string]registry.Subscriber),
		settings: make(map[string]types.SubscriberSettings),
		allow:    make(map[string][]types.ListEntry),
		deny:     make(map[string][]types.ListEntry),
	}
}

// AddUser seeds a subscriber, for test setup.
func (r *Registry) AddUser(username, apiKey string, active bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[apiKey] = registry.Subscriber{Username: username, APIKey: apiKey, Active: active}
	if _, ok := r.settings[username]; !ok {
		r.settings[username] = types.DefaultSubscriberSettings()
	}
}

func (r *Registry) IsActive(_ context.Context, apiKey string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[apiKey]
	if !ok {
		return false, nil
	}
	return u.Active, nil
}

func (r *Registry) GetUserByAPIKey(_ context.Context, apiKey string) (registry.Subscriber, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[apiKey]
	if !ok {
		return registry.Subscriber{}, fmt.Errorf("unknown api key")
	}
	return u, nil
}

func (r *Registry) GetSettings(_ context.Context, username string) (types.SubscriberSettings, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.settings[username]
	if !ok {
		return types.DefaultSubscriberSettings(), nil
	}
	return s, nil
}

func (r *Registry) UpdateSettings(_ context.Context, username string, update types.SettingsUpdate) (types.SubscriberSettings, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.settings[username]
	if !ok {
		current = types.DefaultSubscriberSettings()
	}
	next := update.Apply(current)
	r.settings[username] = next
	return next, nil
}

func (r *Registry) GetAllowList(_ context.Context, username string) ([]types.ListEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]types.ListEntry{}, r.allow[username]...), nil
}

func (r *Registry) GetDenyList(_ context.Context, username string) ([]types.ListEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]types.ListEntry{}, r.deny[username]...), nil
}

func (r *Registry) AddAllowEntry(_ context.Context, username string, entry types.ListEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.allow[username] = append(r.allow[username], entry)
	return nil
}

func (r *Registry) AddDenyEntry(_ context.Context, username string, entry types.ListEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deny[username] = append(r.deny[username], entry)
	return nil
}

func (r *Registry) RemoveAllowEntry(_ context.Context, username, deployerAddress string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.allow[username] = removeEntry(r.allow[username], deployerAddress)
	return nil
}

func (r *Registry) RemoveDenyEntry(_ context.Context, username, deployerAddress string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deny[username] = removeEntry(r.deny[username], deployerAddress)
	return nil
}

func removeEntry(entries []types.ListEntry, deployerAddress string) []types.ListEntry {
	out := entries[:0]
	for _, e := range entries {
		if e.DeployerAddress != deployerAddress {
			out = append(out, e)
		}
	}
	return out
}

func (r *Registry) LogConnection(_ context.Context, _, _ string, _ time.Time) error { return nil }
func (r *Registry) LogRequest(_ context.Context, _ string, _ types.Command, _ any, _ bool) error {
	return nil
}
func (r *Registry) LogTokenSent(_ context.Context, _ string, _ time.Time) error { return nil }

func (r *Registry) SaveServerStats(_ context.Context, snapshot registry.ServerStatsSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats = append(r.stats, snapshot)
	return nil
}

func (r *Registry) CleanupOlderThan(_ context.Context, _ int) (int64, error) { return 0, nil }
