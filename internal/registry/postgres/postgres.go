// Package postgres is the jmoiron/sqlx + lib/pq Registry adapter. Its
// schema carries over the five tables of original_source/database.py
// (users, user_options, user_whitelist, user_blacklist, plus the audit
// tables) translated to Postgres types: TEXT timestamps become
// timestamptz, INTEGER booleans become bool, and the per-column
// protocols JSON blob becomes jsonb.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/tokenstream/enrichment-gateway/internal/registry"
	"github.com/tokenstream/enrichment-gateway/internal/types"
)

// Schema is applied by the `migrate` CLI subcommand.
const Schema = `
CREATE TABLE IF NOT EXISTS users (
	id SERIAL PRIMARY KEY,
	username TEXT UNIQUE NOT NULL,
	telegram_username TEXT,
	telegram_id BIGINT UNIQUE,
	api_key TEXT UNIQUE NOT NULL,
	is_admin BOOLEAN NOT NULL DEFAULT false,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at TIMESTAMPTZ NOT NULL,
	is_active BOOLEAN NOT NULL DEFAULT true
);

CREATE TABLE IF NOT EXISTS user_options (
	user_id INTEGER PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
	enable_avg_mcap BOOLEAN NOT NULL DEFAULT false,
	min_avg_mcap DOUBLE PRECISION NOT NULL DEFAULT 0,
	enable_avg_ath_mcap BOOLEAN NOT NULL DEFAULT false,
	min_avg_ath_mcap DOUBLE PRECISION NOT NULL DEFAULT 0,
	enable_migrations BOOLEAN NOT NULL DEFAULT false,
	min_migration_percent DOUBLE PRECISION NOT NULL DEFAULT 0,
	dev_tokens_count INTEGER NOT NULL DEFAULT 10,
	enable_protocol_filter BOOLEAN NOT NULL DEFAULT false,
	protocols JSONB NOT NULL DEFAULT '{"other": true}',
	enable_twitter_user BOOLEAN NOT NULL DEFAULT false,
	min_twitter_followers INTEGER NOT NULL DEFAULT 0,
	enable_twitter_community BOOLEAN NOT NULL DEFAULT false,
	min_community_members INTEGER NOT NULL DEFAULT 0,
	min_admin_followers INTEGER NOT NULL DEFAULT 0,
	use_and_mode BOOLEAN NOT NULL DEFAULT false
);

CREATE TABLE IF NOT EXISTS user_whitelist (
	id SERIAL PRIMARY KEY,
	user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	dev_wallet TEXT NOT NULL,
	token_name TEXT,
	token_ticker TEXT,
	added_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE(user_id, dev_wallet)
);

CREATE TABLE IF NOT EXISTS user_blacklist (
	id SERIAL PRIMARY KEY,
	user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	dev_wallet TEXT NOT NULL,
	token_name TEXT,
	token_ticker TEXT,
	added_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE(user_id, dev_wallet)
);

CREATE TABLE IF NOT EXISTS connection_logs (
	id SERIAL PRIMARY KEY,
	user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	action TEXT NOT NULL,
	timestamp TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS request_logs (
	id SERIAL PRIMARY KEY,
	user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	request_type TEXT NOT NULL,
	request_data JSONB,
	success BOOLEAN NOT NULL DEFAULT true,
	timestamp TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS token_logs (
	id SERIAL PRIMARY KEY,
	user_id INTEGER REFERENCES users(id) ON DELETE CASCADE,
	token_address TEXT NOT NULL,
	timestamp TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS server_stats (
	id SERIAL PRIMARY KEY,
	timestamp TIMESTAMPTZ NOT NULL DEFAULT now(),
	active_connections INTEGER NOT NULL DEFAULT 0,
	tokens_received BIGINT NOT NULL DEFAULT 0,
	tokens_sent BIGINT NOT NULL DEFAULT 0,
	tokens_filtered BIGINT NOT NULL DEFAULT 0
);
`

type Registry struct {
	db *sqlx.DB
}

func Open(dsn string) (*Registry, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Registry{db: db}, nil
}

func (r *Registry) Migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, Schema)
	return err
}

func (r *Registry) Close() error { return r.db.Close() }

type userRow struct {
	ID       int    `db:"id"`
	Username string `db:"username"`
	APIKey   string `db:"api_key"`
	IsActive bool   `db:"is_active"`
}

func (r *Registry) IsActive(ctx context.Context, apiKey string) (bool, error) {
	var active bool
	err := r.db.GetContext(ctx, &active, `SELECT is_active FROM users WHERE api_key = $1`, apiKey)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return active, err
}

func (r *Registry) GetUserByAPIKey(ctx context.Context, apiKey string) (registry.Subscriber, error) {
	var row userRow
	err := r.db.GetContext(ctx, &row, `SELECT id, username, api_key, is_active FROM users WHERE api_key = $1`, apiKey)
	if err != nil {
		return registry.Subscriber{}, err
	}
	return registry.Subscriber{Username: row.Username, APIKey: row.APIKey, Active: row.IsActive}, nil
}

type optionsRow struct {
	EnableAvgMCap          bool            `db:"enable_avg_mcap"`
	MinAvgMCap             float64         `db:"min_avg_mcap"`
	EnableAvgAthMCap       bool            `db:"enable_avg_ath_mcap"`
	MinAvgAthMCap          float64         `db:"min_avg_ath_mcap"`
	EnableMigrations       bool            `db:"enable_migrations"`
	MinMigrationPercent    float64         `db:"min_migration_percent"`
	DevTokensCount         int             `db:"dev_tokens_count"`
	EnableProtocolFilter   bool            `db:"enable_protocol_filter"`
	Protocols              json.RawMessage `db:"protocols"`
	EnableTwitterUser      bool            `db:"enable_twitter_user"`
	MinTwitterFollowers    int             `db:"min_twitter_followers"`
	EnableTwitterCommunity bool            `db:"enable_twitter_community"`
	MinCommunityMembers    int             `db:"min_community_members"`
	MinAdminFollowers      int             `db:"min_admin_followers"`
	UseAndMode             bool            `db:"use_and_mode"`
}

func (o optionsRow) toSettings() types.SubscriberSettings {
	protocols := map[string]bool{}
	_ = json.Unmarshal(o.Protocols, &protocols)
	return types.SubscriberSettings{
		EnableAvgMCap:          o.EnableAvgMCap,
		MinAvgMCap:             o.MinAvgMCap,
		EnableAvgAthMCap:       o.EnableAvgAthMCap,
		MinAvgAthMCap:          o.MinAvgAthMCap,
		EnableMigrations:       o.EnableMigrations,
		MinMigrationPct:        o.MinMigrationPercent,
		TokensForATH:           o.DevTokensCount,
		EnableProtocol:         o.EnableProtocolFilter,
		Protocols:              protocols,
		EnableTwitterUser:      o.EnableTwitterUser,
		MinTwitterFollowers:    o.MinTwitterFollowers,
		EnableTwitterCommunity: o.EnableTwitterCommunity,
		MinCommunityMembers:    o.MinCommunityMembers,
		MinAdminFollowers:      o.MinAdminFollowers,
		UseAndMode:             o.UseAndMode,
	}
}

func (r *Registry) userID(ctx context.Context, username string) (int, error) {
	var id int
	err := r.db.GetContext(ctx, &id, `SELECT id FROM users WHERE username = $1`, username)
	return id, err
}

func (r *Registry) GetSettings(ctx context.Context, username string) (types.SubscriberSettings, error) {
	uid, err := r.userID(ctx, username)
	if err != nil {
		return types.SubscriberSettings{}, err
	}
	var row optionsRow
	err = r.db.GetContext(ctx, &row, `SELECT enable_avg_mcap, min_avg_mcap, enable_avg_ath_mcap,
		min_avg_ath_mcap, enable_migrations, min_migration_percent, dev_tokens_count,
		enable_protocol_filter, protocols, enable_twitter_user, min_twitter_followers,
		enable_twitter_community, min_community_members, min_admin_followers, use_and_mode
		FROM user_options WHERE user_id = $1`, uid)
	if err == sql.ErrNoRows {
		return types.DefaultSubscriberSettings(), nil
	}
	if err != nil {
		return types.SubscriberSettings{}, err
	}
	return row.toSettings(), nil
}

func (r *Registry) UpdateSettings(ctx context.Context, username string, update types.SettingsUpdate) (types.SubscriberSettings, error) {
	current, err := r.GetSettings(ctx, username)
	if err != nil {
		return types.SubscriberSettings{}, err
	}
	next := update.Apply(current)

	uid, err := r.userID(ctx, username)
	if err != nil {
		return types.SubscriberSettings{}, err
	}
	protocolsJSON, err := json.Marshal(next.Protocols)
	if err != nil {
		return types.SubscriberSettings{}, err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO user_options (user_id, enable_avg_mcap, min_avg_mcap, enable_avg_ath_mcap,
			min_avg_ath_mcap, enable_migrations, min_migration_percent, dev_tokens_count,
			enable_protocol_filter, protocols, enable_twitter_user, min_twitter_followers,
			enable_twitter_community, min_community_members, min_admin_followers, use_and_mode)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		ON CONFLICT (user_id) DO UPDATE SET
			enable_avg_mcap = EXCLUDED.enable_avg_mcap,
			min_avg_mcap = EXCLUDED.min_avg_mcap,
			enable_avg_ath_mcap = EXCLUDED.enable_avg_ath_mcap,
			min_avg_ath_mcap = EXCLUDED.min_avg_ath_mcap,
			enable_migrations = EXCLUDED.enable_migrations,
			min_migration_percent = EXCLUDED.min_migration_percent,
			dev_tokens_count = EXCLUDED.dev_tokens_count,
			enable_protocol_filter = EXCLUDED.enable_protocol_filter,
			protocols = EXCLUDED.protocols,
			enable_twitter_user = EXCLUDED.enable_twitter_user,
			min_twitter_followers = EXCLUDED.min_twitter_followers,
			enable_twitter_community = EXCLUDED.enable_twitter_community,
			min_community_members = EXCLUDED.min_community_members,
			min_admin_followers = EXCLUDED.min_admin_followers,
			use_and_mode = EXCLUDED.use_and_mode`,
		uid, next.EnableAvgMCap, next.MinAvgMCap, next.EnableAvgAthMCap, next.MinAvgAthMCap,
		next.EnableMigrations, next.MinMigrationPct, next.TokensForATH, next.EnableProtocol,
		protocolsJSON, next.EnableTwitterUser, next.MinTwitterFollowers, next.EnableTwitterCommunity,
		next.MinCommunityMembers, next.MinAdminFollowers, next.UseAndMode)
	if err != nil {
		return types.SubscriberSettings{}, err
	}
	return next, nil
}

type listRow struct {
	DevWallet   string    `db:"dev_wallet"`
	TokenName   sql.NullString `db:"token_name"`
	TokenTicker sql.NullString `db:"token_ticker"`
	AddedAt     time.Time `db:"added_at"`
}

func (r *Registry) getList(ctx context.Context, table, username string) ([]types.ListEntry, error) {
	uid, err := r.userID(ctx, username)
	if err != nil {
		return nil, err
	}
	var rows []listRow
	err = r.db.SelectContext(ctx, &rows, fmt.Sprintf(
		`SELECT dev_wallet, token_name, token_ticker, added_at FROM %s WHERE user_id = $1 ORDER BY added_at`, table), uid)
	if err != nil {
		return nil, err
	}
	out := make([]types.ListEntry, 0, len(rows))
	for _, row := range rows {
		out = append(out, types.ListEntry{
			DeployerAddress: row.DevWallet,
			TokenName:       row.TokenName.String,
			TokenTicker:     row.TokenTicker.String,
			AddedAt:         row.AddedAt,
		})
	}
	return out, nil
}

func (r *Registry) addEntry(ctx context.Context, table, username string, entry types.ListEntry) error {
	uid, err := r.userID(ctx, username)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (user_id, dev_wallet, token_name, token_ticker) VALUES ($1,$2,$3,$4)
		 ON CONFLICT (user_id, dev_wallet) DO NOTHING`, table),
		uid, entry.DeployerAddress, entry.TokenName, entry.TokenTicker)
	return err
}

func (r *Registry) removeEntry(ctx context.Context, table, username, deployerAddress string) error {
	uid, err := r.userID(ctx, username)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, fmt.Sprintf(
		`DELETE FROM %s WHERE user_id = $1 AND dev_wallet = $2`, table), uid, deployerAddress)
	return err
}

func (r *Registry) GetAllowList(ctx context.Context, username string) ([]types.ListEntry, error) {
	return r.getList(ctx, "user_whitelist", username)
}
func (r *Registry) GetDenyList(ctx context.Context, username string) ([]types.ListEntry, error) {
	return r.getList(ctx, "user_blacklist", username)
}
func (r *Registry) AddAllowEntry(ctx context.Context, username string, entry types.ListEntry) error {
	return r.addEntry(ctx, "user_whitelist", username, entry)
}
func (r *Registry) AddDenyEntry(ctx context.Context, username string, entry types.ListEntry) error {
	return r.addEntry(ctx, "user_blacklist", username, entry)
}
func (r *Registry) RemoveAllowEntry(ctx context.Context, username, deployerAddress string) error {
	return r.removeEntry(ctx, "user_whitelist", username, deployerAddress)
}
func (r *Registry) RemoveDenyEntry(ctx context.Context, username, deployerAddress string) error {
	return r.removeEntry(ctx, "user_blacklist", username, deployerAddress)
}

func (r *Registry) LogConnection(ctx context.Context, username, action string, at time.Time) error {
	uid, err := r.userID(ctx, username)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `INSERT INTO connection_logs (user_id, action, timestamp) VALUES ($1,$2,$3)`, uid, action, at)
	return err
}

func (r *Registry) LogRequest(ctx context.Context, username string, command types.Command, payload any, success bool) error {
	uid, err := r.userID(ctx, username)
	if err != nil {
		return err
	}
	var data []byte
	if payload != nil {
		data, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request payload: %w", err)
		}
	}
	_, err = r.db.ExecContext(ctx, `INSERT INTO request_logs (user_id, request_type, request_data, success) VALUES ($1,$2,$3,$4)`,
		uid, string(command), data, success)
	return err
}

// LogTokenSent records one audit row per delivered token, not tied to
// any individual subscriber — spec §4.4/§13 decision #3 mirror
// original_source/server.py's `log_token_sent(user_id=None, ...)`
// call site, which logs once per broadcast rather than once per
// recipient.
func (r *Registry) LogTokenSent(ctx context.Context, tokenAddress string, sentAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO token_logs (user_id, token_address, timestamp) VALUES (NULL,$1,$2)`, tokenAddress, sentAt)
	return err
}

func (r *Registry) SaveServerStats(ctx context.Context, snapshot registry.ServerStatsSnapshot) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO server_stats
		(timestamp, active_connections, tokens_received, tokens_sent, tokens_filtered)
		VALUES ($1,$2,$3,$4,$5)`,
		snapshot.Timestamp, snapshot.ActiveConnections, snapshot.TokensReceived,
		snapshot.TokensSent, snapshot.TokensFiltered)
	return err
}

// CleanupOlderThan removes audit rows (connection/request/token logs)
// older than days, the supplemented retention job from spec §12.
func (r *Registry) CleanupOlderThan(ctx context.Context, days int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -days)
	var total int64
	for _, table := range []string{"connection_logs", "request_logs", "token_logs"} {
		res, err := r.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE timestamp < $1`, table), cutoff)
		if err != nil {
			return total, err
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}
