// Package types holds the data model shared across the enrichment
// gateway: the raw and enriched token events, deployer and social
// statistics, subscriber settings, and the wire frames exchanged with
// subscribers.
package types

import "time"

// RawToken is the immutable event emitted by the upstream session for
// every newly created token.
type RawToken struct {
	TokenAddress    string    `json:"tokenAddress"`
	PairAddress     string    `json:"pairAddress"`
	TokenName       string    `json:"tokenName"`
	TokenTicker     string    `json:"tokenTicker"`
	DeployerAddress string    `json:"deployerAddress"`
	Protocol        string    `json:"protocol"`
	MetadataURI     string    `json:"metadataUri,omitempty"`
	SocialURL       string    `json:"socialUrl,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
}

// TokenBreakdown is one entry of a deployer's prior-token history.
type TokenBreakdown struct {
	Address   string    `json:"address"`
	Ticker    string    `json:"ticker"`
	MCap      float64   `json:"mcap"`
	AthMCap   float64   `json:"athMcap"`
	Migrated  bool      `json:"migrated"`
	Protocol  string    `json:"protocol"`
	CreatedAt time.Time `json:"createdAt"`
}

// DeployerStats is the §3 enrichment produced by the deployer-history
// algorithm (§4.2.1). Invariant: either Error is set, or IsFirstToken
// is true, or the numeric averages/counts are populated — never a mix.
type DeployerStats struct {
	AvgMCap        float64          `json:"avgMcap"`
	AvgAthMCap     float64          `json:"avgAthMcap"`
	MigratedCount  int              `json:"migratedCount"`
	TotalCount     int              `json:"totalCount"`
	Breakdown      []TokenBreakdown `json:"breakdown,omitempty"`
	IsFirstToken   bool             `json:"isFirstToken"`
	SourceEndpoint string           `json:"sourceEndpoint,omitempty"`
	Error          string           `json:"error,omitempty"`
}

// MigrationPercent returns migrated/total * 100, or 0 when total is 0.
func (d DeployerStats) MigrationPercent() float64 {
	if d.TotalCount == 0 {
		return 0
	}
	return float64(d.MigratedCount) / float64(d.TotalCount) * 100
}

// SocialKind tags the variant carried by SocialStats.
type SocialKind string

const (
	SocialKindUserProfile SocialKind = "user_profile"
	SocialKindCommunity   SocialKind = "community"
	SocialKindSkippedPost SocialKind = "skipped_post"
	SocialKindError       SocialKind = "error"
)

// SocialStats is the tagged union described in spec §3. Only the
// fields relevant to Kind are meaningful.
type SocialStats struct {
	Kind SocialKind `json:"kind"`

	// UserProfile fields.
	Followers int `json:"followers,omitempty"`
	Following int `json:"following,omitempty"`

	// Community fields.
	MemberCount    int    `json:"memberCount,omitempty"`
	AdminHandle    string `json:"adminHandle,omitempty"`
	AdminFollowers int    `json:"adminFollowers,omitempty"`
	AdminFollowing int    `json:"adminFollowing,omitempty"`

	// Error reason, set only when Kind == SocialKindError.
	Reason string `json:"reason,omitempty"`
}

// EnrichedToken is RawToken plus the statistics computed by the
// enrichment engine, published once and never mutated.
type EnrichedToken struct {
	RawToken
	Deployer         DeployerStats `json:"deployer"`
	Social           SocialStats   `json:"social"`
	ProcessingTime   time.Duration `json:"processingTimeNs"`
	EnrichedAt       time.Time     `json:"enrichedAt"`
	MigrationPercent float64       `json:"migrationPercent"`
}

// ProtocolVocabulary is the fixed set of protocol names the Filter
// Evaluator and the subscriber's protocol allow-map recognise.
var ProtocolVocabulary = []string{
	"pump v1",
	"meteora amm v2",
	"orca",
	"virtual curve",
	"raydium cpmm",
	"launchlab",
	"meteora dlmm",
	"sugar",
	"pump amm",
	"raydium clmm",
	"moonshot",
}

// SubscriberSettings is the typed record read from the Registry's
// user_options row. A partial update (UpdateSettings) only changes
// the fields present in the request; everything else keeps its prior
// value.
type SubscriberSettings struct {
	EnableAvgMCap          bool            `json:"enableAvgMcap"`
	MinAvgMCap             float64         `json:"minAvgMcap"`
	EnableAvgAthMCap       bool            `json:"enableAvgAthMcap"`
	MinAvgAthMCap          float64         `json:"minAvgAthMcap"`
	EnableMigrations       bool            `json:"enableMigrations"`
	MinMigrationPct        float64         `json:"minMigrationPercent"`
	TokensForATH           int             `json:"devTokensCount"`
	EnableProtocol         bool            `json:"enableProtocolFilter"`
	Protocols              map[string]bool `json:"protocols"`
	EnableTwitterUser      bool            `json:"enableTwitterUser"`
	MinTwitterFollowers    int             `json:"minTwitterFollowers"`
	EnableTwitterCommunity bool            `json:"enableTwitterCommunity"`
	MinCommunityMembers    int             `json:"minCommunityMembers"`
	MinAdminFollowers      int             `json:"minAdminFollowers"`
	UseAndMode             bool            `json:"useAndMode"`
}

// DefaultSubscriberSettings mirrors the Registry's column defaults.
func DefaultSubscriberSettings() SubscriberSettings {
	return SubscriberSettings{
		TokensForATH: 10,
		Protocols:    map[string]bool{"other": true},
	}
}

// SettingsUpdate is a partial SubscriberSettings: nil fields are left
// untouched by Apply.
type SettingsUpdate struct {
	EnableAvgMCap          *bool           `json:"enableAvgMcap,omitempty"`
	MinAvgMCap             *float64        `json:"minAvgMcap,omitempty"`
	EnableAvgAthMCap       *bool           `json:"enableAvgAthMcap,omitempty"`
	MinAvgAthMCap          *float64        `json:"minAvgAthMcap,omitempty"`
	EnableMigrations       *bool           `json:"enableMigrations,omitempty"`
	MinMigrationPct        *float64        `json:"minMigrationPercent,omitempty"`
	TokensForATH           *int            `json:"devTokensCount,omitempty"`
	EnableProtocol         *bool           `json:"enableProtocolFilter,omitempty"`
	Protocols              map[string]bool `json:"protocols,omitempty"`
	EnableTwitterUser      *bool           `json:"enableTwitterUser,omitempty"`
	MinTwitterFollowers    *int            `json:"minTwitterFollowers,omitempty"`
	EnableTwitterCommunity *bool           `json:"enableTwitterCommunity,omitempty"`
	MinCommunityMembers    *int            `json:"minCommunityMembers,omitempty"`
	MinAdminFollowers      *int            `json:"minAdminFollowers,omitempty"`
	UseAndMode             *bool           `json:"useAndMode,omitempty"`
}

// Apply merges u into s, returning the resulting settings.
func (u SettingsUpdate) Apply(s SubscriberSettings) SubscriberSettings {
	if u.EnableAvgMCap != nil {
		s.EnableAvgMCap = *u.EnableAvgMCap
	}
	if u.MinAvgMCap != nil {
		s.MinAvgMCap = *u.MinAvgMCap
	}
	if u.EnableAvgAthMCap != nil {
		s.EnableAvgAthMCap = *u.EnableAvgAthMCap
	}
	if u.MinAvgAthMCap != nil {
		s.MinAvgAthMCap = *u.MinAvgAthMCap
	}
	if u.EnableMigrations != nil {
		s.EnableMigrations = *u.EnableMigrations
	}
	if u.MinMigrationPct != nil {
		s.MinMigrationPct = *u.MinMigrationPct
	}
	if u.TokensForATH != nil {
		s.TokensForATH = *u.TokensForATH
	}
	if u.EnableProtocol != nil {
		s.EnableProtocol = *u.EnableProtocol
	}
	if u.Protocols != nil {
		if s.Protocols == nil {
			s.Protocols = map[string]bool{}
		}
		for k, v := range u.Protocols {
			s.Protocols[k] = v
		}
	}
	if u.EnableTwitterUser != nil {
		s.EnableTwitterUser = *u.EnableTwitterUser
	}
	if u.MinTwitterFollowers != nil {
		s.MinTwitterFollowers = *u.MinTwitterFollowers
	}
	if u.EnableTwitterCommunity != nil {
		s.EnableTwitterCommunity = *u.EnableTwitterCommunity
	}
	if u.MinCommunityMembers != nil {
		s.MinCommunityMembers = *u.MinCommunityMembers
	}
	if u.MinAdminFollowers != nil {
		s.MinAdminFollowers = *u.MinAdminFollowers
	}
	if u.UseAndMode != nil {
		s.UseAndMode = *u.UseAndMode
	}
	return s
}

// ListEntry is one row of an AllowList or DenyList.
type ListEntry struct {
	DeployerAddress string    `json:"deployerAddress"`
	TokenName       string    `json:"tokenName,omitempty"`
	TokenTicker     string    `json:"tokenTicker,omitempty"`
	AddedAt         time.Time `json:"addedAt"`
}
