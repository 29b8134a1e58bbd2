package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tokenstream/enrichment-gateway/internal/types"
)

func tokenWith(avgMCap, migrationPct float64, isFirst bool) types.EnrichedToken {
	return types.EnrichedToken{
		RawToken:         types.RawToken{DeployerAddress: "0xBEEF"},
		Deployer:         types.DeployerStats{AvgMCap: avgMCap, IsFirstToken: isFirst},
		MigrationPercent: migrationPct,
	}
}

// S1: single threshold filter, boundary is inclusive.
func TestEvaluate_AvgMCapBoundary(t *testing.T) {
	settings := types.SubscriberSettings{EnableAvgMCap: true, MinAvgMCap: 50_000}

	below := tokenWith(49_999, 0, false)
	assert.False(t, Evaluate(below, settings, nil).Admit)

	atThreshold := tokenWith(50_000, 0, false)
	assert.True(t, Evaluate(atThreshold, settings, nil).Admit)
}

// S2: AND mode requires every enabled check to pass.
func TestEvaluate_AndMode(t *testing.T) {
	settings := types.SubscriberSettings{
		EnableAvgMCap:    true,
		MinAvgMCap:       50_000,
		EnableMigrations: true,
		MinMigrationPct:  25,
		UseAndMode:       true,
	}

	tokenA := tokenWith(60_000, 20, false)
	assert.False(t, Evaluate(tokenA, settings, nil).Admit)

	tokenB := tokenWith(60_000, 25, false)
	assert.True(t, Evaluate(tokenB, settings, nil).Admit)
}

// S3: OR mode admits when any enabled check passes.
func TestEvaluate_OrMode(t *testing.T) {
	settings := types.SubscriberSettings{
		EnableAvgMCap:    true,
		MinAvgMCap:       50_000,
		EnableMigrations: true,
		MinMigrationPct:  25,
		UseAndMode:       false,
	}

	tokenA := tokenWith(60_000, 20, false)
	assert.True(t, Evaluate(tokenA, settings, nil).Admit)

	tokenB := tokenWith(60_000, 25, false)
	assert.True(t, Evaluate(tokenB, settings, nil).Admit)
}

// S4: deny list short-circuits regardless of other settings.
func TestEvaluate_DenyListShortCircuits(t *testing.T) {
	settings := types.SubscriberSettings{}
	denyList := []types.ListEntry{{DeployerAddress: "0xDEAD"}}

	denied := types.EnrichedToken{RawToken: types.RawToken{DeployerAddress: "0xDEAD"}}
	assert.False(t, Evaluate(denied, settings, denyList).Admit)

	allowed := types.EnrichedToken{RawToken: types.RawToken{DeployerAddress: "0xBEEF"}}
	assert.True(t, Evaluate(allowed, settings, denyList).Admit)
}

// S5: a DeployerStats error leaves AvgMCap at its zero value, which is
// compared like any other value — it is not specially excluded,
// matching user_manager.py's token.get("avg_mcap", 0) >= min_avg_mcap.
// A positive threshold rejects it; a zero threshold still admits it.
func TestEvaluate_DeployerErrorLeavesZeroValueComparable(t *testing.T) {
	token := types.EnrichedToken{
		RawToken: types.RawToken{DeployerAddress: "0xBEEF"},
		Deployer: types.DeployerStats{Error: "all apis failed"},
	}

	positiveThreshold := types.SubscriberSettings{EnableAvgMCap: true, MinAvgMCap: 1}
	assert.False(t, Evaluate(token, positiveThreshold, nil).Admit)

	zeroThreshold := types.SubscriberSettings{EnableAvgMCap: true, MinAvgMCap: 0}
	assert.True(t, Evaluate(token, zeroThreshold, nil).Admit)

	noFilters := types.SubscriberSettings{}
	assert.True(t, Evaluate(token, noFilters, nil).Admit)
}

func TestEvaluate_NoFiltersAdmitsEverythingNotDenied(t *testing.T) {
	token := tokenWith(0, 0, true)
	assert.True(t, Evaluate(token, types.SubscriberSettings{}, nil).Admit)
}

func TestProtocolAllowed_FallsBackToOtherBucket(t *testing.T) {
	assert.True(t, protocolAllowed("some-new-protocol", map[string]bool{"other": true}))
	assert.False(t, protocolAllowed("some-new-protocol", map[string]bool{"other": false}))
}

func TestProtocolAllowed_UnspecifiedKnownProtocolDefaultsTrue(t *testing.T) {
	// "pump v1" has no explicit entry in the subscriber's map, matching
	// user_manager.py's allowed.get(internal, True).
	assert.True(t, protocolAllowed("Pump V1", map[string]bool{"other": false}))
}

func TestProtocolAllowed_MatchIsLowercaseSubstring(t *testing.T) {
	allowed := map[string]bool{"pump v1": true, "other": false}
	assert.True(t, protocolAllowed("Pump V1 Bonding Curve", allowed))
}

func TestProtocolAllowed_ExplicitFalseDenies(t *testing.T) {
	allowed := map[string]bool{"pump v1": false}
	assert.False(t, protocolAllowed("pump v1", allowed))
}

func TestEvaluate_TwitterCommunityRequiresBothThresholds(t *testing.T) {
	settings := types.SubscriberSettings{
		EnableTwitterCommunity: true,
		MinCommunityMembers:    100,
		MinAdminFollowers:      50,
	}
	token := types.EnrichedToken{
		RawToken: types.RawToken{DeployerAddress: "0xBEEF"},
		Social:   types.SocialStats{Kind: types.SocialKindCommunity, MemberCount: 100, AdminFollowers: 49},
	}
	assert.False(t, Evaluate(token, settings, nil).Admit)

	token.Social.AdminFollowers = 50
	assert.True(t, Evaluate(token, settings, nil).Admit)
}
