// Package filter implements the per-subscriber admission decision (C4
// in spec §2): given an EnrichedToken and a subscriber's settings plus
// deny list, decide whether that subscriber should receive it.
// The algorithm is grounded on original_source/user_manager.py's
// should_send_to_user: deny-list short circuit, then per-dimension
// boolean checks combined by AND or OR depending on use_and_mode, with
// a protocol check that falls back to "other" for anything outside
// the fixed vocabulary.
package filter

import (
	"strings"

	"github.com/tokenstream/enrichment-gateway/internal/types"
)

// Decision records why a token was admitted or rejected for one
// subscriber, for logging/metrics.
type Decision struct {
	Admit  bool
	Reason string
}

func admit() Decision { return Decision{Admit: true} }
func deny(reason string) Decision { return Decision{Admit: false, Reason: reason} }

// Evaluate applies settings and denyList to token and returns the
// admission decision.
//
// DenyList always wins over everything else: if the token's deployer
// is on the subscriber's deny list, it is rejected regardless of any
// other filter. AllowList is display/audit-only (spec §13 decision)
// and never affects admission here.
func Evaluate(token types.EnrichedToken, settings types.SubscriberSettings, denyList []types.ListEntry) Decision {
	for _, e := range denyList {
		if e.DeployerAddress == token.DeployerAddress {
			return deny("deny_list")
		}
	}

	var checks []bool
	var reasons []string

	if settings.EnableAvgMCap {
		ok := token.Deployer.AvgMCap >= settings.MinAvgMCap
		checks = append(checks, ok)
		if !ok {
			reasons = append(reasons, "avg_mcap")
		}
	}
	if settings.EnableAvgAthMCap {
		ok := token.Deployer.AvgAthMCap >= settings.MinAvgAthMCap
		checks = append(checks, ok)
		if !ok {
			reasons = append(reasons, "avg_ath_mcap")
		}
	}
	if settings.EnableMigrations {
		ok := token.MigrationPercent >= settings.MinMigrationPct
		checks = append(checks, ok)
		if !ok {
			reasons = append(reasons, "migration_percent")
		}
	}
	if settings.EnableProtocol {
		ok := protocolAllowed(token.Protocol, settings.Protocols)
		checks = append(checks, ok)
		if !ok {
			reasons = append(reasons, "protocol")
		}
	}
	if settings.EnableTwitterUser {
		ok := token.Social.Kind == types.SocialKindUserProfile && token.Social.Followers >= settings.MinTwitterFollowers
		checks = append(checks, ok)
		if !ok {
			reasons = append(reasons, "twitter_user")
		}
	}
	if settings.EnableTwitterCommunity {
		ok := token.Social.Kind == types.SocialKindCommunity &&
			token.Social.MemberCount >= settings.MinCommunityMembers &&
			token.Social.AdminFollowers >= settings.MinAdminFollowers
		checks = append(checks, ok)
		if !ok {
			reasons = append(reasons, "twitter_community")
		}
	}

	if len(checks) == 0 {
		// No dimension enabled: admit everything not denied.
		return admit()
	}

	if settings.UseAndMode {
		for i, ok := range checks {
			if !ok {
				return deny(reasons[i])
			}
		}
		return admit()
	}

	for _, ok := range checks {
		if ok {
			return admit()
		}
	}
	return deny("no_filter_matched")
}

// protocolAllowed matches protocol against the fixed vocabulary
// recognised by a subscriber's protocol map, falling back to the
// "other" bucket for anything that isn't one of the named protocols.
// Matching is lowercase-substring (not exact equality) and an
// unspecified map entry defaults to true, mirroring
// user_manager.py's `internal in protocol and allowed.get(internal, True)`
// / `allowed.get("other", True)`.
func protocolAllowed(protocol string, allowed map[string]bool) bool {
	lower := strings.ToLower(protocol)

	matched := false
	for _, known := range types.ProtocolVocabulary {
		if !strings.Contains(lower, known) {
			continue
		}
		matched = true
		if allowedDefaultTrue(allowed, known) {
			return true
		}
	}
	if matched {
		return false
	}
	return allowedDefaultTrue(allowed, "other")
}

func allowedDefaultTrue(allowed map[string]bool, key string) bool {
	if v, ok := allowed[key]; ok {
		return v
	}
	return true
}
