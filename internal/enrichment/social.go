// social resolves the SocialStats tagged union for a token's social
// URL (spec §4.2(b)): classify the URL as a community, a user profile,
// or a post to skip, then look up follower/member counts against the
// upstream social API. Grounded on original_source/new_ws_final_V1.py's
// TwitterAPI class (is_post_url, get_user_follow_stats,
// get_community_info, process_twitter_url) — the client-with-an-API-key
// pattern and response field paths are carried over exactly, the cache
// bookkeeping moves into cache.UncappedCache.
package enrichment

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/tokenstream/enrichment-gateway/internal/cache"
	"github.com/tokenstream/enrichment-gateway/internal/metrics"
	"github.com/tokenstream/enrichment-gateway/internal/types"
)

const socialAPIBase = "https://api.twitterapi.io/twitter"

// SocialResolver classifies and looks up social URLs.
type SocialResolver struct {
	apiKey  string
	client  *http.Client
	metrics *metrics.Metrics

	profiles    *cache.UncappedCache[types.SocialStats]
	communities *cache.UncappedCache[types.SocialStats]
}

// NewSocialResolver builds a resolver with the given request timeout
// and connect timeout (spec §5: social lookups get a 2.0s overall
// timeout and a 0.5s connect timeout).
func NewSocialResolver(apiKey string, timeout, connectTimeout time.Duration, m *metrics.Metrics, profileCacheSize, communityCacheSize int) *SocialResolver {
	dialer := &net.Dialer{Timeout: connectTimeout}
	transport := &http.Transport{DialContext: dialer.DialContext}
	return &SocialResolver{
		apiKey:      apiKey,
		client:      &http.Client{Timeout: timeout, Transport: transport},
		metrics:     m,
		profiles:    cache.NewUncappedCache[types.SocialStats](profileCacheSize),
		communities: cache.NewUncappedCache[types.SocialStats](communityCacheSize),
	}
}

// Resolve classifies socialURL and fetches the matching statistics.
// A post URL is classified without any network call, per spec §4.2(b).
func (r *SocialResolver) Resolve(ctx context.Context, socialURL string) types.SocialStats {
	if socialURL == "" {
		return types.SocialStats{Kind: types.SocialKindError, Reason: "no social url"}
	}
	if IsPostURL(socialURL) {
		return types.SocialStats{Kind: types.SocialKindSkippedPost}
	}
	if m := communityRegex.FindStringSubmatch(socialURL); len(m) == 2 {
		return r.communityInfo(ctx, m[1])
	}
	if m := userRegex.FindStringSubmatch(socialURL); len(m) == 2 {
		return r.userFollowStats(ctx, m[1])
	}
	return types.SocialStats{Kind: types.SocialKindError, Reason: "invalid url"}
}

func (r *SocialResolver) userFollowStats(ctx context.Context, username string) types.SocialStats {
	if cached, ok := r.profiles.Get(username); ok {
		r.metrics.IncCacheHit("social_profile")
		return cached
	}
	r.metrics.IncCacheMiss("social_profile")

	var body struct {
		Data struct {
			Data struct {
				Followers int `json:"followers"`
				Following int `json:"following"`
			} `json:"data"`
		} `json:"data"`
	}
	if err := r.get(ctx, "/user/info", map[string]string{"userName": username}, &body); err != nil {
		return types.SocialStats{Kind: types.SocialKindError, Reason: err.Error()}
	}

	stats := types.SocialStats{
		Kind:      types.SocialKindUserProfile,
		Followers: body.Data.Data.Followers,
		Following: body.Data.Data.Following,
	}
	r.profiles.Set(username, stats)
	return stats
}

func (r *SocialResolver) communityInfo(ctx context.Context, communityID string) types.SocialStats {
	if cached, ok := r.communities.Get(communityID); ok {
		r.metrics.IncCacheHit("social_community")
		return cached
	}
	r.metrics.IncCacheMiss("social_community")

	var body struct {
		CommunityInfo struct {
			MemberCount int `json:"member_count"`
			Admin       *struct {
				ScreenName     string `json:"screen_name"`
				FollowersCount int    `json:"followers_count"`
				FriendsCount   int    `json:"friends_count"`
			} `json:"admin"`
		} `json:"community_info"`
	}
	if err := r.get(ctx, "/community/info", map[string]string{"community_id": communityID}, &body); err != nil {
		return types.SocialStats{Kind: types.SocialKindError, Reason: err.Error()}
	}
	if body.CommunityInfo.Admin == nil {
		return types.SocialStats{Kind: types.SocialKindError, Reason: "admin not found"}
	}

	stats := types.SocialStats{
		Kind:           types.SocialKindCommunity,
		MemberCount:    body.CommunityInfo.MemberCount,
		AdminHandle:    body.CommunityInfo.Admin.ScreenName,
		AdminFollowers: body.CommunityInfo.Admin.FollowersCount,
		AdminFollowing: body.CommunityInfo.Admin.FriendsCount,
	}
	r.communities.Set(communityID, stats)
	return stats
}

func (r *SocialResolver) get(ctx context.Context, path string, params map[string]string, out any) error {
	u, err := url.Parse(socialAPIBase + path)
	if err != nil {
		return err
	}
	q := u.Query()
	for k, v := range params {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-API-Key", r.apiKey)

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("social api request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("social api status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode social api response: %w", err)
	}
	return nil
}
