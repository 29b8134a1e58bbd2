// metadata resolves the social URL for a RawToken: prefer the direct
// SocialURL on the event, else fetch MetadataURI and extract one. The
// recursive-traversal-over-a-key-vocabulary approach, the regex
// fallback, and the post-shape classification are all carried over
// verbatim in spirit from original_source/new_ws_final_V1.py's
// _extract_twitter_from_json and AxiomTracker regexes — only the
// traversal itself is rewritten as a single recursive Go function
// per spec §9's "prefer a single recursive traversal" guidance,
// instead of the original's flat dict/list special-casing.
package enrichment

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/tokenstream/enrichment-gateway/internal/cache"
	"github.com/tokenstream/enrichment-gateway/internal/metrics"
)

var (
	twitterURLRegex = regexp.MustCompile(`(?i)https?://(?:twitter\.com|x\.com)/[^\s"]+`)
	communityRegex  = regexp.MustCompile(`(?i)https?://(?:twitter\.com|x\.com)/i/communities/(\d+)`)
	userRegex       = regexp.MustCompile(`(?i)https?://(?:twitter\.com|x\.com)/([A-Za-z0-9_]+)(?:\?|/status|$)`)
	postRegex       = regexp.MustCompile(`(?i)^https?://(?:twitter\.com|x\.com)/[A-Za-z0-9_]+/status/\d+`)
	usernameRegex   = regexp.MustCompile(`[^A-Za-z0-9_]`)

	imageExtensions = []string{".png", ".jpg", ".jpeg", ".gif", ".svg"}

	// twitterKeys is the fixed set of leaf keys carrying a Twitter/X
	// identifier anywhere in a metadata document.
	twitterKeys = []string{
		"twitter", "Twitter", "TWITTER", "x", "X",
		"twitterUrl", "twitter_url", "TwitterUrl",
		"twitterLink", "twitter_link", "TwitterLink",
		"twitterHandle", "twitter_handle", "TwitterHandle",
		"twitterUsername", "twitter_username",
		"social_twitter", "socialTwitter",
		"handle", "username",
	}

	// containerKeys is the fixed set of keys whose value (object or
	// list) may itself hold a twitter key or list of typed links.
	containerKeys = []string{
		"social", "socials", "Social", "Socials",
		"links", "Links", "LINKS",
		"urls", "Urls", "URLS",
		"external_url", "externalUrl", "ExternalUrl",
		"socialLinks", "social_links", "SocialLinks",
		"socialMedia", "social_media", "SocialMedia",
		"contacts", "Contacts",
		"extensions", "Extensions",
		"attributes", "Attributes",
		"properties", "Properties",
	}
)

// IsImageURI reports whether uri ends in a known image extension,
// which spec §4.2(a) says must never be fetched.
func IsImageURI(uri string) bool {
	lower := strings.ToLower(uri)
	for _, ext := range imageExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// IsPostURL reports whether url matches the `…/status/<digits>` post
// shape, which must be classified SkippedPost without a lookup.
func IsPostURL(url string) bool {
	return postRegex.MatchString(url)
}

func normalizeTwitterURL(raw string) string {
	v := strings.TrimSpace(raw)
	if v == "" {
		return ""
	}
	switch strings.ToLower(v) {
	case "null", "none", "n/a":
		return ""
	}
	lower := strings.ToLower(v)
	if strings.Contains(lower, "twitter.com") || strings.Contains(lower, "x.com") {
		return v
	}
	v = strings.TrimPrefix(v, "@")
	username := usernameRegex.ReplaceAllString(v, "")
	if username == "" {
		return ""
	}
	return "https://x.com/" + username
}

// ExtractSocialURL performs the recursive traversal described in
// spec §4.2(a) over arbitrary metadata JSON, falling back to a regex
// scan of the serialized document.
func ExtractSocialURL(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return scanForTwitterURL(string(raw))
	}

	if url := walkForTwitter(doc); url != "" {
		return url
	}
	return scanForTwitterURL(string(raw))
}

// walkForTwitter recurses through a decoded JSON document looking
// for a twitter key at the top level, inside any container key, or
// inside a list of typed link items.
func walkForTwitter(node any) string {
	obj, ok := node.(map[string]any)
	if !ok {
		return ""
	}

	if url := findTwitterKey(obj); url != "" {
		return url
	}

	for _, parent := range containerKeys {
		val, ok := obj[parent]
		if !ok {
			continue
		}
		switch v := val.(type) {
		case map[string]any:
			if url := findTwitterKey(v); url != "" {
				return url
			}
		case []any:
			for _, item := range v {
				itemObj, ok := item.(map[string]any)
				if !ok {
					continue
				}
				itemType := strings.ToLower(fmt.Sprint(itemObj["type"]))
				itemName := strings.ToLower(fmt.Sprint(itemObj["name"]))
				if strings.Contains(itemType, "twitter") || strings.Contains(itemName, "twitter") || itemType == "x" {
					for _, linkKey := range []string{"url", "value", "link", "href", "address"} {
						if s, ok := itemObj[linkKey].(string); ok {
							if url := normalizeTwitterURL(s); url != "" {
								return url
							}
						}
					}
				}
				if url := findTwitterKey(itemObj); url != "" {
					return url
				}
			}
		}
	}
	return ""
}

func findTwitterKey(obj map[string]any) string {
	for _, key := range twitterKeys {
		v, ok := obj[key]
		if !ok || v == nil {
			continue
		}
		s, ok := v.(string)
		if !ok {
			continue
		}
		if url := normalizeTwitterURL(s); url != "" {
			return url
		}
	}
	return ""
}

// MetadataFetcher fetches a token's metadata URI and extracts its
// social URL, memoising by URI (spec §3 MetadataCache). Mirrors
// original_source/new_ws_final_V1.py's _fetch_twitter_from_uri:
// image URIs are never fetched, the request gets a 1.0s timeout, and
// only an application/json response body is parsed.
type MetadataFetcher struct {
	client  *http.Client
	cache   *cache.UncappedCache[string]
	metrics *metrics.Metrics
}

// NewMetadataFetcher builds a fetcher with the given per-request
// timeout and cache capacity.
func NewMetadataFetcher(timeout time.Duration, m *metrics.Metrics, cacheSize int) *MetadataFetcher {
	return &MetadataFetcher{
		client:  &http.Client{Timeout: timeout},
		cache:   cache.NewUncappedCache[string](cacheSize),
		metrics: m,
	}
}

// SocialURLFor resolves the social URL for a token: the event's own
// SocialURL if present, else a fetch-and-extract against MetadataURI.
func (f *MetadataFetcher) SocialURLFor(ctx context.Context, socialURL, metadataURI string) string {
	if socialURL != "" {
		return socialURL
	}
	if metadataURI == "" {
		return ""
	}
	return f.fromURI(ctx, metadataURI)
}

func (f *MetadataFetcher) fromURI(ctx context.Context, uri string) string {
	if cached, ok := f.cache.Get(uri); ok {
		f.metrics.IncCacheHit("metadata")
		return cached
	}
	f.metrics.IncCacheMiss("metadata")

	if IsImageURI(uri) {
		f.cache.Set(uri, "")
		return ""
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		f.cache.Set(uri, "")
		return ""
	}
	resp, err := f.client.Do(req)
	if err != nil {
		f.cache.Set(uri, "")
		return ""
	}
	defer resp.Body.Close()

	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(contentType, "application/json") {
		f.cache.Set(uri, "")
		return ""
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		f.cache.Set(uri, "")
		return ""
	}

	url := ExtractSocialURL(body)
	f.cache.Set(uri, url)
	return url
}

func scanForTwitterURL(doc string) string {
	if match := twitterURLRegex.FindString(doc); match != "" {
		return match
	}

	patterns := []*regexp.Regexp{
		regexp.MustCompile(`(?i)"twitter[^"]*":\s*"@?([A-Za-z0-9_]{1,15})"`),
		regexp.MustCompile(`(?i)"x[^"]*":\s*"@?([A-Za-z0-9_]{1,15})"`),
		regexp.MustCompile(`(?i)"handle[^"]*":\s*"@?([A-Za-z0-9_]{1,15})"`),
		regexp.MustCompile(`@([A-Za-z0-9_]{1,15})`),
	}
	for _, p := range patterns {
		if m := p.FindStringSubmatch(doc); len(m) == 2 {
			username := strings.ToLower(m[1])
			if username != "" && username != "null" && username != "none" {
				return "https://x.com/" + m[1]
			}
		}
	}
	return ""
}
