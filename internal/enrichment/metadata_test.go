package enrichment

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractSocialURL_DirectTwitterKey(t *testing.T) {
	raw := json.RawMessage(`{"name":"token","twitter":"coolcoin"}`)
	assert.Equal(t, "https://x.com/coolcoin", ExtractSocialURL(raw))
}

func TestExtractSocialURL_FullURLPassesThrough(t *testing.T) {
	raw := json.RawMessage(`{"twitter_url":"https://x.com/coolcoin"}`)
	assert.Equal(t, "https://x.com/coolcoin", ExtractSocialURL(raw))
}

func TestExtractSocialURL_ContainerKeyObject(t *testing.T) {
	raw := json.RawMessage(`{"socials":{"twitter":"nested_handle"}}`)
	assert.Equal(t, "https://x.com/nested_handle", ExtractSocialURL(raw))
}

func TestExtractSocialURL_ContainerKeyListOfTypedLinks(t *testing.T) {
	raw := json.RawMessage(`{"links":[{"type":"telegram","url":"https://t.me/foo"},{"type":"twitter","url":"https://x.com/listed_handle"}]}`)
	assert.Equal(t, "https://x.com/listed_handle", ExtractSocialURL(raw))
}

func TestExtractSocialURL_ExtensionsSpecialCase(t *testing.T) {
	raw := json.RawMessage(`{"extensions":{"twitter":"ext_handle"}}`)
	assert.Equal(t, "https://x.com/ext_handle", ExtractSocialURL(raw))
}

func TestExtractSocialURL_PropertiesSpecialCase(t *testing.T) {
	raw := json.RawMessage(`{"properties":{"x":"prop_handle"}}`)
	assert.Equal(t, "https://x.com/prop_handle", ExtractSocialURL(raw))
}

func TestExtractSocialURL_RegexFallbackOverMalformedJSON(t *testing.T) {
	raw := json.RawMessage(`not actually json but has "twitter_link": "@fallback_handle" inside it`)
	assert.Equal(t, "https://x.com/fallback_handle", ExtractSocialURL(raw))
}

func TestExtractSocialURL_LastResortAtMentionPattern(t *testing.T) {
	raw := json.RawMessage(`{"description":"follow us @mention_only for updates"}`)
	assert.Equal(t, "https://x.com/mention_only", ExtractSocialURL(raw))
}

func TestExtractSocialURL_NoMatchReturnsEmpty(t *testing.T) {
	raw := json.RawMessage(`{"name":"token","description":"nothing social here"}`)
	assert.Equal(t, "", ExtractSocialURL(raw))
}

func TestExtractSocialURL_EmptyInput(t *testing.T) {
	assert.Equal(t, "", ExtractSocialURL(nil))
}

func TestIsImageURI(t *testing.T) {
	assert.True(t, IsImageURI("https://example.com/image.PNG"))
	assert.True(t, IsImageURI("https://example.com/pic.jpeg"))
	assert.False(t, IsImageURI("https://example.com/metadata.json"))
}

func TestIsPostURL(t *testing.T) {
	assert.True(t, IsPostURL("https://x.com/someone/status/1234567890"))
	assert.False(t, IsPostURL("https://x.com/someone"))
}

func TestNormalizeTwitterURL_NullSentinels(t *testing.T) {
	assert.Equal(t, "", normalizeTwitterURL("null"))
	assert.Equal(t, "", normalizeTwitterURL("N/A"))
	assert.Equal(t, "", normalizeTwitterURL(""))
}

func TestNormalizeTwitterURL_StripsAtPrefix(t *testing.T) {
	assert.Equal(t, "https://x.com/handle", normalizeTwitterURL("@handle"))
}
