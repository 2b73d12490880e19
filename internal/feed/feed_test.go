package feed

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptime(s string) *time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return &t
}

func TestFingerprintPrefersNativeID(t *testing.T) {
	a := &Item{ID: "urn:1", Title: "first", Links: []Link{{URL: "https://a.example/1"}}}
	b := &Item{ID: "urn:1", Title: "edited title", Summary: "changed", Links: []Link{{URL: "https://a.example/other"}}}

	fa := FingerprintOf("https://a.example/feed", a)
	fb := FingerprintOf("https://a.example/feed", b)
	assert.Equal(t, fa, fb)
	assert.Equal(t, "id:urn:1", fa.Key)
}

func TestFingerprintFallsBackToNormalizedURL(t *testing.T) {
	a := &Item{Links: []Link{{URL: "HTTPS://Blog.Example:443/post#comments"}}}
	b := &Item{Links: []Link{{URL: "https://blog.example/post"}}}

	assert.Equal(t, FingerprintOf("f", a), FingerprintOf("f", b))
	assert.Equal(t, "url:https://blog.example/post", FingerprintOf("f", a).Key)
}

func TestFingerprintHashesTitleAndDate(t *testing.T) {
	a := &Item{Title: "Hello", Published: ptime("2024-01-01T10:00:00Z")}
	b := &Item{Title: "Hello", Published: ptime("2024-01-02T10:00:00Z")}

	fa := FingerprintOf("f", a)
	assert.Contains(t, fa.Key, "sha256:")
	assert.Equal(t, fa, FingerprintOf("f", &Item{Title: "Hello", Published: ptime("2024-01-01T10:00:00Z")}))
	assert.NotEqual(t, fa, FingerprintOf("f", b))
}

func TestFingerprintScopedByFeed(t *testing.T) {
	it := &Item{ID: "x"}
	assert.NotEqual(t, FingerprintOf("feed-a", it), FingerprintOf("feed-b", it))
}

func TestParseEditRule(t *testing.T) {
	tests := []struct {
		name string
		rule string
		in   string
		want string
	}{
		{"first match only", "s/a/b/", "aaa", "baa"},
		{"global", "s/a/b/g", "aaa", "bbb"},
		{"alternate delimiter", "s|http://|https://|", "http://x.example/", "https://x.example/"},
		{"escaped delimiter", `s/\/old\//\/new\//`, "https://x/old/page", "https://x/new/page"},
		{"case insensitive", "s/FEED/item/i", "feed.xml", "item.xml"},
		{"group reference", `s/id=(\d+)/post\/${1}/`, "https://x/?id=42", "https://x/?post/42"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := ParseEditRule(tt.rule)
			require.NoError(t, err)
			assert.Equal(t, tt.want, r.Apply(tt.in))
		})
	}
}

func TestParseEditRuleErrors(t *testing.T) {
	for _, bad := range []string{"", "x/a/b/", "s/a/b", "s/(/b/", "s/a/b/z"} {
		_, err := ParseEditRule(bad)
		assert.Error(t, err, bad)
	}
}

func TestApplyEditRulesRewritesLinks(t *testing.T) {
	r1, err := ParseEditRule("s/^http:/https:/")
	require.NoError(t, err)
	r2, err := ParseEditRule("s/utm_source=[a-z]+//g")
	require.NoError(t, err)

	items := []*Item{{Links: []Link{{URL: "http://x.example/a?utm_source=rss"}}}}
	ApplyEditRules([]EditRule{r1, r2}, items)
	assert.Equal(t, "https://x.example/a?", items[0].Links[0].URL)
}

func TestSortItems(t *testing.T) {
	items := []*Item{
		{Title: "b", Published: ptime("2024-01-01T00:00:00Z")},
		{Title: "C"},
		{Title: "a", Published: ptime("2024-03-01T00:00:00Z")},
	}

	SortItems(items, SortByTime)
	assert.Equal(t, []string{"b", "a", "C"}, titles(items))

	SortItems(items, SortByTitle)
	assert.Equal(t, []string{"a", "b", "C"}, titles(items))

	before := titles(items)
	SortItems(items, SortNone)
	assert.Equal(t, before, titles(items))
}

func TestCollapseDuplicateTitles(t *testing.T) {
	items := []*Item{
		{Title: "Release 1.0", ID: "1"},
		{Title: ""},
		{Title: "Release 1.0", ID: "2"},
		{Title: ""},
		{Title: "release 1.0"},
	}
	got := CollapseDuplicateTitles(items)
	require.Len(t, got, 4)
	assert.Equal(t, "1", got[0].ID)

	// Idempotent.
	assert.Equal(t, got, CollapseDuplicateTitles(got))
}

func TestTruncateSummary(t *testing.T) {
	it := &Item{Summary: "héllo wörld"}
	TruncateSummary(it, 5)
	assert.Equal(t, "héllo", it.Summary)

	it = &Item{Summary: "short"}
	TruncateSummary(it, 0)
	assert.Equal(t, "short", it.Summary)
}

func TestParseSortPolicy(t *testing.T) {
	p, err := ParseSortPolicy("Time")
	require.NoError(t, err)
	assert.Equal(t, SortByTime, p)
	_, err = ParseSortPolicy("random")
	assert.Error(t, err)
}

func TestDescriptorHorizon(t *testing.T) {
	d := &Descriptor{CacheDays: 7}
	h, ok := d.Horizon()
	assert.True(t, ok)
	assert.Equal(t, 7*24*time.Hour, h)

	d.CacheDays = NoCacheLimit
	_, ok = d.Horizon()
	assert.False(t, ok)
}

func titles(items []*Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Title
	}
	return out
}
