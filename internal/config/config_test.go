package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/feedsweep/internal/feed"
)

func resolve(t *testing.T, data string, format Format, hooks Hooks) *Config {
	t.Helper()
	doc, err := ParseDocument([]byte(data), format)
	require.NoError(t, err)
	cfg, err := Resolve(doc, hooks)
	require.NoError(t, err)
	return cfg
}

func TestParseDefaultConfig(t *testing.T) {
	cfg := resolve(t, string(DefaultConfigYAML), FormatYAML, nil)

	require.Len(t, cfg.Feeds, 3)
	assert.Len(t, cfg.EnabledFeeds(), 2)
	assert.Equal(t, 5, cfg.Settings.MaxThreads)
	assert.Equal(t, 2, cfg.Settings.TotalCacheBackups)
	assert.Equal(t, 30*time.Second, cfg.Settings.Timeout)

	hn := cfg.Feeds[1]
	assert.Equal(t, "Hacker News", hn.Name)
	assert.Equal(t, 7, hn.CacheDays)
	assert.True(t, hn.IgnoreDuplicateTitles)
	assert.Equal(t, 300, hn.MaxSummarySize)
	require.Len(t, hn.EditRules, 1)

	require.Len(t, cfg.Outputs, 2)
	assert.Equal(t, "terminal", cfg.Outputs[0].Name)
	require.Len(t, cfg.Extensions, 2)
	assert.Equal(t, "empty_summary", cfg.Extensions[0].Name)
}

func TestParseMinimalConfig(t *testing.T) {
	cfg := resolve(t, `
feeds:
  - url: https://a.example/feed
`, FormatYAML, nil)

	s := cfg.Settings
	assert.Equal(t, DefaultDaysToCache, s.DaysToCache)
	assert.Equal(t, DefaultMaxThreads, s.MaxThreads)
	assert.Equal(t, 0, s.TotalCacheBackups)
	assert.True(t, s.GetGzippedFeeds)
	assert.False(t, s.AllowEmbeddedHTML)
	assert.Equal(t, feed.SortNone, s.SortBy)
	assert.NotEmpty(t, s.CacheFile)

	require.Len(t, cfg.Feeds, 1)
	d := cfg.Feeds[0]
	assert.True(t, d.Enabled)
	assert.Equal(t, DefaultDaysToCache, d.CacheDays)
	assert.Equal(t, "https://a.example/feed", d.Section)
}

func TestFeedInheritsAndOverridesMain(t *testing.T) {
	cfg := resolve(t, `
main:
  days_to_cache: 10
  sort_by: title
  allow_embedded_html: true
  user_agent: global-agent
feeds:
  - url: https://a.example/feed
  - url: https://b.example/feed
    days_to_cache: NoLimit
    sort_by: time
    allow_embedded_html: false
    user_agent: b-agent
`, FormatYAML, nil)

	a, b := cfg.Feeds[0], cfg.Feeds[1]
	assert.Equal(t, 10, a.CacheDays)
	assert.Equal(t, feed.SortByTitle, a.SortBy)
	assert.True(t, a.AllowEmbeddedHTML)
	assert.Equal(t, "global-agent", a.UserAgent)

	assert.Equal(t, feed.NoCacheLimit, b.CacheDays)
	assert.Equal(t, feed.SortByTime, b.SortBy)
	assert.False(t, b.AllowEmbeddedHTML)
	assert.Equal(t, "b-agent", b.UserAgent)
}

func TestParseTOML(t *testing.T) {
	cfg := resolve(t, `
[main]
max_threads = 3
days_to_cache = 14
zeta = "z"
alpha = "a"

[[feeds]]
url = "https://a.example/feed"
edit_item_url = ["s/^http:/https:/", "s/#.*$//"]

[[outputs]]
type = "text"
show_dates = true
`, FormatTOML, nil)

	assert.Equal(t, 3, cfg.Settings.MaxThreads)
	assert.Equal(t, 14, cfg.Settings.DaysToCache)
	require.Len(t, cfg.Feeds, 1)
	assert.Len(t, cfg.Feeds[0].EditRules, 2)
	assert.Equal(t, "text", cfg.Outputs[0].Name)
	v, _ := cfg.Outputs[0].Get("show_dates")
	assert.Equal(t, "true", v)

	var keys []string
	for _, p := range cfg.Main.Params {
		keys = append(keys, p.Key)
	}
	assert.Equal(t, []string{"alpha", "days_to_cache", "max_threads", "zeta"}, keys)
}

func TestYAMLKeepsKeyOrder(t *testing.T) {
	doc, err := ParseDocument([]byte(`
main:
  zeta: 1
  alpha: 2
  middle: [x, y]
`), FormatYAML)
	require.NoError(t, err)

	var keys []string
	for _, p := range doc.Main.Params {
		keys = append(keys, p.Key)
	}
	assert.Equal(t, []string{"zeta", "alpha", "middle"}, keys)
	assert.Equal(t, []string{"x", "y"}, doc.Main.Values("middle"))
}

func TestValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"zero threads", "main:\n  max_threads: 0\n"},
		{"bad bool", "main:\n  get_gzipped_feeds: maybe\n"},
		{"bad sort", "main:\n  sort_by: random\n"},
		{"missing url", "feeds:\n  - name: x\n"},
		{"duplicate url", "feeds:\n  - url: https://a\n  - url: https://a\n"},
		{"bad edit rule", "feeds:\n  - url: https://a\n    edit_item_url: [\"s/(/x/\"]\n"},
		{"bad preparse edit", "feeds:\n  - url: https://a\n    preparse_edit: [\"y/a/b/\"]\n"},
		{"bad show_rss_version", "feeds:\n  - url: https://a\n    show_rss_version: sometimes\n"},
		{"unnamed output", "outputs:\n  - path: /tmp/x\n"},
		{"duplicate extension", "extensions:\n  - name: a\n  - name: a\n"},
		{"unknown top level", "mian:\n  max_threads: 2\n"},
		{"nested mapping", "main:\n  x:\n    y: 1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := ParseDocument([]byte(tt.data), FormatYAML)
			if err == nil {
				_, err = Resolve(doc, nil)
			}
			var ve *ValidationError
			assert.True(t, errors.As(err, &ve), "got %v", err)
		})
	}
}

func TestFeedPresentationKeys(t *testing.T) {
	cfg := resolve(t, `
feeds:
  - url: https://a.example/feed
    title_override: Better Title
    show_rss_version: true
    preparse_edit:
      - s/&nbsp;/ /g
      - s|<br>|<br/>|g
`, FormatYAML, nil)

	require.Len(t, cfg.Feeds, 1)
	d := cfg.Feeds[0]
	assert.Equal(t, "Better Title", d.TitleOverride)
	assert.True(t, d.ShowRSSVersion)
	require.Len(t, d.PreparseEdits, 2)
	assert.Equal(t, "a b", feed.Rewrite(d.PreparseEdits, "a&nbsp;b"))
	assert.Empty(t, cfg.Warnings)
}

type readingHooks struct{ recordingHooks }

func (readingHooks) RunFeedConfig(sec *Section, _ *feed.Descriptor) (bool, error) {
	_, err := sec.Bool("save_rss_only", false)
	return true, err
}

func TestUnusedKeysAreReported(t *testing.T) {
	data := `
main:
  max_threads: 2
  max_thread: 3
feeds:
  - name: A
    url: https://a.example/feed
    save_rss_only: true
    days_to_cahce: 3
`
	cfg := resolve(t, data, FormatYAML, nil)
	assert.Equal(t, []string{
		`[A] unused key "save_rss_only"`,
		`[A] unused key "days_to_cahce"`,
		`[main] unused key "max_thread"`,
	}, cfg.Warnings)

	cfg = resolve(t, data, FormatYAML, &readingHooks{})
	assert.Equal(t, []string{
		`[A] unused key "days_to_cahce"`,
		`[main] unused key "max_thread"`,
	}, cfg.Warnings)
}

type recordingHooks struct {
	mainSeen []string
	skip     string
}

func (h *recordingHooks) RunMainConfig(main *Section) error {
	for _, p := range main.Params {
		h.mainSeen = append(h.mainSeen, p.Key)
	}
	return nil
}

func (h *recordingHooks) RunFeedConfig(sec *Section, d *feed.Descriptor) (bool, error) {
	return d.URL != h.skip, nil
}

func TestHooksCanSkipFeeds(t *testing.T) {
	hooks := &recordingHooks{skip: "https://b.example/feed"}
	cfg := resolve(t, `
main:
  custom_setting: on
feeds:
  - url: https://a.example/feed
  - url: https://b.example/feed
`, FormatYAML, hooks)

	assert.Equal(t, []string{"custom_setting"}, hooks.mainSeen)
	require.Len(t, cfg.Feeds, 1)
	assert.Equal(t, "https://a.example/feed", cfg.Feeds[0].URL)
	require.Len(t, cfg.Skipped, 1)
}

type failingHooks struct{ recordingHooks }

func (failingHooks) RunFeedConfig(*Section, *feed.Descriptor) (bool, error) {
	return false, errors.New("boom")
}

func TestFeedHookErrorDropsOnlyThatFeed(t *testing.T) {
	doc, err := ParseDocument([]byte("feeds:\n  - url: https://a\n"), FormatYAML)
	require.NoError(t, err)
	cfg, err := Resolve(doc, &failingHooks{})
	require.NoError(t, err)
	assert.Empty(t, cfg.Feeds)
	require.Len(t, cfg.FeedErrors, 1)
	assert.EqualError(t, cfg.FeedErrors[0], "boom")
}

type rejectingHooks struct{ recordingHooks }

func (rejectingHooks) RunFeedConfig(sec *Section, _ *feed.Descriptor) (bool, error) {
	return false, &ValidationError{Section: sec.Name, Key: "x", Msg: "bad"}
}

func TestFeedHookValidationErrorAbortsResolve(t *testing.T) {
	doc, err := ParseDocument([]byte("feeds:\n  - url: https://a\n"), FormatYAML)
	require.NoError(t, err)
	_, err = Resolve(doc, &rejectingHooks{})
	var ve *ValidationError
	assert.True(t, errors.As(err, &ve))
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, DefaultConfigYAML, 0o644))

	doc, err := Load(path)
	require.NoError(t, err)
	assert.NotEmpty(t, doc.Feeds)

	tomlPath := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(tomlPath, []byte("[[feeds]]\nurl = \"https://a\"\n"), 0o644))
	doc, err = Load(tomlPath)
	require.NoError(t, err)
	assert.Len(t, doc.Feeds, 1)
}

func TestResolveConfigPathExplicit(t *testing.T) {
	_, err := ResolveConfigPath(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestSectionAccessors(t *testing.T) {
	s := NewSection("x",
		Param{Key: "n", Values: []string{"42"}},
		Param{Key: "d", Values: []string{"90"}},
		Param{Key: "d2", Values: []string{"1m30s"}},
		Param{Key: "b", Values: []string{"yes"}},
	)
	n, err := s.Int("n", 0)
	require.NoError(t, err)
	assert.Equal(t, 42, n)

	d, err := s.Duration("d", 0)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, d)
	d, err = s.Duration("d2", 0)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, d)

	b, err := s.Bool("b", false)
	require.NoError(t, err)
	assert.True(t, b)

	s.Set("n", "7")
	assert.Len(t, s.Params, 4)
	assert.Equal(t, "7", s.String("n", ""))
	assert.Equal(t, "fallback", s.String("absent", "fallback"))
}
