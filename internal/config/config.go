// Package config reads the feedsweep configuration file and resolves it
// into run settings and feed descriptors.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/TobiSchelling/feedsweep/internal/feed"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

// Defaults for main section settings.
const (
	DefaultDaysToCache = 365
	DefaultMaxThreads  = 5
	DefaultTimeout     = 30 * time.Second
	DefaultRetries     = 2
)

// ValidationError is a configuration problem found before any fetch.
type ValidationError struct {
	Section string
	Key     string
	Msg     string
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString("config")
	if e.Section != "" {
		b.WriteString(" [" + e.Section + "]")
	}
	if e.Key != "" {
		b.WriteString(" " + e.Key)
	}
	b.WriteString(": " + e.Msg)
	return b.String()
}

// Settings are the resolved main section values.
type Settings struct {
	CacheFile         string
	DaysToCache       int
	TotalCacheBackups int
	NoCacheUpdate     bool
	MaxThreads        int
	UserAgent         string
	AllowEmbeddedHTML bool
	GetGzippedFeeds   bool
	SortBy            feed.SortPolicy
	MaxSummarySize    int
	Timeout           time.Duration
	Retries           int
	MetricsFile       string
}

// Horizon returns the main cache horizon, or false for no limit.
func (s Settings) Horizon() (time.Duration, bool) {
	d := feed.Descriptor{CacheDays: s.DaysToCache}
	return d.Horizon()
}

// Config is a fully resolved configuration.
type Config struct {
	Path       string
	Settings   Settings
	Main       Section
	Feeds      []*feed.Descriptor
	Skipped    []*feed.Descriptor
	FeedErrors []error
	Warnings   []string
	Outputs    []Section
	Extensions []Section
}

// EnabledFeeds returns the feeds that will be fetched, in config order.
func (c *Config) EnabledFeeds() []*feed.Descriptor {
	var out []*feed.Descriptor
	for _, d := range c.Feeds {
		if d.Enabled {
			out = append(out, d)
		}
	}
	return out
}

// Hooks lets extensions observe configuration while it is resolved.
// A *ValidationError from either method aborts Resolve; any other feed
// hook error only drops that feed and is kept in Config.FeedErrors.
type Hooks interface {
	RunMainConfig(main *Section) error
	// RunFeedConfig returns false to drop the feed before any fetch.
	RunFeedConfig(sec *Section, d *feed.Descriptor) (bool, error)
}

// ConfigDir returns the XDG config directory for feedsweep.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "feedsweep")
}

// DataDir returns the XDG data directory for feedsweep.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "feedsweep")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/feedsweep/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'feedsweep init' to create a default config",
		xdgConfig,
	)
}

// Load reads a YAML or TOML config file, chosen by extension.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return ParseDocument(data, FormatFor(path))
}

// Resolve interprets doc, applying defaults and running hooks. hooks may
// be nil.
func Resolve(doc *Document, hooks Hooks) (*Config, error) {
	settings, err := parseSettings(&doc.Main)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Settings:   settings,
		Main:       doc.Main,
		Outputs:    doc.Outputs,
		Extensions: doc.Extensions,
	}

	if hooks != nil {
		if err := hooks.RunMainConfig(&cfg.Main); err != nil {
			return nil, err
		}
	}

	seen := make(map[string]bool)
	for i := range doc.Feeds {
		sec := &doc.Feeds[i]
		d, err := parseFeed(sec, settings)
		if err != nil {
			return nil, err
		}
		if seen[d.URL] {
			return nil, &ValidationError{Section: sec.Name, Key: "url", Msg: "duplicate feed url " + d.URL}
		}
		seen[d.URL] = true

		keep := true
		if hooks != nil {
			keep, err = hooks.RunFeedConfig(sec, d)
			var ve *ValidationError
			if errors.As(err, &ve) {
				return nil, err
			}
			if err != nil {
				cfg.FeedErrors = append(cfg.FeedErrors, err)
				keep = false
			}
		}
		if keep {
			cfg.Feeds = append(cfg.Feeds, d)
		} else {
			cfg.Skipped = append(cfg.Skipped, d)
		}
		cfg.warnUnused(sec)
	}
	cfg.warnUnused(&cfg.Main)

	if err := checkNamed("outputs", cfg.Outputs, "type"); err != nil {
		return nil, err
	}
	if err := checkNamed("extensions", cfg.Extensions, "name"); err != nil {
		return nil, err
	}
	return cfg, nil
}

// warnUnused records keys that neither the resolver nor an extension
// read, which usually means a typo.
func (c *Config) warnUnused(sec *Section) {
	for _, key := range sec.Unused() {
		c.Warnings = append(c.Warnings, fmt.Sprintf("[%s] unused key %q", sec.Name, key))
	}
}

func parseSettings(main *Section) (Settings, error) {
	s := Settings{
		CacheFile: filepath.Join(DataDir(), "cache.db"),
		UserAgent: main.String("user_agent", ""),
	}
	var err error

	s.CacheFile = ExpandHome(main.String("cache_file", s.CacheFile))
	s.MetricsFile = ExpandHome(main.String("metrics_file", ""))
	if s.DaysToCache, err = cacheDays(main, DefaultDaysToCache); err != nil {
		return s, err
	}
	if s.TotalCacheBackups, err = main.Int("total_cache_backups", 0); err != nil {
		return s, err
	}
	if s.TotalCacheBackups < 0 {
		return s, main.invalid("total_cache_backups", "must not be negative")
	}
	if s.NoCacheUpdate, err = main.Bool("no_cache_update", false); err != nil {
		return s, err
	}
	if s.MaxThreads, err = main.Int("max_threads", DefaultMaxThreads); err != nil {
		return s, err
	}
	if s.MaxThreads <= 0 {
		return s, main.invalid("max_threads", "must be positive, got %d", s.MaxThreads)
	}
	if s.AllowEmbeddedHTML, err = main.Bool("allow_embedded_html", false); err != nil {
		return s, err
	}
	if s.GetGzippedFeeds, err = main.Bool("get_gzipped_feeds", true); err != nil {
		return s, err
	}
	if s.SortBy, err = sortPolicy(main, feed.SortNone); err != nil {
		return s, err
	}
	if s.MaxSummarySize, err = main.Int("max_summary_size", 0); err != nil {
		return s, err
	}
	if s.Timeout, err = main.Duration("timeout", DefaultTimeout); err != nil {
		return s, err
	}
	if s.Retries, err = main.Int("retries", DefaultRetries); err != nil {
		return s, err
	}
	return s, nil
}

func parseFeed(sec *Section, s Settings) (*feed.Descriptor, error) {
	url := strings.TrimSpace(sec.String("url", ""))
	if url == "" {
		return nil, sec.invalid("url", "is required")
	}
	if sec.Name == "" || strings.HasPrefix(sec.Name, "feeds[") {
		sec.Name = sec.String("name", url)
	}

	d := &feed.Descriptor{
		URL:            url,
		Name:           sec.String("name", ""),
		Section:        sec.Name,
		UserAgent:      sec.String("user_agent", s.UserAgent),
		ForceEncoding:  sec.String("force_encoding", ""),
		TitleOverride:  sec.String("title_override", ""),
		MaxSummarySize: s.MaxSummarySize,
	}

	disabled, err := sec.Bool("disabled", false)
	if err != nil {
		return nil, err
	}
	d.Enabled = !disabled
	if d.CacheDays, err = cacheDays(sec, s.DaysToCache); err != nil {
		return nil, err
	}
	if d.SortBy, err = sortPolicy(sec, s.SortBy); err != nil {
		return nil, err
	}
	if d.IgnoreDuplicateTitles, err = sec.Bool("ignore_duplicate_titles", false); err != nil {
		return nil, err
	}
	if d.MaxSummarySize, err = sec.Int("max_summary_size", s.MaxSummarySize); err != nil {
		return nil, err
	}
	if d.AllowEmbeddedHTML, err = sec.Bool("allow_embedded_html", s.AllowEmbeddedHTML); err != nil {
		return nil, err
	}
	if d.ShowRSSVersion, err = sec.Bool("show_rss_version", false); err != nil {
		return nil, err
	}
	for _, raw := range sec.Values("preparse_edit") {
		rule, err := feed.ParseEditRule(raw)
		if err != nil {
			return nil, sec.invalid("preparse_edit", "%v", err)
		}
		d.PreparseEdits = append(d.PreparseEdits, rule)
	}
	for _, raw := range sec.Values("edit_item_url") {
		rule, err := feed.ParseEditRule(raw)
		if err != nil {
			return nil, sec.invalid("edit_item_url", "%v", err)
		}
		d.EditRules = append(d.EditRules, rule)
	}
	return d, nil
}

// cacheDays reads days_to_cache, accepting "NoLimit" for no eviction.
func cacheDays(sec *Section, def int) (int, error) {
	v, ok := sec.Get("days_to_cache")
	if !ok || v == "" {
		return def, nil
	}
	switch strings.ToLower(strings.ReplaceAll(v, "_", "")) {
	case "nolimit", "unlimited":
		return feed.NoCacheLimit, nil
	}
	n, err := sec.Int("days_to_cache", def)
	if err != nil {
		return def, err
	}
	if n < 0 {
		return feed.NoCacheLimit, nil
	}
	return n, nil
}

func sortPolicy(sec *Section, def feed.SortPolicy) (feed.SortPolicy, error) {
	v, ok := sec.Get("sort_by")
	if !ok || v == "" {
		return def, nil
	}
	p, err := feed.ParseSortPolicy(v)
	if err != nil {
		return def, sec.invalid("sort_by", "%v", err)
	}
	return p, nil
}

// checkNamed gives every section a unique name, taken from its name param
// or fallback key.
func checkNamed(group string, secs []Section, fallback string) error {
	seen := make(map[string]bool)
	for i := range secs {
		sec := &secs[i]
		name := sec.String("name", sec.String(fallback, ""))
		if name == "" {
			return sec.invalid("name", "%s entries need a name or %s", group, fallback)
		}
		if seen[name] {
			return sec.invalid("name", "duplicate %s name %q", group, name)
		}
		seen[name] = true
		sec.Name = name
	}
	return nil
}

// ExpandHome replaces a leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "~" {
		return homeDir()
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(homeDir(), path[2:])
	}
	return path
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
