// Package feed defines the run's data model: configured feeds, fetched
// channels and their items.
package feed

import (
	"fmt"
	"strings"
	"time"
)

// NoCacheLimit as a CacheDays value exempts a feed's items from eviction.
const NoCacheLimit = -1

// SortPolicy orders a feed's items before output.
type SortPolicy int

const (
	SortNone SortPolicy = iota
	SortByTime
	SortByTitle
)

var sortPolicyNames = map[string]SortPolicy{
	"none":  SortNone,
	"time":  SortByTime,
	"title": SortByTitle,
}

// ParseSortPolicy accepts none, time or title (case-insensitive).
func ParseSortPolicy(s string) (SortPolicy, error) {
	p, ok := sortPolicyNames[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return SortNone, fmt.Errorf("unknown sort policy %q (want none, time or title)", s)
	}
	return p, nil
}

func (p SortPolicy) String() string {
	switch p {
	case SortByTime:
		return "time"
	case SortByTitle:
		return "title"
	default:
		return "none"
	}
}

// Descriptor is one configured feed. It is built while the configuration
// is read and must not change once fetching starts.
type Descriptor struct {
	URL     string
	Name    string
	Section string

	Enabled               bool
	CacheDays             int
	SortBy                SortPolicy
	IgnoreDuplicateTitles bool
	MaxSummarySize        int
	UserAgent             string
	ForceEncoding         string
	EditRules             []EditRule
	PreparseEdits         []EditRule
	AllowEmbeddedHTML     bool
	TitleOverride         string
	ShowRSSVersion        bool

	SaveAs       string
	SaveOnly     bool
	SaveBackups  int
	SaveEncoding string
}

// Label is the feed's display name, falling back to its URL.
func (d *Descriptor) Label() string {
	if d.Name != "" {
		return d.Name
	}
	return d.URL
}

// ChannelTitle is the heading outputs use for ch: the title override,
// then the configured name, then the channel's own title, then the URL.
// With ShowRSSVersion the feed format is appended.
func (d *Descriptor) ChannelTitle(ch *Channel) string {
	title := d.TitleOverride
	if title == "" && d.Name != "" {
		title = d.Name
	}
	if title == "" && ch != nil {
		title = ch.Title
	}
	if title == "" {
		title = d.URL
	}
	if d.ShowRSSVersion && ch != nil && ch.Format != "" {
		title += " (" + strings.TrimSpace(ch.Format+" "+ch.Version) + ")"
	}
	return title
}

// Horizon returns how long an item of this feed stays cached, and false
// when the feed has no limit.
func (d *Descriptor) Horizon() (time.Duration, bool) {
	if d.CacheDays < 0 {
		return 0, false
	}
	return time.Duration(d.CacheDays) * 24 * time.Hour, true
}

// Channel is one fetched feed's content.
type Channel struct {
	FeedURL     string
	Title       string
	Description string
	Link        string
	Format      string // rss, atom, json
	Version     string
	Items       []*Item
}

// Link is one typed link of an item.
type Link struct {
	URL  string
	Rel  string
	Type string
}

// Item is one entry within a channel.
type Item struct {
	ID         string
	Title      string
	Summary    string
	Content    string
	Published  *time.Time
	Authors    []string
	Categories []string
	Links      []Link
}

// URL returns the item's primary link: the first alternate (or untyped)
// link, else the first link of any kind.
func (it *Item) URL() string {
	for _, l := range it.Links {
		if l.Rel == "" || l.Rel == "alternate" {
			return l.URL
		}
	}
	if len(it.Links) > 0 {
		return it.Links[0].URL
	}
	return ""
}

// PublishedAt returns the publication time or the zero time.
func (it *Item) PublishedAt() time.Time {
	if it.Published == nil {
		return time.Time{}
	}
	return *it.Published
}
