// Package extension runs registered extensions at fixed points of a run.
// An extension implements any subset of the hook interfaces below; the
// pipeline records which ones at registration and keeps one ordered chain
// per hook kind.
package extension

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/TobiSchelling/feedsweep/internal/config"
	"github.com/TobiSchelling/feedsweep/internal/feed"
)

// Kind identifies a hook point.
type Kind int

const (
	MainConfig Kind = iota
	FeedConfig
	PostConfig
	PostFetch
	PostOutput
	numKinds
)

func (k Kind) String() string {
	switch k {
	case MainConfig:
		return "main-config"
	case FeedConfig:
		return "feed-config"
	case PostConfig:
		return "post-config"
	case PostFetch:
		return "post-fetch"
	case PostOutput:
		return "post-output"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Extension is the base every extension implements. Chains are ordered by
// SortKey, then by registration order.
type Extension interface {
	Name() string
	SortKey() string
}

// MainConfigHook observes the main configuration section.
type MainConfigHook interface {
	OnMainConfig(main *config.Section) error
}

// FeedConfigHook sees each feed's section while it is read. Returning
// false drops the feed before any fetch.
type FeedConfigHook interface {
	OnFeedConfig(sec *config.Section, d *feed.Descriptor) (bool, error)
}

// PostConfigHook validates the complete feed list. An error aborts the run.
type PostConfigHook interface {
	OnPostConfig(feeds []*feed.Descriptor) error
}

// PostFetchHook may rewrite a fetched channel. Returning false stops the
// chain and keeps the feed's items out of every output.
type PostFetchHook interface {
	OnPostFetch(fc *FeedContext) (bool, error)
}

// PostOutputHook runs once after outputs are flushed.
type PostOutputHook interface {
	OnPostOutput(r *Report) error
}

// CacheView is the read-only cache access given to hooks.
type CacheView interface {
	IsKnown(fp feed.Fingerprint) bool
}

// FeedContext is the per-feed state handed along the post-fetch chain.
type FeedContext struct {
	Feed    *feed.Descriptor
	Channel *feed.Channel
	Cache   CacheView
	Now     time.Time
	Log     *logrus.Entry
	Keep    bool
}

// Report summarizes a finished run for post-output hooks.
type Report struct {
	FeedsAttempted int
	FeedsFailed    int
	NewItems       int
	ItemsOutput    map[string]int
}

// HookError is an error raised by one extension at one hook point.
type HookError struct {
	Extension string
	Kind      Kind
	Feed      string
	Err       error
}

func (e *HookError) Error() string {
	if e.Feed != "" {
		return fmt.Sprintf("extension %s (%s) on %s: %v", e.Extension, e.Kind, e.Feed, e.Err)
	}
	return fmt.Sprintf("extension %s (%s): %v", e.Extension, e.Kind, e.Err)
}

func (e *HookError) Unwrap() error { return e.Err }
