// Package run drives one aggregation pass: load the cache, fetch every
// enabled feed, pass each channel through the extensions, hand new items
// to the outputs, then flush and persist.
package run

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/TobiSchelling/feedsweep/internal/app"
	"github.com/TobiSchelling/feedsweep/internal/cache"
	"github.com/TobiSchelling/feedsweep/internal/config"
	"github.com/TobiSchelling/feedsweep/internal/extension"
	"github.com/TobiSchelling/feedsweep/internal/feed"
	"github.com/TobiSchelling/feedsweep/internal/fetch"
	"github.com/TobiSchelling/feedsweep/internal/metrics"
	"github.com/TobiSchelling/feedsweep/internal/output"
	"github.com/TobiSchelling/feedsweep/internal/scheduler"
)

// Failure is one feed that produced no output this run.
type Failure struct {
	URL    string
	Reason string
}

// Summary is what a finished run reports.
type Summary struct {
	FeedsAttempted      int
	Failures            []Failure
	NewItems            int
	ItemsPerDestination map[string]int
	OutputErrors        []error
	CacheEntries        int
	Pruned              int
	Aborted             bool
	Started             time.Time
	Finished            time.Time
}

// Runner executes runs against a resolved configuration.
type Runner struct {
	env      *app.Env
	cfg      *config.Config
	pipeline *extension.Pipeline
	fetcher  scheduler.Fetcher
	outputs  *output.Coordinator
	metrics  *metrics.Recorder
}

// New creates a Runner. The coordinator is flushed by Run, so each Runner
// is good for a single run.
func New(env *app.Env, cfg *config.Config, pipeline *extension.Pipeline, fetcher scheduler.Fetcher, outputs *output.Coordinator, rec *metrics.Recorder) *Runner {
	return &Runner{
		env:      env,
		cfg:      cfg,
		pipeline: pipeline,
		fetcher:  fetcher,
		outputs:  outputs,
		metrics:  rec,
	}
}

// Run performs one pass. The returned error is non-nil only for fatal
// conditions; per-feed and per-destination problems are in the Summary.
// Cancelling ctx stops new fetches; whatever has been fetched is still
// processed, flushed and persisted.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	log := r.env.Log.WithField("component", "run")
	s := &Summary{Started: r.env.Clock()}

	feeds := r.cfg.EnabledFeeds()
	if err := r.pipeline.RunPostConfig(r.cfg.Feeds); err != nil {
		return s, fmt.Errorf("validating configuration: %w", err)
	}

	settings := r.cfg.Settings
	c, err := cache.Load(settings.CacheFile)
	if err != nil {
		var le *cache.LoadError
		if !errors.As(err, &le) {
			return s, err
		}
		log.WithError(err).Warn("cache unreadable, starting empty")
	}

	s.Pruned = c.PruneOlderThan(r.horizons(), s.Started)
	log.WithFields(logrus.Fields{
		"entries": c.Len(),
		"pruned":  s.Pruned,
		"feeds":   len(feeds),
	}).Info("starting run")

	sched := scheduler.New(r.env, r.fetcher, settings.MaxThreads, r.metrics)
	for res := range sched.Run(ctx, feeds) {
		s.FeedsAttempted++
		if res.Err != nil {
			r.failed(log, s, res.Feed, stageOf(res.Err), res.Err)
			continue
		}
		if err := r.process(log, c, res.Feed, res.Channel, s); err != nil {
			r.failed(log, s, res.Feed, "extension", err)
		}
	}
	if ctx.Err() != nil {
		s.Aborted = true
		log.WithField("processed", s.FeedsAttempted).Info("run aborted, finishing with partial results")
	}

	s.OutputErrors = append(s.OutputErrors, r.outputs.Flush()...)
	s.ItemsPerDestination = r.outputs.Counts()

	s.CacheEntries = c.Len()
	r.metrics.Cache(s.CacheEntries, s.Pruned)
	if settings.NoCacheUpdate {
		log.Info("cache update disabled, not saving")
	} else if err := c.Save(settings.CacheFile, settings.TotalCacheBackups); err != nil {
		s.Finished = r.env.Clock()
		r.finishMetrics(log, s, false)
		return s, err
	}

	report := &extension.Report{
		FeedsAttempted: s.FeedsAttempted,
		FeedsFailed:    len(s.Failures),
		NewItems:       s.NewItems,
		ItemsOutput:    s.ItemsPerDestination,
	}
	if err := r.pipeline.RunPostOutput(report); err != nil {
		log.WithError(err).Error("post-output extensions failed")
	}

	s.Finished = r.env.Clock()
	r.finishMetrics(log, s, true)
	log.WithFields(logrus.Fields{
		"attempted": s.FeedsAttempted,
		"failed":    len(s.Failures),
		"new_items": s.NewItems,
		"duration":  s.Finished.Sub(s.Started).Round(time.Millisecond),
	}).Info("run finished")
	return s, nil
}

// process takes one fetched channel through dedup, the post-fetch chain
// and the outputs. Every item the feed delivered is marked seen, even
// when an extension vetoes the feed or fails. Items keep the fingerprint
// they had on arrival, so hooks that rewrite links do not make them new
// again next run.
func (r *Runner) process(log *logrus.Entry, c *cache.Cache, d *feed.Descriptor, ch *feed.Channel, s *Summary) error {
	flog := log.WithField("feed", d.URL)

	fps := make(map[*feed.Item]feed.Fingerprint, len(ch.Items))
	fresh := make(map[*feed.Item]bool, len(ch.Items))
	for _, it := range ch.Items {
		fp := feed.FingerprintOf(d.URL, it)
		fps[it] = fp
		fresh[it] = !c.IsKnown(fp)
	}

	now := r.env.Clock()
	fc := &extension.FeedContext{
		Feed:    d,
		Channel: ch,
		Cache:   c,
		Now:     now,
		Log:     flog,
	}
	keep, err := r.pipeline.RunPostFetch(fc)
	if err != nil {
		for _, fp := range fps {
			c.MarkSeen(fp, now)
		}
		return err
	}

	// Items added by hooks are fingerprinted as they stand now.
	for _, it := range ch.Items {
		if _, tracked := fps[it]; !tracked {
			fp := feed.FingerprintOf(d.URL, it)
			fps[it] = fp
			fresh[it] = !c.IsKnown(fp)
		}
	}
	for _, fp := range fps {
		c.MarkSeen(fp, now)
	}
	if !keep {
		return nil
	}

	var items []*feed.Item
	emitted := make(map[feed.Fingerprint]bool, len(ch.Items))
	for _, it := range ch.Items {
		fp := fps[it]
		if fresh[it] && !emitted[fp] {
			emitted[fp] = true
			items = append(items, it)
		}
	}
	if d.IgnoreDuplicateTitles {
		items = feed.CollapseDuplicateTitles(items)
	}
	feed.SortItems(items, d.SortBy)
	for _, it := range items {
		feed.TruncateSummary(it, d.MaxSummarySize)
	}

	s.NewItems += len(items)
	r.metrics.NewItems(len(items))
	flog.WithFields(logrus.Fields{
		"items": len(ch.Items),
		"new":   len(items),
	}).Debug("feed processed")

	if len(items) > 0 {
		s.OutputErrors = append(s.OutputErrors, r.outputs.Accumulate(ch, items, d)...)
	}
	return nil
}

func (r *Runner) failed(log *logrus.Entry, s *Summary, d *feed.Descriptor, stage string, err error) {
	log.WithError(err).WithField("feed", d.URL).Warn("feed skipped")
	r.metrics.FeedFailed(stage)
	s.Failures = append(s.Failures, Failure{URL: d.URL, Reason: err.Error()})
}

// horizons maps a feed URL to its cache horizon. Entries of feeds that
// are no longer configured age out on the main horizon.
func (r *Runner) horizons() cache.HorizonFunc {
	byURL := make(map[string]*feed.Descriptor, len(r.cfg.Feeds)+len(r.cfg.Skipped))
	for _, d := range r.cfg.Skipped {
		byURL[d.URL] = d
	}
	for _, d := range r.cfg.Feeds {
		byURL[d.URL] = d
	}
	return func(feedURL string) (time.Duration, bool) {
		if d, ok := byURL[feedURL]; ok {
			return d.Horizon()
		}
		return r.cfg.Settings.Horizon()
	}
}

func (r *Runner) finishMetrics(log *logrus.Entry, s *Summary, ok bool) {
	r.metrics.RunFinished(s.Started, s.Finished, ok)
	if err := r.metrics.WriteTextfile(r.cfg.Settings.MetricsFile); err != nil {
		log.WithError(err).Warn("writing metrics file")
	}
}

func stageOf(err error) string {
	var fe *fetch.Error
	if errors.As(err, &fe) {
		return string(fe.Phase)
	}
	return "fetch"
}
