package extension

import (
	"errors"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/TobiSchelling/feedsweep/internal/app"
	"github.com/TobiSchelling/feedsweep/internal/config"
	"github.com/TobiSchelling/feedsweep/internal/feed"
)

type registered struct {
	ext   Extension
	order int
	kinds []Kind
}

// Pipeline dispatches hooks to registered extensions. It implements
// config.Hooks so it can take part in configuration loading.
type Pipeline struct {
	log    *logrus.Entry
	all    []*registered
	names  map[string]*registered
	chains [numKinds][]*registered
}

var _ config.Hooks = (*Pipeline)(nil)

// NewPipeline returns an empty pipeline.
func NewPipeline(env *app.Env) *Pipeline {
	return &Pipeline{
		log:   env.Log.WithField("component", "extension"),
		names: make(map[string]*registered),
	}
}

// Register adds ext to the chain of every hook kind it implements.
func (p *Pipeline) Register(ext Extension) error {
	name := ext.Name()
	if _, dup := p.names[name]; dup {
		return fmt.Errorf("extension %q registered twice", name)
	}

	r := &registered{ext: ext, order: len(p.all)}
	if _, ok := ext.(MainConfigHook); ok {
		r.kinds = append(r.kinds, MainConfig)
	}
	if _, ok := ext.(FeedConfigHook); ok {
		r.kinds = append(r.kinds, FeedConfig)
	}
	if _, ok := ext.(PostConfigHook); ok {
		r.kinds = append(r.kinds, PostConfig)
	}
	if _, ok := ext.(PostFetchHook); ok {
		r.kinds = append(r.kinds, PostFetch)
	}
	if _, ok := ext.(PostOutputHook); ok {
		r.kinds = append(r.kinds, PostOutput)
	}

	p.all = append(p.all, r)
	p.names[name] = r
	for _, k := range r.kinds {
		chain := append(p.chains[k], r)
		sort.SliceStable(chain, func(i, j int) bool {
			a, b := chain[i], chain[j]
			if a.ext.SortKey() != b.ext.SortKey() {
				return a.ext.SortKey() < b.ext.SortKey()
			}
			return a.order < b.order
		})
		p.chains[k] = chain
	}

	p.log.WithFields(logrus.Fields{
		"extension": name,
		"hooks":     r.kinds,
	}).Debug("registered extension")
	return nil
}

// Chain returns the extension names for kind in dispatch order.
func (p *Pipeline) Chain(kind Kind) []string {
	out := make([]string, len(p.chains[kind]))
	for i, r := range p.chains[kind] {
		out[i] = r.ext.Name()
	}
	return out
}

// Len returns the number of registered extensions.
func (p *Pipeline) Len() int { return len(p.all) }

// RunMainConfig calls every MainConfigHook with the main section.
func (p *Pipeline) RunMainConfig(main *config.Section) error {
	for _, r := range p.chains[MainConfig] {
		if err := r.ext.(MainConfigHook).OnMainConfig(main); err != nil {
			return hookError(r, MainConfig, "", err)
		}
	}
	return nil
}

// RunFeedConfig calls FeedConfigHooks for one feed, stopping at the first
// that drops it.
func (p *Pipeline) RunFeedConfig(sec *config.Section, d *feed.Descriptor) (bool, error) {
	for _, r := range p.chains[FeedConfig] {
		keep, err := r.ext.(FeedConfigHook).OnFeedConfig(sec, d)
		if err != nil {
			return false, hookError(r, FeedConfig, d.URL, err)
		}
		if !keep {
			p.log.WithFields(logrus.Fields{
				"extension": r.ext.Name(),
				"feed":      d.URL,
			}).Info("feed skipped by extension")
			return false, nil
		}
	}
	return true, nil
}

// RunPostConfig calls every PostConfigHook. Any error is fatal for the run.
func (p *Pipeline) RunPostConfig(feeds []*feed.Descriptor) error {
	for _, r := range p.chains[PostConfig] {
		if err := r.ext.(PostConfigHook).OnPostConfig(feeds); err != nil {
			return hookError(r, PostConfig, "", err)
		}
	}
	return nil
}

// RunPostFetch runs the post-fetch chain over fc. It stops at the first
// hook that returns false or fails; fc.Keep reports the outcome.
func (p *Pipeline) RunPostFetch(fc *FeedContext) (bool, error) {
	fc.Keep = true
	for _, r := range p.chains[PostFetch] {
		keep, err := r.ext.(PostFetchHook).OnPostFetch(fc)
		if err != nil {
			fc.Keep = false
			return false, hookError(r, PostFetch, fc.Feed.URL, err)
		}
		if !keep {
			fc.Keep = false
			if fc.Log != nil {
				fc.Log.WithField("extension", r.ext.Name()).Debug("feed stopped by extension")
			}
			return false, nil
		}
	}
	return true, nil
}

// RunPostOutput calls every PostOutputHook, joining their errors.
func (p *Pipeline) RunPostOutput(report *Report) error {
	var errs []error
	for _, r := range p.chains[PostOutput] {
		if err := r.ext.(PostOutputHook).OnPostOutput(report); err != nil {
			errs = append(errs, hookError(r, PostOutput, "", err))
		}
	}
	return errors.Join(errs...)
}

func hookError(r *registered, kind Kind, feedURL string, err error) error {
	var ve *config.ValidationError
	if errors.As(err, &ve) {
		return err
	}
	return &HookError{Extension: r.ext.Name(), Kind: kind, Feed: feedURL, Err: err}
}
