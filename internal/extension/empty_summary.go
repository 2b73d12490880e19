package extension

import (
	"net/url"
	"strings"

	readability "github.com/go-shiori/go-readability"
	"github.com/sirupsen/logrus"

	"github.com/TobiSchelling/feedsweep/internal/app"
	"github.com/TobiSchelling/feedsweep/internal/config"
	"github.com/TobiSchelling/feedsweep/internal/feed"
	"github.com/TobiSchelling/feedsweep/internal/fetch"
)

// EmptySummaryType is the registry name of EmptySummary.
const EmptySummaryType = "empty_summary"

// SummaryFill says what to put into an item's empty summary.
type SummaryFill string

const (
	FillNothing SummaryFill = "nothing"
	FillContent SummaryFill = "content"
	FillTitle   SummaryFill = "title"
)

func parseFill(sec *config.Section, key string) (SummaryFill, bool, error) {
	v, ok := sec.Get(key)
	if !ok || v == "" {
		return "", false, nil
	}
	switch f := SummaryFill(strings.ToLower(v)); f {
	case FillNothing, FillContent, FillTitle:
		return f, true, nil
	}
	return "", false, &config.ValidationError{Section: sec.Name, Key: key, Msg: "want nothing, content or title, got " + v}
}

// EmptySummary backfills empty item summaries from the item content or
// title. The main section sets the default with replace_empty_summary_with;
// feeds may override it.
type EmptySummary struct {
	log     *logrus.Entry
	sortKey string
	global  SummaryFill
	perFeed map[string]SummaryFill
}

func newEmptySummary(env *app.Env, sec config.Section) (Extension, error) {
	return &EmptySummary{
		log:     env.Log.WithField("extension", EmptySummaryType),
		sortKey: sec.String("sort_key", "200"),
		global:  FillContent,
		perFeed: make(map[string]SummaryFill),
	}, nil
}

func (e *EmptySummary) Name() string    { return EmptySummaryType }
func (e *EmptySummary) SortKey() string { return e.sortKey }

func (e *EmptySummary) OnMainConfig(main *config.Section) error {
	if f, ok, err := parseFill(main, "replace_empty_summary_with"); err != nil {
		return err
	} else if ok {
		e.global = f
	}
	if only, err := main.Bool("summary_only", false); err != nil {
		return err
	} else if only {
		e.log.Warn("summary_only is deprecated, use replace_empty_summary_with: nothing")
		e.global = FillNothing
	}
	return nil
}

func (e *EmptySummary) OnFeedConfig(sec *config.Section, d *feed.Descriptor) (bool, error) {
	f, ok, err := parseFill(sec, "replace_empty_summary_with")
	if err != nil {
		return false, err
	}
	if ok {
		e.perFeed[d.URL] = f
	}
	return true, nil
}

// Mode returns the fill policy for a feed.
func (e *EmptySummary) Mode(feedURL string) SummaryFill {
	if f, ok := e.perFeed[feedURL]; ok {
		return f
	}
	return e.global
}

func (e *EmptySummary) OnPostFetch(fc *FeedContext) (bool, error) {
	mode := e.Mode(fc.Feed.URL)
	if mode == FillNothing {
		return true, nil
	}
	for _, it := range fc.Channel.Items {
		if strings.TrimSpace(it.Summary) != "" {
			continue
		}
		switch mode {
		case FillTitle:
			it.Summary = it.Title
		case FillContent:
			it.Summary = e.fromContent(it, fc.Feed.AllowEmbeddedHTML)
		}
	}
	return true, nil
}

// fromContent extracts readable text from an item's content. When the
// feed allows HTML the content is used as is.
func (e *EmptySummary) fromContent(it *feed.Item, allowHTML bool) string {
	if it.Content == "" || allowHTML {
		return it.Content
	}
	pageURL, _ := url.Parse(it.URL())
	article, err := readability.FromReader(strings.NewReader(it.Content), pageURL)
	if err == nil {
		if text := strings.Join(strings.Fields(article.TextContent), " "); text != "" {
			return text
		}
	}
	return fetch.StripHTML(it.Content)
}
