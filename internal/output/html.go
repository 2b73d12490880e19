package output

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/yuin/goldmark"

	"github.com/TobiSchelling/feedsweep/internal/app"
	"github.com/TobiSchelling/feedsweep/internal/config"
	"github.com/TobiSchelling/feedsweep/internal/feed"
)

//go:embed templates/digest.html
var templateFS embed.FS

var (
	md     = goldmark.New()
	digest = template.Must(template.ParseFS(templateFS, "templates/digest.html"))
)

type htmlItem struct {
	Title   string
	URL     string
	Meta    string
	Summary template.HTML
}

type htmlSection struct {
	Title string
	Link  string
	Items []htmlItem
}

// HTML renders a single digest page. Summaries are treated as Markdown
// unless the feed allows embedded HTML, in which case they pass through.
type HTML struct {
	title    string
	opts     TextOptions
	now      func() time.Time
	out      sink
	sections []htmlSection
}

// NewHTML returns an HTML destination writing to w at flush.
func NewHTML(env *app.Env, title string, opts TextOptions, w io.Writer) *HTML {
	return &HTML{title: title, opts: opts, now: env.Clock, out: sink{w: w}}
}

func newHTMLFromConfig(env *app.Env, sec config.Section) (Destination, error) {
	opts, err := textOptions(&sec)
	if err != nil {
		return nil, err
	}
	return &HTML{
		title: sec.String("title", "feedsweep digest"),
		opts:  opts,
		now:   env.Clock,
		out:   sinkFor(sec),
	}, nil
}

func (h *HTML) ContentType() string { return "text/html" }

func (h *HTML) Accumulate(ch *feed.Channel, items []*feed.Item, d *feed.Descriptor) error {
	sec := htmlSection{Title: d.ChannelTitle(ch), Link: ch.Link}
	for _, it := range items {
		hi := htmlItem{
			Title: itemTitle(it),
			URL:   it.URL(),
			Meta:  itemMeta(it, h.opts),
		}
		if d.AllowEmbeddedHTML {
			hi.Summary = template.HTML(it.Summary) //nolint: gosec
		} else {
			hi.Summary = renderMarkdown(it.Summary)
		}
		sec.Items = append(sec.Items, hi)
	}
	h.sections = append(h.sections, sec)
	return nil
}

func (h *HTML) Flush() error {
	var buf bytes.Buffer
	err := digest.Execute(&buf, struct {
		Title     string
		Generated time.Time
		Sections  []htmlSection
	}{h.title, h.now(), h.sections})
	if err != nil {
		return fmt.Errorf("rendering digest: %w", err)
	}
	return h.out.write(buf.Bytes())
}

func renderMarkdown(text string) template.HTML {
	if text == "" {
		return ""
	}
	var buf bytes.Buffer
	if err := md.Convert([]byte(text), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(text))
	}
	return template.HTML(buf.String()) //nolint: gosec
}
