package output

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/TobiSchelling/feedsweep/internal/app"
	"github.com/TobiSchelling/feedsweep/internal/config"
	"github.com/TobiSchelling/feedsweep/internal/feed"
)

// TextOptions controls the plain-text layout.
type TextOptions struct {
	ShowDates   bool
	ShowAuthors bool
}

// Text renders items as plain text, one block per feed.
type Text struct {
	opts TextOptions
	out  sink
	buf  bytes.Buffer
}

// NewText returns a text destination writing to w at flush.
func NewText(opts TextOptions, w io.Writer) *Text {
	return &Text{opts: opts, out: sink{w: w}}
}

func newTextFromConfig(_ *app.Env, sec config.Section) (Destination, error) {
	opts, err := textOptions(&sec)
	if err != nil {
		return nil, err
	}
	return &Text{opts: opts, out: sinkFor(sec)}, nil
}

func textOptions(sec *config.Section) (TextOptions, error) {
	var opts TextOptions
	var err error
	if opts.ShowDates, err = sec.Bool("show_dates", false); err != nil {
		return opts, err
	}
	if opts.ShowAuthors, err = sec.Bool("show_authors", false); err != nil {
		return opts, err
	}
	return opts, nil
}

func (t *Text) ContentType() string { return "text/plain" }

func (t *Text) Accumulate(ch *feed.Channel, items []*feed.Item, d *feed.Descriptor) error {
	title := d.ChannelTitle(ch)
	fmt.Fprintf(&t.buf, "%s\n%s\n\n", title, strings.Repeat("=", len([]rune(title))))

	for _, it := range items {
		fmt.Fprintf(&t.buf, "* %s\n", itemTitle(it))
		if meta := itemMeta(it, t.opts); meta != "" {
			fmt.Fprintf(&t.buf, "  %s\n", meta)
		}
		if u := it.URL(); u != "" {
			fmt.Fprintf(&t.buf, "  %s\n", u)
		}
		if it.Summary != "" {
			fmt.Fprintf(&t.buf, "\n  %s\n", it.Summary)
		}
		t.buf.WriteString("\n")
	}
	return nil
}

// Flush writes the accumulated text. A file destination is rewritten
// even when empty so it never shows a previous run's items.
func (t *Text) Flush() error {
	if t.buf.Len() == 0 && t.out.path == "" {
		return nil
	}
	return t.out.write(t.buf.Bytes())
}

func itemTitle(it *feed.Item) string {
	if it.Title != "" {
		return it.Title
	}
	return "(untitled)"
}

// itemMeta joins the optional date and author line of an item.
func itemMeta(it *feed.Item, opts TextOptions) string {
	var parts []string
	if opts.ShowDates && it.Published != nil {
		parts = append(parts, it.Published.Format(time.DateTime))
	}
	if opts.ShowAuthors && len(it.Authors) > 0 {
		parts = append(parts, "by "+strings.Join(it.Authors, ", "))
	}
	return strings.Join(parts, " ")
}
