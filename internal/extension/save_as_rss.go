package extension

import (
	"bytes"
	"cmp"
	"encoding/xml"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/TobiSchelling/feedsweep/internal/app"
	"github.com/TobiSchelling/feedsweep/internal/config"
	"github.com/TobiSchelling/feedsweep/internal/feed"
	"github.com/TobiSchelling/feedsweep/internal/fileutil"
)

// SaveAsRSSType is the registry name of SaveAsRSS.
const SaveAsRSSType = "save_as_rss"

// SaveAsRSS writes each fetched channel to a per-feed RSS 2.0 file. With
// save_rss_only the feed's items go no further than that file.
type SaveAsRSS struct {
	log     *logrus.Entry
	sortKey string
	version string
	now     func() time.Time
}

func newSaveAsRSS(env *app.Env, sec config.Section) (Extension, error) {
	return &SaveAsRSS{
		log:     env.Log.WithField("extension", SaveAsRSSType),
		sortKey: sec.String("sort_key", "900"),
		version: env.Version,
		now:     env.Clock,
	}, nil
}

func (s *SaveAsRSS) Name() string    { return SaveAsRSSType }
func (s *SaveAsRSS) SortKey() string { return s.sortKey }

func (s *SaveAsRSS) OnFeedConfig(sec *config.Section, d *feed.Descriptor) (bool, error) {
	d.SaveAs = config.ExpandHome(sec.String("save_as_rss", ""))
	var err error
	if d.SaveOnly, err = sec.Bool("save_rss_only", false); err != nil {
		return false, err
	}
	if d.SaveBackups, err = sec.Int("save_as_backups", 0); err != nil {
		return false, err
	}
	if d.SaveBackups < 0 {
		return false, &config.ValidationError{Section: sec.Name, Key: "save_as_backups", Msg: "must not be negative"}
	}
	// Only RSS 2.0 is written.
	switch t := strings.ToLower(sec.String("save_as_type", "rss2")); t {
	case "rss2", "rss":
	default:
		return false, &config.ValidationError{Section: sec.Name, Key: "save_as_type", Msg: fmt.Sprintf("unsupported type %q, want rss2", t)}
	}
	if name := sec.String("save_as_encoding", ""); name != "" {
		enc, err := htmlindex.Get(name)
		if err != nil {
			return false, &config.ValidationError{Section: sec.Name, Key: "save_as_encoding", Msg: fmt.Sprintf("unknown encoding %q", name)}
		}
		if d.SaveEncoding, err = htmlindex.Name(enc); err != nil {
			return false, &config.ValidationError{Section: sec.Name, Key: "save_as_encoding", Msg: err.Error()}
		}
	}
	return true, nil
}

func (s *SaveAsRSS) OnPostConfig(feeds []*feed.Descriptor) error {
	targets := make(map[string]string)
	for _, d := range feeds {
		if d.SaveOnly && d.SaveAs == "" {
			return &config.ValidationError{Section: d.Section, Key: "save_rss_only", Msg: "set without save_as_rss"}
		}
		if d.SaveAs == "" {
			continue
		}
		if other, dup := targets[d.SaveAs]; dup {
			return &config.ValidationError{Section: d.Section, Key: "save_as_rss", Msg: fmt.Sprintf("%s is also written by %s", d.SaveAs, other)}
		}
		targets[d.SaveAs] = d.URL
	}
	return nil
}

func (s *SaveAsRSS) OnPostFetch(fc *FeedContext) (bool, error) {
	d := fc.Feed
	if d.SaveAs == "" {
		return true, nil
	}

	data := RenderRSS(fc.Channel, s.version, s.now())
	if d.SaveEncoding != "" && d.SaveEncoding != "utf-8" {
		var err error
		if data, err = encodeDocument(data, d.SaveEncoding); err != nil {
			return false, fmt.Errorf("saving %s: %w", d.SaveAs, err)
		}
	}
	if err := fileutil.WriteFile(d.SaveAs, data, d.SaveBackups); err != nil {
		return false, fmt.Errorf("saving %s: %w", d.SaveAs, err)
	}
	s.log.WithFields(logrus.Fields{
		"feed":  d.URL,
		"path":  d.SaveAs,
		"items": len(fc.Channel.Items),
	}).Debug("saved channel as rss")

	return !d.SaveOnly, nil
}

// RenderRSS serializes a channel as an RSS 2.0 document.
func RenderRSS(ch *feed.Channel, version string, now time.Time) []byte {
	var buf bytes.Buffer

	buf.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	buf.WriteString("\n")
	buf.WriteString(`<rss version="2.0" xmlns:content="http://purl.org/rss/1.0/modules/content/">`)
	buf.WriteString("\n  <channel>\n")

	writeElement(&buf, "title", cmp.Or(ch.Title, ch.FeedURL), 4)
	writeElement(&buf, "link", cmp.Or(ch.Link, ch.FeedURL), 4)
	writeElement(&buf, "description", cmp.Or(ch.Description, "Saved from "+ch.FeedURL), 4)
	writeElement(&buf, "lastBuildDate", now.Format(time.RFC1123Z), 4)
	writeElement(&buf, "generator", "feedsweep/"+version, 4)

	for _, it := range ch.Items {
		writeItem(&buf, it)
	}

	buf.WriteString("  </channel>\n</rss>\n")
	return buf.Bytes()
}

// encodeDocument converts a rendered UTF-8 document to the named
// encoding. Characters the target cannot represent become character
// references.
func encodeDocument(data []byte, name string) ([]byte, error) {
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, err
	}
	data = bytes.Replace(data, []byte(`encoding="UTF-8"`), []byte(`encoding="`+name+`"`), 1)
	out, err := encoding.HTMLEscapeUnsupported(enc.NewEncoder()).Bytes(data)
	if err != nil {
		return nil, fmt.Errorf("encoding as %s: %w", name, err)
	}
	return out, nil
}

func writeItem(buf *bytes.Buffer, it *feed.Item) {
	buf.WriteString("    <item>\n")

	if it.ID != "" {
		fmt.Fprintf(buf, "      <guid isPermaLink=\"%t\">", isURL(it.ID))
		xml.EscapeText(buf, []byte(it.ID))
		buf.WriteString("</guid>\n")
	}
	writeElement(buf, "title", it.Title, 6)
	writeElement(buf, "link", it.URL(), 6)
	writeElement(buf, "description", it.Summary, 6)

	if it.Content != "" && it.Content != it.Summary {
		buf.WriteString("      <content:encoded><![CDATA[")
		buf.WriteString(strings.ReplaceAll(it.Content, "]]>", "]]]]><![CDATA[>"))
		buf.WriteString("]]></content:encoded>\n")
	}
	if it.Published != nil {
		writeElement(buf, "pubDate", it.Published.Format(time.RFC1123Z), 6)
	}
	if len(it.Authors) > 0 {
		writeElement(buf, "author", it.Authors[0], 6)
	}
	for _, c := range it.Categories {
		writeElement(buf, "category", c, 6)
	}
	for _, l := range it.Links {
		if l.Rel == "enclosure" && l.Type != "" {
			fmt.Fprintf(buf, "      <enclosure url=\"%s\" length=\"0\" type=\"%s\" />\n",
				html.EscapeString(l.URL), html.EscapeString(l.Type))
		}
	}

	buf.WriteString("    </item>\n")
}

func writeElement(buf *bytes.Buffer, tag, content string, indent int) {
	if content == "" {
		return
	}
	buf.WriteString(strings.Repeat(" ", indent))
	buf.WriteString("<" + tag + ">")
	xml.EscapeText(buf, []byte(content))
	buf.WriteString("</" + tag + ">\n")
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
