package fetch

import (
	"bytes"
	"cmp"
	"strings"

	"github.com/mmcdole/gofeed"

	"github.com/TobiSchelling/feedsweep/internal/feed"
)

// Parser turns raw feed bytes into a Channel.
type Parser interface {
	Parse(data []byte, sourceURL string) (*feed.Channel, error)
}

// GofeedParser parses RSS, Atom and JSON Feed documents with gofeed.
type GofeedParser struct{}

// Parse implements Parser. A gofeed.Parser keeps per-document state, so a
// fresh one is created for every call.
func (GofeedParser) Parse(data []byte, sourceURL string) (*feed.Channel, error) {
	parsed, err := gofeed.NewParser().Parse(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	ch := &feed.Channel{
		FeedURL:     sourceURL,
		Title:       strings.TrimSpace(parsed.Title),
		Description: parsed.Description,
		Link:        parsed.Link,
		Format:      parsed.FeedType,
		Version:     parsed.FeedVersion,
		Items:       make([]*feed.Item, 0, len(parsed.Items)),
	}
	for _, it := range parsed.Items {
		if it == nil {
			continue
		}
		ch.Items = append(ch.Items, convertItem(it))
	}
	return ch, nil
}

func convertItem(it *gofeed.Item) *feed.Item {
	item := &feed.Item{
		ID:         strings.TrimSpace(it.GUID),
		Title:      strings.TrimSpace(it.Title),
		Summary:    it.Description,
		Content:    it.Content,
		Published:  cmp.Or(it.PublishedParsed, it.UpdatedParsed),
		Categories: it.Categories,
	}

	for _, a := range it.Authors {
		if a == nil {
			continue
		}
		if name := cmp.Or(strings.TrimSpace(a.Name), strings.TrimSpace(a.Email)); name != "" {
			item.Authors = append(item.Authors, name)
		}
	}

	seen := make(map[string]bool)
	addLink := func(l feed.Link) {
		l.URL = strings.TrimSpace(l.URL)
		if l.URL == "" || seen[l.URL] {
			return
		}
		seen[l.URL] = true
		item.Links = append(item.Links, l)
	}
	addLink(feed.Link{URL: it.Link, Rel: "alternate"})
	for _, l := range it.Links {
		addLink(feed.Link{URL: l, Rel: "alternate"})
	}
	for _, enc := range it.Enclosures {
		if enc != nil {
			addLink(feed.Link{URL: enc.URL, Rel: "enclosure", Type: enc.Type})
		}
	}
	return item
}
