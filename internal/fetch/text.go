package fetch

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/TobiSchelling/feedsweep/internal/feed"
)

// StripHTML returns the text content of s with markup removed, entities
// decoded and whitespace collapsed. Script and style bodies are dropped.
func StripHTML(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return strings.Join(strings.Fields(s), " ")
	}

	var b strings.Builder
	z := html.NewTokenizer(strings.NewReader(s))
	skip := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.Join(strings.Fields(b.String()), " ")
		case html.StartTagToken:
			name, _ := z.TagName()
			if isRawText(name) {
				skip++
			}
			b.WriteByte(' ')
		case html.EndTagToken:
			name, _ := z.TagName()
			if isRawText(name) && skip > 0 {
				skip--
			}
			b.WriteByte(' ')
		case html.SelfClosingTagToken:
			b.WriteByte(' ')
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		}
	}
}

func isRawText(tag []byte) bool {
	t := string(tag)
	return t == "script" || t == "style"
}

// stripChannel removes markup from channel and item titles and summaries.
func stripChannel(ch *feed.Channel) {
	ch.Title = StripHTML(ch.Title)
	ch.Description = StripHTML(ch.Description)
	for _, it := range ch.Items {
		it.Title = StripHTML(it.Title)
		it.Summary = StripHTML(it.Summary)
	}
}

var xmlDeclEncoding = regexp.MustCompile(`(?i)^(\s*<\?xml[^>]*?encoding\s*=\s*["'])[^"']*(["'])`)

// decodeForced reinterprets data as the named character set and returns
// UTF-8, rewriting the XML declaration to match.
func decodeForced(data []byte, charset string) ([]byte, error) {
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return nil, fmt.Errorf("unknown encoding %q: %w", charset, err)
	}
	out, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return nil, err
	}
	out = bytes.TrimPrefix(out, []byte("\uFEFF"))
	return xmlDeclEncoding.ReplaceAll(out, []byte("${1}utf-8${2}")), nil
}
