package feed

import (
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/samber/lo"
)

// SortItems orders items in place. Time sorts oldest first with undated
// items last; title sorts case-insensitively. Equal keys keep feed order.
func SortItems(items []*Item, policy SortPolicy) {
	switch policy {
	case SortByTime:
		sort.SliceStable(items, func(i, j int) bool {
			a, b := items[i].Published, items[j].Published
			if a == nil || b == nil {
				return a != nil && b == nil
			}
			return a.Before(*b)
		})
	case SortByTitle:
		sort.SliceStable(items, func(i, j int) bool {
			return strings.ToLower(items[i].Title) < strings.ToLower(items[j].Title)
		})
	}
}

// CollapseDuplicateTitles keeps the first item of each exact title.
// Untitled items are never collapsed.
func CollapseDuplicateTitles(items []*Item) []*Item {
	n := 0
	return lo.UniqBy(items, func(it *Item) string {
		if it.Title == "" {
			n++
			return "\x00" + strconv.Itoa(n)
		}
		return it.Title
	})
}

// TruncateSummary cuts an item's summary to at most max runes. Zero or
// negative max means no limit.
func TruncateSummary(it *Item, max int) {
	if max <= 0 || utf8.RuneCountInString(it.Summary) <= max {
		return
	}
	runes := []rune(it.Summary)
	it.Summary = string(runes[:max])
}
