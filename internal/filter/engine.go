// Package filter implements the title matching engine for download rules.
package filter

import (
	"strings"

	"rss_transmission/internal/model"
)

// Match returns the first rule whose filter matches title.
// A filter matches when every whitespace-separated token is a substring of
// the title. Matching is case-sensitive and ignores token order.
func Match(title string, rules []model.Rule) (model.Rule, bool) {
	for _, r := range rules {
		if Matches(title, r.Filter) {
			return r, true
		}
	}
	return model.Rule{}, false
}

// Matches reports whether title contains every token of filter.
// An empty filter matches everything.
func Matches(title, filter string) bool {
	for _, tok := range strings.Fields(filter) {
		if !strings.Contains(title, tok) {
			return false
		}
	}
	return true
}
