// Package model defines the domain types used across the application.
package model

import "time"

// Feed is a configured RSS feed and the rules applied to its items.
type Feed struct {
	Name  string
	URL   string
	Rules []Rule
}

// Rule maps matching item titles to a download directory and labels.
type Rule struct {
	// Filter is a whitespace-separated list of substrings that must all
	// appear in a title for the rule to match.
	Filter string
	// Dir is relative to the base download directory.
	Dir    string
	Labels []string
}

// Candidate is a link/title pair extracted from a single feed item.
type Candidate struct {
	Link  string
	Title string
}

// Request is a candidate that matched a rule and is ready to be sent to
// the downloader. Requests are identified by Link.
type Request struct {
	Link   string
	Title  string
	Dir    string
	Labels []string
	Feed   string
}

// HistoryEntry records a link that the downloader accepted.
type HistoryEntry struct {
	Link        string
	Title       string
	SubmittedAt time.Time
}

// RetryEntry is a request whose submission failed and is waiting to be
// attempted again.
type RetryEntry struct {
	Request
	Attempts  int
	LastError string
	CreatedAt time.Time
	UpdatedAt time.Time
}
