package filter

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"rss_transmission/internal/model"
)

func TestMatches(t *testing.T) {
	tests := []struct {
		name   string
		title  string
		filter string
		want   bool
	}{
		{name: "single token", title: "Show S01E02 1080p", filter: "S01", want: true},
		{name: "all tokens present", title: "Show S01E02 1080p", filter: "Show 1080p", want: true},
		{name: "order independent", title: "Show S01E02 1080p", filter: "1080p Show", want: true},
		{name: "one token missing", title: "Show S01E02 720p", filter: "Show 1080p", want: false},
		{name: "case sensitive", title: "show s01e02", filter: "Show", want: false},
		{name: "substring inside word", title: "Showtime", filter: "Show", want: true},
		{name: "extra whitespace in filter", title: "A B", filter: "  A \t B  ", want: true},
		{name: "empty filter matches", title: "anything", filter: "", want: true},
		{name: "empty title", title: "", filter: "x", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, Matches(tt.title, tt.filter)); diff != "" {
				t.Errorf("Matches(%q, %q) mismatch (-want +got):\n%s", tt.title, tt.filter, diff)
			}
		})
	}
}

func TestMatch(t *testing.T) {
	season := model.Rule{Filter: "S01", Dir: "season1", Labels: []string{"tv"}}
	hd := model.Rule{Filter: "S01 1080p", Dir: "hd"}
	movie := model.Rule{Filter: "Movie", Dir: "movies"}

	tests := []struct {
		name   string
		title  string
		rules  []model.Rule
		want   model.Rule
		wantOK bool
	}{
		{
			name:   "first match wins",
			title:  "Show S01 1080p",
			rules:  []model.Rule{season, hd},
			want:   season,
			wantOK: true,
		},
		{
			name:   "declaration order decides",
			title:  "Show S01 1080p",
			rules:  []model.Rule{hd, season},
			want:   hd,
			wantOK: true,
		},
		{
			name:   "later rule matches when earlier does not",
			title:  "Movie 2024",
			rules:  []model.Rule{season, movie},
			want:   movie,
			wantOK: true,
		},
		{
			name:  "no rule matches",
			title: "Documentary",
			rules: []model.Rule{season, movie},
		},
		{
			name:  "no rules",
			title: "Show S01",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Match(tt.title, tt.rules)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("rule mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
