package search

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

// assertFiltersEqual compares parsed filters, treating nil and empty slices
// as equivalent.
func assertFiltersEqual(t *testing.T, got, want []Filter) {
	t.Helper()
	if diff := cmp.Diff(want, got, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("filters mismatch (-want +got):\n%s", diff)
	}
}

var englishVocab = NewResolver(NewTranslator("en"), FormCommands)

func TestParse(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  []Filter
	}{
		{
			name:  "empty",
			query: "",
			want:  nil,
		},
		{
			name:  "whitespace only",
			query: "   \t ",
			want:  nil,
		},
		{
			name:  "bare word",
			query: "contact",
			want:  []Filter{{String: "contact"}},
		},
		{
			name:  "multiple bare words",
			query: "contact us",
			want:  []Filter{{String: "contact"}, {String: "us"}},
		},
		{
			name:  "quoted phrase is strict",
			query: `"contact us"`,
			want:  []Filter{{String: "contact us", Strict: true}},
		},
		{
			name:  "single quoted phrase",
			query: `'contact us'`,
			want:  []Filter{{String: "contact us", Strict: true}},
		},
		{
			name:  "command",
			query: "is:published",
			want:  []Filter{{Command: "is", String: "published"}},
		},
		{
			name:  "command is lowercased, value is not",
			query: "NAME:Newsletter",
			want:  []Filter{{Command: "name", String: "Newsletter"}},
		},
		{
			name:  "command with quoted value",
			query: `name:"contact us"`,
			want:  []Filter{{Command: "name", String: "contact us", Strict: true}},
		},
		{
			name:  "negated command with dash",
			query: "-has:results",
			want:  []Filter{{Command: "has", String: "results", Not: true}},
		},
		{
			name:  "negated command with bang",
			query: "!is:mine",
			want:  []Filter{{Command: "is", String: "mine", Not: true}},
		},
		{
			name:  "negated quoted phrase",
			query: `-"contact us"`,
			want:  []Filter{{String: "contact us", Strict: true, Not: true}},
		},
		{
			name:  "negated quoted command value",
			query: `!name:"contact us"`,
			want:  []Filter{{Command: "name", String: "contact us", Strict: true, Not: true}},
		},
		{
			name:  "negated bare word",
			query: "-draft",
			want:  []Filter{{String: "draft", Not: true}},
		},
		{
			name:  "lone dash is text",
			query: "-",
			want:  []Filter{{String: "-"}},
		},
		{
			name:  "mixed",
			query: `is:published -has:results "sign up" newsletter`,
			want: []Filter{
				{Command: "is", String: "published"},
				{Command: "has", String: "results", Not: true},
				{String: "sign up", Strict: true},
				{String: "newsletter"},
			},
		},
		{
			name:  "colon inside quoted phrase is not a command",
			query: `"is:published"`,
			want:  []Filter{{String: "is:published", Strict: true}},
		},
		{
			name:  "empty command value is text",
			query: "name:",
			want:  []Filter{{String: "name:"}},
		},
		{
			name:  "leading colon is text",
			query: ":published",
			want:  []Filter{{String: ":published"}},
		},
		{
			name:  "empty quoted command value dropped",
			query: `name:""`,
			want:  nil,
		},
		{
			name:  "unterminated quote",
			query: `name:"contact`,
			want:  []Filter{{Command: "name", String: "contact"}},
		},
		{
			name:  "unknown command is text",
			query: "color:blue",
			want:  []Filter{{String: "color:blue"}},
		},
		{
			name:  "time is text",
			query: "signup 10:30",
			want:  []Filter{{String: "signup"}, {String: "10:30"}},
		},
		{
			name:  "url is text",
			query: "https://example.com/form",
			want:  []Filter{{String: "https://example.com/form"}},
		},
		{
			name:  "negated unknown command keeps negation",
			query: "-a:b",
			want:  []Filter{{String: "a:b", Not: true}},
		},
		{
			name:  "unknown value under known command stays a command",
			query: "is:bogus",
			want:  []Filter{{Command: "is", String: "bogus"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertFiltersEqual(t, Parse(tt.query, englishVocab), tt.want)
		})
	}
}

func TestString_RoundTrip(t *testing.T) {
	queries := []string{
		"is:published",
		"signup 10:30",
		`-has:results "sign up" newsletter`,
		`!name:"contact us" -draft`,
	}
	for _, q := range queries {
		t.Run(q, func(t *testing.T) {
			first := Parse(q, englishVocab)
			second := Parse(String(first), englishVocab)
			assertFiltersEqual(t, second, first)
		})
	}
}

func TestParse_VocabularyDecidesCommands(t *testing.T) {
	fr := NewResolver(NewTranslator("fr"), FormCommands)
	assertFiltersEqual(t, Parse("est:publié is:published", fr), []Filter{
		{Command: "est", String: "publié"},
		{String: "is:published"},
	})

	assertFiltersEqual(t, Parse("is:published name:x", nil), []Filter{
		{String: "is:published"},
		{String: "name:x"},
	})
}

func TestFilter_IsCommand(t *testing.T) {
	if (Filter{String: "x"}).IsCommand() {
		t.Error("catch-all filter reported as command")
	}
	if !(Filter{Command: "is", String: "mine"}).IsCommand() {
		t.Error("command filter not reported as command")
	}
}
