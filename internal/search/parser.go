// Package search provides parsing of list search strings into filter
// descriptors and the localized search-command vocabulary.
package search

import (
	"strings"
	"unicode"
)

// Filter is one parsed search term. A Filter with an empty Command is a
// catch-all (free text) filter; otherwise it is a command filter such as
// "is:published" with Command "is" and String "published".
type Filter struct {
	Command string `json:"command,omitempty"`
	String  string `json:"string"`
	Strict  bool   `json:"strict,omitempty"` // quoted value: match exactly, no wildcards
	Not     bool   `json:"not,omitempty"`    // prefixed with - or !
}

// IsCommand reports whether f is a command filter.
func (f Filter) IsCommand() bool {
	return f.Command != ""
}

// Vocabulary reports whether a typed command name is a known search command.
type Vocabulary interface {
	HasCommand(name string) bool
}

// Parse splits a search string into filter descriptors.
//
// Supported syntax:
//   - bare words - catch-all filters matched with wildcards
//   - "quoted phrases" - strict catch-all filters
//   - cmd:value and cmd:"quoted value" - command filters when vocab knows cmd
//   - a leading - or ! negates the term that follows
//
// A cmd:value token whose command vocab does not know (or any such token when
// vocab is nil) is kept whole as a catch-all filter, so "10:30" searches for
// the text. Command names are lowercased; whether the value is valid for the
// command is decided by the compiler.
func Parse(s string, vocab Vocabulary) []Filter {
	var filters []Filter
	for _, token := range tokenize(s) {
		var f Filter
		if len(token) > 1 && (token[0] == '-' || token[0] == '!') {
			f.Not = true
			token = token[1:]
		}

		if isQuotedPhrase(token) {
			f.String = unquote(token)
			f.Strict = true
			if f.String != "" {
				filters = append(filters, f)
			}
			continue
		}

		if idx := strings.Index(token, ":"); idx > 0 && idx < len(token)-1 &&
			vocab != nil && vocab.HasCommand(token[:idx]) {
			f.Command = strings.ToLower(token[:idx])
			value := token[idx+1:]
			if len(value) >= 2 && value[0] == '"' && value[len(value)-1] == '"' {
				f.Strict = true
				value = unquote(value)
			}
			f.String = value
			if f.String != "" {
				filters = append(filters, f)
			}
			continue
		}

		f.String = token
		filters = append(filters, f)
	}
	return filters
}

// String reassembles filters into a search string. Strict values and values
// containing whitespace are quoted.
func String(filters []Filter) string {
	parts := make([]string, 0, len(filters))
	for _, f := range filters {
		var sb strings.Builder
		if f.Not {
			sb.WriteByte('-')
		}
		if f.Command != "" {
			sb.WriteString(f.Command)
			sb.WriteByte(':')
		}
		if f.Strict || strings.ContainsAny(f.String, " \t") {
			sb.WriteByte('"')
			sb.WriteString(f.String)
			sb.WriteByte('"')
		} else {
			sb.WriteString(f.String)
		}
		parts = append(parts, sb.String())
	}
	return strings.Join(parts, " ")
}

// unquote removes surrounding double quotes from a string if present.
func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

// isQuotedPhrase returns true if the token is a double-quoted phrase.
func isQuotedPhrase(token string) bool {
	return len(token) >= 2 && token[0] == '"' && token[len(token)-1] == '"'
}

// tokenize splits a search string on whitespace, keeping quoted sections
// together. A quote that opens directly after "cmd:" or a negation prefix
// stays attached to that token, so -name:"a b" and -"a b" are single tokens.
// Single quotes are normalized to double quotes.
func tokenize(s string) []string {
	var tokens []string
	var current strings.Builder
	inQuotes := false
	quoteChar := rune(0)

	for _, char := range s {
		switch {
		case (char == '"' || char == '\'') && !inQuotes:
			inQuotes = true
			quoteChar = char
			cur := current.String()
			attached := strings.HasSuffix(cur, ":") || cur == "-" || cur == "!"
			if !attached && current.Len() > 0 {
				tokens = append(tokens, cur)
				current.Reset()
			}
			current.WriteRune('"')
		case inQuotes && char == quoteChar:
			inQuotes = false
			quoteChar = 0
			current.WriteRune('"')
			tokens = append(tokens, current.String())
			current.Reset()
		case unicode.IsSpace(char) && !inQuotes:
			if current.Len() > 0 {
				tokens = append(tokens, current.String())
				current.Reset()
			}
		default:
			current.WriteRune(char)
		}
	}

	if current.Len() > 0 {
		tok := current.String()
		if inQuotes {
			// Unterminated quote: treat the value as unquoted.
			tok = strings.Replace(tok, `"`, "", 1)
		}
		if tok != "" {
			tokens = append(tokens, tok)
		}
	}

	return tokens
}
