// Package textutil repairs and trims text taken from form submissions before
// it is exported or printed.
package textutil

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/charmbracelet/x/ansi"
	"github.com/gogs/chardet"
	"github.com/mattn/go-runewidth"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"
)

// chardet names GB18030 differently from the WHATWG index.
var charsetAliases = map[string]string{
	"gb-18030": "gb18030",
}

// Decoder returns the encoding browsers use for the charset label, or nil
// when the label is unknown. Labels are matched as in an HTML meta tag, so
// "latin1" decodes as windows-1252.
func Decoder(label string) encoding.Encoding {
	label = strings.ToLower(strings.TrimSpace(label))
	if alias, ok := charsetAliases[label]; ok {
		label = alias
	}
	enc, err := htmlindex.Get(label)
	if err != nil {
		return nil
	}
	return enc
}

// EnsureUTF8 returns s unchanged when it is valid UTF-8. Otherwise the
// charset is guessed, falling back to windows-1252, which is what legacy
// form pages without a declared charset post.
func EnsureUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	data := []byte(s)

	// Detection is unreliable on short values, so accept a weaker guess.
	minConfidence := 30
	if len(data) > 50 {
		minConfidence = 50
	}
	if best, err := chardet.NewTextDetector().DetectBest(data); err == nil && best.Confidence >= minConfidence {
		if enc := Decoder(best.Charset); enc != nil {
			if decoded, err := enc.NewDecoder().Bytes(data); err == nil && utf8.Valid(decoded) {
				return string(decoded)
			}
		}
	}

	if decoded, err := charmap.Windows1252.NewDecoder().Bytes(data); err == nil && utf8.Valid(decoded) {
		return string(decoded)
	}
	return strings.ToValidUTF8(s, "�")
}

// Cell fits s into a table cell max terminal columns wide. Only the first
// non-empty line is kept. Escape sequences are removed so a submitted value
// cannot restyle the terminal, and other control characters become spaces.
func Cell(s string, max int) string {
	s = strings.TrimLeft(ansi.Strip(s), "\r\n")
	if i := strings.IndexAny(s, "\r\n"); i >= 0 {
		s = s[:i]
	}
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, s)

	// Wide runes such as CJK take two columns.
	switch {
	case max <= 0:
		return ""
	case runewidth.StringWidth(s) <= max:
		return s
	case max <= 3:
		return runewidth.Truncate(s, max, "")
	}
	return runewidth.Truncate(s, max, "...")
}
