// Package sanitize normalizes user-supplied experiment labels before they
// reach directory names, the experiment store and MCP output.
package sanitize

import (
	"regexp"
	"strings"
)

// MaxNameLength bounds experiment names, which become directory names.
const MaxNameLength = 64

// MaxTextLength bounds free-text descriptions.
const MaxTextLength = 500

// DefaultName replaces a name with no usable characters.
const DefaultName = "experiment"

var (
	// reTag matches XML/HTML tags, including processing instructions.
	reTag = regexp.MustCompile(`<[/?!]?[a-zA-Z][a-zA-Z0-9]*(?:\s+[^>]*)?/?>|<\?[^?]*\?>`)

	reExcessiveNewlines = regexp.MustCompile(`\n{3,}`)
	reRepeatedHyphens   = regexp.MustCompile(`-{2,}`)
	reRepeatedUnders    = regexp.MustCompile(`_{2,}`)
)

// Name keeps [a-zA-Z0-9._-], maps whitespace to '_', collapses repeated
// separators and trims leading dots and separators so the result is a safe
// single path element.
func Name(input string) string {
	var b strings.Builder
	b.Grow(len(input))
	for _, r := range input {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'),
			r == '-', r == '_', r == '.':
			b.WriteRune(r)
		case r == ' ' || r == '\t':
			b.WriteByte('_')
		}
	}
	s := reRepeatedHyphens.ReplaceAllString(b.String(), "-")
	s = reRepeatedUnders.ReplaceAllString(s, "_")
	s = strings.TrimLeft(s, ".-_")

	if len(s) > MaxNameLength {
		s = s[:MaxNameLength]
	}
	s = strings.TrimRight(s, ".-_")
	if s == "" {
		return DefaultName
	}
	return s
}

// Text strips control characters other than newline and tab, removes
// markup tags, collapses runs of blank lines and truncates to MaxTextLength.
func Text(input string) string {
	if input == "" {
		return ""
	}
	s := stripControlChars(input)
	s = reTag.ReplaceAllString(s, "")
	s = reExcessiveNewlines.ReplaceAllString(s, "\n\n")
	s = strings.TrimSpace(s)
	if len(s) > MaxTextLength {
		s = s[:MaxTextLength] + "..."
	}
	return s
}

func stripControlChars(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if (r < 0x20 && r != '\n' && r != '\t') || r == 0x7f {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
