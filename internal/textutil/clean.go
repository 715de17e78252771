// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package textutil cleans extracted document text, splits it into
// overlapping chunks, and derives entry titles.
package textutil

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

var (
	spaceRun    = regexp.MustCompile(`[ \t\v\x{00a0}]+`)
	newlineRun  = regexp.MustCompile(`\n{3,}`)
	paragraphRe = regexp.MustCompile(`\n\n+`)
	pageNumber  = regexp.MustCompile(`^(page\s+)?\d+$`)
)

// Clean normalizes extracted text: NFKC folding (ligatures such as "ﬁ"
// become "fi"), LF line endings, single spaces, per-line trimming and at
// most one blank line between paragraphs.
func Clean(text string) string {
	text = norm.NFKC.String(text)
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.ReplaceAll(text, "\f", "\n\n")
	text = spaceRun.ReplaceAllString(text, " ")

	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	text = strings.Join(lines, "\n")

	text = newlineRun.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// ExtractTitle returns the first meaningful line of text: at least ten
// characters long and not a bare page number. Lines longer than maxLen are
// cut to maxLen-3 characters plus "...". It returns "Untitled Entry" when
// no line qualifies.
func ExtractTitle(text string, maxLen int) string {
	if maxLen <= 3 {
		maxLen = 100
	}
	for _, line := range strings.Split(strings.TrimSpace(text), "\n") {
		line = strings.TrimSpace(line)
		if utf8.RuneCountInString(line) < 10 {
			continue
		}
		if pageNumber.MatchString(strings.ToLower(line)) {
			continue
		}
		if utf8.RuneCountInString(line) > maxLen {
			return string([]rune(line)[:maxLen-3]) + "..."
		}
		return line
	}
	return "Untitled Entry"
}
