package text

import (
	"html"
	"regexp"
	"strings"
)

var (
	mdImage       = regexp.MustCompile(`!\[([^\]]*)\]\([^)]*\)`)
	mdLink        = regexp.MustCompile(`\[([^\]]+)\]\([^)]*\)`)
	mdHeading     = regexp.MustCompile(`(?m)^\s{0,3}#{1,6}\s+`)
	mdQuote       = regexp.MustCompile(`(?m)^\s{0,3}>\s?`)
	mdBullet      = regexp.MustCompile(`(?m)^\s*(?:[-*+]|\d+[.)])\s+`)
	mdRule        = regexp.MustCompile(`(?m)^\s*(?:[-*_]\s*){3,}$`)
	mdFence       = regexp.MustCompile("(?m)^\\s*```.*$")
	mdCode        = regexp.MustCompile("`([^`]*)`")
	mdBoldStar    = regexp.MustCompile(`\*\*([^*]+)\*\*`)
	mdBoldUnder   = regexp.MustCompile(`__([^_]+)__`)
	mdItalStar    = regexp.MustCompile(`\*([^*\n]+)\*`)
	mdItalUnder   = regexp.MustCompile(`\b_([^_\n]+)_\b`)
	mdStrike      = regexp.MustCompile(`~~([^~]+)~~`)
	mdSpoiler     = regexp.MustCompile(`>!([^!]*)!<`)
	mdSuperscript = regexp.MustCompile(`\^\(([^)]*)\)|\^(\S+)`)
	blankLines    = regexp.MustCompile(`\n{3,}`)
)

// StripMarkdown reduces reddit-flavoured markdown to plain text and removes
// zero-width space entities.
func StripMarkdown(s string) string {
	s = strings.ReplaceAll(s, "&#x200B;", "")
	s = strings.ReplaceAll(s, "\u200b", "")
	s = mdFence.ReplaceAllString(s, "")
	s = mdSpoiler.ReplaceAllString(s, "$1")
	s = mdImage.ReplaceAllString(s, "$1")
	s = mdLink.ReplaceAllString(s, "$1")
	s = mdRule.ReplaceAllString(s, "")
	s = mdHeading.ReplaceAllString(s, "")
	s = mdQuote.ReplaceAllString(s, "")
	s = mdBullet.ReplaceAllString(s, "")
	s = mdCode.ReplaceAllString(s, "$1")
	s = mdBoldStar.ReplaceAllString(s, "$1")
	s = mdBoldUnder.ReplaceAllString(s, "$1")
	s = mdItalStar.ReplaceAllString(s, "$1")
	s = mdItalUnder.ReplaceAllString(s, "$1")
	s = mdStrike.ReplaceAllString(s, "$1")
	s = mdSuperscript.ReplaceAllString(s, "$1$2")
	s = strings.ReplaceAll(s, `\`, "")
	s = html.UnescapeString(s)
	s = blankLines.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
