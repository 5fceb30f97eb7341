package intent

import (
	"context"
	"regexp"
	"strings"
)

var (
	fromRe    = regexp.MustCompile(`(?i)\bfrom:?\s+([A-Za-z0-9@.]+)`)
	toRe      = regexp.MustCompile(`(?i)\bto:?\s+([A-Za-z0-9@.]+)`)
	subjectRe = regexp.MustCompile(`(?i)\bsubject:?\s+([A-Za-z0-9@. ]+)`)
)

// RegexExtractor pulls "from <token>", "to <token>" and "subject <phrase>"
// hints out of a query with regular expressions.
type RegexExtractor struct{}

// NewRegexExtractor returns the default clue extractor.
func NewRegexExtractor() RegexExtractor { return RegexExtractor{} }

func (RegexExtractor) Extract(_ context.Context, query string) Clues {
	return Clues{
		From:    firstGroup(fromRe, query),
		To:      firstGroup(toRe, query),
		Subject: strings.TrimSpace(firstGroup(subjectRe, query)),
	}
}

func firstGroup(re *regexp.Regexp, s string) string {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return ""
	}
	return m[1]
}
