package ingest

import (
	"regexp"
	"strings"
)

var (
	signatureRe       = regexp.MustCompile(`(?ms)^--\s*\n.*`)
	sentFromRe        = regexp.MustCompile(`(?m)^Sent from my.*`)
	confidentialityRe = regexp.MustCompile(`(?is)This email is confidential.*`)
	blankRunRe        = regexp.MustCompile(`\n\s*\n`)
)

// CleanBody strips signature blocks, "Sent from my ..." lines and
// confidentiality notices, collapses blank-line runs and trims the result.
func CleanBody(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = signatureRe.ReplaceAllString(text, "")
	text = sentFromRe.ReplaceAllString(text, "")
	text = confidentialityRe.ReplaceAllString(text, "")
	text = blankRunRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
