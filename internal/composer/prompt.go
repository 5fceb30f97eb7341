package composer

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/kalambet/mailrag/internal/retrieval"
)

const (
	// DefaultMaxBodyChars caps each email body in the context.
	DefaultMaxBodyChars = 500
	// DefaultMaxContextChars caps the whole context block.
	DefaultMaxContextChars = 12000

	// TruncationMarker is appended when the context exceeds its cap.
	TruncationMarker = "\n[context truncated]\n"
)

// Composer renders retrieved emails into the bounded context block and the
// final prompt for the answer generator. Character counts are in runes.
type Composer struct {
	MaxBodyChars    int
	MaxContextChars int
}

// New creates a Composer. Non-positive caps use the defaults.
func New(maxBodyChars, maxContextChars int) *Composer {
	if maxBodyChars <= 0 {
		maxBodyChars = DefaultMaxBodyChars
	}
	if maxContextChars <= 0 {
		maxContextChars = DefaultMaxContextChars
	}
	return &Composer{MaxBodyChars: maxBodyChars, MaxContextChars: maxContextChars}
}

// BuildContext renders results in rank order, one block per email, and
// hard-truncates the concatenation to MaxContextChars followed by
// TruncationMarker when it is longer.
func (c *Composer) BuildContext(results []retrieval.Result) string {
	blocks := make([]string, len(results))
	for i, r := range results {
		blocks[i] = formatEmail(i+1, r, c.MaxBodyChars)
	}
	return Truncate(strings.Join(blocks, "\n"), c.MaxContextChars)
}

func formatEmail(n int, r retrieval.Result, maxBody int) string {
	return fmt.Sprintf("Email %d:\nSubject: %s\nFrom: %s\nTo: %s\nDate: %s\nBody: %s\n",
		n, r.Subject, r.From, r.To, r.Date, prefix(r.Body, maxBody))
}

// Truncate returns context unchanged when it fits in max characters, else its
// first max characters followed by TruncationMarker.
func Truncate(context string, max int) string {
	if utf8.RuneCountInString(context) <= max {
		return context
	}
	return prefix(context, max) + TruncationMarker
}

func prefix(s string, max int) string {
	n := 0
	for i := range s {
		if n == max {
			return s[:i]
		}
		n++
	}
	return s
}

const promptTemplate = `
You are an AI email assistant. Here are some emails:

%s

Based on the above emails, answer the following question concisely and accurately.

If the question is about who sent or received an email, pay special attention to the 'From', 'To', and 'Subject' fields.

Also check the email body for while answering the question.

Question: %s
Answer:
`

// BuildPrompt wraps an assembled context and the user's question into the
// answer generator prompt.
func BuildPrompt(context, question string) string {
	return fmt.Sprintf(promptTemplate, context, question)
}
