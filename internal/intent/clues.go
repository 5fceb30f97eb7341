package intent

import (
	"context"
	"strings"
)

// Clues are attribute hints derived from a query. Empty fields are absent.
type Clues struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
}

// Empty reports whether no clue is present.
func (c Clues) Empty() bool {
	return c.From == "" && c.To == "" && c.Subject == ""
}

// Match reports whether every present clue is a case-insensitive substring
// of the corresponding field.
func (c Clues) Match(from, to, subject string) bool {
	return contains(from, c.From) && contains(to, c.To) && contains(subject, c.Subject)
}

func contains(field, clue string) bool {
	if clue == "" {
		return true
	}
	return strings.Contains(strings.ToLower(field), strings.ToLower(clue))
}

// Extractor derives Clues from a free-text query. Implementations never fail:
// an unusable query yields empty Clues.
type Extractor interface {
	Extract(ctx context.Context, query string) Clues
}
