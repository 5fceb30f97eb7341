package index

import (
	"errors"
	"fmt"

	"github.com/kalambet/mailrag/internal/corpus"
)

// Entry is the metadata row stored at the same position as its vector.
type Entry struct {
	ID       string `json:"id"`
	ThreadID string `json:"threadId"`
	Subject  string `json:"subject"`
	From     string `json:"from"`
	To       string `json:"to,omitempty"`
	Date     string `json:"date"`
}

// EntryFor returns the metadata row describing e.
func EntryFor(e corpus.Email) Entry {
	return Entry{
		ID:       e.ID,
		ThreadID: e.ThreadID,
		Subject:  e.Subject,
		From:     e.From,
		To:       e.To,
		Date:     e.Date,
	}
}

// ErrUnavailable matches any UnavailableError via errors.Is.
var ErrUnavailable = errors.New("index unavailable")

// ErrNothingToIndex is returned by a build that produced no vectors. Nothing
// is written in that case.
var ErrNothingToIndex = errors.New("nothing to index")

// UnavailableError reports a missing or corrupt index generation.
type UnavailableError struct {
	Path string
	Err  error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("index unavailable: %s: %v", e.Path, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

func (e *UnavailableError) Is(target error) bool { return target == ErrUnavailable }
