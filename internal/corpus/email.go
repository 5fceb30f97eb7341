package corpus

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
)

// DefaultMaxEmails is the corpus cap used when none is configured.
const DefaultMaxEmails = 500

// isoLayout renders timestamps with a numeric offset ("+00:00", never "Z")
// so persisted dt values stay comparable as plain strings.
const isoLayout = "2006-01-02T15:04:05-07:00"

// Email is one cleaned message in the corpus. Records are immutable once stored.
type Email struct {
	ID       string `json:"id"`
	ThreadID string `json:"threadId"`
	Subject  string `json:"subject"`
	From     string `json:"from"`
	To       string `json:"to,omitempty"`
	Date     string `json:"date"`
	DT       string `json:"dt"`
	Body     string `json:"body"`
}

// Time returns the normalized timestamp used for ordering. It prefers DT,
// falls back to the raw Date header, and returns the Unix epoch in UTC when
// neither parses.
func (e Email) Time() time.Time {
	if e.DT != "" {
		if t, err := time.Parse(time.RFC3339Nano, e.DT); err == nil {
			return t
		}
	}
	if e.Date != "" {
		if t, err := ParseDate(e.Date); err == nil {
			return t
		}
	}
	return time.Unix(0, 0).UTC()
}

// ParseDate parses an RFC 5322 Date header value.
func ParseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	var h mail.Header
	h.Set("Date", raw)
	t, err := h.Date()
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing date %q: %w", raw, err)
	}
	return t, nil
}

// FormatTime renders t as an ISO-8601 timestamp with a numeric UTC offset.
func FormatTime(t time.Time) string {
	if t.Nanosecond() != 0 {
		return t.Format("2006-01-02T15:04:05.000000-07:00")
	}
	return t.Format(isoLayout)
}

// Normalize returns records sorted newest first and truncated to max.
// Records with equal timestamps keep their relative input order.
// A max of zero or less disables truncation.
func Normalize(records []Email, max int) []Email {
	out := make([]Email, len(records))
	copy(out, records)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Time().After(out[j].Time())
	})
	if max > 0 && len(out) > max {
		out = out[:max]
	}
	return out
}
