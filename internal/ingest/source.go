package ingest

import (
	"context"
	"fmt"
	"strings"
)

// Source yields raw messages from a mail provider.
type Source interface {
	// ListRecentIDs returns up to limit message ids, most recent first as
	// far as the provider orders them.
	ListRecentIDs(ctx context.Context, limit int) ([]string, error)

	// GetMessage returns the full payload for a single message.
	GetMessage(ctx context.Context, id string) (*Message, error)
}

// Message is a provider-neutral raw message: identity plus a MIME tree whose
// top-level part carries the message headers.
type Message struct {
	ID       string
	ThreadID string
	Payload  Part
}

// Part is one node of a MIME tree. Data holds the part body in base64url
// transport encoding, padded or not.
type Part struct {
	MimeType string
	Headers  []Header
	Data     string
	Parts    []Part
}

// Header is a single name/value header line.
type Header struct {
	Name  string
	Value string
}

// Header returns the value of the first header matching name
// case-insensitively, or "".
func (p Part) Header(name string) string {
	for _, h := range p.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// SourceFetchError reports a failed listing or message fetch. A run that
// returns it has not written anything.
type SourceFetchError struct {
	Op  string
	ID  string
	Err error
}

func (e *SourceFetchError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("source %s %s: %v", e.Op, e.ID, e.Err)
	}
	return fmt.Sprintf("source %s: %v", e.Op, e.Err)
}

func (e *SourceFetchError) Unwrap() error { return e.Err }
