// Package gmail reads raw messages from a Gmail mailbox through the Gmail API.
package gmail

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kalambet/mailrag/internal/ingest"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

const me = "me"

// Source lists and fetches messages of the authorized user.
type Source struct {
	svc    *gmailapi.Service
	logger *slog.Logger
}

// NewSource wraps an existing Gmail service.
func NewSource(svc *gmailapi.Service) *Source {
	return &Source{svc: svc, logger: slog.Default()}
}

// Open builds a Source from an OAuth client credentials file and a stored
// token. Refreshed tokens are written back to tokenFile.
func Open(ctx context.Context, credentialsFile, tokenFile string, opts ...option.ClientOption) (*Source, error) {
	client, err := HTTPClient(ctx, credentialsFile, tokenFile)
	if err != nil {
		return nil, err
	}
	opts = append([]option.ClientOption{option.WithHTTPClient(client)}, opts...)
	svc, err := gmailapi.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating gmail service: %w", err)
	}
	return NewSource(svc), nil
}

// WithLogger sets the logger.
func (s *Source) WithLogger(l *slog.Logger) *Source {
	if l != nil {
		s.logger = l
	}
	return s
}

// ListRecentIDs returns up to limit message ids, most recent first.
func (s *Source) ListRecentIDs(ctx context.Context, limit int) ([]string, error) {
	call := s.svc.Users.Messages.List(me).Context(ctx)
	if limit > 0 {
		call = call.MaxResults(int64(limit))
	}
	resp, err := call.Do()
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	ids := make([]string, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		if m == nil || m.Id == "" {
			continue
		}
		ids = append(ids, m.Id)
	}
	s.logger.Debug("listed gmail messages", "count", len(ids), "estimate", resp.ResultSizeEstimate)
	return ids, nil
}

// GetMessage fetches one message with its full MIME tree.
func (s *Source) GetMessage(ctx context.Context, id string) (*ingest.Message, error) {
	m, err := s.svc.Users.Messages.Get(me, id).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("getting message %s: %w", id, err)
	}
	msg := &ingest.Message{ID: m.Id, ThreadID: m.ThreadId}
	if msg.ID == "" {
		msg.ID = id
	}
	if m.Payload != nil {
		msg.Payload = convertPart(m.Payload)
	}
	return msg, nil
}

func convertPart(p *gmailapi.MessagePart) ingest.Part {
	out := ingest.Part{MimeType: p.MimeType}
	for _, h := range p.Headers {
		if h == nil {
			continue
		}
		out.Headers = append(out.Headers, ingest.Header{Name: h.Name, Value: h.Value})
	}
	if p.Body != nil {
		out.Data = p.Body.Data
	}
	for _, child := range p.Parts {
		if child == nil {
			continue
		}
		out.Parts = append(out.Parts, convertPart(child))
	}
	return out
}
