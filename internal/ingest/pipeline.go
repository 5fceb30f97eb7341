package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kalambet/mailrag/internal/corpus"
)

// DefaultMaxResults is the number of candidate ids listed per run.
const DefaultMaxResults = 500

// CorpusStore is the subset of corpus.Store the pipeline writes to.
type CorpusStore interface {
	Load() ([]corpus.Email, error)
	Save(records []corpus.Email) error
	SetWatermark(id string) error
	Max() int
}

// Result summarizes one ingestion run.
type Result struct {
	Listed    int    `json:"listed"`
	Added     int    `json:"added"`
	Evicted   int    `json:"evicted"`
	Total     int    `json:"total"`
	Watermark string `json:"watermark,omitempty"`
}

// Pipeline pulls new messages from a Source into the corpus.
type Pipeline struct {
	source     Source
	store      CorpusStore
	maxResults int
	logger     *slog.Logger
}

// NewPipeline creates a Pipeline. If maxResults is <= 0, it defaults to
// DefaultMaxResults.
func NewPipeline(source Source, store CorpusStore, maxResults int) *Pipeline {
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}
	return &Pipeline{
		source:     source,
		store:      store,
		maxResults: maxResults,
		logger:     slog.Default(),
	}
}

// WithLogger sets the logger used for parse warnings and run summaries.
func (p *Pipeline) WithLogger(l *slog.Logger) *Pipeline {
	if l != nil {
		p.logger = l
	}
	return p
}

// Run performs one ingestion pass. Every new message is fetched before
// anything is written, so a fetch failure leaves the corpus and watermark
// untouched. A run that finds nothing new writes nothing.
func (p *Pipeline) Run(ctx context.Context) (Result, error) {
	existing, err := p.store.Load()
	if err != nil {
		return Result{}, fmt.Errorf("loading corpus: %w", err)
	}
	seen := make(map[string]struct{}, len(existing))
	for _, e := range existing {
		seen[e.ID] = struct{}{}
	}

	ids, err := p.source.ListRecentIDs(ctx, p.maxResults)
	if err != nil {
		return Result{}, &SourceFetchError{Op: "list", Err: err}
	}
	res := Result{Listed: len(ids), Total: len(existing)}

	var added []corpus.Email
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		msg, err := p.source.GetMessage(ctx, id)
		if err != nil {
			return Result{}, &SourceFetchError{Op: "get", ID: id, Err: err}
		}
		email := BuildEmail(msg, p.logger)
		seen[id] = struct{}{}
		added = append(added, email)
		p.logger.Debug("fetched message", "id", email.ID, "subject", email.Subject)
	}

	if len(added) == 0 {
		p.logger.Info("no new emails", "listed", len(ids))
		return res, nil
	}

	merged := append(append([]corpus.Email{}, existing...), added...)
	kept := corpus.Normalize(merged, p.store.Max())
	if err := p.store.Save(kept); err != nil {
		return Result{}, fmt.Errorf("saving corpus: %w", err)
	}
	if err := p.store.SetWatermark(added[0].ID); err != nil {
		return Result{}, fmt.Errorf("saving watermark: %w", err)
	}

	res.Added = len(added)
	res.Evicted = len(merged) - len(kept)
	res.Total = len(kept)
	res.Watermark = added[0].ID
	p.logger.Info("ingestion complete", "listed", res.Listed, "added", res.Added, "evicted", res.Evicted, "total", res.Total)
	return res, nil
}

// BuildEmail converts a raw message into a cleaned corpus record. An
// unparseable Date header leaves DT empty and logs a warning.
func BuildEmail(msg *Message, logger *slog.Logger) corpus.Email {
	if logger == nil {
		logger = slog.Default()
	}
	h := msg.Payload
	e := corpus.Email{
		ID:       msg.ID,
		ThreadID: msg.ThreadID,
		Subject:  DecodeHeader(h.Header("Subject")),
		From:     DecodeHeader(h.Header("From")),
		To:       DecodeHeader(h.Header("To")),
		Date:     h.Header("Date"),
		Body:     CleanBody(ExtractBody(msg, logger)),
	}
	if e.Date != "" {
		t, err := corpus.ParseDate(e.Date)
		if err != nil {
			logger.Warn("unparseable date header", "id", msg.ID, "date", e.Date, "error", err)
		} else {
			e.DT = corpus.FormatTime(t)
		}
	}
	return e
}
