package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/kalambet/mailrag/internal/corpus"
	"github.com/kalambet/mailrag/internal/index"
	"github.com/kalambet/mailrag/internal/intent"
)

const (
	// DefaultTopK is used when a caller asks for zero results.
	DefaultTopK = 3

	oversample = 3
	snippetLen = 200
)

// QueryEmbedder embeds a query with the same model used for indexing.
type QueryEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// IndexReader returns the live index generation.
type IndexReader interface {
	Load() (*index.Snapshot, error)
}

// CorpusReader returns the stored corpus keyed by id.
type CorpusReader interface {
	ByID() (map[string]corpus.Email, error)
}

// Result is one retrieved email.
type Result struct {
	ID       string  `json:"id"`
	ThreadID string  `json:"threadId"`
	Subject  string  `json:"subject"`
	From     string  `json:"from"`
	To       string  `json:"to"`
	Date     string  `json:"date"`
	Body     string  `json:"body"`
	Snippet  string  `json:"snippet"`
	Distance float32 `json:"distance"`
}

// EmbeddingError reports that the query could not be embedded.
type EmbeddingError struct {
	Err error
}

func (e *EmbeddingError) Error() string { return fmt.Sprintf("embedding query: %v", e.Err) }

func (e *EmbeddingError) Unwrap() error { return e.Err }

// Retriever combines vector search over the index with clue filtering
// extracted from the query.
type Retriever struct {
	embedder QueryEmbedder
	index    IndexReader
	corpus   CorpusReader
	intent   intent.Extractor
	logger   *slog.Logger
}

// NewRetriever creates a Retriever. A nil extractor uses the regex extractor.
func NewRetriever(embedder QueryEmbedder, idx IndexReader, c CorpusReader, extractor intent.Extractor) *Retriever {
	if extractor == nil {
		extractor = intent.NewRegexExtractor()
	}
	return &Retriever{
		embedder: embedder,
		index:    idx,
		corpus:   c,
		intent:   extractor,
		logger:   slog.Default(),
	}
}

// WithLogger sets the logger used for retrieval diagnostics.
func (r *Retriever) WithLogger(l *slog.Logger) *Retriever {
	if l != nil {
		r.logger = l
	}
	return r
}

// Retrieve returns up to topK emails for query. Candidates are the 3*topK
// nearest vectors; those matching every clue in the query are kept in rank
// order. When no candidate matches, the first topK candidates are returned
// unfiltered. A missing or corrupt index is an error wrapping
// index.ErrUnavailable; a failed query embedding is an *EmbeddingError.
func (r *Retriever) Retrieve(ctx context.Context, query string, topK int) ([]Result, error) {
	if topK <= 0 {
		topK = DefaultTopK
	}

	snap, err := r.index.Load()
	if err != nil {
		return nil, err
	}
	if snap.Len() == 0 {
		return nil, &index.UnavailableError{Path: snap.Generation, Err: fmt.Errorf("index is empty")}
	}

	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, &EmbeddingError{Err: err}
	}
	if len(vec) != snap.Index.Dim() {
		return nil, &EmbeddingError{Err: fmt.Errorf("query has dimension %d but index %s has %d; was it built with another model?", len(vec), snap.Generation, snap.Index.Dim())}
	}

	neighbors, err := snap.Index.Search(vec, topK*oversample)
	if err != nil {
		return nil, fmt.Errorf("searching index: %w", err)
	}

	clues := r.intent.Extract(ctx, query)
	picked := filterByClues(snap.Entries, neighbors, clues, topK)
	if len(picked) == 0 {
		if !clues.Empty() {
			r.logger.Debug("no candidate matched query clues, returning unfiltered results", "clues", clues)
		}
		picked = neighbors
		if len(picked) > topK {
			picked = picked[:topK]
		}
	}

	emails, err := r.corpus.ByID()
	if err != nil {
		return nil, fmt.Errorf("loading corpus: %w", err)
	}

	results := make([]Result, 0, len(picked))
	for _, n := range picked {
		entry := snap.Entries[n.Position]
		body := emails[entry.ID].Body
		results = append(results, Result{
			ID:       entry.ID,
			ThreadID: entry.ThreadID,
			Subject:  entry.Subject,
			From:     entry.From,
			To:       entry.To,
			Date:     entry.Date,
			Body:     body,
			Snippet:  Snippet(body),
			Distance: n.Distance,
		})
	}
	r.logger.Debug("retrieved emails", "query_len", len(query), "candidates", len(neighbors), "returned", len(results))
	return results, nil
}

func filterByClues(entries []index.Entry, neighbors []index.Neighbor, clues intent.Clues, topK int) []index.Neighbor {
	var out []index.Neighbor
	for _, n := range neighbors {
		if n.Position < 0 || n.Position >= len(entries) {
			continue
		}
		e := entries[n.Position]
		if clues.Match(e.From, e.To, e.Subject) {
			out = append(out, n)
		}
		if len(out) >= topK {
			break
		}
	}
	return out
}

// Snippet returns the first characters of body with whitespace collapsed.
func Snippet(body string) string {
	s := strings.Join(strings.Fields(body), " ")
	if utf8.RuneCountInString(s) <= snippetLen {
		return s
	}
	return string([]rune(s)[:snippetLen]) + "…"
}
