package index

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/kalambet/mailrag/internal/corpus"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultMaxEmbedChars bounds the text sent to the embedder per record.
	DefaultMaxEmbedChars = 16000
	// DefaultConcurrency bounds in-flight embedding calls.
	DefaultConcurrency = 4
)

// Embedder generates an embedding for a single text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Writer persists a built index together with its metadata.
type Writer interface {
	Save(idx *Flat, entries []Entry) (string, error)
}

// BuildResult summarizes one build.
type BuildResult struct {
	Generation string `json:"generation"`
	Indexed    int    `json:"indexed"`
	Skipped    int    `json:"skipped"`
	Failed     int    `json:"failed"`
	Dim        int    `json:"dim"`
}

// Builder rebuilds the vector index from the full corpus.
type Builder struct {
	embedder    Embedder
	writer      Writer
	maxChars    int
	concurrency int
	logger      *slog.Logger
}

// NewBuilder creates a Builder. Non-positive maxChars and concurrency fall
// back to DefaultMaxEmbedChars and DefaultConcurrency.
func NewBuilder(embedder Embedder, writer Writer, maxChars, concurrency int) *Builder {
	if maxChars <= 0 {
		maxChars = DefaultMaxEmbedChars
	}
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Builder{
		embedder:    embedder,
		writer:      writer,
		maxChars:    maxChars,
		concurrency: concurrency,
		logger:      slog.Default(),
	}
}

// WithLogger sets the logger used for skip warnings and run summaries.
func (b *Builder) WithLogger(l *slog.Logger) *Builder {
	if l != nil {
		b.logger = l
	}
	return b
}

// Build embeds every record with a textual body, in corpus order, and writes
// a new generation. A record whose embedding fails is logged and left out;
// the run continues. If no vectors are produced nothing is written and
// ErrNothingToIndex is returned.
func (b *Builder) Build(ctx context.Context, records []corpus.Email) (BuildResult, error) {
	var res BuildResult

	type slot struct {
		vec []float32
		err error
	}
	slots := make([]slot, len(records))
	var eligible []int
	for i, r := range records {
		if !indexable(r.Body) {
			res.Skipped++
			b.logger.Debug("skipping email without text body", "id", r.ID)
			continue
		}
		eligible = append(eligible, i)
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)
	for _, i := range eligible {
		g.Go(func() error {
			vec, err := b.embedder.Embed(gCtx, Truncate(records[i].Body, b.maxChars))
			slots[i] = slot{vec: vec, err: err}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return res, err
	}

	var (
		vecs    [][]float32
		entries []Entry
	)
	for _, i := range eligible {
		r := records[i]
		s := slots[i]
		switch {
		case s.err != nil:
			res.Failed++
			b.logger.Warn("embedding failed, skipping email", "id", r.ID, "error", s.err)
			continue
		case len(s.vec) == 0:
			res.Failed++
			b.logger.Warn("empty embedding, skipping email", "id", r.ID)
			continue
		case len(vecs) > 0 && len(s.vec) != len(vecs[0]):
			res.Failed++
			b.logger.Warn("embedding dimension mismatch, skipping email", "id", r.ID, "dim", len(s.vec), "want", len(vecs[0]))
			continue
		}
		vecs = append(vecs, s.vec)
		entries = append(entries, EntryFor(r))
	}

	if len(vecs) == 0 {
		b.logger.Info("nothing to index", "records", len(records), "skipped", res.Skipped, "failed", res.Failed)
		return res, ErrNothingToIndex
	}

	idx := NewFlat(len(vecs[0]))
	if err := idx.Add(vecs...); err != nil {
		return res, fmt.Errorf("building index: %w", err)
	}
	gen, err := b.writer.Save(idx, entries)
	if err != nil {
		return res, fmt.Errorf("saving index: %w", err)
	}

	res.Generation = gen
	res.Indexed = len(entries)
	res.Dim = idx.Dim()
	b.logger.Info("index built", "generation", gen, "indexed", res.Indexed, "skipped", res.Skipped, "failed", res.Failed, "dim", res.Dim)
	return res, nil
}

func indexable(body string) bool {
	return strings.TrimSpace(body) != "" && utf8.ValidString(body)
}

// Truncate returns the first max characters of s.
func Truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i]
		}
		n++
	}
	return s
}
