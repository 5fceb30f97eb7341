package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kalambet/mailrag/internal/corpus"
	"github.com/kalambet/mailrag/internal/index"
	"github.com/kalambet/mailrag/internal/ingest"
	"github.com/kalambet/mailrag/internal/storage"
	"golang.org/x/sync/singleflight"
)

// Ingester pulls new messages into the corpus.
type Ingester interface {
	Run(ctx context.Context) (ingest.Result, error)
}

// Builder rebuilds the index from corpus records.
type Builder interface {
	Build(ctx context.Context, records []corpus.Email) (index.BuildResult, error)
}

// CorpusLoader reads the full corpus.
type CorpusLoader interface {
	Load() ([]corpus.Email, error)
}

// IndexStatus reports the live index generation.
type IndexStatus interface {
	Current() (string, error)
}

// RunRecorder persists a summary of each refresh.
type RunRecorder interface {
	SaveRefreshRun(ctx context.Context, r storage.RefreshRun) error
}

// Result summarizes one refresh.
type Result struct {
	Ingest  ingest.Result      `json:"ingest"`
	Index   *index.BuildResult `json:"index,omitempty"`
	Started time.Time          `json:"started"`
}

// Coordinator serializes ingestion and index rebuilds so they never overlap
// against the same corpus and index files. Concurrent Refresh calls share a
// single in-flight run.
type Coordinator struct {
	ingester Ingester
	builder  Builder
	corpus   CorpusLoader
	index    IndexStatus
	runs     RunRecorder
	interval time.Duration
	logger   *slog.Logger

	mu    sync.Mutex
	group singleflight.Group
	// stale is set when ingestion added records that no successful build
	// has covered yet. Guarded by mu.
	stale bool
}

// New creates a Coordinator. runs may be nil. An interval <= 0 makes Run
// return immediately.
func New(ing Ingester, b Builder, c CorpusLoader, idx IndexStatus, runs RunRecorder, interval time.Duration) *Coordinator {
	return &Coordinator{
		ingester: ing,
		builder:  b,
		corpus:   c,
		index:    idx,
		runs:     runs,
		interval: interval,
		logger:   slog.Default(),
	}
}

// WithLogger sets the logger.
func (c *Coordinator) WithLogger(l *slog.Logger) *Coordinator {
	if l != nil {
		c.logger = l
	}
	return c
}

// Refresh ingests new messages and rebuilds the index when the corpus changed
// since the last successful build or no index exists yet.
//
// The shared run is detached from ctx so one caller giving up does not cancel
// it for the others; the caller stops waiting when ctx is done.
func (c *Coordinator) Refresh(ctx context.Context) (Result, error) {
	ch := c.group.DoChan("refresh", func() (any, error) {
		return c.refresh(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case r := <-ch:
		if r.Shared {
			c.logger.Debug("joined in-flight refresh")
		}
		res, _ := r.Val.(Result)
		return res, r.Err
	}
}

func (c *Coordinator) refresh(ctx context.Context) (Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	res := Result{Started: time.Now().UTC()}
	run := storage.RefreshRun{ID: uuid.NewString(), StartedAt: res.Started}
	defer func() { c.record(ctx, run) }()

	ir, err := c.ingester.Run(ctx)
	res.Ingest = ir
	run.Listed, run.Added = ir.Listed, ir.Added
	if err != nil {
		run.Error = err.Error()
		return res, fmt.Errorf("ingesting: %w", err)
	}

	if ir.Added > 0 {
		c.stale = true
	}
	if !c.stale && c.hasIndex() {
		return res, nil
	}

	br, err := c.reindex(ctx)
	if errors.Is(err, index.ErrNothingToIndex) {
		c.logger.Warn("no records could be indexed, will retry on next refresh")
		return res, nil
	}
	if err != nil {
		run.Error = err.Error()
		return res, err
	}
	res.Index = &br
	run.Indexed, run.Generation = br.Indexed, br.Generation
	return res, nil
}

// Ingest runs only the ingestion step.
func (c *Coordinator) Ingest(ctx context.Context) (ingest.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	res, err := c.ingester.Run(ctx)
	if res.Added > 0 {
		c.stale = true
	}
	return res, err
}

// Reindex rebuilds the index from the current corpus.
func (c *Coordinator) Reindex(ctx context.Context) (index.BuildResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reindex(ctx)
}

// reindex rebuilds from the stored corpus and clears stale on success.
func (c *Coordinator) reindex(ctx context.Context) (index.BuildResult, error) {
	records, err := c.corpus.Load()
	if err != nil {
		return index.BuildResult{}, fmt.Errorf("loading corpus: %w", err)
	}
	br, err := c.builder.Build(ctx, records)
	if err != nil {
		return br, err
	}
	c.stale = false
	return br, nil
}

func (c *Coordinator) hasIndex() bool {
	_, err := c.index.Current()
	return err == nil
}

func (c *Coordinator) record(ctx context.Context, run storage.RefreshRun) {
	if c.runs == nil {
		return
	}
	run.FinishedAt = time.Now().UTC()
	if err := c.runs.SaveRefreshRun(context.WithoutCancel(ctx), run); err != nil {
		c.logger.Warn("failed to record refresh run", "id", run.ID, "error", err)
	}
}

// Run refreshes immediately and then on every interval until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) {
	if c.interval <= 0 {
		return
	}
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		if _, err := c.Refresh(ctx); err != nil && ctx.Err() == nil {
			c.logger.Error("scheduled refresh failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
