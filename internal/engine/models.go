package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
)

// ErrNotRunning is returned by EnsureModels when the backend is unreachable.
var ErrNotRunning = errors.New("inference backend is not running")

// PullProgress reports model download progress.
type PullProgress struct {
	Status    string
	Total     int64
	Completed int64
}

// ModelManager is implemented by backends that host their own models.
type ModelManager interface {
	IsRunning(ctx context.Context) bool
	HasModel(ctx context.Context, name string) bool
	PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error
}

// EnsureModels checks that m is reachable and pulls any of models it does
// not have yet, writing progress to w. Empty and repeated names are ignored.
func EnsureModels(ctx context.Context, m ModelManager, models []string, w io.Writer) error {
	if !m.IsRunning(ctx) {
		return ErrNotRunning
	}

	var seen []string
	for _, model := range models {
		if model == "" || slices.Contains(seen, model) {
			continue
		}
		seen = append(seen, model)

		if m.HasModel(ctx, model) {
			fmt.Fprintf(w, "model %s: ready\n", model)
			continue
		}

		fmt.Fprintf(w, "model %s: pulling...\n", model)
		last := -10
		err := m.PullModel(ctx, model, func(p PullProgress) {
			if p.Total <= 0 {
				fmt.Fprintf(w, "  %s\n", p.Status)
				return
			}
			// Throttle to whole-ten percent steps.
			pct := int(p.Completed * 100 / p.Total)
			if pct/10 != last/10 {
				last = pct
				fmt.Fprintf(w, "  %s %d%%\n", p.Status, pct)
			}
		})
		if err != nil {
			return fmt.Errorf("pulling model %s: %w", model, err)
		}
		fmt.Fprintf(w, "model %s: ready\n", model)
	}
	return nil
}
