package refresh

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kalambet/mailrag/internal/corpus"
	"github.com/kalambet/mailrag/internal/index"
	"github.com/kalambet/mailrag/internal/ingest"
	"github.com/kalambet/mailrag/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockIngester struct {
	calls atomic.Int32
	runFn func(ctx context.Context) (ingest.Result, error)
}

func (m *mockIngester) Run(ctx context.Context) (ingest.Result, error) {
	m.calls.Add(1)
	return m.runFn(ctx)
}

type mockBuilder struct {
	calls   atomic.Int32
	buildFn func(ctx context.Context, records []corpus.Email) (index.BuildResult, error)
}

func (m *mockBuilder) Build(ctx context.Context, records []corpus.Email) (index.BuildResult, error) {
	m.calls.Add(1)
	return m.buildFn(ctx, records)
}

type staticCorpus []corpus.Email

func (s staticCorpus) Load() ([]corpus.Email, error) { return s, nil }

type mockIndexStatus struct{ err error }

func (m mockIndexStatus) Current() (string, error) { return "gen-1", m.err }

type memRuns struct {
	mu   sync.Mutex
	runs []storage.RefreshRun
}

func (m *memRuns) SaveRefreshRun(_ context.Context, r storage.RefreshRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, r)
	return nil
}

func okBuilder() *mockBuilder {
	return &mockBuilder{buildFn: func(_ context.Context, records []corpus.Email) (index.BuildResult, error) {
		return index.BuildResult{Generation: "gen-2", Indexed: len(records)}, nil
	}}
}

func TestRefresh_RebuildsWhenEmailsAdded(t *testing.T) {
	ing := &mockIngester{runFn: func(context.Context) (ingest.Result, error) {
		return ingest.Result{Listed: 3, Added: 2, Total: 2}, nil
	}}
	b := okBuilder()
	runs := &memRuns{}
	c := New(ing, b, staticCorpus{{ID: "a"}, {ID: "b"}}, mockIndexStatus{}, runs, 0)

	res, err := c.Refresh(context.Background())
	require.NoError(t, err)
	require.NotNil(t, res.Index)
	assert.Equal(t, 2, res.Index.Indexed)
	assert.Equal(t, int32(1), b.calls.Load())

	require.Len(t, runs.runs, 1)
	assert.Equal(t, "gen-2", runs.runs[0].Generation)
	assert.Equal(t, 2, runs.runs[0].Added)
	assert.Empty(t, runs.runs[0].Error)
}

func TestRefresh_SkipsRebuildWhenNothingNew(t *testing.T) {
	ing := &mockIngester{runFn: func(context.Context) (ingest.Result, error) {
		return ingest.Result{Listed: 3}, nil
	}}
	b := okBuilder()
	res, err := New(ing, b, staticCorpus{}, mockIndexStatus{}, nil, 0).Refresh(context.Background())
	require.NoError(t, err)
	assert.Nil(t, res.Index)
	assert.Equal(t, int32(0), b.calls.Load())
}

func TestRefresh_BuildsMissingIndex(t *testing.T) {
	ing := &mockIngester{runFn: func(context.Context) (ingest.Result, error) { return ingest.Result{}, nil }}
	b := okBuilder()
	missing := mockIndexStatus{err: &index.UnavailableError{Path: "CURRENT", Err: errors.New("missing")}}
	_, err := New(ing, b, staticCorpus{{ID: "a"}}, missing, nil, 0).Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), b.calls.Load())
}

func TestRefresh_NothingToIndexIsNotAnError(t *testing.T) {
	ing := &mockIngester{runFn: func(context.Context) (ingest.Result, error) { return ingest.Result{Added: 1}, nil }}
	b := &mockBuilder{buildFn: func(context.Context, []corpus.Email) (index.BuildResult, error) {
		return index.BuildResult{Skipped: 1}, index.ErrNothingToIndex
	}}
	res, err := New(ing, b, staticCorpus{{ID: "a"}}, mockIndexStatus{}, nil, 0).Refresh(context.Background())
	require.NoError(t, err)
	assert.Nil(t, res.Index)
}

func TestRefresh_IngestFailureRecorded(t *testing.T) {
	boom := &ingest.SourceFetchError{Op: "list", Err: errors.New("unauthorized")}
	ing := &mockIngester{runFn: func(context.Context) (ingest.Result, error) { return ingest.Result{}, boom }}
	b := okBuilder()
	runs := &memRuns{}
	_, err := New(ing, b, staticCorpus{}, mockIndexStatus{}, runs, 0).Refresh(context.Background())

	var fe *ingest.SourceFetchError
	assert.ErrorAs(t, err, &fe)
	assert.Equal(t, int32(0), b.calls.Load())
	require.Len(t, runs.runs, 1)
	assert.Contains(t, runs.runs[0].Error, "unauthorized")
}

func TestRefresh_ConcurrentCallsShareOneRun(t *testing.T) {
	release := make(chan struct{})
	ing := &mockIngester{runFn: func(context.Context) (ingest.Result, error) {
		<-release
		return ingest.Result{Added: 1}, nil
	}}
	b := okBuilder()
	c := New(ing, b, staticCorpus{{ID: "a"}}, mockIndexStatus{}, nil, 0)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Refresh(context.Background()); err != nil {
				t.Errorf("Refresh: %v", err)
			}
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), ing.calls.Load())
}

func TestRefresh_RetriesBuildAfterFailure(t *testing.T) {
	var added atomic.Int32
	added.Store(2)
	ing := &mockIngester{runFn: func(context.Context) (ingest.Result, error) {
		return ingest.Result{Added: int(added.Swap(0))}, nil
	}}
	var fail atomic.Bool
	fail.Store(true)
	b := &mockBuilder{buildFn: func(_ context.Context, records []corpus.Email) (index.BuildResult, error) {
		if fail.Load() {
			return index.BuildResult{}, errors.New("embedding service down")
		}
		return index.BuildResult{Generation: "gen-2", Indexed: len(records)}, nil
	}}
	c := New(ing, b, staticCorpus{{ID: "a"}, {ID: "b"}}, mockIndexStatus{}, nil, 0)

	_, err := c.Refresh(context.Background())
	require.ErrorContains(t, err, "embedding service down")

	fail.Store(false)
	res, err := c.Refresh(context.Background())
	require.NoError(t, err)
	require.NotNil(t, res.Index, "records from the failed run must still be indexed")
	assert.Equal(t, 2, res.Index.Indexed)
	assert.Equal(t, int32(2), b.calls.Load())

	res, err = c.Refresh(context.Background())
	require.NoError(t, err)
	assert.Nil(t, res.Index)
	assert.Equal(t, int32(2), b.calls.Load())
}

func TestRefresh_RetriesAfterNothingToIndex(t *testing.T) {
	var added atomic.Int32
	added.Store(1)
	ing := &mockIngester{runFn: func(context.Context) (ingest.Result, error) {
		return ingest.Result{Added: int(added.Swap(0))}, nil
	}}
	var empty atomic.Bool
	empty.Store(true)
	b := &mockBuilder{buildFn: func(_ context.Context, records []corpus.Email) (index.BuildResult, error) {
		if empty.Load() {
			return index.BuildResult{Skipped: len(records)}, index.ErrNothingToIndex
		}
		return index.BuildResult{Indexed: len(records)}, nil
	}}
	c := New(ing, b, staticCorpus{{ID: "a"}}, mockIndexStatus{}, nil, 0)

	res, err := c.Refresh(context.Background())
	require.NoError(t, err)
	assert.Nil(t, res.Index)

	empty.Store(false)
	res, err = c.Refresh(context.Background())
	require.NoError(t, err)
	require.NotNil(t, res.Index)
	assert.Equal(t, int32(2), b.calls.Load())
}

func TestIngest_MarksIndexStale(t *testing.T) {
	var added atomic.Int32
	added.Store(3)
	ing := &mockIngester{runFn: func(context.Context) (ingest.Result, error) {
		return ingest.Result{Added: int(added.Swap(0))}, nil
	}}
	b := okBuilder()
	c := New(ing, b, staticCorpus{{ID: "a"}}, mockIndexStatus{}, nil, 0)

	_, err := c.Ingest(context.Background())
	require.NoError(t, err)

	res, err := c.Refresh(context.Background())
	require.NoError(t, err)
	require.NotNil(t, res.Index)
	assert.Equal(t, int32(1), b.calls.Load())
}

func TestRefresh_CallerCancelDoesNotAbortSharedRun(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var runErr atomic.Value
	ing := &mockIngester{runFn: func(ctx context.Context) (ingest.Result, error) {
		close(started)
		<-release
		if err := ctx.Err(); err != nil {
			runErr.Store(err)
		}
		return ingest.Result{Added: 1}, nil
	}}
	b := okBuilder()
	c := New(ing, b, staticCorpus{{ID: "a"}}, mockIndexStatus{}, nil, 0)

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := c.Refresh(ctx)
		firstErr <- err
	}()
	<-started

	type outcome struct {
		res Result
		err error
	}
	second := make(chan outcome, 1)
	go func() {
		res, err := c.Refresh(context.Background())
		second <- outcome{res, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	select {
	case err := <-firstErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled caller did not return")
	}

	close(release)
	select {
	case o := <-second:
		require.NoError(t, o.err)
		require.NotNil(t, o.res.Index)
	case <-time.After(time.Second):
		t.Fatal("second caller did not return")
	}
	assert.Nil(t, runErr.Load(), "shared run saw a cancelled context")
	assert.Equal(t, int32(1), ing.calls.Load())
	assert.Equal(t, int32(1), b.calls.Load())
}

func TestWithLogger_NilKeepsDefault(t *testing.T) {
	ing := &mockIngester{runFn: func(context.Context) (ingest.Result, error) { return ingest.Result{}, nil }}
	c := New(ing, okBuilder(), staticCorpus{}, mockIndexStatus{}, nil, 0).WithLogger(nil)
	require.NotNil(t, c.logger)
	assert.NotPanics(t, func() {
		_, _ = c.Refresh(context.Background())
	})
}

func TestReindex_LoadsCorpus(t *testing.T) {
	var got int
	b := &mockBuilder{buildFn: func(_ context.Context, records []corpus.Email) (index.BuildResult, error) {
		got = len(records)
		return index.BuildResult{Indexed: len(records)}, nil
	}}
	c := New(&mockIngester{}, b, staticCorpus{{ID: "a"}, {ID: "b"}, {ID: "c"}}, mockIndexStatus{}, nil, 0)
	res, err := c.Reindex(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, got)
	assert.Equal(t, 3, res.Indexed)
}

func TestRun_StopsOnCancel(t *testing.T) {
	ing := &mockIngester{runFn: func(context.Context) (ingest.Result, error) { return ingest.Result{}, nil }}
	c := New(ing, okBuilder(), staticCorpus{}, mockIndexStatus{}, nil, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()
	time.Sleep(35 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
	assert.GreaterOrEqual(t, ing.calls.Load(), int32(2))
}

func TestRun_DisabledInterval(t *testing.T) {
	ing := &mockIngester{runFn: func(context.Context) (ingest.Result, error) { return ingest.Result{}, nil }}
	New(ing, okBuilder(), staticCorpus{}, mockIndexStatus{}, nil, 0).Run(context.Background())
	assert.Equal(t, int32(0), ing.calls.Load())
}
