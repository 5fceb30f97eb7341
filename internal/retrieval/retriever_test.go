package retrieval

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/kalambet/mailrag/internal/corpus"
	"github.com/kalambet/mailrag/internal/index"
	"github.com/kalambet/mailrag/internal/intent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockQueryEmbedder returns a fixed vector for every query.
type mockQueryEmbedder struct {
	vec []float32
	err error
}

func (m *mockQueryEmbedder) Embed(context.Context, string) ([]float32, error) {
	return m.vec, m.err
}

type mockIndex struct {
	snap *index.Snapshot
	err  error
}

func (m *mockIndex) Load() (*index.Snapshot, error) { return m.snap, m.err }

type mockCorpus map[string]corpus.Email

func (m mockCorpus) ByID() (map[string]corpus.Email, error) { return m, nil }

// snapshot builds a one-dimensional index where entry i sits at distance i
// from the query vector {0}.
func snapshot(t *testing.T, entries ...index.Entry) *index.Snapshot {
	t.Helper()
	f := index.NewFlat(1)
	for i := range entries {
		require.NoError(t, f.Add([]float32{float32(i)}))
	}
	return &index.Snapshot{Generation: "gen-test", Index: f, Entries: entries}
}

func newTestRetriever(snap *index.Snapshot, c mockCorpus) *Retriever {
	return NewRetriever(&mockQueryEmbedder{vec: []float32{0}}, &mockIndex{snap: snap}, c, nil)
}

func TestRetrieve_FiltersByClues(t *testing.T) {
	snap := snapshot(t,
		index.Entry{ID: "bob", From: "bob@co.com", Subject: "Q3 Budget"},
		index.Entry{ID: "alice", From: "alice@co.com", Subject: "Q3 Budget"},
	)
	c := mockCorpus{"alice": {ID: "alice", Body: "numbers inside"}, "bob": {ID: "bob", Body: "other numbers"}}

	got, err := newTestRetriever(snap, c).Retrieve(context.Background(), "emails from alice subject budget", 3)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "alice", got[0].ID)
	assert.Equal(t, "numbers inside", got[0].Body)
	assert.Equal(t, "numbers inside", got[0].Snippet)
	assert.Equal(t, float32(1), got[0].Distance)
}

func TestRetrieve_FallbackWhenCluesMatchNothing(t *testing.T) {
	snap := snapshot(t,
		index.Entry{ID: "a", From: "a@x"},
		index.Entry{ID: "b", From: "b@x"},
		index.Entry{ID: "c", From: "c@x"},
	)
	got, err := newTestRetriever(snap, mockCorpus{}).Retrieve(context.Background(), "from zed", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "b", got[1].ID)
}

func TestRetrieve_FallbackReturnsAllCandidatesWhenFewer(t *testing.T) {
	snap := snapshot(t, index.Entry{ID: "only", From: "x@y"})
	got, err := newTestRetriever(snap, mockCorpus{}).Retrieve(context.Background(), "from nobody", 5)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestRetrieve_OversamplesThreeTimesTopK(t *testing.T) {
	var entries []index.Entry
	for i := 0; i < 10; i++ {
		entries = append(entries, index.Entry{ID: string(rune('a' + i)), From: "noise@x"})
	}
	entries[5].From = "target@x"
	entries[7].From = "target@x"
	snap := snapshot(t, entries...)

	got, err := newTestRetriever(snap, mockCorpus{}).Retrieve(context.Background(), "from target", 2)
	require.NoError(t, err)
	require.Len(t, got, 1, "only positions within the first 6 candidates are eligible")
	assert.Equal(t, "f", got[0].ID)
}

func TestRetrieve_StopsAtTopK(t *testing.T) {
	snap := snapshot(t,
		index.Entry{ID: "a", Subject: "trip"},
		index.Entry{ID: "b", Subject: "trip"},
		index.Entry{ID: "c", Subject: "trip"},
	)
	got, err := newTestRetriever(snap, mockCorpus{}).Retrieve(context.Background(), "subject trip", 2)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestRetrieve_MissingCorpusRecordHasEmptyBody(t *testing.T) {
	snap := snapshot(t, index.Entry{ID: "evicted", Subject: "gone"})
	got, err := newTestRetriever(snap, mockCorpus{}).Retrieve(context.Background(), "anything", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "", got[0].Body)
	assert.Equal(t, "gone", got[0].Subject)
}

func TestRetrieve_IndexUnavailable(t *testing.T) {
	r := NewRetriever(&mockQueryEmbedder{vec: []float32{0}}, index.NewStore(t.TempDir()), mockCorpus{}, nil)
	_, err := r.Retrieve(context.Background(), "q", 3)
	assert.ErrorIs(t, err, index.ErrUnavailable)
}

func TestRetrieve_EmbeddingError(t *testing.T) {
	snap := snapshot(t, index.Entry{ID: "a"})
	boom := errors.New("429")
	r := NewRetriever(&mockQueryEmbedder{err: boom}, &mockIndex{snap: snap}, mockCorpus{}, nil)
	_, err := r.Retrieve(context.Background(), "q", 3)

	var ee *EmbeddingError
	require.ErrorAs(t, err, &ee)
	assert.ErrorIs(t, err, boom)
}

func TestRetrieve_DimensionMismatch(t *testing.T) {
	snap := snapshot(t, index.Entry{ID: "a"})
	r := NewRetriever(&mockQueryEmbedder{vec: []float32{0, 0}}, &mockIndex{snap: snap}, mockCorpus{}, nil)
	_, err := r.Retrieve(context.Background(), "q", 3)
	var ee *EmbeddingError
	assert.ErrorAs(t, err, &ee)
}

func TestRetrieve_UsesPluggableExtractor(t *testing.T) {
	snap := snapshot(t,
		index.Entry{ID: "a", From: "a@x"},
		index.Entry{ID: "b", From: "b@x"},
	)
	r := NewRetriever(&mockQueryEmbedder{vec: []float32{0}}, &mockIndex{snap: snap}, mockCorpus{}, fixedClues{From: "b@"})
	got, err := r.Retrieve(context.Background(), "no regex clues here", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].ID)
}

func TestRetrieve_DefaultTopK(t *testing.T) {
	snap := snapshot(t, index.Entry{ID: "a"}, index.Entry{ID: "b"}, index.Entry{ID: "c"}, index.Entry{ID: "d"})
	got, err := newTestRetriever(snap, mockCorpus{}).Retrieve(context.Background(), "q", 0)
	require.NoError(t, err)
	assert.Len(t, got, DefaultTopK)
}

type fixedClues intent.Clues

func (f fixedClues) Extract(context.Context, string) intent.Clues { return intent.Clues(f) }

func TestSnippet(t *testing.T) {
	assert.Equal(t, "a b c", Snippet("a\n\n b\tc "))
	long := strings.Repeat("x", 300)
	s := Snippet(long)
	assert.True(t, strings.HasSuffix(s, "…"))
	assert.Equal(t, 201, len([]rune(s)))
}
