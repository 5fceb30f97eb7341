package index

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildFlat(t *testing.T, vecs ...[]float32) *Flat {
	t.Helper()
	f := NewFlat(len(vecs[0]))
	require.NoError(t, f.Add(vecs...))
	return f
}

func TestStore_LoadWithoutIndexIsUnavailable(t *testing.T) {
	s := NewStore(t.TempDir())
	_, err := s.Load()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnavailable))

	var ue *UnavailableError
	assert.True(t, errors.As(err, &ue))
}

func TestStore_SaveAndLoad(t *testing.T) {
	s := NewStore(t.TempDir())
	entries := []Entry{{ID: "a", Subject: "first"}, {ID: "b", Subject: "second", To: "me@x"}}
	gen, err := s.Save(buildFlat(t, []float32{1, 0}, []float32{0, 1}), entries)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(gen, "gen-"))

	snap, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, gen, snap.Generation)
	assert.Equal(t, entries, snap.Entries)
	assert.Equal(t, snap.Index.Len(), len(snap.Entries))

	again, err := s.Load()
	require.NoError(t, err)
	assert.Same(t, snap, again, "unchanged generation should be served from cache")
}

func TestStore_SaveRejectsMisalignedInput(t *testing.T) {
	s := NewStore(t.TempDir())
	_, err := s.Save(buildFlat(t, []float32{1}), []Entry{{ID: "a"}, {ID: "b"}})
	assert.Error(t, err)
	_, err = os.Stat(filepath.Join(s.Dir(), currentFile))
	assert.True(t, os.IsNotExist(err))
}

func TestStore_NewGenerationReplacesCurrent(t *testing.T) {
	s := NewStore(t.TempDir())
	_, err := s.Save(buildFlat(t, []float32{1}), []Entry{{ID: "old"}})
	require.NoError(t, err)
	first, err := s.Load()
	require.NoError(t, err)

	gen2, err := s.Save(buildFlat(t, []float32{1}, []float32{2}), []Entry{{ID: "x"}, {ID: "y"}})
	require.NoError(t, err)

	snap, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, gen2, snap.Generation)
	assert.Equal(t, 2, snap.Len())
	assert.Equal(t, 1, first.Len(), "earlier snapshot must stay intact")
}

func TestStore_PrunesOldGenerations(t *testing.T) {
	s := NewStore(t.TempDir())
	var last string
	for i := 0; i < 4; i++ {
		gen, err := s.Save(buildFlat(t, []float32{float32(i)}), []Entry{{ID: "e"}})
		require.NoError(t, err)
		last = gen
	}

	dirs, err := os.ReadDir(s.Dir())
	require.NoError(t, err)
	var gens []string
	for _, d := range dirs {
		if d.IsDir() {
			gens = append(gens, d.Name())
		}
	}
	assert.Len(t, gens, DefaultKeepGenerations)
	assert.Contains(t, gens, last)
}

func TestStore_CorruptGeneration(t *testing.T) {
	s := NewStore(t.TempDir())
	gen, err := s.Save(buildFlat(t, []float32{1, 2}), []Entry{{ID: "a"}})
	require.NoError(t, err)

	metaPath := filepath.Join(s.Dir(), gen, metadataFile)
	require.NoError(t, os.WriteFile(metaPath, []byte(`[{"id":"a"},{"id":"b"}]`), 0o600))

	fresh := NewStore(s.Dir())
	_, err = fresh.Load()
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestStore_CurrentPointsNowhere(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, currentFile), []byte("gen-missing\n"), 0o600))
	_, err := NewStore(dir).Load()
	assert.ErrorIs(t, err, ErrUnavailable)
}
