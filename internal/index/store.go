package index

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kalambet/mailrag/internal/fsutil"
)

const (
	indexFile    = "emails.index"
	metadataFile = "email_metadata.json"
	currentFile  = "CURRENT"
	genPrefix    = "gen-"

	// DefaultKeepGenerations is how many generations survive pruning.
	DefaultKeepGenerations = 2
)

// Snapshot is one immutable index generation: the vectors and the metadata
// rows aligned with them. Callers must not modify it.
type Snapshot struct {
	Generation string
	Index      *Flat
	Entries    []Entry
	BuiltAt    time.Time
}

// Len returns the number of indexed records.
func (s *Snapshot) Len() int { return len(s.Entries) }

// Store persists index generations under a directory. Each generation is a
// directory holding the index file and its metadata; CURRENT names the live
// one and is swapped by rename only after both files are on disk.
type Store struct {
	dir    string
	keep   int
	logger *slog.Logger

	mu     sync.Mutex
	cached *Snapshot
}

// NewStore creates a Store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{dir: dir, keep: DefaultKeepGenerations, logger: slog.Default()}
}

// Dir returns the root directory of the store.
func (s *Store) Dir() string { return s.dir }

// Save writes idx and entries as a new generation and makes it current.
func (s *Store) Save(idx *Flat, entries []Entry) (string, error) {
	if idx.Len() != len(entries) {
		return "", fmt.Errorf("index has %d vectors but %d metadata rows", idx.Len(), len(entries))
	}

	now := time.Now().UTC()
	gen := fmt.Sprintf("%s%019d-%s", genPrefix, now.UnixNano(), uuid.NewString()[:8])
	genDir := filepath.Join(s.dir, gen)
	if err := os.MkdirAll(genDir, 0o700); err != nil {
		return "", fmt.Errorf("creating generation dir: %w", err)
	}

	blob, err := idx.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("encoding index: %w", err)
	}
	if err := fsutil.WriteFile(filepath.Join(genDir, indexFile), blob, 0o600); err != nil {
		return "", fmt.Errorf("writing index: %w", err)
	}

	if entries == nil {
		entries = []Entry{}
	}
	meta, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding metadata: %w", err)
	}
	if err := fsutil.WriteFile(filepath.Join(genDir, metadataFile), meta, 0o600); err != nil {
		return "", fmt.Errorf("writing metadata: %w", err)
	}

	if err := fsutil.WriteFile(filepath.Join(s.dir, currentFile), []byte(gen+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("switching current generation: %w", err)
	}

	s.prune(gen)
	return gen, nil
}

// Current returns the name of the live generation.
func (s *Store) Current() (string, error) {
	path := filepath.Join(s.dir, currentFile)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", &UnavailableError{Path: path, Err: errors.New("no index has been built")}
	}
	if err != nil {
		return "", &UnavailableError{Path: path, Err: err}
	}
	gen := strings.TrimSpace(string(data))
	if !strings.HasPrefix(gen, genPrefix) || strings.ContainsAny(gen, `/\`) {
		return "", &UnavailableError{Path: path, Err: fmt.Errorf("invalid generation %q", gen)}
	}
	return gen, nil
}

// Load returns the live generation. The decoded snapshot is cached until
// CURRENT points elsewhere.
func (s *Store) Load() (*Snapshot, error) {
	gen, err := s.Current()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cached != nil && s.cached.Generation == gen {
		return s.cached, nil
	}

	snap, err := s.readGeneration(gen)
	if err != nil {
		return nil, err
	}
	s.cached = snap
	return snap, nil
}

func (s *Store) readGeneration(gen string) (*Snapshot, error) {
	genDir := filepath.Join(s.dir, gen)

	indexPath := filepath.Join(genDir, indexFile)
	blob, err := os.ReadFile(indexPath)
	if err != nil {
		return nil, &UnavailableError{Path: indexPath, Err: err}
	}
	idx := &Flat{}
	if err := idx.UnmarshalBinary(blob); err != nil {
		return nil, &UnavailableError{Path: indexPath, Err: err}
	}

	metaPath := filepath.Join(genDir, metadataFile)
	data, err := os.ReadFile(metaPath)
	if err != nil {
		return nil, &UnavailableError{Path: metaPath, Err: err}
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, &UnavailableError{Path: metaPath, Err: fmt.Errorf("parsing metadata: %w", err)}
	}

	if len(entries) != idx.Len() {
		return nil, &UnavailableError{
			Path: genDir,
			Err:  fmt.Errorf("index has %d vectors but metadata has %d rows", idx.Len(), len(entries)),
		}
	}

	var builtAt time.Time
	if info, err := os.Stat(metaPath); err == nil {
		builtAt = info.ModTime()
	}
	return &Snapshot{Generation: gen, Index: idx, Entries: entries, BuiltAt: builtAt}, nil
}

// prune removes all but the newest generations. The current one is never
// removed.
func (s *Store) prune(current string) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.logger.Warn("listing index generations", "error", err)
		return
	}
	var gens []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), genPrefix) {
			gens = append(gens, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(gens)))

	kept := 0
	for _, g := range gens {
		if g == current || kept < s.keep-1 {
			if g != current {
				kept++
			}
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.dir, g)); err != nil {
			s.logger.Warn("removing old index generation", "generation", g, "error", err)
		}
	}
}
