package corpus

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kalambet/mailrag/internal/fsutil"
)

const (
	emailsFile    = "emails.json"
	watermarkFile = "last_seen_id.txt"
)

// Store persists the corpus as a JSON array and the watermark as a plain text
// file, both under a single data directory. Writers must be serialized by the
// caller.
type Store struct {
	path          string
	watermarkPath string
	max           int
}

// NewStore creates a Store rooted at dir. A max of zero or less uses
// DefaultMaxEmails.
func NewStore(dir string, max int) *Store {
	if max <= 0 {
		max = DefaultMaxEmails
	}
	return &Store{
		path:          filepath.Join(dir, emailsFile),
		watermarkPath: filepath.Join(dir, watermarkFile),
		max:           max,
	}
}

// Path returns the location of the corpus file.
func (s *Store) Path() string { return s.path }

// Max returns the corpus cap.
func (s *Store) Max() int { return s.max }

// Load returns the stored records in persisted order. A missing file is an
// empty corpus.
func (s *Store) Load() ([]Email, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading corpus: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, nil
	}
	var records []Email
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parsing corpus %s: %w", s.path, err)
	}
	return records, nil
}

// Save sorts records newest first, truncates them to the cap and atomically
// replaces the corpus file.
func (s *Store) Save(records []Email) error {
	records = Normalize(records, s.max)
	if records == nil {
		records = []Email{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding corpus: %w", err)
	}
	if err := fsutil.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("writing corpus: %w", err)
	}
	return nil
}

// Contains reports whether a record with the given id is stored.
func (s *Store) Contains(id string) (bool, error) {
	ids, err := s.IDs()
	if err != nil {
		return false, err
	}
	_, ok := ids[id]
	return ok, nil
}

// IDs returns the set of stored record ids.
func (s *Store) IDs() (map[string]struct{}, error) {
	records, err := s.Load()
	if err != nil {
		return nil, err
	}
	ids := make(map[string]struct{}, len(records))
	for _, r := range records {
		ids[r.ID] = struct{}{}
	}
	return ids, nil
}

// ByID returns the stored records keyed by id.
func (s *Store) ByID() (map[string]Email, error) {
	records, err := s.Load()
	if err != nil {
		return nil, err
	}
	m := make(map[string]Email, len(records))
	for _, r := range records {
		m[r.ID] = r
	}
	return m, nil
}

// Watermark returns the id recorded by the last ingestion run that added
// records, or "" when none has been recorded.
func (s *Store) Watermark() (string, error) {
	data, err := os.ReadFile(s.watermarkPath)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading watermark: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// SetWatermark overwrites the watermark file with id.
func (s *Store) SetWatermark(id string) error {
	if err := fsutil.WriteFile(s.watermarkPath, []byte(id), 0o600); err != nil {
		return fmt.Errorf("writing watermark: %w", err)
	}
	return nil
}
