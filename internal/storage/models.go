package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Interaction is one answered question.
type Interaction struct {
	ID        string
	CreatedAt time.Time
	Question  string
	Answer    string
	Context   string
	EmailIDs  string // JSON array stored as text
	Status    string
}

// RefreshRun records one ingestion plus index rebuild.
type RefreshRun struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Listed     int
	Added      int
	Indexed    int
	Generation string
	Error      string
}
