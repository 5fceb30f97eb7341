package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kalambet/mailrag/internal/composer"
	"github.com/kalambet/mailrag/internal/retrieval"
	"github.com/kalambet/mailrag/internal/storage"
)

// DefaultTopK is the number of emails used to answer a question.
const DefaultTopK = 3

// ErrEmptyQuestion is returned by Ask for a blank question.
var ErrEmptyQuestion = errors.New("question is empty")

// Retriever finds the emails relevant to a question.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int) ([]retrieval.Result, error)
}

// Completer is the answer generator.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// HistoryStore persists answered questions.
type HistoryStore interface {
	SaveInteraction(ctx context.Context, i storage.Interaction) error
	GetRecentInteractions(ctx context.Context, limit int) ([]storage.Interaction, error)
}

// Answer is the outcome of one Ask call.
type Answer struct {
	ID         string             `json:"id"`
	Question   string             `json:"question"`
	Answer     string             `json:"answer"`
	Timestamp  time.Time          `json:"timestamp"`
	Emails     []retrieval.Result `json:"emails"`
	Context    string             `json:"-"`
	DurationMs int64              `json:"duration_ms"`
}

// HistoryEntry is a previously answered question.
type HistoryEntry struct {
	ID        string    `json:"id"`
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	Timestamp time.Time `json:"timestamp"`
	EmailIDs  []string  `json:"email_ids"`
}

// Assistant answers questions about the mailbox: retrieve, assemble context,
// prompt the answer generator and record the exchange.
type Assistant struct {
	retriever Retriever
	composer  *composer.Composer
	completer Completer
	history   HistoryStore
	topK      int
	logger    *slog.Logger
}

// New creates an Assistant. history may be nil to disable recording.
// topK defaults to DefaultTopK if <= 0.
func New(r Retriever, comp *composer.Composer, c Completer, history HistoryStore, topK int) *Assistant {
	if topK <= 0 {
		topK = DefaultTopK
	}
	if comp == nil {
		comp = composer.New(0, 0)
	}
	return &Assistant{
		retriever: r,
		composer:  comp,
		completer: c,
		history:   history,
		topK:      topK,
		logger:    slog.Default(),
	}
}

// Ask answers question using the topK most relevant emails. A topK <= 0 uses
// the configured default. Retrieval and completion errors are returned
// unchanged in their chain; a failure to record history is only logged.
func (a *Assistant) Ask(ctx context.Context, question string, topK int) (Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Answer{}, ErrEmptyQuestion
	}
	if topK <= 0 {
		topK = a.topK
	}
	start := time.Now()

	emails, err := a.retriever.Retrieve(ctx, question, topK)
	if err != nil {
		return Answer{}, err
	}

	contextBlock := a.composer.BuildContext(emails)
	reply, err := a.completer.Complete(ctx, composer.BuildPrompt(contextBlock, question))
	if err != nil {
		return Answer{}, fmt.Errorf("generating answer: %w", err)
	}

	ans := Answer{
		ID:         uuid.NewString(),
		Question:   question,
		Answer:     reply,
		Timestamp:  time.Now().UTC(),
		Emails:     emails,
		Context:    contextBlock,
		DurationMs: time.Since(start).Milliseconds(),
	}

	if a.history != nil {
		if err := a.history.SaveInteraction(ctx, storage.Interaction{
			ID:        ans.ID,
			CreatedAt: ans.Timestamp,
			Question:  ans.Question,
			Answer:    ans.Answer,
			Context:   contextBlock,
			EmailIDs:  encodeIDs(emails),
		}); err != nil {
			a.logger.Warn("failed to record interaction", "id", ans.ID, "error", err)
		}
	}

	a.logger.Debug("question answered", "id", ans.ID, "emails", len(emails), "duration_ms", ans.DurationMs)
	return ans, nil
}

// History returns up to limit recent exchanges, newest first.
func (a *Assistant) History(ctx context.Context, limit int) ([]HistoryEntry, error) {
	if a.history == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := a.history.GetRecentInteractions(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}
	out := make([]HistoryEntry, 0, len(rows))
	for _, r := range rows {
		var ids []string
		if err := json.Unmarshal([]byte(r.EmailIDs), &ids); err != nil {
			a.logger.Warn("malformed email ids in history", "id", r.ID, "error", err)
		}
		out = append(out, HistoryEntry{
			ID:        r.ID,
			Question:  r.Question,
			Answer:    r.Answer,
			Timestamp: r.CreatedAt,
			EmailIDs:  ids,
		})
	}
	return out, nil
}

func encodeIDs(results []retrieval.Result) string {
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.ID
	}
	b, _ := json.Marshal(ids)
	return string(b)
}
