package gmail

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/kalambet/mailrag/internal/fsutil"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmailapi "google.golang.org/api/gmail/v1"
)

// ErrNoToken is returned when the token file does not exist yet.
var ErrNoToken = errors.New("gmail token not found; run `mailrag auth gmail`")

// OAuthConfig loads the OAuth client from a Google credentials JSON file.
func OAuthConfig(credentialsFile string) (*oauth2.Config, error) {
	b, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("reading credentials: %w", err)
	}
	cfg, err := google.ConfigFromJSON(b, gmailapi.GmailReadonlyScope)
	if err != nil {
		return nil, fmt.Errorf("parsing credentials: %w", err)
	}
	return cfg, nil
}

// HTTPClient returns an authorized client that persists refreshed tokens.
func HTTPClient(ctx context.Context, credentialsFile, tokenFile string) (*http.Client, error) {
	cfg, err := OAuthConfig(credentialsFile)
	if err != nil {
		return nil, err
	}
	tok, err := LoadToken(tokenFile)
	if err != nil {
		return nil, err
	}
	src := &persistingTokenSource{
		src:     cfg.TokenSource(ctx, tok),
		current: tok,
		path:    tokenFile,
	}
	return oauth2.NewClient(ctx, src), nil
}

// AuthURL returns the consent page URL for offline access.
func AuthURL(cfg *oauth2.Config, state string) string {
	return cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange trades an authorization code for a token and stores it.
func Exchange(ctx context.Context, cfg *oauth2.Config, code, tokenFile string) error {
	tok, err := cfg.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("exchanging code: %w", err)
	}
	return SaveToken(tokenFile, tok)
}

// LoadToken reads a JSON-encoded token.
func LoadToken(path string) (*oauth2.Token, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoToken
	}
	if err != nil {
		return nil, fmt.Errorf("reading token: %w", err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(b, &tok); err != nil {
		return nil, fmt.Errorf("parsing token %s: %w", path, err)
	}
	return &tok, nil
}

// SaveToken writes tok to path with owner-only permissions.
func SaveToken(path string, tok *oauth2.Token) error {
	b, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding token: %w", err)
	}
	if err := fsutil.WriteFile(path, b, 0o600); err != nil {
		return fmt.Errorf("writing token: %w", err)
	}
	return nil
}

type persistingTokenSource struct {
	src  oauth2.TokenSource
	path string

	mu      sync.Mutex
	current *oauth2.Token
}

func (s *persistingTokenSource) Token() (*oauth2.Token, error) {
	t, err := s.src.Token()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil || s.current.AccessToken != t.AccessToken {
		s.current = t
		if err := SaveToken(s.path, t); err != nil {
			slog.Warn("failed to persist refreshed gmail token", "path", s.path, "error", err)
		}
	}
	return t, nil
}
