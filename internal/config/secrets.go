package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kalambet/mailrag/internal/fsutil"
)

const secretService = "mailrag"

// secretStore abstracts secret lookup for testing.
type secretStore interface {
	Get(service, account string) (string, error)
}

// fileSecrets keeps secrets in an owner-only JSON file under the data dir,
// shaped as {service: {account: value}}.
type fileSecrets struct {
	path string
}

func secretsFilePath() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "mailrag", "secrets.json")
}

func (s fileSecrets) read() (map[string]map[string]string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}
	var secrets map[string]map[string]string
	if err := json.Unmarshal(data, &secrets); err != nil {
		return nil, fmt.Errorf("parsing secrets file: %w", err)
	}
	return secrets, nil
}

func (s fileSecrets) Get(service, account string) (string, error) {
	secrets, err := s.read()
	if err != nil {
		return "", fmt.Errorf("secret store not available: %w", err)
	}
	val, ok := secrets[service][account]
	if !ok {
		return "", fmt.Errorf("account %q not found in service %q", account, service)
	}
	return val, nil
}

func (s fileSecrets) Set(service, account, value string) error {
	secrets, err := s.read()
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	if secrets == nil {
		secrets = make(map[string]map[string]string)
	}
	if secrets[service] == nil {
		secrets[service] = make(map[string]string)
	}
	secrets[service][account] = value

	out, err := json.MarshalIndent(secrets, "", "  ")
	if err != nil {
		return err
	}
	return fsutil.WriteFile(s.path, out, 0o600)
}
