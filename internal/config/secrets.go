package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

var errSecretNotFound = errors.New("secret not found")

// secretStore abstracts where tokens are kept, for testing.
type secretStore interface {
	Get(name string) (string, error)
	Set(name, value string) error
}

// secretsFilePath places the secrets next to the database.
func secretsFilePath(dataDir string) string {
	return filepath.Join(dataDir, "secrets.json")
}

// fileSecrets keeps secrets as a flat JSON object readable only by the owner.
type fileSecrets struct {
	path string
}

func newFileSecrets(path string) fileSecrets {
	return fileSecrets{path: path}
}

func (f fileSecrets) read() (map[string]string, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, err
	}
	var secrets map[string]string
	if err := json.Unmarshal(data, &secrets); err != nil {
		return nil, fmt.Errorf("parsing secrets file: %w", err)
	}
	return secrets, nil
}

func (f fileSecrets) Get(name string) (string, error) {
	secrets, err := f.read()
	if err != nil {
		return "", fmt.Errorf("reading secrets: %w", err)
	}
	v, ok := secrets[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", errSecretNotFound, name)
	}
	return v, nil
}

func (f fileSecrets) Set(name, value string) error {
	secrets, err := f.read()
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	if secrets == nil {
		secrets = make(map[string]string)
	}
	secrets[name] = value

	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("creating secrets dir: %w", err)
	}
	out, err := json.MarshalIndent(secrets, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(f.path, out, 0o600)
}
