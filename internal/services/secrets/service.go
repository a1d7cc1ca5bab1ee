// Package secrets loads hypervisor credentials.
package secrets

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/fgeck/esxi-keepalive/internal/models"
)

// Secrets document keys.
const (
	KeyHost     = "esxi_host"
	KeyUser     = "esxi_user"
	KeyPassword = "esxi_password"
)

// Loader defines the interface for credential sources.
type Loader interface {
	Load(ctx context.Context) (*models.Credentials, error)
}

// FileLoader reads the secrets document from disk on every Load.
type FileLoader struct {
	path string
}

// NewFileLoader creates a loader for the secrets document at path.
func NewFileLoader(path string) *FileLoader {
	return &FileLoader{path: path}
}

// Path returns the secrets document location.
func (l *FileLoader) Path() string {
	return l.path
}

// Load reads and parses the secrets document.
func (l *FileLoader) Load(_ context.Context) (*models.Credentials, error) {
	content, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("reading secrets file %s: %w", l.path, err)
	}

	return Parse(content)
}

// EmbeddedLoader parses a secrets document compiled into the binary.
type EmbeddedLoader struct {
	payload []byte
}

// NewEmbeddedLoader creates a loader for a build-time secrets payload.
func NewEmbeddedLoader(payload string) *EmbeddedLoader {
	return &EmbeddedLoader{payload: []byte(payload)}
}

// Load parses the embedded secrets document.
func (l *EmbeddedLoader) Load(_ context.Context) (*models.Credentials, error) {
	if len(bytes.TrimSpace(l.payload)) == 0 {
		return nil, fmt.Errorf("no secrets embedded in this build")
	}

	return Parse(l.payload)
}

// NewLoader returns the loader selected by cfg.
func NewLoader(cfg models.SecretsConfig, embedded string) (Loader, error) {
	switch cfg.Source {
	case models.SecretsSourceFile:
		return NewFileLoader(cfg.Path), nil
	case models.SecretsSourceEmbedded:
		if len(bytes.TrimSpace([]byte(embedded))) == 0 {
			return nil, fmt.Errorf("secrets.source is embedded but this binary was built without secrets")
		}
		return NewEmbeddedLoader(embedded), nil
	default:
		return nil, fmt.Errorf("unknown secrets source %q", cfg.Source)
	}
}

// Parse decodes a JSON secrets document. All three fields are required
// strings and key names are matched exactly.
func Parse(content []byte) (*models.Credentials, error) {
	var doc map[string]any
	if err := json.Unmarshal(content, &doc); err != nil {
		return nil, fmt.Errorf("parsing secrets json: %w", err)
	}

	values := make(map[string]string, 3)
	for _, key := range []string{KeyHost, KeyUser, KeyPassword} {
		raw, ok := doc[key]
		if !ok {
			return nil, fmt.Errorf("parsing secrets json: missing field %s", key)
		}
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("parsing secrets json: field %s must be a string", key)
		}
		values[key] = s
	}

	return &models.Credentials{
		Host:     values[KeyHost],
		User:     values[KeyUser],
		Password: values[KeyPassword],
	}, nil
}
