package quantum

import (
	"fmt"
	"os"
	"path/filepath"

	toml "github.com/pelletier/go-toml/v2"
)

// ============================================================================
// Durable Credential Storage
// ============================================================================

// CredentialSource yields the current bearer credential. Implementations must
// return the freshest value on every call; the channel manager re-reads it on
// every connect and reconnect, and an unrelated login or refresh flow may
// have replaced the token while a session was down.
type CredentialSource interface {
	Token() (string, error)
}

// StaticCredentials is a fixed-token source, useful for tests and one-shot
// tooling.
type StaticCredentials string

func (s StaticCredentials) Token() (string, error) { return string(s), nil }

// credentialsFileName is the well-known file under the device data directory.
const credentialsFileName = "credentials.toml"

type credentialsFile struct {
	Auth struct {
		Token string `toml:"token"`
	} `toml:"auth"`
}

// FileCredentials stores the bearer token in a TOML file under the device
// data directory. Reads always hit the file, so a token refreshed by another
// process on the same device is picked up without coordination.
type FileCredentials struct {
	path string
}

// NewFileCredentials creates a file-backed credential store rooted at the
// device data directory.
func NewFileCredentials(dataDir string) *FileCredentials {
	return &FileCredentials{path: filepath.Join(dataDir, credentialsFileName)}
}

// Token reads the current bearer token. A missing file yields an empty token,
// not an error: a logged-out device is a normal state.
func (f *FileCredentials) Token() (string, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read credentials: %w", err)
	}
	var cf credentialsFile
	if err := toml.Unmarshal(data, &cf); err != nil {
		return "", fmt.Errorf("parse credentials: %w", err)
	}
	return cf.Auth.Token, nil
}

// SetToken writes a new bearer token, creating the data directory if needed.
func (f *FileCredentials) SetToken(token string) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("create credentials directory: %w", err)
	}
	var cf credentialsFile
	cf.Auth.Token = token
	data, err := toml.Marshal(cf)
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}
	if err := os.WriteFile(f.path, data, 0o600); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	return nil
}

// ClearToken removes the stored token, e.g. at logout.
func (f *FileCredentials) ClearToken() error {
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear credentials: %w", err)
	}
	return nil
}
