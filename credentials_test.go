package quantum

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFileCredentialsRoundTrip(t *testing.T) {
	creds := NewFileCredentials(t.TempDir())

	if err := creds.SetToken("tok-abc"); err != nil {
		t.Fatalf("SetToken: %v", err)
	}
	token, err := creds.Token()
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if token != "tok-abc" {
		t.Errorf("token = %q, want tok-abc", token)
	}

	if err := creds.ClearToken(); err != nil {
		t.Fatalf("ClearToken: %v", err)
	}
	token, err = creds.Token()
	if err != nil {
		t.Fatalf("Token after clear: %v", err)
	}
	if token != "" {
		t.Errorf("token after clear = %q, want empty", token)
	}
	// Clearing an already-cleared store is fine.
	if err := creds.ClearToken(); err != nil {
		t.Errorf("second ClearToken: %v", err)
	}
}

func TestFileCredentialsMissingFile(t *testing.T) {
	creds := NewFileCredentials(filepath.Join(t.TempDir(), "never-created"))

	token, err := creds.Token()
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if token != "" {
		t.Errorf("token = %q, want empty for logged-out device", token)
	}
}

func TestFileCredentialsReadFresh(t *testing.T) {
	dir := t.TempDir()
	creds := NewFileCredentials(dir)
	if err := creds.SetToken("tok-1"); err != nil {
		t.Fatalf("SetToken: %v", err)
	}

	// Another process on the device rotates the token behind our back.
	other := NewFileCredentials(dir)
	if err := other.SetToken("tok-2"); err != nil {
		t.Fatalf("SetToken via second store: %v", err)
	}

	token, err := creds.Token()
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if token != "tok-2" {
		t.Errorf("token = %q, want tok-2; reads must hit the file", token)
	}
}

func TestFileCredentialsFilePermissions(t *testing.T) {
	dir := t.TempDir()
	creds := NewFileCredentials(dir)
	if err := creds.SetToken("tok-secret"); err != nil {
		t.Fatalf("SetToken: %v", err)
	}

	info, err := os.Stat(filepath.Join(dir, "credentials.toml"))
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("credentials file mode = %o, want 600", perm)
	}
}

func TestStaticCredentials(t *testing.T) {
	token, err := StaticCredentials("tok-fixed").Token()
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if token != "tok-fixed" {
		t.Errorf("token = %q, want tok-fixed", token)
	}
}
