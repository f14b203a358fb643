package session

import (
	"os"
	"path/filepath"
	"testing"
)

func TestIsNonLoopback(t *testing.T) {
	cases := map[string]bool{
		"localhost":    false,
		"LOCALHOST":    false,
		"127.0.0.1":    false,
		"127.0.0.2":    false,
		"::1":          false,
		"[::1]":        false,
		"0.0.0.0":      true,
		"192.168.1.20": true,
		"example.com":  true,
		"":             true,
	}
	for host, want := range cases {
		if got := IsNonLoopback(host); got != want {
			t.Errorf("IsNonLoopback(%q) = %v, want %v", host, got, want)
		}
	}
}

func TestTokenLifecycle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "default.token")

	got, err := ReadToken(path)
	if err != nil || got != "" {
		t.Fatalf("missing token: %q %v", got, err)
	}

	token, err := GenerateToken()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(token) != 43 {
		t.Fatalf("expected 43 chars, got %d", len(token))
	}
	other, _ := GenerateToken()
	if other == token {
		t.Fatal("tokens repeat")
	}

	if err := WriteToken(path, token); err != nil {
		t.Fatalf("write: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("expected 0600, got %o", perm)
	}
	got, err = ReadToken(path)
	if err != nil || got != token {
		t.Fatalf("read back: %q %v", got, err)
	}

	if err := CleanupToken(path); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if err := CleanupToken(path); err != nil {
		t.Fatalf("second cleanup: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("token still present: %v", err)
	}
}
