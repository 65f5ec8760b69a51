package scraper

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadCookies(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cookies.json")
	content := `[
		{"name": "datadome", "value": "abc123", "domain": ".leboncoin.fr", "path": "/", "expires": 1893456000, "httpOnly": true, "secure": true},
		{"name": "", "value": "orphan"},
		{"name": "session", "value": ""},
		{"name": "luat", "value": "tok"}
	]`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cookies, err := LoadCookies(path)
	if err != nil {
		t.Fatalf("LoadCookies: %v", err)
	}
	if len(cookies) != 2 {
		t.Fatalf("expected 2 cookies after skipping invalid entries, got %d", len(cookies))
	}
	if cookies[0].Name != "datadome" || cookies[0].Value != "abc123" {
		t.Errorf("unexpected first cookie %+v", cookies[0])
	}
	if !cookies[0].HttpOnly || !cookies[0].Secure {
		t.Errorf("cookie flags not preserved: %+v", cookies[0])
	}
	if cookies[0].Expires.IsZero() {
		t.Error("expires not set from unix timestamp")
	}
}

func TestLoadCookiesMissingFileIsNotAnError(t *testing.T) {
	cookies, err := LoadCookies(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("missing cookie file should be fine, got %v", err)
	}
	if len(cookies) != 0 {
		t.Fatalf("expected no cookies, got %d", len(cookies))
	}
}

func TestLoadCookiesBadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cookies.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadCookies(path); err == nil {
		t.Fatal("expected error for malformed file")
	}
}
