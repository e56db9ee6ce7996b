package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseDuration(t *testing.T) {
	cases := map[string]time.Duration{
		"30s": 30 * time.Second,
		"5m":  5 * time.Minute,
		"2h":  2 * time.Hour,
		"1d":  24 * time.Hour,
		"1w":  7 * 24 * time.Hour,
	}
	for in, want := range cases {
		got, err := ParseDuration(in)
		if err != nil {
			t.Fatalf("ParseDuration(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("ParseDuration(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestParseDurationRejectsMissingUnit(t *testing.T) {
	if _, err := ParseDuration("30"); err == nil {
		t.Fatalf("expected error for unit-less duration")
	}
}

func TestLoadLayersFileThenEnvThenFlags(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.toml")
	if err := os.WriteFile(path, []byte("[storage]\nbackend = \"localsqlite\"\ndb_path = \"/from/file\"\n"), 0o600); err != nil {
		t.Fatalf("write settings.toml: %v", err)
	}

	t.Setenv("DITOX_STORAGE_DB_PATH", "/from/env")

	flagPath := "/from/flag"
	s, err := Load(path, Overrides{StorageDBPath: &flagPath})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if s.Storage.DBPath != "/from/flag" {
		t.Fatalf("expected flag to win, got %q", s.Storage.DBPath)
	}
}

func TestLoadFallsBackToDefaultsWhenFileAbsent(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "missing.toml"), Overrides{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if s.Storage.Backend != "localsqlite" {
		t.Fatalf("expected default backend, got %q", s.Storage.Backend)
	}
	if !s.Prune.KeepFavorites {
		t.Fatalf("expected default keep_favorites=true")
	}
}

func TestSaveThenLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.toml")
	want := Defaults()
	want.Sync.Enabled = true
	want.Sync.BatchSize = 250

	if err := Save(path, want); err != nil {
		t.Fatalf("save: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("expected 0600 permissions, got %v", info.Mode().Perm())
	}

	got, err := Load(path, Overrides{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !got.Sync.Enabled || got.Sync.BatchSize != 250 {
		t.Fatalf("unexpected round-tripped settings: %+v", got.Sync)
	}
}
