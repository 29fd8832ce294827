package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultsAreValid(t *testing.T) {
	if err := Defaults().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg := Defaults()
	cfg.LogLevel = "debug"
	cfg.Session.MaxHistory = 25
	cfg.AccessControl.AdminIDs = []int64{12345}
	cfg.Channels.Driver = "telegram"
	cfg.Channels.Telegram.Token = "tok"
	seed := 7
	cfg.Hyper.Seed = &seed

	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if got.LogLevel != "debug" || got.Session.MaxHistory != 25 {
		t.Fatalf("round trip lost values: %+v", got)
	}
	if len(got.AccessControl.AdminIDs) != 1 || got.AccessControl.AdminIDs[0] != 12345 {
		t.Fatalf("admin ids lost: %+v", got.AccessControl.AdminIDs)
	}
	if got.Channels.Driver != "telegram" || got.Channels.Telegram.Token != "tok" {
		t.Fatalf("channel config lost: %+v", got.Channels)
	}
	if got.Hyper.Seed == nil || *got.Hyper.Seed != 7 {
		t.Fatalf("optional hyperparameter lost: %+v", got.Hyper.Seed)
	}
}

func TestSaveKeepsBackup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	first := Defaults()
	first.LogLevel = "info"
	if err := Save(path, first); err != nil {
		t.Fatal(err)
	}

	second := Defaults()
	second.LogLevel = "debug"
	if err := Save(path, second); err != nil {
		t.Fatal(err)
	}

	backup, err := Load(path + ".bak")
	if err != nil {
		t.Fatalf("backup unreadable: %v", err)
	}
	if backup.LogLevel != "info" {
		t.Fatalf("backup should hold the previous contents, got %q", backup.LogLevel)
	}
}

func TestLoadRestoresFromBackup(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	cfg := Defaults()
	cfg.LogLevel = "warn"
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	// Simulate the main file going missing with a backup present.
	if err := os.Rename(path, path+".bak"); err != nil {
		t.Fatal(err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load should restore from backup: %v", err)
	}
	if got.LogLevel != "warn" {
		t.Fatalf("restored config wrong: %q", got.LogLevel)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatal("main file should have been recreated from the backup")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing config without backup")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero max_history", func(c *Config) { c.Session.MaxHistory = 0 }},
		{"empty session dir", func(c *Config) { c.Session.Dir = "" }},
		{"zero poll", func(c *Config) { c.Scheduler.PollSeconds = 0 }},
		{"zero quiet", func(c *Config) { c.Scheduler.QuietSeconds = 0 }},
		{"missing api url", func(c *Config) { c.LLM.APIURL = "" }},
		{"missing model", func(c *Config) { c.LLM.Model = "" }},
		{"unknown driver", func(c *Config) { c.Channels.Driver = "matrix" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Defaults()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("session:\n  max_history: -1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid config")
	}
}
