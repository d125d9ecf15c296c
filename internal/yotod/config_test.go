package yotod

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfig(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "yotod.toml")
	data := []byte("" +
		"[auth]\n" +
		"username = \"parent@example.com\"\n" +
		"password = \"hunter2\"\n" +
		"\n" +
		"[daemon]\n" +
		"default_device_id = \"dev-1\"\n" +
		"poll_interval_s = 15\n" +
		"\n" +
		"[bridge]\n" +
		"enabled = true\n" +
		"embedded = true\n" +
		"allow_anonymous = true\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Auth.Username != "parent@example.com" {
		t.Fatalf("expected username")
	}
	if cfg.Daemon.DefaultDevice != "dev-1" {
		t.Fatalf("expected default device")
	}
	if !cfg.Bridge.Enabled || !cfg.Bridge.Embedded {
		t.Fatalf("expected bridge enabled")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestValidateRequiresCredentials(t *testing.T) {
	if err := (Config{}).Validate(); err == nil {
		t.Fatalf("expected error")
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Fatalf("expected error")
	}
}

func TestCoordinatorMapping(t *testing.T) {
	cfg := Config{
		Auth: AuthConfig{Username: "u", Password: "p"},
		Daemon: DaemonConfig{
			DefaultDevice: "dev-1",
			PollIntervalS: 15,
		},
		Transport: TransportConfig{
			MaxRetries:       3,
			InitialBackoffMS: 500,
		},
		Catalog: CatalogConfig{
			ArtDir:       "/tmp/art",
			SnapshotPath: "/tmp/library.json",
			MaxAgeS:      120,
		},
	}

	coord, err := cfg.Coordinator()
	if err != nil {
		t.Fatalf("coordinator: %v", err)
	}
	if coord.DefaultDevice != "dev-1" {
		t.Fatalf("expected default device")
	}
	if coord.PollInterval != 15*time.Second {
		t.Fatalf("unexpected poll interval %s", coord.PollInterval)
	}
	if coord.Transport.InitialBackoff != 500*time.Millisecond {
		t.Fatalf("unexpected backoff %s", coord.Transport.InitialBackoff)
	}
	if coord.Catalog.MaxAge != 2*time.Minute {
		t.Fatalf("unexpected max age %s", coord.Catalog.MaxAge)
	}
}

func TestDefaultConfigPath(t *testing.T) {
	path, err := DefaultConfigPath()
	if err != nil {
		t.Fatalf("default config path: %v", err)
	}
	if path == "" {
		t.Fatalf("expected path")
	}
}
