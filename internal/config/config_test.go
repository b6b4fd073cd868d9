package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Server.Addr() != "localhost:12517" {
		t.Errorf("Server.Addr() = %q", cfg.Server.Addr())
	}
	if cfg.Sync.Extension != "sync" {
		t.Errorf("Sync.Extension = %q", cfg.Sync.Extension)
	}
	if cfg.Sync.MergeTimeout != 5*time.Second {
		t.Errorf("Sync.MergeTimeout = %v", cfg.Sync.MergeTimeout)
	}
	if cfg.Sync.Debounce != 100*time.Millisecond {
		t.Errorf("Sync.Debounce = %v", cfg.Sync.Debounce)
	}
	if cfg.Registry.Driver != "sqlite" || !strings.HasSuffix(cfg.Registry.Path, "registry.db") {
		t.Errorf("Registry = %+v", cfg.Registry)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ascend.toml")
	content := `
[server]
port = 9000

[sync]
extension = "pair"
merge_timeout = "2s"

[registry]
driver = "redis"
redis_url = "redis://localhost:6379/0"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(New(), path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9000 || cfg.Server.Host != "localhost" {
		t.Errorf("Server = %+v", cfg.Server)
	}
	if cfg.Sync.Extension != "pair" || cfg.Sync.MergeTimeout != 2*time.Second {
		t.Errorf("Sync = %+v", cfg.Sync)
	}
	if cfg.Sync.Debounce != 100*time.Millisecond {
		t.Errorf("unset key lost its default: Debounce = %v", cfg.Sync.Debounce)
	}
	if cfg.Registry.Driver != "redis" || cfg.Registry.RedisURL != "redis://localhost:6379/0" {
		t.Errorf("Registry = %+v", cfg.Registry)
	}
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("ASCEND_SERVER_PORT", "12600")
	t.Setenv("ASCEND_SYNC_DEBOUNCE", "250ms")

	cfg, err := Load(New(), "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 12600 {
		t.Errorf("Server.Port = %d, want 12600", cfg.Server.Port)
	}
	if cfg.Sync.Debounce != 250*time.Millisecond {
		t.Errorf("Sync.Debounce = %v, want 250ms", cfg.Sync.Debounce)
	}
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		content string
	}{
		{"bad driver", "[registry]\ndriver = \"etcd\"\n"},
		{"bad extension", "[sync]\nextension = \"a.b\"\n"},
		{"bad port", "[server]\nport = 70000\n"},
		{"tiny debounce", "[sync]\ndebounce = \"1ns\"\n"},
		{"negative debounce", "[sync]\ndebounce = \"-1s\"\n"},
		{"zero max cells", "[sync]\nmax_cells = 0\n"},
		{"not toml", "[server\n"},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, strings.Repeat("x", i+1)+".toml")
			if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(New(), path); err == nil {
				t.Error("Load() succeeded, want error")
			}
		})
	}

	if _, err := Load(New(), filepath.Join(dir, "missing.toml")); err == nil {
		t.Error("Load() of an explicit missing file succeeded")
	}
}

func TestWriteDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "ascend.toml")

	if err := WriteDefault(path, false); err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}
	if err := WriteDefault(path, false); err == nil {
		t.Error("WriteDefault() over an existing file should fail without force")
	}
	if err := WriteDefault(path, true); err != nil {
		t.Errorf("WriteDefault(force) error = %v", err)
	}

	cfg, err := Load(New(), path)
	if err != nil {
		t.Fatalf("Load() of written defaults error = %v", err)
	}
	want := Default()
	if cfg.Server != want.Server || cfg.Sync != want.Sync || cfg.Registry != want.Registry || cfg.Log != want.Log {
		t.Errorf("round trip = %+v, want %+v", cfg, want)
	}
}
