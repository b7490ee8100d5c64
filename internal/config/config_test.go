package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"ironcraft.dev/internal/compress"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "server.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultsAreValid(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	if cfg.Listen.TCP == "" {
		t.Fatalf("defaults have no tcp listener")
	}
	if cfg.Session.Keepalive != 15*time.Second || cfg.Session.Grace != 30*time.Second {
		t.Fatalf("keepalive defaults = %v, %v", cfg.Session.Keepalive, cfg.Session.Grace)
	}
	if cfg.PersistScheme() != compress.Zstd {
		t.Fatalf("default scheme = %v", cfg.PersistScheme())
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
listen:
  tcp: ":4000"
  ws: ":4001"
status:
  motd: "hello"
  max_players: 7
world:
  scheme: deflate
  view_radius: 3
session:
  idle_timeout: 90s
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Listen.TCP != ":4000" || cfg.Listen.WS != ":4001" {
		t.Fatalf("listen = %+v", cfg.Listen)
	}
	if cfg.Status.MOTD != "hello" || cfg.Status.MaxPlayers != 7 {
		t.Fatalf("status = %+v", cfg.Status)
	}
	if cfg.PersistScheme() != compress.Zlib {
		t.Fatalf("deflate alias = %v", cfg.PersistScheme())
	}
	if cfg.World.ViewRadius != 3 {
		t.Fatalf("view radius = %d", cfg.World.ViewRadius)
	}
	if cfg.Session.Idle != 90*time.Second {
		t.Fatalf("idle = %v", cfg.Session.Idle)
	}
	// Untouched sections keep their defaults.
	if cfg.Frames.CompressionThreshold != 256 {
		t.Fatalf("threshold = %d", cfg.Frames.CompressionThreshold)
	}
	if cfg.World.Dimension != "overworld" {
		t.Fatalf("dimension = %q", cfg.World.Dimension)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"no listeners", "listen:\n  tcp: \"\"\n", "no listeners"},
		{"bad scheme", "world:\n  scheme: lz4\n", "world.scheme"},
		{"bad generator", "world:\n  generator: perlin\n", "world.generator"},
		{"bad duration", "session:\n  idle_timeout: soon\n", "session.idle_timeout"},
		{"negative duration", "session:\n  keepalive_every: -5s\n", "session.keepalive_every"},
		{"grace below keepalive", "session:\n  keepalive_grace: 5s\n", "keepalive_grace"},
		{"view radius", "world:\n  view_radius: 99\n", "view_radius"},
		{"uncompressed below frame", "frames:\n  max_uncompressed_size: 10\n", "max_uncompressed_size"},
	}
	for _, c := range cases {
		_, err := Load(writeConfig(t, c.body))
		if err == nil || !strings.Contains(err.Error(), c.want) {
			t.Fatalf("%s: err = %v, want mention of %q", c.name, err, c.want)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("want error for missing file")
	}
}
