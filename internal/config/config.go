// Package config loads the server's YAML configuration. Load starts from
// Defaults, overlays the file when one is given, and validates; callers can
// rely on every field being in range and every duration parsed.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"ironcraft.dev/internal/compress"
)

type Config struct {
	Listen  Listen  `yaml:"listen"`
	Status  Status  `yaml:"status"`
	Frames  Frames  `yaml:"frames"`
	World   World   `yaml:"world"`
	Session Session `yaml:"session"`

	// IndexPath enables the sqlite runtime index; empty disables it.
	IndexPath string `yaml:"index_path,omitempty"`
}

type Listen struct {
	// TCP is the plain socket address; empty disables the listener.
	TCP string `yaml:"tcp"`
	// WS is the websocket bridge address; empty disables it.
	WS string `yaml:"ws,omitempty"`
}

type Status struct {
	MOTD        string `yaml:"motd"`
	MaxPlayers  int    `yaml:"max_players"`
	FaviconPath string `yaml:"favicon_path,omitempty"`
}

type Frames struct {
	// CompressionThreshold is the payload size in bytes at which frames are
	// compressed; negative disables compression entirely.
	CompressionThreshold int `yaml:"compression_threshold"`
	MaxFrameSize         int `yaml:"max_frame_size"`
	MaxUncompressedSize  int `yaml:"max_uncompressed_size"`
}

type World struct {
	StorePath    string `yaml:"store_path"`
	Dimension    string `yaml:"dimension"`
	Scheme       string `yaml:"scheme"`
	CacheEntries int    `yaml:"cache_entries"`
	ViewRadius   int    `yaml:"view_radius"`
	// Generator is "flat" or "none"; with "none" a missing chunk is an error.
	Generator string `yaml:"generator"`
}

type Session struct {
	IdleTimeout    string `yaml:"idle_timeout"`
	KeepaliveEvery string `yaml:"keepalive_every"`
	KeepaliveGrace string `yaml:"keepalive_grace"`
	WriteStall     string `yaml:"write_stall"`
	OutboundQueue  int    `yaml:"outbound_queue"`

	// Parsed forms, filled by Validate.
	Idle      time.Duration `yaml:"-"`
	Keepalive time.Duration `yaml:"-"`
	Grace     time.Duration `yaml:"-"`
	Stall     time.Duration `yaml:"-"`
}

func Defaults() Config {
	return Config{
		Listen: Listen{TCP: ":25565"},
		Status: Status{MOTD: "An ironcraft server", MaxPlayers: 64},
		Frames: Frames{
			CompressionThreshold: 256,
			MaxFrameSize:         2 << 20,
			MaxUncompressedSize:  8 << 20,
		},
		World: World{
			StorePath:    "data/chunks.db",
			Dimension:    "overworld",
			Scheme:       "zstd",
			CacheEntries: 4096,
			ViewRadius:   8,
			Generator:    "flat",
		},
		Session: Session{
			IdleTimeout:    "60s",
			KeepaliveEvery: "15s",
			KeepaliveGrace: "30s",
			WriteStall:     "30s",
			OutboundQueue:  256,
		},
	}
}

// Load reads path over Defaults; an empty path yields validated Defaults.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path == "" {
		if err := cfg.Validate(); err != nil {
			return cfg, err
		}
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// PersistScheme returns the parsed store compression scheme. Valid only
// after Validate.
func (c *Config) PersistScheme() compress.Scheme {
	s, _ := compress.ParseScheme(c.World.Scheme)
	return s
}

func (c *Config) Validate() error {
	if c.Listen.TCP == "" && c.Listen.WS == "" {
		return fmt.Errorf("no listeners configured")
	}
	if c.Status.MaxPlayers <= 0 {
		return fmt.Errorf("status.max_players must be > 0")
	}
	if c.Frames.MaxFrameSize <= 0 {
		return fmt.Errorf("frames.max_frame_size must be > 0")
	}
	if c.Frames.MaxUncompressedSize < c.Frames.MaxFrameSize {
		return fmt.Errorf("frames.max_uncompressed_size must be >= max_frame_size")
	}
	if c.World.StorePath == "" {
		return fmt.Errorf("world.store_path must be set")
	}
	if c.World.Dimension == "" {
		return fmt.Errorf("world.dimension must be set")
	}
	if _, err := compress.ParseScheme(c.World.Scheme); err != nil {
		return fmt.Errorf("world.scheme: %w", err)
	}
	if c.World.CacheEntries <= 0 {
		return fmt.Errorf("world.cache_entries must be > 0")
	}
	if c.World.ViewRadius < 1 || c.World.ViewRadius > 32 {
		return fmt.Errorf("world.view_radius must be in [1, 32]")
	}
	switch c.World.Generator {
	case "flat", "none":
	default:
		return fmt.Errorf("world.generator must be \"flat\" or \"none\", not %q", c.World.Generator)
	}
	if c.Session.OutboundQueue <= 0 {
		return fmt.Errorf("session.outbound_queue must be > 0")
	}

	var err error
	parse := func(name, v string) time.Duration {
		if err != nil {
			return 0
		}
		d, perr := time.ParseDuration(v)
		if perr != nil {
			err = fmt.Errorf("session.%s: %w", name, perr)
			return 0
		}
		if d <= 0 {
			err = fmt.Errorf("session.%s must be positive", name)
			return 0
		}
		return d
	}
	c.Session.Idle = parse("idle_timeout", c.Session.IdleTimeout)
	c.Session.Keepalive = parse("keepalive_every", c.Session.KeepaliveEvery)
	c.Session.Grace = parse("keepalive_grace", c.Session.KeepaliveGrace)
	c.Session.Stall = parse("write_stall", c.Session.WriteStall)
	if err != nil {
		return err
	}
	if c.Session.Grace < c.Session.Keepalive {
		return fmt.Errorf("session.keepalive_grace must be >= keepalive_every")
	}
	return nil
}
