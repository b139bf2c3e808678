// Package config loads ethos.toml.
//
//	[pipeline]
//	manifest  = "schemas/manifest.yaml"
//	ir_dir    = "ir"
//	rules_dir = "rules"
//	store     = ".ethos/ethos.db"
//	fail_fast = false
//
//	[codegen]
//	output_dir = "gen"
//	package    = ""
//
//	[logging]
//	level  = "info"
//	format = "text"
//
//	[backends.bitcoin_core]
//	endpoint = "http://127.0.0.1:8332"
//	user     = "rpc"
//	password = "secret"
//	timeout  = "30s"
//
// Every key is optional. Relative paths are resolved against the directory
// of the config file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/roach88/ethos/internal/ir"
	"github.com/roach88/ethos/internal/transport"
)

// DefaultPath is the config file read when --config is not given.
const DefaultPath = "ethos.toml"

// Config is the resolved configuration.
type Config struct {
	Pipeline Pipeline
	Codegen  Codegen
	Logging  Logging
	Backends map[ir.Implementation]Backend
}

type Pipeline struct {
	Manifest string
	IRDir    string
	RulesDir string
	Store    string
	FailFast bool
}

type Codegen struct {
	OutputDir string
	Package   string
}

type Logging struct {
	Level  slog.Level
	Format string
}

// Backend holds the live endpoint of one implementation.
type Backend struct {
	Endpoint string
	User     string
	Password string
	Timeout  time.Duration
}

// Default returns the configuration used when no file exists.
func Default() Config {
	return Config{
		Pipeline: Pipeline{
			Manifest: filepath.Join("schemas", "manifest.yaml"),
			IRDir:    "ir",
			Store:    filepath.Join(".ethos", "ethos.db"),
		},
		Codegen:  Codegen{OutputDir: "gen"},
		Logging:  Logging{Level: slog.LevelInfo, Format: "text"},
		Backends: map[ir.Implementation]Backend{},
	}
}

type fileConfig struct {
	Pipeline struct {
		Manifest string `toml:"manifest"`
		IRDir    string `toml:"ir_dir"`
		RulesDir string `toml:"rules_dir"`
		Store    string `toml:"store"`
		FailFast bool   `toml:"fail_fast"`
	} `toml:"pipeline"`
	Codegen struct {
		OutputDir string `toml:"output_dir"`
		Package   string `toml:"package"`
	} `toml:"codegen"`
	Logging struct {
		Level  string `toml:"level"`
		Format string `toml:"format"`
	} `toml:"logging"`
	Backends map[string]fileBackend `toml:"backends"`
}

type fileBackend struct {
	Endpoint string `toml:"endpoint"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Timeout  string `toml:"timeout"`
}

// Load reads path over the defaults. A missing file yields the defaults
// when optional is true.
func Load(path string, optional bool) (Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if errors.Is(err, os.ErrNotExist) && optional {
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return Config{}, fmt.Errorf("load config %s: unknown keys: %s", path, strings.Join(keys, ", "))
	}

	base := filepath.Dir(path)
	resolve := func(p string) string {
		p = strings.TrimSpace(p)
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}

	if meta.IsDefined("pipeline", "manifest") {
		cfg.Pipeline.Manifest = resolve(raw.Pipeline.Manifest)
	} else {
		cfg.Pipeline.Manifest = resolve(cfg.Pipeline.Manifest)
	}
	if meta.IsDefined("pipeline", "ir_dir") {
		cfg.Pipeline.IRDir = resolve(raw.Pipeline.IRDir)
	} else {
		cfg.Pipeline.IRDir = resolve(cfg.Pipeline.IRDir)
	}
	if meta.IsDefined("pipeline", "rules_dir") {
		cfg.Pipeline.RulesDir = resolve(raw.Pipeline.RulesDir)
	}
	if meta.IsDefined("pipeline", "store") {
		cfg.Pipeline.Store = resolve(raw.Pipeline.Store)
	} else {
		cfg.Pipeline.Store = resolve(cfg.Pipeline.Store)
	}
	if meta.IsDefined("pipeline", "fail_fast") {
		cfg.Pipeline.FailFast = raw.Pipeline.FailFast
	}

	if meta.IsDefined("codegen", "output_dir") {
		cfg.Codegen.OutputDir = resolve(raw.Codegen.OutputDir)
	} else {
		cfg.Codegen.OutputDir = resolve(cfg.Codegen.OutputDir)
	}
	if meta.IsDefined("codegen", "package") {
		cfg.Codegen.Package = strings.TrimSpace(raw.Codegen.Package)
	}

	if meta.IsDefined("logging", "level") {
		if err := cfg.Logging.Level.UnmarshalText([]byte(strings.TrimSpace(raw.Logging.Level))); err != nil {
			return Config{}, fmt.Errorf("parse logging.level: %w", err)
		}
	}
	if meta.IsDefined("logging", "format") {
		format := strings.TrimSpace(raw.Logging.Format)
		if !slices.Contains([]string{"text", "json"}, format) {
			return Config{}, fmt.Errorf("parse logging.format: %q is not text or json", format)
		}
		cfg.Logging.Format = format
	}

	for name, fb := range raw.Backends {
		impl := ir.Implementation(name)
		if !impl.Valid() {
			return Config{}, fmt.Errorf("backends: malformed implementation identifier %q", name)
		}
		b := Backend{
			Endpoint: strings.TrimSpace(fb.Endpoint),
			User:     fb.User,
			Password: fb.Password,
		}
		if t := strings.TrimSpace(fb.Timeout); t != "" {
			d, err := time.ParseDuration(t)
			if err != nil {
				return Config{}, fmt.Errorf("parse backends.%s.timeout: %w", name, err)
			}
			b.Timeout = d
		}
		cfg.Backends[impl] = b
	}
	return cfg, nil
}

// Transport returns the transport settings configured for impl. ok is
// false when the file names no endpoint for it.
func (c Config) Transport(impl ir.Implementation) (transport.Config, bool) {
	b, ok := c.Backends[impl]
	if !ok || b.Endpoint == "" {
		return transport.Config{}, false
	}
	return transport.Config{
		Endpoint: b.Endpoint,
		User:     b.User,
		Password: b.Password,
		Timeout:  b.Timeout,
	}, true
}
