// Package config loads assetdb settings from defaults, a YAML file and the
// environment, and validates the result against an embedded CUE schema.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/caarlos0/env/v11"
	"github.com/natefinch/atomic"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaSource string

// EnvPrefix prefixes every environment variable that overrides a setting.
const EnvPrefix = "ASSETDB_"

// Engine names.
const (
	EngineSQLite = "sqlite"
	EngineBolt   = "bolt"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid config")

// Config holds every assetdb setting.
type Config struct {
	DataDir       string `yaml:"data_dir" json:"data_dir" env:"DATA_DIR"`
	Engine        string `yaml:"engine" json:"engine" env:"ENGINE"`
	Database      string `yaml:"database" json:"database" env:"DATABASE"`
	MaxReferences int    `yaml:"max_references" json:"max_references" env:"MAX_REFERENCES"`
	LogLevel      string `yaml:"log_level" json:"log_level" env:"LOG_LEVEL"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		DataDir:       defaultDataDir(),
		Engine:        EngineSQLite,
		Database:      "mb",
		MaxReferences: 1024,
		LogLevel:      "info",
	}
}

func defaultDataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "assetdb")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "assetdb")
	}
	return "assetdb-data"
}

// DefaultPath returns the config file location used when none is given.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locate config dir: %w", err)
	}
	return filepath.Join(dir, "assetdb", "config.yaml"), nil
}

// LoadOptions controls where Load looks.
type LoadOptions struct {
	// Path is the YAML file to read. Empty means DefaultPath, and a missing
	// default file is not an error.
	Path string

	// Environ replaces the process environment. Nil means os.Environ.
	Environ map[string]string
}

// Load builds a Config from defaults, then the YAML file, then the
// environment, and validates the result.
func Load(opts LoadOptions) (Config, error) {
	cfg := Default()

	path, explicit := opts.Path, opts.Path != ""
	if !explicit {
		p, err := DefaultPath()
		if err == nil {
			path = p
		}
	}
	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			if explicit || !errors.Is(err, os.ErrNotExist) {
				return Config{}, err
			}
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix, Environment: opts.Environ}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// Validate checks c against the embedded CUE schema.
func (c Config) Validate() error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	def := schema.LookupPath(cue.ParsePath("#Config"))
	value := def.Unify(ctx.Encode(c))
	if err := value.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalid, cueerrors.Details(err, nil))
	}
	return nil
}

// Level returns the slog level named by LogLevel, defaulting to info.
func (c Config) Level() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// Marshal renders c as YAML.
func (c Config) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteDefault writes the default config to path atomically. An existing
// file is only replaced when force is set.
func WriteDefault(path string, force bool) (Config, error) {
	cfg := Default()
	if _, err := os.Stat(path); err == nil && !force {
		return Config{}, fmt.Errorf("config %s already exists", path)
	}
	data, err := cfg.Marshal()
	if err != nil {
		return Config{}, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Config{}, fmt.Errorf("create config dir: %w", err)
	}
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return Config{}, fmt.Errorf("write config: %w", err)
	}
	return cfg, nil
}
