package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/mpataki/exo/internal/worker"
)

type Config struct {
	DataDir   string        `yaml:"-" env:"EXO_DATA_DIR"`
	DBPath    string        `yaml:"-"`
	LogPath   string        `yaml:"-"`
	Corpus    string        `yaml:"corpus" env:"EXO_CORPUS"`
	DemoCount int           `yaml:"demo_count" env:"EXO_DEMO_COUNT"`
	Worker    string        `yaml:"worker" env:"EXO_WORKER"`
	Workers   int           `yaml:"workers" env:"EXO_WORKERS"`
	Script    string        `yaml:"script" env:"EXO_SCRIPT"`
	Shell     string        `yaml:"shell" env:"EXO_SHELL"`
	Timeout   time.Duration `yaml:"timeout" env:"EXO_TIMEOUT"`
	LogLevel  string        `yaml:"log_level" env:"EXO_LOG_LEVEL"`
}

// New builds the configuration from defaults, then <data dir>/config.yaml
// when present, then EXO_* environment variables. The result is not
// validated; callers apply their overrides and then call Validate.
func New() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	c := &Config{
		DataDir:   filepath.Join(homeDir, ".exo"),
		Corpus:    filepath.Join(homeDir, ".bash_history"),
		DemoCount: 19,
		Worker:    worker.KindShell,
		Workers:   4,
		Shell:     "/bin/sh",
		LogLevel:  "info",
	}

	// EXO_DATA_DIR decides where the config file lives, so read it first.
	if dir, ok := os.LookupEnv("EXO_DATA_DIR"); ok && dir != "" {
		c.DataDir = dir
	}

	if err := c.loadFile(c.FilePath()); err != nil {
		return nil, err
	}

	if err := env.Parse(c); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	c.DBPath = filepath.Join(c.DataDir, "exo.db")
	c.LogPath = filepath.Join(c.DataDir, "exo.log")
	return c, nil
}

func (c *Config) FilePath() string {
	return filepath.Join(c.DataDir, "config.yaml")
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config YAML %s: %w", path, err)
	}
	return nil
}

func (c *Config) Validate() error {
	if err := worker.ValidKind(c.Worker); err != nil {
		return err
	}
	if c.Worker == worker.KindLua && c.Script == "" {
		return fmt.Errorf("worker \"lua\" needs a script")
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.DemoCount < 0 {
		return fmt.Errorf("demo_count must not be negative, got %d", c.DemoCount)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative, got %s", c.Timeout)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

func (c *Config) EnsureDataDir() error {
	if err := os.MkdirAll(c.DataDir, 0755); err != nil {
		return err
	}
	return nil
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(name string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(name))); err != nil {
		return 0, fmt.Errorf("invalid log level %q", name)
	}
	return level, nil
}
