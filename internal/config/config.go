// Package config loads the resolver's outer configuration: the temp root
// working directories live under, the registry manifest filenames to try
// in order, and the timeout applied to each git subprocess invocation.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Option configures a Loader.
type Option func(*loaderConfig) error

type loaderConfig struct {
	path string
}

// WithConfigPath loads configuration from a YAML file at path. Symlinks
// are resolved and the result must be absolute or a local (non-escaping)
// relative path, guarding against symlink and traversal attacks when the
// path comes from an untrusted caller.
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		if !filepath.IsAbs(realPath) && !filepath.IsLocal(realPath) {
			return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
		}

		cfg.path = realPath
		return nil
	}
}

// Config is the resolver's outer configuration.
type Config struct {
	// TempRoot is where per-repository working directories are created,
	// keyed by hash(repository). Defaults to os.TempDir() when empty.
	TempRoot string `yaml:"tempRoot,omitempty"`

	// Registries lists manifest filenames to try in order; the first
	// one present at the resolved commit wins. Defaults to
	// {"package.json"} when empty.
	Registries []string `yaml:"registries,omitempty"`

	// SubprocessTimeout bounds each `git` invocation: it's passed to
	// gitproc.New as the Runner's Timeout, so every Run and Stream call
	// the resolver makes is wrapped in its own context.WithTimeout. Load
	// and Default replace zero with a two-minute default so a hung remote
	// cannot wedge a session forever; a zero value that reaches the
	// resolver directly means no timeout.
	SubprocessTimeout time.Duration `yaml:"subprocessTimeout,omitempty"`

	// AllowInsecureTransport disables the secure-URL upgrader's refusal
	// to fetch mutable content over git:// or unverifiable http://: it's
	// threaded through Resolver into gitsession.New, which passes it to
	// every gitsecurity.Secure call a session makes. It exists for local
	// integration testing against a plain file:// or http:// fixture
	// server and must never be set in production.
	AllowInsecureTransport bool `yaml:"allowInsecureTransport,omitempty"`
}

const (
	defaultRegistry          = "package.json"
	defaultSubprocessTimeout = 2 * time.Minute
)

// Load reads and validates a Config, applying defaults for unset fields.
func Load(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}

	if loaderCfg.path == "" {
		return nil, fmt.Errorf("path is required")
	}

	data, err := os.ReadFile(loaderCfg.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns a Config with no file backing, suitable for
// programmatic callers (the CLI's flag-only invocation, tests).
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if len(c.Registries) == 0 {
		c.Registries = []string{defaultRegistry}
	}
	if c.SubprocessTimeout == 0 {
		c.SubprocessTimeout = defaultSubprocessTimeout
	}
}

// PreferredRegistry is the first manifest filename to try.
func (c *Config) PreferredRegistry() string {
	return c.Registries[0]
}

// FallbackRegistries are the remaining manifest filenames, tried in
// order after PreferredRegistry misses.
func (c *Config) FallbackRegistries() []string {
	if len(c.Registries) <= 1 {
		return nil
	}
	return c.Registries[1:]
}
