// Package config loads bridge configuration from YAML files and the
// environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/caarlos0/env/v11"
	"github.com/goccy/go-yaml"

	"github.com/reglet-dev/capbridge/schema"
	"github.com/reglet-dev/capbridge/values"
)

const (
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "CAPBRIDGE_"

	// SchemaKind is the schema registry kind for configuration documents.
	SchemaKind = "config"

	DefaultModuleDir        = "modules"
	DefaultDiscoveryPattern = "**/*.wasm"
	DefaultCallTimeout      = Duration(5 * time.Second)
	DefaultWorkers          = 4
	MaxWorkers              = 64
	DefaultLogLevel         = "info"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the bridge configuration.
type Config struct {
	ModuleDir           string                  `yaml:"module_dir" json:"module_dir,omitempty" env:"MODULE_DIR" jsonschema:"description=Directory scanned for native modules"`
	DiscoveryPattern    string                  `yaml:"discovery_pattern" json:"discovery_pattern,omitempty" env:"DISCOVERY_PATTERN" jsonschema:"description=Glob relative to module_dir"`
	CallTimeout         Duration                `yaml:"call_timeout" json:"call_timeout,omitempty" env:"CALL_TIMEOUT"`
	DefaultWorkers      int                     `yaml:"default_workers" json:"default_workers,omitempty" env:"DEFAULT_WORKERS" jsonschema:"minimum=0,maximum=64"`
	LazyLoading         bool                    `yaml:"lazy_loading" json:"lazy_loading,omitempty" env:"LAZY_LOADING"`
	MemoryLimitPages    uint32                  `yaml:"memory_limit_pages" json:"memory_limit_pages,omitempty" env:"MEMORY_LIMIT_PAGES" jsonschema:"maximum=65536"`
	MaxModuleBytes      int64                   `yaml:"max_module_bytes" json:"max_module_bytes,omitempty" env:"MAX_MODULE_BYTES" jsonschema:"minimum=0,description=Largest module file accepted; 0 means 64MiB"`
	CompilationCacheDir string                  `yaml:"compilation_cache_dir" json:"compilation_cache_dir,omitempty" env:"COMPILATION_CACHE_DIR"`
	AllowedPaths        []string                `yaml:"allowed_paths" json:"allowed_paths,omitempty" env:"ALLOWED_PATHS" envSeparator:","`
	LogLevel            string                  `yaml:"log_level" json:"log_level,omitempty" env:"LOG_LEVEL" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
	Modules             map[string]ModuleConfig `yaml:"modules" json:"modules,omitempty"`
}

// ModuleConfig pins a single native module.
type ModuleConfig struct {
	Path    string `yaml:"path" json:"path,omitempty" jsonschema:"description=Explicit module path; skips discovery"`
	Digest  string `yaml:"digest" json:"digest,omitempty" jsonschema:"pattern=^(sha256|sha512):[0-9a-fA-F]+$"`
	Version string `yaml:"version" json:"version,omitempty" jsonschema:"description=Semver constraint for discovered versions"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		ModuleDir:        DefaultModuleDir,
		DiscoveryPattern: DefaultDiscoveryPattern,
		CallTimeout:      DefaultCallTimeout,
		DefaultWorkers:   DefaultWorkers,
		LogLevel:         DefaultLogLevel,
	}
}

var schemas = sync.OnceValues(func() (*schema.Registry, error) {
	r := schema.NewRegistry()
	if err := r.Register(SchemaKind, Config{}); err != nil {
		return nil, err
	}
	return r, nil
})

// Schema returns the JSON schema configuration files are validated against.
func Schema() (string, error) {
	r, err := schemas()
	if err != nil {
		return "", err
	}
	s, _ := r.GetSchema(SchemaKind)
	return s, nil
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty) and CAPBRIDGE_ environment variables, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := Decode(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config %s: %w", path, err)
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Decode checks a YAML document against the configuration schema and
// decodes it over cfg. Keys absent from the document keep cfg's values.
func Decode(data []byte, cfg *Config) error {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return err
	}
	if doc == nil {
		return nil
	}

	r, err := schemas()
	if err != nil {
		return err
	}
	if err := r.Validate(SchemaKind, doc); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	return yaml.Unmarshal(data, cfg)
}

// Validate checks values the schema cannot express.
func (c *Config) Validate() error {
	var errs []error

	if c.CallTimeout <= 0 {
		errs = append(errs, fmt.Errorf("call_timeout must be positive, got %s", c.CallTimeout))
	}
	if c.DefaultWorkers < 0 || c.DefaultWorkers > MaxWorkers {
		errs = append(errs, fmt.Errorf("default_workers must be between 0 and %d, got %d", MaxWorkers, c.DefaultWorkers))
	}
	if c.MemoryLimitPages > 65536 {
		errs = append(errs, fmt.Errorf("memory_limit_pages must be at most 65536, got %d", c.MemoryLimitPages))
	}
	if c.MaxModuleBytes < 0 {
		errs = append(errs, fmt.Errorf("max_module_bytes must not be negative, got %d", c.MaxModuleBytes))
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	if c.DiscoveryPattern != "" && !doublestar.ValidatePattern(c.DiscoveryPattern) {
		errs = append(errs, fmt.Errorf("invalid discovery_pattern %q", c.DiscoveryPattern))
	}
	for _, p := range c.AllowedPaths {
		if !doublestar.ValidatePattern(p) {
			errs = append(errs, fmt.Errorf("invalid allowed_paths entry %q", p))
		}
	}

	for _, name := range c.ModuleNames() {
		m := c.Modules[name]
		if _, err := values.NewModuleName(name); err != nil {
			errs = append(errs, fmt.Errorf("modules.%s: %w", name, err))
		}
		if m.Digest != "" {
			if _, err := values.ParseDigest(m.Digest); err != nil {
				errs = append(errs, fmt.Errorf("modules.%s.digest: %w", name, err))
			}
		}
		if m.Version != "" {
			if _, err := semver.NewConstraint(m.Version); err != nil {
				errs = append(errs, fmt.Errorf("modules.%s.version: %w", name, err))
			}
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// Level parses LogLevel. An empty level is info.
func (c *Config) Level() (slog.Level, error) {
	var lvl slog.Level
	if c.LogLevel == "" {
		return slog.LevelInfo, nil
	}
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log_level %q: %w", c.LogLevel, err)
	}
	return lvl, nil
}

// ModuleNames returns the configured module names, sorted.
func (c *Config) ModuleNames() []string {
	names := make([]string, 0, len(c.Modules))
	for name := range c.Modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Digests returns the parsed digest pins keyed by module name.
func (c *Config) Digests() (map[string]values.Digest, error) {
	out := make(map[string]values.Digest)
	for name, m := range c.Modules {
		if m.Digest == "" {
			continue
		}
		d, err := values.ParseDigest(m.Digest)
		if err != nil {
			return nil, fmt.Errorf("modules.%s.digest: %w", name, err)
		}
		out[name] = d
	}
	return out, nil
}
