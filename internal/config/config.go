// Package config loads stratus.yaml, the per-project settings file
// read by every toolchain command. A missing file means defaults; a
// partial file overrides only the keys it names.
package config

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"stratus/internal/codegen"
)

// Config is the full settings surface.
type Config struct {
	Codegen CodegenConfig `yaml:"codegen"`
	Compile CompileConfig `yaml:"compile"`
	Cache   CacheConfig   `yaml:"cache"`
	Trace   TraceConfig   `yaml:"trace"`
}

// CodegenConfig selects which fast paths the code generator emits and
// how deep its AST recursion may go before aborting a function.
type CodegenConfig struct {
	InlineSmiOps     bool `yaml:"inline_smi_ops"`
	CompareFastPaths bool `yaml:"compare_fast_paths"`
	MaxDepth         int  `yaml:"max_depth"`
}

// CompileConfig bounds batch compilation. Parallelism zero means one
// worker per CPU.
type CompileConfig struct {
	Parallelism int `yaml:"parallelism"`
}

// CacheConfig names the persistent code cache backend. An empty
// driver disables caching.
type CacheConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// TraceConfig names the compile-event websocket listener. An empty
// address disables it.
type TraceConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the settings used when no file is present: every
// fast path on, no cache, no trace server.
func Default() *Config {
	return &Config{
		Codegen: CodegenConfig{InlineSmiOps: true, CompareFastPaths: true},
	}
}

// Load reads path as YAML over the defaults. A missing file is not an
// error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "parse %s", path)
	}
	if err := cfg.validate(); err != nil {
		return nil, errors.Wrapf(err, "%s", path)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Cache.Driver {
	case "", "sqlite", "sqlite3", "postgres", "postgresql", "mysql":
	default:
		return errors.Errorf("unsupported cache driver %q", c.Cache.Driver)
	}
	if c.Compile.Parallelism < 0 {
		return errors.New("compile.parallelism must not be negative")
	}
	if c.Codegen.MaxDepth < 0 {
		return errors.New("codegen.max_depth must not be negative")
	}
	return nil
}

// CodegenOptions maps the file settings onto generator options.
func (c *Config) CodegenOptions() codegen.Options {
	return codegen.Options{
		InlineSmiOps:     c.Codegen.InlineSmiOps,
		CompareFastPaths: c.Codegen.CompareFastPaths,
		MaxDepth:         c.Codegen.MaxDepth,
	}
}
