package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stratus.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Codegen.InlineSmiOps || !cfg.Codegen.CompareFastPaths {
		t.Errorf("defaults should enable fast paths, got %+v", cfg.Codegen)
	}
	if cfg.Cache.Driver != "" || cfg.Trace.Addr != "" {
		t.Errorf("defaults should leave cache and trace off, got %+v", cfg)
	}
}

func TestLoadPartialInheritsDefaults(t *testing.T) {
	path := writeConfig(t, "compile:\n  parallelism: 2\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Compile.Parallelism != 2 {
		t.Errorf("parallelism = %d, want 2", cfg.Compile.Parallelism)
	}
	if !cfg.Codegen.InlineSmiOps {
		t.Error("partial file should keep default inline_smi_ops")
	}
}

func TestLoadFull(t *testing.T) {
	path := writeConfig(t, `codegen:
  inline_smi_ops: true
  compare_fast_paths: false
  max_depth: 256
compile:
  parallelism: 4
cache:
  driver: sqlite
  dsn: file:cache.db
trace:
  addr: localhost:7542
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Codegen.CompareFastPaths {
		t.Error("compare_fast_paths should be off")
	}
	if cfg.Codegen.MaxDepth != 256 {
		t.Errorf("max_depth = %d, want 256", cfg.Codegen.MaxDepth)
	}
	if cfg.Cache.Driver != "sqlite" || cfg.Cache.DSN != "file:cache.db" {
		t.Errorf("cache = %+v", cfg.Cache)
	}
	if cfg.Trace.Addr != "localhost:7542" {
		t.Errorf("trace addr = %q", cfg.Trace.Addr)
	}
	opts := cfg.CodegenOptions()
	if !opts.InlineSmiOps || opts.CompareFastPaths || opts.MaxDepth != 256 {
		t.Errorf("CodegenOptions = %+v", opts)
	}
}

func TestLoadDisableFastPaths(t *testing.T) {
	path := writeConfig(t, "codegen:\n  inline_smi_ops: false\n  compare_fast_paths: false\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Codegen.InlineSmiOps || cfg.Codegen.CompareFastPaths {
		t.Errorf("fast paths should be off, got %+v", cfg.Codegen)
	}
}

func TestLoadBadDriver(t *testing.T) {
	path := writeConfig(t, "cache:\n  driver: oracle\n")
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for unsupported driver")
	}
	if !strings.Contains(err.Error(), "oracle") {
		t.Errorf("error should name the driver, got %v", err)
	}
}

func TestLoadBadYAML(t *testing.T) {
	path := writeConfig(t, "codegen: [not a map\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadNegativeParallelism(t *testing.T) {
	path := writeConfig(t, "compile:\n  parallelism: -1\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error")
	}
}
