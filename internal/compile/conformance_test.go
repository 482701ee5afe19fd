package compile

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"stratus/internal/runtime"
)

// Conformance cases live in testdata/conformance. Each case runs a
// source unit and checks the completion value's display form, the
// print output, or the error text.
type conformanceCase struct {
	Name   string `yaml:"name"`
	Source string `yaml:"source"`
	Want   string `yaml:"want"`
	Output string `yaml:"output"`
	Error  string `yaml:"error"`
}

type conformanceFile struct {
	Cases []conformanceCase `yaml:"cases"`
}

func TestConformance(t *testing.T) {
	files, err := filepath.Glob(filepath.Join("testdata", "conformance", "*.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if len(files) == 0 {
		t.Fatal("no conformance files found")
	}
	for _, file := range files {
		t.Run(strings.TrimSuffix(filepath.Base(file), ".yaml"), func(t *testing.T) {
			data, err := os.ReadFile(file)
			if err != nil {
				t.Fatal(err)
			}
			var suite conformanceFile
			if err := yaml.Unmarshal(data, &suite); err != nil {
				t.Fatalf("parse %s: %v", file, err)
			}
			eng := New(Options{})
			for _, tc := range suite.Cases {
				t.Run(tc.Name, func(t *testing.T) {
					sc, err := eng.CompileSource(tc.Source, tc.Name+".st")
					if err != nil {
						if tc.Error != "" && strings.Contains(err.Error(), tc.Error) {
							return
						}
						t.Fatalf("compile: %v", err)
					}
					var out bytes.Buffer
					v, h, err := Run(sc, runtime.Config{}, &out)
					if tc.Error != "" {
						if err == nil {
							t.Fatalf("expected error containing %q, got %s", tc.Error, h.DisplayString(v))
						}
						if !strings.Contains(err.Error(), tc.Error) {
							t.Fatalf("error = %q, want substring %q", err, tc.Error)
						}
						return
					}
					if err != nil {
						t.Fatalf("run: %v", err)
					}
					if tc.Want != "" {
						if got := h.DisplayString(v); got != tc.Want {
							t.Errorf("value = %q, want %q", got, tc.Want)
						}
					}
					if tc.Output != "" {
						if got := out.String(); got != tc.Output {
							t.Errorf("output = %q, want %q", got, tc.Output)
						}
					}
				})
			}
		})
	}
}
