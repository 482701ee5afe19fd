package report

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"stratus/internal/compile"
)

func sampleScripts() []*compile.Script {
	return []*compile.Script{
		{Path: "b.st", Stats: compile.Stats{Instructions: 120, Constants: 4, Elapsed: 2 * time.Millisecond}},
		{Path: "a.st", Stats: compile.Stats{Instructions: 1500, Constants: 10, CacheHit: true, Elapsed: time.Millisecond}},
	}
}

func TestBuild(t *testing.T) {
	s := Build(sampleScripts(), 3)
	if s.Scripts != 2 || s.Instructions != 1620 || s.Constants != 14 {
		t.Errorf("summary = %+v", s)
	}
	if s.CodeBytes != 1620*wordSize {
		t.Errorf("code bytes = %d, want %d", s.CodeBytes, 1620*wordSize)
	}
	if s.CacheHits != 1 || s.StubsBuilt != 3 {
		t.Errorf("cache hits = %d, stubs = %d", s.CacheHits, s.StubsBuilt)
	}
	if s.Files[0].Path != "a.st" || s.Files[1].Path != "b.st" {
		t.Errorf("files should sort by path, got %+v", s.Files)
	}
	if s.Elapsed != 3*time.Millisecond {
		t.Errorf("elapsed = %v, want 3ms", s.Elapsed)
	}
}

func TestRender(t *testing.T) {
	var buf bytes.Buffer
	Render(&buf, Build(sampleScripts(), 3))
	out := buf.String()
	if !strings.Contains(out, "* a.st") {
		t.Errorf("cache hit row should carry a mark:\n%s", out)
	}
	if !strings.Contains(out, "1,500") {
		t.Errorf("counts should be humanized:\n%s", out)
	}
	if !strings.Contains(out, "2 scripts") || !strings.Contains(out, "1 cached") {
		t.Errorf("totals line wrong:\n%s", out)
	}
	if !strings.Contains(out, "3 stubs built") {
		t.Errorf("stub count missing:\n%s", out)
	}
}

func TestRenderSingular(t *testing.T) {
	var buf bytes.Buffer
	Render(&buf, Build(sampleScripts()[:1], 0))
	out := buf.String()
	if !strings.Contains(out, "1 script,") {
		t.Errorf("singular form wrong:\n%s", out)
	}
	if strings.Contains(out, "cached") {
		t.Errorf("no hits, no cached note:\n%s", out)
	}
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteJSON(&buf, Build(sampleScripts(), 1)); err != nil {
		t.Fatal(err)
	}
	var got Summary
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("round trip: %v", err)
	}
	if got.Scripts != 2 || len(got.Files) != 2 || got.StubsBuilt != 1 {
		t.Errorf("decoded = %+v", got)
	}
}
