package codecache

import (
	"path/filepath"
	"strings"
	"testing"

	"stratus/internal/asm"
	"stratus/internal/codegen"
	"stratus/internal/lexer"
	"stratus/internal/parser"
	"stratus/internal/runtime"
	"stratus/internal/scope"
	"stratus/internal/simulator"
	"stratus/internal/stubs"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("sqlite", filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func compile(t *testing.T, src string) *asm.Code {
	t.Helper()
	tokens := lexer.NewScanner(src).ScanTokens()
	p := parser.NewParserWithSource(tokens, src, "cache_test.st")
	program := p.Parse()
	if len(p.Errors) > 0 {
		t.Fatalf("parse %q: %v", src, p.Errors[0])
	}
	res, err := scope.Resolve(program, "cache_test.st")
	if err != nil {
		t.Fatalf("resolve %q: %v", src, err)
	}
	code, err := codegen.Compile(program, res, "cache_test.st", stubs.NewCache(), codegen.DefaultOptions())
	if err != nil {
		t.Fatalf("compile %q: %v", src, err)
	}
	return code
}

func run(t *testing.T, code *asm.Code) (uint32, *runtime.Heap) {
	t.Helper()
	h, err := runtime.NewHeap(runtime.Config{})
	if err != nil {
		t.Fatalf("heap: %v", err)
	}
	m := simulator.NewMachine(h)
	v, err := m.Run(code)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	return v, h
}

// roundTrip stores code and loads it back against a fresh stub cache,
// the situation a second toolchain process is in.
func roundTrip(t *testing.T, src string) *asm.Code {
	t.Helper()
	s := openStore(t)
	code := compile(t, src)
	key := Key(src, codegen.DefaultOptions())
	if err := s.Put(key, code); err != nil {
		t.Fatalf("Put: %v", err)
	}
	loaded, ok, err := s.Get(key, stubs.NewCache())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("expected a hit")
	}
	if loaded.Name != code.Name || len(loaded.Instrs) != len(code.Instrs) {
		t.Fatalf("loaded %s/%d instrs, want %s/%d", loaded.Name, len(loaded.Instrs), code.Name, len(code.Instrs))
	}
	if loaded.Source != code.Source || len(loaded.Positions) != len(code.Positions) {
		t.Errorf("position info lost: source %q, %d entries", loaded.Source, len(loaded.Positions))
	}
	return loaded
}

func TestRoundTripStringConcat(t *testing.T) {
	loaded := roundTrip(t, `function cat(a, b) { return a + b; } cat("x", "y");`)
	v, h := run(t, loaded)
	if got := h.GoString(v); got != "xy" {
		t.Errorf("decoded code returned %q, want \"xy\"", got)
	}
}

func TestRoundTripHeapNumber(t *testing.T) {
	loaded := roundTrip(t, "function div(a, b) { return a / b; } div(7, 2);")
	v, h := run(t, loaded)
	if runtime.IsSmi(v) {
		t.Fatalf("result %#x should be a heap number", v)
	}
	if got := h.NumberAt(v); got != 3.5 {
		t.Errorf("decoded code returned %v, want 3.5", got)
	}
}

func TestRoundTripControlFlow(t *testing.T) {
	loaded := roundTrip(t, `
		var total = 0;
		var i = 1;
		while (i <= 4) { total = total + i; i = i + 1; }
		var bonus = 0;
		try { throw 5; } catch (e) { bonus = e; }
		total + bonus;
	`)
	v, _ := run(t, loaded)
	if v != runtime.SmiWord(15) {
		t.Errorf("decoded code returned %#x, want smi 15", v)
	}
}

func TestKeySensitivity(t *testing.T) {
	opts := codegen.DefaultOptions()
	base := Key("1 + 2;", opts)
	if len(base) != 64 {
		t.Errorf("key length = %d, want 64 hex chars", len(base))
	}
	if Key("1 + 3;", opts) == base {
		t.Error("different sources should produce different keys")
	}
	alt := opts
	alt.InlineSmiOps = false
	if Key("1 + 2;", alt) == base {
		t.Error("different options should produce different keys")
	}
}

func TestMiss(t *testing.T) {
	s := openStore(t)
	_, ok, err := s.Get(Key("absent;", codegen.DefaultOptions()), stubs.NewCache())
	if err != nil || ok {
		t.Fatalf("Get = %t, %v; want clean miss", ok, err)
	}
}

func TestReplaceAndStats(t *testing.T) {
	s := openStore(t)
	code := compile(t, "1 + 2;")
	key := Key("1 + 2;", codegen.DefaultOptions())
	if err := s.Put(key, code); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Put(key, code); err != nil {
		t.Fatalf("second Put: %v", err)
	}
	st, err := s.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.Entries != 1 {
		t.Errorf("entries = %d, want 1 after replace", st.Entries)
	}
	if st.Bytes <= 0 {
		t.Errorf("bytes = %d, want > 0", st.Bytes)
	}
	if err := s.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	st, err = s.Stats()
	if err != nil {
		t.Fatalf("Stats after Clear: %v", err)
	}
	if st.Entries != 0 || st.Bytes != 0 {
		t.Errorf("stats after Clear = %+v, want empty", st)
	}
}

func TestUnknownDriver(t *testing.T) {
	_, err := Open("oracle", "")
	if err == nil {
		t.Fatal("expected error for unsupported driver")
	}
	if !strings.Contains(err.Error(), "oracle") {
		t.Errorf("error should name the driver, got %v", err)
	}
}

func TestRebind(t *testing.T) {
	s := &Store{driver: "postgres"}
	got := s.rebind("INSERT INTO t (a, b) VALUES (?, ?)")
	if want := "INSERT INTO t (a, b) VALUES ($1, $2)"; got != want {
		t.Errorf("rebind = %q, want %q", got, want)
	}
	s.driver = "sqlite"
	if got := s.rebind("SELECT ?"); got != "SELECT ?" {
		t.Errorf("sqlite rebind = %q, want the query unchanged", got)
	}
}
