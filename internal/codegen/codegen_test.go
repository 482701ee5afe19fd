package codegen

import (
	"bytes"
	"math"
	"strings"
	"testing"

	"stratus/internal/asm"
	"stratus/internal/errors"
	"stratus/internal/lexer"
	"stratus/internal/parser"
	"stratus/internal/runtime"
	"stratus/internal/scope"
	"stratus/internal/simulator"
)

func compile(t *testing.T, src string, opts Options) *asm.Code {
	t.Helper()
	tokens := lexer.NewScanner(src).ScanTokens()
	p := parser.NewParserWithSource(tokens, src, "test.st")
	program := p.Parse()
	if len(p.Errors) > 0 {
		t.Fatalf("parse %q: %v", src, p.Errors[0])
	}
	res, err := scope.Resolve(program, "test.st")
	if err != nil {
		t.Fatalf("resolve %q: %v", src, err)
	}
	code, err := Compile(program, res, "test.st", nil, opts)
	if err != nil {
		t.Fatalf("compile %q: %v", src, err)
	}
	return code
}

func compileErr(t *testing.T, src string, opts Options) error {
	t.Helper()
	tokens := lexer.NewScanner(src).ScanTokens()
	p := parser.NewParserWithSource(tokens, src, "test.st")
	program := p.Parse()
	if len(p.Errors) > 0 {
		t.Fatalf("parse %q: %v", src, p.Errors[0])
	}
	res, err := scope.Resolve(program, "test.st")
	if err != nil {
		t.Fatalf("resolve %q: %v", src, err)
	}
	if _, err := Compile(program, res, "test.st", nil, opts); err != nil {
		return err
	}
	t.Fatalf("compile %q: expected error", src)
	return nil
}

func newVM(t *testing.T) (*runtime.Heap, *simulator.Machine) {
	t.Helper()
	h, err := runtime.NewHeap(runtime.Config{})
	if err != nil {
		t.Fatalf("heap: %v", err)
	}
	return h, simulator.NewMachine(h)
}

// evalWith compiles src as a script and runs it to completion. The
// returned word is the value of the last expression statement.
func evalWith(t *testing.T, src string, opts Options) (uint32, *runtime.Heap) {
	t.Helper()
	code := compile(t, src, opts)
	h, m := newVM(t)
	v, err := m.Run(code)
	if err != nil {
		t.Fatalf("run %q: %v", src, err)
	}
	return v, h
}

func eval(t *testing.T, src string) (uint32, *runtime.Heap) {
	t.Helper()
	return evalWith(t, src, DefaultOptions())
}

func evalErr(t *testing.T, src string) error {
	t.Helper()
	code := compile(t, src, DefaultOptions())
	_, m := newVM(t)
	v, err := m.Run(code)
	if err == nil {
		t.Fatalf("run %q: expected error, got %#x", src, v)
	}
	return err
}

func countCalls(code *asm.Code) int {
	n := 0
	for _, ins := range code.Instrs {
		switch ins.(type) {
		case *asm.CallRT, *asm.CallFn:
			n++
		}
	}
	return n
}

func TestCompletionValue(t *testing.T) {
	v, _ := eval(t, "var x = 3; x + 4;")
	if v != runtime.SmiWord(7) {
		t.Fatalf("completion = %#x, want smi 7", v)
	}
	v, _ = eval(t, "1; 2; 3;")
	if v != runtime.SmiWord(3) {
		t.Fatalf("completion = %#x, want smi 3", v)
	}
}

func TestArithmetic(t *testing.T) {
	tests := []struct {
		src  string
		want int32
	}{
		{"10 - 3;", 7},
		{"4 * 6;", 24},
		{"100 / 4;", 25},
		{"7 % 4;", 3},
		{"-7 % 4;", -3},
		{"1 << 5;", 32},
		{"-8 >> 1;", -4},
		{"-8 >>> 29;", 7},
		{"6 | 1;", 7},
		{"6 & 3;", 2},
		{"6 ^ 3;", 5},
		{"(1 + 2) * (3 + 4);", 21},
		{"1 + 2 * 3;", 7},
	}
	for _, tt := range tests {
		v, _ := eval(t, tt.src)
		if v != runtime.SmiWord(tt.want) {
			t.Fatalf("%s = %#x, want smi %d", tt.src, v, tt.want)
		}
	}
}

func TestArithmeticHeapResults(t *testing.T) {
	v, h := eval(t, "7 / 2;")
	if runtime.IsSmi(v) || h.NumberAt(v) != 3.5 {
		t.Fatalf("7 / 2 = %#x", v)
	}
	v, h = eval(t, "1 / 0;")
	if runtime.IsSmi(v) || !math.IsInf(h.NumberAt(v), 1) {
		t.Fatalf("1 / 0 = %#x", v)
	}
	v, h = eval(t, "0 / 0;")
	if runtime.IsSmi(v) || !math.IsNaN(h.NumberAt(v)) {
		t.Fatalf("0 / 0 = %#x", v)
	}
	v, h = eval(t, "7 % 0;")
	if runtime.IsSmi(v) || !math.IsNaN(h.NumberAt(v)) {
		t.Fatalf("7 %% 0 = %#x", v)
	}
}

func TestComparisons(t *testing.T) {
	tests := []struct {
		src  string
		want bool
	}{
		{"1 < 2;", true},
		{"2 <= 2;", true},
		{"4 <= 3;", false},
		{"3 > 4;", false},
		{"5 > 4;", true},
		{"4 >= 4;", true},
		{"1 == 1;", true},
		{"1 != 2;", true},
		{"2 === 2;", true},
		{`"1" == 1;`, true},
		{`"1" === 1;`, false},
		{`"x" == "x";`, true},
		{`"a" < "b";`, true},
		{`"b" < "a";`, false},
		{"0 / 0 == 0 / 0;", false},
		{"1 / 0 > 1000000;", true},
		{"0 == false;", true},
	}
	for _, tt := range tests {
		v, h := eval(t, tt.src)
		want := h.Root(asm.RootFalse)
		if tt.want {
			want = h.Root(asm.RootTrue)
		}
		if v != want {
			t.Fatalf("%s = %#x, want %v", tt.src, v, tt.want)
		}
	}
}

func TestNullComparisons(t *testing.T) {
	tests := []struct {
		src  string
		want bool
	}{
		{"undefined == null;", true},
		{"null == undefined;", true},
		{"null == null;", true},
		{"0 == null;", false},
		{`"" == undefined;`, false},
		{"({}) == null;", false},
		{"undefined === null;", false},
		{"null === null;", true},
		{"undefined === undefined;", true},
		{"0 != null;", true},
		{"null !== undefined;", true},
	}
	for _, tt := range tests {
		v, h := eval(t, tt.src)
		want := h.Root(asm.RootFalse)
		if tt.want {
			want = h.Root(asm.RootTrue)
		}
		if v != want {
			t.Fatalf("%s = %#x, want %v", tt.src, v, tt.want)
		}
	}
}

func TestTypeofComparisons(t *testing.T) {
	tests := []struct {
		src  string
		want bool
	}{
		{`typeof missing == "undefined";`, true},
		{`typeof missing === "undefined";`, true},
		{`typeof 1 == "number";`, true},
		{`typeof 1 === "number";`, true},
		{`typeof "s" == "string";`, true},
		{`typeof true == "boolean";`, true},
		{`typeof undefined == "undefined";`, true},
		{`typeof null == "object";`, true},
		{`typeof print == "function";`, true},
		{`typeof 1 == "nosuch";`, false},
		{`typeof 1 != "number";`, false},
	}
	for _, tt := range tests {
		v, h := eval(t, tt.src)
		want := h.Root(asm.RootFalse)
		if tt.want {
			want = h.Root(asm.RootTrue)
		}
		if v != want {
			t.Fatalf("%s = %#x, want %v", tt.src, v, tt.want)
		}
	}
}

func TestTypeofValue(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		{"typeof 42;", "number"},
		{`typeof "s";`, "string"},
		{"typeof missing;", "undefined"},
		{"typeof print;", "function"},
		{"typeof null;", "object"},
	}
	for _, tt := range tests {
		v, h := eval(t, tt.src)
		if got := h.GoString(v); got != tt.want {
			t.Fatalf("%s = %q, want %q", tt.src, got, tt.want)
		}
	}
}

func TestLogicalOperators(t *testing.T) {
	tests := []struct {
		src  string
		want int32
	}{
		{"1 && 2;", 2},
		{"0 && missing();", 0},
		{"1 || missing();", 1},
		{"0 || 5;", 5},
		{"null || 7;", 7},
	}
	for _, tt := range tests {
		v, _ := eval(t, tt.src)
		if v != runtime.SmiWord(tt.want) {
			t.Fatalf("%s = %#x, want smi %d", tt.src, v, tt.want)
		}
	}

	v, h := eval(t, `0 || "x";`)
	if got := h.GoString(v); got != "x" {
		t.Fatalf(`0 || "x" = %q`, got)
	}
	v, h = eval(t, `"" && 1;`)
	if got := h.GoString(v); got != "" {
		t.Fatalf(`"" && 1 = %q`, got)
	}
	v, h = eval(t, `"a" || "b";`)
	if got := h.GoString(v); got != "a" {
		t.Fatalf(`"a" || "b" = %q`, got)
	}
}

func TestConditional(t *testing.T) {
	tests := []struct {
		src  string
		want int32
	}{
		{"1 ? 2 : 3;", 2},
		{"0 ? 2 : 3;", 3},
		{"(1 && 0) ? 5 : 6;", 6},
		{"true ? 1 : 2;", 1},
		{"false ? 1 : 2;", 2},
	}
	for _, tt := range tests {
		v, _ := eval(t, tt.src)
		if v != runtime.SmiWord(tt.want) {
			t.Fatalf("%s = %#x, want smi %d", tt.src, v, tt.want)
		}
	}
}

func TestStringConcat(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		{`"ab" + "cd";`, "abcd"},
		{`"n=" + 5;`, "n=5"},
		{`5 + "x";`, "5x"},
		{`"a" + "b" + "c";`, "abc"},
	}
	for _, tt := range tests {
		v, h := eval(t, tt.src)
		if got := h.GoString(v); got != tt.want {
			t.Fatalf("%s = %q, want %q", tt.src, got, tt.want)
		}
	}
}

func TestStringLength(t *testing.T) {
	tests := []struct {
		src  string
		want int32
	}{
		{`"abc".length;`, 3},
		{`"".length;`, 0},
		{`("ab" + "cd").length;`, 4},
	}
	for _, tt := range tests {
		v, _ := eval(t, tt.src)
		if v != runtime.SmiWord(tt.want) {
			t.Fatalf("%s = %#x, want smi %d", tt.src, v, tt.want)
		}
	}
}

func TestFunctionCalls(t *testing.T) {
	v, _ := eval(t, "function id(x) { return x; } id(7);")
	if v != runtime.SmiWord(7) {
		t.Fatalf("id(7) = %#x", v)
	}

	v, _ = eval(t, "function add3(a, b, c) { return a + b + c; } add3(1, 2, 3);")
	if v != runtime.SmiWord(6) {
		t.Fatalf("add3(1, 2, 3) = %#x", v)
	}

	v, _ = eval(t, `
function fib(n) {
  if (n < 2) return n;
  return fib(n - 1) + fib(n - 2);
}
fib(10);`)
	if v != runtime.SmiWord(55) {
		t.Fatalf("fib(10) = %#x", v)
	}

	v, h := eval(t, "function f() {} f();")
	if v != h.Root(asm.RootUndefined) {
		t.Fatalf("fall-through return = %#x, want undefined", v)
	}
}

func TestClosures(t *testing.T) {
	v, _ := eval(t, `
function counter() {
  var n = 0;
  return function () {
    n = n + 1;
    return n;
  };
}
var c = counter();
c();
c();
c();`)
	if v != runtime.SmiWord(3) {
		t.Fatalf("counter = %#x, want smi 3", v)
	}

	v, _ = eval(t, `
function outer(a) {
  return function (b) {
    return function () { return a + b; };
  };
}
outer(10)(20)();`)
	if v != runtime.SmiWord(30) {
		t.Fatalf("nested capture = %#x, want smi 30", v)
	}
}

func TestNamedFunctionExpression(t *testing.T) {
	v, _ := eval(t, `
var fact = function f(n) {
  if (n < 2) return 1;
  return n * f(n - 1);
};
fact(5);`)
	if v != runtime.SmiWord(120) {
		t.Fatalf("fact(5) = %#x, want smi 120", v)
	}
}

func TestArgumentsObject(t *testing.T) {
	v, _ := eval(t, "function count() { return arguments.length; } count(1, 2, 3);")
	if v != runtime.SmiWord(3) {
		t.Fatalf("arguments.length = %#x, want smi 3", v)
	}

	v, _ = eval(t, "function second() { return arguments[1]; } second(10, 20);")
	if v != runtime.SmiWord(20) {
		t.Fatalf("arguments[1] = %#x, want smi 20", v)
	}

	v, _ = eval(t, "function sum(x) { return arguments[0] + arguments.length; } sum(5);")
	if v != runtime.SmiWord(6) {
		t.Fatalf("arguments mix = %#x, want smi 6", v)
	}
}

func TestCountOperators(t *testing.T) {
	tests := []struct {
		src  string
		want int32
	}{
		{"var i = 5; i++; i;", 6},
		{"var i = 5; i--; i;", 4},
		{"var i = 5; var j = i++; j;", 5},
		{"var i = 5; var j = ++i; j;", 6},
		{`var s = "5"; s++; s;`, 6},
		{`var s = "5"; var old = s++; old;`, 5},
		{"var o = {n: 1}; o.n++; o.n;", 2},
		{"var o = {n: 1}; ++o.n;", 2},
		{"var o = {n: 1}; o.n++;", 1},
	}
	for _, tt := range tests {
		v, _ := eval(t, tt.src)
		if v != runtime.SmiWord(tt.want) {
			t.Fatalf("%s = %#x, want smi %d", tt.src, v, tt.want)
		}
	}
}

func TestOverflowBoxing(t *testing.T) {
	tests := []struct {
		src  string
		want float64
	}{
		{"1073741823 + 1;", float64(asm.SmiMax) + 1},
		{"var i = 1073741823; i++; i;", float64(asm.SmiMax) + 1},
		{"-1073741824 - 1;", float64(asm.SmiMin) - 1},
		{"1 << 30;", 1 << 30},
		{"536870912 * 2;", 1 << 30},
		{"-1 >>> 0;", 4294967295},
		{"2147483647;", 2147483647},
	}
	for _, tt := range tests {
		v, h := eval(t, tt.src)
		if runtime.IsSmi(v) {
			t.Fatalf("%s = %#x, want heap number", tt.src, v)
		}
		if got := h.NumberAt(v); got != tt.want {
			t.Fatalf("%s = %v, want %v", tt.src, got, tt.want)
		}
	}

	// The old value handed back by postfix increment stays a smi.
	v, _ := eval(t, "var i = 1073741823; var old = i++; old;")
	if v != runtime.SmiWord(asm.SmiMax) {
		t.Fatalf("old = %#x, want smi max", v)
	}
}

func TestNegativeZero(t *testing.T) {
	for _, src := range []string{"-0;", "var z = 0; -z;", "-4 * 0;", "-4 % 2;"} {
		v, h := eval(t, src)
		if runtime.IsSmi(v) {
			t.Fatalf("%s = %#x, want heap number", src, v)
		}
		n := h.NumberAt(v)
		if n != 0 || !math.Signbit(n) {
			t.Fatalf("%s = %v, want -0", src, n)
		}
	}

	v, _ := eval(t, "0 - 0;")
	if v != runtime.SmiWord(0) {
		t.Fatalf("0 - 0 = %#x, want smi 0", v)
	}
}

func TestUnaryOperators(t *testing.T) {
	tests := []struct {
		src  string
		want int32
	}{
		{"~5;", -6},
		{"~0;", -1},
		{`+"7";`, 7},
		{"+true;", 1},
		{"+5;", 5},
		{"-5;", -5},
	}
	for _, tt := range tests {
		v, _ := eval(t, tt.src)
		if v != runtime.SmiWord(tt.want) {
			t.Fatalf("%s = %#x, want smi %d", tt.src, v, tt.want)
		}
	}

	bools := []struct {
		src  string
		want bool
	}{
		{"!true;", false},
		{"!0;", true},
		{`!"";`, true},
		{`!"x";`, false},
	}
	for _, tt := range bools {
		v, h := eval(t, tt.src)
		want := h.Root(asm.RootFalse)
		if tt.want {
			want = h.Root(asm.RootTrue)
		}
		if v != want {
			t.Fatalf("%s = %#x, want %v", tt.src, v, tt.want)
		}
	}
}

func TestGlobalVariables(t *testing.T) {
	v, _ := eval(t, "var x = 1; x = x + 1; x;")
	if v != runtime.SmiWord(2) {
		t.Fatalf("x = %#x, want smi 2", v)
	}

	// Assignment to an undeclared name creates the global.
	v, _ = eval(t, "y = 7; y;")
	if v != runtime.SmiWord(7) {
		t.Fatalf("y = %#x, want smi 7", v)
	}

	v, h := eval(t, "var a; a;")
	if v != h.Root(asm.RootUndefined) {
		t.Fatalf("a = %#x, want undefined", v)
	}

	v, _ = eval(t, "var a; var b; a = b = 5; a + b;")
	if v != runtime.SmiWord(10) {
		t.Fatalf("chained assign = %#x, want smi 10", v)
	}
}

func TestConstVariables(t *testing.T) {
	v, _ := eval(t, "const k = 5; k = 9; k;")
	if v != runtime.SmiWord(5) {
		t.Fatalf("const after assign = %#x, want smi 5", v)
	}

	v, _ = eval(t, "const k = 1; k += 2; k;")
	if v != runtime.SmiWord(1) {
		t.Fatalf("const after compound = %#x, want smi 1", v)
	}

	// The dropped store still yields the assigned value.
	v, _ = eval(t, "const k = 5; k = 9;")
	if v != runtime.SmiWord(9) {
		t.Fatalf("assign value = %#x, want smi 9", v)
	}

	v, _ = eval(t, "function f() { const c = 3; c = 8; return c; } f();")
	if v != runtime.SmiWord(3) {
		t.Fatalf("local const = %#x, want smi 3", v)
	}
}

func TestVarHoisting(t *testing.T) {
	v, _ := eval(t, "var r = f(); function f() { return 7; } r;")
	if v != runtime.SmiWord(7) {
		t.Fatalf("hoisted call = %#x, want smi 7", v)
	}
}

func TestIfStatement(t *testing.T) {
	tests := []struct {
		src  string
		want int32
	}{
		{"var r = 0; if (1 < 2) r = 1; else r = 2; r;", 1},
		{"var r = 0; if (2 < 1) r = 1; else r = 2; r;", 2},
		{"var r = 0; if (2 < 1) r = 1; r;", 0},
		{"var r = 0; if (true) r = 1; r;", 1},
		{"var r = 0; if (false) r = 1; r;", 0},
	}
	for _, tt := range tests {
		v, _ := eval(t, tt.src)
		if v != runtime.SmiWord(tt.want) {
			t.Fatalf("%s = %#x, want smi %d", tt.src, v, tt.want)
		}
	}
}

func TestWhileLoop(t *testing.T) {
	v, _ := eval(t, `
var s = 0;
var i = 0;
while (i < 3) {
  i = i + 1;
  s = s + i;
}
s;`)
	if v != runtime.SmiWord(6) {
		t.Fatalf("sum = %#x, want smi 6", v)
	}
}

func TestDoWhile(t *testing.T) {
	v, _ := eval(t, "var i = 0; do { i = i + 1; } while (i < 3); i;")
	if v != runtime.SmiWord(3) {
		t.Fatalf("i = %#x, want smi 3", v)
	}

	// The body runs once even when the condition never holds.
	v, _ = eval(t, "var i = 10; do { i = i + 1; } while (false); i;")
	if v != runtime.SmiWord(11) {
		t.Fatalf("i = %#x, want smi 11", v)
	}
}

func TestForLoop(t *testing.T) {
	v, _ := eval(t, "var s = 0; for (var i = 1; i <= 4; i++) { s = s + i; } s;")
	if v != runtime.SmiWord(10) {
		t.Fatalf("sum = %#x, want smi 10", v)
	}

	v, _ = eval(t, "var n = 0; for (;;) { n = n + 1; if (n == 3) break; } n;")
	if v != runtime.SmiWord(3) {
		t.Fatalf("n = %#x, want smi 3", v)
	}

	v, _ = eval(t, "var s = 0; for (var i = 0; i < 5; i++) { if (i == 2) continue; s = s + i; } s;")
	if v != runtime.SmiWord(8) {
		t.Fatalf("s = %#x, want smi 8", v)
	}
}

func TestSwitch(t *testing.T) {
	const pick = `
function pick(x) {
  var r = 0;
  switch (x) {
  case 1:
    r = 10;
    break;
  case 2:
    r = 20;
  case 3:
    r = r + 30;
    break;
  default:
    r = -1;
  }
  return r;
}
`
	tests := []struct {
		call string
		want int32
	}{
		{"pick(1);", 10},
		{"pick(2);", 50},
		{"pick(3);", 30},
		{"pick(9);", -1},
		{`pick("2");`, -1},
	}
	for _, tt := range tests {
		v, _ := eval(t, pick+tt.call)
		if v != runtime.SmiWord(tt.want) {
			t.Fatalf("%s = %#x, want smi %d", tt.call, v, tt.want)
		}
	}

	// No default and no match leaves the switch without effect.
	v, _ := eval(t, "var r = 9; switch (5) { case 1: r = 1; } r;")
	if v != runtime.SmiWord(9) {
		t.Fatalf("no match = %#x, want smi 9", v)
	}
}

func TestLabeledStatements(t *testing.T) {
	v, _ := eval(t, `
var n = 0;
outer: for (var i = 0; i < 3; i++) {
  for (var j = 0; j < 3; j++) {
    if (j == 1) continue outer;
    n = n + 1;
  }
}
n;`)
	if v != runtime.SmiWord(3) {
		t.Fatalf("continue outer = %#x, want smi 3", v)
	}

	v, _ = eval(t, `
var n = 0;
outer: for (var i = 0; i < 3; i++) {
  for (var j = 0; j < 3; j++) {
    if (i == 1 && j == 1) break outer;
    n = n + 1;
  }
}
n;`)
	if v != runtime.SmiWord(4) {
		t.Fatalf("break outer = %#x, want smi 4", v)
	}

	v, _ = eval(t, "var r = 1; done: { r = 2; break done; r = 3; } r;")
	if v != runtime.SmiWord(2) {
		t.Fatalf("labeled block = %#x, want smi 2", v)
	}
}

func TestMalformedStatements(t *testing.T) {
	tests := []struct {
		src  string
		kind errors.Kind
		msg  string
	}{
		{"break;", errors.SyntaxError, "illegal break"},
		{"continue;", errors.SyntaxError, "illegal continue"},
		{"return 1;", errors.SyntaxError, "return outside function"},
		{"while (1) { break nope; }", errors.SyntaxError, "undefined label"},
		{"5++;", errors.CompileError, "invalid assignment target"},
	}
	for _, tt := range tests {
		err := compileErr(t, tt.src, DefaultOptions())
		ce, ok := err.(*errors.Error)
		if !ok {
			t.Fatalf("%s: err = %v, want *errors.Error", tt.src, err)
		}
		if ce.Kind != tt.kind {
			t.Fatalf("%s: kind = %v, want %v", tt.src, ce.Kind, tt.kind)
		}
		if !strings.Contains(ce.Message, tt.msg) {
			t.Fatalf("%s: message = %q, want %q", tt.src, ce.Message, tt.msg)
		}
	}
}

func TestTryCatch(t *testing.T) {
	v, _ := eval(t, "var r = 0; try { throw 42; } catch (e) { r = e; } r;")
	if v != runtime.SmiWord(42) {
		t.Fatalf("caught = %#x, want smi 42", v)
	}

	v, _ = eval(t, "var r = 0; try { missing(); } catch (e) { r = 1; } r;")
	if v != runtime.SmiWord(1) {
		t.Fatalf("caught builtin = %#x, want smi 1", v)
	}

	v, h := eval(t, "var t = 0; try { missing(); } catch (e) { t = typeof e; } t;")
	if got := h.GoString(v); got != "object" {
		t.Fatalf("typeof e = %q, want object", got)
	}

	v, h = eval(t, "var n = 0; try { missing(); } catch (e) { n = e.name; } n;")
	if got := h.GoString(v); got != "ReferenceError" {
		t.Fatalf("e.name = %q, want ReferenceError", got)
	}
}

func TestTryFinally(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want int32
	}{
		{"fallthrough", "var r = 0; try { r = 10; } finally { r = r + 1; } r;", 11},
		{"return through", "function f() { try { return 1; } finally {} } f();", 1},
		{"finally overrides", "function f() { try { return 1; } finally { return 2; } } f();", 2},
		{"value captured first", "var x = 0; function f() { try { return x; } finally { x = 5; } } f();", 0},
		{"break through", "var n = 0; while (n < 9) { try { break; } finally { n = n + 1; } } n;", 1},
		{"rethrow to outer", "var r = 0; try { try { throw 1; } finally { r = 10; } } catch (e) { r = r + e; } r;", 11},
	}
	for _, tt := range tests {
		v, _ := eval(t, tt.src)
		if v != runtime.SmiWord(tt.want) {
			t.Fatalf("%s = %#x, want smi %d", tt.name, v, tt.want)
		}
	}
}

func TestUncaughtThrow(t *testing.T) {
	err := evalErr(t, `throw "boom";`)
	th, ok := err.(*runtime.Thrown)
	if !ok {
		t.Fatalf("err = %v, want Thrown", err)
	}
	if th.Message != "boom" {
		t.Fatalf("message = %q, want boom", th.Message)
	}

	err = evalErr(t, "throw 42;")
	th, ok = err.(*runtime.Thrown)
	if !ok {
		t.Fatalf("err = %v, want Thrown", err)
	}
	if th.Value != runtime.SmiWord(42) || th.Message != "42" {
		t.Fatalf("thrown = %#x %q", th.Value, th.Message)
	}

	err = evalErr(t, "missing;")
	th, ok = err.(*runtime.Thrown)
	if !ok {
		t.Fatalf("err = %v, want Thrown", err)
	}
	if !strings.Contains(th.Message, "is not defined") {
		t.Fatalf("message = %q", th.Message)
	}

	err = evalErr(t, "var u; u.x;")
	th, ok = err.(*runtime.Thrown)
	if !ok {
		t.Fatalf("err = %v, want Thrown", err)
	}
	if !strings.Contains(th.Message, "TypeError") {
		t.Fatalf("message = %q", th.Message)
	}
}

func TestObjectLiterals(t *testing.T) {
	v, _ := eval(t, "var o = {a: 1, b: 2}; o.a + o.b;")
	if v != runtime.SmiWord(3) {
		t.Fatalf("o.a + o.b = %#x, want smi 3", v)
	}

	v, _ = eval(t, `var o = {}; o.k = 5; o["k"];`)
	if v != runtime.SmiWord(5) {
		t.Fatalf("keyed load = %#x, want smi 5", v)
	}

	// Numeric keys normalize to their string spelling.
	v, _ = eval(t, `var o = {}; o[1] = 7; o["1"];`)
	if v != runtime.SmiWord(7) {
		t.Fatalf("o[1] = %#x, want smi 7", v)
	}
	v, _ = eval(t, "var o = {1: 7}; o[1];")
	if v != runtime.SmiWord(7) {
		t.Fatalf("literal numeric key = %#x, want smi 7", v)
	}

	v, h := eval(t, "var o = {}; o.nope;")
	if v != h.Root(asm.RootUndefined) {
		t.Fatalf("missing prop = %#x, want undefined", v)
	}

	v, _ = eval(t, "var o = {p: {q: 4}}; o.p.q;")
	if v != runtime.SmiWord(4) {
		t.Fatalf("nested = %#x, want smi 4", v)
	}
}

func TestMethodCalls(t *testing.T) {
	v, _ := eval(t, "var o = {f: function (x) { return x + 1; }}; o.f(41);")
	if v != runtime.SmiWord(42) {
		t.Fatalf("o.f(41) = %#x, want smi 42", v)
	}

	v, _ = eval(t, `var o = {f: function () { return 7; }}; o["f"]();`)
	if v != runtime.SmiWord(7) {
		t.Fatalf(`o["f"]() = %#x, want smi 7`, v)
	}
}

func TestNewExpression(t *testing.T) {
	v, h := eval(t, "function C() {} typeof new C();")
	if got := h.GoString(v); got != "object" {
		t.Fatalf("typeof new C() = %q, want object", got)
	}

	// A constructor returning an object overrides the allocation.
	v, _ = eval(t, "function D() { return {a: 9}; } var d = new D(); d.a;")
	if v != runtime.SmiWord(9) {
		t.Fatalf("d.a = %#x, want smi 9", v)
	}

	// A primitive return does not.
	v, h = eval(t, "function E() { return 5; } typeof new E();")
	if got := h.GoString(v); got != "object" {
		t.Fatalf("typeof new E() = %q, want object", got)
	}

	v, _ = eval(t, "var got = 0; function F(x) { got = x; } new F(3); got;")
	if v != runtime.SmiWord(3) {
		t.Fatalf("constructor arg = %#x, want smi 3", v)
	}
}

func TestDeadBranches(t *testing.T) {
	for _, src := range []string{
		`if (false) print("x");`,
		`while (false) { print("x"); }`,
		"true ? 1 : missing();",
	} {
		code := compile(t, src, DefaultOptions())
		if n := countCalls(code); n != 0 {
			t.Fatalf("%s emitted %d calls", src, n)
		}
	}
}

func TestStackOverflowGuard(t *testing.T) {
	code := compile(t, "function loop() { return loop(); } loop();", DefaultOptions())
	h, err := runtime.NewHeap(runtime.Config{StackSize: 1 << 16})
	if err != nil {
		t.Fatalf("heap: %v", err)
	}
	m := simulator.NewMachine(h)
	m.SetMaxSteps(10000000)
	_, err = m.Run(code)
	if err == nil {
		t.Fatal("runaway recursion did not trap")
	}
	th, ok := err.(*runtime.Thrown)
	if !ok {
		t.Fatalf("err = %v, want Thrown", err)
	}
	if !strings.Contains(th.Message, "RangeError") || !strings.Contains(th.Message, "call stack") {
		t.Fatalf("message = %q", th.Message)
	}
}

func TestCompileDepthLimit(t *testing.T) {
	err := compileErr(t, strings.Repeat("1+", 600)+"1;", DefaultOptions())
	if !errors.IsStackOverflow(err) {
		t.Fatalf("err = %v, want stack overflow", err)
	}

	err = compileErr(t, strings.Repeat("1+", 20)+"1;", Options{MaxDepth: 8})
	if !errors.IsStackOverflow(err) {
		t.Fatalf("err = %v, want stack overflow", err)
	}
}

func TestFastPathsDisabled(t *testing.T) {
	smis := []struct {
		src  string
		want int32
	}{
		{"10 - 3;", 7},
		{"7 % 4;", 3},
		{"var i = 5; i++; i;", 6},
		{`
function fib(n) {
  if (n < 2) return n;
  return fib(n - 1) + fib(n - 2);
}
fib(10);`, 55},
	}
	for _, tt := range smis {
		v, _ := evalWith(t, tt.src, Options{})
		if v != runtime.SmiWord(tt.want) {
			t.Fatalf("%s = %#x, want smi %d", tt.src, v, tt.want)
		}
	}

	bools := []struct {
		src  string
		want bool
	}{
		{"undefined == null;", true},
		{"0 == null;", false},
		{`typeof missing == "undefined";`, true},
		{"1 < 2;", true},
	}
	for _, tt := range bools {
		v, h := evalWith(t, tt.src, Options{})
		want := h.Root(asm.RootFalse)
		if tt.want {
			want = h.Root(asm.RootTrue)
		}
		if v != want {
			t.Fatalf("%s = %#x, want %v", tt.src, v, tt.want)
		}
	}

	v, h := evalWith(t, "1073741823 + 1;", Options{})
	if runtime.IsSmi(v) || h.NumberAt(v) != float64(asm.SmiMax)+1 {
		t.Fatalf("overflow = %#x", v)
	}

	v, h = evalWith(t, "var z = 0; -z;", Options{})
	if runtime.IsSmi(v) || !math.Signbit(h.NumberAt(v)) {
		t.Fatalf("-z = %#x, want -0", v)
	}
}

// Identical loops with different trip counts allocate identically when
// every iteration stays on the smi fast path; the overflow variant
// allocates per boxed result.
func TestAllocationFreeFastPath(t *testing.T) {
	run := func(body string) int {
		code := compile(t, "function f(x) { return x + 1; }\n"+body, DefaultOptions())
		h, m := newVM(t)
		if _, err := m.Run(code); err != nil {
			t.Fatalf("run %q: %v", body, err)
		}
		return h.AllocCount()
	}

	n100 := run("var i = 0; while (i < 100) { f(1); i++; }")
	n200 := run("var i = 0; while (i < 200) { f(1); i++; }")
	if n200 != n100 {
		t.Fatalf("fast path allocated: %d vs %d", n100, n200)
	}

	o100 := run("var i = 0; while (i < 100) { f(1073741823); i++; }")
	o200 := run("var i = 0; while (i < 200) { f(1073741823); i++; }")
	if o200 <= o100 {
		t.Fatalf("overflow path did not allocate: %d vs %d", o100, o200)
	}
}

func TestPrintOutput(t *testing.T) {
	code := compile(t, `print("hello"); print(42); print("a" + "b");`, DefaultOptions())
	h, m := newVM(t)
	var buf bytes.Buffer
	h.Out = &buf
	if _, err := m.Run(code); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := buf.String(); got != "hello\n42\nab\n" {
		t.Fatalf("output = %q", got)
	}
}

func TestCompoundAssignment(t *testing.T) {
	tests := []struct {
		src  string
		want int32
	}{
		{"var v = 10; v -= 3; v;", 7},
		{"var v = 10; v *= 2; v;", 20},
		{"var v = 10; v %= 4; v;", 2},
		{"var v = 6; v &= 3; v;", 2},
		{"var b = 1; b <<= 4; b;", 16},
		{"var v = -1; v >>>= 28; v;", 15},
		{"var o = {n: 1}; o.n += 2; o.n;", 3},
		{`var o = {k: 1}; o["k"] += 2; o.k;`, 3},
	}
	for _, tt := range tests {
		v, _ := eval(t, tt.src)
		if v != runtime.SmiWord(tt.want) {
			t.Fatalf("%s = %#x, want smi %d", tt.src, v, tt.want)
		}
	}

	v, h := eval(t, "var v = 7; v /= 2; v;")
	if runtime.IsSmi(v) || h.NumberAt(v) != 3.5 {
		t.Fatalf("v /= 2 = %#x, want 3.5", v)
	}
}
