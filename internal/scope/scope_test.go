package scope

import (
	"strings"
	"testing"

	"stratus/internal/lexer"
	"stratus/internal/parser"
)

func mustResolve(t *testing.T, src string) *Resolution {
	t.Helper()
	tokens := lexer.NewScanner(src).ScanTokens()
	p := parser.NewParserWithSource(tokens, src, "test.st")
	program := p.Parse()
	if len(p.Errors) > 0 {
		t.Fatalf("parse: %v", p.Errors)
	}
	res, err := Resolve(program, "test.st")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	return res
}

func funcNamed(t *testing.T, res *Resolution, name string) *FuncInfo {
	t.Helper()
	for _, info := range res.Funcs {
		if info.Name == name {
			return info
		}
	}
	t.Fatalf("no function %q in resolution", name)
	return nil
}

// refFor fetches the resolved reference of any use of name. The test
// programs use each name in one function only.
func refFor(t *testing.T, res *Resolution, name string) VarRef {
	t.Helper()
	for _, ref := range res.Uses {
		if ref.Name == name {
			return ref
		}
	}
	t.Fatalf("no use of %q in resolution", name)
	return VarRef{}
}

func TestScriptVarsAreGlobal(t *testing.T) {
	res := mustResolve(t, "var a = 1; a;")
	if !res.Script.IsScript {
		t.Fatal("script info not marked")
	}
	ref := refFor(t, res, "a")
	if ref.Kind != KindGlobal {
		t.Fatalf("a resolves to %s, want global", ref.Kind)
	}
	if res.Script.NumLocals != 0 || res.Script.NumCtxSlots != 0 {
		t.Fatalf("script slots = %d/%d, want none", res.Script.NumLocals, res.Script.NumCtxSlots)
	}
}

func TestParametersAndLocals(t *testing.T) {
	res := mustResolve(t, "function f(p0, p1) { var loc = p0 + p1; return loc; }")
	info := funcNamed(t, res, "f")
	if len(info.Params) != 2 {
		t.Fatalf("params = %v", info.Params)
	}
	if info.NumLocals != 1 || info.NumCtxSlots != 0 || info.NeedsContext {
		t.Fatalf("slots = %d locals, %d ctx, needsContext=%t",
			info.NumLocals, info.NumCtxSlots, info.NeedsContext)
	}

	p0 := refFor(t, res, "p0")
	if p0.Kind != KindParameter || p0.Index != 0 {
		t.Fatalf("p0 = %+v", p0)
	}
	p1 := refFor(t, res, "p1")
	if p1.Kind != KindParameter || p1.Index != 1 {
		t.Fatalf("p1 = %+v", p1)
	}
	loc := refFor(t, res, "loc")
	if loc.Kind != KindLocal || loc.Index != 0 {
		t.Fatalf("loc = %+v", loc)
	}
}

func TestCapturePromotesToContext(t *testing.T) {
	res := mustResolve(t, `
		function outer() {
			var n = 0;
			function inner() { n = n + 1; }
			inner();
			return n;
		}`)
	outer := funcNamed(t, res, "outer")
	if !outer.NeedsContext || outer.NumCtxSlots != 1 {
		t.Fatalf("outer = needsContext=%t ctx=%d", outer.NeedsContext, outer.NumCtxSlots)
	}
	// n moved to the context; the inner function binding stays a stack local.
	if outer.NumLocals != 1 {
		t.Fatalf("locals = %d, want 1", outer.NumLocals)
	}
	inner := funcNamed(t, res, "inner")
	if inner.NeedsContext {
		t.Fatal("inner allocates a context it does not need")
	}

	n := refFor(t, res, "n")
	if n.Kind != KindContext || n.Index != 0 || n.Depth != 0 {
		t.Fatalf("n = %+v, want context slot 0 at depth 0", n)
	}
}

func TestContextChainDepth(t *testing.T) {
	res := mustResolve(t, `
		function top() {
			var deepVar = 1;
			function mid() {
				var midVar = 2;
				function leaf() { return deepVar + midVar; }
				return leaf;
			}
			return mid;
		}`)

	// mid materializes its own context for midVar, so deepVar sits one
	// hop further from leaf than midVar does.
	deep := refFor(t, res, "deepVar")
	if deep.Kind != KindContext || deep.Depth != 1 {
		t.Fatalf("deepVar = %+v, want context at depth 1", deep)
	}
	mid := refFor(t, res, "midVar")
	if mid.Kind != KindContext || mid.Depth != 0 {
		t.Fatalf("midVar = %+v, want context at depth 0", mid)
	}
}

func TestCapturedParameterCopiedToContext(t *testing.T) {
	res := mustResolve(t, `
		function mk(seed) {
			return function () { return seed; };
		}`)
	mk := funcNamed(t, res, "mk")
	if !mk.NeedsContext || mk.NumCtxSlots != 1 {
		t.Fatalf("mk = needsContext=%t ctx=%d", mk.NeedsContext, mk.NumCtxSlots)
	}
	if len(mk.CtxParams) != 1 || mk.CtxParams[0] != [2]int{0, 0} {
		t.Fatalf("ctx params = %v, want [[0 0]]", mk.CtxParams)
	}
	seed := refFor(t, res, "seed")
	if seed.Kind != KindContext || seed.Index != 0 {
		t.Fatalf("seed = %+v", seed)
	}
}

func TestArgumentsIsImplicit(t *testing.T) {
	res := mustResolve(t, "function f() { return arguments.length; }")
	info := funcNamed(t, res, "f")
	if !info.UsesArguments {
		t.Fatal("arguments use not recorded")
	}
	if info.ArgumentsRef.Kind != KindLocal {
		t.Fatalf("arguments ref = %+v, want local", info.ArgumentsRef)
	}
	if info.NumLocals != 1 {
		t.Fatalf("locals = %d, want 1", info.NumLocals)
	}
}

func TestNamedExpressionSelfReference(t *testing.T) {
	res := mustResolve(t, "var f = function fact(n) { return n < 2 ? 1 : n * fact(n - 1); };")
	ref := refFor(t, res, "fact")
	if ref.Kind != KindParameter || ref.Index != CalleeSlot {
		t.Fatalf("fact = %+v, want callee slot", ref)
	}
}

func TestCatchVariableGetsLocalSlot(t *testing.T) {
	res := mustResolve(t, `
		function f() {
			try { throw 1; } catch (caught) { return caught; }
			return 0;
		}`)
	if len(res.CatchSlots) != 1 {
		t.Fatalf("catch slots = %d", len(res.CatchSlots))
	}
	var slot VarRef
	for _, ref := range res.CatchSlots {
		slot = ref
	}
	if slot.Kind != KindLocal {
		t.Fatalf("catch slot = %+v, want local", slot)
	}
	use := refFor(t, res, "caught")
	if use.Kind != KindLocal || use.Index != slot.Index {
		t.Fatalf("use = %+v, slot = %+v", use, slot)
	}
}

func TestCatchShadowsOuterLocal(t *testing.T) {
	res := mustResolve(t, `
		function f() {
			var e = 1;
			try { throw 2; } catch (e) { e; }
			return e;
		}`)
	info := funcNamed(t, res, "f")
	// One slot for the var, one for the catch shadow.
	if info.NumLocals != 2 {
		t.Fatalf("locals = %d, want 2", info.NumLocals)
	}
}

func TestClosureOverCatchVariableRejected(t *testing.T) {
	src := `
		function f() {
			try { g(); } catch (e) {
				return function () { return e; };
			}
		}`
	tokens := lexer.NewScanner(src).ScanTokens()
	p := parser.NewParserWithSource(tokens, src, "test.st")
	program := p.Parse()
	if len(p.Errors) > 0 {
		t.Fatalf("parse: %v", p.Errors)
	}
	_, err := Resolve(program, "test.st")
	if err == nil {
		t.Fatal("no error for closure over catch variable")
	}
	if !strings.Contains(err.Error(), "closure over catch variable") {
		t.Fatalf("error = %v", err)
	}
}

func TestUndeclaredFallsBackToGlobal(t *testing.T) {
	res := mustResolve(t, "function f() { return missing9; }")
	ref := refFor(t, res, "missing9")
	if ref.Kind != KindGlobal {
		t.Fatalf("missing9 = %+v, want global", ref)
	}
}

func TestRedeclarationSharesSlot(t *testing.T) {
	res := mustResolve(t, "function f() { var a = 1; var a = 2; return a; }")
	info := funcNamed(t, res, "f")
	if info.NumLocals != 1 {
		t.Fatalf("locals = %d, want 1", info.NumLocals)
	}
}

func TestScriptDeclarationOrder(t *testing.T) {
	res := mustResolve(t, "const k = 3; function g() { } k;")
	decls := res.Script.Declarations
	if len(decls) != 2 {
		t.Fatalf("declarations = %d, want 2", len(decls))
	}
	// Function declarations come first so calls before the var
	// preamble already see them.
	if decls[0].Name != "g" || decls[0].Fn == nil {
		t.Fatalf("decl 0 = %+v, want function g", decls[0])
	}
	if decls[1].Name != "k" || !decls[1].Const || decls[1].Fn != nil {
		t.Fatalf("decl 1 = %+v, want const k", decls[1])
	}
}

func TestVarKindString(t *testing.T) {
	tests := []struct {
		kind VarKind
		want string
	}{
		{KindParameter, "parameter"},
		{KindLocal, "local"},
		{KindContext, "context"},
		{KindGlobal, "global"},
	}
	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", tt.kind, got, tt.want)
		}
	}
}
