// Package scope resolves every variable use in a program to a storage
// location before compilation: parameter slot, stack-local slot,
// context slot at a chain depth, or global lookup. The compiler
// consumes this metadata read-only.
package scope

import (
	"stratus/internal/ast"
	"stratus/internal/errors"
)

type VarKind int

const (
	KindParameter VarKind = iota
	KindLocal
	KindContext
	KindGlobal
)

func (k VarKind) String() string {
	switch k {
	case KindParameter:
		return "parameter"
	case KindLocal:
		return "local"
	case KindContext:
		return "context"
	default:
		return "global"
	}
}

// CalleeSlot marks a parameter reference that resolves to the function
// object itself (named function expressions calling themselves).
const CalleeSlot = -1

// VarRef is the resolved location of one variable use site.
type VarRef struct {
	Kind  VarKind
	Index int // parameter index, local slot, or context slot
	Depth int // context chain hops, KindContext only
	Const bool
	Name  string
}

// Declaration is one hoisted declaration the prologue must process.
// Fn is non-nil for function declarations.
type Declaration struct {
	Name  string
	Ref   VarRef
	Const bool
	Fn    *ast.FunctionLit
}

// FuncInfo is the resolution result for one function (or the script
// top level, where IsScript is set and declarations are global).
type FuncInfo struct {
	Name          string
	Params        []string
	IsScript      bool
	NumLocals     int // stack locals, including catch and synthetic slots
	NumCtxSlots   int
	NeedsContext  bool
	UsesArguments bool
	ArgumentsRef  VarRef // valid when UsesArguments

	// Parameters the prologue copies into the local context:
	// (parameter index, context slot). Index CalleeSlot means the
	// function object itself.
	CtxParams [][2]int

	Declarations []Declaration
}

// Resolution maps syntax nodes to resolved metadata.
type Resolution struct {
	Script     *FuncInfo
	Funcs      map[*ast.FunctionLit]*FuncInfo
	Uses       map[*ast.Variable]VarRef
	Decls      map[*ast.VarDecl]VarRef
	CatchSlots map[*ast.TryCatch]VarRef
}

type binding struct {
	name     string
	owner    *funcScope
	isParam  bool
	paramIdx int
	isConst  bool
	isCatch  bool
	captured bool
	ref      VarRef // set by allocate
}

type funcScope struct {
	fn      *ast.FunctionLit // nil for script
	parent  *funcScope
	info    *FuncInfo
	vars    map[string]*binding
	catches []map[string]*binding // innermost last
	ordered []*binding            // declaration order, for stable slots
	funcs   []*ast.FunctionLit    // function declarations, in order
}

type pendingUse struct {
	v   *ast.Variable
	b   *binding
	use *funcScope
}

type pendingDecl struct {
	d *ast.VarDecl
	b *binding
}

type pendingCatch struct {
	c *ast.TryCatch
	b *binding
}

type resolver struct {
	res     *Resolution
	file    string
	err     error
	uses    []pendingUse
	decls   []pendingDecl
	catches []pendingCatch
}

// Resolve analyzes a parsed program. The returned Resolution feeds the
// compiler; the error reports the first construct resolution cannot
// support.
func Resolve(program []ast.Stmt, file string) (*Resolution, error) {
	r := &resolver{
		res: &Resolution{
			Funcs:      make(map[*ast.FunctionLit]*FuncInfo),
			Uses:       make(map[*ast.Variable]VarRef),
			Decls:      make(map[*ast.VarDecl]VarRef),
			CatchSlots: make(map[*ast.TryCatch]VarRef),
		},
		file: file,
	}
	script := &funcScope{
		info: &FuncInfo{Name: "<script>", IsScript: true},
		vars: make(map[string]*binding),
	}
	r.res.Script = script.info

	r.collectStmts(script, program)
	r.resolveStmts(script, program)
	r.allocate(script)
	return r.res, r.err
}

func (r *resolver) fail(line int, format string, args ...interface{}) {
	if r.err == nil {
		r.err = errors.New(errors.NotSupported,
			errors.Location{File: r.file, Line: line}, format, args...)
	}
}

// --- phase 1: hoist declarations ---

func (r *resolver) declare(s *funcScope, name string, isConst bool) *binding {
	if b, ok := s.vars[name]; ok {
		// Redeclaration keeps the first slot; const-ness sticks to the
		// first declaration, matching hoisting rules.
		return b
	}
	b := &binding{name: name, owner: s, isConst: isConst}
	s.vars[name] = b
	s.ordered = append(s.ordered, b)
	return b
}

func (r *resolver) collectStmts(s *funcScope, stmts []ast.Stmt) {
	for _, st := range stmts {
		r.collectStmt(s, st)
	}
}

func (r *resolver) collectStmt(s *funcScope, st ast.Stmt) {
	switch n := st.(type) {
	case *ast.VarDecl:
		r.declare(s, n.Name, n.Mode == "const")
	case *ast.FunctionDecl:
		r.declare(s, n.Fn.Name, false)
		s.funcs = append(s.funcs, n.Fn)
	case *ast.Block:
		r.collectStmts(s, n.Stmts)
	case *ast.If:
		r.collectStmt(s, n.Then)
		if n.Else != nil {
			r.collectStmt(s, n.Else)
		}
	case *ast.While:
		r.collectStmt(s, n.Body)
	case *ast.DoWhile:
		r.collectStmt(s, n.Body)
	case *ast.For:
		if n.Init != nil {
			r.collectStmt(s, n.Init)
		}
		r.collectStmt(s, n.Body)
	case *ast.Switch:
		for _, c := range n.Cases {
			r.collectStmts(s, c.Body)
		}
	case *ast.TryCatch:
		r.collectStmts(s, n.Try)
		r.collectStmts(s, n.Catch)
	case *ast.TryFinally:
		r.collectStmt(s, n.Try)
		r.collectStmts(s, n.Finally)
	case *ast.Labeled:
		r.collectStmt(s, n.Stmt)
	}
}

// --- phase 2: resolve uses, discover captures ---

func (r *resolver) lookupLocal(s *funcScope, name string) *binding {
	for i := len(s.catches) - 1; i >= 0; i-- {
		if b, ok := s.catches[i][name]; ok {
			return b
		}
	}
	if b, ok := s.vars[name]; ok {
		return b
	}
	return nil
}

func (r *resolver) resolveName(s *funcScope, v *ast.Variable) {
	for scope := s; scope != nil; scope = scope.parent {
		b := r.lookupLocal(scope, v.Name)
		if b == nil {
			continue
		}
		if scope != s && !scope.info.IsScript {
			b.captured = true
			b.owner.info.NeedsContext = true
		}
		if scope.info.IsScript {
			// Script-level vars live on the global object.
			r.res.Uses[v] = VarRef{Kind: KindGlobal, Name: v.Name, Const: b.isConst}
			return
		}
		r.uses = append(r.uses, pendingUse{v: v, b: b, use: s})
		return
	}
	if v.Name == "arguments" && !s.info.IsScript {
		b := r.declare(s, "arguments", false)
		s.info.UsesArguments = true
		r.uses = append(r.uses, pendingUse{v: v, b: b, use: s})
		return
	}
	r.res.Uses[v] = VarRef{Kind: KindGlobal, Name: v.Name}
}

func (r *resolver) resolveStmts(s *funcScope, stmts []ast.Stmt) {
	for _, st := range stmts {
		r.resolveStmt(s, st)
	}
}

func (r *resolver) resolveStmt(s *funcScope, st ast.Stmt) {
	switch n := st.(type) {
	case *ast.VarDecl:
		if n.Init != nil {
			r.resolveExpr(s, n.Init)
		}
		if s.info.IsScript {
			r.res.Decls[n] = VarRef{Kind: KindGlobal, Name: n.Name, Const: n.Mode == "const"}
		} else {
			r.decls = append(r.decls, pendingDecl{d: n, b: s.vars[n.Name]})
		}
	case *ast.FunctionDecl:
		r.resolveFunction(s, n.Fn)
	case *ast.ExpressionStmt:
		r.resolveExpr(s, n.Expr)
	case *ast.Block:
		r.resolveStmts(s, n.Stmts)
	case *ast.If:
		r.resolveExpr(s, n.Cond)
		r.resolveStmt(s, n.Then)
		if n.Else != nil {
			r.resolveStmt(s, n.Else)
		}
	case *ast.While:
		r.resolveExpr(s, n.Cond)
		r.resolveStmt(s, n.Body)
	case *ast.DoWhile:
		r.resolveStmt(s, n.Body)
		r.resolveExpr(s, n.Cond)
	case *ast.For:
		if n.Init != nil {
			r.resolveStmt(s, n.Init)
		}
		if n.Cond != nil {
			r.resolveExpr(s, n.Cond)
		}
		if n.Next != nil {
			r.resolveExpr(s, n.Next)
		}
		r.resolveStmt(s, n.Body)
	case *ast.Switch:
		r.resolveExpr(s, n.Tag)
		for _, c := range n.Cases {
			if c.Value != nil {
				r.resolveExpr(s, c.Value)
			}
			r.resolveStmts(s, c.Body)
		}
	case *ast.Return:
		if n.Value != nil {
			r.resolveExpr(s, n.Value)
		}
	case *ast.Throw:
		r.resolveExpr(s, n.Value)
	case *ast.TryCatch:
		r.resolveStmts(s, n.Try)
		shadow := &binding{name: n.CatchVar, owner: s, isCatch: true}
		s.catches = append(s.catches, map[string]*binding{n.CatchVar: shadow})
		s.ordered = append(s.ordered, shadow)
		r.catches = append(r.catches, pendingCatch{c: n, b: shadow})
		r.resolveStmts(s, n.Catch)
		s.catches = s.catches[:len(s.catches)-1]
		if shadow.captured {
			r.fail(n.Line, "closure over catch variable '%s'", n.CatchVar)
		}
	case *ast.TryFinally:
		r.resolveStmt(s, n.Try)
		r.resolveStmts(s, n.Finally)
	case *ast.Labeled:
		r.resolveStmt(s, n.Stmt)
	}
}

func (r *resolver) resolveExpr(s *funcScope, e ast.Expr) {
	switch n := e.(type) {
	case *ast.Variable:
		r.resolveName(s, n)
	case *ast.Assign:
		r.resolveExpr(s, n.Target)
		r.resolveExpr(s, n.Value)
	case *ast.Binary:
		r.resolveExpr(s, n.Left)
		r.resolveExpr(s, n.Right)
	case *ast.Logical:
		r.resolveExpr(s, n.Left)
		r.resolveExpr(s, n.Right)
	case *ast.Unary:
		r.resolveExpr(s, n.Operand)
	case *ast.Count:
		r.resolveExpr(s, n.Target)
	case *ast.Conditional:
		r.resolveExpr(s, n.Cond)
		r.resolveExpr(s, n.Then)
		r.resolveExpr(s, n.Else)
	case *ast.Call:
		r.resolveExpr(s, n.Callee)
		for _, a := range n.Args {
			r.resolveExpr(s, a)
		}
	case *ast.New:
		r.resolveExpr(s, n.Callee)
		for _, a := range n.Args {
			r.resolveExpr(s, a)
		}
	case *ast.Property:
		r.resolveExpr(s, n.Object)
	case *ast.Index:
		r.resolveExpr(s, n.Object)
		r.resolveExpr(s, n.Key)
	case *ast.FunctionLit:
		r.resolveFunction(s, n)
	case *ast.ObjectLit:
		for _, v := range n.Values {
			r.resolveExpr(s, v)
		}
	}
}

func (r *resolver) resolveFunction(parent *funcScope, fn *ast.FunctionLit) {
	s := &funcScope{
		fn:     fn,
		parent: parent,
		info:   &FuncInfo{Name: fn.Name, Params: fn.Params},
		vars:   make(map[string]*binding),
	}
	r.res.Funcs[fn] = s.info
	for i, p := range fn.Params {
		b := r.declare(s, p, false)
		b.isParam = true
		b.paramIdx = i
	}
	// A named function expression can reference itself by name.
	if fn.Name != "" {
		if _, ok := s.vars[fn.Name]; !ok {
			b := r.declare(s, fn.Name, false)
			b.isParam = true
			b.paramIdx = CalleeSlot
		}
	}
	r.collectStmts(s, fn.Body)
	r.resolveStmts(s, fn.Body)
	r.allocate(s)
}

// --- phase 3: slot allocation ---

// allocate fixes slots for a scope and patches every pending use owned
// by it. Inner functions allocate before their enclosing function, so
// NeedsContext is final for all use sites by the time their owner
// allocates.
func (r *resolver) allocate(s *funcScope) {
	info := s.info
	nextLocal := 0
	nextCtx := 0
	for _, b := range s.ordered {
		switch {
		case info.IsScript && !b.isCatch:
			b.ref = VarRef{Kind: KindGlobal, Name: b.name, Const: b.isConst}
		case b.captured:
			b.ref = VarRef{Kind: KindContext, Index: nextCtx, Name: b.name, Const: b.isConst}
			if b.isParam {
				info.CtxParams = append(info.CtxParams, [2]int{b.paramIdx, nextCtx})
			}
			nextCtx++
		case b.isParam:
			b.ref = VarRef{Kind: KindParameter, Index: b.paramIdx, Name: b.name}
		default:
			b.ref = VarRef{Kind: KindLocal, Index: nextLocal, Name: b.name, Const: b.isConst}
			nextLocal++
		}
	}
	info.NumLocals = nextLocal
	info.NumCtxSlots = nextCtx
	if nextCtx > 0 {
		info.NeedsContext = true
	}

	// Hoisted declarations for the prologue: function declarations
	// initialize; the script preamble also declares plain vars on the
	// global object.
	for _, fl := range s.funcs {
		b := s.vars[fl.Name]
		info.Declarations = append(info.Declarations, Declaration{
			Name: fl.Name, Ref: b.ref, Fn: fl,
		})
	}
	if info.IsScript {
		for _, b := range s.ordered {
			if b.isCatch || s.funcDeclFor(b.name) != nil {
				continue
			}
			info.Declarations = append(info.Declarations, Declaration{
				Name: b.name, Ref: b.ref, Const: b.isConst,
			})
		}
	}

	r.uses = patchUses(r.res, r.uses, s)
	r.decls = patchDecls(r.res, r.decls, s)
	r.catches = patchCatches(r.res, r.catches, s)

	if info.UsesArguments {
		if b, ok := s.vars["arguments"]; ok {
			info.ArgumentsRef = b.ref
		}
	}
}

func patchUses(res *Resolution, pending []pendingUse, s *funcScope) []pendingUse {
	rest := pending[:0]
	for _, pu := range pending {
		if pu.b.owner != s {
			rest = append(rest, pu)
			continue
		}
		res.Uses[pu.v] = refFrom(pu.use, pu.b)
	}
	return rest
}

func patchDecls(res *Resolution, pending []pendingDecl, s *funcScope) []pendingDecl {
	rest := pending[:0]
	for _, pd := range pending {
		if pd.b.owner != s {
			rest = append(rest, pd)
			continue
		}
		res.Decls[pd.d] = pd.b.ref
	}
	return rest
}

func patchCatches(res *Resolution, pending []pendingCatch, s *funcScope) []pendingCatch {
	rest := pending[:0]
	for _, pc := range pending {
		if pc.b.owner != s {
			rest = append(rest, pc)
			continue
		}
		res.CatchSlots[pc.c] = pc.b.ref
	}
	return rest
}

func (s *funcScope) funcDeclFor(name string) *ast.FunctionLit {
	for _, fl := range s.funcs {
		if fl.Name == name {
			return fl
		}
	}
	return nil
}

// refFrom computes the reference as seen from the use site's function,
// adding context chain depth when the binding lives in an enclosing
// function. The depth is the number of materialized contexts between
// the use site's context register and the owner's context.
func refFrom(use *funcScope, b *binding) VarRef {
	ref := b.ref
	if ref.Kind != KindContext {
		return ref
	}
	depth := 0
	for sc := use; sc != nil && sc != b.owner; sc = sc.parent {
		if sc.info.NeedsContext {
			depth++
		}
	}
	ref.Depth = depth
	return ref
}
