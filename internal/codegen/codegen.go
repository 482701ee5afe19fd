// Package codegen translates resolved syntax trees into code
// objects. It is a baseline compiler: a single pass over the tree
// with no intermediate representation. Values flow through a virtual
// frame so straight line code keeps intermediates in registers, and
// comparisons compile to a pending register test consumed by the next
// branch instead of a materialized boolean whenever control flow
// allows. Operations with uncommon cases emit an inline fast path and
// a deferred slow path placed after the function body.
package codegen

import (
	"stratus/internal/asm"
	"stratus/internal/ast"
	"stratus/internal/errors"
	"stratus/internal/frame"
	"stratus/internal/runtime"
	"stratus/internal/scope"
	"stratus/internal/stubs"
)

// Options tune what the compiler open-codes. The zero value disables
// every fast path, which keeps emitted code small and predictable
// when auditing it.
type Options struct {
	// InlineSmiOps open-codes small integer arithmetic when one
	// operand is a constant, with a deferred stub call fallback.
	InlineSmiOps bool

	// CompareFastPaths open-codes comparisons against the null
	// literal and typeof tests against a literal type name.
	CompareFastPaths bool

	// MaxDepth bounds syntax tree recursion; zero means the default.
	MaxDepth int
}

const defaultMaxDepth = 512

// DefaultOptions enables every fast path.
func DefaultOptions() Options {
	return Options{InlineSmiOps: true, CompareFastPaths: true, MaxDepth: defaultMaxDepth}
}

// Compile translates a resolved program into a script code object.
// Function literals become nested code objects in the constant pool;
// the stub cache is shared across compiles so call sites reuse one
// stub per operation.
func Compile(program []ast.Stmt, res *scope.Resolution, file string, cache *stubs.Cache, opts Options) (*asm.Code, error) {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = defaultMaxDepth
	}
	if cache == nil {
		cache = stubs.NewCache()
	}
	cg := newGenerator(res, res.Script, file, cache, opts, 0)
	return cg.generate("<script>", program)
}

// condState is a pending condition: a comparison result held as a
// register test instead of a value. It is only set with the frame
// spilled and is consumed by the next emitted branch, so the
// registers it names stay untouched in between.
type condState struct {
	valid bool
	cond  asm.Cond
	rs    asm.Register
	rt    asm.Operand
}

// condDest carries the branch targets an expression compiles toward
// when its value is only needed for control flow.
type condDest struct {
	trueT  *frame.Target
	falseT *frame.Target
}

type nestingKind int8

const (
	nestLoop nestingKind = iota
	nestSwitch
	nestLabel
)

// nesting is one enclosing breakable statement. The targets are
// swapped for shadows while a try body compiles.
type nesting struct {
	kind      nestingKind
	label     string
	breakT    *frame.BreakTarget
	continueT *frame.BreakTarget // loops only
}

// CodeGenerator emits one code object. Nested function literals get
// their own generator; the resolution, stub cache and options are
// shared.
type CodeGenerator struct {
	masm  *asm.Assembler
	alloc *frame.Allocator
	frame *frame.Frame // nil while code is unreachable

	res  *scope.Resolution
	info *scope.FuncInfo
	file string

	stubs *stubs.Cache
	opts  Options

	cc   condState
	dest *condDest

	nestings  []*nesting
	returnT   *frame.BreakTarget // nil for scripts
	deferreds []*deferred

	err   error
	depth int
}

func newGenerator(res *scope.Resolution, info *scope.FuncInfo, file string, cache *stubs.Cache, opts Options, depth int) *CodeGenerator {
	return &CodeGenerator{
		alloc: &frame.Allocator{},
		res:   res,
		info:  info,
		file:  file,
		stubs: cache,
		opts:  opts,
		depth: depth,
	}
}

func (cg *CodeGenerator) generate(name string, body []ast.Stmt) (*asm.Code, error) {
	kind := asm.CodeFunction
	if cg.info.IsScript {
		kind = asm.CodeScript
	}
	cg.masm = asm.NewAssembler(kind, name)
	cg.masm.SetParamCount(len(cg.info.Params))
	cg.masm.SetSource(cg.file)
	cg.frame = frame.New(cg.masm, cg.alloc)
	if !cg.info.IsScript {
		cg.returnT = frame.NewBreakTarget(cg.masm, 0)
	}

	cg.prologue()
	cg.compileStmts(body)
	cg.epilogue()
	cg.flushDeferred()

	if cg.err != nil {
		return nil, cg.err
	}
	return cg.masm.Assemble(), nil
}

// compileFunction generates the code object for a nested literal.
func (cg *CodeGenerator) compileFunction(fn *ast.FunctionLit) *asm.Code {
	if cg.err != nil {
		return nil
	}
	info := cg.res.Funcs[fn]
	if info == nil {
		cg.fail(fn.Line, errors.CompileError, "unresolved function literal")
		return nil
	}
	name := fn.Name
	if name == "" {
		name = "<anonymous>"
	}
	child := newGenerator(cg.res, info, cg.file, cg.stubs, cg.opts, cg.depth)
	code, err := child.generate(name, fn.Body)
	if err != nil {
		cg.setErr(err)
		return nil
	}
	return code
}

// newClosure compiles a function literal and pushes a closure over
// the current context.
func (cg *CodeGenerator) newClosure(fn *ast.FunctionLit) {
	code := cg.compileFunction(fn)
	if cg.frame == nil || code == nil {
		return
	}
	cg.frame.PushConst(asm.Constant{Kind: asm.ConstFunction, Code: code})
	cg.callRuntime(asm.RTNewClosure, 1)
	cg.pushV0()
}

// prologue builds the machine frame: saved fp and context, local
// slots, the function's own context when one is needed, the arguments
// object, and the hoisted declarations.
func (cg *CodeGenerator) prologue() {
	m := cg.masm
	m.Comment("[ prologue")
	m.Push(asm.Fp)
	m.Mov(asm.Fp, asm.R(asm.Sp))
	m.Push(asm.Cp)

	for i := 0; i < cg.info.NumLocals; i++ {
		if i == 0 {
			m.LoadRoot(asm.At, asm.RootUndefined)
		}
		m.Push(asm.At)
	}

	if cg.info.NeedsContext {
		m.Comment("allocate context")
		m.Mov(asm.At, asm.Imm(asm.SmiVal(int32(cg.info.NumCtxSlots))))
		m.Push(asm.At)
		m.CallRuntime(asm.RTNewContext, 1)
		m.Mov(asm.Cp, asm.R(asm.V0))
		// The frame's context slot must track cp: the unwinder hands
		// control to handlers with cp unset.
		m.Sw(asm.Cp, savedContextMem())
		for _, cp := range cg.info.CtxParams {
			m.Lw(asm.At, cg.paramMem(cp[0]))
			m.Sw(asm.At, ctxSlotMem(asm.Cp, cp[1]))
		}
	}

	m.CheckStack()

	if cg.info.UsesArguments {
		m.Comment("materialize arguments")
		m.CallRuntime(asm.RTArguments, 0)
		ref := cg.info.ArgumentsRef
		switch ref.Kind {
		case scope.KindLocal:
			m.Sw(asm.V0, localMem(ref.Index))
		case scope.KindContext:
			m.Sw(asm.V0, ctxSlotMem(asm.Cp, ref.Index))
		}
	}

	cg.declare(cg.info.Declarations)
}

// declare processes hoisted declarations. Scripts bind them on the
// global object so redeclaration rules apply at execution time;
// function scopes only need code for nested function declarations,
// the resolver having already assigned slots.
func (cg *CodeGenerator) declare(decls []scope.Declaration) {
	if len(decls) == 0 {
		return
	}
	cg.masm.Comment("[ declarations")
	for _, d := range decls {
		if cg.err != nil {
			return
		}
		if cg.info.IsScript {
			cg.frame.PushConst(symbolConstant(d.Name))
			if d.Fn != nil {
				cg.newClosure(d.Fn)
			} else {
				cg.frame.PushRoot(asm.RootUndefined)
			}
			if cg.frame == nil {
				return
			}
			flags := int32(0)
			if d.Const {
				flags |= runtime.DeclareConst
			}
			if d.Fn != nil {
				flags |= runtime.DeclareFunction
			}
			cg.frame.PushSmi(flags)
			cg.callRuntime(asm.RTDeclareGlobal, 3)
			continue
		}
		cg.newClosure(d.Fn)
		if cg.frame == nil {
			return
		}
		r := cg.frame.Pop()
		switch d.Ref.Kind {
		case scope.KindLocal:
			cg.masm.Sw(r, localMem(d.Ref.Index))
		case scope.KindContext:
			cg.masm.Sw(r, ctxSlotMem(asm.Cp, d.Ref.Index))
		}
		cg.frame.Release(r)
	}
}

// epilogue emits the exit sequence. Function fall-through returns
// undefined; explicit returns arrive with their value already in V0.
// Scripts leave the last expression statement's value in V0 instead.
func (cg *CodeGenerator) epilogue() {
	m := cg.masm
	m.Comment("[ epilogue")
	if !cg.info.IsScript {
		if cg.frame != nil {
			m.LoadRoot(asm.V0, asm.RootUndefined)
		}
		if cg.returnT.IsUsed() {
			cg.bindBreak(cg.returnT)
		}
	}
	m.Mov(asm.Sp, asm.R(asm.Fp))
	m.Pop(asm.Fp)
	m.Ret()
	cg.frame = nil
}

func (cg *CodeGenerator) compileStmts(stmts []ast.Stmt) {
	for _, s := range stmts {
		if cg.err != nil || cg.frame == nil {
			return
		}
		cg.compileStmt(s)
	}
}

func (cg *CodeGenerator) compileStmt(s ast.Stmt) {
	if cg.err != nil || cg.frame == nil {
		return
	}
	if !cg.enter(s.StmtLine()) {
		return
	}
	cg.masm.RecordPosition(s.StmtLine())
	s.Accept(cg)
	cg.leave()
}

// fail records the first error and kills the frame so the remaining
// visitors fall through without emitting.
func (cg *CodeGenerator) fail(line int, kind errors.Kind, format string, args ...interface{}) {
	if cg.err == nil {
		cg.err = errors.New(kind, errors.Location{File: cg.file, Line: line}, format, args...)
	}
	cg.frame = nil
	cg.cc = condState{}
}

func (cg *CodeGenerator) setErr(err error) {
	if cg.err == nil {
		cg.err = err
	}
	cg.frame = nil
	cg.cc = condState{}
}

func (cg *CodeGenerator) enter(line int) bool {
	cg.depth++
	if cg.depth > cg.opts.MaxDepth {
		cg.fail(line, errors.StackOverflow, "program nested too deeply")
		return false
	}
	return true
}

func (cg *CodeGenerator) leave() { cg.depth-- }

// setCondition records a pending condition. The frame must already be
// spilled: the next instruction the caller emits is the branch that
// consumes the condition, so nothing may clobber rs or rt in between.
func (cg *CodeGenerator) setCondition(cond asm.Cond, rs asm.Register, rt asm.Operand) {
	if cg.frame != nil && !cg.frame.IsSpilled() {
		panic("codegen: condition set on unspilled frame")
	}
	cg.cc = condState{valid: true, cond: cond, rs: rs, rt: rt}
}

func (cg *CodeGenerator) takeCC() condState {
	cc := cg.cc
	cg.cc = condState{}
	return cc
}

// bindTarget places t here, reviving the frame at the target's height
// when the fall-through is dead. It reports whether code after the
// bind is reachable.
func (cg *CodeGenerator) bindTarget(t *frame.Target) bool {
	if cg.frame == nil {
		if !t.IsUsed() {
			return false
		}
		t.Bind(nil)
		cg.frame = t.EntryFrame(cg.alloc)
		return true
	}
	t.Bind(cg.frame)
	return true
}

func (cg *CodeGenerator) bindBreak(t *frame.BreakTarget) bool {
	return cg.bindTarget(&t.Target)
}

// pushV0 transfers the call result register onto the frame.
func (cg *CodeGenerator) pushV0() {
	if cg.frame == nil {
		return
	}
	if !cg.alloc.AcquireSpecific(asm.V0) {
		panic("codegen: result register still live")
	}
	cg.frame.PushRegister(asm.V0)
}

// callRuntime spills and calls; the argc operands must be on the
// frame in push order.
func (cg *CodeGenerator) callRuntime(fn asm.RuntimeFn, argc int) {
	if cg.frame == nil {
		return
	}
	cg.frame.SpillAll()
	cg.frame.CallRuntime(fn, argc)
}

// restoreContext reloads cp after a function call; the machine does
// not preserve it across returns.
func (cg *CodeGenerator) restoreContext() {
	cg.masm.Lw(asm.Cp, savedContextMem())
}

func (cg *CodeGenerator) pushNesting(n *nesting) *nesting {
	cg.nestings = append(cg.nestings, n)
	return n
}

func (cg *CodeGenerator) popNesting() {
	cg.nestings = cg.nestings[:len(cg.nestings)-1]
}

// findBreak resolves a break statement to its target. An unlabeled
// break stops at the innermost loop or switch; a labeled one matches
// any labeled statement.
func (cg *CodeGenerator) findBreak(label string) *frame.BreakTarget {
	for i := len(cg.nestings) - 1; i >= 0; i-- {
		n := cg.nestings[i]
		if label == "" {
			if n.kind == nestLoop || n.kind == nestSwitch {
				return n.breakT
			}
		} else if n.label == label {
			return n.breakT
		}
	}
	return nil
}

func (cg *CodeGenerator) findContinue(label string) *frame.BreakTarget {
	for i := len(cg.nestings) - 1; i >= 0; i-- {
		n := cg.nestings[i]
		if n.kind != nestLoop {
			continue
		}
		if label == "" || n.label == label {
			return n.continueT
		}
	}
	return nil
}

// Frame addressing. The prologue pushes fp and the context, so locals
// start two words below fp; parameters sit above the return slots
// with the receiver and function object beyond them.

func savedContextMem() asm.Mem { return asm.MemAt(asm.Fp, -4) }

func localMem(i int) asm.Mem { return asm.MemAt(asm.Fp, -4*int32(2+i)) }

func (cg *CodeGenerator) paramMem(i int) asm.Mem {
	n := len(cg.info.Params)
	if i == scope.CalleeSlot {
		return asm.MemAt(asm.Fp, 4*int32(n+2))
	}
	return asm.MemAt(asm.Fp, 4*int32(n-i))
}

func ctxSlotMem(ctx asm.Register, slot int) asm.Mem {
	return asm.FieldMem(ctx, int32(runtime.ContextSlotsOffset+4*slot))
}

func numberConstant(n float64) asm.Constant {
	return asm.Constant{Kind: asm.ConstNumber, Num: n}
}

func stringConstant(s string) asm.Constant {
	return asm.Constant{Kind: asm.ConstString, Str: s}
}

func symbolConstant(s string) asm.Constant {
	return asm.Constant{Kind: asm.ConstSymbol, Str: s}
}
