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

func (cg *CodeGenerator) VisitLiteral(e *ast.Literal) interface{} {
	if cg.frame == nil {
		return nil
	}
	switch v := e.Value.(type) {
	case float64:
		cg.pushNumber(v)
	case string:
		cg.frame.PushConst(stringConstant(v))
	case bool:
		if v {
			cg.frame.PushRoot(asm.RootTrue)
		} else {
			cg.frame.PushRoot(asm.RootFalse)
		}
	case ast.Undefined:
		cg.frame.PushRoot(asm.RootUndefined)
	case nil:
		cg.frame.PushRoot(asm.RootNull)
	default:
		cg.fail(e.Line, errors.CompileError, "unsupported literal %v", e.Value)
	}
	return nil
}

func (cg *CodeGenerator) pushNumber(v float64) {
	if i, ok := smiFloat(v); ok {
		cg.frame.PushSmi(i)
	} else {
		cg.frame.PushConst(numberConstant(v))
	}
}

func (cg *CodeGenerator) VisitVariable(e *ast.Variable) interface{} {
	cg.loadVariableRef(e)
	return nil
}

func (cg *CodeGenerator) VisitAssign(e *ast.Assign) interface{} {
	if cg.frame == nil {
		return nil
	}
	cg.masm.RecordPosition(e.Line)
	ref := cg.newReference(e.Target)
	if ref == nil {
		return nil
	}
	if e.Op == "" {
		cg.load(e.Value)
	} else {
		op, ok := binOps[e.Op]
		if !ok {
			cg.fail(e.Line, errors.CompileError, "unsupported compound assignment %q", e.Op+"=")
			return nil
		}
		ref.getValue()
		mode := stubs.NoOverwrite
		if overwriteAllowed(e.Value) {
			mode = stubs.OverwriteRight
		}
		cg.applyBinary(op, e.Value, mode)
	}
	ref.setValue(false)
	return nil
}

func (cg *CodeGenerator) VisitBinary(e *ast.Binary) interface{} {
	if cg.frame == nil {
		return nil
	}
	if isComparison(e.Op) {
		cg.compareOp(e.Op, e.Left, e.Right)
		return nil
	}
	op, ok := binOps[e.Op]
	if !ok {
		cg.fail(e.Line, errors.CompileError, "unsupported operator %q", e.Op)
		return nil
	}
	mode := stubs.NoOverwrite
	if overwriteAllowed(e.Left) {
		mode = stubs.OverwriteLeft
	} else if overwriteAllowed(e.Right) {
		mode = stubs.OverwriteRight
	}

	if op == asm.BinAdd {
		if _, lok := stringLit(e.Left); lok {
			if _, rok := stringLit(e.Right); rok {
				// Both halves are known strings; skip the type
				// dispatch and concatenate directly.
				cg.load(e.Left)
				cg.load(e.Right)
				if cg.frame == nil {
					return nil
				}
				cg.frame.SpillAll()
				cg.frame.EmitPop(stubs.Rhs)
				cg.frame.EmitPop(stubs.Lhs)
				cg.frame.CallStub(cg.stubs.StringAdd())
				cg.pushV0()
				return nil
			}
		}
	}

	if cg.opts.InlineSmiOps {
		if c, ok := smiLiteralValue(e.Right); ok && inlinableConstOp(op, c, false) {
			cg.load(e.Left)
			cg.smiOperation(op, c, false, mode)
			return nil
		}
		if c, ok := smiLiteralValue(e.Left); ok && inlinableConstOp(op, c, true) {
			cg.load(e.Right)
			cg.smiOperation(op, c, true, mode)
			return nil
		}
	}

	cg.load(e.Left)
	cg.load(e.Right)
	_, constRhs := smiLiteralValue(e.Right)
	cg.genericBinaryOp(op, mode, constRhs)
	return nil
}

func (cg *CodeGenerator) VisitLogical(e *ast.Logical) interface{} {
	if cg.frame == nil {
		return nil
	}
	d := cg.dest
	if e.Op == "&&" {
		isTrue := frame.NewTarget(cg.masm)
		cg.loadCondition(e.Left, isTrue, d.falseT, false)
		switch {
		case cg.frame != nil && !cg.cc.valid:
			// The left value is on the frame. Keep it as the result
			// when falsy, otherwise replace it with the right value.
			popAndContinue := frame.NewTarget(cg.masm)
			exit := frame.NewTarget(cg.masm)
			cg.frame.Dup()
			cg.toBoolean(popAndContinue, exit)
			cc := cg.takeCC()
			exit.Branch(cg.frame, cc.cond.Negate(), cc.rs, cc.rt)
			cg.bindTarget(popAndContinue)
			cg.frame.Drop(1)
			cg.bindTarget(isTrue)
			cg.load(e.Right)
			cg.bindTarget(exit)
		case cg.cc.valid || isTrue.IsUsed():
			// Pure control flow: thread the right side through the
			// destination targets.
			if cg.cc.valid {
				cc := cg.takeCC()
				d.falseT.Branch(cg.frame, cc.cond.Negate(), cc.rs, cc.rt)
			}
			if cg.bindTarget(isTrue) {
				cg.loadCondition(e.Right, d.trueT, d.falseT, false)
			}
		}
		return nil
	}

	isFalse := frame.NewTarget(cg.masm)
	cg.loadCondition(e.Left, d.trueT, isFalse, false)
	switch {
	case cg.frame != nil && !cg.cc.valid:
		popAndContinue := frame.NewTarget(cg.masm)
		exit := frame.NewTarget(cg.masm)
		cg.frame.Dup()
		cg.toBoolean(exit, popAndContinue)
		cc := cg.takeCC()
		exit.Branch(cg.frame, cc.cond, cc.rs, cc.rt)
		cg.bindTarget(popAndContinue)
		cg.frame.Drop(1)
		cg.bindTarget(isFalse)
		cg.load(e.Right)
		cg.bindTarget(exit)
	case cg.cc.valid || isFalse.IsUsed():
		if cg.cc.valid {
			cc := cg.takeCC()
			d.trueT.Branch(cg.frame, cc.cond, cc.rs, cc.rt)
		}
		if cg.bindTarget(isFalse) {
			cg.loadCondition(e.Right, d.trueT, d.falseT, false)
		}
	}
	return nil
}

func (cg *CodeGenerator) VisitUnary(e *ast.Unary) interface{} {
	if cg.frame == nil {
		return nil
	}
	switch e.Op {
	case "!":
		cg.loadCondition(e.Operand, cg.dest.falseT, cg.dest.trueT, true)
		if cg.cc.valid {
			cg.cc.cond = cg.cc.cond.Negate()
		}
	case "typeof":
		cg.loadTypeofOperand(e.Operand)
		cg.callRuntime(asm.RTTypeof, 1)
		cg.pushV0()
	case "-":
		if v, ok := floatLit(e.Operand); ok {
			cg.pushNumber(-v)
			return nil
		}
		cg.load(e.Operand)
		cg.unaryMinus()
	case "~":
		cg.load(e.Operand)
		cg.bitNot()
	case "+":
		cg.load(e.Operand)
		if _, ok := floatLit(e.Operand); !ok {
			cg.toNumberValue()
		}
	default:
		cg.fail(e.Line, errors.CompileError, "unsupported unary operator %q", e.Op)
	}
	return nil
}

func (cg *CodeGenerator) VisitCount(e *ast.Count) interface{} {
	if cg.frame == nil {
		return nil
	}
	cg.masm.RecordPosition(e.Line)
	base := cg.frame.Height()
	if !e.Prefix {
		// Result slot for the old value.
		cg.frame.PushSmi(0)
	}
	ref := cg.newReference(e.Target)
	if ref == nil {
		return nil
	}
	ref.getValue()
	if cg.frame == nil {
		return nil
	}

	op := asm.BinAdd
	delta := int32(1)
	if e.Op == "--" {
		op = asm.BinSub
		delta = -1
	}

	r := cg.frame.Pop()
	cg.frame.SpillAll()
	r2 := cg.frame.Acquire()
	var oldMem asm.Mem
	if !e.Prefix {
		oldMem = cg.frame.SlotMem(base)
	}
	d := cg.deferCount(op, e.Prefix, oldMem, r, r2)
	m := cg.masm
	m.And(asm.At, r, asm.Imm(asm.HeapTag))
	m.Branch(d.entry, asm.Ne, asm.At, asm.Imm(0))
	if !e.Prefix {
		m.Sw(r, oldMem)
	}
	m.Add(r2, r, asm.Imm(asm.SmiVal(delta)))
	if delta > 0 {
		m.Branch(d.entry, asm.Lt, r2, asm.R(r))
	} else {
		m.Branch(d.entry, asm.Gt, r2, asm.R(r))
	}
	m.Bind(d.exit)
	cg.frame.Release(r)
	cg.frame.PushRegister(r2)

	ref.setValue(false)
	if cg.frame != nil && !e.Prefix {
		cg.frame.Drop(1)
	}
	return nil
}

// deferCount is the slow path of ++ and --: coerce the operand to a
// number, then apply the delta through the runtime. The postfix
// result slot receives the coerced value, not the raw operand.
func (cg *CodeGenerator) deferCount(op asm.BinOp, prefix bool, oldMem asm.Mem, r, r2 asm.Register) *deferred {
	return cg.newDeferred(func(m *asm.Assembler) {
		m.Push(r)
		m.CallRuntime(asm.RTToNumber, 1)
		if !prefix {
			m.Sw(asm.V0, oldMem)
		}
		m.Push(asm.V0)
		m.Mov(asm.At, asm.Imm(asm.SmiVal(1)))
		m.Push(asm.At)
		m.Mov(asm.At, asm.Imm(asm.SmiVal(int32(op))))
		m.Push(asm.At)
		m.CallRuntime(asm.RTBinaryOp, 3)
		if r2 != asm.V0 {
			m.Mov(r2, asm.R(asm.V0))
		}
	})
}

func (cg *CodeGenerator) VisitConditional(e *ast.Conditional) interface{} {
	if cg.frame == nil {
		return nil
	}
	thenT := frame.NewTarget(cg.masm)
	elseT := frame.NewTarget(cg.masm)
	exitT := frame.NewTarget(cg.masm)
	cg.loadCondition(e.Cond, thenT, elseT, true)
	if cg.cc.valid {
		cc := cg.takeCC()
		elseT.Branch(cg.frame, cc.cond.Negate(), cc.rs, cc.rt)
	}
	if thenT.IsUsed() || cg.frame != nil {
		if thenT.IsUsed() {
			cg.bindTarget(thenT)
		}
		cg.load(e.Then)
		if cg.frame != nil {
			exitT.Jump(cg.frame)
			cg.frame = nil
		}
	}
	if elseT.IsUsed() {
		cg.bindTarget(elseT)
		cg.load(e.Else)
	}
	cg.bindTarget(exitT)
	return nil
}

func (cg *CodeGenerator) VisitCall(e *ast.Call) interface{} {
	if cg.frame == nil {
		return nil
	}
	cg.masm.RecordPosition(e.Line)

	switch callee := e.Callee.(type) {
	case *ast.Property:
		// Method call: the object is both property holder and
		// receiver.
		cg.load(callee.Object)
		if cg.frame == nil {
			return nil
		}
		cg.frame.Dup()
		cg.frame.PushConst(symbolConstant(callee.Name))
		cg.callRuntime(asm.RTLoadProperty, 2)
		cg.pushV0()
		cg.callLoaded(2, e.Args)
	case *ast.Index:
		cg.load(callee.Object)
		cg.load(callee.Key)
		if cg.frame == nil {
			return nil
		}
		h := cg.frame.Height()
		cg.frame.PushCopyOf(h - 2)
		cg.frame.PushCopyOf(h - 2)
		cg.callRuntime(asm.RTLoadProperty, 2)
		cg.pushV0()
		cg.callLoaded(3, e.Args)
	case *ast.Variable:
		if ref, ok := cg.res.Uses[callee]; ok && ref.Kind == scope.KindGlobal {
			cg.frame.PushConst(symbolConstant(ref.Name))
			cg.callRuntime(asm.RTLoadGlobal, 1)
			cg.pushV0()
			if cg.frame == nil {
				return nil
			}
			cg.frame.PushRoot(asm.RootUndefined)
			cg.callLoaded(0, e.Args)
			return nil
		}
		cg.load(e.Callee)
		if cg.frame == nil {
			return nil
		}
		cg.frame.PushRoot(asm.RootUndefined)
		cg.callLoaded(0, e.Args)
	default:
		cg.load(e.Callee)
		if cg.frame == nil {
			return nil
		}
		cg.frame.PushRoot(asm.RootUndefined)
		cg.callLoaded(0, e.Args)
	}
	return nil
}

// callLoaded emits a call. With residue zero the frame already holds
// the function and receiver in call position. Otherwise the top
// residue elements end with the function and start with the receiver
// object; copies shape the call area so the originals can be dropped
// along with it afterwards.
func (cg *CodeGenerator) callLoaded(residue int, args []ast.Expr) {
	if cg.frame == nil {
		return
	}
	if residue > 0 {
		h := cg.frame.Height()
		cg.frame.PushCopyOf(h - 1)       // function
		cg.frame.PushCopyOf(h - residue) // receiver
	}
	for _, a := range args {
		cg.load(a)
	}
	if cg.frame == nil {
		return
	}
	cg.frame.SpillAll()
	cg.frame.CallFunction(len(args))
	cg.restoreContext()
	cg.frame.Drop(len(args) + 2 + residue)
	cg.pushV0()
}

func (cg *CodeGenerator) VisitNew(e *ast.New) interface{} {
	if cg.frame == nil {
		return nil
	}
	cg.masm.RecordPosition(e.Line)
	cg.load(e.Callee)
	if cg.frame == nil {
		return nil
	}
	cg.callRuntime(asm.RTNewObject, 0)
	cg.pushV0()

	h := cg.frame.Height() // function below the fresh object
	cg.frame.PushCopyOf(h - 2)
	cg.frame.PushCopyOf(h - 1)
	for _, a := range e.Args {
		cg.load(a)
	}
	if cg.frame == nil {
		return nil
	}
	cg.frame.SpillAll()
	cg.frame.CallFunction(len(e.Args))
	cg.restoreContext()
	cg.frame.Drop(len(e.Args) + 2)

	// A constructor returning an object overrides the allocation.
	r := cg.frame.Acquire()
	if r != asm.V0 {
		cg.masm.Mov(r, asm.R(asm.V0))
	}
	useAlloc := cg.masm.NewBlock()
	cg.masm.And(asm.At, r, asm.Imm(asm.HeapTag))
	cg.masm.Branch(useAlloc, asm.Eq, asm.At, asm.Imm(0))
	cg.masm.Lbu(asm.At, asm.FieldMem(r, runtime.HeaderOffset))
	cg.masm.And(asm.At, asm.At, asm.Imm(runtime.TypeMask))
	cg.masm.Branch(useAlloc, asm.Ne, asm.At, asm.Imm(runtime.TypeObject))
	cg.masm.Sw(r, cg.frame.SlotMem(h-1))
	cg.masm.Bind(useAlloc)
	cg.frame.Release(r)

	result := cg.frame.Pop()
	cg.frame.Drop(1)
	cg.frame.PushRegister(result)
	return nil
}

func (cg *CodeGenerator) VisitProperty(e *ast.Property) interface{} {
	if cg.frame == nil {
		return nil
	}
	cg.masm.RecordPosition(e.Line)
	cg.load(e.Object)
	if cg.frame == nil {
		return nil
	}
	cg.frame.PushConst(symbolConstant(e.Name))
	cg.callRuntime(asm.RTLoadProperty, 2)
	cg.pushV0()
	return nil
}

func (cg *CodeGenerator) VisitIndex(e *ast.Index) interface{} {
	if cg.frame == nil {
		return nil
	}
	cg.masm.RecordPosition(e.Line)
	cg.load(e.Object)
	cg.load(e.Key)
	cg.callRuntime(asm.RTLoadProperty, 2)
	cg.pushV0()
	return nil
}

func (cg *CodeGenerator) VisitFunctionLit(e *ast.FunctionLit) interface{} {
	if cg.frame == nil {
		return nil
	}
	cg.newClosure(e)
	return nil
}

func (cg *CodeGenerator) VisitObjectLit(e *ast.ObjectLit) interface{} {
	if cg.frame == nil {
		return nil
	}
	cg.callRuntime(asm.RTNewObject, 0)
	cg.pushV0()
	for i, key := range e.Keys {
		if cg.frame == nil {
			return nil
		}
		cg.frame.Dup()
		cg.frame.PushConst(symbolConstant(key))
		cg.load(e.Values[i])
		cg.callRuntime(asm.RTStoreProperty, 3)
	}
	return nil
}
