package codegen

import (
	"math"

	"stratus/internal/asm"
	"stratus/internal/ast"
	"stratus/internal/frame"
	"stratus/internal/runtime"
	"stratus/internal/scope"
	"stratus/internal/stubs"
)

// load compiles e as a value left on top of the frame. Comparisons
// and logical operators compile to control flow internally; the value
// is materialized from the branch structure afterwards, so a boolean
// only exists when something looks at it.
func (cg *CodeGenerator) load(e ast.Expr) {
	if cg.err != nil || cg.frame == nil {
		return
	}
	trueT := frame.NewTarget(cg.masm)
	falseT := frame.NewTarget(cg.masm)
	cg.loadCondition(e, trueT, falseT, false)

	if cg.cc.valid {
		cc := cg.takeCC()
		materializeTrue := frame.NewTarget(cg.masm)
		loaded := frame.NewTarget(cg.masm)
		materializeTrue.Branch(cg.frame, cc.cond, cc.rs, cc.rt)
		cg.frame.PushRoot(asm.RootFalse)
		loaded.Jump(cg.frame)
		cg.frame = nil
		cg.bindTarget(materializeTrue)
		cg.frame.PushRoot(asm.RootTrue)
		cg.bindTarget(loaded)
	}
	if trueT.IsUsed() || falseT.IsUsed() {
		// Parts of the expression jumped straight to the targets;
		// give those paths values too.
		loaded := frame.NewTarget(cg.masm)
		if cg.frame != nil {
			loaded.Jump(cg.frame)
			cg.frame = nil
		}
		both := trueT.IsUsed() && falseT.IsUsed()
		if trueT.IsUsed() {
			cg.bindTarget(trueT)
			cg.frame.PushRoot(asm.RootTrue)
			if both {
				loaded.Jump(cg.frame)
				cg.frame = nil
			}
		}
		if falseT.IsUsed() {
			cg.bindTarget(falseT)
			cg.frame.PushRoot(asm.RootFalse)
		}
		cg.bindTarget(loaded)
	}
}

// loadCondition compiles e toward a pair of branch targets. With
// force set the result is always control flow: a pending condition, a
// finished jump, or both. Without force a plain value may be left on
// the frame for the caller to convert.
func (cg *CodeGenerator) loadCondition(e ast.Expr, trueT, falseT *frame.Target, force bool) {
	if cg.err != nil || cg.frame == nil {
		return
	}
	if force {
		if lit, ok := e.(*ast.Literal); ok {
			// A constant condition becomes a jump and the untaken
			// side disappears.
			if literalTruth(lit.Value) {
				trueT.Jump(cg.frame)
			} else {
				falseT.Jump(cg.frame)
			}
			cg.frame = nil
			return
		}
	}
	if !cg.enter(e.StartLine()) {
		return
	}
	prev := cg.dest
	cg.dest = &condDest{trueT: trueT, falseT: falseT}
	e.Accept(cg)
	cg.dest = prev
	cg.leave()
	if force && cg.frame != nil && !cg.cc.valid {
		cg.toBoolean(trueT, falseT)
	}
}

func literalTruth(v interface{}) bool {
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t != 0 && !math.IsNaN(t)
	case string:
		return len(t) > 0
	}
	return false // null and undefined
}

// toBoolean converts the frame's top value into a pending condition,
// branching the unambiguous representations directly and leaving heap
// numbers, strings and objects to the runtime.
func (cg *CodeGenerator) toBoolean(trueT, falseT *frame.Target) {
	if cg.frame == nil {
		return
	}
	r := cg.frame.Pop()
	cg.frame.SpillAll()
	m := cg.masm
	m.LoadRoot(asm.At, asm.RootFalse)
	falseT.Branch(cg.frame, asm.Eq, r, asm.R(asm.At))
	m.LoadRoot(asm.At, asm.RootTrue)
	trueT.Branch(cg.frame, asm.Eq, r, asm.R(asm.At))
	m.LoadRoot(asm.At, asm.RootUndefined)
	falseT.Branch(cg.frame, asm.Eq, r, asm.R(asm.At))
	// The zero small integer is the zero word.
	falseT.Branch(cg.frame, asm.Eq, r, asm.Imm(0))
	m.And(asm.At, r, asm.Imm(asm.HeapTag))
	trueT.Branch(cg.frame, asm.Eq, asm.At, asm.Imm(0))
	cg.frame.EmitPush(r)
	cg.frame.Release(r)
	cg.frame.CallRuntime(asm.RTToBool, 1)
	m.LoadRoot(asm.At, asm.RootTrue)
	cg.setCondition(asm.Eq, asm.V0, asm.R(asm.At))
}

// compareOp compiles a comparison into a pending condition via the
// shared compare stub. Operands evaluate in source order; > and <=
// swap the stub registers instead so the stub only answers < and >=,
// with the hint choosing which way unordered results fall.
func (cg *CodeGenerator) compareOp(op string, left, right ast.Expr) {
	if cg.opts.CompareFastPaths {
		if cg.nullCompare(op, left, right) || cg.typeofCompare(op, left, right) {
			return
		}
	}
	var cond asm.Cond
	var hint int32
	reversed := false
	switch op {
	case "<":
		cond, hint = asm.Lt, runtime.CompareNaNIsGreater
	case ">":
		cond, hint, reversed = asm.Lt, runtime.CompareNaNIsGreater, true
	case "<=":
		cond, hint, reversed = asm.Ge, runtime.CompareNaNIsLess, true
	case ">=":
		cond, hint = asm.Ge, runtime.CompareNaNIsLess
	case "==":
		cond, hint = asm.Eq, runtime.CompareLooseEqual
	case "!=":
		cond, hint = asm.Ne, runtime.CompareLooseEqual
	case "===":
		cond, hint = asm.Eq, runtime.CompareStrictEqual
	default: // "!=="
		cond, hint = asm.Ne, runtime.CompareStrictEqual
	}
	cg.load(left)
	cg.load(right)
	if cg.frame == nil {
		return
	}
	cg.frame.SpillAll()
	if reversed {
		cg.frame.EmitPop(stubs.Lhs)
		cg.frame.EmitPop(stubs.Rhs)
	} else {
		cg.frame.EmitPop(stubs.Rhs)
		cg.frame.EmitPop(stubs.Lhs)
	}
	cg.frame.CallStub(cg.stubs.Compare(hint))
	cg.setCondition(cond, asm.V0, asm.Imm(0))
}

func isNullLiteral(e ast.Expr) bool {
	lit, ok := e.(*ast.Literal)
	return ok && lit.Value == nil
}

// nullCompare open-codes equality against the null literal: loose
// equality matches null and undefined and nothing else, strict
// equality only null itself. Reports false when the shape does not
// apply.
func (cg *CodeGenerator) nullCompare(op string, left, right ast.Expr) bool {
	var operand ast.Expr
	if isNullLiteral(right) {
		operand = left
	} else if isNullLiteral(left) {
		operand = right
	} else {
		return false
	}
	var negate, strict bool
	switch op {
	case "==":
	case "!=":
		negate = true
	case "===":
		strict = true
	case "!==":
		negate, strict = true, true
	default:
		return false
	}
	tT, fT := cg.dest.trueT, cg.dest.falseT
	if negate {
		tT, fT = fT, tT
	}
	cg.load(operand)
	if cg.frame == nil {
		return true
	}
	r := cg.frame.Pop()
	cg.frame.SpillAll()
	m := cg.masm
	m.LoadRoot(asm.At, asm.RootNull)
	if strict {
		cg.frame.Release(r)
		cg.setCondition(asm.Eq, r, asm.R(asm.At))
	} else {
		tT.Branch(cg.frame, asm.Eq, r, asm.R(asm.At))
		m.LoadRoot(asm.At, asm.RootUndefined)
		cg.frame.Release(r)
		cg.setCondition(asm.Eq, r, asm.R(asm.At))
	}
	if negate {
		cg.cc.cond = cg.cc.cond.Negate()
	}
	return true
}

// typeofCompare open-codes typeof x == "name" without materializing
// the type string or the operand's type.
func (cg *CodeGenerator) typeofCompare(op string, left, right ast.Expr) bool {
	var un *ast.Unary
	var lit *ast.Literal
	if u, ok := left.(*ast.Unary); ok && u.Op == "typeof" {
		un = u
		lit, _ = right.(*ast.Literal)
	} else if u, ok := right.(*ast.Unary); ok && u.Op == "typeof" {
		un = u
		lit, _ = left.(*ast.Literal)
	}
	if un == nil || lit == nil {
		return false
	}
	name, ok := lit.Value.(string)
	if !ok {
		return false
	}
	var negate bool
	switch op {
	case "==", "===":
	case "!=", "!==":
		negate = true
	default:
		return false
	}
	tT, fT := cg.dest.trueT, cg.dest.falseT
	if negate {
		tT, fT = fT, tT
	}

	cg.loadTypeofOperand(un.Operand)
	if cg.frame == nil {
		return true
	}
	r := cg.frame.Pop()
	cg.frame.SpillAll()
	m := cg.masm

	switch name {
	case "number":
		m.And(asm.At, r, asm.Imm(asm.HeapTag))
		tT.Branch(cg.frame, asm.Eq, asm.At, asm.Imm(0))
		m.Lbu(asm.At, asm.FieldMem(r, runtime.HeaderOffset))
		m.And(asm.At, asm.At, asm.Imm(runtime.TypeMask))
		cg.frame.Release(r)
		cg.setCondition(asm.Eq, asm.At, asm.Imm(runtime.TypeHeapNumber))
	case "string":
		m.And(asm.At, r, asm.Imm(asm.HeapTag))
		fT.Branch(cg.frame, asm.Eq, asm.At, asm.Imm(0))
		m.Lbu(asm.At, asm.FieldMem(r, runtime.HeaderOffset))
		m.And(asm.At, asm.At, asm.Imm(runtime.TypeMask))
		cg.frame.Release(r)
		cg.setCondition(asm.Eq, asm.At, asm.Imm(0))
	case "boolean":
		m.LoadRoot(asm.At, asm.RootTrue)
		tT.Branch(cg.frame, asm.Eq, r, asm.R(asm.At))
		m.LoadRoot(asm.At, asm.RootFalse)
		cg.frame.Release(r)
		cg.setCondition(asm.Eq, r, asm.R(asm.At))
	case "undefined":
		m.LoadRoot(asm.At, asm.RootUndefined)
		cg.frame.Release(r)
		cg.setCondition(asm.Eq, r, asm.R(asm.At))
	case "function":
		m.And(asm.At, r, asm.Imm(asm.HeapTag))
		fT.Branch(cg.frame, asm.Eq, asm.At, asm.Imm(0))
		m.Lbu(asm.At, asm.FieldMem(r, runtime.HeaderOffset))
		m.And(asm.At, asm.At, asm.Imm(runtime.TypeMask))
		cg.frame.Release(r)
		cg.setCondition(asm.Eq, asm.At, asm.Imm(runtime.TypeFunction))
	case "object":
		m.LoadRoot(asm.At, asm.RootNull)
		tT.Branch(cg.frame, asm.Eq, r, asm.R(asm.At))
		m.And(asm.At, r, asm.Imm(asm.HeapTag))
		fT.Branch(cg.frame, asm.Eq, asm.At, asm.Imm(0))
		m.Lbu(asm.At, asm.FieldMem(r, runtime.HeaderOffset))
		m.And(asm.At, asm.At, asm.Imm(runtime.TypeMask))
		cg.frame.Release(r)
		cg.setCondition(asm.Eq, asm.At, asm.Imm(runtime.TypeObject))
	default:
		// No value has this type name.
		cg.frame.Release(r)
		fT.Jump(cg.frame)
		cg.frame = nil
		return true
	}
	if negate {
		cg.cc.cond = cg.cc.cond.Negate()
	}
	return true
}

// loadTypeofOperand loads an expression for typeof, mapping an
// undeclared global read to undefined instead of an error.
func (cg *CodeGenerator) loadTypeofOperand(e ast.Expr) {
	if v, ok := e.(*ast.Variable); ok {
		if ref, ok := cg.res.Uses[v]; ok && ref.Kind == scope.KindGlobal {
			cg.frame.PushConst(symbolConstant(ref.Name))
			cg.callRuntime(asm.RTLoadGlobalQuiet, 1)
			cg.pushV0()
			return
		}
	}
	cg.load(e)
}
