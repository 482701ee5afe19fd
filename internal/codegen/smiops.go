package codegen

import (
	"math"

	"stratus/internal/asm"
	"stratus/internal/ast"
	"stratus/internal/stubs"
)

// Inline arithmetic for operations with one constant small integer
// operand. A small integer is its value shifted left once, so adds
// and the bitwise ops work directly on tagged words; only overflow
// and the tag check need code. Anything that fails the fast path
// branches to a deferred stub call.

var binOps = map[string]asm.BinOp{
	"+":   asm.BinAdd,
	"-":   asm.BinSub,
	"*":   asm.BinMul,
	"/":   asm.BinDiv,
	"%":   asm.BinMod,
	"|":   asm.BinBitOr,
	"&":   asm.BinBitAnd,
	"^":   asm.BinBitXor,
	"<<":  asm.BinShl,
	">>":  asm.BinSar,
	">>>": asm.BinShr,
}

func isComparison(op string) bool {
	switch op {
	case "<", "<=", ">", ">=", "==", "!=", "===", "!==":
		return true
	}
	return false
}

// overwriteAllowed reports whether an expression's result is a
// temporary the binary op stub may reuse as the result box.
func overwriteAllowed(e ast.Expr) bool {
	switch t := e.(type) {
	case *ast.Binary:
		return !isComparison(t.Op)
	case *ast.Unary:
		switch t.Op {
		case "-", "~", "+":
			return true
		}
	}
	return false
}

func floatLit(e ast.Expr) (float64, bool) {
	lit, ok := e.(*ast.Literal)
	if !ok {
		return 0, false
	}
	v, ok := lit.Value.(float64)
	return v, ok
}

func stringLit(e ast.Expr) (string, bool) {
	lit, ok := e.(*ast.Literal)
	if !ok {
		return "", false
	}
	s, ok := lit.Value.(string)
	return s, ok
}

// smiFloat reports whether v is representable as a small integer.
// Negative zero is not: it must keep its sign in a heap number.
func smiFloat(v float64) (int32, bool) {
	if math.IsNaN(v) || v != math.Trunc(v) {
		return 0, false
	}
	if v < float64(asm.SmiMin) || v > float64(asm.SmiMax) {
		return 0, false
	}
	if v == 0 && math.Signbit(v) {
		return 0, false
	}
	return int32(v), true
}

func smiLiteralValue(e ast.Expr) (int32, bool) {
	v, ok := floatLit(e)
	if !ok {
		return 0, false
	}
	return smiFloat(v)
}

// inlinableConstOp reports whether op with constant c on the given
// side has an open-coded form. Multiplication, division and modulus
// always go through the stub.
func inlinableConstOp(op asm.BinOp, c int32, constLeft bool) bool {
	switch op {
	case asm.BinAdd, asm.BinBitOr, asm.BinBitAnd, asm.BinBitXor:
		return true
	case asm.BinSub:
		// x - c negates c, which must itself stay a small integer.
		return constLeft || c != asm.SmiMin
	case asm.BinShl, asm.BinSar, asm.BinShr:
		return !constLeft
	}
	return false
}

// smiOperation open-codes op between the frame's top value and the
// constant c; constLeft says the constant is the left operand. The
// deferred slow path rebuilds both operands and calls the generic
// stub, which handles heap numbers, strings and overflow.
func (cg *CodeGenerator) smiOperation(op asm.BinOp, c int32, constLeft bool, mode stubs.OverwriteMode) {
	if cg.frame == nil {
		return
	}
	r := cg.frame.Pop()
	cg.frame.SpillAll()
	r2 := cg.frame.Acquire()
	d := cg.deferBinaryConst(op, c, constLeft, mode, r, r2)
	m := cg.masm

	m.And(asm.At, r, asm.Imm(asm.HeapTag))
	m.Branch(d.entry, asm.Ne, asm.At, asm.Imm(0))

	switch op {
	case asm.BinAdd:
		m.Add(r2, r, asm.Imm(asm.SmiVal(c)))
		// Overflow flips the result past the operand.
		if c > 0 {
			m.Branch(d.entry, asm.Lt, r2, asm.R(r))
		} else if c < 0 {
			m.Branch(d.entry, asm.Gt, r2, asm.R(r))
		}
	case asm.BinSub:
		if constLeft {
			m.Mov(r2, asm.Imm(asm.SmiVal(c)))
			m.Sub(r2, r2, asm.R(r))
			// Signed overflow: operand and result signs agree only
			// when the subtraction stayed in range.
			if c >= 0 {
				m.And(asm.At, r, asm.R(r2))
				m.Branch(d.entry, asm.Lt, asm.At, asm.Imm(0))
			} else {
				m.Or(asm.At, r, asm.R(r2))
				m.Branch(d.entry, asm.Ge, asm.At, asm.Imm(0))
			}
		} else {
			m.Add(r2, r, asm.Imm(asm.SmiVal(-c)))
			if c > 0 {
				m.Branch(d.entry, asm.Gt, r2, asm.R(r))
			} else if c < 0 {
				m.Branch(d.entry, asm.Lt, r2, asm.R(r))
			}
		}
	case asm.BinBitOr:
		m.Or(r2, r, asm.Imm(asm.SmiVal(c)))
	case asm.BinBitAnd:
		m.And(r2, r, asm.Imm(asm.SmiVal(c)))
	case asm.BinBitXor:
		m.Xor(r2, r, asm.Imm(asm.SmiVal(c)))
	case asm.BinShl:
		count := c & 31
		m.SmiUntag(r2, r)
		m.Sll(r2, r2, asm.Imm(count))
		m.Add(asm.At, r2, asm.Imm(1<<30))
		m.Branch(d.entry, asm.Lt, asm.At, asm.Imm(0))
		m.SmiTag(r2, r2)
	case asm.BinSar:
		count := c & 31
		m.Sra(r2, r, asm.Imm(count))
		m.And(r2, r2, asm.Imm(^int32(1)))
	case asm.BinShr:
		count := c & 31
		m.SmiUntag(r2, r)
		m.Srl(r2, r2, asm.Imm(count))
		if count <= 1 {
			// An unsigned result above the small integer range.
			m.And(asm.At, r2, asm.Imm(int32(-1)<<30))
			m.Branch(d.entry, asm.Ne, asm.At, asm.Imm(0))
		}
		m.SmiTag(r2, r2)
	}

	m.Bind(d.exit)
	cg.frame.Release(r)
	cg.frame.PushRegister(r2)
}

// deferBinaryConst builds the slow path for an inline constant
// operation: move the operands into the stub convention and call the
// generic binary op stub.
func (cg *CodeGenerator) deferBinaryConst(op asm.BinOp, c int32, constLeft bool, mode stubs.OverwriteMode, r, r2 asm.Register) *deferred {
	stub := cg.stubs.BinaryOp(op, mode, !constLeft)
	return cg.newDeferred(func(m *asm.Assembler) {
		// The register value moves first; it may alias either
		// convention register.
		if constLeft {
			m.Mov(stubs.Rhs, asm.R(r))
			m.Mov(stubs.Lhs, asm.Imm(asm.SmiVal(c)))
		} else {
			m.Mov(stubs.Lhs, asm.R(r))
			m.Mov(stubs.Rhs, asm.Imm(asm.SmiVal(c)))
		}
		m.CallStub(stub)
		if r2 != asm.V0 {
			m.Mov(r2, asm.R(asm.V0))
		}
	})
}

// genericBinaryOp combines the two values on top of the frame through
// the shared stub for op.
func (cg *CodeGenerator) genericBinaryOp(op asm.BinOp, mode stubs.OverwriteMode, constRhs bool) {
	if cg.frame == nil {
		return
	}
	cg.frame.SpillAll()
	cg.frame.EmitPop(stubs.Rhs)
	cg.frame.EmitPop(stubs.Lhs)
	cg.frame.CallStub(cg.stubs.BinaryOp(op, mode, constRhs))
	cg.pushV0()
}

// applyBinary combines the value already on the frame with rhs.
func (cg *CodeGenerator) applyBinary(op asm.BinOp, rhs ast.Expr, mode stubs.OverwriteMode) {
	if c, ok := smiLiteralValue(rhs); ok && cg.opts.InlineSmiOps && inlinableConstOp(op, c, false) {
		cg.smiOperation(op, c, false, mode)
		return
	}
	cg.load(rhs)
	_, constRhs := smiLiteralValue(rhs)
	cg.genericBinaryOp(op, mode, constRhs)
}

// unaryMinus negates the frame's top value. The smi fast path must
// reject zero: negating it produces negative zero, a heap number.
func (cg *CodeGenerator) unaryMinus() {
	if cg.frame == nil {
		return
	}
	if !cg.opts.InlineSmiOps {
		cg.callRuntime(asm.RTUnaryMinus, 1)
		cg.pushV0()
		return
	}
	r := cg.frame.Pop()
	cg.frame.SpillAll()
	r2 := cg.frame.Acquire()
	d := cg.deferRuntime1(asm.RTUnaryMinus, r, r2)
	m := cg.masm
	m.And(asm.At, r, asm.Imm(asm.HeapTag))
	m.Branch(d.entry, asm.Ne, asm.At, asm.Imm(0))
	m.Branch(d.entry, asm.Eq, r, asm.Imm(0))
	m.Sub(r2, asm.Zero, asm.R(r))
	m.And(asm.At, r, asm.R(r2))
	m.Branch(d.entry, asm.Lt, asm.At, asm.Imm(0))
	m.Bind(d.exit)
	cg.frame.Release(r)
	cg.frame.PushRegister(r2)
}

// bitNot inverts the frame's top value. Flipping every payload bit of
// a tagged smi while keeping the tag bit clear is exactly xor with
// the complement of the tag mask.
func (cg *CodeGenerator) bitNot() {
	if cg.frame == nil {
		return
	}
	if !cg.opts.InlineSmiOps {
		cg.callRuntime(asm.RTNumberBitNot, 1)
		cg.pushV0()
		return
	}
	r := cg.frame.Pop()
	cg.frame.SpillAll()
	r2 := cg.frame.Acquire()
	d := cg.deferRuntime1(asm.RTNumberBitNot, r, r2)
	m := cg.masm
	m.And(asm.At, r, asm.Imm(asm.HeapTag))
	m.Branch(d.entry, asm.Ne, asm.At, asm.Imm(0))
	m.Xor(r2, r, asm.Imm(^int32(1)))
	m.Bind(d.exit)
	cg.frame.Release(r)
	cg.frame.PushRegister(r2)
}

// toNumberValue coerces the frame's top value to a number. A smi
// passes through unchanged.
func (cg *CodeGenerator) toNumberValue() {
	if cg.frame == nil {
		return
	}
	if !cg.opts.InlineSmiOps {
		cg.callRuntime(asm.RTToNumber, 1)
		cg.pushV0()
		return
	}
	r := cg.frame.Pop()
	cg.frame.SpillAll()
	r2 := cg.frame.Acquire()
	d := cg.deferRuntime1(asm.RTToNumber, r, r2)
	m := cg.masm
	m.And(asm.At, r, asm.Imm(asm.HeapTag))
	m.Branch(d.entry, asm.Ne, asm.At, asm.Imm(0))
	m.Mov(r2, asm.R(r))
	m.Bind(d.exit)
	cg.frame.Release(r)
	cg.frame.PushRegister(r2)
}
