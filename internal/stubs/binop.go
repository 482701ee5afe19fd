package stubs

import (
	"stratus/internal/asm"
	"stratus/internal/runtime"
)

// buildBinaryOp assembles the generic stub for one binary operation.
// Operands arrive tagged in Lhs and Rhs. The smi path handles the
// common case without allocating; heap numbers go through the FPU;
// everything else falls back to the runtime, which also carries the
// error cases.
func buildBinaryOp(c *Cache, name string, op asm.BinOp, mode OverwriteMode, constRhs bool) *asm.Code {
	a := asm.NewAssembler(asm.CodeStub, name)
	slow := a.NewBlock()

	switch op {
	case asm.BinAdd, asm.BinSub, asm.BinMul, asm.BinDiv:
		emitArith(c, a, op, mode, constRhs, slow)
	case asm.BinMod:
		emitSmiMod(a, constRhs, slow)
	default:
		emitBitwise(a, op, constRhs, slow)
	}

	a.Bind(slow)
	a.Push(Lhs)
	a.Push(Rhs)
	a.Mov(asm.At, asm.ImmSmi(int32(op)))
	a.Push(asm.At)
	a.CallRuntime(asm.RTBinaryOp, 3)
	a.Ret()
	return a.Assemble()
}

// smiCheck branches to notSmi unless the operands are small integers.
// With a constant right operand only the left needs testing.
func smiCheck(a *asm.Assembler, constRhs bool, notSmi *asm.Block) {
	if constRhs {
		a.And(asm.At, Lhs, asm.Imm(asm.HeapTag))
	} else {
		a.Or(asm.At, Lhs, asm.R(Rhs))
		a.And(asm.At, asm.At, asm.Imm(asm.HeapTag))
	}
	a.Branch(notSmi, asm.Ne, asm.At, asm.Imm(0))
}

func emitArith(c *Cache, a *asm.Assembler, op asm.BinOp, mode OverwriteMode, constRhs bool, slow *asm.Block) {
	notSmi := a.NewBlock()
	numbers := a.NewBlock()

	smiCheck(a, constRhs, notSmi)
	switch op {
	case asm.BinAdd:
		// Overflow of the tagged add is overflow of the untagged one.
		a.Add(Result, Lhs, asm.R(Rhs))
		a.Xor(asm.At, Result, asm.R(Lhs))
		a.Xor(asm.T2, Result, asm.R(Rhs))
		a.And(asm.At, asm.At, asm.R(asm.T2))
		a.Branch(numbers, asm.Lt, asm.At, asm.Imm(0))
		a.Ret()
	case asm.BinSub:
		a.Sub(Result, Lhs, asm.R(Rhs))
		a.Xor(asm.At, Lhs, asm.R(Rhs))
		a.Xor(asm.T2, Result, asm.R(Lhs))
		a.And(asm.At, asm.At, asm.R(asm.T2))
		a.Branch(numbers, asm.Lt, asm.At, asm.Imm(0))
		a.Ret()
	case asm.BinMul:
		// Untagging one side makes LO the tagged product.
		a.SmiUntag(asm.T2, Lhs)
		a.Mult(asm.T2, Rhs)
		a.Mflo(Result)
		a.Mfhi(asm.T3)
		a.Sra(asm.At, Result, asm.Imm(31))
		a.Branch(numbers, asm.Ne, asm.T3, asm.R(asm.At))
		zero := a.NewBlock()
		a.Branch(zero, asm.Eq, Result, asm.Imm(0))
		a.Ret()
		a.Bind(zero)
		// A zero product with a negative factor is -0.
		a.Or(asm.At, Lhs, asm.R(Rhs))
		a.Branch(numbers, asm.Lt, asm.At, asm.Imm(0))
		a.Ret()
	case asm.BinDiv:
		tag := a.NewBlock()
		nonzero := a.NewBlock()
		a.SmiUntag(asm.T2, Lhs)
		a.SmiUntag(asm.T3, Rhs)
		// The FPU turns division by zero into the right infinity.
		a.Branch(numbers, asm.Eq, asm.T3, asm.Imm(0))
		a.Div(asm.T2, asm.T3)
		a.Mfhi(asm.At)
		a.Branch(numbers, asm.Ne, asm.At, asm.Imm(0))
		a.Mflo(asm.T4)
		a.Branch(nonzero, asm.Ne, asm.T4, asm.Imm(0))
		a.Branch(numbers, asm.Lt, asm.T3, asm.Imm(0)) // 0 / negative is -0
		a.Jump(tag)
		a.Bind(nonzero)
		a.Branch(numbers, asm.Eq, asm.T4, asm.Imm(1<<30)) // SmiMin / -1
		a.Bind(tag)
		a.SmiTag(Result, asm.T4)
		a.Ret()
	}

	a.Bind(notSmi)
	if op == asm.BinAdd {
		// Two strings concatenate; anything else mixed goes through
		// the number path or the runtime.
		a.And(asm.At, Lhs, asm.Imm(asm.HeapTag))
		a.Branch(numbers, asm.Eq, asm.At, asm.Imm(0))
		a.Lbu(asm.At, asm.FieldMem(Lhs, runtime.HeaderOffset))
		a.And(asm.At, asm.At, asm.Imm(runtime.StringFlag))
		a.Branch(numbers, asm.Eq, asm.At, asm.Imm(0))
		a.And(asm.At, Rhs, asm.Imm(asm.HeapTag))
		a.Branch(numbers, asm.Eq, asm.At, asm.Imm(0))
		a.Lbu(asm.At, asm.FieldMem(Rhs, runtime.HeaderOffset))
		a.And(asm.At, asm.At, asm.Imm(runtime.StringFlag))
		a.Branch(numbers, asm.Eq, asm.At, asm.Imm(0))
		a.CallStub(c.StringAdd())
		a.Ret()
	}

	a.Bind(numbers)
	if mode != NoOverwrite {
		a.Mov(asm.T3, asm.Imm(0))
	}
	emitLoadDouble(a, Lhs, fLhs, mode == OverwriteLeft, slow)
	emitLoadDouble(a, Rhs, fRhs, mode == OverwriteRight, slow)
	switch op {
	case asm.BinAdd:
		a.AddD(fResult, fLhs, fRhs)
	case asm.BinSub:
		a.SubD(fResult, fLhs, fRhs)
	case asm.BinMul:
		a.MulD(fResult, fLhs, fRhs)
	case asm.BinDiv:
		a.DivD(fResult, fLhs, fRhs)
	}
	if mode != NoOverwrite {
		fresh := a.NewBlock()
		a.Branch(fresh, asm.Eq, asm.T3, asm.Imm(0))
		a.Mov(Result, asm.R(asm.T3))
		a.Sdc1(fResult, asm.FieldMem(Result, runtime.NumberValueOffset))
		a.Ret()
		a.Bind(fresh)
	}
	emitBoxDouble(a, slow)
}

// emitLoadDouble converts the tagged value in src to a double in fd,
// falling back to slow for anything but a small integer or heap
// number. With track set, a heap number source is remembered in T3 as
// a reusable result box.
func emitLoadDouble(a *asm.Assembler, src asm.Register, fd asm.FPReg, track bool, slow *asm.Block) {
	heap := a.NewBlock()
	done := a.NewBlock()
	a.And(asm.At, src, asm.Imm(asm.HeapTag))
	a.Branch(heap, asm.Ne, asm.At, asm.Imm(0))
	a.SmiUntag(asm.At, src)
	a.CvtDW(fd, asm.At)
	a.Jump(done)
	a.Bind(heap)
	a.Lbu(asm.At, asm.FieldMem(src, runtime.HeaderOffset))
	a.And(asm.At, asm.At, asm.Imm(runtime.TypeMask))
	a.Branch(slow, asm.Ne, asm.At, asm.Imm(runtime.TypeHeapNumber))
	a.Ldc1(fd, asm.FieldMem(src, runtime.NumberValueOffset))
	if track {
		a.Mov(asm.T3, asm.R(src))
	}
	a.Bind(done)
}

// emitBoxDouble allocates a fresh heap number for fResult.
func emitBoxDouble(a *asm.Assembler, slow *asm.Block) {
	a.Allocate(Result, asm.Imm(runtime.HeapNumberSize), slow)
	a.Mov(asm.At, asm.Imm(runtime.TypeHeapNumber))
	a.Sw(asm.At, asm.FieldMem(Result, runtime.HeaderOffset))
	a.Sdc1(fResult, asm.FieldMem(Result, runtime.NumberValueOffset))
	a.Ret()
}

func emitSmiMod(a *asm.Assembler, constRhs bool, slow *asm.Block) {
	smiCheck(a, constRhs, slow)
	tag := a.NewBlock()
	a.SmiUntag(asm.T2, Lhs)
	a.SmiUntag(asm.T3, Rhs)
	a.Branch(slow, asm.Eq, asm.T3, asm.Imm(0))
	a.Div(asm.T2, asm.T3)
	a.Mfhi(asm.T4)
	a.Branch(tag, asm.Ne, asm.T4, asm.Imm(0))
	a.Branch(slow, asm.Lt, asm.T2, asm.Imm(0)) // negative % n is -0
	a.Bind(tag)
	a.SmiTag(Result, asm.T4)
	a.Ret()
}

func emitBitwise(a *asm.Assembler, op asm.BinOp, constRhs bool, slow *asm.Block) {
	notSmi := a.NewBlock()
	smiCheck(a, constRhs, notSmi)
	switch op {
	case asm.BinBitOr:
		a.Or(Result, Lhs, asm.R(Rhs))
		a.Ret()
	case asm.BinBitAnd:
		a.And(Result, Lhs, asm.R(Rhs))
		a.Ret()
	case asm.BinBitXor:
		a.Xor(Result, Lhs, asm.R(Rhs))
		a.Ret()
	case asm.BinShl:
		a.SmiUntag(asm.T2, Rhs)
		a.And(asm.T2, asm.T2, asm.Imm(31))
		a.SmiUntag(asm.T3, Lhs)
		a.Sll(asm.T4, asm.T3, asm.R(asm.T2))
		a.SmiTag(Result, asm.T4)
		a.Sra(asm.At, Result, asm.Imm(asm.SmiShift))
		a.Branch(slow, asm.Ne, asm.At, asm.R(asm.T4))
		a.Ret()
	case asm.BinSar:
		// Shifting the tagged value and clearing the tag bit is the
		// same as untag, shift, retag.
		a.SmiUntag(asm.T2, Rhs)
		a.And(asm.T2, asm.T2, asm.Imm(31))
		a.Sra(Result, Lhs, asm.R(asm.T2))
		a.And(Result, Result, asm.Imm(-2))
		a.Ret()
	case asm.BinShr:
		a.SmiUntag(asm.T2, Rhs)
		a.And(asm.T2, asm.T2, asm.Imm(31))
		a.SmiUntag(asm.T3, Lhs)
		a.Srl(asm.T4, asm.T3, asm.R(asm.T2))
		a.And(asm.At, asm.T4, asm.Imm(-1<<30))
		a.Branch(slow, asm.Ne, asm.At, asm.Imm(0))
		a.SmiTag(Result, asm.T4)
		a.Ret()
	}

	a.Bind(notSmi)
	emitGetInt32(a, Lhs, asm.T2, asm.T3, asm.T4, slow)
	emitGetInt32(a, Rhs, asm.T3, asm.T4, asm.T5, slow)
	switch op {
	case asm.BinBitOr:
		a.Or(asm.T4, asm.T2, asm.R(asm.T3))
	case asm.BinBitAnd:
		a.And(asm.T4, asm.T2, asm.R(asm.T3))
	case asm.BinBitXor:
		a.Xor(asm.T4, asm.T2, asm.R(asm.T3))
	case asm.BinShl:
		a.And(asm.T3, asm.T3, asm.Imm(31))
		a.Sll(asm.T4, asm.T2, asm.R(asm.T3))
	case asm.BinSar:
		a.And(asm.T3, asm.T3, asm.Imm(31))
		a.Sra(asm.T4, asm.T2, asm.R(asm.T3))
	case asm.BinShr:
		a.And(asm.T3, asm.T3, asm.Imm(31))
		a.Srl(asm.T4, asm.T2, asm.R(asm.T3))
	}
	if op == asm.BinShr {
		// The result is unsigned; only values that fit a positive smi
		// can be tagged, the rest need an unsigned double.
		a.And(asm.At, asm.T4, asm.Imm(-1<<30))
		a.Branch(slow, asm.Ne, asm.At, asm.Imm(0))
		a.SmiTag(Result, asm.T4)
		a.Ret()
		return
	}
	box := a.NewBlock()
	a.SmiTag(Result, asm.T4)
	a.Sra(asm.At, Result, asm.Imm(asm.SmiShift))
	a.Branch(box, asm.Ne, asm.At, asm.R(asm.T4))
	a.Ret()
	a.Bind(box)
	a.CvtDW(fResult, asm.T4)
	emitBoxDouble(a, slow)
}

// emitGetInt32 truncates the tagged number in src to a 32-bit integer
// in dst, clobbering s1, s2 and At. Doubles with exponents past 30
// and non-numbers go to slow; the runtime's modulo 2^32 semantics
// cover them.
func emitGetInt32(a *asm.Assembler, src, dst, s1, s2 asm.Register, slow *asm.Block) {
	isSmi := a.NewBlock()
	done := a.NewBlock()
	zero := a.NewBlock()
	wide := a.NewBlock()
	sign := a.NewBlock()
	pos := a.NewBlock()

	a.And(asm.At, src, asm.Imm(asm.HeapTag))
	a.Branch(isSmi, asm.Eq, asm.At, asm.Imm(0))
	a.Lbu(asm.At, asm.FieldMem(src, runtime.HeaderOffset))
	a.And(asm.At, asm.At, asm.Imm(runtime.TypeMask))
	a.Branch(slow, asm.Ne, asm.At, asm.Imm(runtime.TypeHeapNumber))
	a.Lw(s1, asm.FieldMem(src, runtime.NumberValueOffset+4))
	a.Lw(s2, asm.FieldMem(src, runtime.NumberValueOffset))
	a.Srl(dst, s1, asm.Imm(20))
	a.And(dst, dst, asm.Imm(0x7ff))
	a.Branch(zero, asm.Lt, dst, asm.Imm(1023)) // magnitude below one
	a.Branch(slow, asm.Gt, dst, asm.Imm(1053)) // exponent over 30
	a.Sub(dst, dst, asm.Imm(1043))             // mantissa shift, -20..10
	a.And(s1, s1, asm.Imm(0xFFFFF))
	a.Or(s1, s1, asm.Imm(0x100000)) // implicit one
	a.Branch(wide, asm.Gt, dst, asm.Imm(0))
	a.Branch(sign, asm.Eq, dst, asm.Imm(0))
	a.Sub(asm.At, asm.Zero, asm.R(dst))
	a.Srl(s1, s1, asm.R(asm.At))
	a.Jump(sign)
	a.Bind(wide)
	a.Sll(s1, s1, asm.R(dst))
	a.Mov(asm.At, asm.Imm(32))
	a.Sub(asm.At, asm.At, asm.R(dst))
	a.Srl(s2, s2, asm.R(asm.At))
	a.Or(s1, s1, asm.R(s2))
	a.Bind(sign)
	a.Lw(asm.At, asm.FieldMem(src, runtime.NumberValueOffset+4))
	a.Branch(pos, asm.Ge, asm.At, asm.Imm(0))
	a.Sub(s1, asm.Zero, asm.R(s1))
	a.Bind(pos)
	a.Mov(dst, asm.R(s1))
	a.Jump(done)
	a.Bind(zero)
	a.Mov(dst, asm.Imm(0))
	a.Jump(done)
	a.Bind(isSmi)
	a.SmiUntag(dst, src)
	a.Bind(done)
}
