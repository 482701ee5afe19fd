package stubs

import (
	"stratus/internal/asm"
	"stratus/internal/runtime"
)

// buildCompare assembles the three-way compare stub. The result is a
// smi: negative, zero or positive. When either operand is NaN the
// stub returns the hint, which the compiler picks so the branch it
// emits afterwards falls out false; for the equality hints any
// nonzero value does.
func buildCompare(name string, hint int32) *asm.Code {
	a := asm.NewAssembler(asm.CodeStub, name)
	slow := a.NewBlock()
	notIdent := a.NewBlock()
	numbers := a.NewBlock()
	equal := a.NewBlock()
	less := a.NewBlock()
	greater := a.NewBlock()
	nan := a.NewBlock()

	nanResult := hint
	if hint == runtime.CompareLooseEqual || hint == runtime.CompareStrictEqual {
		nanResult = 1
	}

	// Identical operands are equal, except a NaN heap number loaded
	// twice.
	a.Branch(notIdent, asm.Ne, Lhs, asm.R(Rhs))
	a.And(asm.At, Lhs, asm.Imm(asm.HeapTag))
	a.Branch(equal, asm.Eq, asm.At, asm.Imm(0))
	a.Lbu(asm.At, asm.FieldMem(Lhs, runtime.HeaderOffset))
	a.And(asm.At, asm.At, asm.Imm(runtime.TypeMask))
	a.Branch(equal, asm.Ne, asm.At, asm.Imm(runtime.TypeHeapNumber))
	a.Ldc1(fLhs, asm.FieldMem(Lhs, runtime.NumberValueOffset))
	a.BranchF(nan, asm.Ne, fLhs, fLhs)
	a.Jump(equal)

	a.Bind(notIdent)
	a.Or(asm.At, Lhs, asm.R(Rhs))
	a.And(asm.At, asm.At, asm.Imm(asm.HeapTag))
	a.Branch(numbers, asm.Ne, asm.At, asm.Imm(0))
	// Distinct smis; tagging preserves order.
	a.Branch(less, asm.Lt, Lhs, asm.R(Rhs))
	a.Jump(greater)

	a.Bind(numbers)
	emitLoadDouble(a, Lhs, fLhs, false, slow)
	emitLoadDouble(a, Rhs, fRhs, false, slow)
	a.BranchF(equal, asm.Eq, fLhs, fRhs)
	a.BranchF(less, asm.Lt, fLhs, fRhs)
	a.BranchF(greater, asm.Gt, fLhs, fRhs)

	a.Bind(nan)
	a.Mov(Result, asm.ImmSmi(nanResult))
	a.Ret()
	a.Bind(equal)
	a.Mov(Result, asm.Imm(0))
	a.Ret()
	a.Bind(less)
	a.Mov(Result, asm.ImmSmi(-1))
	a.Ret()
	a.Bind(greater)
	a.Mov(Result, asm.ImmSmi(1))
	a.Ret()

	a.Bind(slow)
	a.Push(Lhs)
	a.Push(Rhs)
	a.Mov(asm.At, asm.ImmSmi(hint))
	a.Push(asm.At)
	a.CallRuntime(asm.RTCompare, 3)
	a.Ret()
	return a.Assemble()
}
