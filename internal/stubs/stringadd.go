package stubs

import (
	"stratus/internal/asm"
	"stratus/internal/runtime"
)

// buildStringAdd assembles the concatenation stub. Both operands are
// strings; the binary op stub and the compiler guarantee that. An
// empty operand returns the other side unchanged. Two single
// characters probe the symbol table so repeated pairs share one
// interned string. Short results are copied flat, long ones become a
// cons string, and anything awkward goes to the runtime.
func buildStringAdd(name string) *asm.Code {
	a := asm.NewAssembler(asm.CodeStub, name)
	slow := a.NewBlock()
	flat := a.NewBlock()
	reload := a.NewBlock()
	cons := a.NewBlock()
	hash := a.NewBlock()
	retL := a.NewBlock()
	retR := a.NewBlock()

	a.Lw(asm.T2, asm.FieldMem(Lhs, runtime.StringLengthOffset))
	a.Branch(retR, asm.Eq, asm.T2, asm.Imm(0))
	a.Lw(asm.T3, asm.FieldMem(Rhs, runtime.StringLengthOffset))
	a.Branch(retL, asm.Eq, asm.T3, asm.Imm(0))

	// Single characters are always sequential; cons strings only
	// exist above the flat limit.
	a.Branch(flat, asm.Ne, asm.T2, asm.ImmSmi(1))
	a.Branch(flat, asm.Ne, asm.T3, asm.ImmSmi(1))
	a.Lbu(asm.T4, asm.FieldMem(Lhs, runtime.SeqStringDataOffset))
	a.Lbu(asm.T5, asm.FieldMem(Rhs, runtime.SeqStringDataOffset))
	// Digit pairs come from number formatting loops; keep them out
	// of the symbol table.
	a.Branch(hash, asm.Lt, asm.T4, asm.Imm('0'))
	a.Branch(hash, asm.Gt, asm.T4, asm.Imm('9'))
	a.Branch(hash, asm.Lt, asm.T5, asm.Imm('0'))
	a.Branch(hash, asm.Gt, asm.T5, asm.Imm('9'))
	a.Jump(flat)

	// Hash the pair exactly as the runtime does when interning.
	a.Bind(hash)
	a.Mov(Result, asm.R(asm.T4))
	a.Sll(asm.At, Result, asm.Imm(10))
	a.Add(Result, Result, asm.R(asm.At))
	a.Srl(asm.At, Result, asm.Imm(6))
	a.Xor(Result, Result, asm.R(asm.At))
	a.Add(Result, Result, asm.R(asm.T5))
	a.Sll(asm.At, Result, asm.Imm(10))
	a.Add(Result, Result, asm.R(asm.At))
	a.Srl(asm.At, Result, asm.Imm(6))
	a.Xor(Result, Result, asm.R(asm.At))
	a.Sll(asm.At, Result, asm.Imm(3))
	a.Add(Result, Result, asm.R(asm.At))
	a.Srl(asm.At, Result, asm.Imm(11))
	a.Xor(Result, Result, asm.R(asm.At))
	a.Sll(asm.At, Result, asm.Imm(15))
	a.Add(Result, Result, asm.R(asm.At))
	nz := a.NewBlock()
	a.Branch(nz, asm.Ne, Result, asm.Imm(0))
	a.Mov(Result, asm.Imm(27))
	a.Bind(nz)

	a.LoadRoot(asm.At, asm.RootSymbolTable)
	a.Lw(asm.T2, asm.FieldMem(asm.At, runtime.SymTableCapOffset))
	a.SmiUntag(asm.T2, asm.T2)
	a.Sub(asm.T2, asm.T2, asm.Imm(1))
	a.And(Result, Result, asm.R(asm.T2))

	// Four quadratic probes; a free slot means the pair was never
	// interned. The table is reloaded from the root each probe since
	// interning elsewhere may have grown it.
	for _, off := range []int32{0, 1, 3, 6} {
		next := a.NewBlock()
		a.Add(asm.T3, Result, asm.Imm(off))
		a.And(asm.T3, asm.T3, asm.R(asm.T2))
		a.Sll(asm.T3, asm.T3, asm.Imm(2))
		a.LoadRoot(asm.At, asm.RootSymbolTable)
		a.Add(asm.T3, asm.T3, asm.R(asm.At))
		a.Lw(asm.T3, asm.FieldMem(asm.T3, runtime.SymTableEntriesOffset))
		a.Branch(reload, asm.Eq, asm.T3, asm.Imm(0))
		a.Lw(asm.At, asm.FieldMem(asm.T3, runtime.StringLengthOffset))
		a.Branch(next, asm.Ne, asm.At, asm.ImmSmi(2))
		a.Lbu(asm.At, asm.FieldMem(asm.T3, runtime.SeqStringDataOffset))
		a.Branch(next, asm.Ne, asm.At, asm.R(asm.T4))
		a.Lbu(asm.At, asm.FieldMem(asm.T3, runtime.SeqStringDataOffset+1))
		a.Branch(next, asm.Ne, asm.At, asm.R(asm.T5))
		a.Mov(Result, asm.R(asm.T3))
		a.Ret()
		a.Bind(next)
	}

	a.Bind(reload)
	a.Lw(asm.T2, asm.FieldMem(Lhs, runtime.StringLengthOffset))
	a.Lw(asm.T3, asm.FieldMem(Rhs, runtime.StringLengthOffset))

	a.Bind(flat)
	a.Add(asm.T4, asm.T2, asm.R(asm.T3))
	a.Branch(slow, asm.Gt, asm.T4, asm.Imm(asm.SmiVal(runtime.MaxStringLength)))
	a.Branch(cons, asm.Ge, asm.T4, asm.ImmSmi(13))
	// Flat copies need sequential halves; the runtime flattens the
	// rest.
	a.Lbu(asm.At, asm.FieldMem(Lhs, runtime.HeaderOffset))
	a.And(asm.At, asm.At, asm.Imm(runtime.ConsFlag))
	a.Branch(slow, asm.Ne, asm.At, asm.Imm(0))
	a.Lbu(asm.At, asm.FieldMem(Rhs, runtime.HeaderOffset))
	a.And(asm.At, asm.At, asm.Imm(runtime.ConsFlag))
	a.Branch(slow, asm.Ne, asm.At, asm.Imm(0))
	a.Lbu(asm.T5, asm.FieldMem(Lhs, runtime.HeaderOffset))
	a.Lbu(asm.At, asm.FieldMem(Rhs, runtime.HeaderOffset))
	a.And(asm.T5, asm.T5, asm.R(asm.At))
	a.And(asm.T5, asm.T5, asm.Imm(runtime.AsciiFlag))
	a.Or(asm.T5, asm.T5, asm.Imm(runtime.TypeSeqString))
	a.SmiUntag(asm.At, asm.T4)
	a.Add(asm.At, asm.At, asm.Imm(runtime.SeqStringDataOffset+3))
	a.And(asm.At, asm.At, asm.Imm(-4))
	a.Allocate(Result, asm.R(asm.At), slow)
	a.Sw(asm.T5, asm.FieldMem(Result, runtime.HeaderOffset))
	a.Sw(asm.T4, asm.FieldMem(Result, runtime.StringLengthOffset))
	a.SmiUntag(asm.T2, asm.T2)
	a.SmiUntag(asm.T3, asm.T3)
	a.Add(asm.T4, Lhs, asm.Imm(runtime.SeqStringDataOffset-asm.HeapTag))
	a.Add(asm.T5, Result, asm.Imm(runtime.SeqStringDataOffset-asm.HeapTag))
	copy1 := a.NewBlock()
	copy2pre := a.NewBlock()
	copy2 := a.NewBlock()
	copied := a.NewBlock()
	a.Bind(copy1)
	a.Branch(copy2pre, asm.Eq, asm.T2, asm.Imm(0))
	a.Lbu(asm.At, asm.MemAt(asm.T4, 0))
	a.Sb(asm.At, asm.MemAt(asm.T5, 0))
	a.Add(asm.T4, asm.T4, asm.Imm(1))
	a.Add(asm.T5, asm.T5, asm.Imm(1))
	a.Sub(asm.T2, asm.T2, asm.Imm(1))
	a.Jump(copy1)
	a.Bind(copy2pre)
	a.Add(asm.T4, Rhs, asm.Imm(runtime.SeqStringDataOffset-asm.HeapTag))
	a.Bind(copy2)
	a.Branch(copied, asm.Eq, asm.T3, asm.Imm(0))
	a.Lbu(asm.At, asm.MemAt(asm.T4, 0))
	a.Sb(asm.At, asm.MemAt(asm.T5, 0))
	a.Add(asm.T4, asm.T4, asm.Imm(1))
	a.Add(asm.T5, asm.T5, asm.Imm(1))
	a.Sub(asm.T3, asm.T3, asm.Imm(1))
	a.Jump(copy2)
	a.Bind(copied)
	a.Ret()

	a.Bind(cons)
	a.Lbu(asm.T5, asm.FieldMem(Lhs, runtime.HeaderOffset))
	a.Lbu(asm.At, asm.FieldMem(Rhs, runtime.HeaderOffset))
	a.And(asm.T5, asm.T5, asm.R(asm.At))
	a.And(asm.T5, asm.T5, asm.Imm(runtime.AsciiFlag))
	a.Or(asm.T5, asm.T5, asm.Imm(runtime.TypeConsString))
	a.Allocate(Result, asm.Imm(runtime.ConsStringSize), slow)
	a.Sw(asm.T5, asm.FieldMem(Result, runtime.HeaderOffset))
	a.Sw(asm.T4, asm.FieldMem(Result, runtime.StringLengthOffset))
	a.Sw(Lhs, asm.FieldMem(Result, runtime.ConsFirstOffset))
	a.Sw(Rhs, asm.FieldMem(Result, runtime.ConsSecondOffset))
	a.Ret()

	a.Bind(retL)
	a.Mov(Result, asm.R(Lhs))
	a.Ret()
	a.Bind(retR)
	a.Mov(Result, asm.R(Rhs))
	a.Ret()

	a.Bind(slow)
	a.Push(Lhs)
	a.Push(Rhs)
	a.CallRuntime(asm.RTStringAdd, 2)
	a.Ret()
	return a.Assemble()
}
