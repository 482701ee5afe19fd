// Package asm defines the abstract target machine: a 32-bit
// register machine with a MIPS-flavored instruction set, assembled
// from basic blocks into position independent Code objects. Values
// follow a one-bit tagging scheme, so the machine's word width and
// the tag layout are fixed here as well.
package asm

// Value tagging. A small integer carries its payload in the upper 31
// bits with a zero low bit; a heap pointer has the low bit set. Code
// relies on these widths directly, so they are part of the machine
// contract rather than the heap's.
const (
	SmiTag     = 0
	SmiTagSize = 1
	SmiShift   = 1
	HeapTag    = 1

	SmiMax = 1<<30 - 1
	SmiMin = -(1 << 30)
)

// SmiVal returns the tagged form of a small integer. The caller
// guarantees SmiMin <= v <= SmiMax.
func SmiVal(v int32) int32 { return v << SmiShift }

// BinOp identifies a generic binary operation. Compiled code, the
// binary op stubs and the runtime agree on these values.
type BinOp int8

const (
	BinAdd BinOp = iota
	BinSub
	BinMul
	BinDiv
	BinMod
	BinBitOr
	BinBitAnd
	BinBitXor
	BinShl
	BinSar
	BinShr

	NumBinOps
)

var binOpNames = [NumBinOps]string{
	"ADD", "SUB", "MUL", "DIV", "MOD",
	"BIT_OR", "BIT_AND", "BIT_XOR", "SHL", "SAR", "SHR",
}

func (op BinOp) String() string {
	if op < 0 || op >= NumBinOps {
		return "op?"
	}
	return binOpNames[op]
}

// Cond is a branch condition over two integer operands, or over two
// doubles for BranchF. Unsigned variants compare the raw bit
// patterns.
type Cond int8

const (
	Always Cond = iota
	Eq
	Ne
	Lt
	Le
	Gt
	Ge
	Ult
	Ule
	Ugt
	Uge
)

// Negate returns the condition matching exactly when c does not.
func (c Cond) Negate() Cond {
	switch c {
	case Eq:
		return Ne
	case Ne:
		return Eq
	case Lt:
		return Ge
	case Le:
		return Gt
	case Gt:
		return Le
	case Ge:
		return Lt
	case Ult:
		return Uge
	case Ule:
		return Ugt
	case Ugt:
		return Ule
	case Uge:
		return Ult
	}
	return c
}

// Reverse returns the condition that holds for (b, a) exactly when c
// holds for (a, b).
func (c Cond) Reverse() Cond {
	switch c {
	case Lt:
		return Gt
	case Le:
		return Ge
	case Gt:
		return Lt
	case Ge:
		return Le
	case Ult:
		return Ugt
	case Ule:
		return Uge
	case Ugt:
		return Ult
	case Uge:
		return Ule
	}
	return c
}

func (c Cond) String() string {
	switch c {
	case Always:
		return "al"
	case Eq:
		return "eq"
	case Ne:
		return "ne"
	case Lt:
		return "lt"
	case Le:
		return "le"
	case Gt:
		return "gt"
	case Ge:
		return "ge"
	case Ult:
		return "ult"
	case Ule:
		return "ule"
	case Ugt:
		return "ugt"
	case Uge:
		return "uge"
	}
	return "c?"
}

// Operand is the flexible second source of ALU and branch
// instructions: either a register or a 32-bit immediate.
type Operand struct {
	reg   Register
	imm   int32
	isReg bool
}

// R wraps a register as an operand.
func R(r Register) Operand { return Operand{reg: r, isReg: true} }

// Imm wraps an immediate as an operand.
func Imm(v int32) Operand { return Operand{imm: v} }

// ImmSmi wraps the tagged form of a small integer as an operand.
func ImmSmi(v int32) Operand { return Imm(SmiVal(v)) }

func (o Operand) IsReg() bool { return o.isReg }

func (o Operand) Reg() Register { return o.reg }

func (o Operand) Imm() int32 { return o.imm }

func (o Operand) IsZero() bool { return !o.isReg && o.imm == 0 }

// Mem is a base register plus byte displacement address.
type Mem struct {
	Base Register
	Off  int32
}

// MemAt builds an untagged memory operand.
func MemAt(base Register, off int32) Mem { return Mem{Base: base, Off: off} }

// FieldMem builds a memory operand for a field of a tagged heap
// object, folding the pointer tag into the displacement.
func FieldMem(base Register, off int32) Mem {
	return Mem{Base: base, Off: off - HeapTag}
}
