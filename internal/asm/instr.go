package asm

// Instr is one machine instruction. Instructions are held by pointer
// so the assembler can resolve block references in place.
type Instr interface {
	isInstr()
}

// AluOp selects the operation of an Alu instruction. Shift amounts
// are taken modulo 32.
type AluOp int8

const (
	OpAdd AluOp = iota
	OpSub
	OpAnd
	OpOr
	OpXor
	OpSll
	OpSrl
	OpSra
)

func (op AluOp) String() string {
	switch op {
	case OpAdd:
		return "add"
	case OpSub:
		return "sub"
	case OpAnd:
		return "and"
	case OpOr:
		return "or"
	case OpXor:
		return "xor"
	case OpSll:
		return "sll"
	case OpSrl:
		return "srl"
	case OpSra:
		return "sra"
	}
	return "alu?"
}

// FOp selects the operation of an FArith instruction.
type FOp int8

const (
	FAdd FOp = iota
	FSub
	FMul
	FDiv
)

func (op FOp) String() string {
	switch op {
	case FAdd:
		return "add.d"
	case FSub:
		return "sub.d"
	case FMul:
		return "mul.d"
	case FDiv:
		return "div.d"
	}
	return "f?"
}

// Mov copies a register or immediate into Rd.
type Mov struct {
	Rd  Register
	Src Operand
}

// Lc loads the resolved value of a constant pool entry into Rd.
type Lc struct {
	Rd   Register
	Pool int
}

// LoadRoot loads a well-known heap value into Rd.
type LoadRoot struct {
	Rd   Register
	Root RootIndex
}

// Alu performs Rd = Rs op Rt. Add and Sub wrap on overflow.
type Alu struct {
	Op AluOp
	Rd Register
	Rs Register
	Rt Operand
}

// Mult writes the 64-bit signed product of Rs and Rt to HI:LO.
type Mult struct {
	Rs Register
	Rt Register
}

// Div writes Rs/Rt to LO and Rs%Rt to HI, truncating toward zero.
// Division by zero stops the machine; generated code tests the
// divisor first.
type Div struct {
	Rs Register
	Rt Register
}

// Mflo copies LO into Rd.
type Mflo struct {
	Rd Register
}

// Mfhi copies HI into Rd.
type Mfhi struct {
	Rd Register
}

// Lw loads a 32-bit word.
type Lw struct {
	Rd   Register
	Addr Mem
}

// Sw stores a 32-bit word.
type Sw struct {
	Rs   Register
	Addr Mem
}

// Lb loads a sign-extended byte.
type Lb struct {
	Rd   Register
	Addr Mem
}

// Lbu loads a zero-extended byte.
type Lbu struct {
	Rd   Register
	Addr Mem
}

// Sb stores the low byte of Rs.
type Sb struct {
	Rs   Register
	Addr Mem
}

// Push decrements Sp by a word and stores Rs there.
type Push struct {
	Rs Register
}

// Pop loads Rd from the top of stack and increments Sp by a word.
type Pop struct {
	Rd Register
}

// Jump transfers unconditionally. PC is resolved by Assemble.
type Jump struct {
	Target *Block
	PC     int
}

// Branch transfers when Rs cond Rt holds. PC is resolved by Assemble.
type Branch struct {
	Cond   Cond
	Rs     Register
	Rt     Operand
	Target *Block
	PC     int
}

// BranchF transfers when Fs cond Ft holds over doubles. When either
// operand is NaN, Ne is taken and every other condition is not.
type BranchF struct {
	Cond   Cond
	Fs     FPReg
	Ft     FPReg
	Target *Block
	PC     int
}

// Ldc1 loads a double from two consecutive words.
type Ldc1 struct {
	Fd   FPReg
	Addr Mem
}

// Sdc1 stores a double to two consecutive words.
type Sdc1 struct {
	Fs   FPReg
	Addr Mem
}

// CvtDW converts the signed 32-bit integer in Rs to a double in Fd.
type CvtDW struct {
	Fd FPReg
	Rs Register
}

// FArith performs Fd = Fs op Ft over doubles.
type FArith struct {
	Op FOp
	Fd FPReg
	Fs FPReg
	Ft FPReg
}

// CallRT invokes a runtime entry point. Argc arguments are popped
// from the stack, first pushed lowest; the result arrives in V0.
type CallRT struct {
	Fn   RuntimeFn
	Argc int
}

// CallFn invokes the function object on the stack. Below the return
// address the stack holds the function, the receiver, then Argc
// arguments pushed left to right. The callee leaves them in place;
// the caller drops them after the call. The result arrives in V0.
type CallFn struct {
	Argc int
}

// CallStub transfers to another code object with the same stack
// discipline as a plain call. Stub calling conventions are fixed per
// stub and documented where the stub is built.
type CallStub struct {
	Code *Code
}

// Ret returns to the caller.
type Ret struct{}

// PushHandler links a new try handler record on the stack. A throw
// unwinds to the most recent record and resumes at its target.
type PushHandler struct {
	Target *Block
	PC     int
}

// PopHandler unlinks the most recent try handler record.
type PopHandler struct{}

// CheckStack compares Sp against the stack limit and invokes the
// stack guard when the limit is crossed.
type CheckStack struct{}

// Alloc bump-allocates Size bytes in new space and writes the tagged
// pointer to Rd, branching to Fail when space is exhausted. Size must
// be word aligned.
type Alloc struct {
	Rd   Register
	Size Operand
	Fail *Block
	PC   int
}

func (*Mov) isInstr()         {}
func (*Lc) isInstr()          {}
func (*LoadRoot) isInstr()    {}
func (*Alu) isInstr()         {}
func (*Mult) isInstr()        {}
func (*Div) isInstr()         {}
func (*Mflo) isInstr()        {}
func (*Mfhi) isInstr()        {}
func (*Lw) isInstr()          {}
func (*Sw) isInstr()          {}
func (*Lb) isInstr()          {}
func (*Lbu) isInstr()         {}
func (*Sb) isInstr()          {}
func (*Push) isInstr()        {}
func (*Pop) isInstr()         {}
func (*Jump) isInstr()        {}
func (*Branch) isInstr()      {}
func (*BranchF) isInstr()     {}
func (*Ldc1) isInstr()        {}
func (*Sdc1) isInstr()        {}
func (*CvtDW) isInstr()       {}
func (*FArith) isInstr()      {}
func (*CallRT) isInstr()      {}
func (*CallFn) isInstr()      {}
func (*CallStub) isInstr()    {}
func (*Ret) isInstr()         {}
func (*PushHandler) isInstr() {}
func (*PopHandler) isInstr()  {}
func (*CheckStack) isInstr()  {}
func (*Alloc) isInstr()       {}
