package asm

// Register is a general purpose machine register. The compiler
// allocates V0 and T0 through T5; the rest have fixed roles.
type Register int8

const (
	NoReg Register = iota - 1
	Zero           // reads as zero, writes ignored
	At             // assembler scratch, never allocated
	V0             // result register
	T0
	T1
	T2
	T3
	T4
	T5
	Cp // context pointer
	Fp // frame pointer
	Sp // stack pointer
)

// NumRegisters is the size of the machine register file.
const NumRegisters = 12

var registerNames = [NumRegisters]string{
	"zr", "at", "v0", "t0", "t1", "t2", "t3", "t4", "t5", "cp", "fp", "sp",
}

func (r Register) String() string {
	if r < 0 || int(r) >= NumRegisters {
		return "r?"
	}
	return registerNames[r]
}

// FPReg is a double precision floating point register.
type FPReg int8

const (
	F0 FPReg = iota
	F1
	F2
	F3
)

// NumFPRegs is the size of the floating point register file.
const NumFPRegs = 4

func (f FPReg) String() string {
	if f < 0 || int(f) >= NumFPRegs {
		return "f?"
	}
	return [NumFPRegs]string{"f0", "f1", "f2", "f3"}[f]
}

// RootIndex names a well-known immortal heap value. LoadRoot resolves
// the index against the heap's root table at execution time, so code
// never bakes in heap addresses.
type RootIndex int8

const (
	RootUndefined RootIndex = iota
	RootNull
	RootTrue
	RootFalse
	RootSymbolTable

	NumRoots
)

func (ri RootIndex) String() string {
	switch ri {
	case RootUndefined:
		return "undefined"
	case RootNull:
		return "null"
	case RootTrue:
		return "true"
	case RootFalse:
		return "false"
	case RootSymbolTable:
		return "symtab"
	}
	return "root?"
}

// RuntimeFn names an entry point into the runtime. CallRT transfers
// there with arguments on the stack; the result comes back in V0.
type RuntimeFn int8

const (
	RTBinaryOp RuntimeFn = iota
	RTCompare
	RTToBool
	RTToNumber
	RTUnaryMinus
	RTNumberBitNot
	RTTypeof
	RTStringAdd
	RTLoadGlobal
	RTLoadGlobalQuiet
	RTStoreGlobal
	RTDeclareGlobal
	RTLoadProperty
	RTStoreProperty
	RTNewObject
	RTNewClosure
	RTNewContext
	RTThrow
	RTReThrow
	RTStackGuard
	RTArguments
	RTPrint

	NumRuntimeFns
)

var runtimeFnNames = [NumRuntimeFns]string{
	"BinaryOp", "Compare", "ToBool", "ToNumber", "UnaryMinus", "NumberBitNot",
	"Typeof", "StringAdd", "LoadGlobal", "LoadGlobalQuiet", "StoreGlobal",
	"DeclareGlobal", "LoadProperty", "StoreProperty", "NewObject",
	"NewClosure", "NewContext", "Throw", "ReThrow", "StackGuard",
	"Arguments", "Print",
}

func (fn RuntimeFn) String() string {
	if fn < 0 || fn >= NumRuntimeFns {
		return "rt?"
	}
	return runtimeFnNames[fn]
}
