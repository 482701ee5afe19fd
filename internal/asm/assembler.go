package asm

import (
	"fmt"
	"math"
	"sort"
)

// CodeKind tells the runtime how a code object may be entered.
type CodeKind int8

const (
	CodeScript CodeKind = iota
	CodeFunction
	CodeStub
)

func (k CodeKind) String() string {
	switch k {
	case CodeScript:
		return "script"
	case CodeFunction:
		return "function"
	case CodeStub:
		return "stub"
	}
	return "code?"
}

// ConstKind tags a constant pool entry.
type ConstKind int8

const (
	ConstNumber   ConstKind = iota // double outside small integer range
	ConstString                    // string literal
	ConstSymbol                    // interned name
	ConstFunction                  // nested code object
)

// Constant is an unresolved constant pool entry. The runtime turns it
// into a heap value when the code is installed.
type Constant struct {
	Kind ConstKind
	Num  float64
	Str  string
	Code *Code
}

func (c Constant) String() string {
	switch c.Kind {
	case ConstNumber:
		return fmt.Sprintf("number(%v)", c.Num)
	case ConstString:
		return fmt.Sprintf("string(%q)", c.Str)
	case ConstSymbol:
		return fmt.Sprintf("symbol(%q)", c.Str)
	case ConstFunction:
		return fmt.Sprintf("function(%s)", c.Code.Name)
	}
	return "const?"
}

// PosEntry maps an instruction offset to a source line. Entries are
// sorted by PC; each covers the range up to the next entry.
type PosEntry struct {
	PC   int
	Line int
}

// Code is an assembled code object: a flat instruction stream with
// every branch target resolved to an offset.
type Code struct {
	Kind       CodeKind
	Name       string
	ParamCount int
	Source     string // source file, for positions

	Instrs       []Instr
	Pool         []Constant
	BlockOffsets []int
	Positions    []PosEntry
	Comments     map[int]string
}

// LineAt returns the source line covering pc, or zero when the code
// carries no position for it.
func (c *Code) LineAt(pc int) int {
	i := sort.Search(len(c.Positions), func(i int) bool {
		return c.Positions[i].PC > pc
	})
	if i == 0 {
		return 0
	}
	return c.Positions[i-1].Line
}

// Block is a labeled run of instructions. Branches name blocks;
// Assemble lays blocks out in bind order and resolves the names to
// offsets.
type Block struct {
	id     int
	bound  bool
	instrs []Instr
	marks  []posMark
	notes  []noteMark
}

// ID returns the block's dense index within its assembler.
func (b *Block) ID() int { return b.id }

type posMark struct {
	idx  int
	line int
}

type noteMark struct {
	idx  int
	text string
}

type poolKey struct {
	kind ConstKind
	bits uint64
	str  string
}

// Assembler builds one code object. Emission goes into the current
// block; Bind switches to a new one. Blocks may be branched to before
// or after they are bound.
type Assembler struct {
	kind    CodeKind
	name    string
	source  string
	params  int
	blocks  []*Block
	order   []*Block
	current *Block
	pool    []Constant
	poolIdx map[poolKey]int
	lastPos int
}

// NewAssembler starts a code object of the given kind. The entry
// block is created and bound.
func NewAssembler(kind CodeKind, name string) *Assembler {
	a := &Assembler{
		kind:    kind,
		name:    name,
		poolIdx: make(map[poolKey]int),
	}
	a.Bind(a.NewBlock())
	return a
}

// SetParamCount records the declared parameter count for function
// code.
func (a *Assembler) SetParamCount(n int) { a.params = n }

// SetSource records the source file name carried into the code
// object.
func (a *Assembler) SetSource(file string) { a.source = file }

// NewBlock creates an unbound block.
func (a *Assembler) NewBlock() *Block {
	b := &Block{id: len(a.blocks)}
	a.blocks = append(a.blocks, b)
	return b
}

// Bind places b at the current end of the code and directs emission
// into it. Control falls through from the previous block unless it
// ended with an unconditional transfer.
func (a *Assembler) Bind(b *Block) {
	if b.bound {
		panic("asm: block bound twice")
	}
	b.bound = true
	a.order = append(a.order, b)
	a.current = b
}

// Bound reports whether b has been placed.
func (a *Assembler) Bound(b *Block) bool { return b.bound }

func (a *Assembler) emit(in Instr) {
	a.current.instrs = append(a.current.instrs, in)
}

// RecordPosition attaches a source line to the next emitted
// instruction. Repeats of the current line are dropped.
func (a *Assembler) RecordPosition(line int) {
	if line == 0 || line == a.lastPos {
		return
	}
	a.lastPos = line
	b := a.current
	b.marks = append(b.marks, posMark{idx: len(b.instrs), line: line})
}

// Comment attaches a note to the next emitted instruction, shown by
// the disassembler.
func (a *Assembler) Comment(format string, args ...interface{}) {
	b := a.current
	b.notes = append(b.notes, noteMark{
		idx:  len(b.instrs),
		text: fmt.Sprintf(format, args...),
	})
}

func (a *Assembler) constIndex(c Constant) int {
	key := poolKey{kind: c.Kind, str: c.Str}
	if c.Kind == ConstNumber {
		key.bits = math.Float64bits(c.Num)
	}
	if c.Kind == ConstFunction {
		// Function constants are unique per literal.
		a.pool = append(a.pool, c)
		return len(a.pool) - 1
	}
	if i, ok := a.poolIdx[key]; ok {
		return i
	}
	a.pool = append(a.pool, c)
	a.poolIdx[key] = len(a.pool) - 1
	return len(a.pool) - 1
}

// Mov copies src into rd.
func (a *Assembler) Mov(rd Register, src Operand) { a.emit(&Mov{Rd: rd, Src: src}) }

// LoadConst loads a pool constant into rd, interning the entry.
func (a *Assembler) LoadConst(rd Register, c Constant) {
	a.emit(&Lc{Rd: rd, Pool: a.constIndex(c)})
}

// LoadRoot loads a well-known heap value into rd.
func (a *Assembler) LoadRoot(rd Register, ri RootIndex) {
	a.emit(&LoadRoot{Rd: rd, Root: ri})
}

func (a *Assembler) Add(rd, rs Register, rt Operand) { a.emit(&Alu{Op: OpAdd, Rd: rd, Rs: rs, Rt: rt}) }
func (a *Assembler) Sub(rd, rs Register, rt Operand) { a.emit(&Alu{Op: OpSub, Rd: rd, Rs: rs, Rt: rt}) }
func (a *Assembler) And(rd, rs Register, rt Operand) { a.emit(&Alu{Op: OpAnd, Rd: rd, Rs: rs, Rt: rt}) }
func (a *Assembler) Or(rd, rs Register, rt Operand) { a.emit(&Alu{Op: OpOr, Rd: rd, Rs: rs, Rt: rt}) }
func (a *Assembler) Xor(rd, rs Register, rt Operand) { a.emit(&Alu{Op: OpXor, Rd: rd, Rs: rs, Rt: rt}) }
func (a *Assembler) Sll(rd, rs Register, rt Operand) { a.emit(&Alu{Op: OpSll, Rd: rd, Rs: rs, Rt: rt}) }
func (a *Assembler) Srl(rd, rs Register, rt Operand) { a.emit(&Alu{Op: OpSrl, Rd: rd, Rs: rs, Rt: rt}) }
func (a *Assembler) Sra(rd, rs Register, rt Operand) { a.emit(&Alu{Op: OpSra, Rd: rd, Rs: rs, Rt: rt}) }

// SmiTag writes the tagged form of the integer in rs to rd.
func (a *Assembler) SmiTag(rd, rs Register) { a.Sll(rd, rs, Imm(SmiShift)) }

// SmiUntag writes the integer value of the tagged small integer in rs
// to rd.
func (a *Assembler) SmiUntag(rd, rs Register) { a.Sra(rd, rs, Imm(SmiShift)) }

func (a *Assembler) Mult(rs, rt Register) { a.emit(&Mult{Rs: rs, Rt: rt}) }
func (a *Assembler) Div(rs, rt Register) { a.emit(&Div{Rs: rs, Rt: rt}) }
func (a *Assembler) Mflo(rd Register) { a.emit(&Mflo{Rd: rd}) }
func (a *Assembler) Mfhi(rd Register) { a.emit(&Mfhi{Rd: rd}) }

func (a *Assembler) Lw(rd Register, m Mem) { a.emit(&Lw{Rd: rd, Addr: m}) }
func (a *Assembler) Sw(rs Register, m Mem) { a.emit(&Sw{Rs: rs, Addr: m}) }
func (a *Assembler) Lb(rd Register, m Mem) { a.emit(&Lb{Rd: rd, Addr: m}) }
func (a *Assembler) Lbu(rd Register, m Mem) { a.emit(&Lbu{Rd: rd, Addr: m}) }
func (a *Assembler) Sb(rs Register, m Mem) { a.emit(&Sb{Rs: rs, Addr: m}) }

func (a *Assembler) Push(rs Register) { a.emit(&Push{Rs: rs}) }
func (a *Assembler) Pop(rd Register) { a.emit(&Pop{Rd: rd}) }

// Jump transfers to target unconditionally.
func (a *Assembler) Jump(target *Block) { a.emit(&Jump{Target: target}) }

// Branch transfers to target when rs cond rt holds. Always emits an
// unconditional jump.
func (a *Assembler) Branch(target *Block, cond Cond, rs Register, rt Operand) {
	if cond == Always {
		a.Jump(target)
		return
	}
	a.emit(&Branch{Cond: cond, Rs: rs, Rt: rt, Target: target})
}

// BranchF transfers to target when fs cond ft holds over doubles.
func (a *Assembler) BranchF(target *Block, cond Cond, fs, ft FPReg) {
	a.emit(&BranchF{Cond: cond, Fs: fs, Ft: ft, Target: target})
}

func (a *Assembler) Ldc1(fd FPReg, m Mem) { a.emit(&Ldc1{Fd: fd, Addr: m}) }
func (a *Assembler) Sdc1(fs FPReg, m Mem) { a.emit(&Sdc1{Fs: fs, Addr: m}) }
func (a *Assembler) CvtDW(fd FPReg, rs Register) { a.emit(&CvtDW{Fd: fd, Rs: rs}) }

func (a *Assembler) AddD(fd, fs, ft FPReg) { a.emit(&FArith{Op: FAdd, Fd: fd, Fs: fs, Ft: ft}) }
func (a *Assembler) SubD(fd, fs, ft FPReg) { a.emit(&FArith{Op: FSub, Fd: fd, Fs: fs, Ft: ft}) }
func (a *Assembler) MulD(fd, fs, ft FPReg) { a.emit(&FArith{Op: FMul, Fd: fd, Fs: fs, Ft: ft}) }
func (a *Assembler) DivD(fd, fs, ft FPReg) { a.emit(&FArith{Op: FDiv, Fd: fd, Fs: fs, Ft: ft}) }

// CallRuntime invokes a runtime entry with argc stacked arguments.
func (a *Assembler) CallRuntime(fn RuntimeFn, argc int) {
	a.emit(&CallRT{Fn: fn, Argc: argc})
}

// CallFunction invokes the stacked function object with argc
// arguments.
func (a *Assembler) CallFunction(argc int) { a.emit(&CallFn{Argc: argc}) }

// CallStub transfers to a stub code object.
func (a *Assembler) CallStub(code *Code) { a.emit(&CallStub{Code: code}) }

func (a *Assembler) Ret() { a.emit(&Ret{}) }

// PushHandler installs a try handler resuming at target.
func (a *Assembler) PushHandler(target *Block) { a.emit(&PushHandler{Target: target}) }

// PopHandler removes the innermost try handler.
func (a *Assembler) PopHandler() { a.emit(&PopHandler{}) }

// CheckStack polls the stack limit.
func (a *Assembler) CheckStack() { a.emit(&CheckStack{}) }

// Allocate reserves size bytes of new space into rd, branching to
// fail when the space is full.
func (a *Assembler) Allocate(rd Register, size Operand, fail *Block) {
	a.emit(&Alloc{Rd: rd, Size: size, Fail: fail})
}

// Assemble lays out all bound blocks in bind order, resolves branch
// targets to instruction offsets and returns the finished code
// object. Referencing an unbound block is a bug in the caller.
func (a *Assembler) Assemble() *Code {
	offsets := make([]int, len(a.blocks))
	for i := range offsets {
		offsets[i] = -1
	}
	pc := 0
	for _, b := range a.order {
		offsets[b.id] = pc
		pc += len(b.instrs)
	}

	resolve := func(b *Block) int {
		if b == nil || !b.bound {
			panic(fmt.Sprintf("asm: unresolved block in %s", a.name))
		}
		return offsets[b.id]
	}

	code := &Code{
		Kind:         a.kind,
		Name:         a.name,
		ParamCount:   a.params,
		Source:       a.source,
		Instrs:       make([]Instr, 0, pc),
		Pool:         a.pool,
		BlockOffsets: offsets,
		Comments:     make(map[int]string),
	}
	for _, b := range a.order {
		base := len(code.Instrs)
		for _, m := range b.marks {
			code.Positions = append(code.Positions, PosEntry{PC: base + m.idx, Line: m.line})
		}
		for _, n := range b.notes {
			at := base + n.idx
			if prev, ok := code.Comments[at]; ok {
				code.Comments[at] = prev + "; " + n.text
			} else {
				code.Comments[at] = n.text
			}
		}
		code.Instrs = append(code.Instrs, b.instrs...)
	}
	for _, in := range code.Instrs {
		switch t := in.(type) {
		case *Jump:
			t.PC = resolve(t.Target)
		case *Branch:
			t.PC = resolve(t.Target)
		case *BranchF:
			t.PC = resolve(t.Target)
		case *PushHandler:
			t.PC = resolve(t.Target)
		case *Alloc:
			t.PC = resolve(t.Fail)
		}
	}
	return code
}
