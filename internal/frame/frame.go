package frame

import (
	"fmt"

	"stratus/internal/asm"
)

type elemKind int8

const (
	elemMemory elemKind = iota
	elemRegister
	elemImm
	elemRoot
	elemPool
)

// element is one virtual stack slot. Memory elements live on the real
// stack and always form a prefix of the frame; register and constant
// elements exist only in the compiler and are materialized on demand.
type element struct {
	kind elemKind
	reg  asm.Register
	imm  int32
	root asm.RootIndex
	pool asm.Constant
}

// Frame models the expression stack above a function's locals. Pushes
// are virtual until a call, branch or explicit spill forces the
// pending values onto the real stack, so straight line code keeps
// intermediate results in registers.
//
// Heights count virtual slots. The real stack pointer trails the
// height by the number of unmaterialized elements.
type Frame struct {
	masm  *asm.Assembler
	alloc *Allocator
	elems []element
	mem   int // memory elements form the prefix [0, mem)
}

// New returns an empty frame emitting through a.
func New(a *asm.Assembler, alloc *Allocator) *Frame {
	return &Frame{masm: a, alloc: alloc}
}

// Height returns the number of virtual slots.
func (f *Frame) Height() int { return len(f.elems) }

// IsSpilled reports whether every element is on the real stack.
func (f *Frame) IsSpilled() bool { return f.mem == len(f.elems) }

func (f *Frame) requireSpilled(op string) {
	if !f.IsSpilled() {
		panic("frame: " + op + " on unspilled frame")
	}
}

// Acquire hands out a free register, spilling the frame when all are
// live.
func (f *Frame) Acquire() asm.Register {
	if r, ok := f.alloc.Acquire(); ok {
		return r
	}
	f.SpillAll()
	r, ok := f.alloc.Acquire()
	if !ok {
		panic("frame: no allocatable registers")
	}
	return r
}

// Release frees a register handed out by Acquire or Pop.
func (f *Frame) Release(r asm.Register) { f.alloc.Release(r) }

// PushRegister pushes a register element. The frame takes over the
// register; it is released when the element is spilled or dropped.
func (f *Frame) PushRegister(r asm.Register) {
	if !f.alloc.InUse(r) {
		panic("frame: push of unowned register " + r.String())
	}
	f.elems = append(f.elems, element{kind: elemRegister, reg: r})
}

// PushWord pushes a constant machine word, most often a tagged small
// integer.
func (f *Frame) PushWord(w int32) {
	f.elems = append(f.elems, element{kind: elemImm, imm: w})
}

// PushSmi pushes the tagged form of a small integer.
func (f *Frame) PushSmi(v int32) { f.PushWord(asm.SmiVal(v)) }

// PushRoot pushes a well-known heap value.
func (f *Frame) PushRoot(ri asm.RootIndex) {
	f.elems = append(f.elems, element{kind: elemRoot, root: ri})
}

// PushConst pushes a constant pool value.
func (f *Frame) PushConst(c asm.Constant) {
	f.elems = append(f.elems, element{kind: elemPool, pool: c})
}

// EmitPush pushes r on the real stack as a memory element. The frame
// must be spilled so the new slot extends the memory prefix. Unlike
// PushRegister the register is not taken over.
func (f *Frame) EmitPush(r asm.Register) {
	f.requireSpilled("EmitPush")
	f.masm.Push(r)
	f.elems = append(f.elems, element{kind: elemMemory})
	f.mem++
}

// Pop removes the top element and returns a register holding its
// value. The caller owns the register.
func (f *Frame) Pop() asm.Register {
	if len(f.elems) == 0 {
		panic("frame: pop from empty frame")
	}
	top := len(f.elems) - 1
	if e := f.elems[top]; e.kind == elemRegister {
		f.elems = f.elems[:top]
		return e.reg
	}
	r := f.Acquire() // may spill, so re-read the element after
	e := f.elems[top]
	f.elems = f.elems[:top]
	switch e.kind {
	case elemMemory:
		f.masm.Pop(r)
		f.mem--
	case elemImm:
		f.masm.Mov(r, asm.Imm(e.imm))
	case elemRoot:
		f.masm.LoadRoot(r, e.root)
	case elemPool:
		f.masm.LoadConst(r, e.pool)
	}
	return r
}

// EmitPop pops the real stack into r. The frame must be spilled. The
// register is the caller's; the allocator is not involved, so fixed
// calling convention registers work here.
func (f *Frame) EmitPop(r asm.Register) {
	f.requireSpilled("EmitPop")
	if len(f.elems) == 0 {
		panic("frame: pop from empty frame")
	}
	f.masm.Pop(r)
	f.elems = f.elems[:len(f.elems)-1]
	f.mem--
}

// SpillAll materializes every pending element onto the real stack and
// releases the registers the frame holds.
func (f *Frame) SpillAll() {
	for i := f.mem; i < len(f.elems); i++ {
		e := &f.elems[i]
		switch e.kind {
		case elemRegister:
			f.masm.Push(e.reg)
			f.alloc.Release(e.reg)
		case elemImm:
			f.masm.Mov(asm.At, asm.Imm(e.imm))
			f.masm.Push(asm.At)
		case elemRoot:
			f.masm.LoadRoot(asm.At, e.root)
			f.masm.Push(asm.At)
		case elemPool:
			f.masm.LoadConst(asm.At, e.pool)
			f.masm.Push(asm.At)
		}
		e.kind = elemMemory
		e.reg = asm.NoReg
	}
	f.mem = len(f.elems)
}

// Drop removes the top n elements, adjusting the real stack for the
// materialized ones.
func (f *Frame) Drop(n int) {
	f.remove(n, true)
}

// Forget removes the top n elements without emitting code. Used when
// an instruction already consumed its stacked operands, for example a
// runtime call popping its arguments.
func (f *Frame) Forget(n int) {
	f.remove(n, false)
}

func (f *Frame) remove(n int, emit bool) {
	if n < 0 || n > len(f.elems) {
		panic(fmt.Sprintf("frame: remove %d of %d elements", n, len(f.elems)))
	}
	bytes := int32(0)
	for ; n > 0; n-- {
		top := len(f.elems) - 1
		e := f.elems[top]
		f.elems = f.elems[:top]
		switch e.kind {
		case elemRegister:
			f.alloc.Release(e.reg)
		case elemMemory:
			bytes += 4
			f.mem--
		}
	}
	if emit && bytes > 0 {
		f.masm.Add(asm.Sp, asm.Sp, asm.Imm(bytes))
	}
}

// Adjust records n slots the emitted code already pushed, for example
// a handler record. The frame must be spilled.
func (f *Frame) Adjust(n int) {
	f.requireSpilled("Adjust")
	for ; n > 0; n-- {
		f.elems = append(f.elems, element{kind: elemMemory})
		f.mem++
	}
}

// SlotMem returns the stack address of memory element i, counted from
// the bottom of the frame.
func (f *Frame) SlotMem(i int) asm.Mem {
	if i < 0 || i >= f.mem {
		panic(fmt.Sprintf("frame: element %d not in memory", i))
	}
	return asm.MemAt(asm.Sp, int32(4*(f.mem-1-i)))
}

// PushCopyOf duplicates element i on top of the frame.
func (f *Frame) PushCopyOf(i int) {
	if i < 0 || i >= len(f.elems) {
		panic(fmt.Sprintf("frame: copy of element %d of %d", i, len(f.elems)))
	}
	switch e := f.elems[i]; e.kind {
	case elemImm, elemRoot, elemPool:
		f.elems = append(f.elems, e)
	default:
		r := f.Acquire() // may spill element i into memory
		if e := f.elems[i]; e.kind == elemRegister {
			f.masm.Mov(r, asm.R(e.reg))
		} else {
			f.masm.Lw(r, f.SlotMem(i))
		}
		f.PushRegister(r)
	}
}

// Dup duplicates the top element.
func (f *Frame) Dup() { f.PushCopyOf(len(f.elems) - 1) }

// CallRuntime emits a runtime call consuming argc stacked arguments.
// The result is left in V0 and not pushed.
func (f *Frame) CallRuntime(fn asm.RuntimeFn, argc int) {
	f.requireSpilled("CallRuntime")
	f.masm.CallRuntime(fn, argc)
	f.forgetPopped(argc)
}

// CallFunction emits a call to the stacked function object. The
// function, receiver and arguments stay on the stack; the caller
// drops them after consuming the result.
func (f *Frame) CallFunction(argc int) {
	f.requireSpilled("CallFunction")
	f.masm.CallFunction(argc)
}

// CallStub transfers to a stub taking its operands in registers.
func (f *Frame) CallStub(code *asm.Code) {
	f.requireSpilled("CallStub")
	f.masm.CallStub(code)
}

func (f *Frame) forgetPopped(n int) {
	if n > f.mem {
		panic("frame: call consumed unmaterialized elements")
	}
	f.elems = f.elems[:len(f.elems)-n]
	f.mem -= n
}
