package frame

import (
	"reflect"
	"strings"
	"testing"

	"stratus/internal/asm"
)

func newFrame() (*Frame, *Allocator, *asm.Assembler) {
	a := asm.NewAssembler(asm.CodeFunction, "t")
	alloc := &Allocator{}
	return New(a, alloc), alloc, a
}

func ops(a *asm.Assembler) []string {
	var out []string
	for _, in := range a.Assemble().Instrs {
		name := reflect.TypeOf(in).String()
		out = append(out, strings.TrimPrefix(name, "*asm."))
	}
	return out
}

func TestPushAddsOneToHeight(t *testing.T) {
	f, alloc, _ := newFrame()
	pushes := []func(){
		func() { f.PushSmi(7) },
		func() { f.PushWord(0) },
		func() { f.PushRoot(asm.RootNull) },
		func() { f.PushConst(asm.Constant{Kind: asm.ConstSymbol, Str: "x"}) },
		func() {
			r, _ := alloc.Acquire()
			f.PushRegister(r)
		},
	}
	for i, push := range pushes {
		push()
		if f.Height() != i+1 {
			t.Fatalf("height after push %d = %d", i, f.Height())
		}
	}
}

func TestSpillAllMaterializesInOrder(t *testing.T) {
	f, alloc, a := newFrame()
	f.PushSmi(1)
	f.PushRoot(asm.RootUndefined)
	r := f.Acquire()
	f.PushRegister(r)
	f.SpillAll()

	if !f.IsSpilled() {
		t.Fatal("frame not spilled")
	}
	if !alloc.AllFree() {
		t.Fatal("spill kept a register")
	}
	want := []string{"Mov", "Push", "LoadRoot", "Push", "Push"}
	if got := ops(a); !reflect.DeepEqual(got, want) {
		t.Fatalf("instrs = %v, want %v", got, want)
	}
}

func TestPopPrefersRegisterElement(t *testing.T) {
	f, _, a := newFrame()
	r := f.Acquire()
	f.PushRegister(r)
	if got := f.Pop(); got != r {
		t.Fatalf("Pop = %s, want %s", got, r)
	}
	if n := len(ops(a)); n != 0 {
		t.Fatalf("emitted %d instrs", n)
	}
}

func TestPopMaterializesConstant(t *testing.T) {
	f, _, a := newFrame()
	f.PushSmi(21)
	r := f.Pop()
	if r != asm.V0 {
		t.Fatalf("Pop = %s, want v0", r)
	}
	code := a.Assemble()
	mov, ok := code.Instrs[0].(*asm.Mov)
	if !ok {
		t.Fatalf("instr = %T", code.Instrs[0])
	}
	if mov.Src.Imm() != asm.SmiVal(21) {
		t.Fatalf("materialized %d, want tagged 21", mov.Src.Imm())
	}
}

func TestPopSpilledFramePopsStack(t *testing.T) {
	f, _, a := newFrame()
	f.PushSmi(3)
	f.SpillAll()
	r := f.Pop()
	want := []string{"Mov", "Push", "Pop"}
	if got := ops(a); !reflect.DeepEqual(got, want) {
		t.Fatalf("instrs = %v, want %v", got, want)
	}
	if f.Height() != 0 {
		t.Fatalf("height = %d", f.Height())
	}
	f.Release(r)
}

func TestDropEmitsOneAdjustment(t *testing.T) {
	f, _, a := newFrame()
	for i := 0; i < 3; i++ {
		f.PushSmi(int32(i))
	}
	f.SpillAll()
	f.Drop(2)
	code := a.Assemble()
	last := code.Instrs[len(code.Instrs)-1]
	alu, ok := last.(*asm.Alu)
	if !ok || alu.Op != asm.OpAdd || alu.Rd != asm.Sp || alu.Rt.Imm() != 8 {
		t.Fatalf("last instr = %v", last)
	}
	if f.Height() != 1 {
		t.Fatalf("height = %d", f.Height())
	}
}

func TestDropReleasesRegisters(t *testing.T) {
	f, alloc, a := newFrame()
	f.PushRegister(f.Acquire())
	f.Drop(1)
	if !alloc.AllFree() {
		t.Fatal("register leaked")
	}
	if n := len(ops(a)); n != 0 {
		t.Fatalf("emitted %d instrs", n)
	}
}

func TestAdjustAndForgetAreSilent(t *testing.T) {
	f, _, a := newFrame()
	f.Adjust(4)
	if f.Height() != 4 {
		t.Fatalf("height = %d", f.Height())
	}
	f.Forget(4)
	if f.Height() != 0 {
		t.Fatalf("height = %d", f.Height())
	}
	if n := len(ops(a)); n != 0 {
		t.Fatalf("emitted %d instrs", n)
	}
}

func TestSlotMemAddressing(t *testing.T) {
	f, _, _ := newFrame()
	for i := 0; i < 3; i++ {
		f.PushSmi(int32(i))
	}
	f.SpillAll()
	if m := f.SlotMem(0); m.Base != asm.Sp || m.Off != 8 {
		t.Fatalf("slot 0 at %s+%d", m.Base, m.Off)
	}
	if m := f.SlotMem(2); m.Off != 0 {
		t.Fatalf("slot 2 at off %d", m.Off)
	}
}

func TestPushCopyOfConstantIsFree(t *testing.T) {
	f, _, a := newFrame()
	f.PushRoot(asm.RootTrue)
	f.PushCopyOf(0)
	if f.Height() != 2 {
		t.Fatalf("height = %d", f.Height())
	}
	if n := len(ops(a)); n != 0 {
		t.Fatalf("emitted %d instrs", n)
	}
}

func TestPushCopyOfMemoryLoadsSlot(t *testing.T) {
	f, _, a := newFrame()
	f.PushSmi(1)
	f.PushSmi(2)
	f.SpillAll()
	f.PushCopyOf(0)
	code := a.Assemble()
	lw, ok := code.Instrs[len(code.Instrs)-1].(*asm.Lw)
	if !ok {
		t.Fatalf("last instr = %T", code.Instrs[len(code.Instrs)-1])
	}
	if lw.Addr.Base != asm.Sp || lw.Addr.Off != 4 {
		t.Fatalf("copy loaded %s+%d", lw.Addr.Base, lw.Addr.Off)
	}
}

func TestAcquireSpillsWhenExhausted(t *testing.T) {
	f, alloc, _ := newFrame()
	var held []asm.Register
	for i := 0; i < len(Allocatable)-1; i++ {
		held = append(held, f.Acquire())
	}
	last := f.Acquire()
	f.PushRegister(last)

	r := f.Acquire()
	if r != last {
		t.Fatalf("Acquire = %s, want spill to free %s", r, last)
	}
	if !f.IsSpilled() {
		t.Fatal("frame not spilled by exhausted acquire")
	}
	f.Release(r)
	for _, h := range held {
		alloc.Release(h)
	}
}

func TestCallRuntimeForgetsArguments(t *testing.T) {
	f, _, a := newFrame()
	f.PushSmi(1)
	f.PushSmi(2)
	f.SpillAll()
	f.CallRuntime(asm.RTBinaryOp, 2)
	if f.Height() != 0 {
		t.Fatalf("height = %d after call", f.Height())
	}
	code := a.Assemble()
	if _, ok := code.Instrs[len(code.Instrs)-1].(*asm.CallRT); !ok {
		t.Fatalf("last instr = %T", code.Instrs[len(code.Instrs)-1])
	}
}

func TestTargetHeightMismatchPanics(t *testing.T) {
	f, alloc, a := newFrame()
	tgt := NewTarget(a)
	f.PushSmi(1)
	tgt.Jump(f)

	defer func() {
		if recover() == nil {
			t.Fatal("no panic on join height mismatch")
		}
	}()
	g := New(a, alloc)
	g.PushSmi(1)
	g.PushSmi(2)
	tgt.Jump(g)
}

func TestTargetEntryFrame(t *testing.T) {
	f, alloc, a := newFrame()
	tgt := NewTarget(a)
	f.PushSmi(1)
	f.PushSmi(2)
	tgt.Jump(f)
	tgt.Bind(nil)
	entry := tgt.EntryFrame(alloc)
	if entry.Height() != 2 || !entry.IsSpilled() {
		t.Fatalf("entry height %d spilled %v", entry.Height(), entry.IsSpilled())
	}
	if !tgt.IsUsed() || !tgt.IsBound() {
		t.Fatal("target state not tracked")
	}
}

func TestBreakTargetUnwinds(t *testing.T) {
	f, _, a := newFrame()
	f.PushSmi(1)
	bt := NewBreakTarget(a, f.Height())
	f.PushSmi(2)
	f.PushSmi(3)
	bt.Jump(f)
	bt.Bind(nil)

	code := a.Assemble()
	n := len(code.Instrs)
	if _, ok := code.Instrs[n-1].(*asm.Jump); !ok {
		t.Fatalf("last instr = %T", code.Instrs[n-1])
	}
	alu, ok := code.Instrs[n-2].(*asm.Alu)
	if !ok || alu.Rd != asm.Sp || alu.Rt.Imm() != 8 {
		t.Fatalf("unwind instr = %v", code.Instrs[n-2])
	}
	if bt.Height() != 1 {
		t.Fatalf("join height = %d", bt.Height())
	}
}

func TestShadowCollectsEscapes(t *testing.T) {
	f, _, a := newFrame()
	orig := NewBreakTarget(a, 0)
	f.Adjust(4) // handler record
	sh := Shadow(orig, f.Height())

	f.PushSmi(9)
	sh.Jump(f)
	sh.Bind(nil)

	if !sh.IsUsed() {
		t.Fatal("shadow not marked used")
	}
	if orig.IsUsed() {
		t.Fatal("escape reached original directly")
	}
	if sh.Height() != 4 {
		t.Fatalf("shadow join height = %d, want handler kept", sh.Height())
	}
	if sh.Original() != orig {
		t.Fatal("original not recorded")
	}
}
