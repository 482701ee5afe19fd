package frame

import (
	"fmt"

	"stratus/internal/asm"
)

// UnknownHeight marks a target no jump has reached yet.
const UnknownHeight = -1

// Target is a forward or backward control flow destination. Every
// jump spills the frame first, so a join is described entirely by its
// height; the first jump or bind fixes it and later ones must match.
type Target struct {
	masm   *asm.Assembler
	block  *asm.Block
	height int
	used   bool
	bound  bool
}

// NewTarget returns an unbound target for a.
func NewTarget(a *asm.Assembler) *Target {
	return &Target{masm: a, height: UnknownHeight}
}

// Block returns the underlying block, creating it on first use.
func (t *Target) Block() *asm.Block {
	if t.block == nil {
		t.block = t.masm.NewBlock()
	}
	return t.block
}

// IsUsed reports whether any jump or branch was emitted to t.
func (t *Target) IsUsed() bool { return t.used }

// IsBound reports whether t has been placed in the code.
func (t *Target) IsBound() bool { return t.bound }

// Height returns the frame height at the target, or UnknownHeight.
func (t *Target) Height() int { return t.height }

func (t *Target) expect(h int) {
	if t.height == UnknownHeight {
		t.height = h
		return
	}
	if t.height != h {
		panic(fmt.Sprintf("frame: join height %d, expected %d", h, t.height))
	}
}

// Jump spills f and transfers to t unconditionally. The caller's
// frame is dead afterwards.
func (t *Target) Jump(f *Frame) {
	f.SpillAll()
	t.expect(f.Height())
	t.used = true
	t.masm.Jump(t.Block())
}

// Branch spills f and transfers to t when rs cond rt holds. Spilling
// emits before the branch, so rs must not be the assembler scratch.
func (t *Target) Branch(f *Frame, cond asm.Cond, rs asm.Register, rt asm.Operand) {
	f.SpillAll()
	t.expect(f.Height())
	t.used = true
	t.masm.Branch(t.Block(), cond, rs, rt)
}

// Bind places t here. A live fall-through frame is spilled and must
// match the height jumps established; pass nil when the fall-through
// is dead.
func (t *Target) Bind(f *Frame) {
	if f != nil {
		f.SpillAll()
		t.expect(f.Height())
	}
	t.bound = true
	t.masm.Bind(t.Block())
}

// EntryFrame returns a fresh spilled frame of the target's height,
// for binds whose fall-through is dead.
func (t *Target) EntryFrame(alloc *Allocator) *Frame {
	if t.height == UnknownHeight {
		panic("frame: entry frame for unreached target")
	}
	f := New(t.masm, alloc)
	f.Adjust(t.height)
	return f
}

// BreakTarget is a target outside the current statement, reached by
// break, continue or return. Jumps unwind the frame to the height
// recorded when the statement was entered.
type BreakTarget struct {
	Target
	breakHeight int
}

// NewBreakTarget returns a break target unwinding to height h.
func NewBreakTarget(a *asm.Assembler, h int) *BreakTarget {
	return &BreakTarget{
		Target:      Target{masm: a, height: UnknownHeight},
		breakHeight: h,
	}
}

// BreakHeight returns the height jumps unwind to.
func (t *BreakTarget) BreakHeight() int { return t.breakHeight }

// Jump drops f to the break height and transfers to t.
func (t *BreakTarget) Jump(f *Frame) {
	f.SpillAll()
	if f.Height() < t.breakHeight {
		panic(fmt.Sprintf("frame: break from height %d below %d", f.Height(), t.breakHeight))
	}
	f.Drop(f.Height() - t.breakHeight)
	t.Target.Jump(f)
}

// ShadowTarget stands in for a break target while a try body is
// compiled. Escapes land here instead of leaving the handler scope;
// after the body the compiler unlinks the handler on each used shadow
// and forwards to the original.
type ShadowTarget struct {
	BreakTarget
	original *BreakTarget
}

// Shadow returns a fresh stand-in for orig. Jumps unwind to h, the
// frame height just above the handler record, so the handler is still
// in place when the escape path unlinks it.
func Shadow(orig *BreakTarget, h int) *ShadowTarget {
	return &ShadowTarget{
		BreakTarget: BreakTarget{
			Target:      Target{masm: orig.masm, height: UnknownHeight},
			breakHeight: h,
		},
		original: orig,
	}
}

// Original returns the target being shadowed.
func (t *ShadowTarget) Original() *BreakTarget { return t.original }
