// Package frame models the machine stack during compilation. The
// virtual frame defers pushes so values can stay in registers or as
// known constants until control flow or a call forces them into
// memory, and branch targets carry the frame discipline across jumps.
package frame

import "stratus/internal/asm"

// Allocatable is the register set the compiler hands out. V0 is
// included; it doubles as the canonical result register, so it is
// usually the first one free.
var Allocatable = []asm.Register{
	asm.V0, asm.T0, asm.T1, asm.T2, asm.T3, asm.T4, asm.T5,
}

// Allocator tracks which allocatable registers hold live values.
type Allocator struct {
	used [asm.NumRegisters]bool
}

// Acquire hands out a free register. The second result is false when
// every allocatable register is live; the caller then spills and
// retries.
func (a *Allocator) Acquire() (asm.Register, bool) {
	for _, r := range Allocatable {
		if !a.used[r] {
			a.used[r] = true
			return r, true
		}
	}
	return asm.NoReg, false
}

// AcquireSpecific claims r if it is free.
func (a *Allocator) AcquireSpecific(r asm.Register) bool {
	if a.used[r] {
		return false
	}
	a.used[r] = true
	return true
}

// Release frees a register.
func (a *Allocator) Release(r asm.Register) {
	if !a.used[r] {
		panic("frame: release of free register " + r.String())
	}
	a.used[r] = false
}

// InUse reports whether r is live.
func (a *Allocator) InUse(r asm.Register) bool { return a.used[r] }

// AllFree reports whether no register is live, the required state at
// control flow joins.
func (a *Allocator) AllFree() bool {
	for _, r := range Allocatable {
		if a.used[r] {
			return false
		}
	}
	return true
}
