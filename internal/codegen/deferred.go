package codegen

import "stratus/internal/asm"

// deferred is an out of line slow path. The inline sequence branches
// to entry with the frame spilled; the body runs against the same
// stack shape and jumps back to exit. Bodies are emitted after the
// epilogue so the fast path stays straight line.
type deferred struct {
	entry *asm.Block
	exit  *asm.Block
	body  func(m *asm.Assembler)
}

func (cg *CodeGenerator) newDeferred(body func(m *asm.Assembler)) *deferred {
	d := &deferred{
		entry: cg.masm.NewBlock(),
		exit:  cg.masm.NewBlock(),
		body:  body,
	}
	cg.deferreds = append(cg.deferreds, d)
	return d
}

func (cg *CodeGenerator) flushDeferred() {
	for _, d := range cg.deferreds {
		cg.masm.Bind(d.entry)
		d.body(cg.masm)
		cg.masm.Jump(d.exit)
	}
	cg.deferreds = nil
}

// deferRuntime1 builds a slow path that calls a one argument runtime
// entry on r and lands the result in r2. Neither register may be the
// assembler scratch.
func (cg *CodeGenerator) deferRuntime1(fn asm.RuntimeFn, r, r2 asm.Register) *deferred {
	return cg.newDeferred(func(m *asm.Assembler) {
		m.Push(r)
		m.CallRuntime(fn, 1)
		if r2 != asm.V0 {
			m.Mov(r2, asm.R(asm.V0))
		}
	})
}
