package codegen

import (
	"stratus/internal/asm"
	"stratus/internal/ast"
	"stratus/internal/errors"
	"stratus/internal/runtime"
	"stratus/internal/scope"
)

type refKind int8

const (
	refVariable refKind = iota
	refNamed
	refIndexed
)

// reference is an assignable location. Its component values (the
// object, plus the key for indexed stores) sit on the frame from
// newReference until setValue consumes them, so a compound assignment
// evaluates the target expression once.
type reference struct {
	cg   *CodeGenerator
	kind refKind
	v    *ast.Variable
	name string
}

// newReference prepares e as a store target, loading its components.
// A target that cannot be stored through reports a compile error and
// returns nil.
func (cg *CodeGenerator) newReference(e ast.Expr) *reference {
	switch t := e.(type) {
	case *ast.Variable:
		return &reference{cg: cg, kind: refVariable, v: t}
	case *ast.Property:
		cg.load(t.Object)
		return &reference{cg: cg, kind: refNamed, name: t.Name}
	case *ast.Index:
		cg.load(t.Object)
		cg.load(t.Key)
		return &reference{cg: cg, kind: refIndexed}
	}
	cg.fail(e.StartLine(), errors.CompileError, "invalid assignment target")
	return nil
}

// getValue pushes the referenced value, keeping the components below
// it for a later setValue.
func (r *reference) getValue() {
	cg := r.cg
	if cg.frame == nil {
		return
	}
	switch r.kind {
	case refVariable:
		cg.loadVariableRef(r.v)
	case refNamed:
		cg.frame.Dup()
		cg.frame.PushConst(symbolConstant(r.name))
		cg.callRuntime(asm.RTLoadProperty, 2)
		cg.pushV0()
	case refIndexed:
		h := cg.frame.Height()
		cg.frame.PushCopyOf(h - 2)
		cg.frame.PushCopyOf(h - 2)
		cg.callRuntime(asm.RTLoadProperty, 2)
		cg.pushV0()
	}
}

// setValue stores the frame's top value through the reference. The
// components are consumed; the stored value remains as the result.
func (r *reference) setValue(initConst bool) {
	cg := r.cg
	if cg.frame == nil {
		return
	}
	switch r.kind {
	case refVariable:
		ref, ok := cg.res.Uses[r.v]
		if !ok {
			cg.fail(r.v.Line, errors.CompileError, "unresolved variable %q", r.v.Name)
			return
		}
		cg.storeVariable(ref, initConst)
	case refNamed:
		h := cg.frame.Height() // object at h-2, value at h-1
		cg.frame.PushCopyOf(h - 2)
		cg.frame.PushConst(symbolConstant(r.name))
		cg.frame.PushCopyOf(h - 1)
		cg.callRuntime(asm.RTStoreProperty, 3)
		if cg.frame == nil {
			return
		}
		cg.frame.Drop(2)
		cg.pushV0()
	case refIndexed:
		h := cg.frame.Height() // object, key, value on top
		cg.frame.PushCopyOf(h - 3)
		cg.frame.PushCopyOf(h - 2)
		cg.frame.PushCopyOf(h - 1)
		cg.callRuntime(asm.RTStoreProperty, 3)
		if cg.frame == nil {
			return
		}
		cg.frame.Drop(3)
		cg.pushV0()
	}
}

// loadVariableRef pushes a variable's value from its resolved slot.
func (cg *CodeGenerator) loadVariableRef(v *ast.Variable) {
	if cg.frame == nil {
		return
	}
	ref, ok := cg.res.Uses[v]
	if !ok {
		cg.fail(v.Line, errors.CompileError, "unresolved variable %q", v.Name)
		return
	}
	switch ref.Kind {
	case scope.KindParameter:
		r := cg.frame.Acquire()
		cg.masm.Lw(r, cg.paramMem(ref.Index))
		cg.frame.PushRegister(r)
	case scope.KindLocal:
		r := cg.frame.Acquire()
		cg.masm.Lw(r, localMem(ref.Index))
		cg.frame.PushRegister(r)
	case scope.KindContext:
		r := cg.frame.Acquire()
		if ref.Depth == 0 {
			cg.masm.Lw(r, ctxSlotMem(asm.Cp, ref.Index))
		} else {
			cg.masm.Lw(r, asm.FieldMem(asm.Cp, runtime.ContextPrevOffset))
			for i := 1; i < ref.Depth; i++ {
				cg.masm.Lw(r, asm.FieldMem(r, runtime.ContextPrevOffset))
			}
			cg.masm.Lw(r, ctxSlotMem(r, ref.Index))
		}
		cg.frame.PushRegister(r)
	case scope.KindGlobal:
		cg.frame.PushConst(symbolConstant(ref.Name))
		cg.callRuntime(asm.RTLoadGlobal, 1)
		cg.pushV0()
	}
}

// storeVariable stores the frame's top into ref, leaving the value on
// the frame as the expression result. Assignments to const bindings
// are dropped unless this is the initializing store.
func (cg *CodeGenerator) storeVariable(ref scope.VarRef, initConst bool) {
	if cg.frame == nil {
		return
	}
	if ref.Const && !initConst && ref.Kind != scope.KindGlobal {
		return
	}
	switch ref.Kind {
	case scope.KindParameter:
		r := cg.frame.Pop()
		cg.masm.Sw(r, cg.paramMem(ref.Index))
		cg.frame.PushRegister(r)
	case scope.KindLocal:
		r := cg.frame.Pop()
		cg.masm.Sw(r, localMem(ref.Index))
		cg.frame.PushRegister(r)
	case scope.KindContext:
		r := cg.frame.Pop()
		if ref.Depth == 0 {
			cg.masm.Sw(r, ctxSlotMem(asm.Cp, ref.Index))
		} else {
			ctx := cg.frame.Acquire()
			cg.masm.Lw(ctx, asm.FieldMem(asm.Cp, runtime.ContextPrevOffset))
			for i := 1; i < ref.Depth; i++ {
				cg.masm.Lw(ctx, asm.FieldMem(ctx, runtime.ContextPrevOffset))
			}
			cg.masm.Sw(r, ctxSlotMem(ctx, ref.Index))
			cg.frame.Release(ctx)
		}
		cg.frame.PushRegister(r)
	case scope.KindGlobal:
		if initConst {
			// Initializing a const global goes through declaration
			// so the runtime records the const guard.
			cg.frame.Dup()
			v := cg.frame.Pop()
			cg.frame.PushConst(symbolConstant(ref.Name))
			cg.frame.PushRegister(v)
			cg.frame.PushSmi(runtime.DeclareConst)
			cg.callRuntime(asm.RTDeclareGlobal, 3)
			return
		}
		v := cg.frame.Pop()
		cg.frame.PushConst(symbolConstant(ref.Name))
		cg.frame.PushRegister(v)
		cg.callRuntime(asm.RTStoreGlobal, 2)
		cg.pushV0()
	}
}
