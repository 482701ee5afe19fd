package codegen

import (
	"stratus/internal/asm"
	"stratus/internal/ast"
	"stratus/internal/errors"
	"stratus/internal/frame"
	"stratus/internal/runtime"
	"stratus/internal/stubs"
)

// handlerSlots is the word size of a machine handler record.
const handlerSlots = 4

func (cg *CodeGenerator) VisitVarDecl(s *ast.VarDecl) interface{} {
	if s.Init == nil {
		// The slot already holds undefined; globals were declared in
		// the prologue.
		return nil
	}
	ref, ok := cg.res.Decls[s]
	if !ok {
		cg.fail(s.Line, errors.CompileError, "unresolved declaration %q", s.Name)
		return nil
	}
	cg.masm.Comment("[ %s %s", s.Mode, s.Name)
	cg.load(s.Init)
	cg.storeVariable(ref, s.Mode == "const")
	if cg.frame != nil {
		cg.frame.Drop(1)
	}
	return nil
}

func (cg *CodeGenerator) VisitFunctionDecl(s *ast.FunctionDecl) interface{} {
	// Hoisted: bound during the prologue's declarations pass.
	return nil
}

func (cg *CodeGenerator) VisitExpressionStmt(s *ast.ExpressionStmt) interface{} {
	cg.load(s.Expr)
	if cg.frame == nil {
		return nil
	}
	if cg.info.IsScript {
		// Scripts keep the last expression value as their result.
		cg.frame.SpillAll()
		cg.frame.EmitPop(asm.V0)
	} else {
		cg.frame.Drop(1)
	}
	return nil
}

func (cg *CodeGenerator) VisitBlock(s *ast.Block) interface{} {
	cg.compileStmts(s.Stmts)
	return nil
}

func (cg *CodeGenerator) VisitIf(s *ast.If) interface{} {
	cg.masm.Comment("[ if")
	thenT := frame.NewTarget(cg.masm)
	elseT := frame.NewTarget(cg.masm)
	exitT := frame.NewTarget(cg.masm)

	falseDest := exitT
	if s.Else != nil {
		falseDest = elseT
	}
	cg.loadCondition(s.Cond, thenT, falseDest, true)
	if cg.cc.valid {
		cc := cg.takeCC()
		falseDest.Branch(cg.frame, cc.cond.Negate(), cc.rs, cc.rt)
	}
	if thenT.IsUsed() || cg.frame != nil {
		if thenT.IsUsed() {
			cg.bindTarget(thenT)
		}
		cg.compileStmt(s.Then)
	}
	if s.Else != nil {
		if cg.frame != nil {
			exitT.Jump(cg.frame)
			cg.frame = nil
		}
		if elseT.IsUsed() {
			cg.bindTarget(elseT)
			cg.compileStmt(s.Else)
		}
	}
	cg.bindTarget(exitT)
	return nil
}

func (cg *CodeGenerator) VisitWhile(s *ast.While) interface{} {
	cg.compileWhile(s, "")
	return nil
}

func (cg *CodeGenerator) VisitDoWhile(s *ast.DoWhile) interface{} {
	cg.compileDoWhile(s, "")
	return nil
}

func (cg *CodeGenerator) VisitFor(s *ast.For) interface{} {
	cg.compileFor(s, "")
	return nil
}

func (cg *CodeGenerator) VisitSwitch(s *ast.Switch) interface{} {
	cg.compileSwitch(s, "")
	return nil
}

func (cg *CodeGenerator) compileWhile(s *ast.While, label string) {
	cg.masm.Comment("[ while")
	h := cg.frame.Height()
	n := cg.pushNesting(&nesting{
		kind:      nestLoop,
		label:     label,
		breakT:    frame.NewBreakTarget(cg.masm, h),
		continueT: frame.NewBreakTarget(cg.masm, h),
	})
	defer cg.popNesting()

	n.continueT.Bind(cg.frame)
	cg.masm.CheckStack()
	bodyT := frame.NewTarget(cg.masm)
	cg.loadCondition(s.Cond, bodyT, &n.breakT.Target, true)
	if cg.cc.valid {
		cc := cg.takeCC()
		n.breakT.Target.Branch(cg.frame, cc.cond.Negate(), cc.rs, cc.rt)
	}
	if bodyT.IsUsed() || cg.frame != nil {
		if bodyT.IsUsed() {
			cg.bindTarget(bodyT)
		}
		cg.compileStmt(s.Body)
		if cg.frame != nil {
			n.continueT.Jump(cg.frame)
			cg.frame = nil
		}
	}
	cg.bindBreak(n.breakT)
}

func (cg *CodeGenerator) compileDoWhile(s *ast.DoWhile, label string) {
	cg.masm.Comment("[ do")
	h := cg.frame.Height()
	n := cg.pushNesting(&nesting{
		kind:      nestLoop,
		label:     label,
		breakT:    frame.NewBreakTarget(cg.masm, h),
		continueT: frame.NewBreakTarget(cg.masm, h),
	})
	defer cg.popNesting()

	bodyT := frame.NewTarget(cg.masm)
	bodyT.Bind(cg.frame)
	cg.masm.CheckStack()
	cg.compileStmt(s.Body)
	if cg.bindBreak(n.continueT) {
		cg.loadCondition(s.Cond, bodyT, &n.breakT.Target, true)
		if cg.cc.valid {
			cc := cg.takeCC()
			bodyT.Branch(cg.frame, cc.cond, cc.rs, cc.rt)
		}
	}
	cg.bindBreak(n.breakT)
}

func (cg *CodeGenerator) compileFor(s *ast.For, label string) {
	cg.masm.Comment("[ for")
	if s.Init != nil {
		cg.compileStmt(s.Init)
		if cg.frame == nil {
			return
		}
	}
	h := cg.frame.Height()
	n := cg.pushNesting(&nesting{
		kind:      nestLoop,
		label:     label,
		breakT:    frame.NewBreakTarget(cg.masm, h),
		continueT: frame.NewBreakTarget(cg.masm, h),
	})
	defer cg.popNesting()

	topT := frame.NewTarget(cg.masm)
	topT.Bind(cg.frame)
	cg.masm.CheckStack()
	if s.Cond != nil {
		bodyT := frame.NewTarget(cg.masm)
		cg.loadCondition(s.Cond, bodyT, &n.breakT.Target, true)
		if cg.cc.valid {
			cc := cg.takeCC()
			n.breakT.Target.Branch(cg.frame, cc.cond.Negate(), cc.rs, cc.rt)
		}
		if bodyT.IsUsed() {
			cg.bindTarget(bodyT)
		}
	}
	cg.compileStmt(s.Body)
	if cg.bindBreak(n.continueT) {
		if s.Next != nil {
			cg.load(s.Next)
			if cg.frame != nil {
				cg.frame.Drop(1)
			}
		}
		if cg.frame != nil {
			topT.Jump(cg.frame)
			cg.frame = nil
		}
	}
	cg.bindBreak(n.breakT)
}

func (cg *CodeGenerator) compileSwitch(s *ast.Switch, label string) {
	cg.masm.Comment("[ switch")
	h := cg.frame.Height()
	n := cg.pushNesting(&nesting{
		kind:   nestSwitch,
		label:  label,
		breakT: frame.NewBreakTarget(cg.masm, h),
	})
	defer cg.popNesting()

	cg.load(s.Tag)
	if cg.frame == nil {
		return
	}

	matchT := make([]*frame.Target, len(s.Cases))
	bodyT := make([]*frame.Target, len(s.Cases))
	defaultIdx := -1
	for i, c := range s.Cases {
		bodyT[i] = frame.NewTarget(cg.masm)
		if c.Value == nil {
			defaultIdx = i
		} else {
			matchT[i] = frame.NewTarget(cg.masm)
		}
	}

	// Test clauses in source order against a copy of the tag. Matches
	// jump past the tests with the tag still on the frame.
	for i, c := range s.Cases {
		if c.Value == nil {
			continue
		}
		cg.frame.Dup()
		cg.load(c.Value)
		if cg.frame == nil {
			return
		}
		cg.frame.SpillAll()
		cg.frame.EmitPop(stubs.Rhs)
		cg.frame.EmitPop(stubs.Lhs)
		cg.frame.CallStub(cg.stubs.Compare(runtime.CompareStrictEqual))
		matchT[i].Branch(cg.frame, asm.Eq, asm.V0, asm.Imm(0))
	}
	cg.frame.Drop(1)
	if defaultIdx >= 0 {
		bodyT[defaultIdx].Jump(cg.frame)
	} else {
		n.breakT.Jump(cg.frame)
	}
	cg.frame = nil

	// Bodies in source order so fall-through works.
	for i, c := range s.Cases {
		if cg.err != nil {
			return
		}
		if cg.frame != nil {
			bodyT[i].Jump(cg.frame)
			cg.frame = nil
		}
		if matchT[i] != nil && matchT[i].IsUsed() {
			cg.bindTarget(matchT[i])
			cg.frame.Drop(1)
		}
		if !cg.bindTarget(bodyT[i]) {
			continue
		}
		cg.compileStmts(c.Body)
	}
	cg.bindBreak(n.breakT)
}

func (cg *CodeGenerator) VisitLabeled(s *ast.Labeled) interface{} {
	if cg.frame == nil {
		return nil
	}
	switch inner := s.Stmt.(type) {
	case *ast.While:
		cg.compileWhile(inner, s.Label)
	case *ast.DoWhile:
		cg.compileDoWhile(inner, s.Label)
	case *ast.For:
		cg.compileFor(inner, s.Label)
	case *ast.Switch:
		cg.compileSwitch(inner, s.Label)
	default:
		h := cg.frame.Height()
		n := cg.pushNesting(&nesting{
			kind:   nestLabel,
			label:  s.Label,
			breakT: frame.NewBreakTarget(cg.masm, h),
		})
		defer cg.popNesting()
		cg.compileStmt(s.Stmt)
		cg.bindBreak(n.breakT)
	}
	return nil
}

func (cg *CodeGenerator) VisitBreak(s *ast.Break) interface{} {
	t := cg.findBreak(s.Label)
	if t == nil {
		if s.Label != "" {
			cg.fail(s.Line, errors.SyntaxError, "undefined label %q", s.Label)
		} else {
			cg.fail(s.Line, errors.SyntaxError, "illegal break statement")
		}
		return nil
	}
	t.Jump(cg.frame)
	cg.frame = nil
	return nil
}

func (cg *CodeGenerator) VisitContinue(s *ast.Continue) interface{} {
	t := cg.findContinue(s.Label)
	if t == nil {
		if s.Label != "" {
			cg.fail(s.Line, errors.SyntaxError, "undefined label %q", s.Label)
		} else {
			cg.fail(s.Line, errors.SyntaxError, "illegal continue statement")
		}
		return nil
	}
	t.Jump(cg.frame)
	cg.frame = nil
	return nil
}

func (cg *CodeGenerator) VisitReturn(s *ast.Return) interface{} {
	if cg.info.IsScript {
		cg.fail(s.Line, errors.SyntaxError, "return outside function")
		return nil
	}
	cg.masm.Comment("[ return")
	if s.Value != nil {
		cg.load(s.Value)
	} else {
		cg.frame.PushRoot(asm.RootUndefined)
	}
	if cg.frame == nil {
		return nil
	}
	// The value rides in V0 through the unwind; only sp adjustments
	// happen on the way to the exit.
	cg.frame.SpillAll()
	cg.frame.EmitPop(asm.V0)
	cg.returnT.Jump(cg.frame)
	cg.frame = nil
	return nil
}

func (cg *CodeGenerator) VisitThrow(s *ast.Throw) interface{} {
	cg.masm.Comment("[ throw")
	cg.masm.RecordPosition(s.Line)
	cg.load(s.Value)
	cg.callRuntime(asm.RTThrow, 1)
	cg.frame = nil
	return nil
}

// escapeShadow records one break, continue or return target hidden
// while a try body compiles, so escapes unwind to the handler record
// first.
type escapeShadow struct {
	sh       *frame.ShadowTarget
	set      func(*frame.BreakTarget)
	isReturn bool
}

// shadowEscapes replaces every escape target visible in the try body
// with a shadow stopping at height h, just above the handler record.
func (cg *CodeGenerator) shadowEscapes(h int) []*escapeShadow {
	var out []*escapeShadow
	shadow := func(orig *frame.BreakTarget, isReturn bool, set func(*frame.BreakTarget)) {
		if orig == nil {
			return
		}
		sh := frame.Shadow(orig, h)
		set(&sh.BreakTarget)
		out = append(out, &escapeShadow{sh: sh, set: set, isReturn: isReturn})
	}
	shadow(cg.returnT, true, func(t *frame.BreakTarget) { cg.returnT = t })
	for _, n := range cg.nestings {
		n := n
		shadow(n.breakT, false, func(t *frame.BreakTarget) { n.breakT = t })
		shadow(n.continueT, false, func(t *frame.BreakTarget) { n.continueT = t })
	}
	return out
}

func restoreEscapes(shadows []*escapeShadow) {
	for _, es := range shadows {
		es.set(es.sh.Original())
	}
}

func (cg *CodeGenerator) VisitTryCatch(s *ast.TryCatch) interface{} {
	cg.masm.Comment("[ try/catch")
	exitT := frame.NewTarget(cg.masm)

	cg.frame.SpillAll()
	catchB := cg.masm.NewBlock()
	cg.masm.PushHandler(catchB)
	cg.frame.Adjust(handlerSlots)
	base := cg.frame.Height()

	shadows := cg.shadowEscapes(base)
	cg.compileStmts(s.Try)
	restoreEscapes(shadows)

	if cg.frame != nil {
		cg.masm.PopHandler()
		cg.frame.Forget(handlerSlots)
		exitT.Jump(cg.frame)
		cg.frame = nil
	}

	// Escapes out of the try pop the handler, then resume their
	// original unwind.
	for _, es := range shadows {
		if !es.sh.IsUsed() {
			continue
		}
		cg.bindTarget(&es.sh.Target)
		cg.masm.PopHandler()
		cg.frame.Forget(handlerSlots)
		es.sh.Original().Jump(cg.frame)
		cg.frame = nil
	}

	// The unwinder enters here with the thrown value in V0, the
	// handler record already removed and cp unset.
	cg.masm.Bind(catchB)
	f := frame.New(cg.masm, cg.alloc)
	f.Adjust(base - handlerSlots)
	cg.frame = f
	cg.masm.Lw(asm.Cp, savedContextMem())
	ref, ok := cg.res.CatchSlots[s]
	if !ok {
		cg.fail(s.Line, errors.CompileError, "unresolved catch variable %q", s.CatchVar)
		return nil
	}
	cg.masm.Comment("[ catch %s", s.CatchVar)
	cg.masm.Sw(asm.V0, localMem(ref.Index))
	cg.compileStmts(s.Catch)

	cg.bindTarget(exitT)
	return nil
}

// Completion states funneled into a finally block. Escape states
// follow these, one per shadowed target in use.
const (
	fallingState  = 0
	throwingState = 1
	jumpingState  = 2
)

func (cg *CodeGenerator) VisitTryFinally(s *ast.TryFinally) interface{} {
	cg.masm.Comment("[ try/finally")
	finallyT := frame.NewTarget(cg.masm)
	exitT := frame.NewTarget(cg.masm)

	cg.frame.SpillAll()
	handlerB := cg.masm.NewBlock()
	cg.masm.PushHandler(handlerB)
	cg.frame.Adjust(handlerSlots)
	base := cg.frame.Height()

	shadows := cg.shadowEscapes(base)
	cg.compileStmt(s.Try)
	restoreEscapes(shadows)

	var used []*escapeShadow
	for _, es := range shadows {
		if es.sh.IsUsed() {
			used = append(used, es)
		}
	}

	// Every way of leaving the try funnels into the finally block
	// carrying [value, state]: the return value for returns, a
	// placeholder otherwise.
	if cg.frame != nil {
		cg.masm.PopHandler()
		cg.frame.Forget(handlerSlots)
		cg.frame.PushRoot(asm.RootUndefined)
		cg.frame.PushSmi(fallingState)
		finallyT.Jump(cg.frame)
		cg.frame = nil
	}

	for i, es := range used {
		cg.bindTarget(&es.sh.Target)
		cg.masm.PopHandler()
		cg.frame.Forget(handlerSlots)
		if es.isReturn {
			cg.frame.EmitPush(asm.V0)
		} else {
			cg.frame.PushRoot(asm.RootUndefined)
		}
		cg.frame.PushSmi(int32(jumpingState + i))
		finallyT.Jump(cg.frame)
		cg.frame = nil
	}

	cg.masm.Bind(handlerB)
	f := frame.New(cg.masm, cg.alloc)
	f.Adjust(base - handlerSlots)
	cg.frame = f
	cg.masm.Lw(asm.Cp, savedContextMem())
	cg.frame.EmitPush(asm.V0)
	cg.frame.PushSmi(throwingState)
	finallyT.Jump(cg.frame)
	cg.frame = nil

	if !cg.bindTarget(finallyT) {
		return nil
	}
	cg.masm.Comment("[ finally")
	cg.compileStmts(s.Finally)

	if cg.frame != nil {
		// Dispatch on the completion state. An escape out of the
		// finally body itself has already dropped value and state
		// during its unwind, overriding the try's completion.
		r := cg.frame.Pop()
		cg.frame.SpillAll()
		m := cg.masm

		rethrowB := m.NewBlock()
		jumpB := make([]*asm.Block, len(used))
		m.Branch(rethrowB, asm.Eq, r, asm.Imm(asm.SmiVal(throwingState)))
		for i := range used {
			jumpB[i] = m.NewBlock()
			m.Branch(jumpB[i], asm.Eq, r, asm.Imm(asm.SmiVal(int32(jumpingState+i))))
		}
		cg.frame.Release(r)
		cg.frame.Drop(1)
		exitT.Jump(cg.frame)
		cg.frame = nil

		m.Bind(rethrowB)
		rf := frame.New(cg.masm, cg.alloc)
		rf.Adjust(base - handlerSlots + 1)
		cg.frame = rf
		cg.frame.CallRuntime(asm.RTReThrow, 1)
		cg.frame = nil

		for i, es := range used {
			m.Bind(jumpB[i])
			jf := frame.New(cg.masm, cg.alloc)
			jf.Adjust(base - handlerSlots + 1)
			cg.frame = jf
			if es.isReturn {
				cg.frame.EmitPop(asm.V0)
			} else {
				cg.frame.Drop(1)
			}
			es.sh.Original().Jump(cg.frame)
			cg.frame = nil
		}
	}

	cg.bindTarget(exitT)
	return nil
}
