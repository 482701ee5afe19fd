// Package simulator executes assembled code against a heap. It is
// the machine: a register file, a stack, HI/LO, four double
// registers and a dispatch loop. Calls between code objects stay
// inside the one loop, so recursion in the simulated program does not
// recurse here.
package simulator

import (
	"fmt"
	"math"

	"stratus/internal/asm"
	"stratus/internal/runtime"
)

// Tracer observes execution when installed. Callbacks run inline, so
// implementations decide their own buffering.
type Tracer interface {
	Step(code *asm.Code, pc int)
	Call(code *asm.Code, depth int)
	Return(depth int)
	RuntimeCall(fn asm.RuntimeFn)
}

type callRecord struct {
	retCode int
	retPC   int
	fn      uint32
	args    []uint32

	// callerSP is the stack pointer when the call was made, used to
	// tell which records a handler unwind abandons. fixSP makes Ret
	// restore it, undoing arity adaptation.
	callerSP uint32
	fixSP    bool
}

// Machine executes installed code.
type Machine struct {
	heap  *runtime.Heap
	regs  [asm.NumRegisters]uint32
	fregs [asm.NumFPRegs]float64
	hi    uint32
	lo    uint32

	code   *asm.Code
	codeID int
	pc     int

	calls   []callRecord
	handler uint32

	steps    int64
	maxSteps int64
	tracer   Tracer
}

// NewMachine builds a machine over a heap.
func NewMachine(h *runtime.Heap) *Machine {
	return &Machine{heap: h}
}

// SetMaxSteps bounds execution; zero means unbounded.
func (m *Machine) SetMaxSteps(n int64) { m.maxSteps = n }

// SetTracer installs an execution observer.
func (m *Machine) SetTracer(t Tracer) { m.tracer = t }

// Heap returns the machine's heap.
func (m *Machine) Heap() *runtime.Heap { return m.heap }

// Reg reads a register, for tests and tracing.
func (m *Machine) Reg(r asm.Register) uint32 { return m.regs[r] }

// Steps returns the number of instructions executed.
func (m *Machine) Steps() int64 { return m.steps }

// ContextReg implements runtime.MachineState.
func (m *Machine) ContextReg() uint32 { return m.regs[asm.Cp] }

// CallerArgs implements runtime.MachineState.
func (m *Machine) CallerArgs() []uint32 {
	if len(m.calls) == 0 {
		return nil
	}
	return m.calls[len(m.calls)-1].args
}

func (m *Machine) get(r asm.Register) uint32 {
	if r == asm.Zero {
		return 0
	}
	return m.regs[r]
}

func (m *Machine) set(r asm.Register, v uint32) {
	if r == asm.Zero {
		return
	}
	m.regs[r] = v
}

func (m *Machine) operand(o asm.Operand) uint32 {
	if o.IsReg() {
		return m.get(o.Reg())
	}
	return uint32(o.Imm())
}

func (m *Machine) fault(format string, args ...interface{}) error {
	loc := fmt.Sprintf("%s+%d", m.code.Name, m.pc)
	if line := m.code.LineAt(m.pc); line > 0 {
		loc = fmt.Sprintf("%s (line %d)", loc, line)
	}
	return fmt.Errorf("machine fault at %s: %s", loc, fmt.Sprintf(format, args...))
}

func (m *Machine) addr(mem asm.Mem, size int) (uint32, error) {
	a := m.get(mem.Base) + uint32(mem.Off)
	if !m.heap.ValidRange(a, size) {
		return 0, m.fault("access of %d bytes at %#x", size, a)
	}
	return a, nil
}

func (m *Machine) push(v uint32) error {
	sp := m.regs[asm.Sp] - 4
	if !m.heap.ValidRange(sp, 4) {
		return m.fault("stack overflow")
	}
	m.heap.SetWord(sp, v)
	m.regs[asm.Sp] = sp
	return nil
}

func (m *Machine) pop() (uint32, error) {
	sp := m.regs[asm.Sp]
	if !m.heap.ValidRange(sp, 4) {
		return 0, m.fault("stack underflow")
	}
	m.regs[asm.Sp] = sp + 4
	return m.heap.Word(sp), nil
}

// raise routes an error from a runtime entry: thrown values unwind to
// the innermost handler, anything else stops the machine.
func (m *Machine) raise(err error) error {
	t, ok := err.(*runtime.Thrown)
	if !ok {
		return err
	}
	if m.handler == 0 {
		return t
	}
	rec := m.handler
	next := m.heap.Word(rec)
	fp := m.heap.Word(rec + 4)
	codeID := int(m.heap.Word(rec + 8))
	target := int(m.heap.Word(rec + 12))

	// Drop call records for frames deeper than the handler. The
	// stack grows down, so those were created with sp at or below
	// the record.
	for len(m.calls) > 0 && m.calls[len(m.calls)-1].callerSP <= rec {
		m.calls = m.calls[:len(m.calls)-1]
		if m.tracer != nil {
			m.tracer.Return(len(m.calls))
		}
	}
	m.handler = next
	m.regs[asm.Sp] = rec + 16
	m.regs[asm.Fp] = fp
	m.codeID = codeID
	m.code = m.heap.CodeByID(codeID)
	m.pc = target
	m.regs[asm.V0] = t.Value
	return nil
}

func (m *Machine) callRuntime(fn asm.RuntimeFn, argc int) error {
	if m.tracer != nil {
		m.tracer.RuntimeCall(fn)
	}
	args := make([]uint32, argc)
	sp := m.regs[asm.Sp]
	for i := 0; i < argc; i++ {
		args[argc-1-i] = m.heap.Word(sp + 4*uint32(i))
	}
	m.regs[asm.Sp] = sp + 4*uint32(argc)
	v, err := runtime.Call(fn, m.heap, m, args)
	if err != nil {
		return m.raise(err)
	}
	m.regs[asm.V0] = v
	m.pc++
	return nil
}

func (m *Machine) callFunction(argc int) error {
	sp := m.regs[asm.Sp]
	fnVal := m.heap.Word(sp + 4*uint32(argc+1))
	if !runtime.IsHeapObject(fnVal) ||
		m.heap.TypeByte(fnVal)&runtime.TypeMask != runtime.TypeFunction {
		err := runtime.ThrowBuiltin(m.heap, "TypeError",
			m.heap.DisplayString(fnVal)+" is not a function")
		return m.raise(err)
	}

	args := make([]uint32, argc)
	for i := 0; i < argc; i++ {
		args[i] = m.heap.Word(sp + 4*uint32(argc-1-i))
	}

	codeField := int(runtime.SmiToInt(m.heap.Word(runtime.Untag(fnVal) + runtime.FunctionCodeOffset)))
	if m.heap.TypeByte(fnVal)&runtime.NativeFlag != 0 {
		v, err := runtime.Call(asm.RuntimeFn(codeField), m.heap, m, args)
		if err != nil {
			return m.raise(err)
		}
		m.regs[asm.V0] = v
		m.pc++
		return nil
	}

	callee := m.heap.CodeByID(codeField)

	// Arity adaptation: reshape the argument area to the declared
	// count, padding with undefined or dropping extras.
	declared := callee.ParamCount
	if declared != argc {
		m.regs[asm.Sp] = sp + 4*uint32(argc)
		for i := 0; i < declared; i++ {
			v := m.heap.Undefined()
			if i < len(args) {
				v = args[i]
			}
			if err := m.push(v); err != nil {
				return err
			}
		}
	}

	m.calls = append(m.calls, callRecord{
		retCode:  m.codeID,
		retPC:    m.pc + 1,
		fn:       fnVal,
		args:     args,
		callerSP: sp,
		fixSP:    true,
	})
	m.regs[asm.Cp] = m.heap.Word(runtime.Untag(fnVal) + runtime.FunctionContextOffset)
	m.codeID = codeField
	m.code = callee
	m.pc = 0
	if m.tracer != nil {
		m.tracer.Call(callee, len(m.calls))
	}
	return nil
}

func (m *Machine) callStub(code *asm.Code) error {
	id, err := m.heap.Install(code)
	if err != nil {
		return err
	}
	m.calls = append(m.calls, callRecord{
		retCode:  m.codeID,
		retPC:    m.pc + 1,
		callerSP: m.regs[asm.Sp],
	})
	m.codeID = id
	m.code = code
	m.pc = 0
	if m.tracer != nil {
		m.tracer.Call(code, len(m.calls))
	}
	return nil
}

func (m *Machine) branchTaken(cond asm.Cond, a, b uint32) bool {
	sa, sb := int32(a), int32(b)
	switch cond {
	case asm.Eq:
		return a == b
	case asm.Ne:
		return a != b
	case asm.Lt:
		return sa < sb
	case asm.Le:
		return sa <= sb
	case asm.Gt:
		return sa > sb
	case asm.Ge:
		return sa >= sb
	case asm.Ult:
		return a < b
	case asm.Ule:
		return a <= b
	case asm.Ugt:
		return a > b
	case asm.Uge:
		return a >= b
	}
	return true
}

func branchFTaken(cond asm.Cond, a, b float64) bool {
	if math.IsNaN(a) || math.IsNaN(b) {
		return cond == asm.Ne
	}
	switch cond {
	case asm.Eq:
		return a == b
	case asm.Ne:
		return a != b
	case asm.Lt:
		return a < b
	case asm.Le:
		return a <= b
	case asm.Gt:
		return a > b
	case asm.Ge:
		return a >= b
	}
	return false
}

// Run installs code, resets the machine and executes until the entry
// frame returns. The value of V0 at that point is the result. An
// uncaught thrown value comes back as *runtime.Thrown.
func (m *Machine) Run(code *asm.Code) (uint32, error) {
	id, err := m.heap.Install(code)
	if err != nil {
		return 0, err
	}
	m.code = code
	m.codeID = id
	m.pc = 0
	m.calls = m.calls[:0]
	m.handler = 0
	m.regs = [asm.NumRegisters]uint32{}
	m.regs[asm.Sp] = m.heap.StackBase()
	m.regs[asm.V0] = m.heap.Undefined()

	for {
		if m.pc < 0 || m.pc >= len(m.code.Instrs) {
			return 0, m.fault("execution fell off code")
		}
		m.steps++
		if m.maxSteps > 0 && m.steps > m.maxSteps {
			return 0, m.fault("step budget exhausted")
		}
		if m.tracer != nil {
			m.tracer.Step(m.code, m.pc)
		}

		switch t := m.code.Instrs[m.pc].(type) {
		case *asm.Mov:
			m.set(t.Rd, m.operand(t.Src))
			m.pc++
		case *asm.Lc:
			m.set(t.Rd, m.heap.PoolValue(m.codeID, t.Pool))
			m.pc++
		case *asm.LoadRoot:
			m.set(t.Rd, m.heap.Root(t.Root))
			m.pc++
		case *asm.Alu:
			a, b := m.get(t.Rs), m.operand(t.Rt)
			var v uint32
			switch t.Op {
			case asm.OpAdd:
				v = a + b
			case asm.OpSub:
				v = a - b
			case asm.OpAnd:
				v = a & b
			case asm.OpOr:
				v = a | b
			case asm.OpXor:
				v = a ^ b
			case asm.OpSll:
				v = a << (b & 31)
			case asm.OpSrl:
				v = a >> (b & 31)
			case asm.OpSra:
				v = uint32(int32(a) >> (b & 31))
			}
			m.set(t.Rd, v)
			m.pc++
		case *asm.Mult:
			p := int64(int32(m.get(t.Rs))) * int64(int32(m.get(t.Rt)))
			m.lo = uint32(p)
			m.hi = uint32(uint64(p) >> 32)
			m.pc++
		case *asm.Div:
			d := int32(m.get(t.Rt))
			if d == 0 {
				return 0, m.fault("integer division by zero")
			}
			n := int32(m.get(t.Rs))
			m.lo = uint32(n / d)
			m.hi = uint32(n % d)
			m.pc++
		case *asm.Mflo:
			m.set(t.Rd, m.lo)
			m.pc++
		case *asm.Mfhi:
			m.set(t.Rd, m.hi)
			m.pc++
		case *asm.Lw:
			a, err := m.addr(t.Addr, 4)
			if err != nil {
				return 0, err
			}
			m.set(t.Rd, m.heap.Word(a))
			m.pc++
		case *asm.Sw:
			a, err := m.addr(t.Addr, 4)
			if err != nil {
				return 0, err
			}
			m.heap.SetWord(a, m.get(t.Rs))
			m.pc++
		case *asm.Lb:
			a, err := m.addr(t.Addr, 1)
			if err != nil {
				return 0, err
			}
			m.set(t.Rd, uint32(int32(int8(m.heap.Byte(a)))))
			m.pc++
		case *asm.Lbu:
			a, err := m.addr(t.Addr, 1)
			if err != nil {
				return 0, err
			}
			m.set(t.Rd, uint32(m.heap.Byte(a)))
			m.pc++
		case *asm.Sb:
			a, err := m.addr(t.Addr, 1)
			if err != nil {
				return 0, err
			}
			m.heap.SetByte(a, byte(m.get(t.Rs)))
			m.pc++
		case *asm.Push:
			if err := m.push(m.get(t.Rs)); err != nil {
				return 0, err
			}
			m.pc++
		case *asm.Pop:
			v, err := m.pop()
			if err != nil {
				return 0, err
			}
			m.set(t.Rd, v)
			m.pc++
		case *asm.Jump:
			m.pc = t.PC
		case *asm.Branch:
			if m.branchTaken(t.Cond, m.get(t.Rs), m.operand(t.Rt)) {
				m.pc = t.PC
			} else {
				m.pc++
			}
		case *asm.BranchF:
			if branchFTaken(t.Cond, m.fregs[t.Fs], m.fregs[t.Ft]) {
				m.pc = t.PC
			} else {
				m.pc++
			}
		case *asm.Ldc1:
			a, err := m.addr(t.Addr, 8)
			if err != nil {
				return 0, err
			}
			bits := uint64(m.heap.Word(a)) | uint64(m.heap.Word(a+4))<<32
			m.fregs[t.Fd] = math.Float64frombits(bits)
			m.pc++
		case *asm.Sdc1:
			a, err := m.addr(t.Addr, 8)
			if err != nil {
				return 0, err
			}
			bits := math.Float64bits(m.fregs[t.Fs])
			m.heap.SetWord(a, uint32(bits))
			m.heap.SetWord(a+4, uint32(bits>>32))
			m.pc++
		case *asm.CvtDW:
			m.fregs[t.Fd] = float64(int32(m.get(t.Rs)))
			m.pc++
		case *asm.FArith:
			a, b := m.fregs[t.Fs], m.fregs[t.Ft]
			var v float64
			switch t.Op {
			case asm.FAdd:
				v = a + b
			case asm.FSub:
				v = a - b
			case asm.FMul:
				v = a * b
			case asm.FDiv:
				v = a / b
			}
			m.fregs[t.Fd] = v
			m.pc++
		case *asm.CallRT:
			if err := m.callRuntime(t.Fn, t.Argc); err != nil {
				return 0, err
			}
		case *asm.CallFn:
			if err := m.callFunction(t.Argc); err != nil {
				return 0, err
			}
		case *asm.CallStub:
			if err := m.callStub(t.Code); err != nil {
				return 0, err
			}
		case *asm.Ret:
			if len(m.calls) == 0 {
				return m.regs[asm.V0], nil
			}
			c := m.calls[len(m.calls)-1]
			m.calls = m.calls[:len(m.calls)-1]
			if c.fixSP {
				m.regs[asm.Sp] = c.callerSP
			}
			m.codeID = c.retCode
			m.code = m.heap.CodeByID(c.retCode)
			m.pc = c.retPC
			if m.tracer != nil {
				m.tracer.Return(len(m.calls))
			}
		case *asm.PushHandler:
			sp := m.regs[asm.Sp] - 16
			if !m.heap.ValidRange(sp, 16) {
				return 0, m.fault("stack overflow")
			}
			m.heap.SetWord(sp, m.handler)
			m.heap.SetWord(sp+4, m.regs[asm.Fp])
			m.heap.SetWord(sp+8, uint32(m.codeID))
			m.heap.SetWord(sp+12, uint32(t.PC))
			m.regs[asm.Sp] = sp
			m.handler = sp
			m.pc++
		case *asm.PopHandler:
			if m.handler == 0 {
				return 0, m.fault("handler underflow")
			}
			next := m.heap.Word(m.handler)
			m.regs[asm.Sp] = m.handler + 16
			m.handler = next
			m.pc++
		case *asm.CheckStack:
			if m.regs[asm.Sp] < m.heap.StackLimit() {
				if err := m.callGuard(); err != nil {
					return 0, err
				}
			} else {
				m.pc++
			}
		case *asm.Alloc:
			size := int(m.operand(t.Size))
			a, ok := m.heap.AllocNew(size)
			if !ok {
				m.pc = t.PC
			} else {
				m.set(t.Rd, a+asm.HeapTag)
				m.pc++
			}
		default:
			return 0, m.fault("unknown instruction %T", t)
		}
	}
}

func (m *Machine) callGuard() error {
	if m.tracer != nil {
		m.tracer.RuntimeCall(asm.RTStackGuard)
	}
	_, err := runtime.Call(asm.RTStackGuard, m.heap, m, nil)
	if err != nil {
		return m.raise(err)
	}
	m.pc++
	return nil
}
