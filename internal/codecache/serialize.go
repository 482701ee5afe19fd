package codecache

import (
	"bytes"
	"encoding/gob"

	"github.com/pkg/errors"

	"stratus/internal/asm"
	"stratus/internal/stubs"
)

// wireVersion is baked into both the payload and the cache key. Bump
// it whenever the instruction encoding or the Code layout changes;
// stale rows then miss instead of decoding badly.
const wireVersion = 1

// Instruction opcodes on the wire.
const (
	opMov uint8 = iota
	opLc
	opLoadRoot
	opAlu
	opMult
	opDiv
	opMflo
	opMfhi
	opLw
	opSw
	opLb
	opLbu
	opSb
	opPush
	opPop
	opJump
	opBranch
	opBranchF
	opLdc1
	opSdc1
	opCvtDW
	opFArith
	opCallRT
	opCallFn
	opCallStub
	opRet
	opPushHandler
	opPopHandler
	opCheckStack
	opAlloc
)

// wireInstr flattens one instruction. A..D carry fields in an
// opcode-specific order; Reg marks a flexible operand held in D as a
// register rather than an immediate. Name carries stub references,
// which are rebuilt from the stub cache on decode.
type wireInstr struct {
	Op   uint8
	A    int32
	B    int32
	C    int32
	D    int32
	Reg  bool
	Name string
}

type wireConst struct {
	Kind asm.ConstKind
	Num  float64
	Str  string
	Code *wireCode
}

type wireCode struct {
	Kind       asm.CodeKind
	Name       string
	ParamCount int
	Source     string
	Instrs     []wireInstr
	Blocks     []int
	Positions  []asm.PosEntry
	Comments   map[int]string
	Pool       []wireConst
}

type wirePayload struct {
	Version int
	Root    *wireCode
}

func encode(code *asm.Code) ([]byte, error) {
	root, err := flattenCode(code)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(wirePayload{Version: wireVersion, Root: root}); err != nil {
		return nil, errors.Wrap(err, "encode code")
	}
	return buf.Bytes(), nil
}

func decode(data []byte, cache *stubs.Cache) (*asm.Code, error) {
	var payload wirePayload
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&payload); err != nil {
		return nil, errors.Wrap(err, "decode code")
	}
	if payload.Version != wireVersion {
		return nil, errors.Errorf("cache wire version %d, want %d", payload.Version, wireVersion)
	}
	if payload.Root == nil {
		return nil, errors.New("cache payload has no code")
	}
	return buildCode(payload.Root, cache)
}

func flattenCode(code *asm.Code) (*wireCode, error) {
	wc := &wireCode{
		Kind:       code.Kind,
		Name:       code.Name,
		ParamCount: code.ParamCount,
		Source:     code.Source,
		Instrs:     make([]wireInstr, 0, len(code.Instrs)),
		Blocks:     code.BlockOffsets,
		Positions:  code.Positions,
		Comments:   code.Comments,
	}
	for pc, in := range code.Instrs {
		wi, err := flattenInstr(in)
		if err != nil {
			return nil, errors.Wrapf(err, "%s pc %d", code.Name, pc)
		}
		wc.Instrs = append(wc.Instrs, wi)
	}
	for _, c := range code.Pool {
		w := wireConst{Kind: c.Kind, Num: c.Num, Str: c.Str}
		if c.Kind == asm.ConstFunction {
			sub, err := flattenCode(c.Code)
			if err != nil {
				return nil, err
			}
			w.Code = sub
		}
		wc.Pool = append(wc.Pool, w)
	}
	return wc, nil
}

func buildCode(wc *wireCode, cache *stubs.Cache) (*asm.Code, error) {
	code := &asm.Code{
		Kind:         wc.Kind,
		Name:         wc.Name,
		ParamCount:   wc.ParamCount,
		Source:       wc.Source,
		Instrs:       make([]asm.Instr, 0, len(wc.Instrs)),
		Pool:         make([]asm.Constant, 0, len(wc.Pool)),
		BlockOffsets: wc.Blocks,
		Positions:    wc.Positions,
		Comments:     wc.Comments,
	}
	for pc, wi := range wc.Instrs {
		in, err := buildInstr(wi, cache)
		if err != nil {
			return nil, errors.Wrapf(err, "%s pc %d", wc.Name, pc)
		}
		code.Instrs = append(code.Instrs, in)
	}
	for _, w := range wc.Pool {
		c := asm.Constant{Kind: w.Kind, Num: w.Num, Str: w.Str}
		if w.Kind == asm.ConstFunction {
			if w.Code == nil {
				return nil, errors.Errorf("%s: function constant without code", wc.Name)
			}
			sub, err := buildCode(w.Code, cache)
			if err != nil {
				return nil, err
			}
			c.Code = sub
		}
		code.Pool = append(code.Pool, c)
	}
	return code, nil
}

func packOperand(o asm.Operand) (int32, bool) {
	if o.IsReg() {
		return int32(o.Reg()), true
	}
	return o.Imm(), false
}

func unpackOperand(v int32, isReg bool) asm.Operand {
	if isReg {
		return asm.R(asm.Register(v))
	}
	return asm.Imm(v)
}

func flattenInstr(in asm.Instr) (wireInstr, error) {
	switch in := in.(type) {
	case *asm.Mov:
		d, reg := packOperand(in.Src)
		return wireInstr{Op: opMov, A: int32(in.Rd), D: d, Reg: reg}, nil
	case *asm.Lc:
		return wireInstr{Op: opLc, A: int32(in.Rd), B: int32(in.Pool)}, nil
	case *asm.LoadRoot:
		return wireInstr{Op: opLoadRoot, A: int32(in.Rd), B: int32(in.Root)}, nil
	case *asm.Alu:
		d, reg := packOperand(in.Rt)
		return wireInstr{Op: opAlu, A: int32(in.Op), B: int32(in.Rd), C: int32(in.Rs), D: d, Reg: reg}, nil
	case *asm.Mult:
		return wireInstr{Op: opMult, A: int32(in.Rs), B: int32(in.Rt)}, nil
	case *asm.Div:
		return wireInstr{Op: opDiv, A: int32(in.Rs), B: int32(in.Rt)}, nil
	case *asm.Mflo:
		return wireInstr{Op: opMflo, A: int32(in.Rd)}, nil
	case *asm.Mfhi:
		return wireInstr{Op: opMfhi, A: int32(in.Rd)}, nil
	case *asm.Lw:
		return wireInstr{Op: opLw, A: int32(in.Rd), B: int32(in.Addr.Base), C: in.Addr.Off}, nil
	case *asm.Sw:
		return wireInstr{Op: opSw, A: int32(in.Rs), B: int32(in.Addr.Base), C: in.Addr.Off}, nil
	case *asm.Lb:
		return wireInstr{Op: opLb, A: int32(in.Rd), B: int32(in.Addr.Base), C: in.Addr.Off}, nil
	case *asm.Lbu:
		return wireInstr{Op: opLbu, A: int32(in.Rd), B: int32(in.Addr.Base), C: in.Addr.Off}, nil
	case *asm.Sb:
		return wireInstr{Op: opSb, A: int32(in.Rs), B: int32(in.Addr.Base), C: in.Addr.Off}, nil
	case *asm.Push:
		return wireInstr{Op: opPush, A: int32(in.Rs)}, nil
	case *asm.Pop:
		return wireInstr{Op: opPop, A: int32(in.Rd)}, nil
	case *asm.Jump:
		return wireInstr{Op: opJump, A: int32(in.PC)}, nil
	case *asm.Branch:
		d, reg := packOperand(in.Rt)
		return wireInstr{Op: opBranch, A: int32(in.Cond), B: int32(in.Rs), C: int32(in.PC), D: d, Reg: reg}, nil
	case *asm.BranchF:
		return wireInstr{Op: opBranchF, A: int32(in.Cond), B: int32(in.Fs), C: int32(in.Ft), D: int32(in.PC)}, nil
	case *asm.Ldc1:
		return wireInstr{Op: opLdc1, A: int32(in.Fd), B: int32(in.Addr.Base), C: in.Addr.Off}, nil
	case *asm.Sdc1:
		return wireInstr{Op: opSdc1, A: int32(in.Fs), B: int32(in.Addr.Base), C: in.Addr.Off}, nil
	case *asm.CvtDW:
		return wireInstr{Op: opCvtDW, A: int32(in.Fd), B: int32(in.Rs)}, nil
	case *asm.FArith:
		return wireInstr{Op: opFArith, A: int32(in.Op), B: int32(in.Fd), C: int32(in.Fs), D: int32(in.Ft)}, nil
	case *asm.CallRT:
		return wireInstr{Op: opCallRT, A: int32(in.Fn), B: int32(in.Argc)}, nil
	case *asm.CallFn:
		return wireInstr{Op: opCallFn, A: int32(in.Argc)}, nil
	case *asm.CallStub:
		if in.Code == nil || in.Code.Kind != asm.CodeStub {
			return wireInstr{}, errors.New("stub call without a named stub")
		}
		return wireInstr{Op: opCallStub, Name: in.Code.Name}, nil
	case *asm.Ret:
		return wireInstr{Op: opRet}, nil
	case *asm.PushHandler:
		return wireInstr{Op: opPushHandler, A: int32(in.PC)}, nil
	case *asm.PopHandler:
		return wireInstr{Op: opPopHandler}, nil
	case *asm.CheckStack:
		return wireInstr{Op: opCheckStack}, nil
	case *asm.Alloc:
		d, reg := packOperand(in.Size)
		return wireInstr{Op: opAlloc, A: int32(in.Rd), B: int32(in.PC), D: d, Reg: reg}, nil
	}
	return wireInstr{}, errors.Errorf("unknown instruction %T", in)
}

// buildInstr rebuilds one instruction. The machine follows resolved
// PCs, so decoded control transfers carry no block pointer.
func buildInstr(wi wireInstr, cache *stubs.Cache) (asm.Instr, error) {
	switch wi.Op {
	case opMov:
		return &asm.Mov{Rd: asm.Register(wi.A), Src: unpackOperand(wi.D, wi.Reg)}, nil
	case opLc:
		return &asm.Lc{Rd: asm.Register(wi.A), Pool: int(wi.B)}, nil
	case opLoadRoot:
		return &asm.LoadRoot{Rd: asm.Register(wi.A), Root: asm.RootIndex(wi.B)}, nil
	case opAlu:
		return &asm.Alu{Op: asm.AluOp(wi.A), Rd: asm.Register(wi.B), Rs: asm.Register(wi.C), Rt: unpackOperand(wi.D, wi.Reg)}, nil
	case opMult:
		return &asm.Mult{Rs: asm.Register(wi.A), Rt: asm.Register(wi.B)}, nil
	case opDiv:
		return &asm.Div{Rs: asm.Register(wi.A), Rt: asm.Register(wi.B)}, nil
	case opMflo:
		return &asm.Mflo{Rd: asm.Register(wi.A)}, nil
	case opMfhi:
		return &asm.Mfhi{Rd: asm.Register(wi.A)}, nil
	case opLw:
		return &asm.Lw{Rd: asm.Register(wi.A), Addr: asm.Mem{Base: asm.Register(wi.B), Off: wi.C}}, nil
	case opSw:
		return &asm.Sw{Rs: asm.Register(wi.A), Addr: asm.Mem{Base: asm.Register(wi.B), Off: wi.C}}, nil
	case opLb:
		return &asm.Lb{Rd: asm.Register(wi.A), Addr: asm.Mem{Base: asm.Register(wi.B), Off: wi.C}}, nil
	case opLbu:
		return &asm.Lbu{Rd: asm.Register(wi.A), Addr: asm.Mem{Base: asm.Register(wi.B), Off: wi.C}}, nil
	case opSb:
		return &asm.Sb{Rs: asm.Register(wi.A), Addr: asm.Mem{Base: asm.Register(wi.B), Off: wi.C}}, nil
	case opPush:
		return &asm.Push{Rs: asm.Register(wi.A)}, nil
	case opPop:
		return &asm.Pop{Rd: asm.Register(wi.A)}, nil
	case opJump:
		return &asm.Jump{PC: int(wi.A)}, nil
	case opBranch:
		return &asm.Branch{Cond: asm.Cond(wi.A), Rs: asm.Register(wi.B), Rt: unpackOperand(wi.D, wi.Reg), PC: int(wi.C)}, nil
	case opBranchF:
		return &asm.BranchF{Cond: asm.Cond(wi.A), Fs: asm.FPReg(wi.B), Ft: asm.FPReg(wi.C), PC: int(wi.D)}, nil
	case opLdc1:
		return &asm.Ldc1{Fd: asm.FPReg(wi.A), Addr: asm.Mem{Base: asm.Register(wi.B), Off: wi.C}}, nil
	case opSdc1:
		return &asm.Sdc1{Fs: asm.FPReg(wi.A), Addr: asm.Mem{Base: asm.Register(wi.B), Off: wi.C}}, nil
	case opCvtDW:
		return &asm.CvtDW{Fd: asm.FPReg(wi.A), Rs: asm.Register(wi.B)}, nil
	case opFArith:
		return &asm.FArith{Op: asm.FOp(wi.A), Fd: asm.FPReg(wi.B), Fs: asm.FPReg(wi.C), Ft: asm.FPReg(wi.D)}, nil
	case opCallRT:
		return &asm.CallRT{Fn: asm.RuntimeFn(wi.A), Argc: int(wi.B)}, nil
	case opCallFn:
		return &asm.CallFn{Argc: int(wi.A)}, nil
	case opCallStub:
		stub, err := cache.ByName(wi.Name)
		if err != nil {
			return nil, err
		}
		return &asm.CallStub{Code: stub}, nil
	case opRet:
		return &asm.Ret{}, nil
	case opPushHandler:
		return &asm.PushHandler{PC: int(wi.A)}, nil
	case opPopHandler:
		return &asm.PopHandler{}, nil
	case opCheckStack:
		return &asm.CheckStack{}, nil
	case opAlloc:
		return &asm.Alloc{Rd: asm.Register(wi.A), Size: unpackOperand(wi.D, wi.Reg), PC: int(wi.B)}, nil
	}
	return nil, errors.Errorf("unknown opcode %d", wi.Op)
}
