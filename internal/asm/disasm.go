package asm

import (
	"fmt"
	"sort"
	"strings"
)

// Disassemble renders a code object as assembly text with block
// labels, pool references and recorded comments.
func Disassemble(c *Code) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s (%d instrs, %d pool)\n",
		c.Kind, c.Name, len(c.Instrs), len(c.Pool))

	labels := make(map[int][]int)
	for id, off := range c.BlockOffsets {
		if off >= 0 {
			labels[off] = append(labels[off], id)
		}
	}
	for _, ids := range labels {
		sort.Ints(ids)
	}

	for pc, in := range c.Instrs {
		for _, id := range labels[pc] {
			fmt.Fprintf(&sb, "B%d:\n", id)
		}
		if note, ok := c.Comments[pc]; ok {
			fmt.Fprintf(&sb, "        ;; %s\n", note)
		}
		fmt.Fprintf(&sb, "%5d   %s\n", pc, formatInstr(c, in))
	}
	for _, id := range labels[len(c.Instrs)] {
		fmt.Fprintf(&sb, "B%d:\n", id)
	}
	if len(c.Pool) > 0 {
		sb.WriteString("pool:\n")
		for i, ct := range c.Pool {
			fmt.Fprintf(&sb, "%5d   %s\n", i, ct)
		}
	}
	return sb.String()
}

func formatOperand(o Operand) string {
	if o.IsReg() {
		return o.Reg().String()
	}
	return fmt.Sprintf("%d", o.Imm())
}

func formatMem(m Mem) string {
	return fmt.Sprintf("%d(%s)", m.Off, m.Base)
}

func formatTarget(c *Code, b *Block, pc int) string {
	if b != nil {
		return fmt.Sprintf("B%d", b.id)
	}
	return fmt.Sprintf("@%d", pc)
}

func formatInstr(c *Code, in Instr) string {
	switch t := in.(type) {
	case *Mov:
		return fmt.Sprintf("mov    %s, %s", t.Rd, formatOperand(t.Src))
	case *Lc:
		return fmt.Sprintf("lc     %s, [pool %d]", t.Rd, t.Pool)
	case *LoadRoot:
		return fmt.Sprintf("lroot  %s, %s", t.Rd, t.Root)
	case *Alu:
		return fmt.Sprintf("%-6s %s, %s, %s", t.Op, t.Rd, t.Rs, formatOperand(t.Rt))
	case *Mult:
		return fmt.Sprintf("mult   %s, %s", t.Rs, t.Rt)
	case *Div:
		return fmt.Sprintf("div    %s, %s", t.Rs, t.Rt)
	case *Mflo:
		return fmt.Sprintf("mflo   %s", t.Rd)
	case *Mfhi:
		return fmt.Sprintf("mfhi   %s", t.Rd)
	case *Lw:
		return fmt.Sprintf("lw     %s, %s", t.Rd, formatMem(t.Addr))
	case *Sw:
		return fmt.Sprintf("sw     %s, %s", t.Rs, formatMem(t.Addr))
	case *Lb:
		return fmt.Sprintf("lb     %s, %s", t.Rd, formatMem(t.Addr))
	case *Lbu:
		return fmt.Sprintf("lbu    %s, %s", t.Rd, formatMem(t.Addr))
	case *Sb:
		return fmt.Sprintf("sb     %s, %s", t.Rs, formatMem(t.Addr))
	case *Push:
		return fmt.Sprintf("push   %s", t.Rs)
	case *Pop:
		return fmt.Sprintf("pop    %s", t.Rd)
	case *Jump:
		return fmt.Sprintf("b      %s", formatTarget(c, t.Target, t.PC))
	case *Branch:
		return fmt.Sprintf("b%-5s %s, %s, %s",
			t.Cond, formatTarget(c, t.Target, t.PC), t.Rs, formatOperand(t.Rt))
	case *BranchF:
		return fmt.Sprintf("bf%-4s %s, %s, %s",
			t.Cond, formatTarget(c, t.Target, t.PC), t.Fs, t.Ft)
	case *Ldc1:
		return fmt.Sprintf("ldc1   %s, %s", t.Fd, formatMem(t.Addr))
	case *Sdc1:
		return fmt.Sprintf("sdc1   %s, %s", t.Fs, formatMem(t.Addr))
	case *CvtDW:
		return fmt.Sprintf("cvt.d  %s, %s", t.Fd, t.Rs)
	case *FArith:
		return fmt.Sprintf("%-6s %s, %s, %s", t.Op, t.Fd, t.Fs, t.Ft)
	case *CallRT:
		return fmt.Sprintf("callrt %s, %d", t.Fn, t.Argc)
	case *CallFn:
		return fmt.Sprintf("callfn %d", t.Argc)
	case *CallStub:
		return fmt.Sprintf("calls  %s", t.Code.Name)
	case *Ret:
		return "ret"
	case *PushHandler:
		return fmt.Sprintf("pushh  %s", formatTarget(c, t.Target, t.PC))
	case *PopHandler:
		return "poph"
	case *CheckStack:
		return "chkstk"
	case *Alloc:
		return fmt.Sprintf("alloc  %s, %s, %s",
			t.Rd, formatOperand(t.Size), formatTarget(c, t.Fail, t.PC))
	}
	return fmt.Sprintf("?%T", in)
}
