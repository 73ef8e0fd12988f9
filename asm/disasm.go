package asm

import (
	"fmt"
	"sort"
	"strings"

	"github.com/benbjohnson/asmsym"
	"github.com/pkg/errors"
	"golang.org/x/arch/x86/x86asm"
)

// LabelPrefix names labels synthesized for branch targets.
const LabelPrefix = "L_"

// Instruction is a decoded instruction and its address.
type Instruction struct {
	Addr uint64
	Inst x86asm.Inst
	Line asmsym.Line
}

// Disassemble decodes machine code loaded at address zero. mode is 16, 32
// or 64. Relative branch targets are replaced by labels, which are attached
// to the instructions they point at so that control flow resolves.
func Disassemble(code []byte, mode int) ([]asmsym.Line, error) {
	insts, err := DisassembleAt(code, mode, 0)
	if err != nil {
		return nil, err
	}
	lines := make([]asmsym.Line, len(insts))
	for i := range insts {
		lines[i] = insts[i].Line
	}
	return lines, nil
}

// DisassembleAt decodes machine code loaded at pc.
func DisassembleAt(code []byte, mode int, pc uint64) ([]Instruction, error) {
	var insts []Instruction
	for off := 0; off < len(code); {
		inst, err := x86asm.Decode(code[off:], mode)
		if err != nil {
			return nil, errors.Wrapf(err, "decode at %#x", pc+uint64(off))
		}
		insts = append(insts, Instruction{Addr: pc + uint64(off), Inst: inst})
		off += inst.Len
	}

	// Label every in-range branch target.
	index := make(map[uint64]int, len(insts))
	for i, in := range insts {
		index[in.Addr] = i
	}
	labels := make(map[uint64]string)
	for _, in := range insts {
		for _, arg := range in.Inst.Args {
			if rel, ok := arg.(x86asm.Rel); ok {
				labels[relTarget(in, rel)] = ""
			}
		}
	}
	targets := make([]uint64, 0, len(labels))
	for addr := range labels {
		targets = append(targets, addr)
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i] < targets[j] })
	for _, addr := range targets {
		labels[addr] = fmt.Sprintf("%s%x", LabelPrefix, addr)
		if _, ok := index[addr]; !ok {
			return nil, errors.Errorf("branch target %#x is not an instruction boundary", addr)
		}
	}

	for i := range insts {
		in := &insts[i]
		line, err := render(in, labels)
		if err != nil {
			return nil, errors.Wrapf(err, "render at %#x", in.Addr)
		}
		line.Label = labels[in.Addr]
		in.Line = line
	}
	return insts, nil
}

func relTarget(in Instruction, rel x86asm.Rel) uint64 {
	return in.Addr + uint64(in.Inst.Len) + uint64(int64(rel))
}

// render converts a decoded instruction to Intel syntax operands.
func render(in *Instruction, labels map[uint64]string) (asmsym.Line, error) {
	inst := in.Inst
	line := asmsym.Line{Mnemonic: strings.ToLower(inst.Op.String())}

	for _, arg := range inst.Args {
		if arg == nil {
			break
		}

		switch arg := arg.(type) {
		case x86asm.Reg:
			name, err := regName(arg)
			if err != nil {
				return line, err
			}
			line.Args = append(line.Args, name)

		case x86asm.Imm:
			if arg < 0 {
				line.Args = append(line.Args, fmt.Sprintf("-%#x", -int64(arg)))
			} else {
				line.Args = append(line.Args, fmt.Sprintf("%#x", int64(arg)))
			}

		case x86asm.Rel:
			line.Args = append(line.Args, labels[relTarget(*in, arg)])

		case x86asm.Mem:
			s, err := memString(in, arg)
			if err != nil {
				return line, err
			}
			line.Args = append(line.Args, s)

		default:
			return line, errors.Errorf("unsupported operand %v", arg)
		}
	}
	return line, nil
}

var memSizes = map[int]string{
	1:  "byte ptr ",
	2:  "word ptr ",
	4:  "dword ptr ",
	8:  "qword ptr ",
	16: "xmmword ptr ",
}

// memString renders a memory operand. RIP-relative addresses are resolved
// to absolute ones.
func memString(in *Instruction, m x86asm.Mem) (string, error) {
	switch m.Segment {
	case 0, x86asm.CS, x86asm.DS, x86asm.ES, x86asm.SS:
	default:
		return "", errors.Errorf("unsupported segment %s", m.Segment)
	}

	var terms []string
	disp := m.Disp
	switch m.Base {
	case 0:
	case x86asm.RIP, x86asm.EIP:
		disp += int64(in.Addr) + int64(in.Inst.Len)
	default:
		name, err := regName(m.Base)
		if err != nil {
			return "", err
		}
		terms = append(terms, name)
	}
	if m.Index != 0 {
		name, err := regName(m.Index)
		if err != nil {
			return "", err
		}
		terms = append(terms, fmt.Sprintf("%s*%d", name, m.Scale))
	}

	var buf strings.Builder
	if in.Inst.Op != x86asm.LEA {
		buf.WriteString(memSizes[in.Inst.MemBytes])
	}
	buf.WriteString("[")
	buf.WriteString(strings.Join(terms, "+"))
	switch {
	case disp < 0:
		fmt.Fprintf(&buf, "-%#x", -disp)
	case disp > 0 || len(terms) == 0:
		if len(terms) > 0 {
			buf.WriteString("+")
		}
		fmt.Fprintf(&buf, "%#x", disp)
	}
	buf.WriteString("]")
	return buf.String(), nil
}

// regName returns the name the operand parser accepts for a register.
func regName(r x86asm.Reg) (string, error) {
	switch {
	case r >= x86asm.R8L && r <= x86asm.R15L:
		return fmt.Sprintf("r%dd", 8+int(r-x86asm.R8L)), nil
	case r >= x86asm.R8B && r <= x86asm.R15B:
		return fmt.Sprintf("r%db", 8+int(r-x86asm.R8B)), nil
	case r >= x86asm.X0 && r <= x86asm.X15:
		return fmt.Sprintf("xmm%d", int(r-x86asm.X0)), nil
	}

	switch r {
	case x86asm.SPB:
		return "spl", nil
	case x86asm.BPB:
		return "bpl", nil
	case x86asm.SIB:
		return "sil", nil
	case x86asm.DIB:
		return "dil", nil
	}

	name := strings.ToLower(r.String())
	if _, ok := asmsym.LookupRegister(name); !ok {
		return "", errors.Errorf("unsupported register %s", r)
	}
	return name, nil
}
