package asmsym

import (
	"fmt"
	"strings"
)

// Keys names the states an instruction reads from and writes to.
type Keys struct {
	Prev    Key // state the instruction reads
	Regular Key // state after the fallthrough edge
	Branch  Key // state after the branch edge
}

// OpcodeFunc computes the effect of one instruction. A returned error halts
// the path at the instruction.
type OpcodeFunc func(in *Instr) error

// edge selects the successor updates an instruction writes to.
type edge int

const (
	edgeRegular edge = 1 << iota
	edgeBranch
	edgeBoth = edgeRegular | edgeBranch
)

// Instr is the context a handler runs in. Reads always observe the state
// before the instruction; writes go to the successor updates.
type Instr struct {
	Mnemonic Mnemonic
	Cond     Condition
	Line     Line
	LineNo   int
	Args     []Operand
	Keys     Keys
	Config   StateConfig
	Flow     *StaticFlow

	edges   edge
	regular *StateUpdate
	branch  *StateUpdate
}

// Execute runs the instruction on line and returns the updates for its
// regular and branch successors. Successors the instruction does not have are
// nil. An unsupported mnemonic yields a reset update on the regular edge; a
// malformed instruction yields a halted regular update and no branch update.
func Execute(line Line, lineNo int, keys Keys, cfg StateConfig, flow *StaticFlow) (regular, branch *StateUpdate) {
	if strings.TrimSpace(line.Mnemonic) == "" {
		return NewStateUpdate(keys.Prev, keys.Regular), nil
	}

	m, cond, ok := ParseMnemonic(line.Mnemonic)
	if !ok {
		return NewResetUpdate(keys.Prev, keys.Regular, cfg, fmt.Sprintf("line %d: unsupported mnemonic %q", lineNo, line.Mnemonic)), nil
	}
	def := &mnemonicDefs[m]

	in := &Instr{
		Mnemonic: m,
		Cond:     cond,
		Line:     line,
		LineNo:   lineNo,
		Keys:     keys,
		Config:   cfg,
		Flow:     flow,
		edges:    edgeBoth,
	}
	if def.Flow.HasRegular() {
		in.regular = NewStateUpdate(keys.Prev, keys.Regular)
	}
	if def.Flow.HasBranch() {
		in.branch = NewStateUpdate(keys.Prev, keys.Branch)
	}

	halt := func(err error) (*StateUpdate, *StateUpdate) {
		u := NewStateUpdate(keys.Prev, keys.Regular)
		u.Halted, u.Message = true, fmt.Sprintf("line %d: %s: %s", lineNo, strings.ToUpper(line.Mnemonic), err)
		return u, nil
	}

	if n := len(line.Args); n < def.MinArgs || n > def.MaxArgs {
		return halt(fmt.Errorf("expected %d to %d operands, got %d", def.MinArgs, def.MaxArgs, n))
	}

	// Branch targets are labels; all other operands are parsed.
	for i, arg := range line.Args {
		if i == 0 && def.Flow.HasBranch() {
			in.Args = append(in.Args, Operand{Kind: OperandLabel, Label: arg, Text: arg})
			continue
		}
		op, err := ParseOperand(arg)
		if err != nil {
			return halt(err)
		}
		in.Args = append(in.Args, op)
	}

	if err := def.Handler(in); err != nil {
		return halt(err)
	}

	// Flow control without a resolvable target keeps its fallthrough only.
	if in.branch != nil && flow != nil {
		if _, target := flow.Successors(lineNo); target < 0 {
			in.branch = nil
		}
	}
	return in.regular, in.branch
}

// Arg returns the i-th operand.
func (in *Instr) Arg(i int) Operand {
	return in.Args[i]
}

// FreshKey returns the key that names values the instruction leaves undefined.
func (in *Instr) FreshKey() Key {
	if in.regular != nil {
		return in.Keys.Regular
	}
	return in.Keys.Branch
}

// onEdges runs fn with writes directed to the selected successors only.
func (in *Instr) onEdges(e edge, fn func()) {
	prev := in.edges
	in.edges = e
	defer func() { in.edges = prev }()
	fn()
}

func (in *Instr) updates() []*StateUpdate {
	var a []*StateUpdate
	if in.edges&edgeRegular != 0 && in.regular != nil {
		a = append(a, in.regular)
	}
	if in.edges&edgeBranch != 0 && in.branch != nil {
		a = append(a, in.branch)
	}
	return a
}

// Reg returns the value of a register view before the instruction. An
// untracked register reads as a fresh value.
func (in *Instr) Reg(v RegView) Expr {
	var sym *SymbolExpr
	if in.Config.IsRegOn(v.Reg) {
		sym = RegSymbol(v.Reg, in.Keys.Prev)
	} else {
		sym = NewSymbolExpr(FreshName(v.Reg.String(), in.Keys.Prev), v.Reg.Width())
	}
	return NewExtractExpr(sym, v.Offset, v.Width)
}

// SetReg writes a register view. 32-bit writes to general purpose registers
// zero the upper half; narrower writes preserve the remaining bits.
func (in *Instr) SetReg(v RegView, value Expr) {
	assert(ExprWidth(value) == v.Width, "set %s: width mismatch: %d", v.Name, ExprWidth(value))
	if !in.Config.IsRegOn(v.Reg) {
		return
	}
	full := v.Reg.Width()

	for _, u := range in.updates() {
		switch {
		case v.IsFull():
			u.Regs[v.Reg] = value
		case v.Width == Width32 && v.Offset == 0 && !v.Reg.IsSIMD():
			u.Regs[v.Reg] = NewCastExpr(value, full, false)
		default:
			cur, ok := u.Regs[v.Reg]
			if !ok {
				cur = RegSymbol(v.Reg, in.Keys.Prev)
			}
			result := value
			if v.Offset > 0 {
				result = NewConcatExpr(result, NewExtractExpr(cur, 0, v.Offset))
			}
			if top := v.Offset + v.Width; top < full {
				result = NewConcatExpr(NewExtractExpr(cur, top, full-top), result)
			}
			u.Regs[v.Reg] = result
		}
	}
}

// Flag returns the value of a flag before the instruction.
func (in *Instr) Flag(f Flag) Expr {
	if in.Config.IsFlagOn(f) {
		return FlagSymbol(f, in.Keys.Prev)
	}
	return NewSymbolExpr(FreshName(f.String(), in.Keys.Prev), WidthBool)
}

// SetFlag writes a flag.
func (in *Instr) SetFlag(f Flag, value Expr) {
	assert(ExprWidth(value) == WidthBool, "set %s: flag must be boolean", f)
	if !in.Config.IsFlagOn(f) {
		return
	}
	for _, u := range in.updates() {
		u.Flags[f] = value
	}
}

// SetFlagsResult writes PF, ZF and SF from a result.
func (in *Instr) SetFlagsResult(result Expr) {
	in.SetFlag(PF, CreatePF(result))
	in.SetFlag(ZF, CreateZF(result))
	in.SetFlag(SF, CreateSF(result))
}

// UndefFlag makes a flag an unconstrained fresh value.
func (in *Instr) UndefFlag(f Flag) {
	in.SetFlag(f, NewSymbolExpr(FreshName(f.String(), in.FreshKey()), WidthBool))
}

// Addr returns the 64-bit effective address of a memory reference.
func (in *Instr) Addr(mem MemRef) Expr {
	var addr Expr = NewConstantExpr64(uint64(mem.Disp))
	if mem.HasBase {
		addr = NewBinaryExpr(ADD, in.Reg(mem.Base), addr)
	}
	if mem.HasIndex {
		scaled := NewBinaryExpr(MUL, in.Reg(mem.Index), NewConstantExpr64(mem.Scale))
		addr = NewBinaryExpr(ADD, addr, scaled)
	}
	return addr
}

// Load reads width bits of memory at addr before the instruction. Untracked
// memory reads as a fresh value.
func (in *Instr) Load(addr Expr, width uint) Expr {
	if !in.Config.Mem {
		return NewSymbolExpr(FreshName(fmt.Sprintf("%s%d", MemName, width), in.Keys.Prev), width)
	}
	return MemArray(in.Keys.Prev).Select(addr, width)
}

// Store writes value to memory at addr.
func (in *Instr) Store(addr, value Expr) {
	if !in.Config.Mem {
		return
	}
	for _, u := range in.updates() {
		mem := u.Mem
		if mem == nil {
			mem = MemArray(in.Keys.Prev)
		}
		u.Mem = mem.Store(addr, value)
	}
}

// Width returns the operand size: the width of the first operand that
// determines one.
func (in *Instr) Width(ops ...Operand) (uint, error) {
	for _, op := range ops {
		if w := op.Width(); w != 0 {
			return w, nil
		}
	}
	return 0, fmt.Errorf("operand size not specified")
}

// Read returns the value of an operand at the given width. Immediates are
// truncated to width.
func (in *Instr) Read(op Operand, width uint) (Expr, error) {
	switch op.Kind {
	case OperandReg:
		if op.Reg.Width != width {
			return nil, fmt.Errorf("operand %s is %d bits, expected %d", op.Text, op.Reg.Width, width)
		}
		return in.Reg(op.Reg), nil
	case OperandImm:
		return NewConstantExpr(op.Imm, Width64).ZExt(width), nil
	case OperandMem:
		if op.Mem.Width != 0 && op.Mem.Width != width {
			return nil, fmt.Errorf("operand %s is %d bits, expected %d", op.Text, op.Mem.Width, width)
		}
		return in.Load(in.Addr(op.Mem), width), nil
	default:
		return nil, fmt.Errorf("invalid operand: %s", op.Text)
	}
}

// Write stores a value to a register or memory operand.
func (in *Instr) Write(op Operand, value Expr) error {
	switch op.Kind {
	case OperandReg:
		if op.Reg.Width != ExprWidth(value) {
			return fmt.Errorf("operand %s is %d bits, value is %d", op.Text, op.Reg.Width, ExprWidth(value))
		}
		in.SetReg(op.Reg, value)
		return nil
	case OperandMem:
		if op.Mem.Width != 0 && op.Mem.Width != ExprWidth(value) {
			return fmt.Errorf("operand %s is %d bits, value is %d", op.Text, op.Mem.Width, ExprWidth(value))
		}
		in.Store(in.Addr(op.Mem), value)
		return nil
	default:
		return fmt.Errorf("operand %s is not writable", op.Text)
	}
}

// Jump records the branch condition. The branch successor assumes cond and
// the regular successor its negation. A nil cond is unconditional.
func (in *Instr) Jump(cond Expr) {
	if cond == nil {
		return
	}
	info := BranchInfo{Key: string(in.Keys.Prev), Condition: cond, Line: in.LineNo}
	if in.regular != nil {
		notTaken := info
		in.regular.Branch = &notTaken
	}
	if in.branch != nil {
		taken := info
		taken.Taken = true
		in.branch.Branch = &taken
	}
}

// CondExpr returns the instruction's condition code as a formula.
func (in *Instr) CondExpr() Expr {
	return in.Cond.Expr(in.Flag, in.Reg)
}
