package asmsym

import (
	"bytes"
	"fmt"
	"sort"
)

// StateUpdate is the delta one instruction produces along one successor
// edge. It holds only the entities the instruction changes, as formulas over
// the symbols named at PrevKey.
type StateUpdate struct {
	PrevKey Key
	NextKey Key

	// Reset is set when the effect of the instruction is unknown. Every
	// tracked entity is then a fresh value named at NextKey.
	Reset bool

	Regs  map[Reg]Expr
	Flags map[Flag]Expr
	Mem   *Array // nil if memory is untouched; rooted at MEM!PrevKey

	Branch *BranchInfo

	// Halted is set when the path ends at this instruction.
	Halted  bool
	Message string
}

// NewStateUpdate returns an empty update from prev to next.
func NewStateUpdate(prev, next Key) *StateUpdate {
	return &StateUpdate{
		PrevKey: prev,
		NextKey: next,
		Regs:    make(map[Reg]Expr),
		Flags:   make(map[Flag]Expr),
	}
}

// NewResetUpdate returns an update that makes every tracked entity unknown.
func NewResetUpdate(prev, next Key, cfg StateConfig, message string) *StateUpdate {
	u := NewStateUpdate(prev, next)
	u.Reset, u.Message = true, message
	for _, r := range cfg.TrackedRegs() {
		u.Regs[r] = NewSymbolExpr(FreshName(r.String(), next), r.Width())
	}
	for _, f := range cfg.TrackedFlags() {
		u.Flags[f] = NewSymbolExpr(FreshName(f.String(), next), WidthBool)
	}
	if cfg.Mem {
		u.Mem = NewArray(FreshName(MemName, next))
	}
	return u
}

// MemName is the entity name of memory.
const MemName = "MEM"

// RegSymbol returns the full-width symbol of r at key.
func RegSymbol(r Reg, key Key) *SymbolExpr {
	return NewSymbolExpr(SymbolName(r.String(), key), r.Width())
}

// FlagSymbol returns the symbol of f at key.
func FlagSymbol(f Flag, key Key) *SymbolExpr {
	return NewSymbolExpr(SymbolName(f.String(), key), WidthBool)
}

// MemArray returns the memory array at key.
func MemArray(key Key) *Array {
	return NewArray(SymbolName(MemName, key))
}

// IsEmpty returns true if the update changes nothing.
func (u *StateUpdate) IsEmpty() bool {
	return !u.Reset && len(u.Regs) == 0 && len(u.Flags) == 0 && u.Mem == nil && u.Branch == nil
}

// Clone returns a shallow copy with its own maps.
func (u *StateUpdate) Clone() *StateUpdate {
	other := *u
	other.Regs = make(map[Reg]Expr, len(u.Regs))
	for r, v := range u.Regs {
		other.Regs[r] = v
	}
	other.Flags = make(map[Flag]Expr, len(u.Flags))
	for f, v := range u.Flags {
		other.Flags[f] = v
	}
	if u.Branch != nil {
		info := *u.Branch
		other.Branch = &info
	}
	return &other
}

// RegList returns the updated registers in order.
func (u *StateUpdate) RegList() []Reg {
	a := make([]Reg, 0, len(u.Regs))
	for r := range u.Regs {
		a = append(a, r)
	}
	sort.Slice(a, func(i, j int) bool { return a[i] < a[j] })
	return a
}

// FlagList returns the updated flags in order.
func (u *StateUpdate) FlagList() []Flag {
	a := make([]Flag, 0, len(u.Flags))
	for f := range u.Flags {
		a = append(a, f)
	}
	sort.Slice(a, func(i, j int) bool { return a[i] < a[j] })
	return a
}

// String returns a multi-line description of the update.
func (u *StateUpdate) String() string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "update %s -> %s", u.PrevKey, u.NextKey)
	if u.Reset {
		buf.WriteString(" reset")
	}
	if u.Halted {
		buf.WriteString(" halted")
	}
	if u.Message != "" {
		fmt.Fprintf(&buf, " (%s)", u.Message)
	}
	buf.WriteString("\n")
	for _, r := range u.RegList() {
		fmt.Fprintf(&buf, "  %s = %s\n", r, u.Regs[r])
	}
	for _, f := range u.FlagList() {
		fmt.Fprintf(&buf, "  %s = %s\n", f, u.Flags[f])
	}
	if u.Mem != nil {
		for _, upd := range u.Mem.UpdateList() {
			fmt.Fprintf(&buf, "  MEM[%s] = %s\n", upd.Index, upd.Value)
		}
	}
	if u.Branch != nil {
		fmt.Fprintf(&buf, "  branch %s\n", u.Branch)
	}
	return buf.String()
}
