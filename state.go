package asmsym

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/benbjohnson/immutable"
)

// State is a symbolic snapshot of every tracked register, flag and memory
// byte. Formulas are expressed over the symbols named at TailKey; HeadKey
// names the point the snapshot describes.
//
// States are values: ApplyForward and ApplyBackward return new states and
// share unchanged formulas with the original.
type State struct {
	HeadKey Key
	TailKey Key
	Config  StateConfig

	regs  *immutable.SortedMap // Reg -> Expr
	flags *immutable.SortedMap // Flag -> Expr
	Mem   *Array

	Branches *BranchInfoStore

	// Consistency is the cached solver answer for the path condition, or
	// nil if it has not been checked since the last branch was added.
	Consistency *Result

	Warning string
}

// NewState returns a state in which every tracked entity is its own symbol at key.
func NewState(key Key, cfg StateConfig) *State {
	s := &State{
		HeadKey:  key,
		TailKey:  key,
		Config:   cfg,
		regs:     immutable.NewSortedMap(&regComparer{}),
		flags:    immutable.NewSortedMap(&flagComparer{}),
		Branches: NewBranchInfoStore(),
	}
	for _, r := range cfg.TrackedRegs() {
		s.regs = s.regs.Set(r, Expr(RegSymbol(r, key)))
	}
	for _, f := range cfg.TrackedFlags() {
		s.flags = s.flags.Set(f, Expr(FlagSymbol(f, key)))
	}
	if cfg.Mem {
		s.Mem = MemArray(key)
	}
	return s
}

func (s *State) clone() *State {
	other := *s
	return &other
}

// Reg returns the formula of r, or nil if r is not tracked.
func (s *State) Reg(r Reg) Expr {
	if v, ok := s.regs.Get(r); ok {
		return v.(Expr)
	}
	return nil
}

// RegView returns the formula of a sub-register, or nil if its register is
// not tracked.
func (s *State) RegView(v RegView) Expr {
	expr := s.Reg(v.Reg)
	if expr == nil {
		return nil
	}
	return NewExtractExpr(expr, v.Offset, v.Width)
}

// Flag returns the formula of f, or nil if f is not tracked.
func (s *State) Flag(f Flag) Expr {
	if v, ok := s.flags.Get(f); ok {
		return v.(Expr)
	}
	return nil
}

// Regs returns the tracked registers in order.
func (s *State) Regs() []Reg {
	var a []Reg
	itr := s.regs.Iterator()
	for !itr.Done() {
		k, _ := itr.Next()
		a = append(a, k.(Reg))
	}
	return a
}

// Flags returns the tracked flags in order.
func (s *State) Flags() []Flag {
	var a []Flag
	itr := s.flags.Iterator()
	for !itr.Done() {
		k, _ := itr.Next()
		a = append(a, k.(Flag))
	}
	return a
}

// Conditions returns the path condition as a list of constraints.
func (s *State) Conditions() []Expr {
	return s.Branches.Conditions()
}

// ReadMem returns width bits of memory at addr in little endian order.
func (s *State) ReadMem(addr Expr, width uint) Expr {
	if s.Mem == nil {
		return nil
	}
	return s.Mem.Select(addr, width)
}

func (s *State) addWarning(msg string) {
	if msg == "" {
		return
	} else if s.Warning != "" {
		s.Warning += "; "
	}
	s.Warning += msg
}

// ApplyForward returns the state after u. The update must start at the head
// key; its formulas are rewritten in terms of the tail key by replacing every
// head key symbol with the current formula of that entity.
func (s *State) ApplyForward(u *StateUpdate) *State {
	assert(u.PrevKey == s.HeadKey, "apply forward: update key %s does not match head key %s", u.PrevKey, s.HeadKey)

	sub := NewSubstituter(s.forwardSubstitution(u))
	other := s.clone()
	other.HeadKey = u.NextKey

	for r, v := range u.Regs {
		if s.Config.IsRegOn(r) {
			other.regs = other.regs.Set(r, sub.Expr(v))
		}
	}
	for f, v := range u.Flags {
		if s.Config.IsFlagOn(f) {
			other.flags = other.flags.Set(f, sub.Expr(v))
		}
	}
	if u.Mem != nil && s.Config.Mem {
		other.Mem = sub.Array(u.Mem)
	}
	if u.Branch != nil {
		info := *u.Branch
		info.Condition = sub.Expr(info.Condition)
		other.addBranch(&info)
	}
	if u.Reset || u.Halted {
		other.addWarning(u.Message)
	}
	return other
}

// forwardSubstitution maps only the head key symbols the update refers to.
func (s *State) forwardSubstitution(u *StateUpdate) Substitution {
	exprs := make([]Expr, 0, len(u.Regs)+len(u.Flags)+1)
	for _, v := range u.Regs {
		exprs = append(exprs, v)
	}
	for _, v := range u.Flags {
		exprs = append(exprs, v)
	}
	if u.Branch != nil {
		exprs = append(exprs, u.Branch.Condition)
	}
	if u.Mem != nil {
		for _, upd := range u.Mem.UpdateList() {
			exprs = append(exprs, upd.Index, upd.Value)
		}
	}

	sub := Substitution{Symbols: make(map[string]Expr), Arrays: make(map[string]*Array)}
	for name := range FindSymbols(exprs...) {
		entity, key, fresh, ok := ParseSymbolName(name)
		if !ok || fresh || key != s.HeadKey {
			continue
		}
		if r, ok := ParseReg(entity); ok {
			if v := s.Reg(r); v != nil {
				sub.Symbols[name] = v
			}
		} else if f, ok := ParseFlag(entity); ok {
			if v := s.Flag(f); v != nil {
				sub.Symbols[name] = v
			}
		}
	}
	if s.Mem != nil {
		sub.Arrays[SymbolName(MemName, s.HeadKey)] = s.Mem
	}
	return sub
}

// ApplyBackward returns the state before u. The update must end at the tail
// key; every tail key symbol is replaced by the update's formula for that
// entity, or by the entity's symbol at the previous key if u leaves it
// unchanged.
func (s *State) ApplyBackward(u *StateUpdate) *State {
	assert(u.NextKey == s.TailKey, "apply backward: update key %s does not match tail key %s", u.NextKey, s.TailKey)

	sub := Substitution{Symbols: make(map[string]Expr), Arrays: make(map[string]*Array)}
	for _, r := range s.Regs() {
		v, ok := u.Regs[r]
		if !ok {
			v = RegSymbol(r, u.PrevKey)
		}
		sub.Symbols[SymbolName(r.String(), s.TailKey)] = v
	}
	for _, f := range s.Flags() {
		v, ok := u.Flags[f]
		if !ok {
			v = FlagSymbol(f, u.PrevKey)
		}
		sub.Symbols[SymbolName(f.String(), s.TailKey)] = v
	}
	if s.Mem != nil {
		mem := u.Mem
		if mem == nil {
			mem = MemArray(u.PrevKey)
		}
		sub.Arrays[SymbolName(MemName, s.TailKey)] = mem
	}

	other := s.substitute(sub)
	other.TailKey = u.PrevKey
	if u.Branch != nil {
		info := *u.Branch
		other.addBranch(&info)
	}
	if u.Reset || u.Halted {
		other.addWarning(u.Message)
	}
	return other
}

// RenameTail returns the state with every tail key symbol renamed to key.
func (s *State) RenameTail(key Key) *State {
	if key == s.TailKey {
		return s
	}
	sub := Substitution{Symbols: make(map[string]Expr), Arrays: make(map[string]*Array)}
	for _, r := range s.Config.TrackedRegs() {
		sub.Symbols[SymbolName(r.String(), s.TailKey)] = RegSymbol(r, key)
	}
	for _, f := range s.Config.TrackedFlags() {
		sub.Symbols[SymbolName(f.String(), s.TailKey)] = FlagSymbol(f, key)
	}
	if s.Config.Mem {
		sub.Arrays[SymbolName(MemName, s.TailKey)] = MemArray(key)
	}

	other := s.substitute(sub)
	other.TailKey = key
	if s.HeadKey == s.TailKey {
		other.HeadKey = key
	}
	return other
}

// substitute applies sub to every formula of the state.
func (s *State) substitute(sub Substitution) *State {
	subst := NewSubstituter(sub)
	other := s.clone()

	itr := s.regs.Iterator()
	for !itr.Done() {
		k, v := itr.Next()
		other.regs = other.regs.Set(k, subst.Expr(v.(Expr)))
	}
	itr = s.flags.Iterator()
	for !itr.Done() {
		k, v := itr.Next()
		other.flags = other.flags.Set(k, subst.Expr(v.(Expr)))
	}
	if s.Mem != nil {
		other.Mem = subst.Array(s.Mem)
	}
	other.Branches = s.Branches.Map(subst.Expr)
	other.Consistency = nil
	return other
}

// addBranch records a branch assumption and invalidates the cached consistency.
func (s *State) addBranch(info *BranchInfo) {
	if s.Branches.Get(info.Key) != nil {
		return
	}
	s.Branches = s.Branches.Add(info)
	s.Consistency = nil
}

// IsTriviallyInconsistent returns true if a branch assumption folded to false.
func (s *State) IsTriviallyInconsistent() bool {
	for _, cond := range s.Conditions() {
		if IsConstantFalse(cond) {
			return true
		}
	}
	return false
}

// Consistent returns whether the path condition is satisfiable. Definite
// answers are cached on the state.
func (s *State) Consistent(ctx context.Context, solver Solver) (Result, error) {
	if s.Consistency != nil {
		return *s.Consistency, nil
	} else if s.IsTriviallyInconsistent() {
		s.Consistency = &Result{Status: StatusUnsat}
		return *s.Consistency, nil
	}

	result, err := solver.Check(ctx, s.Conditions())
	if err != nil {
		return result, err
	} else if result.Status != StatusUnknown {
		s.Consistency = &result
	}
	return result, nil
}

// Dump returns the contents of the state as a string.
func (s *State) Dump() string {
	var buf bytes.Buffer

	fmt.Fprintln(&buf, "SYMBOLIC STATE")
	fmt.Fprintln(&buf, "==============")
	fmt.Fprintf(&buf, "head=%s tail=%s\n", s.HeadKey, s.TailKey)
	if s.Consistency != nil {
		fmt.Fprintf(&buf, "consistency=%s\n", s.Consistency)
	}
	if s.Warning != "" {
		fmt.Fprintf(&buf, "warning=%s\n", s.Warning)
	}
	fmt.Fprintln(&buf, "")

	fmt.Fprintln(&buf, "== REGISTERS")
	for _, r := range s.Regs() {
		fmt.Fprintf(&buf, "%-5s %s\n", r, s.Reg(r))
	}
	fmt.Fprintln(&buf, "")

	fmt.Fprintln(&buf, "== FLAGS")
	for _, f := range s.Flags() {
		fmt.Fprintf(&buf, "%-5s %s\n", f, s.Flag(f))
	}
	fmt.Fprintln(&buf, "")

	if s.Mem != nil {
		fmt.Fprintln(&buf, "== MEMORY")
		fmt.Fprintln(&buf, s.Mem.String())
		for _, upd := range s.Mem.UpdateList() {
			fmt.Fprintf(&buf, "  + UPD: I=%s; V=%s\n", upd.Index.String(), upd.Value.String())
		}
		fmt.Fprintln(&buf, "")
	}

	fmt.Fprintln(&buf, "== BRANCHES")
	for i, info := range s.Branches.Infos() {
		fmt.Fprintf(&buf, "%d. %s\n", i, info.String())
	}
	return strings.TrimRight(buf.String(), "\n") + "\n"
}

// regComparer orders registers. Implements immutable.Comparer.
type regComparer struct{}

// Compare returns -1 if a is less than b, returns 1 if a is greater than b, and
// returns 0 if a is equal to b. Panic if a or b is not a Reg.
func (c *regComparer) Compare(a, b interface{}) int {
	if i, j := a.(Reg), b.(Reg); i < j {
		return -1
	} else if i > j {
		return 1
	}
	return 0
}

// flagComparer orders flags. Implements immutable.Comparer.
type flagComparer struct{}

// Compare returns -1 if a is less than b, returns 1 if a is greater than b, and
// returns 0 if a is equal to b. Panic if a or b is not a Flag.
func (c *flagComparer) Compare(a, b interface{}) int {
	if i, j := a.(Flag), b.(Flag); i < j {
		return -1
	} else if i > j {
		return 1
	}
	return 0
}
