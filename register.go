package asmsym

import (
	"fmt"
	"strings"
)

// Reg represents a full-width architectural register.
type Reg int

// General purpose and SIMD registers.
const (
	RAX Reg = iota
	RBX
	RCX
	RDX
	RSI
	RDI
	RBP
	RSP
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15
	XMM0
	XMM1
	XMM2
	XMM3
	XMM4
	XMM5
	XMM6
	XMM7
	XMM8
	XMM9
	XMM10
	XMM11
	XMM12
	XMM13
	XMM14
	XMM15

	regN
)

var regNames = [...]string{
	RAX: "RAX", RBX: "RBX", RCX: "RCX", RDX: "RDX",
	RSI: "RSI", RDI: "RDI", RBP: "RBP", RSP: "RSP",
	R8: "R8", R9: "R9", R10: "R10", R11: "R11",
	R12: "R12", R13: "R13", R14: "R14", R15: "R15",
	XMM0: "XMM0", XMM1: "XMM1", XMM2: "XMM2", XMM3: "XMM3",
	XMM4: "XMM4", XMM5: "XMM5", XMM6: "XMM6", XMM7: "XMM7",
	XMM8: "XMM8", XMM9: "XMM9", XMM10: "XMM10", XMM11: "XMM11",
	XMM12: "XMM12", XMM13: "XMM13", XMM14: "XMM14", XMM15: "XMM15",
}

// String returns the canonical register name.
func (r Reg) String() string {
	if r >= 0 && r < regN {
		return regNames[r]
	}
	return fmt.Sprintf("Reg<%d>", int(r))
}

// IsSIMD returns true for the XMM register file.
func (r Reg) IsSIMD() bool {
	return r >= XMM0 && r <= XMM15
}

// Width returns the register width in bits.
func (r Reg) Width() uint {
	if r.IsSIMD() {
		return Width128
	}
	return Width64
}

// Regs returns all registers in order.
func Regs() []Reg {
	a := make([]Reg, 0, regN)
	for r := Reg(0); r < regN; r++ {
		a = append(a, r)
	}
	return a
}

// RegView is a named window onto a register, such as AL or EAX.
type RegView struct {
	Name   string
	Reg    Reg
	Offset uint
	Width  uint
}

// IsFull returns true if the view covers the whole register.
func (v RegView) IsFull() bool {
	return v.Offset == 0 && v.Width == v.Reg.Width()
}

var regViews = make(map[string]RegView)

func init() {
	add := func(name string, r Reg, offset, width uint) {
		regViews[name] = RegView{Name: name, Reg: r, Offset: offset, Width: width}
	}

	legacy := []struct {
		r               Reg
		q, d, w, lo, hi string
	}{
		{RAX, "RAX", "EAX", "AX", "AL", "AH"},
		{RBX, "RBX", "EBX", "BX", "BL", "BH"},
		{RCX, "RCX", "ECX", "CX", "CL", "CH"},
		{RDX, "RDX", "EDX", "DX", "DL", "DH"},
		{RSI, "RSI", "ESI", "SI", "SIL", ""},
		{RDI, "RDI", "EDI", "DI", "DIL", ""},
		{RBP, "RBP", "EBP", "BP", "BPL", ""},
		{RSP, "RSP", "ESP", "SP", "SPL", ""},
	}
	for _, l := range legacy {
		add(l.q, l.r, 0, Width64)
		add(l.d, l.r, 0, Width32)
		add(l.w, l.r, 0, Width16)
		add(l.lo, l.r, 0, Width8)
		if l.hi != "" {
			add(l.hi, l.r, 8, Width8)
		}
	}

	for r := R8; r <= R15; r++ {
		name := r.String()
		add(name, r, 0, Width64)
		add(name+"D", r, 0, Width32)
		add(name+"W", r, 0, Width16)
		add(name+"B", r, 0, Width8)
		add(name+"L", r, 0, Width8)
	}

	for r := XMM0; r <= XMM15; r++ {
		add(r.String(), r, 0, Width128)
	}
}

// LookupRegister returns the register view for a name. Lookup is case-insensitive.
func LookupRegister(name string) (RegView, bool) {
	v, ok := regViews[strings.ToUpper(strings.TrimSpace(name))]
	return v, ok
}

// RegSet is a set of registers.
type RegSet uint64

// Has returns true if r is in the set.
func (s RegSet) Has(r Reg) bool {
	return s&(1<<uint(r)) != 0
}

// With returns the set with r added.
func (s RegSet) With(r Reg) RegSet {
	return s | 1<<uint(r)
}

// Without returns the set with r removed.
func (s RegSet) Without(r Reg) RegSet {
	return s &^ (1 << uint(r))
}

// Regs returns the members in register order.
func (s RegSet) Regs() []Reg {
	var a []Reg
	for r := Reg(0); r < regN; r++ {
		if s.Has(r) {
			a = append(a, r)
		}
	}
	return a
}

// Flag represents a status flag.
type Flag int

// Status flags.
const (
	CF Flag = iota
	PF
	AF
	ZF
	SF
	OF
	DF

	flagN
)

var flagNames = [...]string{
	CF: "CF", PF: "PF", AF: "AF", ZF: "ZF", SF: "SF", OF: "OF", DF: "DF",
}

// String returns the flag name.
func (f Flag) String() string {
	if f >= 0 && f < flagN {
		return flagNames[f]
	}
	return fmt.Sprintf("Flag<%d>", int(f))
}

// Flags returns all flags in order.
func Flags() []Flag {
	a := make([]Flag, 0, flagN)
	for f := Flag(0); f < flagN; f++ {
		a = append(a, f)
	}
	return a
}

// ParseFlag returns the flag with the given name.
func ParseFlag(name string) (Flag, bool) {
	name = strings.ToUpper(strings.TrimSpace(name))
	for f := Flag(0); f < flagN; f++ {
		if flagNames[f] == name {
			return f, true
		}
	}
	return 0, false
}

// ParseReg returns the full-width register with the given name.
func ParseReg(name string) (Reg, bool) {
	v, ok := LookupRegister(name)
	if !ok || !v.IsFull() {
		return 0, false
	}
	return v.Reg, true
}

// FlagSet is a set of flags.
type FlagSet uint8

// NewFlagSet returns a set containing flags.
func NewFlagSet(flags ...Flag) FlagSet {
	var s FlagSet
	for _, f := range flags {
		s = s.With(f)
	}
	return s
}

// Has returns true if f is in the set.
func (s FlagSet) Has(f Flag) bool {
	return s&(1<<uint(f)) != 0
}

// With returns the set with f added.
func (s FlagSet) With(f Flag) FlagSet {
	return s | 1<<uint(f)
}

// Without returns the set with f removed.
func (s FlagSet) Without(f Flag) FlagSet {
	return s &^ (1 << uint(f))
}

// Flags returns the members in flag order.
func (s FlagSet) Flags() []Flag {
	var a []Flag
	for f := Flag(0); f < flagN; f++ {
		if s.Has(f) {
			a = append(a, f)
		}
	}
	return a
}

// String returns the members joined by '|'.
func (s FlagSet) String() string {
	var names []string
	for _, f := range s.Flags() {
		names = append(names, f.String())
	}
	return strings.Join(names, "|")
}

// Status flags commonly affected together.
const (
	ArithmeticFlags = FlagSet(1<<CF | 1<<PF | 1<<AF | 1<<ZF | 1<<SF | 1<<OF)
	AllFlags        = ArithmeticFlags | FlagSet(1<<DF)
)
